package server

import (
	"bytes"
	"testing"
)

func TestFrameRoundtrip(t *testing.T) {
	payload := []byte(`{"message":"hello"}`)
	frame := EncodeFrame(OpChat, payload)

	op, got, err := DecodeFrame(frame)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if op != OpChat {
		t.Fatalf("op = %d, want %d", op, OpChat)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("payload = %q, want %q", got, payload)
	}
}

func TestFrameEmptyPayload(t *testing.T) {
	frame := EncodeFrame(OpGroupList, nil)
	op, payload, err := DecodeFrame(frame)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if op != OpGroupList || len(payload) != 0 {
		t.Fatalf("op=%d payload=%q", op, payload)
	}
}

func TestFrameTooShort(t *testing.T) {
	if _, _, err := DecodeFrame([]byte{0x01}); err == nil {
		t.Fatal("one-byte frame must fail to decode")
	}
	if _, _, err := DecodeFrame(nil); err == nil {
		t.Fatal("empty frame must fail to decode")
	}
}
