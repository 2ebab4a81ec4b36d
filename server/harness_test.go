package server

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/orbitmp/matchserver/storage"
)

// baseTime is the fixed clock every match test runs against.
var baseTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func testConfig() *Config {
	return &Config{
		Addr:             ":0",
		PublicHost:       "localhost",
		PublicPort:       8080,
		Region:           "test",
		MaxEmptySec:      300,
		SaveInterval:     time.Minute,
		MaxCraftsPerUser: 10,
		MaxFolders:       50,
		MaxAssetKB:       2048,
		ModControlPolicy: ModPolicyLog,
		LogLevel:         "info",
		LogFormat:        "json",
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "match.db"), zerolog.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return NewServer(testConfig(), store, zerolog.Nop())
}

// newTestMatch builds an initialized match without starting its run
// loop; tests drive tick and route directly with the fixed clock.
// Asset writes are synchronous so reads observe uploads immediately.
func newTestMatch(t *testing.T, s *Server, setup MatchSetup) *Match {
	t.Helper()
	if setup.ServerName == "" {
		setup.ServerName = "Test Server"
	}
	if setup.MaxPlayers == 0 {
		setup.MaxPlayers = 8
	}
	m := newMatch("test-match", setup, s)
	m.now = func() time.Time { return baseTime }
	if err := m.init(); err != nil {
		t.Fatalf("init match: %v", err)
	}
	m.assets.syncWrites = true
	s.matches[m.id] = m
	t.Cleanup(func() { m.assets.stop() })
	return m
}

// attemptJoin runs a handshake through processJoin and returns the
// client plus everything it was sent, whether admitted or rejected.
func attemptJoin(t *testing.T, m *Match, req HandshakeRequest) (*Client, []wireFrame) {
	t.Helper()
	c := newClient(nil, m.server)
	c.sessionID = req.SessionID
	c.userID = req.UserID
	c.username = req.Username
	c.match = m
	m.processJoin(c, req, baseTime)
	return c, drainClient(c)
}

// joinPlayer admits a player and discards the join traffic.
func joinPlayer(t *testing.T, m *Match, session, user, name string) *Client {
	t.Helper()
	c, _ := attemptJoin(t, m, HandshakeRequest{SessionID: session, UserID: user, Username: name})
	if _, ok := m.clients[session]; !ok {
		t.Fatalf("join of %s was rejected", session)
	}
	return c
}

// wireFrame is one decoded outbound message.
type wireFrame struct {
	op      uint16
	payload []byte
}

// drainClient empties a client's send queue.
func drainClient(c *Client) []wireFrame {
	var out []wireFrame
	for {
		select {
		case raw := <-c.send:
			op, payload, err := DecodeFrame(raw)
			if err != nil {
				continue
			}
			out = append(out, wireFrame{op: op, payload: payload})
		default:
			return out
		}
	}
}

// framesOf filters a drain result by opcode.
func framesOf(frames []wireFrame, op uint16) []wireFrame {
	var out []wireFrame
	for _, f := range frames {
		if f.op == op {
			out = append(out, f)
		}
	}
	return out
}

// send routes one message from a client at baseTime.
func send(t *testing.T, m *Match, c *Client, op uint16, v any) {
	t.Helper()
	sendAt(t, m, c, op, v, baseTime)
}

func sendAt(t *testing.T, m *Match, c *Client, op uint16, v any, now time.Time) {
	t.Helper()
	payload, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal test payload: %v", err)
	}
	m.route(c, op, payload, now)
}

func mustUnmarshal(t *testing.T, payload []byte, v any) {
	t.Helper()
	if err := json.Unmarshal(payload, v); err != nil {
		t.Fatalf("unmarshal %s: %v", payload, err)
	}
}

func isKicked(c *Client) bool {
	select {
	case <-c.kicked:
		return true
	default:
		return false
	}
}
