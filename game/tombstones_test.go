package game

import (
	"testing"
	"time"
)

func TestTombstoneBlocksWithinTTL(t *testing.T) {
	ts := NewTombstoneSet(TombstoneTTL, TombstoneSweepEvery)
	ts.Add("V1", t0)

	if !ts.Contains("V1", t0.Add(time.Second)) {
		t.Fatal("tombstone must hold within the TTL")
	}
	if ts.Contains("V1", t0.Add(3*time.Second)) {
		t.Fatal("tombstone must expire after the TTL")
	}
	if ts.Contains("V2", t0) {
		t.Fatal("unknown vessel must not be tombstoned")
	}
}

func TestTombstoneRemoveOnRepublish(t *testing.T) {
	ts := NewTombstoneSet(TombstoneTTL, TombstoneSweepEvery)
	ts.Add("V1", t0)
	ts.Remove("V1")
	if ts.Contains("V1", t0.Add(time.Millisecond)) {
		t.Fatal("removed tombstone must not block")
	}
}

func TestSweepDropsExpiredOnly(t *testing.T) {
	ts := NewTombstoneSet(TombstoneTTL, TombstoneSweepEvery)
	ts.Add("old", t0)
	ts.Add("new", t0.Add(2*time.Second))

	ts.Sweep(t0.Add(3 * time.Second))
	if ts.Len() != 1 {
		t.Fatalf("entries after sweep = %d, want 1", ts.Len())
	}
	if !ts.Contains("new", t0.Add(3*time.Second)) {
		t.Fatal("unexpired tombstone must survive the sweep")
	}
}

func TestSweepThrottled(t *testing.T) {
	ts := NewTombstoneSet(TombstoneTTL, TombstoneSweepEvery)
	ts.Add("V1", t0)

	ts.Sweep(t0.Add(3 * time.Second))
	ts.Add("V2", t0)
	// Second sweep within the throttle window must not run.
	ts.Sweep(t0.Add(3*time.Second + 100*time.Millisecond))
	if ts.Len() != 1 {
		t.Fatalf("throttled sweep ran anyway, entries = %d", ts.Len())
	}
	// After the window the expired entry goes.
	ts.Sweep(t0.Add(4 * time.Second))
	if ts.Len() != 0 {
		t.Fatalf("entries after second sweep = %d, want 0", ts.Len())
	}
}
