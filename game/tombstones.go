package game

import (
	"sync"
	"sync/atomic"
	"time"
)

// TombstoneSet marks recently removed vessels so late updates for them
// are dropped instead of resurrecting the vessel. It is the only match
// structure shared between the tick goroutine and a background sweep,
// so it synchronizes internally. Sweeps are throttled by a
// compare-and-swap on the last-sweep stamp.
type TombstoneSet struct {
	mu      sync.Mutex
	entries map[string]time.Time // vessel id -> removal time

	ttl        time.Duration
	sweepEvery time.Duration
	lastSweep  atomic.Int64 // unix nanos of last sweep
}

func NewTombstoneSet(ttl, sweepEvery time.Duration) *TombstoneSet {
	return &TombstoneSet{
		entries:    make(map[string]time.Time),
		ttl:        ttl,
		sweepEvery: sweepEvery,
	}
}

// Add records a removal.
func (t *TombstoneSet) Add(vesselID string, now time.Time) {
	t.mu.Lock()
	t.entries[vesselID] = now
	t.mu.Unlock()
}

// Contains reports whether the vessel was removed within the TTL.
func (t *TombstoneSet) Contains(vesselID string, now time.Time) bool {
	t.mu.Lock()
	stamp, ok := t.entries[vesselID]
	t.mu.Unlock()
	return ok && now.Sub(stamp) <= t.ttl
}

// Remove clears a tombstone, used when the same vessel id is
// legitimately re-published.
func (t *TombstoneSet) Remove(vesselID string) {
	t.mu.Lock()
	delete(t.entries, vesselID)
	t.mu.Unlock()
}

// Len reports the live entry count.
func (t *TombstoneSet) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Sweep drops expired entries. At most one sweep runs per sweepEvery
// window; callers on any goroutine may invoke it freely and the CAS on
// the stamp elects the one that actually works.
func (t *TombstoneSet) Sweep(now time.Time) {
	last := t.lastSweep.Load()
	if now.UnixNano()-last < t.sweepEvery.Nanoseconds() {
		return
	}
	if !t.lastSweep.CompareAndSwap(last, now.UnixNano()) {
		return
	}
	t.mu.Lock()
	for id, stamp := range t.entries {
		if now.Sub(stamp) > t.ttl {
			delete(t.entries, id)
		}
	}
	t.mu.Unlock()
}
