package game

import (
	"sort"
	"time"
)

// LockType enumerates the capabilities a player can hold over a vessel
// or kerbal.
type LockType int

const (
	LockControl LockType = iota
	LockUpdate
	LockUnloadedUpdate
	LockSpectator
	LockAsteroid
	LockKerbal
	LockContract
	LockMisc
)

var lockTypeNames = map[LockType]string{
	LockControl:        "Control",
	LockUpdate:         "Update",
	LockUnloadedUpdate: "UnloadedUpdate",
	LockSpectator:      "Spectator",
	LockAsteroid:       "Asteroid",
	LockKerbal:         "Kerbal",
	LockContract:       "Contract",
	LockMisc:           "Misc",
}

func (t LockType) String() string {
	if s, ok := lockTypeNames[t]; ok {
		return s
	}
	return "Misc"
}

func ParseLockType(s string) (LockType, bool) {
	for t, name := range lockTypeNames {
		if name == s {
			return t, true
		}
	}
	return LockMisc, false
}

// LockKey identifies one lock.
type LockKey struct {
	Type       LockType
	VesselID   string
	KerbalName string
}

// Lock is a held capability.
type Lock struct {
	Key       LockKey
	Owner     string // session id
	CreatedAt time.Time
}

// LockEvent is a state transition the caller must broadcast: a release
// of the previous holder or an acquire by the new one. Events are
// ordered; a reassignment emits the release first.
type LockEvent struct {
	Released bool
	Lock     Lock
}

// AcquireResult reports the outcome of an acquire attempt.
type AcquireResult struct {
	Granted bool
	Holder  string // current holder when denied
	Events  []LockEvent
}

// LockManager owns every lock in a match. Only the tick goroutine
// touches it.
type LockManager struct {
	locks map[LockKey]Lock
}

func NewLockManager() *LockManager {
	return &LockManager{locks: make(map[LockKey]Lock)}
}

// Get returns the lock for a key if held.
func (m *LockManager) Get(key LockKey) (Lock, bool) {
	l, ok := m.locks[key]
	return l, ok
}

// OwnedBy lists all locks a session holds, in deterministic order.
func (m *LockManager) OwnedBy(sessionID string) []Lock {
	var out []Lock
	for _, l := range m.locks {
		if l.Owner == sessionID {
			out = append(out, l)
		}
	}
	sortLocks(out)
	return out
}

// List returns every held lock in deterministic order.
func (m *LockManager) List() []Lock {
	out := make([]Lock, 0, len(m.locks))
	for _, l := range m.locks {
		out = append(out, l)
	}
	sortLocks(out)
	return out
}

// UpdateExists reports whether any session holds Update on the vessel.
func (m *LockManager) UpdateExists(vesselID string) bool {
	_, ok := m.locks[LockKey{Type: LockUpdate, VesselID: vesselID}]
	return ok
}

// UnloadedUpdateExists reports whether any session holds UnloadedUpdate
// on the vessel.
func (m *LockManager) UnloadedUpdateExists(vesselID string) bool {
	_, ok := m.locks[LockKey{Type: LockUnloadedUpdate, VesselID: vesselID}]
	return ok
}

// Acquire attempts to take a lock for a session. force carries the
// Control-cascade privilege: a Control holder may displace the current
// Update holder. The returned events, in order, are what the caller
// broadcasts.
func (m *LockManager) Acquire(key LockKey, sessionID string, force bool, now time.Time) AcquireResult {
	if cur, ok := m.locks[key]; ok && cur.Owner == sessionID {
		// Idempotent: re-acquiring your own lock is success with no
		// new broadcast.
		return AcquireResult{Granted: true}
	}

	switch key.Type {
	case LockUpdate:
		return m.acquireUpdate(key, sessionID, force, now)
	case LockControl:
		return m.acquireControl(key, sessionID, force, now)
	default:
		if cur, ok := m.locks[key]; ok && !force {
			return AcquireResult{Holder: cur.Owner}
		} else if ok {
			return m.replace(cur, key, sessionID, now)
		}
		return m.grant(key, sessionID, now)
	}
}

func (m *LockManager) acquireUpdate(key LockKey, sessionID string, force bool, now time.Time) AcquireResult {
	if cur, ok := m.locks[key]; ok {
		if !force {
			return AcquireResult{Holder: cur.Owner}
		}
		return m.replace(cur, key, sessionID, now)
	}

	res := m.grant(key, sessionID, now)

	// Update preempts UnloadedUpdate: the unloaded holder loses the
	// lock and the requester inherits it, release before acquire.
	unloadedKey := LockKey{Type: LockUnloadedUpdate, VesselID: key.VesselID}
	if prev, ok := m.locks[unloadedKey]; ok && prev.Owner != sessionID {
		delete(m.locks, unloadedKey)
		res.Events = append(res.Events, LockEvent{Released: true, Lock: prev})
		next := Lock{Key: unloadedKey, Owner: sessionID, CreatedAt: now}
		m.locks[unloadedKey] = next
		res.Events = append(res.Events, LockEvent{Lock: next})
	}
	return res
}

func (m *LockManager) acquireControl(key LockKey, sessionID string, force bool, now time.Time) AcquireResult {
	var events []LockEvent

	// A player holds at most one Control lock: drop any other first.
	for _, held := range m.OwnedBy(sessionID) {
		if held.Key.Type == LockControl && held.Key != key {
			delete(m.locks, held.Key)
			events = append(events, LockEvent{Released: true, Lock: held})
		}
	}

	if cur, ok := m.locks[key]; ok && !force {
		return AcquireResult{Holder: cur.Owner, Events: events}
	} else if ok {
		res := m.replace(cur, key, sessionID, now)
		res.Events = append(events, res.Events...)
		return res
	}
	res := m.grant(key, sessionID, now)
	res.Events = append(events, res.Events...)
	return res
}

func (m *LockManager) grant(key LockKey, sessionID string, now time.Time) AcquireResult {
	l := Lock{Key: key, Owner: sessionID, CreatedAt: now}
	m.locks[key] = l
	return AcquireResult{Granted: true, Events: []LockEvent{{Lock: l}}}
}

func (m *LockManager) replace(cur Lock, key LockKey, sessionID string, now time.Time) AcquireResult {
	delete(m.locks, key)
	next := Lock{Key: key, Owner: sessionID, CreatedAt: now}
	m.locks[key] = next
	return AcquireResult{
		Granted: true,
		Events: []LockEvent{
			{Released: true, Lock: cur},
			{Lock: next},
		},
	}
}

// Release removes a lock iff the session owns it. Releasing a lock you
// do not hold is a no-op, not an error.
func (m *LockManager) Release(key LockKey, sessionID string) (Lock, bool) {
	cur, ok := m.locks[key]
	if !ok || cur.Owner != sessionID {
		return Lock{}, false
	}
	delete(m.locks, key)
	return cur, true
}

// ReleaseAllOwnedBy drops every lock a session holds, returning them in
// deterministic order so leave cleanup broadcasts are stable.
func (m *LockManager) ReleaseAllOwnedBy(sessionID string) []Lock {
	released := m.OwnedBy(sessionID)
	for _, l := range released {
		delete(m.locks, l.Key)
	}
	return released
}

// ReleaseAllForVessel drops every lock referencing a vessel, whoever
// holds it. Used when the vessel is removed.
func (m *LockManager) ReleaseAllForVessel(vesselID string) []Lock {
	var dropped []Lock
	for key, l := range m.locks {
		if key.VesselID == vesselID {
			dropped = append(dropped, l)
		}
	}
	sortLocks(dropped)
	for _, l := range dropped {
		delete(m.locks, l.Key)
	}
	return dropped
}

func sortLocks(ls []Lock) {
	sort.Slice(ls, func(i, j int) bool {
		a, b := ls[i].Key, ls[j].Key
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		if a.VesselID != b.VesselID {
			return a.VesselID < b.VesselID
		}
		return a.KerbalName < b.KerbalName
	})
}
