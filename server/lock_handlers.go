package server

import (
	"encoding/json"
	"time"

	"github.com/orbitmp/matchserver/game"
)

// handleLock processes acquire/release requests. Requests are
// sender-scoped: you acquire for yourself and release only what you
// hold. Denials reply with the current holder.
func (m *Match) handleLock(c *Client, payload []byte, now time.Time) {
	var msg LockMsg
	if err := json.Unmarshal(payload, &msg); err != nil {
		m.protocolDrop(c, "lock", err)
		return
	}
	lockType, ok := game.ParseLockType(msg.LockType)
	if !ok {
		m.protocolDrop(c, "lock", errUnknownEnum(msg.LockType))
		return
	}
	key := game.LockKey{Type: lockType, VesselID: msg.VesselID, KerbalName: msg.KerbalName}

	switch msg.Action {
	case LockActionAcquire:
		m.acquireLock(c, key, msg.Force, now)
	case LockActionRelease:
		if released, ok := m.state.Locks.Release(key, c.sessionID); ok {
			m.dispatch.Broadcast(OpLock, lockBroadcast(LockActionReleased, released))
		}
		// Releasing a lock you don't hold is a no-op, not an error.
	default:
		m.protocolDrop(c, "lock", errUnknownEnum(msg.Action))
	}
}

// acquireLock runs the acquire algorithm and emits the resulting
// broadcasts. force is only honored as a Control cascade: the requester
// must hold Control on the vessel to displace an Update holder.
func (m *Match) acquireLock(c *Client, key game.LockKey, force bool, now time.Time) {
	if force && !m.holdsControl(c.sessionID, key.VesselID) && !m.state.IsAdmin(c.sessionID) {
		force = false
	}
	res := m.state.Locks.Acquire(key, c.sessionID, force, now)
	for _, ev := range res.Events {
		m.broadcastLockEvent(ev)
	}
	if !res.Granted {
		m.metrics.denied.Inc()
		m.dispatch.Unicast(OpLock, LockMsg{
			Action:     LockActionDenied,
			LockType:   key.Type.String(),
			VesselID:   key.VesselID,
			KerbalName: key.KerbalName,
			Owner:      res.Holder,
		}, c.sessionID)
	}
}

func (m *Match) holdsControl(sessionID, vesselID string) bool {
	l, ok := m.state.Locks.Get(game.LockKey{Type: game.LockControl, VesselID: vesselID})
	return ok && l.Owner == sessionID
}

// broadcastLockEvent turns a manager event into its wire broadcast,
// release before acquire per the manager's ordering.
func (m *Match) broadcastLockEvent(ev game.LockEvent) {
	action := LockActionGranted
	if ev.Released {
		action = LockActionReleased
	}
	m.dispatch.Broadcast(OpLock, lockBroadcast(action, ev.Lock))
}
