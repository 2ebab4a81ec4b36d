package server

import (
	"encoding/json"
	"time"

	"github.com/orbitmp/matchserver/game"
)

// handleVesselProto stores a full vessel publish. New vessels grant the
// sender a Control lock; re-publishes of a removed id clear its
// tombstone. Rate limited per user.
func (m *Match) handleVesselProto(c *Client, payload []byte, now time.Time) {
	var msg VesselProtoMsg
	if err := json.Unmarshal(payload, &msg); err != nil {
		m.protocolDrop(c, "vessel_proto", err)
		return
	}
	if msg.VesselID == "" {
		m.protocolDrop(c, "vessel_proto", errUnknownEnum("empty vessel_id"))
		return
	}
	if !m.state.ProtoLimits.Allow(c.userID, now) {
		m.metrics.rateLimited.Inc()
		m.log.Debug().Str("session", c.sessionID).Msg("vessel proto rate limited")
		return
	}

	v, existed := m.state.Vessels[msg.VesselID]
	if !existed {
		v = &game.Vessel{
			VesselID:  msg.VesselID,
			Owner:     c.sessionID,
			CreatedAt: now,
		}
		m.state.Vessels[msg.VesselID] = v
		m.state.Tombstones.Remove(msg.VesselID)
	}
	v.Name = msg.Name
	v.Type = game.ParseVesselType(msg.Type)
	v.Body = msg.Body
	v.Position = msg.Position
	v.Rotation = msg.Rotation
	v.LandedAt = msg.LandedAt
	if len(msg.Parts) > 0 {
		v.Parts = msg.Parts
	}
	if len(msg.ProtoData) > 0 {
		v.ProtoData = msg.ProtoData
	}
	v.LastUpdate = now.UnixMilli()

	m.dispatch.Broadcast(OpVesselProto, msg)

	if !existed {
		res := m.state.Locks.Acquire(
			game.LockKey{Type: game.LockControl, VesselID: msg.VesselID},
			c.sessionID, false, now,
		)
		for _, ev := range res.Events {
			m.broadcastLockEvent(ev)
		}
	}
	m.saveDirty = m.saveDirty || !existed
}

// handleVesselUpdate applies a physics delta. Requires the Update lock;
// anything else is dropped silently. Tombstoned vessels swallow late
// updates the same way.
func (m *Match) handleVesselUpdate(c *Client, payload []byte, now time.Time) {
	var msg VesselUpdateMsg
	if err := json.Unmarshal(payload, &msg); err != nil {
		m.protocolDrop(c, "vessel_update", err)
		return
	}
	if m.state.Tombstones.Contains(msg.VesselID, now) {
		return
	}
	lock, held := m.state.Locks.Get(game.LockKey{Type: game.LockUpdate, VesselID: msg.VesselID})
	if !held || lock.Owner != c.sessionID {
		return
	}
	v, ok := m.state.Vessels[msg.VesselID]
	if !ok {
		return
	}
	if !m.state.UpdateLimits.Allow(msg.VesselID, now) {
		m.metrics.rateLimited.Inc()
		return
	}

	delta := game.VesselDelta{
		Position:        msg.Position,
		Rotation:        msg.Rotation,
		Velocity:        msg.Velocity,
		AngularVelocity: msg.AngularVelocity,
	}
	if reason := game.ValidateUpdate(v, delta, now); reason != "" {
		m.metrics.cheatsRejected.Inc()
		m.log.Info().Str("player", c.username).Str("vessel", msg.VesselID).Str("reason", reason).Msg("vessel update rejected")
		return
	}

	v.Position = msg.Position
	v.Rotation = msg.Rotation
	v.Velocity = msg.Velocity
	v.AngularVelocity = msg.AngularVelocity
	v.Orbit = msg.Orbit
	if msg.LandedAt != "" {
		v.LandedAt = msg.LandedAt
	}
	v.LastUpdate = now.UnixMilli()

	m.dispatch.BroadcastExcept(OpVesselUpdate, msg, c.sessionID)
}

// handleVesselRemove deletes a vessel. Only the owner or an admin may
// remove it; the id is tombstoned so stragglers are dropped.
func (m *Match) handleVesselRemove(c *Client, payload []byte, now time.Time) {
	var msg VesselRemoveMsg
	if err := json.Unmarshal(payload, &msg); err != nil {
		m.protocolDrop(c, "vessel_remove", err)
		return
	}
	v, ok := m.state.Vessels[msg.VesselID]
	if !ok {
		return
	}
	if v.Owner != c.sessionID && !m.state.IsAdmin(c.sessionID) {
		m.metrics.denied.Inc()
		m.log.Info().Str("session", c.sessionID).Str("vessel", msg.VesselID).Msg("vessel remove not permitted")
		return
	}
	m.removeVessel(msg.VesselID, now)
}

// removeVessel is the shared removal path, also used by the admin
// plane's bulk commands.
func (m *Match) removeVessel(vesselID string, now time.Time) {
	dropped, ok := m.state.RemoveVessel(vesselID, now)
	if !ok {
		return
	}
	for _, l := range dropped {
		m.dispatch.Broadcast(OpLock, lockBroadcast(LockActionReleased, l))
	}
	m.state.UpdateLimits.Forget(vesselID)
	m.dispatch.Broadcast(OpVesselRemove, VesselRemoveMsg{VesselID: vesselID})
	m.saveDirty = true
}

// handleKerbal upserts a crew record and relays it.
func (m *Match) handleKerbal(c *Client, payload []byte, now time.Time) {
	var k game.Kerbal
	if err := json.Unmarshal(payload, &k); err != nil {
		m.protocolDrop(c, "kerbal", err)
		return
	}
	if k.KerbalID == "" {
		m.protocolDrop(c, "kerbal", errUnknownEnum("empty kerbal_id"))
		return
	}
	k.UpdatedBy = c.sessionID
	k.UpdatedAt = now
	m.state.Kerbals[k.KerbalID] = &k
	m.dispatch.BroadcastExcept(OpKerbal, &k, c.sessionID)
	m.saveDirty = true
}
