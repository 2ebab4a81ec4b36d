package server

import (
	"encoding/json"
	"time"

	"github.com/orbitmp/matchserver/game"
)

// handleWarp is mode-dependent. In subspace mode players split off new
// subspaces or merge into existing ones; in mcu mode they report their
// local warp rate; in admin mode only admins move the factor. Warp
// mode itself changes only through the admin plane.
func (m *Match) handleWarp(c *Client, payload []byte, now time.Time) {
	var msg WarpMsg
	if err := json.Unmarshal(payload, &msg); err != nil {
		m.protocolDrop(c, "warp", err)
		return
	}
	p, ok := m.state.Players[c.sessionID]
	if !ok {
		return
	}

	switch m.state.Warp.Mode {
	case game.WarpSubspace:
		m.handleSubspaceWarp(c, p, msg, now)
	case game.WarpMCU:
		if msg.Rate != nil {
			p.WarpRate = *msg.Rate
			m.dispatch.BroadcastExcept(OpWarp, WarpMsg{Rate: msg.Rate}, c.sessionID)
		}
	case game.WarpAdmin:
		if msg.Rate == nil {
			return
		}
		if !m.state.IsAdmin(c.sessionID) {
			m.metrics.denied.Inc()
			m.log.Info().Str("session", c.sessionID).Msg("warp factor change from non-admin dropped")
			return
		}
		m.state.Warp.AdminFactor = *msg.Rate
		m.dispatch.Broadcast(OpWarp, WarpMsg{Mode: m.state.Warp.Mode.String(), Rate: msg.Rate})
	}
}

func (m *Match) handleSubspaceWarp(c *Client, p *game.Player, msg WarpMsg, now time.Time) {
	w := m.state.Warp
	switch {
	case msg.Split:
		// The new subspace inherits the requester's current universe
		// time and the wall clock as its anchor.
		base := w.UniverseTime(now)
		if s, ok := w.Get(p.SubspaceID); ok {
			base = s.Time(now)
		}
		s := w.Split(base, now)
		p.SubspaceID = s.ID
		id := s.ID
		m.dispatch.Broadcast(OpWarp, WarpMsg{SubspaceID: &id})
	case msg.SubspaceID != nil:
		if _, ok := w.Get(*msg.SubspaceID); !ok {
			// Merge target vanished; tombstone semantics, drop.
			return
		}
		p.SubspaceID = *msg.SubspaceID
		m.dispatch.BroadcastExcept(OpWarp, WarpMsg{SubspaceID: msg.SubspaceID}, c.sessionID)
	}
}

// setWarpMode is the admin-plane transition: broadcast the new mode
// with a fresh universe-time anchor.
func (m *Match) setWarpMode(mode game.WarpMode, now time.Time) {
	m.state.Warp.SetMode(mode, now)
	t := m.state.Warp.UniverseTime(now)
	rate := m.state.Warp.AdminFactor
	m.dispatch.Broadcast(OpWarp, WarpMsg{Mode: mode.String(), Rate: &rate})
	m.dispatch.Broadcast(OpSettings, SettingsMsg{
		UniverseTime:  t,
		WarpMode:      mode.String(),
		ServerClockMS: now.UnixMilli(),
	})
	m.publishLabel()
}
