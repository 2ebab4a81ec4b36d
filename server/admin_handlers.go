package server

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/orbitmp/matchserver/game"
	"github.com/orbitmp/matchserver/storage"
)

// nukeMarkers are the landed-location substrings the NUKE command
// matches, case-insensitively.
var nukeMarkers = []string{"ksc", "runway", "launchpad"}

// handleAdminCommand runs a privileged command. The router has already
// verified the sender is in the admin set.
func (m *Match) handleAdminCommand(c *Client, payload []byte, now time.Time) {
	var msg AdminCommandMsg
	if err := json.Unmarshal(payload, &msg); err != nil {
		m.protocolDrop(c, "admin_command", err)
		return
	}
	m.log.Warn().Str("session", c.sessionID).Str("user", c.userID).Str("command", msg.Command).Msg("admin command")

	switch msg.Command {
	case AdminDekessler:
		m.dekessler(now)
	case AdminNuke:
		m.nuke(now)
	case AdminKick:
		m.adminKick(msg.Target, msg.Reason)
	case AdminBan:
		m.adminBan(msg.Target, msg.Reason, now)
	case AdminGrantAdmin:
		m.grantAdmin(c, msg.Target, now)
	case AdminRevokeAdmin:
		m.revokeAdmin(msg.Target)
	case AdminSetWarpMode:
		if mode, ok := game.ParseWarpMode(msg.Mode); ok {
			m.setWarpMode(mode, now)
		} else {
			m.protocolDrop(c, "admin_command", errUnknownEnum(msg.Mode))
		}
	case AdminAnnounce:
		if msg.Message != "" {
			m.dispatch.Broadcast(OpChat, ChatMsg{Message: msg.Message, From: "Server"})
		}
	default:
		m.protocolDrop(c, "admin_command", errUnknownEnum(msg.Command))
	}
}

// dekessler removes every Debris vessel, broadcasting each removal.
func (m *Match) dekessler(now time.Time) {
	removed := 0
	for _, v := range m.state.VesselList() {
		if v.Type == game.VesselDebris {
			m.removeVessel(v.VesselID, now)
			removed++
		}
	}
	m.log.Info().Int("removed", removed).Msg("dekessler complete")
}

// nuke removes every vessel landed at the space center, by
// landed-location string match.
func (m *Match) nuke(now time.Time) {
	removed := 0
	for _, v := range m.state.VesselList() {
		landed := strings.ToLower(v.LandedAt)
		for _, marker := range nukeMarkers {
			if strings.Contains(landed, marker) {
				m.removeVessel(v.VesselID, now)
				removed++
				break
			}
		}
	}
	m.log.Info().Int("removed", removed).Msg("nuke complete")
}

// adminKick closes the target's transport; lock cleanup happens on the
// resulting leave.
func (m *Match) adminKick(session, reason string) {
	if _, ok := m.state.Players[session]; !ok {
		return
	}
	if reason == "" {
		reason = "kicked by admin"
	}
	m.dispatch.Advise(session, "Kicked: "+reason)
	m.dispatch.Kick(session, reason)
}

// adminBan persists a ban record and kicks any live session of that
// user. Future join attempts by the user id are rejected.
func (m *Match) adminBan(userID, reason string, now time.Time) {
	if userID == "" {
		return
	}
	ban := game.Ban{UserID: userID, Reason: reason, Timestamp: now}
	blob, err := json.Marshal(ban)
	if err == nil {
		err = m.store.Write(storage.CollectionBans, userID, blob)
	}
	if err != nil {
		m.metrics.storageErrors.Inc()
		m.log.Error().Err(err).Str("user", userID).Msg("persist ban")
	}
	for session, p := range m.state.Players {
		if p.UserID == userID {
			m.adminKick(session, "banned: "+reason)
		}
	}
}

// isBanned checks the persisted ban list.
func (m *Match) isBanned(userID string) (bool, string) {
	raw, err := m.store.Read(storage.CollectionBans, userID)
	if err != nil {
		if err != storage.ErrNotFound {
			m.metrics.storageErrors.Inc()
			m.log.Error().Err(err).Msg("ban lookup failed")
		}
		return false, ""
	}
	var ban game.Ban
	if err := json.Unmarshal(raw, &ban); err != nil {
		return false, ""
	}
	return true, ban.Reason
}

// grantAdmin promotes a live session and persists the grant by user id
// so it survives reconnects.
func (m *Match) grantAdmin(granter *Client, session string, now time.Time) {
	p, ok := m.state.Players[session]
	if !ok {
		return
	}
	m.state.Admins[session] = true
	record, err := json.Marshal(map[string]any{
		"since":      now.UnixMilli(),
		"granted_by": granter.userID,
	})
	if err == nil {
		err = m.store.Write(storage.CollectionAdmins, p.UserID, record)
	}
	if err != nil {
		m.metrics.storageErrors.Inc()
		m.log.Error().Err(err).Str("user", p.UserID).Msg("persist admin grant")
	}
	m.dispatch.Advise(session, "You are now a server admin")
}

// revokeAdmin demotes a live session and clears the persisted grant.
func (m *Match) revokeAdmin(session string) {
	p, ok := m.state.Players[session]
	if !ok {
		return
	}
	delete(m.state.Admins, session)
	if err := m.store.Delete(storage.CollectionAdmins, p.UserID); err != nil {
		m.metrics.storageErrors.Inc()
		m.log.Error().Err(err).Str("user", p.UserID).Msg("clear admin grant")
	}
	m.dispatch.Advise(session, "Your admin rights were revoked")
}

// isPersistedAdmin checks the cross-restart admin grants.
func (m *Match) isPersistedAdmin(userID string) bool {
	ok, err := m.store.Exists(storage.CollectionAdmins, userID)
	if err != nil {
		m.metrics.storageErrors.Inc()
		return false
	}
	return ok
}
