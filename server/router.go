package server

import (
	"time"
)

// route is the single exhaustive opcode switch. Authorization happens
// here; handlers assume an admitted, authorized sender. Malformed or
// unauthorized messages are dropped without disconnecting anyone.
func (m *Match) route(c *Client, op uint16, payload []byte, now time.Time) {
	// Every message except a duplicate handshake counts as activity.
	m.state.Touch(c.sessionID, now)
	m.metrics.inbound.WithLabelValues(opClass(op)).Inc()

	switch op {
	case OpHandshake:
		// Already joined; a second handshake is a protocol error.
		m.log.Debug().Str("session", c.sessionID).Msg("duplicate handshake dropped")

	case OpChat:
		m.handleChat(c, payload, now)
	case OpPlayerStatus:
		m.handlePlayerStatus(c, payload)
	case OpPlayerColor:
		m.handlePlayerColor(c, payload)

	case OpVessel, OpVesselProto:
		m.handleVesselProto(c, payload, now)
	case OpVesselUpdate:
		m.handleVesselUpdate(c, payload, now)
	case OpVesselRemove:
		m.handleVesselRemove(c, payload, now)
	case OpKerbal:
		m.handleKerbal(c, payload, now)

	case OpAdminCommand:
		if !m.state.IsAdmin(c.sessionID) {
			m.metrics.denied.Inc()
			m.log.Warn().Str("session", c.sessionID).Str("user", c.userID).Msg("admin command from non-admin dropped")
			return
		}
		m.handleAdminCommand(c, payload, now)

	case OpWarp:
		m.handleWarp(c, payload, now)
	case OpLock:
		m.handleLock(c, payload, now)
	case OpScenario:
		m.handleScenario(c, payload)
	case OpShareProgress:
		m.handleShareProgress(c, payload)

	case OpGroupCreate:
		m.handleGroupCreate(c, payload)
	case OpGroupRemove:
		m.handleGroupRemove(c, payload)
	case OpGroupUpdate:
		m.handleGroupUpdate(c, payload)
	case OpGroupList:
		m.handleGroupList(c)

	case OpCraftUpload:
		m.assets.handleCraftUpload(c, payload, now)
	case OpCraftDownloadRequest:
		m.assets.handleCraftDownload(c, payload, now)
	case OpCraftListFolders:
		m.assets.handleCraftListFolders(c)
	case OpCraftListItems:
		m.assets.handleCraftListItems(c, payload)
	case OpCraftDelete:
		m.assets.handleCraftDelete(c, payload)

	case OpScreenshotUpload:
		m.assets.handleScreenshotUpload(c, payload, now)
	case OpScreenshotDownloadRequest:
		m.assets.handleScreenshotDownload(c, payload)
	case OpScreenshotListFolders:
		m.assets.handleScreenshotListFolders(c)
	case OpScreenshotListItems:
		m.assets.handleScreenshotListItems(c, payload)

	case OpFlagUpload:
		m.assets.handleFlagUpload(c, payload)
	case OpFlagList:
		m.assets.handleFlagList(c)
	case OpFlagDelete:
		m.assets.handleFlagDelete(c, payload)

	default:
		m.metrics.protocolErrors.Inc()
		m.log.Debug().Uint16("op", op).Str("session", c.sessionID).Msg("unknown opcode dropped")
	}
}

// opClass buckets opcodes for metrics labels.
func opClass(op uint16) string {
	switch {
	case op <= OpPlayerColor:
		return "player"
	case op <= OpVesselRemove:
		return "vessel"
	case op == OpKerbal:
		return "kerbal"
	case op == OpAdminCommand:
		return "admin"
	case op == OpSettings || op == OpWarp:
		return "warp"
	case op == OpLock:
		return "lock"
	case op == OpScenario || op == OpShareProgress:
		return "progress"
	case op >= OpGroupCreate && op <= OpGroupList:
		return "group"
	case op >= OpCraftUpload && op <= OpCraftNotify:
		return "craft"
	case op >= OpScreenshotUpload && op <= OpScreenshotNotify:
		return "screenshot"
	case op >= OpFlagUpload && op <= OpFlagDelete:
		return "flag"
	default:
		return "unknown"
	}
}
