package server

import (
	"encoding/json"
	"time"
	"unicode/utf8"

	"github.com/orbitmp/matchserver/game"
)

const maxChatLength = 500

// handleChat relays a chat line to everyone, rate-limited per user.
func (m *Match) handleChat(c *Client, payload []byte, now time.Time) {
	var msg ChatMsg
	if err := json.Unmarshal(payload, &msg); err != nil {
		m.protocolDrop(c, "chat", err)
		return
	}
	if msg.Message == "" {
		return
	}
	if len(msg.Message) > maxChatLength {
		cut := maxChatLength
		for cut > 0 && !utf8.RuneStart(msg.Message[cut]) {
			cut--
		}
		msg.Message = msg.Message[:cut]
	}
	if !m.state.ChatLimits.Allow(c.userID, now) {
		m.metrics.rateLimited.Inc()
		m.dispatch.Advise(c.sessionID, "You are sending messages too fast")
		return
	}
	msg.From = c.username
	m.dispatch.Broadcast(OpChat, msg)
}

// handlePlayerStatus lets a sender mutate only their own record.
func (m *Match) handlePlayerStatus(c *Client, payload []byte) {
	var msg PlayerStatusMsg
	if err := json.Unmarshal(payload, &msg); err != nil {
		m.protocolDrop(c, "player_status", err)
		return
	}
	p, ok := m.state.Players[c.sessionID]
	if !ok {
		return
	}
	status, ok := game.ParsePlayerStatus(msg.Status)
	if !ok {
		m.protocolDrop(c, "player_status", errUnknownEnum(msg.Status))
		return
	}
	p.Status = status
	p.ControlledVessel = msg.VesselID
	msg.SessionID = c.sessionID
	msg.Username = c.username
	m.dispatch.BroadcastExcept(OpPlayerStatus, msg, c.sessionID)
}

// handlePlayerColor mutates the sender's color.
func (m *Match) handlePlayerColor(c *Client, payload []byte) {
	var msg PlayerColorMsg
	if err := json.Unmarshal(payload, &msg); err != nil {
		m.protocolDrop(c, "player_color", err)
		return
	}
	p, ok := m.state.Players[c.sessionID]
	if !ok {
		return
	}
	p.Color = game.Color{R: msg.R, G: msg.G, B: msg.B}
	msg.SessionID = c.sessionID
	m.dispatch.BroadcastExcept(OpPlayerColor, msg, c.sessionID)
}

// protocolDrop logs a malformed payload at debug and keeps the sender
// connected.
func (m *Match) protocolDrop(c *Client, what string, err error) {
	m.metrics.protocolErrors.Inc()
	m.log.Debug().Err(err).Str("session", c.sessionID).Str("payload", what).Msg("malformed payload dropped")
}

type errUnknownEnum string

func (e errUnknownEnum) Error() string { return "unknown value " + string(e) }
