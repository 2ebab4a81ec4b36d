package server

import (
	"encoding/json"
)

// handleShareProgress applies additive career deltas and broadcasts the
// absolute totals.
func (m *Match) handleShareProgress(c *Client, payload []byte) {
	var msg ShareProgressMsg
	if err := json.Unmarshal(payload, &msg); err != nil {
		m.protocolDrop(c, "share_progress", err)
		return
	}
	sc := &m.state.Scenario
	sc.ApplyDelta(msg.ScienceDelta, msg.FundsDelta, msg.ReputationDelta)

	science, funds, rep := sc.Science, sc.Funds, sc.Reputation
	m.dispatch.Broadcast(OpShareProgress, ShareProgressMsg{
		Science:    &science,
		Funds:      &funds,
		Reputation: &rep,
	})
	m.saveDirty = true
}

// handleScenario stores an opaque module blob for persistence and
// relays the original frame to everyone but the sender. The contents
// are never interpreted.
func (m *Match) handleScenario(c *Client, payload []byte) {
	var msg ScenarioMsg
	if err := json.Unmarshal(payload, &msg); err != nil {
		m.protocolDrop(c, "scenario", err)
		return
	}
	if msg.Module != "" {
		m.state.Scenario.Modules[msg.Module] = msg.Data
		m.saveDirty = true
	}
	m.dispatch.RawBroadcastExcept(EncodeFrame(OpScenario, payload), c.sessionID)
}
