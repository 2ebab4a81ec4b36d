package server

import (
	"encoding/json"

	"github.com/orbitmp/matchserver/game"
	"github.com/orbitmp/matchserver/storage"
)

// Groups persist under lmp_data:groups across matches; the in-memory
// map is the working copy.

func (m *Match) handleGroupCreate(c *Client, payload []byte) {
	var msg GroupCreateMsg
	if err := json.Unmarshal(payload, &msg); err != nil {
		m.protocolDrop(c, "group_create", err)
		return
	}
	if msg.Name == "" {
		return
	}
	if _, exists := m.state.Groups[msg.Name]; exists {
		m.dispatch.Advise(c.sessionID, "Group already exists: "+msg.Name)
		return
	}
	m.state.Groups[msg.Name] = &game.Group{
		Name:    msg.Name,
		Owner:   c.userID,
		Members: []string{c.userID},
	}
	m.persistGroups()
	m.dispatch.Broadcast(OpGroupList, GroupListMsg{Groups: m.state.GroupList()})
}

func (m *Match) handleGroupRemove(c *Client, payload []byte) {
	var msg GroupRemoveMsg
	if err := json.Unmarshal(payload, &msg); err != nil {
		m.protocolDrop(c, "group_remove", err)
		return
	}
	g, ok := m.state.Groups[msg.Name]
	if !ok {
		return
	}
	if g.Owner != c.userID && !m.state.IsAdmin(c.sessionID) {
		m.metrics.denied.Inc()
		m.log.Info().Str("session", c.sessionID).Str("group", msg.Name).Msg("group remove not permitted")
		return
	}
	delete(m.state.Groups, msg.Name)
	m.persistGroups()
	m.dispatch.Broadcast(OpGroupList, GroupListMsg{Groups: m.state.GroupList()})
}

func (m *Match) handleGroupUpdate(c *Client, payload []byte) {
	var msg GroupUpdateMsg
	if err := json.Unmarshal(payload, &msg); err != nil {
		m.protocolDrop(c, "group_update", err)
		return
	}
	g, ok := m.state.Groups[msg.Name]
	if !ok {
		return
	}
	if g.Owner != c.userID && !m.state.IsAdmin(c.sessionID) {
		m.metrics.denied.Inc()
		return
	}
	g.Members = msg.Members
	m.persistGroups()
	m.dispatch.Broadcast(OpGroupList, GroupListMsg{Groups: m.state.GroupList()})
}

func (m *Match) handleGroupList(c *Client) {
	m.dispatch.Unicast(OpGroupList, GroupListMsg{Groups: m.state.GroupList()}, c.sessionID)
}

// persistGroups writes the whole group table; failures are logged and
// retried implicitly on the next mutation.
func (m *Match) persistGroups() {
	blob, err := json.Marshal(struct {
		Groups map[string]*game.Group `json:"groups"`
	}{Groups: m.state.Groups})
	if err != nil {
		m.log.Error().Err(err).Msg("marshal groups")
		return
	}
	if err := m.store.Write(storage.CollectionData, "groups", blob); err != nil {
		m.metrics.storageErrors.Inc()
		m.log.Error().Err(err).Msg("persist groups")
	}
}
