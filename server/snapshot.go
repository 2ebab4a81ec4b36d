package server

import (
	"encoding/json"
	"time"

	"github.com/orbitmp/matchserver/game"
	"github.com/orbitmp/matchserver/storage"
)

// matchSnapshot is the persisted world state, keyed by server name in
// the match_saves collection so a restarted match resumes its world.
type matchSnapshot struct {
	Vessels      []*game.Vessel     `json:"vessels"`
	Kerbals      []*game.Kerbal     `json:"kerbals"`
	Science      float64            `json:"science"`
	Funds        float64            `json:"funds"`
	Reputation   float64            `json:"reputation"`
	Modules      map[string][]byte  `json:"modules,omitempty"`
	UniverseTime float64            `json:"universe_time"`
	SavedAt      int64              `json:"saved_at"`
}

// saveSnapshot persists the canonical world state.
func (m *Match) saveSnapshot(now time.Time) error {
	snap := matchSnapshot{
		Vessels:      m.state.VesselList(),
		Kerbals:      m.state.KerbalList(),
		Science:      m.state.Scenario.Science,
		Funds:        m.state.Scenario.Funds,
		Reputation:   m.state.Scenario.Reputation,
		Modules:      m.state.Scenario.Modules,
		UniverseTime: m.state.Warp.UniverseTime(now),
		SavedAt:      now.UnixMilli(),
	}
	blob, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return m.store.Write(storage.CollectionMatchSaves, m.state.ServerName, blob)
}

// loadSnapshot restores a saved world, including the persisted group
// table. Returns storage.ErrNotFound for a fresh world.
func (m *Match) loadSnapshot(now time.Time) error {
	m.loadGroups()

	raw, err := m.store.Read(storage.CollectionMatchSaves, m.state.ServerName)
	if err != nil {
		return err
	}
	var snap matchSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return err
	}
	for _, v := range snap.Vessels {
		m.state.Vessels[v.VesselID] = v
	}
	for _, k := range snap.Kerbals {
		m.state.Kerbals[k.KerbalID] = k
	}
	m.state.Scenario.Science = snap.Science
	m.state.Scenario.Funds = snap.Funds
	m.state.Scenario.Reputation = snap.Reputation
	if snap.Modules != nil {
		m.state.Scenario.Modules = snap.Modules
	}
	m.state.Warp.SetUniverseTime(snap.UniverseTime, now)
	m.log.Info().
		Int("vessels", len(snap.Vessels)).
		Int("kerbals", len(snap.Kerbals)).
		Float64("universe_time", snap.UniverseTime).
		Msg("world restored from snapshot")
	return nil
}

func (m *Match) loadGroups() {
	raw, err := m.store.Read(storage.CollectionData, "groups")
	if err != nil {
		if err != storage.ErrNotFound {
			m.metrics.storageErrors.Inc()
			m.log.Error().Err(err).Msg("group restore failed")
		}
		return
	}
	var stored struct {
		Groups map[string]*game.Group `json:"groups"`
	}
	if err := json.Unmarshal(raw, &stored); err != nil {
		m.log.Error().Err(err).Msg("corrupt group table")
		return
	}
	if stored.Groups != nil {
		m.state.Groups = stored.Groups
	}
}
