package game

import (
	"sort"
	"time"
)

// State is the in-memory world for one match. It is owned by the match
// tick goroutine: every read and write happens there, so no locking.
// The one exception is Tombstones, which a background sweep also
// touches and which synchronizes internally.
type State struct {
	ServerName string
	Password   string
	Mode       GameMode
	MaxPlayers int

	Players  map[string]*Player // session id -> player
	Vessels  map[string]*Vessel // vessel id -> vessel
	Kerbals  map[string]*Kerbal // kerbal id -> kerbal
	Groups   map[string]*Group  // group name -> group
	Admins   map[string]bool    // session id -> admin
	Scenario ScenarioState

	Locks      *LockManager
	Warp       *WarpState
	Tombstones *TombstoneSet

	// Per-user limiter tables, tick-thread-local
	ChatLimits       *LimiterTable
	ProtoLimits      *LimiterTable
	CraftLimits      *LimiterTable
	ScreenshotLimits *LimiterTable
	UpdateLimits     *LimiterTable // keyed by vessel id, not user

	TickCount  int64
	EmptySince time.Time // zero while at least one player is present
}

// NewState builds an empty world for a match.
func NewState(serverName, password string, mode GameMode, maxPlayers int, now time.Time) *State {
	return &State{
		ServerName: serverName,
		Password:   password,
		Mode:       mode,
		MaxPlayers: maxPlayers,
		Players:    make(map[string]*Player),
		Vessels:    make(map[string]*Vessel),
		Kerbals:    make(map[string]*Kerbal),
		Groups:     make(map[string]*Group),
		Admins:     make(map[string]bool),
		Scenario:   ScenarioState{Modules: make(map[string][]byte)},
		Locks:      NewLockManager(),
		Warp:       NewWarpState(now),
		Tombstones: NewTombstoneSet(TombstoneTTL, TombstoneSweepEvery),

		ChatLimits:       NewLimiterTable(ChatRate),
		ProtoLimits:      NewLimiterTable(VesselProtoRate),
		CraftLimits:      NewLimiterTable(CraftRate),
		ScreenshotLimits: NewLimiterTable(ScreenshotRate),
		UpdateLimits:     NewLimiterTable(VesselUpdateRate),
		EmptySince:       now,
	}
}

// AddPlayer installs a joined player and tags them into the current
// subspace. First joiner is auto-promoted to admin.
func (s *State) AddPlayer(p *Player, now time.Time) {
	p.SessionID = mustSession(p.SessionID)
	p.LastActivity = now
	p.SubspaceID = s.Warp.LatestSubspace()
	if len(s.Players) == 0 {
		s.Admins[p.SessionID] = true
	}
	s.Players[p.SessionID] = p
	s.EmptySince = time.Time{}
}

// RemovePlayer clears a player and reports the locks that were
// released on their behalf, in deterministic order.
func (s *State) RemovePlayer(sessionID string, now time.Time) []Lock {
	released := s.Locks.ReleaseAllOwnedBy(sessionID)
	delete(s.Players, sessionID)
	delete(s.Admins, sessionID)
	if len(s.Players) == 0 {
		s.EmptySince = now
	}
	return released
}

// PlayerList returns players sorted by session id for stable snapshots.
func (s *State) PlayerList() []*Player {
	out := make([]*Player, 0, len(s.Players))
	for _, p := range s.Players {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out
}

// VesselList returns vessels sorted by id.
func (s *State) VesselList() []*Vessel {
	out := make([]*Vessel, 0, len(s.Vessels))
	for _, v := range s.Vessels {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VesselID < out[j].VesselID })
	return out
}

// KerbalList returns kerbals sorted by id.
func (s *State) KerbalList() []*Kerbal {
	out := make([]*Kerbal, 0, len(s.Kerbals))
	for _, k := range s.Kerbals {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].KerbalID < out[j].KerbalID })
	return out
}

// GroupList returns groups sorted by name.
func (s *State) GroupList() []*Group {
	out := make([]*Group, 0, len(s.Groups))
	for _, g := range s.Groups {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// RemoveVessel deletes a vessel, drops every lock referencing it and
// tombstones the id so late updates are discarded. Returns the dropped
// locks and whether the vessel existed.
func (s *State) RemoveVessel(vesselID string, now time.Time) ([]Lock, bool) {
	_, ok := s.Vessels[vesselID]
	if !ok {
		return nil, false
	}
	delete(s.Vessels, vesselID)
	dropped := s.Locks.ReleaseAllForVessel(vesselID)
	s.Tombstones.Add(vesselID, now)
	for _, p := range s.Players {
		if p.ControlledVessel == vesselID {
			p.ControlledVessel = ""
		}
	}
	return dropped, true
}

// IsAdmin reports whether the session has elevated authority.
func (s *State) IsAdmin(sessionID string) bool {
	return s.Admins[sessionID]
}

// Touch refreshes a player's activity stamp.
func (s *State) Touch(sessionID string, now time.Time) {
	if p, ok := s.Players[sessionID]; ok {
		p.LastActivity = now
		if p.Status == StatusIdle {
			p.Status = StatusConnected
		}
	}
}

// IdlePlayers returns sessions whose last activity is older than
// IdleKickAfter.
func (s *State) IdlePlayers(now time.Time) []string {
	var idle []string
	for id, p := range s.Players {
		if now.Sub(p.LastActivity) > IdleKickAfter {
			idle = append(idle, id)
		}
	}
	sort.Strings(idle)
	return idle
}

func mustSession(id string) string {
	if id == "" {
		// A presence with no session id never reaches the state layer;
		// keep the invariant visible if it somehow does.
		panic("game: player with empty session id")
	}
	return id
}
