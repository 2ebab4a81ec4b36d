package game

import (
	"encoding/json"
	"time"
)

// Core timing constants
const (
	DefaultTickRate = 20
	TickPeriod      = time.Second / DefaultTickRate

	// Periodic work cadence, in ticks
	TimeSyncInterval = 20 // once per second at 20 Hz

	// Idle players are flagged for kick after this long without activity
	IdleKickAfter = 5 * time.Minute

	// Tombstone lifetime for removed vessels
	TombstoneTTL = 2500 * time.Millisecond
	// Minimum gap between tombstone sweeps
	TombstoneSweepEvery = 500 * time.Millisecond
)

// GameMode selects the ruleset a match runs under.
type GameMode int

const (
	ModeSandbox GameMode = iota
	ModeScience
	ModeCareer
)

var gameModeNames = map[GameMode]string{
	ModeSandbox: "sandbox",
	ModeScience: "science",
	ModeCareer:  "career",
}

func (m GameMode) String() string {
	if s, ok := gameModeNames[m]; ok {
		return s
	}
	return "sandbox"
}

// ParseGameMode maps a mode name to its GameMode; unknown names fall
// back to sandbox.
func ParseGameMode(s string) GameMode {
	for m, name := range gameModeNames {
		if name == s {
			return m
		}
	}
	return ModeSandbox
}

// WarpMode selects how universe time advances for the match.
type WarpMode int

const (
	WarpSubspace WarpMode = iota
	WarpMCU               // minimum common update: slowest reported rate wins
	WarpAdmin             // only admins set the rate
)

var warpModeNames = map[WarpMode]string{
	WarpSubspace: "subspace",
	WarpMCU:      "mcu",
	WarpAdmin:    "admin",
}

func (m WarpMode) String() string {
	if s, ok := warpModeNames[m]; ok {
		return s
	}
	return "subspace"
}

func ParseWarpMode(s string) (WarpMode, bool) {
	for m, name := range warpModeNames {
		if name == s {
			return m, true
		}
	}
	return WarpSubspace, false
}

// Player status values
type PlayerStatus int

const (
	StatusConnecting PlayerStatus = iota
	StatusLoading
	StatusConnected
	StatusInFlight
	StatusIdle
)

var playerStatusNames = map[PlayerStatus]string{
	StatusConnecting: "connecting",
	StatusLoading:    "loading",
	StatusConnected:  "connected",
	StatusInFlight:   "in_flight",
	StatusIdle:       "idle",
}

func (s PlayerStatus) String() string {
	if n, ok := playerStatusNames[s]; ok {
		return n
	}
	return "connecting"
}

func ParsePlayerStatus(s string) (PlayerStatus, bool) {
	for st, name := range playerStatusNames {
		if name == s {
			return st, true
		}
	}
	return StatusConnecting, false
}

// Vessel types
type VesselType int

const (
	VesselShip VesselType = iota
	VesselDebris
	VesselProbe
	VesselPlane
	VesselRover
	VesselBase
	VesselStation
	VesselEVA
	VesselSpaceObject
	VesselUnknown
)

var vesselTypeNames = map[VesselType]string{
	VesselShip:        "Ship",
	VesselDebris:      "Debris",
	VesselProbe:       "Probe",
	VesselPlane:       "Plane",
	VesselRover:       "Rover",
	VesselBase:        "Base",
	VesselStation:     "Station",
	VesselEVA:         "EVA",
	VesselSpaceObject: "SpaceObject",
	VesselUnknown:     "Unknown",
}

func (t VesselType) String() string {
	if s, ok := vesselTypeNames[t]; ok {
		return s
	}
	return "Unknown"
}

func ParseVesselType(s string) VesselType {
	for t, name := range vesselTypeNames {
		if name == s {
			return t
		}
	}
	return VesselUnknown
}

// MarshalJSON writes the type by name so wire and snapshot forms stay
// readable.
func (t VesselType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *VesselType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*t = ParseVesselType(s)
	return nil
}

// Color is an RGB player color.
type Color struct {
	R float64 `json:"r"`
	G float64 `json:"g"`
	B float64 `json:"b"`
}

// Vector3 is a position/velocity triple in body-relative coordinates.
type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Quaternion is a vessel rotation.
type Quaternion struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
	W float64 `json:"w"`
}

// Orbit is the 6-element conic record: semi-major axis, eccentricity,
// inclination, LAN, argument of periapsis, mean anomaly at epoch.
type Orbit [6]float64

// Player is a live participant keyed by session id.
type Player struct {
	SessionID        string       `json:"session_id"`
	UserID           string       `json:"user_id"`
	Username         string       `json:"username"`
	Color            Color        `json:"color"`
	Status           PlayerStatus `json:"-"`
	ControlledVessel string       `json:"controlled_vessel,omitempty"`
	SubspaceID       int          `json:"subspace_id"`
	WarpRate         float64      `json:"warp_rate"`
	LastActivity     time.Time    `json:"-"`
}

// Vessel is the authoritative record for one craft.
type Vessel struct {
	VesselID        string     `json:"vessel_id"`
	Owner           string     `json:"owner"` // session id of the creator
	Name            string     `json:"name"`
	Type            VesselType `json:"type"`
	Body            int        `json:"body"`
	Position        Vector3    `json:"position"`
	Rotation        Quaternion `json:"rotation"`
	Velocity        Vector3    `json:"velocity"`
	AngularVelocity Vector3    `json:"angular_velocity"`
	Orbit           Orbit      `json:"orbit"`
	LandedAt        string     `json:"landed_at,omitempty"`
	Parts           []byte     `json:"parts,omitempty"`
	ProtoData       []byte     `json:"proto_data,omitempty"`
	LastUpdate      int64      `json:"last_update"` // server timestamp ms
	CreatedAt       time.Time  `json:"-"`
}

// Kerbal is a crew member record.
type Kerbal struct {
	KerbalID   string    `json:"kerbal_id"`
	Name       string    `json:"name"`
	Type       string    `json:"type"`
	Status     string    `json:"status"`
	VesselID   string    `json:"vessel_id,omitempty"`
	Experience float64   `json:"experience"`
	Courage    float64   `json:"courage"`
	Stupidity  float64   `json:"stupidity"`
	UpdatedBy  string    `json:"updated_by"`
	UpdatedAt  time.Time `json:"-"`
}

// Group is a named set of players, persisted across matches.
type Group struct {
	Name    string   `json:"name"`
	Owner   string   `json:"owner"` // user id
	Members []string `json:"members"`
}

// ScenarioState holds the shared career counters plus opaque module
// blobs the server relays but never interprets.
type ScenarioState struct {
	Science    float64           `json:"science"`
	Funds      float64           `json:"funds"`
	Reputation float64           `json:"reputation"`
	Modules    map[string][]byte `json:"modules,omitempty"`
}

// ApplyDelta adds the share-progress deltas. The caller is the tick
// goroutine, so the three counters move together.
func (s *ScenarioState) ApplyDelta(science, funds, reputation float64) {
	s.Science += science
	s.Funds += funds
	s.Reputation += reputation
}

// Ban is a persisted join rejection keyed by user id.
type Ban struct {
	UserID    string    `json:"user_id"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// ModControl is the manifest of required/optional/forbidden client
// plugins plus allowed parts. The server publishes it; enforcement at
// join is a configured policy.
type ModControl struct {
	Required  []string `json:"required,omitempty"`
	Optional  []string `json:"optional,omitempty"`
	Forbidden []string `json:"forbidden,omitempty"`
	Parts     []string `json:"parts,omitempty"`
}
