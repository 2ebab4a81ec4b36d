package server

import (
	"encoding/binary"
	"errors"

	"github.com/orbitmp/matchserver/game"
)

// Opcodes. Each wire message is a websocket binary frame: a two-byte
// big-endian opcode followed by the payload, UTF-8 JSON unless noted
// opaque.
const (
	OpHandshake    uint16 = 1
	OpChat         uint16 = 2
	OpPlayerStatus uint16 = 3
	OpPlayerColor  uint16 = 4

	OpVessel       uint16 = 10
	OpVesselProto  uint16 = 11
	OpVesselUpdate uint16 = 12
	OpVesselRemove uint16 = 13

	OpKerbal uint16 = 20

	OpAdminCommand uint16 = 27

	OpSettings uint16 = 30

	OpWarp uint16 = 40

	OpLock uint16 = 50

	OpScenario uint16 = 60

	OpShareProgress uint16 = 70

	OpGroupCreate uint16 = 80
	OpGroupRemove uint16 = 81
	OpGroupUpdate uint16 = 82
	OpGroupList   uint16 = 83

	OpCraftUpload           uint16 = 90
	OpCraftDownloadRequest  uint16 = 91
	OpCraftDownloadResponse uint16 = 92
	OpCraftListFolders      uint16 = 93
	OpCraftListItems        uint16 = 94
	OpCraftDelete           uint16 = 95
	OpCraftNotify           uint16 = 96

	OpScreenshotUpload           uint16 = 100
	OpScreenshotDownloadRequest  uint16 = 101
	OpScreenshotDownloadResponse uint16 = 102
	OpScreenshotListFolders      uint16 = 103
	OpScreenshotListItems        uint16 = 104
	OpScreenshotNotify           uint16 = 105

	OpFlagUpload uint16 = 110
	OpFlagList   uint16 = 111
	OpFlagDelete uint16 = 112
)

// frameHeader is the opcode prefix length.
const frameHeader = 2

var errShortFrame = errors.New("frame shorter than opcode header")

// EncodeFrame prepends the opcode to the payload.
func EncodeFrame(op uint16, payload []byte) []byte {
	buf := make([]byte, frameHeader+len(payload))
	binary.BigEndian.PutUint16(buf[:frameHeader], op)
	copy(buf[frameHeader:], payload)
	return buf
}

// DecodeFrame splits a wire message into opcode and payload. The
// payload aliases the input.
func DecodeFrame(data []byte) (uint16, []byte, error) {
	if len(data) < frameHeader {
		return 0, nil, errShortFrame
	}
	return binary.BigEndian.Uint16(data[:frameHeader]), data[frameHeader:], nil
}

// HandshakeRequest is the first frame a client must send. The session
// and user ids arrive already verified by the platform layer.
type HandshakeRequest struct {
	SessionID string   `json:"session_id"`
	UserID    string   `json:"user_id"`
	Username  string   `json:"username"`
	Password  string   `json:"password,omitempty"`
	ModList   []string `json:"mod_list,omitempty"`
}

// ServerInfo heads the handshake reply.
type ServerInfo struct {
	ServerName   string  `json:"server_name"`
	Mode         string  `json:"mode"`
	WarpMode     string  `json:"warp"`
	MaxPlayers   int     `json:"max_players"`
	TickRate     int     `json:"tick_rate"`
	UniverseTime float64 `json:"universe_time"`
	Version      string  `json:"version"`
}

// PlayerInfo is the wire form of a player record.
type PlayerInfo struct {
	SessionID        string     `json:"session_id"`
	UserID           string     `json:"user_id"`
	Username         string     `json:"username"`
	Color            game.Color `json:"color"`
	Status           string     `json:"status"`
	ControlledVessel string     `json:"controlled_vessel,omitempty"`
	SubspaceID       int        `json:"subspace_id"`
	WarpRate         float64    `json:"warp_rate"`
}

// LockInfo is the wire form of one held lock.
type LockInfo struct {
	LockType   string `json:"lock_type"`
	VesselID   string `json:"vessel_id,omitempty"`
	KerbalName string `json:"kerbal_name,omitempty"`
	Owner      string `json:"owner"`
}

// HandshakeReply is the server snapshot sent on join, or a structured
// rejection. Field order follows the snapshot order the client replays:
// server info, players, vessels, kerbals, locks.
type HandshakeReply struct {
	OK         bool             `json:"ok"`
	Reason     string           `json:"reason,omitempty"`
	ServerInfo *ServerInfo      `json:"server_info,omitempty"`
	Players    []PlayerInfo     `json:"players,omitempty"`
	Vessels    []*game.Vessel   `json:"vessels,omitempty"`
	Kerbals    []*game.Kerbal   `json:"kerbals,omitempty"`
	Locks      []LockInfo       `json:"locks,omitempty"`
	ModControl *game.ModControl `json:"mod_control,omitempty"`
}

// ChatMsg carries chat both ways; From is server-filled.
type ChatMsg struct {
	Message string `json:"message"`
	Channel string `json:"channel,omitempty"`
	From    string `json:"from,omitempty"`
}

// PlayerStatusMsg mutates or announces a player's status.
type PlayerStatusMsg struct {
	SessionID string `json:"session_id,omitempty"` // server-filled
	Username  string `json:"username,omitempty"`   // server-filled
	Status    string `json:"status"`
	VesselID  string `json:"vessel_id,omitempty"`
	Body      int    `json:"body,omitempty"`
}

// PlayerColorMsg mutates a player's color.
type PlayerColorMsg struct {
	SessionID string  `json:"session_id,omitempty"` // server-filled
	R         float64 `json:"r"`
	G         float64 `json:"g"`
	B         float64 `json:"b"`
}

// VesselProtoMsg publishes a full vessel.
type VesselProtoMsg struct {
	VesselID  string          `json:"vessel_id"`
	Name      string          `json:"name"`
	Type      string          `json:"type"`
	Body      int             `json:"body"`
	Position  game.Vector3    `json:"position"`
	Rotation  game.Quaternion `json:"rotation"`
	LandedAt  string          `json:"landed_at,omitempty"`
	Parts     []byte          `json:"parts,omitempty"`      // opaque
	ProtoData []byte          `json:"proto_data,omitempty"` // opaque
}

// VesselUpdateMsg is a physics delta for a vessel the sender holds the
// Update lock on.
type VesselUpdateMsg struct {
	VesselID        string          `json:"vessel_id"`
	Position        game.Vector3    `json:"position"`
	Rotation        game.Quaternion `json:"rotation"`
	Velocity        game.Vector3    `json:"velocity"`
	AngularVelocity game.Vector3    `json:"angular_velocity"`
	Orbit           game.Orbit      `json:"orbit"`
	LandedAt        string          `json:"landed_at,omitempty"`
}

// VesselRemoveMsg deletes a vessel.
type VesselRemoveMsg struct {
	VesselID string `json:"vessel_id"`
}

// AdminCommand names for OpAdminCommand.
const (
	AdminDekessler   = "DEKESSLER"
	AdminNuke        = "NUKE"
	AdminKick        = "KICK"
	AdminBan         = "BAN"
	AdminGrantAdmin  = "GRANT_ADMIN"
	AdminRevokeAdmin = "REVOKE_ADMIN"
	AdminSetWarpMode = "SET_WARP_MODE"
	AdminAnnounce    = "ANNOUNCE"
)

// AdminCommandMsg is a privileged command from an admin session.
type AdminCommandMsg struct {
	Command string `json:"command"`
	Target  string `json:"target,omitempty"`  // session id for KICK/GRANT/REVOKE, user id for BAN
	Reason  string `json:"reason,omitempty"`  // KICK/BAN
	Mode    string `json:"mode,omitempty"`    // SET_WARP_MODE
	Message string `json:"message,omitempty"` // ANNOUNCE
}

// SettingsMsg is the server->client settings / time-sync broadcast.
type SettingsMsg struct {
	UniverseTime  float64          `json:"universe_time"`
	WarpMode      string           `json:"warp"`
	AdminFactor   float64          `json:"admin_warp_factor,omitempty"`
	Subspaces     []*game.Subspace `json:"subspaces,omitempty"`
	ServerClockMS int64            `json:"server_clock_ms"`
	Degraded      bool             `json:"degraded,omitempty"`
}

// WarpMsg is mode-dependent: a rate report in mcu mode, a subspace
// split/merge request in subspace mode, a factor change request in
// admin mode. Mode itself may only be set through the admin plane.
type WarpMsg struct {
	Mode       string   `json:"mode,omitempty"` // server->client on transitions
	Rate       *float64 `json:"rate,omitempty"`
	SubspaceID *int     `json:"subspace_id,omitempty"` // merge target
	Split      bool     `json:"split,omitempty"`       // request a new subspace
}

// Lock actions on the wire.
const (
	LockActionAcquire  = "acquire"
	LockActionRelease  = "release"
	LockActionGranted  = "granted"
	LockActionDenied   = "denied"
	LockActionReleased = "released"
)

// LockMsg carries lock requests and their broadcast outcomes.
type LockMsg struct {
	Action     string `json:"action"`
	LockType   string `json:"lock_type"`
	VesselID   string `json:"vessel_id,omitempty"`
	KerbalName string `json:"kerbal_name,omitempty"`
	Owner      string `json:"owner,omitempty"`
	Force      bool   `json:"force,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// ScenarioMsg wraps one opaque scenario module blob. The server stores
// and relays Data without interpreting it.
type ScenarioMsg struct {
	Module string `json:"module"`
	Data   []byte `json:"data"` // opaque
}

// ShareProgressMsg carries additive career deltas; the broadcast reply
// carries the absolute totals.
type ShareProgressMsg struct {
	ScienceDelta    float64 `json:"science_delta,omitempty"`
	FundsDelta      float64 `json:"funds_delta,omitempty"`
	ReputationDelta float64 `json:"reputation_delta,omitempty"`

	// Server-filled absolutes on broadcast.
	Science    *float64 `json:"science,omitempty"`
	Funds      *float64 `json:"funds,omitempty"`
	Reputation *float64 `json:"reputation,omitempty"`
}

// Group messages.
type GroupCreateMsg struct {
	Name string `json:"name"`
}

type GroupRemoveMsg struct {
	Name string `json:"name"`
}

type GroupUpdateMsg struct {
	Name    string   `json:"name"`
	Members []string `json:"members"`
}

type GroupListMsg struct {
	Groups []*game.Group `json:"groups"`
}

// AssetInfo describes one stored craft/screenshot/flag.
type AssetInfo struct {
	Folder     string `json:"folder"`
	Name       string `json:"name"`
	Type       string `json:"type,omitempty"` // craft subfolder (VAB/SPH/...)
	NumBytes   int64  `json:"num_bytes"`
	UploadedAt int64  `json:"uploaded_at"` // unix ms
	Digest     string `json:"digest,omitempty"`
}

// Craft messages. Data is the base64 craft file.
type CraftUploadMsg struct {
	Folder string `json:"folder,omitempty"` // server-filled: uploader's name
	Type   string `json:"type"`
	Name   string `json:"name"`
	Data   []byte `json:"data"`
}

type CraftDownloadRequestMsg struct {
	Folder string `json:"folder"`
	Type   string `json:"type"`
	Name   string `json:"name"`
}

type CraftDownloadResponseMsg struct {
	Folder string `json:"folder"`
	Type   string `json:"type"`
	Name   string `json:"name"`
	Data   []byte `json:"data,omitempty"`
	Found  bool   `json:"found"`
}

type CraftListFoldersMsg struct {
	Folders []string `json:"folders"`
}

type CraftListItemsMsg struct {
	Folder string      `json:"folder"`
	Items  []AssetInfo `json:"items,omitempty"`
}

type CraftDeleteMsg struct {
	Folder string `json:"folder"`
	Type   string `json:"type"`
	Name   string `json:"name"`
}

// AssetNotifyMsg announces an upload or delete so clients refresh.
type AssetNotifyMsg struct {
	Folder  string `json:"folder"`
	Name    string `json:"name"`
	Type    string `json:"type,omitempty"`
	Digest  string `json:"digest,omitempty"`
	Deleted bool   `json:"deleted,omitempty"`
}

// Screenshot messages. Thumbnail rides along on upload and in listings.
type ScreenshotUploadMsg struct {
	Folder    string `json:"folder,omitempty"` // server-filled
	DateTaken int64  `json:"date_taken"`
	Data      []byte `json:"data"`
	Thumbnail []byte `json:"thumbnail,omitempty"`
}

type ScreenshotDownloadRequestMsg struct {
	Folder    string `json:"folder"`
	DateTaken int64  `json:"date_taken"`
}

type ScreenshotDownloadResponseMsg struct {
	Folder    string `json:"folder"`
	DateTaken int64  `json:"date_taken"`
	Data      []byte `json:"data,omitempty"`
	Found     bool   `json:"found"`
}

type ScreenshotListFoldersMsg struct {
	Folders []string `json:"folders"`
}

type ScreenshotListItemsMsg struct {
	Folder string      `json:"folder"`
	Items  []AssetInfo `json:"items,omitempty"`
}

// Flag messages.
type FlagUploadMsg struct {
	Folder string `json:"folder,omitempty"` // server-filled
	Name   string `json:"name"`
	Data   []byte `json:"data"`
}

type FlagListMsg struct {
	Flags []AssetInfo `json:"flags,omitempty"`
}

type FlagDeleteMsg struct {
	Folder string `json:"folder"`
	Name   string `json:"name"`
}
