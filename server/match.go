package server

import (
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"

	"github.com/orbitmp/matchserver/game"
	"github.com/orbitmp/matchserver/storage"
)

// inbox event kinds
type inboundKind int

const (
	joinKind inboundKind = iota
	leaveKind
	frameKind
)

type inbound struct {
	kind    inboundKind
	c       *Client
	req     HandshakeRequest
	op      uint16
	payload []byte
}

const inboxDepth = 1024

// Match is one isolated game world. A single goroutine runs its tick
// loop; every read and write of match state happens there. The
// transport enqueues joins, leaves and frames into the inbox and the
// loop drains it once per tick.
type Match struct {
	id     string
	setup  MatchSetup
	server *Server
	cfg    *Config
	store  *storage.Store
	log    zerolog.Logger

	state    *game.State
	dispatch *Dispatcher
	clients  map[string]*Client
	assets   *assetBroker
	metrics  *Metrics

	inbox chan inbound
	stop  chan struct{}
	done  chan struct{}

	modControl *game.ModControl

	tickRate   int
	overruns   int
	degraded   bool
	saveDirty  bool
	lastSave   time.Time
	everJoined bool

	// Clock, swappable in tests.
	now func() time.Time
}

func newMatch(id string, setup MatchSetup, s *Server) *Match {
	m := &Match{
		id:       id,
		setup:    setup,
		server:   s,
		cfg:      s.cfg,
		store:    s.store,
		log:      s.log.With().Str("match", id).Logger(),
		clients:  make(map[string]*Client),
		metrics:  s.metrics,
		inbox:    make(chan inbound, inboxDepth),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		tickRate: game.DefaultTickRate,
		now:      time.Now,
	}
	m.dispatch = newDispatcher(m)
	return m
}

// init builds match state, restores any saved world and publishes the
// first discovery label.
func (m *Match) init() error {
	now := m.now()
	m.state = game.NewState(
		m.setup.ServerName,
		m.setup.Password,
		game.ParseGameMode(m.setup.Mode),
		m.setup.MaxPlayers,
		now,
	)
	m.modControl = m.server.modControl()
	m.assets = newAssetBroker(m)
	if err := m.loadSnapshot(now); err != nil {
		// A missing save is a fresh world; anything else is logged and
		// the match starts clean.
		if err != storage.ErrNotFound {
			m.log.Error().Err(err).Msg("snapshot restore failed, starting fresh")
		}
	}
	m.lastSave = now
	m.publishLabel()
	return nil
}

// enqueueJoin hands a handshaken client to the tick goroutine.
func (m *Match) enqueueJoin(c *Client, req HandshakeRequest) {
	select {
	case m.inbox <- inbound{kind: joinKind, c: c, req: req}:
	default:
		m.log.Warn().Msg("inbox full, dropping join")
		c.kick("server busy")
	}
}

// enqueueLeave reports a dead connection.
func (m *Match) enqueueLeave(c *Client) {
	select {
	case m.inbox <- inbound{kind: leaveKind, c: c}:
	case <-m.done:
	}
}

// enqueueFrame buffers one inbound message for the next tick.
func (m *Match) enqueueFrame(c *Client, op uint16, payload []byte) {
	select {
	case m.inbox <- inbound{kind: frameKind, c: c, op: op, payload: payload}:
	default:
		m.metrics.droppedInbound.Inc()
		m.log.Warn().Str("session", c.sessionID).Uint16("op", op).Msg("inbox full, dropping frame")
	}
}

func (m *Match) requestStop() {
	select {
	case <-m.stop:
	default:
		close(m.stop)
	}
}

// run drives the tick loop until the match terminates.
func (m *Match) run() {
	defer close(m.done)

	ticker := time.NewTicker(time.Second / time.Duration(m.tickRate))
	defer ticker.Stop()

	// Background tombstone sweep; the set throttles itself.
	sweepDone := make(chan struct{})
	defer close(sweepDone)
	go func() {
		t := time.NewTicker(game.TombstoneSweepEvery)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				m.state.Tombstones.Sweep(time.Now())
			case <-sweepDone:
				return
			}
		}
	}()

	for {
		select {
		case <-m.stop:
			m.terminate(0)
			return
		case <-ticker.C:
			if terminal := m.tick(m.now()); terminal {
				m.terminate(0)
				return
			}
		}
	}
}

// tick is one loop iteration: drain the inbox, run periodic work,
// advance time, autosave. Returns true when the match must tear down.
func (m *Match) tick(now time.Time) bool {
	start := time.Now()
	panicked := false

	// Drain everything the transport buffered since last tick, FIFO.
	for {
		select {
		case ev := <-m.inbox:
			switch ev.kind {
			case joinKind:
				m.processJoin(ev.c, ev.req, now)
			case leaveKind:
				m.processLeave(ev.c, now)
			case frameKind:
				if !m.safeRoute(ev.c, ev.op, ev.payload, now) {
					panicked = true
				}
			}
		default:
			goto drained
		}
	}
drained:

	m.state.TickCount++
	m.state.Warp.Advance(1/float64(m.tickRate), game.MinPlayerRate(m.state.Players))
	m.state.Tombstones.Sweep(now)

	if m.state.TickCount%game.TimeSyncInterval == 0 {
		m.broadcastTimeSync(now)
		m.reapIdle(now)
	}

	m.maybeSave(now)

	elapsed := time.Since(start)
	m.metrics.tickDuration.Observe(elapsed.Seconds())
	m.trackTickHealth(elapsed, panicked)

	return m.shouldTerminate(now)
}

// safeRoute dispatches one frame with panic containment: the offending
// message is dropped and the tick continues. Returns false on panic.
func (m *Match) safeRoute(c *Client, op uint16, payload []byte, now time.Time) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			m.log.Error().
				Str("session", c.sessionID).
				Uint16("op", op).
				Str("panic", fmt.Sprint(r)).
				Bytes("stack", debug.Stack()).
				Msg("handler panic, message dropped")
		}
	}()
	m.route(c, op, payload, now)
	return true
}

// trackTickHealth flags the label degraded after three consecutive bad
// ticks (overrun past 2x the period, or a handler panic) and clears it
// on the first healthy one.
func (m *Match) trackTickHealth(elapsed time.Duration, panicked bool) {
	period := time.Second / time.Duration(m.tickRate)
	if panicked || elapsed > 2*period {
		m.overruns++
		if m.overruns == 3 {
			m.degraded = true
			m.log.Warn().Dur("elapsed", elapsed).Msg("three consecutive bad ticks, match degraded")
			m.publishLabel()
		}
		return
	}
	if m.overruns > 0 {
		m.overruns = 0
		if m.degraded {
			m.degraded = false
			m.publishLabel()
		}
	}
}

// processJoin runs the join attempt and, on success, installs the
// player and sends the world snapshot.
func (m *Match) processJoin(c *Client, req HandshakeRequest, now time.Time) {
	if reason := m.joinAttempt(req); reason != "" {
		m.log.Info().Str("user", req.UserID).Str("reason", reason).Msg("join rejected")
		m.dispatchReject(c, reason)
		return
	}

	player := &game.Player{
		SessionID: req.SessionID,
		UserID:    req.UserID,
		Username:  req.Username,
		Status:    game.StatusConnecting,
		WarpRate:  1,
	}
	m.state.AddPlayer(player, now)
	if m.isPersistedAdmin(req.UserID) {
		m.state.Admins[req.SessionID] = true
	}
	m.clients[req.SessionID] = c
	m.everJoined = true
	m.metrics.players.Inc()

	// Snapshot order: server info, players, vessels, kerbals, locks.
	reply := HandshakeReply{
		OK:         true,
		ServerInfo: m.serverInfo(now),
		Players:    m.playerInfos(),
		Vessels:    m.state.VesselList(),
		Kerbals:    m.state.KerbalList(),
		Locks:      lockInfos(m.state.Locks.List()),
		ModControl: m.modControl,
	}
	m.dispatch.Unicast(OpHandshake, reply, req.SessionID)
	m.dispatch.BroadcastExcept(OpPlayerStatus, PlayerStatusMsg{
		SessionID: req.SessionID,
		Username:  req.Username,
		Status:    "connected",
	}, req.SessionID)
	m.publishLabel()
	m.log.Info().Str("session", req.SessionID).Str("user", req.UserID).Str("name", req.Username).Msg("player joined")
}

// joinAttempt returns a rejection reason, or "" to admit.
func (m *Match) joinAttempt(req HandshakeRequest) string {
	if _, dup := m.state.Players[req.SessionID]; dup {
		return "session already connected"
	}
	if len(m.state.Players) >= m.state.MaxPlayers {
		return "server full"
	}
	if m.state.Password != "" && req.Password != m.state.Password {
		return "invalid password"
	}
	if banned, reason := m.isBanned(req.UserID); banned {
		return "banned: " + reason
	}
	if missing := m.missingMods(req.ModList); len(missing) > 0 {
		if m.cfg.ModControlPolicy == ModPolicyReject {
			return fmt.Sprintf("missing required mods: %v", missing)
		}
		m.log.Info().Str("user", req.UserID).Strs("missing", missing).Msg("mod-control mismatch (log-only policy)")
	}
	return ""
}

// missingMods diffs the client's mod list against the manifest.
func (m *Match) missingMods(mods []string) []string {
	if m.modControl == nil || len(m.modControl.Required) == 0 {
		return nil
	}
	have := make(map[string]bool, len(mods))
	for _, mod := range mods {
		have[mod] = true
	}
	var missing []string
	for _, req := range m.modControl.Required {
		if !have[req] {
			missing = append(missing, req)
		}
	}
	return missing
}

func (m *Match) dispatchReject(c *Client, reason string) {
	// The client is not in the clients map yet; enqueue directly.
	frame := m.dispatch.marshal(OpHandshake, HandshakeReply{Reason: reason})
	if frame != nil {
		c.enqueue(frame)
	}
	c.kick(reason)
}

// processLeave releases the session's locks (each with a broadcast),
// removes the player and announces the departure.
func (m *Match) processLeave(c *Client, now time.Time) {
	cur, ok := m.clients[c.sessionID]
	if !ok || cur != c {
		// Rejected handshake or stale reconnect; nothing to clean up.
		return
	}
	delete(m.clients, c.sessionID)

	released := m.state.RemovePlayer(c.sessionID, now)
	for _, l := range released {
		m.dispatch.Broadcast(OpLock, lockBroadcast(LockActionReleased, l))
	}
	m.state.ChatLimits.Forget(c.userID)
	m.metrics.players.Dec()

	m.dispatch.Broadcast(OpPlayerStatus, PlayerStatusMsg{
		SessionID: c.sessionID,
		Username:  c.username,
		Status:    "disconnected",
	})
	m.publishLabel()
	m.log.Info().Str("session", c.sessionID).Msg("player left")
}

// broadcastTimeSync emits the once-per-second SETTINGS frame.
func (m *Match) broadcastTimeSync(now time.Time) {
	w := m.state.Warp
	msg := SettingsMsg{
		UniverseTime:  w.UniverseTime(now),
		WarpMode:      w.Mode.String(),
		ServerClockMS: now.UnixMilli(),
		Degraded:      m.degraded,
	}
	if w.Mode == game.WarpAdmin {
		msg.AdminFactor = w.AdminFactor
	}
	if w.Mode == game.WarpSubspace {
		occupied := make(map[int]bool)
		for _, p := range m.state.Players {
			occupied[p.SubspaceID] = true
		}
		w.Prune(occupied)
		for _, s := range w.Subspaces {
			msg.Subspaces = append(msg.Subspaces, s)
		}
	}
	m.dispatch.Broadcast(OpSettings, msg)
}

// reapIdle kicks players idle past the limit.
func (m *Match) reapIdle(now time.Time) {
	for _, session := range m.state.IdlePlayers(now) {
		if p, ok := m.state.Players[session]; ok {
			p.Status = game.StatusIdle
		}
		m.dispatch.Advise(session, "Kicked for inactivity")
		m.dispatch.Kick(session, "idle")
	}
}

// maybeSave persists the snapshot at the configured interval, and
// retries on the next boundary after a failure.
func (m *Match) maybeSave(now time.Time) {
	if !m.saveDirty && now.Sub(m.lastSave) < m.cfg.SaveInterval {
		return
	}
	if err := m.saveSnapshot(now); err != nil {
		m.metrics.storageErrors.Inc()
		m.log.Error().Err(err).Msg("match save failed, will retry")
		m.saveDirty = true
		return
	}
	m.saveDirty = false
	m.lastSave = now
}

// shouldTerminate applies the empty-match grace.
func (m *Match) shouldTerminate(now time.Time) bool {
	if len(m.state.Players) > 0 {
		return false
	}
	if m.cfg.MaxEmptySec == 0 {
		// Zero grace: tear down the moment the last player leaves. A
		// match nobody has joined yet stays up waiting for its first.
		return m.everJoined
	}
	grace := time.Duration(m.cfg.MaxEmptySec) * time.Second
	return !m.state.EmptySince.IsZero() && now.Sub(m.state.EmptySince) > grace
}

// terminate persists the final snapshot best-effort, notifies everyone
// and unregisters the match.
func (m *Match) terminate(grace time.Duration) {
	now := m.now()
	m.assets.stop()
	if err := m.saveSnapshot(now); err != nil {
		m.metrics.storageErrors.Inc()
		m.log.Error().Err(err).Msg("final save failed")
	}
	m.dispatch.Broadcast(OpChat, ChatMsg{Message: "Server shutting down", From: "Server"})
	for _, c := range m.clients {
		c.kick("shutdown")
	}
	m.server.removeMatch(m.id)
	m.log.Info().Int64("ticks", m.state.TickCount).Msg("match terminated")
	_ = grace
}

// serverInfo builds the handshake header block.
func (m *Match) serverInfo(now time.Time) *ServerInfo {
	return &ServerInfo{
		ServerName:   m.state.ServerName,
		Mode:         m.state.Mode.String(),
		WarpMode:     m.state.Warp.Mode.String(),
		MaxPlayers:   m.state.MaxPlayers,
		TickRate:     m.tickRate,
		UniverseTime: m.state.Warp.UniverseTime(now),
		Version:      ServerVersion,
	}
}

func (m *Match) playerInfos() []PlayerInfo {
	players := m.state.PlayerList()
	out := make([]PlayerInfo, 0, len(players))
	for _, p := range players {
		out = append(out, PlayerInfo{
			SessionID:        p.SessionID,
			UserID:           p.UserID,
			Username:         p.Username,
			Color:            p.Color,
			Status:           p.Status.String(),
			ControlledVessel: p.ControlledVessel,
			SubspaceID:       p.SubspaceID,
			WarpRate:         p.WarpRate,
		})
	}
	return out
}

func lockInfos(locks []game.Lock) []LockInfo {
	out := make([]LockInfo, 0, len(locks))
	for _, l := range locks {
		out = append(out, LockInfo{
			LockType:   l.Key.Type.String(),
			VesselID:   l.Key.VesselID,
			KerbalName: l.Key.KerbalName,
			Owner:      l.Owner,
		})
	}
	return out
}

func lockBroadcast(action string, l game.Lock) LockMsg {
	return LockMsg{
		Action:     action,
		LockType:   l.Key.Type.String(),
		VesselID:   l.Key.VesselID,
		KerbalName: l.Key.KerbalName,
		Owner:      l.Owner,
	}
}
