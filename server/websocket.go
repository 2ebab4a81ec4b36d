package server

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/orbitmp/matchserver/game"
	"github.com/orbitmp/matchserver/storage"
)

// isValidOrigin checks if the origin is allowed to connect.
func isValidOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		// No origin header - could be a non-browser client
		return true
	}
	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if r.Host == originURL.Host {
		return true
	}
	// Allow localhost connections for development
	return strings.HasPrefix(originURL.Host, "localhost:") ||
		strings.HasPrefix(originURL.Host, "127.0.0.1:") ||
		originURL.Host == "localhost" ||
		originURL.Host == "127.0.0.1"
}

var upgrader = websocket.Upgrader{
	CheckOrigin:       isValidOrigin,
	EnableCompression: true,
}

// MatchSetup is the create-match request.
type MatchSetup struct {
	ServerName  string `json:"server_name"`
	Description string `json:"description,omitempty"`
	Password    string `json:"password,omitempty"`
	Mode        string `json:"mode,omitempty"`
	MaxPlayers  int    `json:"max_players,omitempty"`
}

// Server owns the match registry and the shared storage adapter. The
// matches map is the only cross-match state besides storage.
type Server struct {
	cfg   *Config
	log   zerolog.Logger
	store *storage.Store

	mu      sync.RWMutex
	matches map[string]*Match
	labels  map[string]Label

	metrics *Metrics
}

// NewServer wires the hub. The storage adapter is shared by every
// match and must outlive them.
func NewServer(cfg *Config, store *storage.Store, log zerolog.Logger) *Server {
	return &Server{
		cfg:     cfg,
		log:     log,
		store:   store,
		matches: make(map[string]*Match),
		labels:  make(map[string]Label),
		metrics: NewMetrics(),
	}
}

// CreateMatch starts a new match goroutine and registers it.
func (s *Server) CreateMatch(setup MatchSetup) (*Match, error) {
	if setup.ServerName == "" {
		setup.ServerName = "Unnamed Server"
	}
	if setup.MaxPlayers <= 0 {
		setup.MaxPlayers = 20
	}
	m := newMatch(uuid.NewString(), setup, s)
	if err := m.init(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.matches[m.id] = m
	s.mu.Unlock()
	s.metrics.matches.Inc()

	go m.run()
	s.log.Info().Str("match", m.id).Str("name", setup.ServerName).Msg("match created")
	return m, nil
}

// getMatch looks up a live match.
func (s *Server) getMatch(id string) (*Match, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.matches[id]
	return m, ok
}

// removeMatch unregisters a terminated match.
func (s *Server) removeMatch(id string) {
	s.mu.Lock()
	delete(s.matches, id)
	delete(s.labels, id)
	s.mu.Unlock()
	s.metrics.matches.Dec()
}

// setLabel publishes a match's discovery label.
func (s *Server) setLabel(id string, l Label) {
	s.mu.Lock()
	s.labels[id] = l
	s.mu.Unlock()
}

// HandleWebSocket upgrades a connection and parks it until its
// handshake frame arrives.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	matchID := r.URL.Query().Get("match")
	if _, ok := s.getMatch(matchID); !ok {
		http.Error(w, "unknown match", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := newClient(conn, s)
	c.pendingMatch = matchID
	go c.writePump()
	go c.readPump()
}

// handleHandshake runs on the client's read goroutine: it validates the
// handshake frame and hands the client to the match tick goroutine,
// which performs the join attempt. Returns false when the connection
// must close now.
func (s *Server) handleHandshake(c *Client, payload []byte) bool {
	var req HandshakeRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		s.log.Debug().Err(err).Msg("malformed handshake")
		return false
	}
	if req.SessionID == "" || req.UserID == "" {
		s.log.Debug().Msg("handshake missing identity")
		return false
	}
	m, ok := s.getMatch(c.pendingMatch)
	if !ok {
		return false
	}
	c.sessionID = req.SessionID
	c.userID = req.UserID
	c.username = req.Username
	c.match = m
	m.enqueueJoin(c, req)
	return true
}

// HandleListMatches is the discovery RPC: GET with optional search,
// mode and warp filters.
func (s *Server) HandleListMatches(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	search := strings.ToLower(q.Get("search"))
	mode := q.Get("mode")
	warp := q.Get("warp")

	type entry struct {
		MatchID string `json:"match_id"`
		Label   Label  `json:"label"`
	}
	var out struct {
		Servers []entry `json:"servers"`
	}
	out.Servers = []entry{}

	s.mu.RLock()
	for id, l := range s.labels {
		if search != "" && !strings.Contains(strings.ToLower(l.ServerName), search) {
			continue
		}
		if mode != "" && l.Mode != mode {
			continue
		}
		if warp != "" && l.Warp != warp {
			continue
		}
		out.Servers = append(out.Servers, entry{MatchID: id, Label: l})
	}
	s.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

// HandleCreateMatch is the create-match RPC.
func (s *Server) HandleCreateMatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var setup MatchSetup
	if err := json.NewDecoder(r.Body).Decode(&setup); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	m, err := s.CreateMatch(setup)
	if err != nil {
		s.log.Error().Err(err).Msg("create match failed")
		http.Error(w, "create failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"match_id": m.id})
}

// Shutdown asks every match to terminate and waits for their loops to
// exit or the deadline to pass.
func (s *Server) Shutdown(timeout time.Duration) {
	s.mu.RLock()
	matches := make([]*Match, 0, len(s.matches))
	for _, m := range s.matches {
		matches = append(matches, m)
	}
	s.mu.RUnlock()

	for _, m := range matches {
		m.requestStop()
	}
	deadline := time.After(timeout)
	for _, m := range matches {
		select {
		case <-m.done:
		case <-deadline:
			return
		}
	}
}

// MetricsRegistry exposes the prometheus registry for the /metrics
// endpoint.
func (s *Server) MetricsRegistry() *prometheus.Registry {
	return s.metrics.Registry
}

// modControl loads the published manifest, empty when none configured.
func (s *Server) modControl() *game.ModControl {
	raw, err := s.store.Read(storage.CollectionConfiguration, "mod_control")
	if err != nil {
		return &game.ModControl{}
	}
	var mc game.ModControl
	if err := json.Unmarshal(raw, &mc); err != nil {
		s.log.Error().Err(err).Msg("bad mod_control manifest")
		return &game.ModControl{}
	}
	return &mc
}
