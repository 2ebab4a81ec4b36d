package server

// Label is the public discovery summary for one match.
type Label struct {
	ServerName  string `json:"server_name"`
	Description string `json:"description,omitempty"`
	Mode        string `json:"mode"`
	Warp        string `json:"warp"`
	Password    bool   `json:"password"`
	Version     string `json:"version"`
	Region      string `json:"region"`
	Host        string `json:"host"`
	Port        int    `json:"port"`
	MaxPlayers  int    `json:"max_players"`
	Players     int    `json:"players"`
	Status      string `json:"status"`
}

// publishLabel recomputes the label from match state and pushes it to
// the registry. Called after every join, leave and warp-mode change.
func (m *Match) publishLabel() {
	status := "ok"
	if m.degraded {
		status = "degraded"
	}
	m.server.setLabel(m.id, Label{
		ServerName:  m.state.ServerName,
		Description: m.setup.Description,
		Mode:        m.state.Mode.String(),
		Warp:        m.state.Warp.Mode.String(),
		Password:    m.state.Password != "",
		Version:     ServerVersion,
		Region:      m.cfg.Region,
		Host:        m.cfg.PublicHost,
		Port:        m.cfg.PublicPort,
		MaxPlayers:  m.state.MaxPlayers,
		Players:     len(m.state.Players),
		Status:      status,
	})
}
