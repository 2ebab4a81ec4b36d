package game

import (
	"time"
)

// Subspace is a shared time origin for a group of players in subspace
// warp mode. A player's universe time is the subspace base plus the
// wall time elapsed since the subspace was created.
type Subspace struct {
	ID        int       `json:"id"`
	BaseTime  float64   `json:"base_time"` // universe seconds at creation
	CreatedAt time.Time `json:"-"`
}

// Time returns the subspace's universe time at the given wall clock.
func (s *Subspace) Time(now time.Time) float64 {
	return s.BaseTime + now.Sub(s.CreatedAt).Seconds()
}

// WarpState drives universe time for a match under the three warp
// modes. Owned by the tick goroutine.
type WarpState struct {
	Mode WarpMode

	// subspace mode
	Subspaces map[int]*Subspace
	nextID    int

	// mcu + admin modes share a single advancing clock
	universeTime float64
	AdminFactor  float64
}

// NewWarpState starts in subspace mode with a single subspace anchored
// at universe time zero.
func NewWarpState(now time.Time) *WarpState {
	w := &WarpState{
		Mode:        WarpSubspace,
		Subspaces:   make(map[int]*Subspace),
		AdminFactor: 1,
	}
	w.newSubspace(0, now)
	return w
}

func (w *WarpState) newSubspace(base float64, now time.Time) *Subspace {
	s := &Subspace{ID: w.nextID, BaseTime: base, CreatedAt: now}
	w.Subspaces[s.ID] = s
	w.nextID++
	return s
}

// Split creates a new subspace anchored at the given universe time and
// returns it.
func (w *WarpState) Split(base float64, now time.Time) *Subspace {
	return w.newSubspace(base, now)
}

// Get returns a subspace by id.
func (w *WarpState) Get(id int) (*Subspace, bool) {
	s, ok := w.Subspaces[id]
	return s, ok
}

// LatestSubspace returns the id of the most recently created subspace,
// the one new joiners land in.
func (w *WarpState) LatestSubspace() int {
	return w.nextID - 1
}

// Prune drops subspaces no player occupies, keeping the latest so
// joiners always have a home. occupied holds the subspace ids in use.
func (w *WarpState) Prune(occupied map[int]bool) {
	latest := w.LatestSubspace()
	for id := range w.Subspaces {
		if id != latest && !occupied[id] {
			delete(w.Subspaces, id)
		}
	}
}

// Advance moves the shared clock by one tick. rate is the effective
// warp rate: the minimum reported player rate in mcu mode, the admin
// factor in admin mode. Subspace mode derives time from wall clocks
// instead, so Advance is a no-op there.
func (w *WarpState) Advance(dt float64, minPlayerRate float64) {
	switch w.Mode {
	case WarpMCU:
		if minPlayerRate < 1 {
			minPlayerRate = 1
		}
		w.universeTime += dt * minPlayerRate
	case WarpAdmin:
		w.universeTime += dt * w.AdminFactor
	}
}

// UniverseTime is the match-wide clock: the latest subspace's time in
// subspace mode, the advancing clock otherwise.
func (w *WarpState) UniverseTime(now time.Time) float64 {
	if w.Mode == WarpSubspace {
		if s, ok := w.Subspaces[w.LatestSubspace()]; ok {
			return s.Time(now)
		}
	}
	return w.universeTime
}

// SetUniverseTime re-anchors the clock, used when restoring a saved
// match. In subspace mode the initial subspace is re-based.
func (w *WarpState) SetUniverseTime(t float64, now time.Time) {
	w.universeTime = t
	if s, ok := w.Subspaces[w.LatestSubspace()]; ok {
		s.BaseTime = t
		s.CreatedAt = now
	}
}

// SetMode switches warp mode, anchoring the shared clock at the current
// universe time so the transition is continuous.
func (w *WarpState) SetMode(mode WarpMode, now time.Time) {
	t := w.UniverseTime(now)
	w.Mode = mode
	w.universeTime = t
	if mode == WarpSubspace {
		// Fresh anchor so wall-clock-derived time continues from t.
		w.newSubspace(t, now)
	}
}

// MinPlayerRate computes the mcu rate: the smallest warp rate any
// present player reports, never below 1.
func MinPlayerRate(players map[string]*Player) float64 {
	min := 1.0
	first := true
	for _, p := range players {
		r := p.WarpRate
		if r < 1 {
			r = 1
		}
		if first || r < min {
			min = r
			first = false
		}
	}
	return min
}
