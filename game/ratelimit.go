package game

import (
	"time"

	"golang.org/x/time/rate"
)

// RateSpec describes one token bucket: sustained rate plus burst.
type RateSpec struct {
	Limit rate.Limit
	Burst int
}

// Per-operation rate limits.
var (
	// One chat line per second per player.
	ChatRate = RateSpec{Limit: rate.Every(time.Second), Burst: 1}
	// Five full proto publishes per user per minute.
	VesselProtoRate = RateSpec{Limit: rate.Every(12 * time.Second), Burst: 5}
	// Fifty deltas per second per vessel.
	VesselUpdateRate = RateSpec{Limit: rate.Limit(50), Burst: 50}
	// One craft operation per user per five seconds.
	CraftRate = RateSpec{Limit: rate.Every(5 * time.Second), Burst: 1}
	// One screenshot operation per user per fifteen seconds.
	ScreenshotRate = RateSpec{Limit: rate.Every(15 * time.Second), Burst: 1}
)

// LimiterTable holds one token bucket per key (user id or vessel id).
// It lives inside match state and is only touched by the tick
// goroutine, so there is no locking. The clock is always passed in,
// which keeps limiter behavior reproducible in tests.
type LimiterTable struct {
	spec     RateSpec
	limiters map[string]*rate.Limiter
}

func NewLimiterTable(spec RateSpec) *LimiterTable {
	return &LimiterTable{
		spec:     spec,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Allow consumes one token for the key at the given instant.
func (t *LimiterTable) Allow(key string, now time.Time) bool {
	l, ok := t.limiters[key]
	if !ok {
		l = rate.NewLimiter(t.spec.Limit, t.spec.Burst)
		t.limiters[key] = l
	}
	return l.AllowN(now, 1)
}

// Forget drops a key's bucket, used when the player leaves or the
// vessel is removed.
func (t *LimiterTable) Forget(key string) {
	delete(t.limiters, key)
}
