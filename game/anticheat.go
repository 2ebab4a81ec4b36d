package game

import (
	"fmt"
	"math"
	"time"
)

// Anti-cheat thresholds for vessel deltas.
const (
	// Updates closer together than this are discarded.
	MinUpdateInterval = 20 * time.Millisecond

	// Base position jump allowed between consecutive updates, meters.
	// Scaled per body: low-gravity moons tolerate less, gas giants more.
	teleportBase = 2000.0
)

// bodyTeleportScale widens or narrows the teleport threshold for
// bodies where legitimate speeds differ a lot from the home world.
// Unlisted bodies use scale 1.
var bodyTeleportScale = map[int]float64{
	0: 5.0, // the sun: interplanetary transfer speeds
	4: 2.0,
	5: 3.0,
}

// TeleportThreshold returns the per-update position delta limit for a
// body.
func TeleportThreshold(body int) float64 {
	if s, ok := bodyTeleportScale[body]; ok {
		return teleportBase * s
	}
	return teleportBase
}

// VesselDelta is the physics payload of one update, as seen by the
// anti-cheat check.
type VesselDelta struct {
	Position        Vector3
	Rotation        Quaternion
	Velocity        Vector3
	AngularVelocity Vector3
}

// ValidateUpdate checks a delta against the current vessel record.
// It returns a non-empty reason when the update must be rejected; the
// caller logs it with the sender's name and drops the message without
// disconnecting anyone.
func ValidateUpdate(v *Vessel, d VesselDelta, now time.Time) string {
	if hasNaN(d) {
		return "non-finite position/rotation/velocity"
	}
	if v.LastUpdate > 0 {
		elapsed := now.Sub(time.UnixMilli(v.LastUpdate))
		if elapsed < MinUpdateInterval {
			return fmt.Sprintf("update interval %v below minimum", elapsed)
		}
	}
	if jump := dist(v.Position, d.Position); jump > TeleportThreshold(v.Body) {
		return fmt.Sprintf("position jump %.0fm exceeds threshold %.0fm", jump, TeleportThreshold(v.Body))
	}
	return ""
}

func hasNaN(d VesselDelta) bool {
	vals := []float64{
		d.Position.X, d.Position.Y, d.Position.Z,
		d.Rotation.X, d.Rotation.Y, d.Rotation.Z, d.Rotation.W,
		d.Velocity.X, d.Velocity.Y, d.Velocity.Z,
		d.AngularVelocity.X, d.AngularVelocity.Y, d.AngularVelocity.Z,
	}
	for _, f := range vals {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return true
		}
	}
	return false
}

func dist(a, b Vector3) float64 {
	dx, dy, dz := a.X-b.X, a.Y-b.Y, a.Z-b.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}
