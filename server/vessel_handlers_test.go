package server

import (
	"testing"
	"time"

	"github.com/orbitmp/matchserver/game"
)

func protoMsg(id, name string) VesselProtoMsg {
	return VesselProtoMsg{VesselID: id, Name: name, Type: "Ship", Body: 1}
}

func TestVesselProtoCreatesAndGrantsControl(t *testing.T) {
	s := newTestServer(t)
	m := newTestMatch(t, s, MatchSetup{})
	a := joinPlayer(t, m, "s1", "u1", "Alice")
	b := joinPlayer(t, m, "s2", "u2", "Bob")
	drainClient(b)

	send(t, m, a, OpVesselProto, protoMsg("V1", "Explorer"))

	v, ok := m.state.Vessels["V1"]
	if !ok {
		t.Fatal("vessel not created")
	}
	if v.Owner != "s1" || v.Name != "Explorer" || v.Type != game.VesselShip {
		t.Fatalf("vessel = %+v", v)
	}
	l, held := m.state.Locks.Get(game.LockKey{Type: game.LockControl, VesselID: "V1"})
	if !held || l.Owner != "s1" {
		t.Fatal("creator must receive the Control lock")
	}

	frames := drainClient(b)
	if len(framesOf(frames, OpVesselProto)) != 1 {
		t.Fatal("proto must be broadcast")
	}
	locks := decodeLockFrames(t, frames)
	if len(locks) != 1 || locks[0].Action != LockActionGranted || locks[0].LockType != "Control" {
		t.Fatalf("lock broadcast = %+v", locks)
	}
	if !m.saveDirty {
		t.Fatal("a new vessel must mark the world dirty")
	}
}

func TestVesselProtoRepublishKeepsExistingLocks(t *testing.T) {
	s := newTestServer(t)
	m := newTestMatch(t, s, MatchSetup{})
	a := joinPlayer(t, m, "s1", "u1", "Alice")
	b := joinPlayer(t, m, "s2", "u2", "Bob")
	send(t, m, a, OpVesselProto, protoMsg("V1", "Explorer"))
	drainClient(b)

	// A republish by another player updates the record but must not
	// reassign Control.
	send(t, m, b, OpVesselProto, protoMsg("V1", "Explorer II"))

	if m.state.Vessels["V1"].Name != "Explorer II" {
		t.Fatal("republish must update the record")
	}
	l, _ := m.state.Locks.Get(game.LockKey{Type: game.LockControl, VesselID: "V1"})
	if l.Owner != "s1" {
		t.Fatalf("Control moved to %q on republish", l.Owner)
	}
}

func TestVesselProtoRateLimited(t *testing.T) {
	s := newTestServer(t)
	m := newTestMatch(t, s, MatchSetup{})
	a := joinPlayer(t, m, "s1", "u1", "Alice")

	for i := 0; i < 5; i++ {
		send(t, m, a, OpVesselProto, protoMsg("V"+string(rune('0'+i)), "Craft"))
	}
	if len(m.state.Vessels) != 5 {
		t.Fatalf("got %d vessels, want 5", len(m.state.Vessels))
	}
	send(t, m, a, OpVesselProto, protoMsg("V9", "One too many"))
	if _, ok := m.state.Vessels["V9"]; ok {
		t.Fatal("sixth proto within the window must be limited")
	}
	sendAt(t, m, a, OpVesselProto, protoMsg("V9", "After refill"), baseTime.Add(12*time.Second))
	if _, ok := m.state.Vessels["V9"]; !ok {
		t.Fatal("proto after refill must pass")
	}
}

func TestVesselUpdateRequiresUpdateLock(t *testing.T) {
	s := newTestServer(t)
	m := newTestMatch(t, s, MatchSetup{})
	a := joinPlayer(t, m, "s1", "u1", "Alice")
	b := joinPlayer(t, m, "s2", "u2", "Bob")
	send(t, m, a, OpVesselProto, protoMsg("V1", "Explorer"))
	drainClient(a)
	drainClient(b)

	// b holds no Update lock: silent drop, no broadcast, no mutation.
	send(t, m, b, OpVesselUpdate, VesselUpdateMsg{
		VesselID: "V1",
		Position: game.Vector3{X: 50},
		Rotation: game.Quaternion{W: 1},
	})

	if m.state.Vessels["V1"].Position.X != 0 {
		t.Fatal("update without lock must not mutate the vessel")
	}
	if len(framesOf(drainClient(a), OpVesselUpdate)) != 0 {
		t.Fatal("update without lock must not broadcast")
	}
	if isKicked(b) {
		t.Fatal("unauthorized update must not disconnect")
	}
}

func TestVesselUpdateAppliedAndRelayed(t *testing.T) {
	s := newTestServer(t)
	m := newTestMatch(t, s, MatchSetup{})
	a := joinPlayer(t, m, "s1", "u1", "Alice")
	b := joinPlayer(t, m, "s2", "u2", "Bob")
	send(t, m, a, OpVesselProto, protoMsg("V1", "Explorer"))
	send(t, m, a, OpLock, acquireMsg("Update", "V1", false))
	drainClient(a)
	drainClient(b)

	later := baseTime.Add(100 * time.Millisecond)
	sendAt(t, m, a, OpVesselUpdate, VesselUpdateMsg{
		VesselID: "V1",
		Position: game.Vector3{X: 25, Y: 5},
		Rotation: game.Quaternion{W: 1},
		Velocity: game.Vector3{X: 200},
	}, later)

	v := m.state.Vessels["V1"]
	if v.Position.X != 25 || v.Velocity.X != 200 {
		t.Fatalf("vessel not updated: %+v", v)
	}
	if v.LastUpdate != later.UnixMilli() {
		t.Fatalf("last update = %d, want %d", v.LastUpdate, later.UnixMilli())
	}
	if len(framesOf(drainClient(b), OpVesselUpdate)) != 1 {
		t.Fatal("update must be relayed to others")
	}
	// No echo to the sender.
	if len(framesOf(drainClient(a), OpVesselUpdate)) != 0 {
		t.Fatal("update must not echo to the sender")
	}
}

func TestVesselUpdateTeleportRejected(t *testing.T) {
	s := newTestServer(t)
	m := newTestMatch(t, s, MatchSetup{})
	a := joinPlayer(t, m, "s1", "u1", "Alice")
	b := joinPlayer(t, m, "s2", "u2", "Bob")
	send(t, m, a, OpVesselProto, protoMsg("V1", "Explorer"))
	send(t, m, a, OpLock, acquireMsg("Update", "V1", false))
	drainClient(b)

	sendAt(t, m, a, OpVesselUpdate, VesselUpdateMsg{
		VesselID: "V1",
		Position: game.Vector3{X: 99999},
		Rotation: game.Quaternion{W: 1},
	}, baseTime.Add(100*time.Millisecond))

	if m.state.Vessels["V1"].Position.X != 0 {
		t.Fatal("teleport update must be rejected")
	}
	if len(framesOf(drainClient(b), OpVesselUpdate)) != 0 {
		t.Fatal("rejected update must not be relayed")
	}
	if isKicked(a) {
		t.Fatal("rejected update must not disconnect the sender")
	}
}

func TestTombstoneSwallowsLateUpdates(t *testing.T) {
	s := newTestServer(t)
	m := newTestMatch(t, s, MatchSetup{})
	a := joinPlayer(t, m, "s1", "u1", "Alice")
	b := joinPlayer(t, m, "s2", "u2", "Bob")
	send(t, m, a, OpVesselProto, protoMsg("V1", "Explorer"))
	send(t, m, a, OpLock, acquireMsg("Update", "V1", false))
	send(t, m, a, OpVesselRemove, VesselRemoveMsg{VesselID: "V1"})
	drainClient(b)

	// A straggler delta raced the removal.
	sendAt(t, m, a, OpVesselUpdate, VesselUpdateMsg{
		VesselID: "V1",
		Position: game.Vector3{X: 10},
		Rotation: game.Quaternion{W: 1},
	}, baseTime.Add(time.Second))

	if _, ok := m.state.Vessels["V1"]; ok {
		t.Fatal("tombstoned vessel must not resurrect")
	}
	if len(framesOf(drainClient(b), OpVesselUpdate)) != 0 {
		t.Fatal("late update for a removed vessel must be dropped")
	}
}

func TestVesselRemoveOwnerOnly(t *testing.T) {
	s := newTestServer(t)
	m := newTestMatch(t, s, MatchSetup{})
	a := joinPlayer(t, m, "s1", "u1", "Alice")
	b := joinPlayer(t, m, "s2", "u2", "Bob")
	send(t, m, a, OpVesselProto, protoMsg("V1", "Explorer"))
	drainClient(a)
	drainClient(b)

	// Bob is neither owner nor admin.
	send(t, m, b, OpVesselRemove, VesselRemoveMsg{VesselID: "V1"})
	if _, ok := m.state.Vessels["V1"]; !ok {
		t.Fatal("non-owner remove must be denied")
	}

	send(t, m, a, OpVesselRemove, VesselRemoveMsg{VesselID: "V1"})
	if _, ok := m.state.Vessels["V1"]; ok {
		t.Fatal("owner remove must delete the vessel")
	}
	if !m.state.Tombstones.Contains("V1", baseTime.Add(time.Second)) {
		t.Fatal("removed vessel must be tombstoned")
	}

	frames := drainClient(b)
	if len(framesOf(frames, OpVesselRemove)) != 1 {
		t.Fatal("removal must be broadcast")
	}
	// The creator's Control lock rides along as a release.
	locks := decodeLockFrames(t, frames)
	if len(locks) != 1 || locks[0].Action != LockActionReleased || locks[0].LockType != "Control" {
		t.Fatalf("lock cleanup broadcast = %+v", locks)
	}
}

func TestKerbalUpsertRelayed(t *testing.T) {
	s := newTestServer(t)
	m := newTestMatch(t, s, MatchSetup{})
	a := joinPlayer(t, m, "s1", "u1", "Alice")
	b := joinPlayer(t, m, "s2", "u2", "Bob")
	drainClient(b)

	send(t, m, a, OpKerbal, game.Kerbal{KerbalID: "K1", Name: "Jeb", Status: "available"})

	k, ok := m.state.Kerbals["K1"]
	if !ok || k.UpdatedBy != "s1" {
		t.Fatalf("kerbal = %+v", k)
	}
	if len(framesOf(drainClient(b), OpKerbal)) != 1 {
		t.Fatal("kerbal must be relayed")
	}
	if len(framesOf(drainClient(a), OpKerbal)) != 0 {
		t.Fatal("kerbal must not echo to the sender")
	}
}
