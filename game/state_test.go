package game

import (
	"testing"
	"time"
)

func newTestState(now time.Time) *State {
	return NewState("Test Server", "", ModeSandbox, 8, now)
}

func TestFirstJoinerIsAdmin(t *testing.T) {
	s := newTestState(t0)
	s.AddPlayer(&Player{SessionID: "s1", UserID: "u1"}, t0)
	s.AddPlayer(&Player{SessionID: "s2", UserID: "u2"}, t0)

	if !s.IsAdmin("s1") {
		t.Fatal("first joiner must be admin")
	}
	if s.IsAdmin("s2") {
		t.Fatal("second joiner must not be admin")
	}
}

func TestJoinTagsCurrentSubspace(t *testing.T) {
	s := newTestState(t0)
	s.Warp.Split(100, t0)

	p := &Player{SessionID: "s1"}
	s.AddPlayer(p, t0)
	if p.SubspaceID != s.Warp.LatestSubspace() {
		t.Fatalf("joiner subspace = %d, want %d", p.SubspaceID, s.Warp.LatestSubspace())
	}
}

func TestRemovePlayerReleasesLocks(t *testing.T) {
	s := newTestState(t0)
	s.AddPlayer(&Player{SessionID: "s1"}, t0)
	s.Locks.Acquire(controlKey("V1"), "s1", false, t0)
	s.Locks.Acquire(updateKey("V1"), "s1", false, t0)

	released := s.RemovePlayer("s1", t0)
	if len(released) != 2 {
		t.Fatalf("released %d locks, want 2", len(released))
	}
	if len(s.Locks.List()) != 0 {
		t.Fatal("no locks may survive the holder's departure")
	}
	if !s.EmptySince.Equal(t0) {
		t.Fatal("EmptySince must be set when the last player leaves")
	}
}

func TestEmptySinceClearedOnJoin(t *testing.T) {
	s := newTestState(t0)
	s.AddPlayer(&Player{SessionID: "s1"}, t0.Add(time.Minute))
	if !s.EmptySince.IsZero() {
		t.Fatal("EmptySince must be zero while players are present")
	}
}

func TestRemoveVesselTombstonesAndDropsLocks(t *testing.T) {
	s := newTestState(t0)
	s.AddPlayer(&Player{SessionID: "s1", ControlledVessel: "V1"}, t0)
	s.Vessels["V1"] = &Vessel{VesselID: "V1", Owner: "s1"}
	s.Locks.Acquire(controlKey("V1"), "s1", false, t0)
	s.Locks.Acquire(unloadedKey("V1"), "s2", false, t0)

	dropped, ok := s.RemoveVessel("V1", t0)
	if !ok {
		t.Fatal("vessel existed, removal must report true")
	}
	if len(dropped) != 2 {
		t.Fatalf("dropped %d locks, want 2", len(dropped))
	}
	if !s.Tombstones.Contains("V1", t0.Add(time.Second)) {
		t.Fatal("removed vessel must be tombstoned")
	}
	if s.Players["s1"].ControlledVessel != "" {
		t.Fatal("controlled-vessel pointer must be cleared")
	}

	if _, ok := s.RemoveVessel("V1", t0); ok {
		t.Fatal("second removal must report the vessel as missing")
	}
}

func TestTouchClearsIdle(t *testing.T) {
	s := newTestState(t0)
	p := &Player{SessionID: "s1", Status: StatusIdle}
	s.AddPlayer(p, t0)

	s.Touch("s1", t0.Add(time.Second))
	if p.Status != StatusConnected {
		t.Fatalf("status after touch = %v, want connected", p.Status)
	}
	if !p.LastActivity.Equal(t0.Add(time.Second)) {
		t.Fatal("activity stamp not refreshed")
	}
}

func TestIdlePlayers(t *testing.T) {
	s := newTestState(t0)
	s.AddPlayer(&Player{SessionID: "s1"}, t0)
	s.AddPlayer(&Player{SessionID: "s2"}, t0)
	s.Touch("s2", t0.Add(4*time.Minute))

	idle := s.IdlePlayers(t0.Add(6 * time.Minute))
	if len(idle) != 1 || idle[0] != "s1" {
		t.Fatalf("idle = %v, want [s1]", idle)
	}
}

func TestListOrderingStable(t *testing.T) {
	s := newTestState(t0)
	s.Vessels["B"] = &Vessel{VesselID: "B"}
	s.Vessels["A"] = &Vessel{VesselID: "A"}
	s.Vessels["C"] = &Vessel{VesselID: "C"}

	list := s.VesselList()
	if len(list) != 3 || list[0].VesselID != "A" || list[2].VesselID != "C" {
		t.Fatalf("vessel list not sorted: %v", []string{list[0].VesselID, list[1].VesselID, list[2].VesselID})
	}
}
