package server

import (
	"bytes"
	"testing"
)

func TestShareProgressBroadcastsAbsolutes(t *testing.T) {
	s := newTestServer(t)
	m := newTestMatch(t, s, MatchSetup{Mode: "career"})
	a := joinPlayer(t, m, "s1", "u1", "Alice")
	b := joinPlayer(t, m, "s2", "u2", "Bob")
	drainClient(a)
	drainClient(b)

	send(t, m, a, OpShareProgress, ShareProgressMsg{ScienceDelta: 50, FundsDelta: 1000})
	send(t, m, b, OpShareProgress, ShareProgressMsg{ScienceDelta: 25, ReputationDelta: -5})

	sc := m.state.Scenario
	if sc.Science != 75 || sc.Funds != 1000 || sc.Reputation != -5 {
		t.Fatalf("scenario = %+v", sc)
	}

	// Everyone, including the sender, receives the running totals.
	frames := framesOf(drainClient(a), OpShareProgress)
	if len(frames) != 2 {
		t.Fatalf("got %d progress frames, want 2", len(frames))
	}
	var last ShareProgressMsg
	mustUnmarshal(t, frames[1].payload, &last)
	if last.Science == nil || *last.Science != 75 {
		t.Fatalf("broadcast science = %v", last.Science)
	}
	if last.Funds == nil || *last.Funds != 1000 {
		t.Fatalf("broadcast funds = %v", last.Funds)
	}
	if last.Reputation == nil || *last.Reputation != -5 {
		t.Fatalf("broadcast reputation = %v", last.Reputation)
	}
	if !m.saveDirty {
		t.Fatal("progress must mark the world dirty")
	}
}

func TestScenarioModuleStoredAndRelayedOpaque(t *testing.T) {
	s := newTestServer(t)
	m := newTestMatch(t, s, MatchSetup{})
	a := joinPlayer(t, m, "s1", "u1", "Alice")
	b := joinPlayer(t, m, "s2", "u2", "Bob")
	drainClient(b)

	blob := []byte(`{"unlocked":["basicRocketry"]}`)
	send(t, m, a, OpScenario, ScenarioMsg{Module: "tech_tree", Data: blob})

	stored, ok := m.state.Scenario.Modules["tech_tree"]
	if !ok || !bytes.Equal(stored, blob) {
		t.Fatal("module blob must be stored verbatim")
	}

	frames := framesOf(drainClient(b), OpScenario)
	if len(frames) != 1 {
		t.Fatalf("got %d scenario frames, want 1", len(frames))
	}
	var relayed ScenarioMsg
	mustUnmarshal(t, frames[0].payload, &relayed)
	if relayed.Module != "tech_tree" || !bytes.Equal(relayed.Data, blob) {
		t.Fatalf("relay = %+v", relayed)
	}
	if len(framesOf(drainClient(a), OpScenario)) != 0 {
		t.Fatal("scenario must not echo to the sender")
	}
}
