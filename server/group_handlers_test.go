package server

import (
	"strings"
	"testing"
	"time"
)

func TestGroupCreateBroadcastsList(t *testing.T) {
	s := newTestServer(t)
	m := newTestMatch(t, s, MatchSetup{})
	a := joinPlayer(t, m, "s1", "u1", "Alice")
	b := joinPlayer(t, m, "s2", "u2", "Bob")
	drainClient(b)

	send(t, m, a, OpGroupCreate, GroupCreateMsg{Name: "explorers"})

	g, ok := m.state.Groups["explorers"]
	if !ok || g.Owner != "u1" || len(g.Members) != 1 || g.Members[0] != "u1" {
		t.Fatalf("group = %+v", g)
	}
	lists := framesOf(drainClient(b), OpGroupList)
	if len(lists) != 1 {
		t.Fatalf("got %d list frames, want 1", len(lists))
	}
	var msg GroupListMsg
	mustUnmarshal(t, lists[0].payload, &msg)
	if len(msg.Groups) != 1 || msg.Groups[0].Name != "explorers" {
		t.Fatalf("list = %+v", msg)
	}
}

func TestGroupCreateDuplicateAdvises(t *testing.T) {
	s := newTestServer(t)
	m := newTestMatch(t, s, MatchSetup{})
	a := joinPlayer(t, m, "s1", "u1", "Alice")
	b := joinPlayer(t, m, "s2", "u2", "Bob")
	send(t, m, a, OpGroupCreate, GroupCreateMsg{Name: "explorers"})
	drainClient(b)

	send(t, m, b, OpGroupCreate, GroupCreateMsg{Name: "explorers"})

	if m.state.Groups["explorers"].Owner != "u1" {
		t.Fatal("duplicate create must not replace the group")
	}
	chats := framesOf(drainClient(b), OpChat)
	if len(chats) != 1 {
		t.Fatalf("got %d advisories, want 1", len(chats))
	}
	var cm ChatMsg
	mustUnmarshal(t, chats[0].payload, &cm)
	if !strings.Contains(cm.Message, "already exists") {
		t.Fatalf("advisory = %+v", cm)
	}
}

func TestGroupUpdateOwnerOrAdmin(t *testing.T) {
	s := newTestServer(t)
	m := newTestMatch(t, s, MatchSetup{})
	a := joinPlayer(t, m, "s1", "u1", "Alice") // admin
	b := joinPlayer(t, m, "s2", "u2", "Bob")
	c := joinPlayer(t, m, "s3", "u3", "Carl")
	send(t, m, b, OpGroupCreate, GroupCreateMsg{Name: "crew"})

	// Carl is neither owner nor admin.
	send(t, m, c, OpGroupUpdate, GroupUpdateMsg{Name: "crew", Members: []string{"u3"}})
	if len(m.state.Groups["crew"].Members) != 1 || m.state.Groups["crew"].Members[0] != "u2" {
		t.Fatal("non-owner update must be denied")
	}

	// The owner may update.
	send(t, m, b, OpGroupUpdate, GroupUpdateMsg{Name: "crew", Members: []string{"u2", "u3"}})
	if len(m.state.Groups["crew"].Members) != 2 {
		t.Fatal("owner update must apply")
	}

	// An admin may remove someone else's group.
	send(t, m, a, OpGroupRemove, GroupRemoveMsg{Name: "crew"})
	if _, ok := m.state.Groups["crew"]; ok {
		t.Fatal("admin remove must apply")
	}
}

func TestGroupsPersistAcrossMatches(t *testing.T) {
	s := newTestServer(t)
	m := newTestMatch(t, s, MatchSetup{ServerName: "First"})
	a := joinPlayer(t, m, "s1", "u1", "Alice")
	send(t, m, a, OpGroupCreate, GroupCreateMsg{Name: "veterans"})

	m2 := newMatch("test-match-2", MatchSetup{ServerName: "Second", MaxPlayers: 8}, s)
	m2.now = func() time.Time { return baseTime }
	if err := m2.init(); err != nil {
		t.Fatalf("init second match: %v", err)
	}
	defer m2.assets.stop()

	g, ok := m2.state.Groups["veterans"]
	if !ok || g.Owner != "u1" {
		t.Fatalf("group not restored: %+v", g)
	}
}

func TestGroupListUnicast(t *testing.T) {
	s := newTestServer(t)
	m := newTestMatch(t, s, MatchSetup{})
	a := joinPlayer(t, m, "s1", "u1", "Alice")
	b := joinPlayer(t, m, "s2", "u2", "Bob")
	send(t, m, a, OpGroupCreate, GroupCreateMsg{Name: "alpha"})
	send(t, m, a, OpGroupCreate, GroupCreateMsg{Name: "beta"})
	drainClient(a)
	drainClient(b)

	send(t, m, b, OpGroupList, struct{}{})

	lists := framesOf(drainClient(b), OpGroupList)
	if len(lists) != 1 {
		t.Fatalf("got %d list frames, want 1", len(lists))
	}
	var msg GroupListMsg
	mustUnmarshal(t, lists[0].payload, &msg)
	if len(msg.Groups) != 2 || msg.Groups[0].Name != "alpha" || msg.Groups[1].Name != "beta" {
		t.Fatalf("list = %+v", msg.Groups)
	}
	if len(framesOf(drainClient(a), OpGroupList)) != 0 {
		t.Fatal("list reply is unicast")
	}
}
