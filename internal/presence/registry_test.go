package presence

import (
	"sort"
	"testing"
)

func TestRegister_Resolve(t *testing.T) {
	r := NewRegistry()

	r.Register("conn-1", "alice")
	got := r.Resolve("alice")
	if len(got) != 1 || got[0] != "conn-1" {
		t.Fatalf("Resolve(alice) = %v, want [conn-1]", got)
	}
	if user := r.UserFor("conn-1"); user != "alice" {
		t.Errorf("UserFor(conn-1) = %q, want %q", user, "alice")
	}
}

func TestRegister_Idempotent(t *testing.T) {
	r := NewRegistry()

	r.Register("conn-1", "alice")
	r.Register("conn-1", "alice")

	if got := r.Resolve("alice"); len(got) != 1 {
		t.Fatalf("expected a single connection after duplicate register, got %v", got)
	}
	if r.ConnCount() != 1 {
		t.Errorf("expected 1 registered connection, got %d", r.ConnCount())
	}
}

func TestRegister_MultipleDevices(t *testing.T) {
	r := NewRegistry()

	r.Register("phone", "alice")
	r.Register("laptop", "alice")

	got := r.Resolve("alice")
	sort.Strings(got)
	if len(got) != 2 || got[0] != "laptop" || got[1] != "phone" {
		t.Fatalf("Resolve(alice) = %v, want both devices", got)
	}
}

// A connection that re-registers under a different user must stop resolving
// for the old one.
func TestRegister_RebindMovesConnection(t *testing.T) {
	r := NewRegistry()

	r.Register("conn-1", "alice")
	r.Register("conn-1", "bob")

	if got := r.Resolve("alice"); len(got) != 0 {
		t.Errorf("Resolve(alice) = %v, want empty after rebind", got)
	}
	if got := r.Resolve("bob"); len(got) != 1 || got[0] != "conn-1" {
		t.Errorf("Resolve(bob) = %v, want [conn-1]", got)
	}
}

func TestRegister_IgnoresEmptyIDs(t *testing.T) {
	r := NewRegistry()

	r.Register("", "alice")
	r.Register("conn-1", "")

	if r.ConnCount() != 0 {
		t.Errorf("expected no registrations, got %d", r.ConnCount())
	}
}

func TestResolve_UnknownUser(t *testing.T) {
	r := NewRegistry()
	if got := r.Resolve("ghost"); len(got) != 0 {
		t.Errorf("Resolve(ghost) = %v, want empty", got)
	}
}

func TestJoinRoom_RequiresRegistration(t *testing.T) {
	r := NewRegistry()

	if r.JoinRoom("conn-1", "alice_bob") {
		t.Fatal("unregistered connection must not join rooms")
	}

	r.Register("conn-1", "alice")
	if !r.JoinRoom("conn-1", "alice_bob") {
		t.Fatal("registered connection should join the room")
	}
	if !r.InRoom("conn-1", "alice_bob") {
		t.Error("expected conn-1 in room alice_bob")
	}
}

func TestRoomMembers(t *testing.T) {
	r := NewRegistry()
	r.Register("conn-a", "alice")
	r.Register("conn-b", "bob")
	r.Register("conn-c", "carol")

	r.JoinRoom("conn-a", "alice_bob")
	r.JoinRoom("conn-b", "alice_bob")
	r.JoinRoom("conn-c", "bob_carol")

	got := r.RoomMembers("alice_bob")
	sort.Strings(got)
	if len(got) != 2 || got[0] != "conn-a" || got[1] != "conn-b" {
		t.Fatalf("RoomMembers(alice_bob) = %v, want [conn-a conn-b]", got)
	}
}

func TestUnregister_CleansUpEverything(t *testing.T) {
	r := NewRegistry()
	r.Register("conn-a", "alice")
	r.Register("conn-b", "bob")
	r.JoinRoom("conn-a", "alice_bob")
	r.JoinRoom("conn-b", "alice_bob")

	r.Unregister("conn-a")

	// Identity binding gone.
	if user := r.UserFor("conn-a"); user != "" {
		t.Errorf("UserFor(conn-a) = %q, want empty", user)
	}
	if got := r.Resolve("alice"); len(got) != 0 {
		t.Errorf("Resolve(alice) = %v, want empty", got)
	}

	// Room membership gone, eagerly; only the other member remains.
	got := r.RoomMembers("alice_bob")
	if len(got) != 1 || got[0] != "conn-b" {
		t.Errorf("RoomMembers(alice_bob) = %v, want [conn-b]", got)
	}
	if len(r.Rooms("conn-a")) != 0 {
		t.Error("expected conn-a to be in no rooms after unregister")
	}
}

func TestUnregister_OtherUsersUnaffected(t *testing.T) {
	r := NewRegistry()
	r.Register("conn-a", "alice")
	r.Register("conn-b", "bob")

	r.Unregister("conn-a")

	if got := r.Resolve("bob"); len(got) != 1 || got[0] != "conn-b" {
		t.Errorf("Resolve(bob) = %v, want [conn-b]", got)
	}
}

func TestUnregister_UnknownConnectionIsNoop(t *testing.T) {
	r := NewRegistry()
	r.Register("conn-a", "alice")

	r.Unregister("ghost")

	if r.ConnCount() != 1 {
		t.Errorf("expected registry untouched, got %d connections", r.ConnCount())
	}
}
