package rooms

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/linkup/nearby-app/internal/presence"
	"github.com/linkup/nearby-app/internal/protocol"
)

// fakeSender records every delivery so tests can assert on fan-out targets.
type fakeSender struct {
	mu   sync.Mutex
	sent map[string][][]byte // connID -> payloads
}

func newFakeSender() *fakeSender {
	return &fakeSender{sent: make(map[string][][]byte)}
}

func (f *fakeSender) SendMessage(connID string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent[connID] = append(f.sent[connID], data)
	return nil
}

func (f *fakeSender) countFor(connID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent[connID])
}

func (f *fakeSender) lastFor(t *testing.T, connID string) map[string]interface{} {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()

	payloads := f.sent[connID]
	if len(payloads) == 0 {
		t.Fatalf("no messages delivered to %s", connID)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(payloads[len(payloads)-1], &decoded); err != nil {
		t.Fatalf("failed to decode payload for %s: %v", connID, err)
	}
	return decoded
}

func newTestBroker(config Config) (*Broker, *presence.Registry, *fakeSender) {
	reg := presence.NewRegistry()
	sender := newFakeSender()
	return NewBroker(reg, sender, nil, config), reg, sender
}

// ---------- DeriveRoomID ----------

func TestDeriveRoomID_OrderIndependent(t *testing.T) {
	ab := DeriveRoomID("alice", "bob")
	ba := DeriveRoomID("bob", "alice")
	if ab != ba {
		t.Fatalf("room id depends on argument order: %q vs %q", ab, ba)
	}
	if ab != "alice_bob" {
		t.Errorf("DeriveRoomID(alice, bob) = %q, want %q", ab, "alice_bob")
	}
}

// ---------- Request ----------

func TestRequest_NotifiesTargetAndJoinsInitiator(t *testing.T) {
	b, reg, sender := newTestBroker(DefaultConfig())
	reg.Register("conn-a", "alice")
	reg.Register("conn-b1", "bob")
	reg.Register("conn-b2", "bob")

	roomID, err := b.Request("conn-a", "Alice", "bob")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if roomID != "alice_bob" {
		t.Errorf("roomID = %q, want %q", roomID, "alice_bob")
	}

	// Initiator is in the room; the target is not until accept.
	if !reg.InRoom("conn-a", roomID) {
		t.Error("expected initiator joined to the room")
	}
	if reg.InRoom("conn-b1", roomID) {
		t.Error("target must not be in the room before accepting")
	}

	// Every live connection of the target got the chat_request.
	for _, conn := range []string{"conn-b1", "conn-b2"} {
		msg := sender.lastFor(t, conn)
		if msg["type"] != protocol.TypeChatRequest {
			t.Errorf("%s: expected chat_request, got %v", conn, msg["type"])
		}
		if msg["from"] != "alice" || msg["from_name"] != "Alice" {
			t.Errorf("%s: unexpected from fields: %v", conn, msg)
		}
		if msg["room_id"] != roomID {
			t.Errorf("%s: room_id = %v, want %q", conn, msg["room_id"], roomID)
		}
	}
}

func TestRequest_OfflineTargetIsDropped(t *testing.T) {
	b, reg, sender := newTestBroker(DefaultConfig())
	reg.Register("conn-a", "alice")

	roomID, err := b.Request("conn-a", "Alice", "bob")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Fire-and-forget: no queued delivery, but the initiator still holds the
	// room so the target can accept after reconnecting.
	if roomID == "" {
		t.Fatal("expected a room id even with the target offline")
	}
	if sender.countFor("conn-a") != 0 {
		t.Errorf("expected no deliveries, initiator got %d", sender.countFor("conn-a"))
	}
}

func TestRequest_UnregisteredConnection(t *testing.T) {
	b, _, _ := newTestBroker(DefaultConfig())
	if _, err := b.Request("ghost", "Ghost", "bob"); err == nil {
		t.Fatal("expected error for unregistered connection")
	}
}

func TestRequest_EmptyTarget(t *testing.T) {
	b, reg, _ := newTestBroker(DefaultConfig())
	reg.Register("conn-a", "alice")
	if _, err := b.Request("conn-a", "Alice", ""); err == nil {
		t.Fatal("expected error for empty target user id")
	}
}

// ---------- Accept + Send round trip ----------

func TestRequestAcceptSend_RoundTrip(t *testing.T) {
	b, reg, sender := newTestBroker(DefaultConfig())
	reg.Register("conn-a", "alice")
	reg.Register("conn-b", "bob")

	roomFromA, err := b.Request("conn-a", "Alice", "bob")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	// The target derives the same id independently of argument order.
	if got := DeriveRoomID("bob", "alice"); got != roomFromA {
		t.Fatalf("derived ids differ: %q vs %q", got, roomFromA)
	}
	if err := b.Accept("conn-b", roomFromA); err != nil {
		t.Fatalf("accept failed: %v", err)
	}

	if err := b.Send("conn-a", roomFromA, "hello bob"); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	msg := sender.lastFor(t, "conn-b")
	if msg["type"] != protocol.TypeReceive {
		t.Fatalf("expected receive, got %v", msg["type"])
	}
	if msg["text"] != "hello bob" || msg["sender_id"] != "alice" {
		t.Errorf("unexpected receive payload: %v", msg)
	}
	if msg["room_id"] != roomFromA {
		t.Errorf("room_id = %v, want %q", msg["room_id"], roomFromA)
	}
}

func TestSend_EchoToSenderEnabled(t *testing.T) {
	b, reg, sender := newTestBroker(Config{EchoToSender: true})
	reg.Register("conn-a", "alice")
	reg.Register("conn-b", "bob")
	room, _ := b.Request("conn-a", "Alice", "bob")
	b.Accept("conn-b", room)

	if err := b.Send("conn-a", room, "hi"); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	// Both members receive it, sender included; the client tells its own
	// message apart by sender_id.
	if sender.countFor("conn-b") == 0 {
		t.Error("expected delivery to the partner")
	}
	echo := sender.lastFor(t, "conn-a")
	if echo["type"] != protocol.TypeReceive || echo["sender_id"] != "alice" {
		t.Errorf("expected echoed receive for sender, got %v", echo)
	}
}

func TestSend_EchoToSenderSuppressed(t *testing.T) {
	b, reg, sender := newTestBroker(Config{EchoToSender: false})
	reg.Register("conn-a", "alice")
	reg.Register("conn-b", "bob")
	room, _ := b.Request("conn-a", "Alice", "bob")
	b.Accept("conn-b", room)

	// Drain the chat_request delivered to bob during Request.
	before := sender.countFor("conn-a")

	if err := b.Send("conn-a", room, "hi"); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	if sender.countFor("conn-a") != before {
		t.Error("expected no echo to the sender's connection")
	}
	msg := sender.lastFor(t, "conn-b")
	if msg["type"] != protocol.TypeReceive {
		t.Errorf("expected partner delivery, got %v", msg)
	}
}

func TestSend_NonMemberIsDroppedSilently(t *testing.T) {
	b, reg, sender := newTestBroker(DefaultConfig())
	reg.Register("conn-a", "alice")
	reg.Register("conn-c", "carol")
	room, _ := b.Request("conn-a", "Alice", "bob")

	if err := b.Send("conn-c", room, "let me in"); err != nil {
		t.Fatalf("expected silent drop, got error: %v", err)
	}
	if sender.countFor("conn-a") != 0 {
		t.Error("non-member send must not reach room members")
	}
}

// ---------- Disconnect cleanup ----------

func TestSend_AfterUnregisterNeverReachesDeadConnection(t *testing.T) {
	b, reg, sender := newTestBroker(DefaultConfig())
	reg.Register("conn-a", "alice")
	reg.Register("conn-b", "bob")
	room, _ := b.Request("conn-a", "Alice", "bob")
	b.Accept("conn-b", room)

	reg.Unregister("conn-b")
	delivered := sender.countFor("conn-b")

	if err := b.Send("conn-a", room, "anyone there?"); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	if sender.countFor("conn-b") != delivered {
		t.Error("fan-out reached an unregistered connection")
	}
	if got := reg.Resolve("bob"); len(got) != 0 {
		t.Errorf("Resolve(bob) = %v, want empty after unregister", got)
	}
}

// ---------- Relay mode ----------

type fakeRelay struct {
	roomEvents map[string][][]byte
	userEvents map[string][][]byte
}

func newFakeRelay() *fakeRelay {
	return &fakeRelay{
		roomEvents: make(map[string][][]byte),
		userEvents: make(map[string][][]byte),
	}
}

func (f *fakeRelay) PublishRoomEvent(roomID string, data []byte) error {
	f.roomEvents[roomID] = append(f.roomEvents[roomID], data)
	return nil
}

func (f *fakeRelay) PublishUserEvent(userID string, data []byte) error {
	f.userEvents[userID] = append(f.userEvents[userID], data)
	return nil
}

func TestSend_RelayModePublishesInsteadOfLocalFanOut(t *testing.T) {
	reg := presence.NewRegistry()
	sender := newFakeSender()
	relay := newFakeRelay()
	b := NewBroker(reg, sender, relay, DefaultConfig())

	reg.Register("conn-a", "alice")
	reg.Register("conn-b", "bob")
	room, _ := b.Request("conn-a", "Alice", "bob")
	b.Accept("conn-b", room)

	if err := b.Send("conn-a", room, "hi"); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	events := relay.roomEvents[room]
	if len(events) != 1 {
		t.Fatalf("expected 1 relayed room event, got %d", len(events))
	}
	if sender.countFor("conn-b") != 0 {
		t.Error("relay mode must not fan out directly")
	}

	// A local subscription applies the event per member connection.
	b.DeliverRoomEvent("conn-b", events[0])
	msg := sender.lastFor(t, "conn-b")
	if msg["type"] != protocol.TypeReceive || msg["text"] != "hi" {
		t.Errorf("unexpected relayed payload: %v", msg)
	}
}

func TestDeliverRoomEvent_EchoPolicyApplies(t *testing.T) {
	reg := presence.NewRegistry()
	sender := newFakeSender()
	relay := newFakeRelay()
	b := NewBroker(reg, sender, relay, Config{EchoToSender: false})

	reg.Register("conn-a", "alice")
	reg.Register("conn-b", "bob")
	room, _ := b.Request("conn-a", "Alice", "bob")
	b.Accept("conn-b", room)
	b.Send("conn-a", room, "hi")

	event := relay.roomEvents[room][0]
	b.DeliverRoomEvent("conn-a", event)
	b.DeliverRoomEvent("conn-b", event)

	if sender.countFor("conn-a") != 0 {
		t.Error("echo suppressed: sender connection must not receive its own event")
	}
	if sender.countFor("conn-b") != 1 {
		t.Errorf("partner should receive exactly one delivery, got %d", sender.countFor("conn-b"))
	}
}

func TestNotifyUser_RelayModePublishesUserEvent(t *testing.T) {
	reg := presence.NewRegistry()
	sender := newFakeSender()
	relay := newFakeRelay()
	b := NewBroker(reg, sender, relay, DefaultConfig())

	reg.Register("conn-a", "alice")
	reg.Register("conn-b", "bob")

	if _, err := b.Request("conn-a", "Alice", "bob"); err != nil {
		t.Fatalf("request failed: %v", err)
	}

	if len(relay.userEvents["bob"]) != 1 {
		t.Fatalf("expected 1 relayed user event for bob, got %d", len(relay.userEvents["bob"]))
	}
	if sender.countFor("conn-b") != 0 {
		t.Error("relay mode must not deliver the chat_request directly")
	}
}
