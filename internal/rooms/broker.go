// Package rooms implements the chat signaling broker: deterministic room
// identifiers, the request/accept handshake, and message fan-out to room
// members. Rooms have no server-side state of their own — a room exists only
// as the set of connections that have joined its derived id.
package rooms

import (
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/linkup/nearby-app/internal/metrics"
	"github.com/linkup/nearby-app/internal/presence"
	"github.com/linkup/nearby-app/internal/protocol"
)

// Sender delivers an encoded server message to a single connection. The ws
// server satisfies this.
type Sender interface {
	SendMessage(connID string, data []byte) error
}

// Relay publishes room and user events for delivery on other server
// instances. A nil Relay means single-instance operation with direct local
// fan-out.
type Relay interface {
	PublishRoomEvent(roomID string, data []byte) error
	PublishUserEvent(userID string, data []byte) error
}

// RoomEvent is the relay payload for a message fanned out within a room.
// SenderConn lets the receiving side apply the echo policy.
type RoomEvent struct {
	SenderConn string          `json:"sender_conn"`
	Payload    json.RawMessage `json:"payload"`
}

// Config holds broker policy knobs.
type Config struct {
	// EchoToSender controls whether a send is also delivered back to the
	// sending connection. The clients always compare the embedded sender id,
	// so echo is harmless; suppression exists for bandwidth-sensitive
	// deployments.
	EchoToSender bool
}

// DefaultConfig enables echo, matching the uniform broker-side fan-out the
// mobile clients were written against.
func DefaultConfig() Config {
	return Config{EchoToSender: true}
}

// Broker coordinates room membership (kept in the presence registry) with
// message delivery.
type Broker struct {
	presence *presence.Registry
	sender   Sender
	relay    Relay
	config   Config
}

// NewBroker creates a broker. relay may be nil for single-instance setups.
func NewBroker(reg *presence.Registry, sender Sender, relay Relay, config Config) *Broker {
	return &Broker{
		presence: reg,
		sender:   sender,
		relay:    relay,
		config:   config,
	}
}

// DeriveRoomID returns the canonical room id for a pair of users: the two
// ids sorted lexicographically and joined with "_". Both sides compute the
// same id independently, so no handshake round trip or room directory is
// needed, and a room can be rejoined after a restart.
func DeriveRoomID(userA, userB string) string {
	pair := []string{userA, userB}
	sort.Strings(pair)
	return pair[0] + "_" + pair[1]
}

// Request opens a room toward targetUserID on behalf of the connection. The
// initiator joins the room immediately; every live connection of the target
// receives a chat_request. If the target has no live connection the request
// is dropped, fire-and-forget. Returns the derived room id.
func (b *Broker) Request(connID, fromName, targetUserID string) (string, error) {
	fromUserID := b.presence.UserFor(connID)
	if fromUserID == "" {
		return "", fmt.Errorf("rooms: connection %s is not registered", connID)
	}
	if targetUserID == "" {
		return "", fmt.Errorf("rooms: empty target user id")
	}

	roomID := DeriveRoomID(fromUserID, targetUserID)
	b.presence.JoinRoom(connID, roomID)

	data, err := protocol.NewServerMessage(protocol.TypeChatRequest, protocol.ChatRequestMsg{
		From:     fromUserID,
		FromName: fromName,
		RoomID:   roomID,
	})
	if err != nil {
		return roomID, fmt.Errorf("rooms: failed to build chat_request: %w", err)
	}

	b.NotifyUser(targetUserID, data)
	return roomID, nil
}

// Accept joins the connection to an existing (or freshly recomputed) room.
// There is no membership record to validate against: a derived id is
// self-authorizing, and rejoining an abandoned room is explicitly allowed.
func (b *Broker) Accept(connID, roomID string) error {
	if roomID == "" {
		return fmt.Errorf("rooms: empty room id")
	}
	if !b.presence.JoinRoom(connID, roomID) {
		return fmt.Errorf("rooms: connection %s is not registered", connID)
	}
	return nil
}

// Send fans a text message out to every connection currently in the room.
// Non-members' sends are dropped silently, matching the fire-and-forget
// nature of the signaling layer.
func (b *Broker) Send(connID, roomID, text string) error {
	senderID := b.presence.UserFor(connID)
	if senderID == "" {
		return fmt.Errorf("rooms: connection %s is not registered", connID)
	}
	if !b.presence.InRoom(connID, roomID) {
		log.Printf("rooms: dropping send from non-member conn=%s room=%s", connID, roomID)
		return nil
	}

	payload, err := protocol.NewServerMessage(protocol.TypeReceive, protocol.ReceiveMsg{
		RoomID:   roomID,
		Text:     text,
		SenderID: senderID,
		Ts:       time.Now().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("rooms: failed to build receive message: %w", err)
	}

	metrics.RoomMessagesTotal.WithLabelValues("in").Inc()

	if b.relay != nil {
		event, err := json.Marshal(RoomEvent{SenderConn: connID, Payload: payload})
		if err != nil {
			return fmt.Errorf("rooms: failed to marshal room event: %w", err)
		}
		return b.relay.PublishRoomEvent(roomID, event)
	}

	b.fanOutLocal(roomID, connID, payload)
	return nil
}

// fanOutLocal delivers payload to every local member of the room, honoring
// the echo policy for the sender's own connection. Delivery errors are
// logged and skipped; a dead connection is cleaned up by its own read path.
func (b *Broker) fanOutLocal(roomID, senderConn string, payload []byte) {
	for _, memberConn := range b.presence.RoomMembers(roomID) {
		if memberConn == senderConn && !b.config.EchoToSender {
			continue
		}
		if err := b.sender.SendMessage(memberConn, payload); err != nil {
			log.Printf("rooms: fan-out to conn=%s room=%s failed: %v", memberConn, roomID, err)
			continue
		}
		metrics.RoomMessagesTotal.WithLabelValues("fanout").Inc()
	}
}

// DeliverRoomEvent applies a relayed room event to one local member
// connection. The ws layer's relay subscription calls this once per local
// member.
func (b *Broker) DeliverRoomEvent(connID string, data []byte) {
	var event RoomEvent
	if err := json.Unmarshal(data, &event); err != nil {
		log.Printf("rooms: invalid room event: %v", err)
		return
	}
	if event.SenderConn == connID && !b.config.EchoToSender {
		return
	}
	if err := b.sender.SendMessage(connID, event.Payload); err != nil {
		log.Printf("rooms: relayed delivery to conn=%s failed: %v", connID, err)
		return
	}
	metrics.RoomMessagesTotal.WithLabelValues("fanout").Inc()
}

// NotifyUser delivers an encoded server message to every live connection of
// a user. With a relay configured the event goes through the relay so that
// connections on other instances are reached too; the local subscription
// handles local delivery.
func (b *Broker) NotifyUser(userID string, data []byte) {
	if b.relay != nil {
		if err := b.relay.PublishUserEvent(userID, data); err != nil {
			log.Printf("rooms: relay publish for user=%s failed: %v", userID, err)
		}
		return
	}

	for _, connID := range b.presence.Resolve(userID) {
		if err := b.sender.SendMessage(connID, data); err != nil {
			log.Printf("rooms: notify user=%s conn=%s failed: %v", userID, connID, err)
		}
	}
}
