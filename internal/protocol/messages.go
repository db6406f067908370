// Package protocol defines the WebSocket message types and structures used for
// communication between the client and server. All messages are serialized as
// JSON and follow a consistent envelope format with a type discriminator.
package protocol

import (
	"encoding/json"
	"fmt"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeRegister       = "register"
	TypeUpdateLocation = "update_location"
	TypeRequestRoom    = "request_room"
	TypeAcceptRoom     = "accept_room"
	TypeSend           = "send"
	TypePing           = "ping"
)

// Server -> Client message types.
const (
	TypeConnected         = "connected"
	TypeRegistered        = "registered"
	TypeNearbyUsers       = "nearby_users"
	TypeMatchNotification = "match_notification"
	TypeChatRequest       = "chat_request"
	TypeRoomJoined        = "room_joined"
	TypeReceive           = "receive"
	TypeRateLimited       = "rate_limited"
	TypeError             = "error"
	TypePong              = "pong"
)

// ---------------------------------------------------------------------------
// Envelope — used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON implements the json.Unmarshaler interface. It captures the
// full raw bytes and extracts only the "type" field so that the rest of the
// payload can be decoded later into the appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server message structs
// ---------------------------------------------------------------------------

// RegisterMsg binds the connection to a verified user identity. The user ID
// comes from the authentication layer; the core trusts it as given.
type RegisterMsg struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
}

// UpdateLocationMsg is a location ping. RadiusKm is the caller's desired
// search radius in kilometers; zero means "use the server default".
type UpdateLocationMsg struct {
	Type     string  `json:"type"`
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	RadiusKm float64 `json:"radius"`
}

// RequestRoomMsg asks the broker to open a pairwise room with another user.
type RequestRoomMsg struct {
	Type         string `json:"type"`
	TargetUserID string `json:"target_user_id"`
}

// AcceptRoomMsg joins the connection to an already-requested room.
type AcceptRoomMsg struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
}

// SendMsg is a text message addressed to a room.
type SendMsg struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
	Text   string `json:"text"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// ConnectedMsg is sent by the server when a new connection is established.
type ConnectedMsg struct {
	Type         string `json:"type"`
	ConnectionID string `json:"connection_id"`
}

// RegisteredMsg confirms that the connection is bound to a user identity.
type RegisteredMsg struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
}

// NearbyUser is one entry in a nearby_users result set.
type NearbyUser struct {
	UserID      string   `json:"user_id"`
	DisplayName string   `json:"display_name"`
	Lat         float64  `json:"lat"`
	Lng         float64  `json:"lng"`
	Interests   []string `json:"interests"`
	DistanceKm  float64  `json:"distance_km"`
}

// NearbyUsersMsg carries the proximity query result, ordered nearest first.
// Fallback is true when nobody was found inside the radius and the list is a
// distance-unbounded sample of recently active users instead.
type NearbyUsersMsg struct {
	Type     string       `json:"type"`
	Users    []NearbyUser `json:"users"`
	Fallback bool         `json:"fallback"`
}

// MatchNotificationMsg informs a user about fresh interest matches nearby.
// Users holds a single entry when the receiver is the matched party, and
// possibly several when the receiver is the one whose location moved.
type MatchNotificationMsg struct {
	Type    string       `json:"type"`
	Message string       `json:"message"`
	Users   []NearbyUser `json:"users"`
}

// ChatRequestMsg is delivered to the target of a room request.
type ChatRequestMsg struct {
	Type     string `json:"type"`
	From     string `json:"from"`
	FromName string `json:"from_name"`
	RoomID   string `json:"room_id"`
}

// RoomJoinedMsg acknowledges that the connection is now a room member.
type RoomJoinedMsg struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
}

// ReceiveMsg is a chat message fanned out to room members.
type ReceiveMsg struct {
	Type     string `json:"type"`
	RoomID   string `json:"room_id"`
	Text     string `json:"text"`
	SenderID string `json:"sender_id"`
	Ts       int64  `json:"ts"`
}

// RateLimitedMsg is sent by the server when the client has been rate-limited.
type RateLimitedMsg struct {
	Type       string `json:"type"`
	RetryAfter int    `json:"retry_after"`
}

// ErrorMsg is sent by the server to communicate an error condition.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client message.
// It returns the message type string, the decoded struct, and any error
// encountered during parsing. An error is returned for unknown or
// server-only message types.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeRegister:
		var m RegisterMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeUpdateLocation:
		var m UpdateLocationMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeRequestRoom:
		var m RequestRoomMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeAcceptRoom:
		var m AcceptRoomMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeSend:
		var m SendMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage creates a JSON-encoded byte slice for a server message.
// The msgType is injected into the payload under the "type" key. The payload
// should be one of the Server*Msg structs; this function marshals it to JSON,
// injects the type field, and returns the final bytes.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}
