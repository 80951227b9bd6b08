package types

import (
	"encoding/json"
	"time"
)

// EventType names a frame or notification on the real-time connection.
type EventType string

// Outbound frames.
const (
	EventAuthenticate EventType = "authenticate"
	EventJoinRoom     EventType = "join_room"
	EventLeaveRoom    EventType = "leave_room"
	EventSendMessage  EventType = "send_message"
	EventSendPost     EventType = "send_post"
)

// Inbound frames.
const (
	EventAuthenticated EventType = "authenticated"
	EventAuthError     EventType = "auth_error"
	EventNewMessage    EventType = "new_message"
	EventPostReceived  EventType = "community_post_received"
	EventUserTyping    EventType = "user_typing"
)

// Local notifications published by the connection manager itself.
const (
	EventStateChanged      EventType = "state_changed"
	EventTransportDegraded EventType = "transport_degraded"
)

// Event is a typed notification delivered to subscribers.
type Event struct {
	Type    EventType
	Room    RoomID
	Sender  IdentityID
	Payload json.RawMessage
	State   ConnectionState
	At      time.Time
}

// Decode unmarshals the payload into v.
func (e Event) Decode(v any) error { return json.Unmarshal(e.Payload, v) }

// TypingNotice is the payload of user_typing.
type TypingNotice struct {
	Sender IdentityID `json:"sender"`
	Typing bool       `json:"typing"`
}
