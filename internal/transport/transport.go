package transport

import (
	"context"
	"encoding/json"

	"courier/internal/domain"
)

// Frame is one message on the real-time transport.
type Frame struct {
	Type    domain.EventType  `json:"type"`
	Room    domain.RoomID     `json:"room,omitempty"`
	ID      string            `json:"id,omitempty"`
	Sender  domain.IdentityID `json:"sender,omitempty"`
	Payload json.RawMessage   `json:"payload,omitempty"`
}

// NewFrame builds a frame with payload marshalled as JSON. A nil payload
// yields a frame without a body.
func NewFrame(t domain.EventType, room domain.RoomID, payload any) (Frame, error) {
	f := Frame{Type: t, Room: room}
	if payload == nil {
		return f, nil
	}
	if raw, ok := payload.(json.RawMessage); ok {
		f.Payload = raw
		return f, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, err
	}
	f.Payload = b
	return f, nil
}

// Conn is a live, authenticated-or-not transport connection.
//
// Send may be called concurrently with Receive. Receive is called from a
// single reader goroutine. After Close, Receive returns an error.
type Conn interface {
	Send(f Frame) error
	Receive() (Frame, error)
	Close() error
}

// Dialer opens transport connections.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
	// Name identifies the transport in logs and status snapshots.
	Name() string
}

// AuthenticatePayload is the body of an authenticate frame.
type AuthenticatePayload struct {
	Identity domain.IdentityID `json:"identity"`
}

// AuthErrorPayload is the body of an auth_error frame.
type AuthErrorPayload struct {
	Reason string `json:"reason"`
}
