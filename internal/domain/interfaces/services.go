package interfaces

import (
	domaintypes "courier/internal/domain/types"
)

// EventSubscriber registers handlers for named event types. The returned
// function removes the handler.
type EventSubscriber interface {
	Subscribe(t domaintypes.EventType, handler func(domaintypes.Event)) (unsubscribe func())
}

// Connection is the part of the connection manager that intent services use.
type Connection interface {
	EventSubscriber

	JoinRoom(room domaintypes.RoomID) error
	LeaveRoom(room domaintypes.RoomID) error
	Send(room domaintypes.RoomID, t domaintypes.EventType, payload any) error
}

// IdentityService creates, retrieves, and inspects the local signing identity.
type IdentityService interface {
	GenerateIdentity() (domaintypes.Identity, domaintypes.Fingerprint, error)
	LoadIdentity() (domaintypes.Identity, error)
	FingerprintIdentity() (domaintypes.Fingerprint, error)
}
