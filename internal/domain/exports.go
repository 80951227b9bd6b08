package domain

import (
	interfaces "courier/internal/domain/interfaces"
	types "courier/internal/domain/types"
)

// Type aliases expose domain types from the types subpackage for compact imports.
type (
	IdentityID        = types.IdentityID
	Fingerprint       = types.Fingerprint
	RoomID            = types.RoomID
	CommunityID       = types.CommunityID
	PostID            = types.PostID
	MessageID         = types.MessageID
	Identity          = types.Identity
	X25519Public      = types.X25519Public
	X25519Private     = types.X25519Private
	Ed25519Public     = types.Ed25519Public
	Ed25519Private    = types.Ed25519Private
	AgreementKeyPair  = types.AgreementKeyPair
	SharedSecret      = types.SharedSecret
	EncryptedEnvelope = types.EncryptedEnvelope
	Visibility        = types.Visibility
	Community         = types.Community
	CommunityPost     = types.CommunityPost
	Moderation        = types.Moderation
	ModerationAction  = types.ModerationAction
	EngagementAction  = types.EngagementAction
	Engagement        = types.Engagement
	ChannelMessage    = types.ChannelMessage
	ConnectionState   = types.ConnectionState
	ConnectionStatus  = types.ConnectionStatus
	EventType         = types.EventType
	Event             = types.Event
	TypingNotice      = types.TypingNotice
	ItemKind          = types.ItemKind
	SyncItem          = types.SyncItem
	ItemQuery         = types.ItemQuery
	PushPayload       = types.PushPayload
)

// Interface aliases expose domain interfaces from the interfaces subpackage.
type (
	SecureStorage   = interfaces.SecureStorage
	KeyStore        = interfaces.KeyStore
	IdentityStore   = interfaces.IdentityStore
	LocalCache      = interfaces.LocalCache
	PeerKeyResolver = interfaces.PeerKeyResolver
	ItemFetcher     = interfaces.ItemFetcher
	RelayClient     = interfaces.RelayClient
	EventSubscriber = interfaces.EventSubscriber
	Connection      = interfaces.Connection
	IdentityService = interfaces.IdentityService
)

// Re-exported constants.
const (
	VisibilityPublic  = types.VisibilityPublic
	VisibilityPrivate = types.VisibilityPrivate

	ModerationNone    = types.ModerationNone
	ModerationHidden  = types.ModerationHidden
	ModerationFlagged = types.ModerationFlagged

	ModerateHide   = types.ModerateHide
	ModerateFlag   = types.ModerateFlag
	ModerateDelete = types.ModerateDelete

	ActionLike     = types.ActionLike
	ActionUnlike   = types.ActionUnlike
	ActionRepost   = types.ActionRepost
	ActionUnrepost = types.ActionUnrepost

	StateDisconnected   = types.StateDisconnected
	StateConnecting     = types.StateConnecting
	StateAuthenticating = types.StateAuthenticating
	StateConnected      = types.StateConnected
	StatePaused         = types.StatePaused

	EventAuthenticate      = types.EventAuthenticate
	EventJoinRoom          = types.EventJoinRoom
	EventLeaveRoom         = types.EventLeaveRoom
	EventSendMessage       = types.EventSendMessage
	EventSendPost          = types.EventSendPost
	EventAuthenticated     = types.EventAuthenticated
	EventAuthError         = types.EventAuthError
	EventNewMessage        = types.EventNewMessage
	EventPostReceived      = types.EventPostReceived
	EventUserTyping        = types.EventUserTyping
	EventStateChanged      = types.EventStateChanged
	EventTransportDegraded = types.EventTransportDegraded

	KindPost    = types.KindPost
	KindMessage = types.KindMessage
)

// Error taxonomy shared by every component.
var (
	ErrInvalidKey           = types.ErrInvalidKey
	ErrAuthenticationFailed = types.ErrAuthenticationFailed
	ErrKeyStoreUnavailable  = types.ErrKeyStoreUnavailable
	ErrNotConnected         = types.ErrNotConnected
	ErrTransport            = types.ErrTransport
	ErrSignatureInvalid     = types.ErrSignatureInvalid
	ErrNotFound             = types.ErrNotFound
	ErrConflict             = types.ErrConflict
)

// DirectChannel returns the room shared by exactly two identities.
func DirectChannel(a, b IdentityID) RoomID { return types.DirectChannel(a, b) }
