package interfaces

import (
	"context"

	domaintypes "courier/internal/domain/types"
)

// SecureStorage is an opaque get/set-by-name store for secrets, standing in
// for the OS keychain.
type SecureStorage interface {
	Get(name string) ([]byte, bool, error)
	Set(name string, value []byte) error
	// Create stores value only if name is absent; it fails with an error
	// matching store.ErrExists otherwise.
	Create(name string, value []byte) error
	Delete(name string) error
}

// KeyStore owns the agreement key pair of each local identity.
type KeyStore interface {
	LoadOrCreate(ctx context.Context, id domaintypes.IdentityID) (domaintypes.AgreementKeyPair, error)
	Get(ctx context.Context, id domaintypes.IdentityID) (domaintypes.AgreementKeyPair, bool, error)
}

// LocalCache is the durable read model mirrored from the relay.
type LocalCache interface {
	UpsertCommunity(ctx context.Context, c domaintypes.Community) error
	UpsertPost(ctx context.Context, p domaintypes.CommunityPost) error
	UpsertMessage(ctx context.Context, m domaintypes.ChannelMessage) error

	GetCommunity(ctx context.Context, id domaintypes.CommunityID) (domaintypes.Community, error)
	GetPost(ctx context.Context, id domaintypes.PostID) (domaintypes.CommunityPost, error)
	ListCommunities(ctx context.Context) ([]domaintypes.Community, error)
	ListPosts(ctx context.Context, id domaintypes.CommunityID) ([]domaintypes.CommunityPost, error)
	ListMessages(ctx context.Context, channel domaintypes.RoomID) ([]domaintypes.ChannelMessage, error)
	PendingPosts(ctx context.Context) ([]domaintypes.CommunityPost, error)
	PendingMessages(ctx context.Context) ([]domaintypes.ChannelMessage, error)

	UpdateEngagement(ctx context.Context, id domaintypes.PostID, e domaintypes.Engagement) error
	SetModeration(ctx context.Context, id domaintypes.PostID, flag domaintypes.Moderation) error
	DeletePost(ctx context.Context, id domaintypes.PostID) error
	SetMembership(ctx context.Context, id domaintypes.CommunityID, member bool) error
	DeleteCommunity(ctx context.Context, id domaintypes.CommunityID) error

	// Cursor and AdvanceCursor track the relay sequence number up to which a
	// room has been merged.
	Cursor(ctx context.Context, room domaintypes.RoomID) (int64, bool, error)
	AdvanceCursor(ctx context.Context, room domaintypes.RoomID, seq int64) error
	TrackRoom(ctx context.Context, room domaintypes.RoomID) error
	SyncRooms(ctx context.Context) ([]domaintypes.RoomID, error)
}

// IdentityStore persists the local signing identity.
type IdentityStore interface {
	CreateIdentity(id domaintypes.Identity) error
	LoadIdentity() (domaintypes.Identity, error)
}
