package interfaces

import (
	"context"

	domaintypes "courier/internal/domain/types"
)

// PeerKeyResolver looks up the published agreement public key of a peer.
type PeerKeyResolver interface {
	FetchAgreementKey(ctx context.Context, id domaintypes.IdentityID) (domaintypes.X25519Public, error)
}

// ItemFetcher retrieves room items for catch-up and push handling.
type ItemFetcher interface {
	FetchItems(ctx context.Context, room domaintypes.RoomID, q domaintypes.ItemQuery) ([]domaintypes.SyncItem, error)
	FetchItem(ctx context.Context, room domaintypes.RoomID, itemID string) (domaintypes.SyncItem, error)
}

// RelayClient is how we talk to the relay's REST endpoints, all with context.
type RelayClient interface {
	PeerKeyResolver
	ItemFetcher

	PublishAgreementKey(
		ctx context.Context,
		id domaintypes.IdentityID,
		pub domaintypes.X25519Public,
		signature []byte,
	) error
	CreateCommunity(ctx context.Context, c domaintypes.Community, signature []byte) (domaintypes.Community, error)
	CreatePost(ctx context.Context, p domaintypes.CommunityPost) (domaintypes.CommunityPost, error)
	Engage(
		ctx context.Context,
		post domaintypes.PostID,
		action domaintypes.EngagementAction,
		id domaintypes.IdentityID,
		signature []byte,
	) (domaintypes.Engagement, error)
	Moderate(
		ctx context.Context,
		post domaintypes.PostID,
		action domaintypes.ModerationAction,
		id domaintypes.IdentityID,
		signature []byte,
	) error
}
