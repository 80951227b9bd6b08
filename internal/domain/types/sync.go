package types

// ItemKind distinguishes records carried by catch-up batches and live events.
type ItemKind string

const (
	KindPost    ItemKind = "post"
	KindMessage ItemKind = "message"
)

// SyncItem is one record returned by the relay for a room. Encrypted items
// carry an Envelope whose plaintext is the content; plain posts carry Post.
type SyncItem struct {
	ID        string             `json:"id"`
	Channel   RoomID             `json:"channel"`
	Kind      ItemKind           `json:"kind"`
	Sender    IdentityID         `json:"sender"`
	Timestamp int64              `json:"timestamp"`
	Encrypted bool               `json:"encrypted,omitempty"`
	Envelope  *EncryptedEnvelope `json:"envelope,omitempty"`
	Content   string             `json:"content,omitempty"`
	Post      *CommunityPost     `json:"post,omitempty"`

	// Seq is assigned by the relay when it stores the item and grows with
	// every store in a room, so it orders items by arrival rather than by
	// the sender's clock.
	Seq int64 `json:"seq,omitempty"`
}

// ItemQuery selects the items of a room. A non-zero After selects items the
// relay stored after that sequence number; otherwise items timestamped after
// Since are returned.
type ItemQuery struct {
	Since int64
	After int64
}

// PushPayload is the opaque data delivered by the push service. It names an
// item to fetch and never carries the content.
type PushPayload struct {
	ChannelID RoomID     `json:"channelId"`
	ItemID    string     `json:"itemId"`
	Sender    IdentityID `json:"senderIdentity"`
	Kind      ItemKind   `json:"kind"`
}
