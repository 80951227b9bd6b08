package types

import "strings"

// IdentityID is the durable public identity: lowercase hex of the Ed25519
// signing public key.
type IdentityID string

// String returns the string form of the identity.
func (id IdentityID) String() string { return string(id) }

// Short returns a prefix suitable for log fields.
func (id IdentityID) Short() string {
	if len(id) > 12 {
		return string(id[:12])
	}
	return string(id)
}

// Fingerprint is a short identifier for public keys presented to users.
type Fingerprint string

// String returns the string form of the fingerprint.
func (f Fingerprint) String() string { return string(f) }

// RoomID names a subscription scope on the real-time transport. Community
// rooms use the community id; direct channels use a ChannelID.
type RoomID string

// String returns the string form of the room identifier.
func (id RoomID) String() string { return string(id) }

// CommunityID uniquely identifies a community.
type CommunityID string

// String returns the string form of the identifier.
func (id CommunityID) String() string { return string(id) }

// Room returns the real-time room carrying events for the community.
func (id CommunityID) Room() RoomID { return RoomID(id) }

// PostID uniquely identifies a community post.
type PostID string

// String returns the string form of the identifier.
func (id PostID) String() string { return string(id) }

// MessageID uniquely identifies a channel message.
type MessageID string

// String returns the string form of the identifier.
func (id MessageID) String() string { return string(id) }

const directPrefix = "dm:"

// DirectChannel returns the room shared by exactly two identities. The id is
// the same whichever side computes it.
func DirectChannel(a, b IdentityID) RoomID {
	if b < a {
		a, b = b, a
	}
	return RoomID(directPrefix + string(a) + ":" + string(b))
}

// Counterpart returns the other participant of a direct channel, or false
// when the room is not a direct channel that includes self.
func (id RoomID) Counterpart(self IdentityID) (IdentityID, bool) {
	rest, ok := strings.CutPrefix(string(id), directPrefix)
	if !ok {
		return "", false
	}
	a, b, ok := strings.Cut(rest, ":")
	if !ok {
		return "", false
	}
	switch self {
	case IdentityID(a):
		return IdentityID(b), true
	case IdentityID(b):
		return IdentityID(a), true
	}
	return "", false
}
