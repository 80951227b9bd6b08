package types

// EncryptedEnvelope is the output of authenticated encryption under a
// SharedSecret. The three parts travel separately on the wire.
type EncryptedEnvelope struct {
	IV         []byte `json:"iv"`
	Ciphertext []byte `json:"ciphertext"`
	AuthTag    []byte `json:"auth_tag"`
}

// ChannelMessage is a decrypted message in a direct channel.
type ChannelMessage struct {
	ID        MessageID  `json:"id"`
	ChannelID RoomID     `json:"channel_id"`
	Sender    IdentityID `json:"sender"`
	Content   string     `json:"content"`
	Timestamp int64      `json:"timestamp"`

	// Pending marks a local message the relay has not confirmed yet.
	Pending bool `json:"-"`
}
