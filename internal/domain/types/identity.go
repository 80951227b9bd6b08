package types

import "encoding/hex"

// Identity holds the long-term Ed25519 signing keys owned by the device user.
type Identity struct {
	SignPub  Ed25519Public  `json:"sign_pub"`
	SignPriv Ed25519Private `json:"sign_priv"`
}

// ID returns the public identity derived from the signing key.
func (id Identity) ID() IdentityID {
	return IdentityID(hex.EncodeToString(id.SignPub[:]))
}
