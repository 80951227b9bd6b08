package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"courier/internal/domain"
)

// GenerateIdentity returns a new Ed25519 signing identity.
func GenerateIdentity() (domain.Identity, error) {
	pk, sk, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return domain.Identity{}, err
	}
	var id domain.Identity
	copy(id.SignPriv[:], sk)
	copy(id.SignPub[:], pk)
	return id, nil
}

// Sign signs msg with priv and returns the signature.
func Sign(priv domain.Ed25519Private, msg []byte) []byte {
	return ed25519.Sign(ed25519.PrivateKey(priv[:]), msg)
}

// Verify verifies sig over msg with pub.
func Verify(pub domain.Ed25519Public, msg, sig []byte) bool {
	return ed25519.Verify(ed25519.PublicKey(pub[:]), msg, sig)
}

// SigningKeyOf decodes the public signing key an IdentityID names.
func SigningKeyOf(id domain.IdentityID) (domain.Ed25519Public, error) {
	var pub domain.Ed25519Public
	b, err := hex.DecodeString(id.String())
	if err != nil || len(b) != len(pub) {
		return pub, fmt.Errorf("%w: identity %q", domain.ErrInvalidKey, id.Short())
	}
	copy(pub[:], b)
	return pub, nil
}

// VerifyIdentity verifies sig over msg against the signing key named by id.
func VerifyIdentity(id domain.IdentityID, msg, sig []byte) bool {
	pub, err := SigningKeyOf(id)
	if err != nil {
		return false
	}
	return Verify(pub, msg, sig)
}
