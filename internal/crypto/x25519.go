package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"courier/internal/domain"
)

// sharedSecretInfo binds derived secrets to this protocol version.
const sharedSecretInfo = "courier/shared-secret/v1"

// GenerateAgreementKeyPair returns a fresh X25519 key pair.
// The private key is clamped per RFC 7748.
func GenerateAgreementKeyPair() (domain.AgreementKeyPair, error) {
	var kp domain.AgreementKeyPair
	if _, err := rand.Read(kp.Private[:]); err != nil {
		return domain.AgreementKeyPair{}, err
	}
	clamp(&kp.Private)
	pub, err := curve25519.X25519(kp.Private.Slice(), curve25519.Basepoint)
	if err != nil {
		return domain.AgreementKeyPair{}, err
	}
	copy(kp.Public[:], pub)
	return kp, nil
}

// PublicFromPrivate recomputes the public half of an agreement key.
func PublicFromPrivate(priv domain.X25519Private) (domain.X25519Public, error) {
	var pub domain.X25519Public
	if priv.IsZero() {
		return pub, fmt.Errorf("%w: zero private key", domain.ErrInvalidKey)
	}
	b, err := curve25519.X25519(priv.Slice(), curve25519.Basepoint)
	if err != nil {
		return pub, fmt.Errorf("%w: %v", domain.ErrInvalidKey, err)
	}
	copy(pub[:], b)
	return pub, nil
}

// ParseAgreementPublic validates the length of an encoded public key.
func ParseAgreementPublic(b []byte) (domain.X25519Public, error) {
	var pub domain.X25519Public
	if len(b) != len(pub) {
		return pub, fmt.Errorf("%w: want %d bytes, got %d", domain.ErrInvalidKey, len(pub), len(b))
	}
	copy(pub[:], b)
	return pub, nil
}

// DeriveSharedSecret computes X25519(localPrivate, remotePublic) and expands
// it with HKDF-SHA256. Both parties obtain the same secret.
//
// Low-order remote points produce an all-zero DH output, which is rejected
// as domain.ErrInvalidKey.
func DeriveSharedSecret(localPrivate domain.X25519Private, remotePublic domain.X25519Public) (domain.SharedSecret, error) {
	var out domain.SharedSecret
	if localPrivate.IsZero() {
		return out, fmt.Errorf("%w: zero private key", domain.ErrInvalidKey)
	}
	if remotePublic.IsZero() {
		return out, fmt.Errorf("%w: zero public key", domain.ErrInvalidKey)
	}

	dh, err := curve25519.X25519(localPrivate.Slice(), remotePublic.Slice())
	if err != nil {
		return out, fmt.Errorf("%w: %v", domain.ErrInvalidKey, err)
	}
	defer Wipe(dh)

	var zero [32]byte
	if subtle.ConstantTimeCompare(dh, zero[:]) == 1 {
		return out, fmt.Errorf("%w: low-order public key", domain.ErrInvalidKey)
	}

	kdf := hkdf.New(sha256.New, dh, nil, []byte(sharedSecretInfo))
	if _, err := io.ReadFull(kdf, out[:]); err != nil {
		return domain.SharedSecret{}, err
	}
	return out, nil
}

func clamp(k *domain.X25519Private) {
	kb := k[:]
	kb[0] &= 248
	kb[31] &= 127
	kb[31] |= 64
}
