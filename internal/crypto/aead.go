package crypto

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"courier/internal/domain"
)

const (
	// NonceBytes is the IV length of an envelope.
	NonceBytes = chacha20poly1305.NonceSizeX
	// TagBytes is the authentication tag length of an envelope.
	TagBytes = chacha20poly1305.Overhead
)

// Encrypt seals plaintext under secret with XChaCha20-Poly1305.
//
// Each call draws a fresh 192-bit random nonce, so nonces never repeat under
// the same key in practice.
func Encrypt(secret domain.SharedSecret, plaintext []byte) (domain.EncryptedEnvelope, error) {
	aead, err := chacha20poly1305.NewX(secret.Slice())
	if err != nil {
		return domain.EncryptedEnvelope{}, err
	}
	nonce := make([]byte, NonceBytes)
	if _, err := rand.Read(nonce); err != nil {
		return domain.EncryptedEnvelope{}, err
	}
	sealed := aead.Seal(nil, nonce, plaintext, nil)
	split := len(sealed) - TagBytes
	return domain.EncryptedEnvelope{
		IV:         nonce,
		Ciphertext: sealed[:split:split],
		AuthTag:    sealed[split:],
	}, nil
}

// Decrypt opens env under secret. Any mismatch of key, nonce, ciphertext or
// tag returns domain.ErrAuthenticationFailed and no plaintext.
func Decrypt(secret domain.SharedSecret, env domain.EncryptedEnvelope) ([]byte, error) {
	if len(env.IV) != NonceBytes {
		return nil, fmt.Errorf("%w: iv length %d", domain.ErrAuthenticationFailed, len(env.IV))
	}
	if len(env.AuthTag) != TagBytes {
		return nil, fmt.Errorf("%w: tag length %d", domain.ErrAuthenticationFailed, len(env.AuthTag))
	}
	aead, err := chacha20poly1305.NewX(secret.Slice())
	if err != nil {
		return nil, err
	}
	sealed := make([]byte, 0, len(env.Ciphertext)+TagBytes)
	sealed = append(sealed, env.Ciphertext...)
	sealed = append(sealed, env.AuthTag...)

	plaintext, err := aead.Open(nil, env.IV, sealed, nil)
	if err != nil {
		return nil, domain.ErrAuthenticationFailed
	}
	return plaintext, nil
}
