package store

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"
)

const (
	// The current supported version of the sealed blob format stored on disk.
	vaultFormatVersion = 1

	saltBytes = 16
)

var (
	// ErrWrongPassphrase is returned when the passphrase is incorrect or the
	// sealed file has been modified / corrupted.
	ErrWrongPassphrase = errors.New("wrong passphrase or corrupted vault entry")
)

// kdfParams are the scrypt tunables recorded next to the salt so a vault
// opened later derives the same key.
type kdfParams struct {
	V    int    `json:"v"`
	Salt []byte `json:"salt"`
	N    int    `json:"scrypt_N"`
	R    int    `json:"scrypt_r"`
	P    int    `json:"scrypt_p"`
}

// sealedBlob is the on-disk JSON structure of one vault entry.
type sealedBlob struct {
	V      int    `json:"v"`
	Nonce  []byte `json:"nonce"`
	Cipher []byte `json:"cipher"`
}

// Tunables for scrypt key derivation.
func scryptParamsDefault() (N, r, p int) { return 1 << 15, 8, 1 }

func newKDFParams(N, r, p int) (kdfParams, error) {
	salt := make([]byte, saltBytes)
	if _, err := rand.Read(salt); err != nil {
		return kdfParams{}, err
	}
	return kdfParams{V: vaultFormatVersion, Salt: salt, N: N, R: r, P: p}, nil
}

func (k kdfParams) deriveKey(passphrase string) ([]byte, error) {
	if k.V > vaultFormatVersion {
		return nil, fmt.Errorf("unsupported vault version %d", k.V)
	}
	if len(k.Salt) != saltBytes {
		return nil, fmt.Errorf("invalid salt size %d", len(k.Salt))
	}
	return scrypt.Key([]byte(passphrase), k.Salt, k.N, k.R, k.P, chacha20poly1305.KeySize)
}

// seal encrypts raw under key, binding the entry name as associated data so
// files cannot be swapped between names.
func seal(key []byte, name string, raw []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	ct := aead.Seal(nil, nonce, raw, []byte(name))
	return json.Marshal(sealedBlob{V: vaultFormatVersion, Nonce: nonce, Cipher: ct})
}

// open reverses seal.
func open(key []byte, name string, b []byte) ([]byte, error) {
	var bl sealedBlob
	if err := json.Unmarshal(b, &bl); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWrongPassphrase, err)
	}
	if bl.V > vaultFormatVersion {
		return nil, fmt.Errorf("unsupported vault version %d", bl.V)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	if len(bl.Nonce) != aead.NonceSize() {
		return nil, ErrWrongPassphrase
	}
	pt, err := aead.Open(nil, bl.Nonce, bl.Cipher, []byte(name))
	if err != nil {
		return nil, ErrWrongPassphrase
	}
	return pt, nil
}
