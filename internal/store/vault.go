package store

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"courier/internal/crypto"
	"courier/internal/domain"
)

const (
	vaultSubdir = "vault"
	kdfFilename = "kdf.json"
	entryExt    = ".sealed"
	canaryName  = "vault/canary"
)

// ErrExists is returned by Create when the name is already present.
var ErrExists = errors.New("vault entry already exists")

// Vault is a passphrase-sealed, file-backed secret store.
//
// The sealing key is derived once per Open with scrypt from the passphrase
// and a salt persisted beside the entries; each entry is sealed with
// XChaCha20-Poly1305 under a fresh nonce with its name as associated data.
// All methods are safe for concurrent use.
type Vault struct {
	dir string
	key []byte
	mu  sync.Mutex
}

type vaultOptions struct {
	n, r, p int
}

// VaultOption tunes OpenVault.
type VaultOption func(*vaultOptions)

// WithScryptParams overrides the scrypt cost used when a vault is first
// created. Existing vaults keep the parameters recorded on disk.
func WithScryptParams(N, r, p int) VaultOption {
	return func(o *vaultOptions) { o.n, o.r, o.p = N, r, p }
}

// OpenVault opens (or initialises) the vault under dir.
//
// A canary entry is written on first use and opened on every later Open, so
// a wrong passphrase fails here with ErrWrongPassphrase rather than on the
// first read.
func OpenVault(dir, passphrase string, opts ...VaultOption) (*Vault, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("vault: passphrase required")
	}
	o := vaultOptions{}
	o.n, o.r, o.p = scryptParamsDefault()
	for _, opt := range opts {
		opt(&o)
	}

	root := filepath.Join(dir, vaultSubdir)
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("vault: %w", err)
	}

	params, err := loadOrCreateKDF(filepath.Join(root, kdfFilename), o)
	if err != nil {
		return nil, fmt.Errorf("vault: %w", err)
	}
	key, err := params.deriveKey(passphrase)
	if err != nil {
		return nil, fmt.Errorf("vault: %w", err)
	}

	v := &Vault{dir: root, key: key}
	if err := v.checkCanary(); err != nil {
		v.Close()
		return nil, err
	}
	return v, nil
}

func loadOrCreateKDF(path string, o vaultOptions) (kdfParams, error) {
	var params kdfParams
	found, err := readJSON(path, &params)
	if err != nil {
		return kdfParams{}, err
	}
	if found {
		return params, nil
	}
	params, err = newKDFParams(o.n, o.r, o.p)
	if err != nil {
		return kdfParams{}, err
	}
	b, err := jsonBytes(params)
	if err != nil {
		return kdfParams{}, err
	}
	if err := createFile(path, b, 0o600); err != nil {
		if !errors.Is(err, os.ErrExist) {
			return kdfParams{}, err
		}
		// Another opener won the race; use its salt.
		if _, err := readJSON(path, &params); err != nil {
			return kdfParams{}, err
		}
	}
	return params, nil
}

func (v *Vault) checkCanary() error {
	_, ok, err := v.Get(canaryName)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	err = v.Create(canaryName, []byte("courier"))
	if errors.Is(err, ErrExists) {
		_, _, err = v.Get(canaryName)
	}
	return err
}

// Get returns the value stored under name and whether it was present.
func (v *Vault) Get(name string) ([]byte, bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	b, err := readFile(v.path(name))
	if err != nil {
		return nil, false, err
	}
	if b == nil {
		return nil, false, nil
	}
	pt, err := open(v.key, name, b)
	if err != nil {
		return nil, false, err
	}
	return pt, true, nil
}

// Set stores value under name, replacing any previous value.
func (v *Vault) Set(name string, value []byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	blob, err := seal(v.key, name, value)
	if err != nil {
		return err
	}
	return writeFile(v.path(name), blob, 0o600)
}

// Create stores value under name only if name is absent.
func (v *Vault) Create(name string, value []byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	blob, err := seal(v.key, name, value)
	if err != nil {
		return err
	}
	if err := createFile(v.path(name), blob, 0o600); err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%w: %s", ErrExists, name)
		}
		return err
	}
	return nil
}

// Delete removes name. Deleting a missing name is not an error.
func (v *Vault) Delete(name string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	err := os.Remove(v.path(name))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// Close wipes the derived key. The vault must not be used afterwards.
func (v *Vault) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	crypto.Wipe(v.key)
}

func (v *Vault) path(name string) string {
	sum := sha256.Sum256([]byte(name))
	return filepath.Join(v.dir, hex.EncodeToString(sum[:])+entryExt)
}

// Compile-time assertion that Vault implements domain.SecureStorage.
var _ domain.SecureStorage = (*Vault)(nil)
