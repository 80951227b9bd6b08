package store

import (
	"encoding/json"
	"errors"
	"fmt"

	"courier/internal/domain"
)

const identityEntry = "identity/signing"

// ErrNoIdentity is returned when no local identity has been created yet.
var ErrNoIdentity = errors.New("no local identity; run init first")

// IdentityVaultStore persists the local signing identity inside a SecureStorage.
type IdentityVaultStore struct {
	storage domain.SecureStorage
}

// NewIdentityVaultStore returns an IdentityVaultStore backed by storage.
func NewIdentityVaultStore(storage domain.SecureStorage) *IdentityVaultStore {
	return &IdentityVaultStore{storage: storage}
}

// CreateIdentity writes the identity. An existing identity is never
// overwritten; the call fails with ErrExists instead.
func (s *IdentityVaultStore) CreateIdentity(id domain.Identity) error {
	raw, err := json.Marshal(id)
	if err != nil {
		return err
	}
	return s.storage.Create(identityEntry, raw)
}

// LoadIdentity reads and decodes the identity.
func (s *IdentityVaultStore) LoadIdentity() (domain.Identity, error) {
	raw, ok, err := s.storage.Get(identityEntry)
	if err != nil {
		return domain.Identity{}, err
	}
	if !ok {
		return domain.Identity{}, ErrNoIdentity
	}
	var id domain.Identity
	if err := json.Unmarshal(raw, &id); err != nil {
		return domain.Identity{}, fmt.Errorf("decode identity: %w", err)
	}
	return id, nil
}

// DeleteIdentity removes the identity for explicit account removal.
func (s *IdentityVaultStore) DeleteIdentity() error {
	return s.storage.Delete(identityEntry)
}

var _ domain.IdentityStore = (*IdentityVaultStore)(nil)
