package keystore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"courier/internal/crypto"
	"courier/internal/domain"
	"courier/internal/store"
)

const entryPrefix = "agreement-key/"

// KeyStore stores agreement key pairs indexed by identity.
type KeyStore struct {
	storage domain.SecureStorage
	log     logrus.FieldLogger

	mu    sync.Mutex
	locks map[domain.IdentityID]*sync.Mutex
	cache map[domain.IdentityID]domain.AgreementKeyPair
}

// New returns a KeyStore on top of storage. A nil logger uses the logrus
// standard logger.
func New(storage domain.SecureStorage, log logrus.FieldLogger) *KeyStore {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &KeyStore{
		storage: storage,
		log:     log.WithField("component", "keystore"),
		locks:   make(map[domain.IdentityID]*sync.Mutex),
		cache:   make(map[domain.IdentityID]domain.AgreementKeyPair),
	}
}

// LoadOrCreate returns the agreement key pair for id, generating and
// persisting one first if none exists. At most one pair is ever created per
// identity; concurrent callers all receive the same key material.
func (ks *KeyStore) LoadOrCreate(ctx context.Context, id domain.IdentityID) (domain.AgreementKeyPair, error) {
	if id == "" {
		return domain.AgreementKeyPair{}, fmt.Errorf("%w: empty identity", domain.ErrInvalidKey)
	}
	if kp, ok := ks.cached(id); ok {
		return kp, nil
	}

	lock := ks.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return domain.AgreementKeyPair{}, err
	}
	if kp, ok := ks.cached(id); ok {
		return kp, nil
	}

	kp, ok, err := ks.load(id)
	if err != nil {
		return domain.AgreementKeyPair{}, err
	}
	if ok {
		ks.remember(id, kp)
		return kp, nil
	}

	kp, err = crypto.GenerateAgreementKeyPair()
	if err != nil {
		return domain.AgreementKeyPair{}, err
	}
	raw, err := json.Marshal(kp)
	if err != nil {
		return domain.AgreementKeyPair{}, err
	}
	err = ks.storage.Create(entryPrefix+id.String(), raw)
	switch {
	case err == nil:
		ks.log.WithFields(logrus.Fields{
			"identity":   id.Short(),
			"key_prefix": crypto.KeyPrefix(kp.Public[:]),
		}).Info("agreement key created")
	case errors.Is(err, store.ErrExists):
		// Another process persisted first; its key is authoritative.
		crypto.Wipe(kp.Private[:])
		kp, ok, err = ks.load(id)
		if err != nil {
			return domain.AgreementKeyPair{}, err
		}
		if !ok {
			return domain.AgreementKeyPair{}, fmt.Errorf("%w: key vanished after create race", domain.ErrKeyStoreUnavailable)
		}
	default:
		return domain.AgreementKeyPair{}, fmt.Errorf("%w: persist agreement key: %v", domain.ErrKeyStoreUnavailable, err)
	}

	ks.remember(id, kp)
	return kp, nil
}

// Get returns the stored key pair for id without creating one.
func (ks *KeyStore) Get(ctx context.Context, id domain.IdentityID) (domain.AgreementKeyPair, bool, error) {
	if kp, ok := ks.cached(id); ok {
		return kp, true, nil
	}
	if err := ctx.Err(); err != nil {
		return domain.AgreementKeyPair{}, false, err
	}
	kp, ok, err := ks.load(id)
	if err != nil || !ok {
		return domain.AgreementKeyPair{}, ok, err
	}
	ks.remember(id, kp)
	return kp, true, nil
}

// Delete removes the key pair of id. Only explicit account removal calls this.
func (ks *KeyStore) Delete(ctx context.Context, id domain.IdentityID) error {
	lock := ks.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	if err := ks.storage.Delete(entryPrefix + id.String()); err != nil {
		return fmt.Errorf("%w: delete agreement key: %v", domain.ErrKeyStoreUnavailable, err)
	}
	ks.mu.Lock()
	delete(ks.cache, id)
	ks.mu.Unlock()
	ks.log.WithField("identity", id.Short()).Warn("agreement key deleted")
	return nil
}

func (ks *KeyStore) load(id domain.IdentityID) (domain.AgreementKeyPair, bool, error) {
	raw, ok, err := ks.storage.Get(entryPrefix + id.String())
	if err != nil {
		return domain.AgreementKeyPair{}, false, fmt.Errorf("%w: read agreement key: %v", domain.ErrKeyStoreUnavailable, err)
	}
	if !ok {
		return domain.AgreementKeyPair{}, false, nil
	}
	defer crypto.Wipe(raw)

	var kp domain.AgreementKeyPair
	if err := json.Unmarshal(raw, &kp); err != nil {
		return domain.AgreementKeyPair{}, false, fmt.Errorf("%w: decode agreement key: %v", domain.ErrKeyStoreUnavailable, err)
	}
	pub, err := crypto.PublicFromPrivate(kp.Private)
	if err != nil || pub != kp.Public {
		return domain.AgreementKeyPair{}, false, fmt.Errorf("%w: stored agreement key is inconsistent", domain.ErrKeyStoreUnavailable)
	}
	return kp, true, nil
}

func (ks *KeyStore) lockFor(id domain.IdentityID) *sync.Mutex {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	l, ok := ks.locks[id]
	if !ok {
		l = &sync.Mutex{}
		ks.locks[id] = l
	}
	return l
}

func (ks *KeyStore) cached(id domain.IdentityID) (domain.AgreementKeyPair, bool) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	kp, ok := ks.cache[id]
	return kp, ok
}

func (ks *KeyStore) remember(id domain.IdentityID, kp domain.AgreementKeyPair) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	ks.cache[id] = kp
}

// Compile-time assertion that KeyStore implements domain.KeyStore.
var _ domain.KeyStore = (*KeyStore)(nil)
