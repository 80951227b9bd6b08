package keystore

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"courier/internal/crypto"
	"courier/internal/domain"
)

// Secrets caches shared secrets in memory, keyed by remote identity. Secrets
// are never persisted.
type Secrets struct {
	keys     domain.KeyStore
	resolver domain.PeerKeyResolver
	log      logrus.FieldLogger

	mu    sync.Mutex
	peers map[secretKey]domain.SharedSecret
}

type secretKey struct {
	local, remote domain.IdentityID
}

// NewSecrets returns a cache deriving from keys and resolving peers via resolver.
func NewSecrets(keys domain.KeyStore, resolver domain.PeerKeyResolver, log logrus.FieldLogger) *Secrets {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Secrets{
		keys:     keys,
		resolver: resolver,
		log:      log.WithField("component", "secrets"),
		peers:    make(map[secretKey]domain.SharedSecret),
	}
}

// Secret returns the secret shared between local and remote.
func (s *Secrets) Secret(ctx context.Context, local, remote domain.IdentityID) (domain.SharedSecret, error) {
	k := secretKey{local: local, remote: remote}
	s.mu.Lock()
	sec, ok := s.peers[k]
	s.mu.Unlock()
	if ok {
		return sec, nil
	}

	kp, err := s.keys.LoadOrCreate(ctx, local)
	if err != nil {
		return domain.SharedSecret{}, err
	}
	pub, err := s.resolver.FetchAgreementKey(ctx, remote)
	if err != nil {
		return domain.SharedSecret{}, fmt.Errorf("resolve agreement key of %s: %w", remote.Short(), err)
	}
	sec, err = crypto.DeriveSharedSecret(kp.Private, pub)
	if err != nil {
		return domain.SharedSecret{}, fmt.Errorf("derive secret with %s: %w", remote.Short(), err)
	}

	s.mu.Lock()
	s.peers[k] = sec
	s.mu.Unlock()
	s.log.WithFields(logrus.Fields{
		"remote":      remote.Short(),
		"peer_prefix": crypto.KeyPrefix(pub[:]),
	}).Debug("shared secret derived")
	return sec, nil
}

// Invalidate drops every cached secret with remote, forcing the next Secret
// call to refetch the peer's agreement key.
func (s *Secrets) Invalidate(remote domain.IdentityID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.peers {
		if k.remote == remote {
			delete(s.peers, k)
		}
	}
}
