package identity

import (
	"context"
	"fmt"
	"unicode"

	"github.com/sirupsen/logrus"

	"courier/internal/crypto"
	"courier/internal/domain"
)

const (
	// minPassphraseLength defines the minimum number of characters required for a passphrase.
	minPassphraseLength = 12
)

var (
	// ErrWeakPassphrase is returned when the passphrase fails the strength policy.
	ErrWeakPassphrase = fmt.Errorf(
		"passphrase is too weak (must be at least %d characters and include upper, lower, "+
			"number, and symbol)",
		minPassphraseLength,
	)
)

// KeyPublisher uploads a signed agreement public key.
type KeyPublisher interface {
	PublishAgreementKey(ctx context.Context, id domain.IdentityID, pub domain.X25519Public, signature []byte) error
}

// Service manages the signing identity and its agreement key.
//
// The identity contains:
//   - Ed25519 key pair for signing posts, actions and the published agreement key.
//
// The X25519 agreement key pair lives in the KeyStore, keyed by identity.
type Service struct {
	store     domain.IdentityStore
	keys      domain.KeyStore
	publisher KeyPublisher
	log       logrus.FieldLogger
}

// New returns an identity service. publisher may be nil for offline use.
func New(s domain.IdentityStore, keys domain.KeyStore, publisher KeyPublisher, log logrus.FieldLogger) *Service {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{store: s, keys: keys, publisher: publisher, log: log.WithField("component", "identity")}
}

// GenerateIdentity creates a new identity, persists it, creates its
// agreement key, and returns the identity plus a short fingerprint of the
// signing public key.
func (s *Service) GenerateIdentity() (domain.Identity, domain.Fingerprint, error) {
	id, err := crypto.GenerateIdentity()
	if err != nil {
		return domain.Identity{}, "", err
	}
	if err := s.store.CreateIdentity(id); err != nil {
		return domain.Identity{}, "", fmt.Errorf("save identity: %w", err)
	}
	if _, err := s.keys.LoadOrCreate(context.Background(), id.ID()); err != nil {
		return domain.Identity{}, "", err
	}
	fp := crypto.Fingerprint(id.SignPub.Slice())
	s.log.WithFields(logrus.Fields{"identity": id.ID().Short(), "fingerprint": fp}).Info("identity created")
	return id, fp, nil
}

// LoadIdentity returns the local identity.
func (s *Service) LoadIdentity() (domain.Identity, error) {
	return s.store.LoadIdentity()
}

// FingerprintIdentity returns a short fingerprint of the local signing public key.
func (s *Service) FingerprintIdentity() (domain.Fingerprint, error) {
	id, err := s.store.LoadIdentity()
	if err != nil {
		return "", err
	}
	return crypto.Fingerprint(id.SignPub.Slice()), nil
}

// PublishAgreementKey signs the local agreement public key and uploads it so
// peers can derive shared secrets with us.
func (s *Service) PublishAgreementKey(ctx context.Context) (domain.X25519Public, error) {
	if s.publisher == nil {
		return domain.X25519Public{}, fmt.Errorf("publish agreement key: %w", domain.ErrNotConnected)
	}
	id, err := s.store.LoadIdentity()
	if err != nil {
		return domain.X25519Public{}, err
	}
	kp, err := s.keys.LoadOrCreate(ctx, id.ID())
	if err != nil {
		return domain.X25519Public{}, err
	}
	sig := crypto.Sign(id.SignPriv, crypto.AgreementKeyMessage(id.ID(), kp.Public))
	if err := s.publisher.PublishAgreementKey(ctx, id.ID(), kp.Public, sig); err != nil {
		return domain.X25519Public{}, fmt.Errorf("publish agreement key: %w", err)
	}
	s.log.WithFields(logrus.Fields{
		"identity":   id.ID().Short(),
		"key_prefix": crypto.KeyPrefix(kp.Public[:]),
	}).Info("agreement key published")
	return kp.Public, nil
}

// CheckPassphrase enforces a basic strength policy on a new vault passphrase.
func CheckPassphrase(passphrase string) error {
	if !isSecurePassphrase(passphrase) {
		return ErrWeakPassphrase
	}
	return nil
}

// isSecurePassphrase enforces a basic strength policy.
func isSecurePassphrase(passphrase string) bool {
	var hasUpper, hasLower, hasDigit, hasSymbol bool
	if len(passphrase) < minPassphraseLength {
		return false
	}
	for _, r := range passphrase {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r), unicode.IsSymbol(r):
			hasSymbol = true
		}
	}
	return hasUpper && hasLower && hasDigit && hasSymbol
}

// Compile-time assertion that Service implements domain.IdentityService.
var _ domain.IdentityService = (*Service)(nil)
