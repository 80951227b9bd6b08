// Package keystore manages the lifecycle of the local agreement key pair and
// the in-memory cache of shared secrets derived from it.
//
// KeyStore persists one X25519 pair per identity in a domain.SecureStorage.
// Creation is serialized per identity in-process and made exclusive on disk
// with SecureStorage.Create, so concurrent first-run initialization yields
// exactly one key. Storage failures surface as domain.ErrKeyStoreUnavailable
// and are never papered over with an ephemeral key.
//
// Secrets resolves peer agreement keys through a domain.PeerKeyResolver and
// caches the derived secrets keyed by remote identity.
package keystore
