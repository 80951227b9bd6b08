// Package identity manages creation and loading of the local signing
// identity and publication of its agreement key.
//
// It enforces passphrase policy for the vault, generates the Ed25519 signing
// key pair, persists it via the domain.IdentityStore, and makes sure an X25519
// agreement key exists for it in the KeyStore.
package identity
