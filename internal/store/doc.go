// Package store provides file-based persistence for secrets.
//
// Vault implements domain.SecureStorage: an opaque get/set-by-name store
// standing in for the platform keychain. Entries are sealed under a
// passphrase-derived key and written atomically (temp file + rename, or
// temp file + link for create-if-absent). All methods are concurrency-safe
// via internal locking. Files live under the configured home directory.
//
// IdentityVaultStore keeps the local signing identity inside a vault.
package store
