// Package crypto exposes the primitives used by the sync engine.
//
// Contents
//
//   - X25519 agreement key pairs and shared-secret derivation
//     (GenerateAgreementKeyPair, DeriveSharedSecret)
//   - Authenticated encryption with a fresh random nonce per call
//     (Encrypt, Decrypt)
//   - Ed25519 signing identity (GenerateIdentity, Sign, Verify)
//   - Canonical message strings covered by relay signatures
//     (PostMessage, ActionMessage, AgreementKeyMessage)
//   - Best-effort memory wiping for sensitive byte slices (Wipe)
//   - Short public-key fingerprints for display/logging (Fingerprint)
//
// # Notes
//
// Every function is pure and safe for concurrent use. Errors are classified
// with the domain sentinels: malformed keys yield domain.ErrInvalidKey and
// any decryption failure yields domain.ErrAuthenticationFailed, never a
// partial plaintext.
package crypto
