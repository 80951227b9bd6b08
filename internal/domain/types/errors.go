package types

import "errors"

var (
	// ErrInvalidKey reports malformed or unusable key material.
	ErrInvalidKey = errors.New("invalid key")
	// ErrAuthenticationFailed reports a ciphertext whose tag did not verify.
	ErrAuthenticationFailed = errors.New("authentication failed")
	// ErrKeyStoreUnavailable reports that key material could not be read or persisted.
	ErrKeyStoreUnavailable = errors.New("key store unavailable")
	// ErrNotConnected reports an operation that needs a Connected transport.
	ErrNotConnected = errors.New("not connected")
	// ErrTransport reports a network-level failure.
	ErrTransport = errors.New("transport error")
	// ErrSignatureInvalid reports a relay rejection of a signed payload.
	ErrSignatureInvalid = errors.New("signature invalid")
	// ErrNotFound reports a missing record.
	ErrNotFound = errors.New("not found")
	// ErrConflict reports a write that would change who authored an existing
	// record or where it lives.
	ErrConflict = errors.New("conflicting record")
)
