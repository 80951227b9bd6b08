package types

// X25519Public is a Curve25519 public key.
type X25519Public [32]byte

// Slice returns the key as a []byte.
func (p X25519Public) Slice() []byte { return p[:] }

// IsZero reports whether the key is unset.
func (p X25519Public) IsZero() bool { return p == X25519Public{} }

// X25519Private is a Curve25519 private key.
type X25519Private [32]byte

// Slice returns the key as a []byte.
func (k X25519Private) Slice() []byte { return k[:] }

// IsZero reports whether the key is unset.
func (k X25519Private) IsZero() bool { return k == X25519Private{} }

// Ed25519Public is an Ed25519 signing public key.
type Ed25519Public [32]byte

// Slice returns the key as a []byte.
func (p Ed25519Public) Slice() []byte { return p[:] }

// Ed25519Private is an Ed25519 signing private key.
type Ed25519Private [64]byte

// Slice returns the key as a []byte.
func (k Ed25519Private) Slice() []byte { return k[:] }

// AgreementKeyPair is the per-device X25519 pair used only for encryption.
type AgreementKeyPair struct {
	Public  X25519Public  `json:"public"`
	Private X25519Private `json:"private"`
}

// SharedSecret is the symmetric key two parties derive from their agreement
// keys. It is never persisted.
type SharedSecret [32]byte

// Slice returns the secret as a []byte.
func (s SharedSecret) Slice() []byte { return s[:] }
