// Package message sends end-to-end encrypted direct messages.
//
// Each pair of identities shares one deterministic channel
// (domain.DirectChannel). Messages are encrypted under the secret derived
// from the two agreement keys, written to the cache as plaintext for the
// local UI, and sent as an opaque envelope over the real-time connection.
// Receiving is handled by the reconciler, which owns every cache merge.
package message
