// Package relay provides an HTTP implementation of the domain.RelayClient
// interface used by courier.
//
// The relay stores community records, signed posts and encrypted channel
// items, and publishes each identity's agreement public key. It never sees
// plaintext of direct messages or any private key.
//
// Supported operations include:
//   - Fetching the items of a room after a timestamp, or one item by id.
//   - Publishing our agreement public key and fetching a peer's.
//   - Creating communities and posts.
//   - Engagement (like/repost) and moderation actions.
//
// All requests are JSON over HTTP and accept a context for cancellation and
// deadlines. Network failures wrap domain.ErrTransport, 401/403 replies wrap
// domain.ErrSignatureInvalid, and other non-2xx statuses are returned as
// errors with the HTTP method, path and status text to aid diagnostics.
package relay
