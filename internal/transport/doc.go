// Package transport carries framed JSON messages between the client and the
// relay's real-time endpoint.
//
// Two dialers are provided:
//   - WebSocketDialer, the primary transport, one persistent socket with
//     ping/pong keepalive.
//   - PollingDialer, an HTTP long-poll fallback used when the socket cannot
//     be established (proxies that strip upgrades, captive networks).
//
// Both produce a Conn with the same Send/Receive/Close contract, so the
// connection manager does not care which one is live. Every network failure
// is wrapped with domain.ErrTransport.
package transport
