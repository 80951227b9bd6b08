// Package main runs the in-memory development relay used by courier clients
// during development. It serves the REST API, the WebSocket endpoint and the
// long-polling fallback implemented by internal/relay/relaytest.
//
// Usage
//
//	relay --addr :8080 --log-format json
//
// Behaviour
//
//   - All state is held in memory and lost on process exit.
//   - Each request is logged with method, path, status and duration.
//   - SIGINT or SIGTERM drains in-flight requests for up to five seconds.
//
// The relay never sees plaintext of direct messages or private keys; it only
// stores envelopes, signed posts and public agreement keys.
package main
