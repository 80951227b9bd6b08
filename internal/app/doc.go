// Package app wires application dependencies for the CLI.
//
// It loads Config from YAML and the environment, builds the vault, cache,
// relay client, connection manager, reconciler and services, and exposes
// them via the Wire struct. Wire also drives the client lifecycle:
// Foreground resumes the real-time channel and catch-up, Background pauses
// both, Close releases everything.
package app
