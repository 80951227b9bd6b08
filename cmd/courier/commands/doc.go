// Package commands defines the courier CLI and wires dependencies for subcommands.
//
// Commands
//
//   - init              Create the local identity and publish its agreement key
//   - fingerprint       Print the identity fingerprint
//   - publish-key       Re-publish the agreement public key
//   - create-community  Create a community and join it
//   - communities       List cached communities
//   - join / leave      Change community membership
//   - posts             List cached posts of a community
//   - post              Publish a post
//   - like / repost     Toggle engagement on a post
//   - moderate          Hide, flag or delete a post
//   - dm                Encrypt and send a direct message
//   - conversation      Print the cached messages with a peer
//   - sync              Run one catch-up pass
//   - listen            Stay connected and print live activity
//
// # Implementation
//
// The root command loads the YAML config, applies environment overrides,
// sets up logging and builds the dependency graph (vault, cache, relay
// client, connection manager, services) before any subcommand runs. The
// vault passphrase comes from --passphrase or COURIER_PASSPHRASE.
package commands
