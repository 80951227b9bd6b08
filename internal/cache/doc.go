// Package cache provides the SQLite-backed local mirror of relay state: the
// single read model for the UI.
//
// Tables:
//   - communities: one row per community, ordered by created_at desc
//   - posts: cascade-deleted with their community, indexed by community id
//     and by (community id, timestamp)
//   - messages: decrypted channel messages
//   - sync_cursors: per-room relay sequence cursors and tracked direct
//     channels
//
// Local posts and messages carry a pending flag until the relay's copy is
// merged over them.
//
// # Merge semantics
//
// Upserts use INSERT ... ON CONFLICT(id) DO UPDATE so that applying the same
// record from an optimistic write, a live event and a catch-up batch in any
// order converges to one row. An upsert that would change a row's author,
// sender, community or channel is refused. INSERT OR REPLACE is avoided: it deletes the
// old row first, which would fire the community → posts cascade.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce the community → post cascade
//
// Every method is one statement and therefore atomic on its own; there are
// no multi-statement transactions.
package cache
