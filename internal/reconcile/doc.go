// Package reconcile merges relay state into the local cache.
//
// Every ingestion path goes through Reconciler.Apply: the catch-up pass after
// (re)connect or resume, live events from the connection bus, and push
// notifications. Apply decrypts encrypted items with the secret shared with
// the channel counterpart, verifies post signatures, and upserts the result.
// An item that fails to authenticate is never written.
//
// Catch-up keeps a per-room cursor in the cache holding the relay's sequence
// number, which follows arrival order rather than sender clocks. An item that
// can never merge as served (forged signature, malformed, undecryptable under
// a fresh key) is logged and passed. An item that failed for a passing reason,
// such as an unknown peer key or a cache error, holds the cursor so it is
// fetched again on the next pass.
//
// Live events are decoded on the bus goroutine and merged by a single worker
// behind a bounded queue; an event that finds the queue full is left for the
// next catch-up.
//
// Scheduler runs catch-up periodically with random jitter and on demand via
// Trigger. It does not decide when the app is foregrounded; the host starts
// and stops it.
package reconcile
