// Package feed implements the community intents: creating and joining
// communities, publishing posts, engagement and moderation.
//
// Writes are optimistic. The cache is updated first so the UI reflects the
// intent immediately, then the intent is sent to the relay. Publishing while
// disconnected keeps the cached post and returns domain.ErrNotConnected so the
// caller can retry. Engagement toggles apply the relay's authoritative counts
// on success and roll back on failure.
package feed
