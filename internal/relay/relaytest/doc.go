// Package relaytest implements an in-memory relay used by cmd/relay during
// development and by integration tests through httptest.
//
// HTTP API
//
//	GET  /channels/{room}/items?since=TS   items newer than TS, oldest first
//	GET  /channels/{room}/items/{id}       one item
//	PUT  /keys/{identity}                  publish a signed agreement key
//	GET  /keys/{identity}                  fetch an agreement key
//	POST /communities                      create a signed community
//	POST /posts                            create a signed post
//	POST /posts/{id}/engagement            like/unlike/repost/unrepost
//	POST /posts/{id}/moderation            hide/flag/delete (creator only)
//
// Real-time
//
//	GET    /rt/ws                          WebSocket, JSON frames
//	POST   /rt/sessions                    open a long-poll session
//	POST   /rt/sessions/{id}/frames        upload one frame
//	GET    /rt/sessions/{id}/frames?wait=  long-poll pending frames
//	DELETE /rt/sessions/{id}               close the session
//
// Behaviour
//
//   - All state is held in memory and lost on process exit.
//   - Signed payloads are verified against the signing key named by the
//     identity; failures reply 401, moderation by a non-creator 403.
//   - Room broadcasts include the sender; clients drop their own echoes.
//   - Direct-channel items are stored as opaque envelopes.
package relaytest
