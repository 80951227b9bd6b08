// Package connection owns the single real-time connection to the relay.
//
// A Manager is constructed once at start and shared. It drives the state
// machine
//
//	Disconnected → Connecting → Authenticating → Connected
//	      ↑                                          │
//	      └──────────── loss / failure ──────────────┘
//	Paused (entered only via Pause, left only via Resume)
//
// and keeps the RoomMembership set across reconnects: every time the
// connection reaches Connected, a join_room frame is replayed for each room.
//
// Reconnection uses exponential backoff over a bounded number of primary
// attempts, after which the fallback dialer (HTTP long-poll) gets one final
// attempt. Losing the connection in any state other than Paused schedules an
// automatic reconnect; Pause cancels in-flight attempts and never reconnects.
//
// Inbound frames are published on an event Bus. Events authored by the local
// identity are dropped before dispatch, so optimistic local writes are not
// applied twice.
package connection
