// Package gateway wires the voxplane HTTP surface to the domain services.
//
// # Surfaces
//
// Two authentication domains share one server:
//
//   - POST /webhooks/call-events: the voice provider's event feed,
//     authenticated by a shared secret header. The provider retries until
//     it sees a 2xx, so handlers acknowledge everything they cannot
//     process rather than triggering endless redelivery.
//
//   - /api/*: the operator dashboard, authenticated by HS256 JWTs carrying
//     the operator name and organization. Control actions (join, leave,
//     send), active session listing, stats and the SSE event stream.
//
// # Webhook Processing
//
// Every event carries an event_id. A TTL cache short-circuits redelivered
// ids; events that slip past it (restart, cache eviction) are absorbed by
// the idempotent store operations underneath, so deduplication is an
// optimization, not a correctness requirement.
//
// call.initiated resolves or creates the lead by normalized phone number,
// creates the session, and returns the bounded conversation context in the
// webhook response so the provider can prime the AI before the first
// exchange. Lifecycle events (call.active, call.completed, call.failed,
// call.transferred) map to session transitions.
//
// # Error Taxonomy
//
//   - Validation failures: 400 with a JSON error.
//   - Takeover conflicts: 409 with {"status":"conflict","controlled_by":...}.
//   - Unknown leads: 404.
//   - Malformed or unattributable webhooks: 200 {"status":"ignored"}, logged.
//   - Store failures: 500, logged with the cause.
//
// # Streaming
//
// GET /api/stream serves Server-Sent Events. On connect the client gets
// the organization's recent-event ring, then live events. Delivery is
// best-effort at-most-once; a client that reconnects re-reads current
// state from the API instead of relying on the stream being gapless.
//
// # Lifecycle
//
// Run starts the HTTP server and the background reconciler under one
// errgroup and shuts both down gracefully when the context is cancelled.
package gateway
