// Package session owns the call session lifecycle.
//
// # States
//
// A session starts as "initiated", may become "active", and ends in one of
// the terminal states "completed", "failed" or "transferred". Terminal
// states are sticky: the transition table has no edges out of them, so a
// delayed "active" event arriving after completion is a recorded no-op,
// never a resurrection.
//
// # Idempotency
//
// Creation is keyed by (org, lead, external conversation id). Webhook
// redelivery of a creation event returns the existing row with
// created=false. Transitions go through the store's conditional update
// (UPDATE ... WHERE status IN (...)), so concurrent deliveries of the same
// event race safely: one changes the row, the rest observe zero rows
// affected.
//
// # Side Effects
//
// Successful transitions publish hub events for connected dashboards, and
// terminal transitions invalidate the lead's cached conversation context.
// CleanupStale applies the same machinery to sessions that outlived the
// configured maximum age, marking them completed with reason
// "stale_session".
package session
