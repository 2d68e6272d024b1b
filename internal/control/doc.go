// Package control arbitrates human takeover of AI-led conversations.
//
// # Model
//
// At most one operator controls a lead's conversation at any time. While
// control is held, the operator authors responses instead of the AI. The
// grant is scoped to the lead, not to a single call session: it survives
// across channels (voice, SMS) until released or reconciled away.
//
// # Arbitration
//
// The single source of truth is a partial unique index in the store over
// open control sessions. Join attempts translate to an INSERT against that
// index:
//
//   - The insert succeeds: the caller now holds control.
//   - The insert violates the index: someone else holds it; the caller is
//     told who. This is a JoinResult, not an error.
//
// There is no in-memory lock and no lease renewal. Two operators clicking
// "take over" within the same millisecond resolve entirely inside SQLite,
// and a restarted server forgets nothing.
//
// # Sending
//
// SendMessage revalidates control on every call. A stale dashboard that
// lost control (released, or reconciled away) gets ErrNotControlled rather
// than silently writing into a conversation it no longer owns.
//
// # Release
//
// Leave is idempotent and only honored for the holder. The reconciler can
// ForceRelease a grant whose call session has ended, so an operator who
// closed their laptop does not block the lead's next call.
package control
