// Package store provides persistent storage for the control plane using SQLite.
//
// # Architecture
//
// A single Store interface covers the persistence boundary; SQLiteStore
// implements it. Every query is scoped by organization id - the store is the
// multi-tenant boundary and callers never see rows from another tenant.
//
// # Data Models
//
//   - Organization: the tenant boundary
//   - Lead: customer identity keyed by normalized phone, never hard-deleted
//   - CallSession: one conversation instance with a provider correlation id
//   - HumanControlSession: an operator takeover period for a lead
//   - Message: a single conversation entry (ai, human, lead, system)
//   - Summary: stored conversation summary feeding context computation
//
// # Concurrency
//
// The store is the single source of truth; no correctness-critical state
// lives in process memory. Writers use conditional updates guarded on
// current state:
//
//   - TransitionCallSession: UPDATE ... WHERE status IN (...) makes terminal
//     states sticky under at-least-once, reordered event delivery.
//   - AcquireControl: an INSERT against a partial unique index on
//     (lead_id) WHERE ended_at IS NULL is the compare-and-set that resolves
//     operator join races deterministically.
//
// # SQLite Configuration
//
// WAL mode for concurrent reads, foreign keys on:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// # Error Handling
//
// Sentinel errors:
//
//   - ErrNotFound: requested entity does not exist
//   - ErrDuplicateSession: call session exists for the correlation id
//   - ErrControlHeld: the active-control marker is already taken
//   - ErrDuplicateLead: the org already tracks this phone
//
// All methods accept context.Context for cancellation support.
//
// # Testing
//
// Use NewSQLiteStore(":memory:") for tests with real SQLite.
package store
