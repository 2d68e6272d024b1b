// ABOUTME: Call session lifecycle manager with idempotent creation
// ABOUTME: Applies terminal-sticky status transitions and emits hub events

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/voxplane/voxplane/internal/convo"
	"github.com/voxplane/voxplane/internal/hub"
	"github.com/voxplane/voxplane/internal/store"
)

// ErrInvalidTransition is returned when the requested target status is not
// reachable from any live state (e.g. an unknown status string).
var ErrInvalidTransition = errors.New("invalid session transition")

// ReasonStale marks sessions force-completed by the reconciler.
const ReasonStale = "stale_session"

// transitions maps each target status to the statuses it may be entered
// from. Terminal states never appear as sources, which is what makes them
// sticky under delayed or out-of-order events.
var transitions = map[store.SessionStatus][]store.SessionStatus{
	store.SessionActive:      {store.SessionInitiated},
	store.SessionCompleted:   {store.SessionInitiated, store.SessionActive},
	store.SessionFailed:      {store.SessionInitiated, store.SessionActive},
	store.SessionTransferred: {store.SessionInitiated, store.SessionActive},
}

// Manager owns the call session lifecycle. All mutations go through the
// store's conditional updates, so concurrent callers race safely: one wins,
// the rest observe a no-op.
type Manager struct {
	store    store.Store
	hub      *hub.Hub
	contexts *convo.Service
	logger   *slog.Logger
}

// NewManager creates a session manager.
func NewManager(st store.Store, h *hub.Hub, contexts *convo.Service, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:    st,
		hub:      h,
		contexts: contexts,
		logger:   logger.With("component", "session"),
	}
}

// CreateSession records a new call session for a lead, keyed by the
// provider's external conversation id. Redelivered creation events return
// the existing session with created=false instead of a second row.
func (m *Manager) CreateSession(ctx context.Context, orgID, leadID, externalID string, direction store.Direction) (*store.CallSession, bool, error) {
	now := time.Now().UTC()
	session := &store.CallSession{
		ID:         uuid.New().String(),
		OrgID:      orgID,
		LeadID:     leadID,
		ExternalID: externalID,
		Direction:  direction,
		Status:     store.SessionInitiated,
		StartedAt:  now,
		UpdatedAt:  now,
	}

	err := m.store.CreateCallSession(ctx, session)
	if errors.Is(err, store.ErrDuplicateSession) {
		existing, getErr := m.store.GetCallSessionByExternalID(ctx, orgID, leadID, externalID)
		if getErr != nil {
			return nil, false, fmt.Errorf("fetching existing session: %w", getErr)
		}
		m.logger.Debug("duplicate session creation ignored",
			"session_id", existing.ID, "external_id", externalID)
		return existing, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("creating session: %w", err)
	}

	m.logger.Info("call session created",
		"session_id", session.ID,
		"lead_id", leadID,
		"external_id", externalID,
		"direction", direction)

	m.hub.Publish(hub.NewEvent(orgID, leadID, hub.EventSessionCreated, map[string]string{
		"session_id": session.ID,
		"status":     string(session.Status),
	}))
	return session, true, nil
}

// Transition moves a session to the given status if it is reachable from
// the session's current state. Returns false with no error when the session
// is already terminal or already in the target state; events arriving late
// or twice are expected, not exceptional.
func (m *Manager) Transition(ctx context.Context, orgID, sessionID string, to store.SessionStatus, reason string) (bool, error) {
	from, ok := transitions[to]
	if !ok {
		return false, fmt.Errorf("%w: no path to %q", ErrInvalidTransition, to)
	}

	changed, err := m.store.TransitionCallSession(ctx, orgID, sessionID, from, to, reason)
	if err != nil {
		return false, fmt.Errorf("transitioning session: %w", err)
	}
	if !changed {
		m.logger.Debug("session transition was a no-op",
			"session_id", sessionID, "target", to)
		return false, nil
	}

	m.logger.Info("call session transitioned",
		"session_id", sessionID, "status", to, "reason", reason)

	session, getErr := m.store.GetCallSession(ctx, orgID, sessionID)
	leadID := ""
	if getErr == nil {
		leadID = session.LeadID
	}

	// A finished call changes what a fresh context would contain
	if to.Terminal() && leadID != "" {
		m.contexts.Invalidate(ctx, orgID, leadID)
	}

	m.hub.Publish(hub.NewEvent(orgID, leadID, hub.EventSessionChanged, map[string]string{
		"session_id": sessionID,
		"status":     string(to),
		"reason":     reason,
	}))
	return true, nil
}

// GetActiveSession returns the lead's current live session or
// store.ErrNotFound.
func (m *Manager) GetActiveSession(ctx context.Context, orgID, leadID string) (*store.CallSession, error) {
	return m.store.GetActiveCallSession(ctx, orgID, leadID)
}

// CleanupStale force-completes sessions that have been live longer than
// maxAge. Returns how many sessions were closed. Sessions that complete
// normally between listing and update are skipped by the conditional write.
func (m *Manager) CleanupStale(ctx context.Context, orgID string, maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)
	stale, err := m.store.ListStaleCallSessions(ctx, orgID, cutoff)
	if err != nil {
		return 0, fmt.Errorf("listing stale sessions: %w", err)
	}

	closed := 0
	for _, session := range stale {
		changed, err := m.store.TransitionCallSession(ctx, orgID, session.ID,
			store.NonTerminalStatuses(), store.SessionCompleted, ReasonStale)
		if err != nil {
			m.logger.Warn("failed to close stale session",
				"session_id", session.ID, "error", err)
			continue
		}
		if !changed {
			continue
		}
		closed++
		m.logger.Info("closed stale session",
			"session_id", session.ID,
			"lead_id", session.LeadID,
			"started_at", session.StartedAt)

		m.contexts.Invalidate(ctx, orgID, session.LeadID)
		m.hub.Publish(hub.NewEvent(orgID, session.LeadID, hub.EventSessionChanged, map[string]string{
			"session_id": session.ID,
			"status":     string(store.SessionCompleted),
			"reason":     ReasonStale,
		}))
	}
	return closed, nil
}
