// ABOUTME: Tests for call session persistence and conditional transitions
// ABOUTME: Covers idempotent creation, sticky terminal states, stale listing

package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seedCallSession inserts a session in the given status and returns it.
func seedCallSession(t *testing.T, s *SQLiteStore, orgID, leadID, externalID string, status SessionStatus) *CallSession {
	t.Helper()
	session := &CallSession{
		ID:         uuid.New().String(),
		OrgID:      orgID,
		LeadID:     leadID,
		ExternalID: externalID,
		Direction:  DirectionInbound,
		Status:     status,
		StartedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	require.NoError(t, s.CreateCallSession(context.Background(), session))
	return session
}

func TestCreateCallSession_Duplicate(t *testing.T) {
	s := newTestStore(t)
	orgID := seedOrg(t, s)
	lead := seedLead(t, s, orgID, "+15550100199")

	seedCallSession(t, s, orgID, lead.ID, "conv-1", SessionInitiated)

	dup := &CallSession{
		ID:         uuid.New().String(),
		OrgID:      orgID,
		LeadID:     lead.ID,
		ExternalID: "conv-1",
		Direction:  DirectionInbound,
		Status:     SessionInitiated,
		StartedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	err := s.CreateCallSession(context.Background(), dup)
	assert.ErrorIs(t, err, ErrDuplicateSession)
}

func TestGetCallSessionByExternalID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	orgID := seedOrg(t, s)
	lead := seedLead(t, s, orgID, "+15550100199")
	session := seedCallSession(t, s, orgID, lead.ID, "conv-1", SessionInitiated)

	got, err := s.GetCallSessionByExternalID(ctx, orgID, lead.ID, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, session.ID, got.ID)

	_, err = s.GetCallSessionByExternalID(ctx, orgID, lead.ID, "conv-2")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetActiveCallSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	orgID := seedOrg(t, s)
	lead := seedLead(t, s, orgID, "+15550100199")

	// No session yet
	_, err := s.GetActiveCallSession(ctx, orgID, lead.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	// Terminal sessions are not active
	seedCallSession(t, s, orgID, lead.ID, "conv-done", SessionCompleted)
	_, err = s.GetActiveCallSession(ctx, orgID, lead.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	active := seedCallSession(t, s, orgID, lead.ID, "conv-live", SessionActive)
	got, err := s.GetActiveCallSession(ctx, orgID, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, active.ID, got.ID)
}

func TestTransitionCallSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	orgID := seedOrg(t, s)
	lead := seedLead(t, s, orgID, "+15550100199")
	session := seedCallSession(t, s, orgID, lead.ID, "conv-1", SessionInitiated)

	changed, err := s.TransitionCallSession(ctx, orgID, session.ID,
		[]SessionStatus{SessionInitiated}, SessionActive, "")
	require.NoError(t, err)
	assert.True(t, changed)

	got, err := s.GetCallSession(ctx, orgID, session.ID)
	require.NoError(t, err)
	assert.Equal(t, SessionActive, got.Status)
	assert.Nil(t, got.EndedAt)
}

func TestTransitionCallSession_TerminalSetsEndedAt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	orgID := seedOrg(t, s)
	lead := seedLead(t, s, orgID, "+15550100199")
	session := seedCallSession(t, s, orgID, lead.ID, "conv-1", SessionActive)

	changed, err := s.TransitionCallSession(ctx, orgID, session.ID,
		NonTerminalStatuses(), SessionCompleted, "caller_hangup")
	require.NoError(t, err)
	assert.True(t, changed)

	got, err := s.GetCallSession(ctx, orgID, session.ID)
	require.NoError(t, err)
	assert.Equal(t, SessionCompleted, got.Status)
	assert.Equal(t, "caller_hangup", got.Reason)
	require.NotNil(t, got.EndedAt)
}

func TestTransitionCallSession_TerminalIsSticky(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	orgID := seedOrg(t, s)
	lead := seedLead(t, s, orgID, "+15550100199")
	session := seedCallSession(t, s, orgID, lead.ID, "conv-1", SessionCompleted)

	// A late "active" event must not resurrect a completed session
	changed, err := s.TransitionCallSession(ctx, orgID, session.ID,
		NonTerminalStatuses(), SessionActive, "")
	require.NoError(t, err)
	assert.False(t, changed)

	got, err := s.GetCallSession(ctx, orgID, session.ID)
	require.NoError(t, err)
	assert.Equal(t, SessionCompleted, got.Status)
}

func TestTransitionCallSession_WrongOrg(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	orgA := seedOrg(t, s)
	orgB := seedOrg(t, s)
	lead := seedLead(t, s, orgA, "+15550100199")
	session := seedCallSession(t, s, orgA, lead.ID, "conv-1", SessionActive)

	// Another tenant cannot touch the session
	changed, err := s.TransitionCallSession(ctx, orgB, session.ID,
		NonTerminalStatuses(), SessionCompleted, "")
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestListStaleCallSessions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	orgID := seedOrg(t, s)
	lead := seedLead(t, s, orgID, "+15550100199")

	stale := &CallSession{
		ID:         uuid.New().String(),
		OrgID:      orgID,
		LeadID:     lead.ID,
		ExternalID: "conv-old",
		Direction:  DirectionOutbound,
		Status:     SessionActive,
		StartedAt:  time.Now().Add(-2 * time.Hour),
		UpdatedAt:  time.Now().Add(-2 * time.Hour),
	}
	require.NoError(t, s.CreateCallSession(ctx, stale))

	fresh := seedCallSession(t, s, orgID, lead.ID, "conv-new", SessionActive)
	_ = fresh

	got, err := s.ListStaleCallSessions(ctx, orgID, time.Now().Add(-30*time.Minute))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, stale.ID, got[0].ID)
}

func TestGetSessionStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	orgID := seedOrg(t, s)
	lead := seedLead(t, s, orgID, "+15550100199")

	seedCallSession(t, s, orgID, lead.ID, "conv-1", SessionActive)
	seedCallSession(t, s, orgID, lead.ID, "conv-2", SessionCompleted)
	seedCallSession(t, s, orgID, lead.ID, "conv-3", SessionFailed)

	require.NoError(t, s.AcquireControl(ctx, &HumanControlSession{
		ID:        uuid.New().String(),
		OrgID:     orgID,
		LeadID:    lead.ID,
		Operator:  "Alice",
		StartedAt: time.Now(),
	}))

	stats, err := s.GetSessionStats(ctx, orgID)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalSessions)
	assert.Equal(t, 1, stats.ActiveSessions)
	assert.Equal(t, 1, stats.CompletedSessions)
	assert.Equal(t, 1, stats.FailedSessions)
	assert.Equal(t, 1, stats.HumanControlled)
}

func TestHasEndedCallSessionSince(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	orgID := seedOrg(t, s)
	lead := seedLead(t, s, orgID, "+15550100199")

	// No sessions at all
	ended, err := s.HasEndedCallSessionSince(ctx, orgID, lead.ID, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.False(t, ended)

	// A live session has no ended_at
	session := seedCallSession(t, s, orgID, lead.ID, "conv-1", SessionActive)
	ended, err = s.HasEndedCallSessionSince(ctx, orgID, lead.ID, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.False(t, ended)

	changed, err := s.TransitionCallSession(ctx, orgID, session.ID,
		NonTerminalStatuses(), SessionCompleted, "caller_hangup")
	require.NoError(t, err)
	require.True(t, changed)

	ended, err = s.HasEndedCallSessionSince(ctx, orgID, lead.ID, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.True(t, ended)

	// A bound after the call ended excludes it
	ended, err = s.HasEndedCallSessionSince(ctx, orgID, lead.ID, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, ended)
}
