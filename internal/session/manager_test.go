// ABOUTME: Tests for the call session lifecycle manager
// ABOUTME: Covers idempotent creation, sticky terminal states and stale cleanup

package session

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxplane/voxplane/internal/convo"
	"github.com/voxplane/voxplane/internal/hub"
	"github.com/voxplane/voxplane/internal/store"
)

type testEnv struct {
	manager *Manager
	store   store.Store
	hub     *hub.Hub
	orgID   string
	lead    *store.Lead
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	st, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	org := &store.Organization{ID: uuid.New().String(), Name: "Test Org", CreatedAt: time.Now()}
	require.NoError(t, st.CreateOrganization(ctx, org))

	lead := &store.Lead{
		ID:        uuid.New().String(),
		OrgID:     org.ID,
		Phone:     "+15550100199",
		Name:      "Jordan",
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	require.NoError(t, st.CreateLead(ctx, lead))

	h := hub.New(nil)
	t.Cleanup(h.Close)
	contexts := convo.NewService(st, convo.Noop{}, convo.Options{}, nil)

	return &testEnv{
		manager: NewManager(st, h, contexts, nil),
		store:   st,
		hub:     h,
		orgID:   org.ID,
		lead:    lead,
	}
}

func TestCreateSession_Idempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first, created, err := env.manager.CreateSession(ctx, env.orgID, env.lead.ID, "conv-1", store.DirectionInbound)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, store.SessionInitiated, first.Status)

	// Redelivered creation event returns the same session
	second, created, err := env.manager.CreateSession(ctx, env.orgID, env.lead.ID, "conv-1", store.DirectionInbound)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
}

func TestTransition_Lifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	session, _, err := env.manager.CreateSession(ctx, env.orgID, env.lead.ID, "conv-1", store.DirectionInbound)
	require.NoError(t, err)

	changed, err := env.manager.Transition(ctx, env.orgID, session.ID, store.SessionActive, "")
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = env.manager.Transition(ctx, env.orgID, session.ID, store.SessionCompleted, "caller_hangup")
	require.NoError(t, err)
	assert.True(t, changed)

	got, err := env.store.GetCallSession(ctx, env.orgID, session.ID)
	require.NoError(t, err)
	assert.Equal(t, store.SessionCompleted, got.Status)
	assert.NotNil(t, got.EndedAt)
}

func TestTransition_LateEventAfterTerminal(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	session, _, err := env.manager.CreateSession(ctx, env.orgID, env.lead.ID, "conv-1", store.DirectionInbound)
	require.NoError(t, err)

	_, err = env.manager.Transition(ctx, env.orgID, session.ID, store.SessionCompleted, "caller_hangup")
	require.NoError(t, err)

	// A delayed "active" event after completion is a silent no-op
	changed, err := env.manager.Transition(ctx, env.orgID, session.ID, store.SessionActive, "")
	require.NoError(t, err)
	assert.False(t, changed)

	got, err := env.store.GetCallSession(ctx, env.orgID, session.ID)
	require.NoError(t, err)
	assert.Equal(t, store.SessionCompleted, got.Status)
}

func TestTransition_UnknownTarget(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.manager.Transition(context.Background(), env.orgID, "some-id", store.SessionStatus("paused"), "")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestTransition_PublishesHubEvent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	ch, _ := env.hub.Subscribe(ctx, env.orgID)

	session, _, err := env.manager.CreateSession(ctx, env.orgID, env.lead.ID, "conv-1", store.DirectionInbound)
	require.NoError(t, err)

	created := <-ch
	assert.Equal(t, hub.EventSessionCreated, created.Type)

	_, err = env.manager.Transition(ctx, env.orgID, session.ID, store.SessionActive, "")
	require.NoError(t, err)

	changed := <-ch
	assert.Equal(t, hub.EventSessionChanged, changed.Type)
	assert.Equal(t, env.lead.ID, changed.LeadID)
}

func TestGetActiveSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.manager.GetActiveSession(ctx, env.orgID, env.lead.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	session, _, err := env.manager.CreateSession(ctx, env.orgID, env.lead.ID, "conv-1", store.DirectionInbound)
	require.NoError(t, err)

	got, err := env.manager.GetActiveSession(ctx, env.orgID, env.lead.ID)
	require.NoError(t, err)
	assert.Equal(t, session.ID, got.ID)
}

func TestCleanupStale(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	stale := &store.CallSession{
		ID:         uuid.New().String(),
		OrgID:      env.orgID,
		LeadID:     env.lead.ID,
		ExternalID: "conv-old",
		Direction:  store.DirectionInbound,
		Status:     store.SessionActive,
		StartedAt:  time.Now().Add(-2 * time.Hour),
		UpdatedAt:  time.Now().Add(-2 * time.Hour),
	}
	require.NoError(t, env.store.CreateCallSession(ctx, stale))

	_, _, err := env.manager.CreateSession(ctx, env.orgID, env.lead.ID, "conv-new", store.DirectionInbound)
	require.NoError(t, err)

	closed, err := env.manager.CleanupStale(ctx, env.orgID, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, closed)

	got, err := env.store.GetCallSession(ctx, env.orgID, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, store.SessionCompleted, got.Status)
	assert.Equal(t, ReasonStale, got.Reason)

	// Second run finds nothing
	closed, err = env.manager.CleanupStale(ctx, env.orgID, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, closed)
}
