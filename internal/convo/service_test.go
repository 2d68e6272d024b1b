// ABOUTME: Tests for the conversation context service
// ABOUTME: Verifies bounded windows, cache-aside behavior and invalidation

package convo

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxplane/voxplane/internal/store"
)

func newTestService(t *testing.T, cache Cache, opts Options) (*Service, store.Store, string, *store.Lead) {
	t.Helper()

	st, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	org := &store.Organization{ID: uuid.New().String(), Name: "Test Org", CreatedAt: time.Now()}
	require.NoError(t, st.CreateOrganization(context.Background(), org))

	lead := &store.Lead{
		ID:        uuid.New().String(),
		OrgID:     org.ID,
		Phone:     "+15550100199",
		Name:      "Ada",
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	require.NoError(t, st.CreateLead(context.Background(), lead))

	return NewService(st, cache, opts, nil), st, org.ID, lead
}

func seedMessages(t *testing.T, st store.Store, orgID, leadID string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, st.SaveMessage(context.Background(), &store.Message{
			ID:        uuid.New().String(),
			OrgID:     orgID,
			LeadID:    leadID,
			Channel:   store.ChannelVoice,
			Author:    store.AuthorLead,
			Content:   fmt.Sprintf("message %d", i),
			CreatedAt: time.Now().Add(time.Duration(i-n) * time.Second),
		}))
	}
}

func TestGetContext_BoundedWindow(t *testing.T) {
	svc, st, orgID, lead := newTestService(t, Noop{}, Options{MessageWindow: 5, SummaryWindow: 2})
	ctx := context.Background()

	seedMessages(t, st, orgID, lead.ID, 10)
	for i := 0; i < 4; i++ {
		require.NoError(t, st.SaveSummary(ctx, &store.Summary{
			ID:        uuid.New().String(),
			OrgID:     orgID,
			LeadID:    lead.ID,
			Content:   fmt.Sprintf("summary %d", i),
			CreatedAt: time.Now().Add(time.Duration(i-4) * time.Second),
		}))
	}

	got, err := svc.GetContext(ctx, orgID, lead.ID)
	require.NoError(t, err)

	assert.Equal(t, lead.ID, got.LeadID)
	assert.Equal(t, "Ada", got.LeadName)
	assert.Len(t, got.Messages, 5)
	assert.Len(t, got.Summaries, 2)

	// Window keeps the most recent messages, oldest first
	assert.Equal(t, "message 5", got.Messages[0].Content)
	assert.Equal(t, "message 9", got.Messages[4].Content)
}

func TestGetContext_UnknownLead(t *testing.T) {
	svc, _, orgID, _ := newTestService(t, Noop{}, Options{})

	_, err := svc.GetContext(context.Background(), orgID, "no-such-lead")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestGetContext_ServesFromCache(t *testing.T) {
	cache := NewMemory(time.Minute, 10)
	svc, st, orgID, lead := newTestService(t, cache, Options{})
	ctx := context.Background()

	seedMessages(t, st, orgID, lead.ID, 1)

	first, err := svc.GetContext(ctx, orgID, lead.ID)
	require.NoError(t, err)
	require.Len(t, first.Messages, 1)

	// New messages are invisible until invalidation or expiry
	seedMessages(t, st, orgID, lead.ID, 3)
	second, err := svc.GetContext(ctx, orgID, lead.ID)
	require.NoError(t, err)
	assert.Len(t, second.Messages, 1)
	assert.Equal(t, first.ComputedAt, second.ComputedAt)
}

func TestInvalidate_ForcesRecompute(t *testing.T) {
	cache := NewMemory(time.Minute, 10)
	svc, st, orgID, lead := newTestService(t, cache, Options{})
	ctx := context.Background()

	seedMessages(t, st, orgID, lead.ID, 1)
	_, err := svc.GetContext(ctx, orgID, lead.ID)
	require.NoError(t, err)

	seedMessages(t, st, orgID, lead.ID, 2)
	svc.Invalidate(ctx, orgID, lead.ID)

	got, err := svc.GetContext(ctx, orgID, lead.ID)
	require.NoError(t, err)
	assert.Len(t, got.Messages, 3)
}

func TestGetContext_CorruptCacheEntryRecomputes(t *testing.T) {
	cache := NewMemory(time.Minute, 10)
	svc, st, orgID, lead := newTestService(t, cache, Options{})
	ctx := context.Background()

	seedMessages(t, st, orgID, lead.ID, 2)
	require.NoError(t, cache.Set(ctx, "context:"+orgID+":"+lead.ID, []byte("{not json"), time.Minute))

	got, err := svc.GetContext(ctx, orgID, lead.ID)
	require.NoError(t, err)
	assert.Len(t, got.Messages, 2)
}
