// ABOUTME: Tests for human control session acquisition and release
// ABOUTME: Verifies the single-holder invariant under concurrent contention

package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newControl(orgID, leadID, operator string) *HumanControlSession {
	return &HumanControlSession{
		ID:        uuid.New().String(),
		OrgID:     orgID,
		LeadID:    leadID,
		Operator:  operator,
		StartedAt: time.Now(),
	}
}

func TestAcquireControl_SecondAcquirerLoses(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	orgID := seedOrg(t, s)
	lead := seedLead(t, s, orgID, "+15550100199")

	require.NoError(t, s.AcquireControl(ctx, newControl(orgID, lead.ID, "Alice")))

	err := s.AcquireControl(ctx, newControl(orgID, lead.ID, "Bob"))
	assert.ErrorIs(t, err, ErrControlHeld)

	active, err := s.GetActiveControl(ctx, orgID, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alice", active.Operator)
}

func TestAcquireControl_Concurrent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	orgID := seedOrg(t, s)
	lead := seedLead(t, s, orgID, "+15550100199")

	const racers = 10
	var wg sync.WaitGroup
	wins := make(chan string, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		operator := string(rune('A' + i))
		go func() {
			defer wg.Done()
			err := s.AcquireControl(ctx, newControl(orgID, lead.ID, operator))
			if err == nil {
				wins <- operator
				return
			}
			if !errors.Is(err, ErrControlHeld) {
				t.Errorf("unexpected error for %s: %v", operator, err)
			}
		}()
	}
	wg.Wait()
	close(wins)

	var winners []string
	for w := range wins {
		winners = append(winners, w)
	}
	require.Len(t, winners, 1)

	active, err := s.GetActiveControl(ctx, orgID, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, winners[0], active.Operator)
}

func TestReleaseControl_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	orgID := seedOrg(t, s)
	lead := seedLead(t, s, orgID, "+15550100199")

	// Releasing with no active control is a no-op
	released, err := s.ReleaseControl(ctx, orgID, lead.ID)
	require.NoError(t, err)
	assert.False(t, released)

	require.NoError(t, s.AcquireControl(ctx, newControl(orgID, lead.ID, "Alice")))

	released, err = s.ReleaseControl(ctx, orgID, lead.ID)
	require.NoError(t, err)
	assert.True(t, released)

	released, err = s.ReleaseControl(ctx, orgID, lead.ID)
	require.NoError(t, err)
	assert.False(t, released)
}

func TestAcquireControl_RejoinAfterRelease(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	orgID := seedOrg(t, s)
	lead := seedLead(t, s, orgID, "+15550100199")

	require.NoError(t, s.AcquireControl(ctx, newControl(orgID, lead.ID, "Alice")))
	_, err := s.ReleaseControl(ctx, orgID, lead.ID)
	require.NoError(t, err)

	// The partial unique index only covers open sessions, so history stays
	require.NoError(t, s.AcquireControl(ctx, newControl(orgID, lead.ID, "Bob")))

	active, err := s.GetActiveControl(ctx, orgID, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, "Bob", active.Operator)
}

func TestListActiveControls(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	orgID := seedOrg(t, s)
	leadA := seedLead(t, s, orgID, "+15550100199")
	leadB := seedLead(t, s, orgID, "+15550100298")

	require.NoError(t, s.AcquireControl(ctx, newControl(orgID, leadA.ID, "Alice")))
	require.NoError(t, s.AcquireControl(ctx, newControl(orgID, leadB.ID, "Bob")))
	_, err := s.ReleaseControl(ctx, orgID, leadA.ID)
	require.NoError(t, err)

	active, err := s.ListActiveControls(ctx, orgID)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "Bob", active[0].Operator)
}

func TestGetActiveControl_NotFound(t *testing.T) {
	s := newTestStore(t)
	orgID := seedOrg(t, s)
	lead := seedLead(t, s, orgID, "+15550100199")

	_, err := s.GetActiveControl(context.Background(), orgID, lead.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}
