// ABOUTME: Human takeover coordinator built on an atomic database marker
// ABOUTME: Arbitrates concurrent joins, validates sends and releases control

package control

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

// ErrNotControlled is returned by SendMessage when the operator does not
// hold active control of the lead.
var ErrNotControlled = errors.New("operator does not control this conversation")

// JoinResult reports the outcome of a takeover attempt. Losing the race is
// a result, not an error: Acquired is false and Owner names the holder.
type JoinResult struct {
	Acquired bool
	Owner    string
	Control  *store.HumanControlSession
}

// Coordinator arbitrates human takeover of AI conversations. The single
// source of truth is the store's active-control marker; this type never
// caches who holds control.
type Coordinator struct {
	store    store.Store
	hub      *hub.Hub
	contexts *convo.Service
	logger   *slog.Logger
}

// NewCoordinator creates a control coordinator.
func NewCoordinator(st store.Store, h *hub.Hub, contexts *convo.Service, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		store:    st,
		hub:      h,
		contexts: contexts,
		logger:   logger.With("component", "control"),
	}
}

// Join attempts to take control of a lead's conversation for an operator.
// Exactly one concurrent caller acquires; the rest learn who won. Joining a
// lead the operator already controls returns the existing grant.
func (c *Coordinator) Join(ctx context.Context, orgID, leadID, operator string) (*JoinResult, error) {
	grant := &store.HumanControlSession{
		ID:        uuid.New().String(),
		OrgID:     orgID,
		LeadID:    leadID,
		Operator:  operator,
		StartedAt: time.Now().UTC(),
	}

	err := c.store.AcquireControl(ctx, grant)
	if errors.Is(err, store.ErrControlHeld) {
		holder, getErr := c.store.GetActiveControl(ctx, orgID, leadID)
		if getErr != nil {
			// Holder released between our insert and lookup; report the
			// conflict without a name rather than retrying
			if errors.Is(getErr, store.ErrNotFound) {
				return &JoinResult{Acquired: false}, nil
			}
			return nil, fmt.Errorf("looking up control holder: %w", getErr)
		}
		if holder.Operator == operator {
			return &JoinResult{Acquired: true, Owner: operator, Control: holder}, nil
		}
		c.logger.Info("takeover rejected, control already held",
			"lead_id", leadID, "operator", operator, "holder", holder.Operator)
		return &JoinResult{Acquired: false, Owner: holder.Operator, Control: holder}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("acquiring control: %w", err)
	}

	c.logger.Info("operator took control", "lead_id", leadID, "operator", operator)
	c.contexts.Invalidate(ctx, orgID, leadID)
	c.hub.Publish(hub.NewEvent(orgID, leadID, hub.EventControlJoined, map[string]string{
		"operator": operator,
	}))
	return &JoinResult{Acquired: true, Owner: operator, Control: grant}, nil
}

// Leave releases control of a lead. Leaving when nobody holds control is a
// no-op, so the operation is safe to retry.
func (c *Coordinator) Leave(ctx context.Context, orgID, leadID, operator string) error {
	holder, err := c.store.GetActiveControl(ctx, orgID, leadID)
	if errors.Is(err, store.ErrNotFound) {
		c.logger.Debug("leave with no active control", "lead_id", leadID, "operator", operator)
		return nil
	}
	if err != nil {
		return fmt.Errorf("looking up control holder: %w", err)
	}
	if holder.Operator != operator {
		// Leaving someone else's session is also a no-op
		c.logger.Debug("leave by non-holder ignored",
			"lead_id", leadID, "operator", operator, "holder", holder.Operator)
		return nil
	}

	released, err := c.store.ReleaseControl(ctx, orgID, leadID)
	if err != nil {
		return fmt.Errorf("releasing control: %w", err)
	}
	if released {
		c.logger.Info("operator released control", "lead_id", leadID, "operator", operator)
		c.contexts.Invalidate(ctx, orgID, leadID)
		c.hub.Publish(hub.NewEvent(orgID, leadID, hub.EventControlLeft, map[string]string{
			"operator": operator,
		}))
	}
	return nil
}

// SendMessage delivers an operator-authored message to a controlled
// conversation. Control is revalidated against the store on every send;
// holding it yesterday is not holding it now.
func (c *Coordinator) SendMessage(ctx context.Context, orgID, leadID, operator, channel, content string) (*store.Message, error) {
	holder, err := c.store.GetActiveControl(ctx, orgID, leadID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotControlled
	}
	if err != nil {
		return nil, fmt.Errorf("looking up control holder: %w", err)
	}
	if holder.Operator != operator {
		return nil, ErrNotControlled
	}

	msg := &store.Message{
		ID:        uuid.New().String(),
		OrgID:     orgID,
		LeadID:    leadID,
		Channel:   channel,
		Author:    store.AuthorHuman,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	if err := c.store.SaveMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("saving message: %w", err)
	}

	c.contexts.Invalidate(ctx, orgID, leadID)
	c.hub.Publish(hub.NewEvent(orgID, leadID, hub.EventMessageSent, map[string]string{
		"message_id": msg.ID,
		"operator":   operator,
		"channel":    channel,
	}))
	return msg, nil
}

// ActiveSessions lists every control session currently open in the
// organization, newest first.
func (c *Coordinator) ActiveSessions(ctx context.Context, orgID string) ([]*store.HumanControlSession, error) {
	return c.store.ListActiveControls(ctx, orgID)
}

// ForceRelease ends an orphaned control session regardless of holder. Used
// by the reconciler when the underlying call is gone.
func (c *Coordinator) ForceRelease(ctx context.Context, orgID, leadID string) (bool, error) {
	released, err := c.store.ReleaseControl(ctx, orgID, leadID)
	if err != nil {
		return false, fmt.Errorf("releasing control: %w", err)
	}
	if released {
		c.logger.Info("force-released orphaned control", "lead_id", leadID)
		c.contexts.Invalidate(ctx, orgID, leadID)
		c.hub.Publish(hub.NewEvent(orgID, leadID, hub.EventControlLeft, map[string]string{
			"reason": "orphaned",
		}))
	}
	return released, nil
}
