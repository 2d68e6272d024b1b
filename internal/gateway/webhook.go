// ABOUTME: Webhook handler for call lifecycle events from the voice provider
// ABOUTME: Deduplicates deliveries and answers initiated calls with context

package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/voxplane/voxplane/internal/convo"
	"github.com/voxplane/voxplane/internal/store"
)

// CallEvent is the JSON body of POST /webhooks/call-events. The provider
// redelivers events until it sees a 2xx, so every field here may arrive
// twice and out of order.
type CallEvent struct {
	EventID        string `json:"event_id"`
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
	OrgID          string `json:"org_id"`
	Phone          string `json:"phone"`
	LeadName       string `json:"lead_name,omitempty"`
	Direction      string `json:"direction,omitempty"`
	Reason         string `json:"reason,omitempty"`
	Summary        string `json:"summary,omitempty"`
	Timestamp      string `json:"timestamp,omitempty"`
}

// CallEventResponse is the JSON reply to a webhook delivery. Context is
// populated only for call.initiated, where the provider needs it to prime
// the AI before the first exchange.
type CallEventResponse struct {
	Status    string         `json:"status"`
	SessionID string         `json:"session_id,omitempty"`
	Context   *convo.Context `json:"context,omitempty"`
}

// eventTransitions maps provider event types to session statuses.
var eventTransitions = map[string]store.SessionStatus{
	"call.active":      store.SessionActive,
	"call.completed":   store.SessionCompleted,
	"call.failed":      store.SessionFailed,
	"call.transferred": store.SessionTransferred,
}

// handleCallEvent processes POST /webhooks/call-events. Malformed or
// unprocessable events are acknowledged with 200 so the provider stops
// redelivering; returning an error would only replay garbage forever.
func (g *Gateway) handleCallEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		g.sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !g.checkWebhookSecret(r) {
		g.sendJSONError(w, http.StatusUnauthorized, "invalid webhook secret")
		return
	}

	var event CallEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		g.logger.Warn("malformed webhook body", "error", err)
		g.sendJSON(w, http.StatusOK, CallEventResponse{Status: "ignored"})
		return
	}
	if event.EventID == "" || event.Type == "" || event.ConversationID == "" || event.OrgID == "" {
		g.logger.Warn("webhook event missing required fields",
			"event_id", event.EventID, "type", event.Type)
		g.sendJSON(w, http.StatusOK, CallEventResponse{Status: "ignored"})
		return
	}

	if g.dedupe.CheckAndMark(event.EventID) {
		g.logger.Debug("duplicate webhook delivery", "event_id", event.EventID)
		g.sendJSON(w, http.StatusOK, CallEventResponse{Status: "duplicate"})
		return
	}

	resp, err := g.processCallEvent(r.Context(), &event)
	if err != nil {
		// Unmark the event id so the provider's redelivery gets processed
		// instead of being answered as a duplicate.
		_ = g.dedupe.Delete(r.Context(), event.EventID)
		g.logger.Error("webhook processing failed",
			"event_id", event.EventID, "type", event.Type, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "processing failed")
		return
	}
	g.sendJSON(w, http.StatusOK, resp)
}

// checkWebhookSecret compares the shared secret header in constant time.
// An empty configured secret disables the check (local development).
func (g *Gateway) checkWebhookSecret(r *http.Request) bool {
	secret := g.config.Auth.WebhookSecret
	if secret == "" {
		return true
	}
	provided := r.Header.Get("X-Webhook-Secret")
	return subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) == 1
}

func (g *Gateway) processCallEvent(ctx context.Context, event *CallEvent) (*CallEventResponse, error) {
	if _, err := g.store.GetOrganization(ctx, event.OrgID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			g.logger.Warn("webhook for unknown organization", "org_id", event.OrgID)
			return &CallEventResponse{Status: "ignored"}, nil
		}
		return nil, fmt.Errorf("looking up organization: %w", err)
	}

	if event.Type == "call.initiated" {
		return g.processInitiated(ctx, event)
	}

	to, ok := eventTransitions[event.Type]
	if !ok {
		g.logger.Warn("unknown webhook event type", "type", event.Type)
		return &CallEventResponse{Status: "ignored"}, nil
	}
	return g.processTransition(ctx, event, to)
}

// processInitiated creates the lead and session for a new call and returns
// the conversation context the AI starts from.
func (g *Gateway) processInitiated(ctx context.Context, event *CallEvent) (*CallEventResponse, error) {
	if event.Phone == "" {
		g.logger.Warn("initiated event without phone", "event_id", event.EventID)
		return &CallEventResponse{Status: "ignored"}, nil
	}

	lead, err := g.resolveLead(ctx, event.OrgID, event.Phone)
	if err != nil {
		return nil, fmt.Errorf("resolving lead: %w", err)
	}

	// Backfill the lead name from the provider's caller id, best-effort
	if event.LeadName != "" && lead.Name == "" {
		lead.Name = event.LeadName
		if err := g.store.UpdateLead(ctx, lead); err != nil {
			g.logger.Warn("lead name update failed", "lead_id", lead.ID, "error", err)
		} else {
			g.contexts.Invalidate(ctx, event.OrgID, lead.ID)
		}
	}

	direction := store.DirectionInbound
	if event.Direction == string(store.DirectionOutbound) {
		direction = store.DirectionOutbound
	}

	session, _, err := g.sessions.CreateSession(ctx, event.OrgID, lead.ID, event.ConversationID, direction)
	if err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}

	// Context failures must not fail the call itself
	callContext, err := g.contexts.GetContext(ctx, event.OrgID, lead.ID)
	if err != nil {
		g.logger.Warn("context computation failed, answering without",
			"lead_id", lead.ID, "error", err)
		callContext = nil
	}

	return &CallEventResponse{
		Status:    "ok",
		SessionID: session.ID,
		Context:   callContext,
	}, nil
}

// processTransition applies a lifecycle event to the session it names. A
// transition that lands after the session went terminal is acknowledged as
// a no-op.
func (g *Gateway) processTransition(ctx context.Context, event *CallEvent, to store.SessionStatus) (*CallEventResponse, error) {
	lead, err := g.resolveExistingLead(ctx, event.OrgID, event.Phone)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			g.logger.Warn("transition event for unknown lead",
				"event_id", event.EventID, "phone", store.NormalizePhone(event.Phone))
			return &CallEventResponse{Status: "ignored"}, nil
		}
		return nil, err
	}

	session, err := g.store.GetCallSessionByExternalID(ctx, event.OrgID, lead.ID, event.ConversationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			g.logger.Warn("transition event for unknown session",
				"event_id", event.EventID, "conversation_id", event.ConversationID)
			return &CallEventResponse{Status: "ignored"}, nil
		}
		return nil, fmt.Errorf("looking up session: %w", err)
	}

	changed, err := g.sessions.Transition(ctx, event.OrgID, session.ID, to, event.Reason)
	if err != nil {
		return nil, err
	}

	// Terminal events may carry the provider's call summary; store it so
	// future context computation can use it. Best-effort.
	if changed && to.Terminal() && event.Summary != "" {
		summary := &store.Summary{
			ID:        uuid.New().String(),
			OrgID:     event.OrgID,
			LeadID:    lead.ID,
			Content:   event.Summary,
			CreatedAt: time.Now().UTC(),
		}
		if err := g.store.SaveSummary(ctx, summary); err != nil {
			g.logger.Warn("summary save failed", "session_id", session.ID, "error", err)
		} else {
			g.contexts.Invalidate(ctx, event.OrgID, lead.ID)
		}
	}

	status := "ok"
	if !changed {
		status = "noop"
	}
	return &CallEventResponse{Status: status, SessionID: session.ID}, nil
}

// resolveLead finds or creates the lead for a phone number. Concurrent
// creations for the same number race on the unique index; the loser retries
// and picks up the winner's row.
func (g *Gateway) resolveLead(ctx context.Context, orgID, phone string) (*store.Lead, error) {
	var lead *store.Lead

	backoff := retry.WithMaxRetries(3, retry.NewConstant(50*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		existing, err := g.store.GetLeadByPhone(ctx, orgID, phone)
		if err == nil {
			lead = existing
			return nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return retry.RetryableError(err)
		}

		now := time.Now().UTC()
		created := &store.Lead{
			ID:        uuid.New().String(),
			OrgID:     orgID,
			Phone:     phone,
			CreatedAt: now,
			UpdatedAt: now,
		}
		err = g.store.CreateLead(ctx, created)
		if errors.Is(err, store.ErrDuplicateLead) {
			// Lost the race, loop around and fetch the winner
			return retry.RetryableError(err)
		}
		if err != nil {
			return retry.RetryableError(err)
		}
		lead = created
		g.logger.Info("lead created", "lead_id", created.ID, "org_id", orgID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return lead, nil
}

func (g *Gateway) resolveExistingLead(ctx context.Context, orgID, phone string) (*store.Lead, error) {
	return g.store.GetLeadByPhone(ctx, orgID, phone)
}
