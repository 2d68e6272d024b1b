// ABOUTME: In-memory fan-out hub for organization-scoped dashboard events
// ABOUTME: Best-effort delivery with per-subscriber buffers and a replay ring

package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// subscriberBufferSize is the channel buffer for each subscriber.
	subscriberBufferSize = 64

	// ringSize is how many recent events are kept per organization for
	// replay to late-joining dashboards.
	ringSize = 32
)

// Event types published by the session, control and reconcile layers.
const (
	EventSessionCreated = "session.created"
	EventSessionChanged = "session.status_changed"
	EventControlJoined  = "control.joined"
	EventControlLeft    = "control.left"
	EventMessageSent    = "message.sent"
)

// Event is one dashboard notification. Payload is marshaled once at publish
// time so every subscriber sees identical bytes.
type Event struct {
	ID        string          `json:"id"`
	OrgID     string          `json:"org_id"`
	LeadID    string          `json:"lead_id,omitempty"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// NewEvent builds an Event with a fresh id and timestamp. A payload that
// fails to marshal is dropped rather than blocking the caller.
func NewEvent(orgID, leadID, eventType string, payload any) *Event {
	ev := &Event{
		ID:        uuid.New().String(),
		OrgID:     orgID,
		LeadID:    leadID,
		Type:      eventType,
		CreatedAt: time.Now().UTC(),
	}
	if payload != nil {
		if raw, err := json.Marshal(payload); err == nil {
			ev.Payload = raw
		}
	}
	return ev
}

// Hub provides in-memory pub/sub for dashboard events, keyed by organization.
// Delivery is at-most-once: slow subscribers lose events instead of stalling
// the publishers.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan *Event // orgID -> subID -> ch
	recent      map[string][]*Event               // orgID -> ring of last events
	closed      bool
	logger      *slog.Logger
}

// New creates a hub. Pass nil logger for default.
func New(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subscribers: make(map[string]map[string]chan *Event),
		recent:      make(map[string][]*Event),
		logger:      logger.With("component", "hub"),
	}
}

// Subscribe registers a subscriber for events in the given organization.
// Returns the event channel and a subscription id. The subscription is
// cleaned up automatically when ctx is cancelled.
func (h *Hub) Subscribe(ctx context.Context, orgID string) (<-chan *Event, string) {
	subID := uuid.New().String()
	ch := make(chan *Event, subscriberBufferSize)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, subID
	}
	if _, ok := h.subscribers[orgID]; !ok {
		h.subscribers[orgID] = make(map[string]chan *Event)
	}
	h.subscribers[orgID][subID] = ch
	h.mu.Unlock()

	h.logger.Debug("subscriber added", "org_id", orgID, "sub_id", subID)

	go func() {
		<-ctx.Done()
		h.Unsubscribe(orgID, subID)
	}()

	return ch, subID
}

// Recent returns a copy of the replay ring for the organization, oldest first.
func (h *Hub) Recent(orgID string) []*Event {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ring := h.recent[orgID]
	out := make([]*Event, len(ring))
	copy(out, ring)
	return out
}

// Publish sends an event to all subscribers of the event's organization and
// records it in the replay ring. Non-blocking: events are dropped for
// subscribers whose channels are full. Sends stay under the hub lock:
// Unsubscribe and Close take the same lock before closing a channel, so a
// send can never land on a closed channel, and the select keeps the lock
// hold time bounded.
func (h *Hub) Publish(event *Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	ring := append(h.recent[event.OrgID], event)
	if len(ring) > ringSize {
		ring = ring[len(ring)-ringSize:]
	}
	h.recent[event.OrgID] = ring

	for _, ch := range h.subscribers[event.OrgID] {
		select {
		case ch <- event:
		default:
			// Subscriber channel full, drop for this subscriber
			h.logger.Debug("dropped event for slow subscriber",
				"org_id", event.OrgID,
				"event_id", event.ID,
				"event_type", event.Type)
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (h *Hub) Unsubscribe(orgID, subID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.subscribers[orgID]
	if !ok {
		return
	}
	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)

	if len(subs) == 0 {
		delete(h.subscribers, orgID)
	}

	h.logger.Debug("subscriber removed", "org_id", orgID, "sub_id", subID)
}

// SubscriberCount reports live subscribers for an organization.
func (h *Hub) SubscriberCount(orgID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[orgID])
}

// Close shuts down the hub and closes all subscriber channels. Publish and
// Subscribe become no-ops afterward.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true

	for orgID, subs := range h.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(h.subscribers, orgID)
	}

	h.logger.Debug("hub closed")
}
