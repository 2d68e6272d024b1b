// ABOUTME: Conversation context service with cache-aside reads
// ABOUTME: Computes a bounded context window from messages, summaries and lead data

package convo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/voxplane/voxplane/internal/store"
)

const (
	// defaultMessageWindow bounds how many recent messages go into a context.
	defaultMessageWindow = 20

	// defaultSummaryWindow bounds how many stored summaries go into a context.
	defaultSummaryWindow = 3

	// computeTimeout caps a single context computation so webhook responses
	// stay inside the provider's latency budget.
	computeTimeout = 2 * time.Second
)

// Context is the bounded conversation context handed to the AI layer at call
// start. It is a snapshot, not a live view.
type Context struct {
	LeadID     string           `json:"lead_id"`
	LeadName   string           `json:"lead_name,omitempty"`
	LeadPhone  string           `json:"lead_phone"`
	Summaries  []string         `json:"summaries,omitempty"`
	Messages   []ContextMessage `json:"messages,omitempty"`
	ComputedAt time.Time        `json:"computed_at"`
}

// ContextMessage is one conversation entry inside a Context.
type ContextMessage struct {
	Author    string    `json:"author"`
	Channel   string    `json:"channel"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Service computes and caches conversation contexts. Cache failures are
// logged and absorbed: the caller always gets a context or a store error,
// never a cache error.
type Service struct {
	store         store.Store
	cache         Cache
	cacheTTL      time.Duration
	messageWindow int
	summaryWindow int
	logger        *slog.Logger
}

// Options tunes the context window. Zero values fall back to defaults.
type Options struct {
	CacheTTL      time.Duration
	MessageWindow int
	SummaryWindow int
}

// NewService creates a context service. Pass a Noop cache to disable caching.
func NewService(st store.Store, cache Cache, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cache == nil {
		cache = Noop{}
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 5 * time.Minute
	}
	if opts.MessageWindow <= 0 {
		opts.MessageWindow = defaultMessageWindow
	}
	if opts.SummaryWindow <= 0 {
		opts.SummaryWindow = defaultSummaryWindow
	}
	return &Service{
		store:         st,
		cache:         cache,
		cacheTTL:      opts.CacheTTL,
		messageWindow: opts.MessageWindow,
		summaryWindow: opts.SummaryWindow,
		logger:        logger.With("component", "convo"),
	}
}

func contextKey(orgID, leadID string) string {
	return "context:" + orgID + ":" + leadID
}

// GetContext returns the conversation context for a lead, serving from cache
// when possible. Concurrent misses may compute in parallel; last write wins,
// which is acceptable because any freshly computed context is valid.
func (s *Service) GetContext(ctx context.Context, orgID, leadID string) (*Context, error) {
	key := contextKey(orgID, leadID)

	if raw, err := s.cache.Get(ctx, key); err == nil {
		var cached Context
		if jsonErr := json.Unmarshal(raw, &cached); jsonErr == nil {
			return &cached, nil
		}
		// Corrupt entry, drop it and recompute
		if delErr := s.cache.Delete(ctx, key); delErr != nil {
			s.logger.Warn("failed to drop corrupt cache entry", "key", key, "error", delErr)
		}
	} else if !errors.Is(err, ErrCacheMiss) {
		s.logger.Warn("cache read failed, computing directly", "key", key, "error", err)
	}

	computed, err := s.compute(ctx, orgID, leadID)
	if err != nil {
		return nil, err
	}

	if raw, jsonErr := json.Marshal(computed); jsonErr == nil {
		if setErr := s.cache.Set(ctx, key, raw, s.cacheTTL); setErr != nil {
			s.logger.Warn("cache write failed", "key", key, "error", setErr)
		}
	}
	return computed, nil
}

// Invalidate drops the cached context for a lead. Called after any write
// that changes what a fresh context would contain.
func (s *Service) Invalidate(ctx context.Context, orgID, leadID string) {
	if err := s.cache.Delete(ctx, contextKey(orgID, leadID)); err != nil {
		s.logger.Warn("cache invalidation failed",
			"org_id", orgID, "lead_id", leadID, "error", err)
	}
}

// compute builds a context from the store within a bounded deadline. A
// summary or message read that fails degrades to the best available context
// rather than failing the whole computation.
func (s *Service) compute(ctx context.Context, orgID, leadID string) (*Context, error) {
	ctx, cancel := context.WithTimeout(ctx, computeTimeout)
	defer cancel()

	lead, err := s.store.GetLead(ctx, orgID, leadID)
	if err != nil {
		return nil, fmt.Errorf("loading lead: %w", err)
	}

	result := &Context{
		LeadID:     lead.ID,
		LeadName:   lead.Name,
		LeadPhone:  lead.Phone,
		ComputedAt: time.Now().UTC(),
	}

	summaries, err := s.store.GetRecentSummaries(ctx, orgID, leadID, s.summaryWindow)
	if err != nil {
		s.logger.Warn("summary read failed, continuing without",
			"lead_id", leadID, "error", err)
	} else {
		for _, sum := range summaries {
			result.Summaries = append(result.Summaries, sum.Content)
		}
	}

	messages, err := s.store.GetRecentMessages(ctx, orgID, leadID, s.messageWindow)
	if err != nil {
		s.logger.Warn("message read failed, continuing without",
			"lead_id", leadID, "error", err)
	} else {
		for _, msg := range messages {
			result.Messages = append(result.Messages, ContextMessage{
				Author:    msg.Author,
				Channel:   msg.Channel,
				Content:   msg.Content,
				CreatedAt: msg.CreatedAt,
			})
		}
	}

	return result, nil
}
