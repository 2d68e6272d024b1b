// ABOUTME: Background reconciler that repairs drift between state and reality
// ABOUTME: Force-completes stale sessions and releases orphaned control grants

package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/voxplane/voxplane/internal/control"
	"github.com/voxplane/voxplane/internal/session"
	"github.com/voxplane/voxplane/internal/store"
)

const (
	defaultInterval = time.Minute
	defaultMaxAge   = time.Hour
)

// Result summarizes one reconciliation sweep.
type Result struct {
	StaleSessions    int
	OrphanedControls int
}

// Reconciler periodically sweeps every organization, closing call sessions
// that outlived the maximum age and releasing control grants whose
// underlying call is gone. Each repair goes through the same conditional
// writes as live traffic, so a session that finishes normally mid-sweep is
// left alone.
type Reconciler struct {
	store    store.Store
	sessions *session.Manager
	control  *control.Coordinator
	interval time.Duration
	maxAge   time.Duration
	logger   *slog.Logger
}

// New creates a reconciler. Non-positive interval or maxAge fall back to
// defaults.
func New(st store.Store, sessions *session.Manager, ctrl *control.Coordinator, interval, maxAge time.Duration, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = defaultInterval
	}
	if maxAge <= 0 {
		maxAge = defaultMaxAge
	}
	return &Reconciler{
		store:    st,
		sessions: sessions,
		control:  ctrl,
		interval: interval,
		maxAge:   maxAge,
		logger:   logger.With("component", "reconcile"),
	}
}

// Run sweeps on the configured interval until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("reconciler started", "interval", r.interval, "max_age", r.maxAge)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reconciler stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil && !errors.Is(err, context.Canceled) {
				r.logger.Error("reconciliation sweep failed", "error", err)
			}
		}
	}
}

// Sweep runs one reconciliation pass over all organizations. Also called
// opportunistically before serving stats so the numbers reflect reality.
func (r *Reconciler) Sweep(ctx context.Context) (*Result, error) {
	orgs, err := r.store.ListOrganizations(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing organizations: %w", err)
	}

	result := &Result{}
	for _, org := range orgs {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}

		closed, err := r.sessions.CleanupStale(ctx, org.ID, r.maxAge)
		if err != nil {
			r.logger.Warn("stale session cleanup failed", "org_id", org.ID, "error", err)
		}
		result.StaleSessions += closed

		orphaned, err := r.releaseOrphanedControls(ctx, org.ID)
		if err != nil {
			r.logger.Warn("orphaned control cleanup failed", "org_id", org.ID, "error", err)
		}
		result.OrphanedControls += orphaned
	}

	if result.StaleSessions > 0 || result.OrphanedControls > 0 {
		r.logger.Info("reconciliation repaired drift",
			"stale_sessions", result.StaleSessions,
			"orphaned_controls", result.OrphanedControls)
	}
	return result, nil
}

// releaseOrphanedControls ends control grants whose call has terminated
// under them. An operator holding a dead conversation would otherwise block
// every future takeover of that lead. Grants on leads with no call at all
// (SMS-only takeovers) are legitimate and left alone.
func (r *Reconciler) releaseOrphanedControls(ctx context.Context, orgID string) (int, error) {
	grants, err := r.store.ListActiveControls(ctx, orgID)
	if err != nil {
		return 0, fmt.Errorf("listing active controls: %w", err)
	}

	released := 0
	for _, grant := range grants {
		if ctx.Err() != nil {
			return released, ctx.Err()
		}

		_, err := r.store.GetActiveCallSession(ctx, orgID, grant.LeadID)
		if err == nil {
			continue // live call, control is legitimate
		}
		if !errors.Is(err, store.ErrNotFound) {
			r.logger.Warn("session lookup failed during sweep",
				"lead_id", grant.LeadID, "error", err)
			continue
		}

		// No live call. Release only if a call ended during this grant;
		// a takeover that never had a call behind it stays.
		ended, err := r.store.HasEndedCallSessionSince(ctx, orgID, grant.LeadID, grant.StartedAt)
		if err != nil {
			r.logger.Warn("ended session lookup failed during sweep",
				"lead_id", grant.LeadID, "error", err)
			continue
		}
		if !ended {
			continue
		}

		ok, err := r.control.ForceRelease(ctx, orgID, grant.LeadID)
		if err != nil {
			r.logger.Warn("failed to release orphaned control",
				"lead_id", grant.LeadID, "error", err)
			continue
		}
		if ok {
			released++
		}
	}
	return released, nil
}
