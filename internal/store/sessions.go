// ABOUTME: Call session persistence with conditional state transitions
// ABOUTME: Terminal states are sticky; all updates are guarded on current status

package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// CreateCallSession inserts a new call session row.
// Returns ErrDuplicateSession if a session already exists for the same
// (org, lead, external id) triple - callers resolve idempotency by fetching
// the existing row.
func (s *SQLiteStore) CreateCallSession(ctx context.Context, session *CallSession) error {
	query := `
		INSERT INTO call_sessions
			(id, org_id, lead_id, external_id, direction, status, reason, started_at, ended_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		session.ID,
		session.OrgID,
		session.LeadID,
		session.ExternalID,
		string(session.Direction),
		string(session.Status),
		nullString(session.Reason),
		session.StartedAt.UTC().Format(time.RFC3339),
		nullTime(session.EndedAt),
		session.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateSession
		}
		return fmt.Errorf("inserting call session: %w", err)
	}

	s.logger.Debug("created call session",
		"id", session.ID,
		"org_id", session.OrgID,
		"lead_id", session.LeadID,
		"external_id", session.ExternalID)
	return nil
}

// GetCallSession retrieves a call session by ID within an organization.
// Returns ErrNotFound if it doesn't exist in that org.
func (s *SQLiteStore) GetCallSession(ctx context.Context, orgID, id string) (*CallSession, error) {
	query := callSessionSelect + ` WHERE org_id = ? AND id = ?`
	return s.scanCallSession(s.db.QueryRowContext(ctx, query, orgID, id))
}

// GetCallSessionByExternalID retrieves the session for a provider correlation id.
func (s *SQLiteStore) GetCallSessionByExternalID(ctx context.Context, orgID, leadID, externalID string) (*CallSession, error) {
	query := callSessionSelect + ` WHERE org_id = ? AND lead_id = ? AND external_id = ?`
	return s.scanCallSession(s.db.QueryRowContext(ctx, query, orgID, leadID, externalID))
}

// GetActiveCallSession returns the lead's current non-terminal session, or
// ErrNotFound. At most one exists per (lead, external id); the most recently
// started wins if history ever holds several.
func (s *SQLiteStore) GetActiveCallSession(ctx context.Context, orgID, leadID string) (*CallSession, error) {
	query := callSessionSelect + `
		WHERE org_id = ? AND lead_id = ? AND status IN ('initiated', 'active')
		ORDER BY started_at DESC
		LIMIT 1
	`
	return s.scanCallSession(s.db.QueryRowContext(ctx, query, orgID, leadID))
}

// TransitionCallSession performs a conditional state transition: the row is
// updated only if its current status is one of `from`. Returns true if the
// row changed. A false return with no error means the precondition failed -
// typically a terminal state rejecting a late event.
func (s *SQLiteStore) TransitionCallSession(ctx context.Context, orgID, sessionID string, from []SessionStatus, to SessionStatus, reason string) (bool, error) {
	if len(from) == 0 {
		return false, fmt.Errorf("transition requires at least one precondition status")
	}

	placeholders := make([]string, len(from))
	args := make([]any, 0, len(from)+6)

	now := time.Now().UTC().Format(time.RFC3339)
	args = append(args, string(to), nullString(reason), now)

	var endedAt any
	if to.Terminal() {
		endedAt = now
	}
	args = append(args, endedAt, orgID, sessionID)

	for i, st := range from {
		placeholders[i] = "?"
		args = append(args, string(st))
	}

	query := fmt.Sprintf(`
		UPDATE call_sessions
		SET status = ?, reason = COALESCE(?, reason), updated_at = ?, ended_at = COALESCE(?, ended_at)
		WHERE org_id = ? AND id = ? AND status IN (%s)
	`, strings.Join(placeholders, ", "))

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("transitioning call session: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("getting rows affected: %w", err)
	}

	if rowsAffected > 0 {
		s.logger.Debug("call session transitioned",
			"id", sessionID,
			"org_id", orgID,
			"to", string(to),
			"reason", reason)
	}
	return rowsAffected > 0, nil
}

// ListStaleCallSessions returns non-terminal sessions started before the
// given cutoff, oldest first. Used by the reconciler.
func (s *SQLiteStore) ListStaleCallSessions(ctx context.Context, orgID string, olderThan time.Time) ([]*CallSession, error) {
	query := callSessionSelect + `
		WHERE org_id = ? AND status IN ('initiated', 'active') AND started_at < ?
		ORDER BY started_at ASC
	`

	rows, err := s.db.QueryContext(ctx, query, orgID, olderThan.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("querying stale call sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*CallSession
	for rows.Next() {
		session, err := scanCallSessionRow(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating call session rows: %w", err)
	}

	return sessions, nil
}

// HasEndedCallSessionSince reports whether the lead has a terminal call
// session that ended at or after the given time. RFC3339 text orders
// lexicographically, so the bound works as a string comparison.
func (s *SQLiteStore) HasEndedCallSessionSince(ctx context.Context, orgID, leadID string, since time.Time) (bool, error) {
	query := `
		SELECT COUNT(*)
		FROM call_sessions
		WHERE org_id = ? AND lead_id = ? AND ended_at IS NOT NULL AND ended_at >= ?
	`

	var n int
	err := s.db.QueryRowContext(ctx, query, orgID, leadID, since.UTC().Format(time.RFC3339)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("counting ended call sessions: %w", err)
	}
	return n > 0, nil
}

const callSessionSelect = `
	SELECT id, org_id, lead_id, external_id, direction, status, reason, started_at, ended_at, updated_at
	FROM call_sessions
`

// rowScanner covers both *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func (s *SQLiteStore) scanCallSession(row *sql.Row) (*CallSession, error) {
	session, err := scanCallSessionRow(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return session, err
}

func scanCallSessionRow(row rowScanner) (*CallSession, error) {
	var session CallSession
	var direction, status string
	var reason, endedAt sql.NullString
	var startedAtStr, updatedAtStr string

	err := row.Scan(
		&session.ID,
		&session.OrgID,
		&session.LeadID,
		&session.ExternalID,
		&direction,
		&status,
		&reason,
		&startedAtStr,
		&endedAt,
		&updatedAtStr,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scanning call session: %w", err)
	}

	session.Direction = Direction(direction)
	session.Status = SessionStatus(status)
	session.Reason = reason.String

	session.StartedAt, err = time.Parse(time.RFC3339, startedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing started_at: %w", err)
	}
	session.UpdatedAt, err = time.Parse(time.RFC3339, updatedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	if endedAt.Valid {
		t, err := time.Parse(time.RFC3339, endedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing ended_at: %w", err)
		}
		session.EndedAt = &t
	}

	return &session, nil
}

// nullTime returns nil for nil times, otherwise the RFC3339 string
func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
