// ABOUTME: Human control session persistence with an atomic active marker
// ABOUTME: A partial unique index resolves join races; reads never trust callers

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// AcquireControl atomically creates an active human control session for a
// lead. The partial unique index on (lead_id) WHERE ended_at IS NULL acts as
// the compare-and-set marker: if another operator already holds the lead,
// the insert fails and ErrControlHeld is returned. Callers then query
// GetActiveControl for the winner's identity.
func (s *SQLiteStore) AcquireControl(ctx context.Context, session *HumanControlSession) error {
	query := `
		INSERT INTO human_control_sessions (id, org_id, lead_id, operator, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, NULL)
	`

	_, err := s.db.ExecContext(ctx, query,
		session.ID,
		session.OrgID,
		session.LeadID,
		session.Operator,
		session.StartedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrControlHeld
		}
		return fmt.Errorf("inserting control session: %w", err)
	}

	s.logger.Debug("control acquired",
		"id", session.ID,
		"org_id", session.OrgID,
		"lead_id", session.LeadID,
		"operator", session.Operator)
	return nil
}

// GetActiveControl returns the open control session for a lead, or ErrNotFound.
func (s *SQLiteStore) GetActiveControl(ctx context.Context, orgID, leadID string) (*HumanControlSession, error) {
	query := `
		SELECT id, org_id, lead_id, operator, started_at, ended_at
		FROM human_control_sessions
		WHERE org_id = ? AND lead_id = ? AND ended_at IS NULL
	`
	return s.scanControl(s.db.QueryRowContext(ctx, query, orgID, leadID))
}

// ReleaseControl closes the active control session for a lead.
// Returns false (no error) when none is active - release is idempotent.
func (s *SQLiteStore) ReleaseControl(ctx context.Context, orgID, leadID string) (bool, error) {
	query := `
		UPDATE human_control_sessions
		SET ended_at = ?
		WHERE org_id = ? AND lead_id = ? AND ended_at IS NULL
	`

	result, err := s.db.ExecContext(ctx, query,
		time.Now().UTC().Format(time.RFC3339),
		orgID,
		leadID,
	)
	if err != nil {
		return false, fmt.Errorf("releasing control: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("getting rows affected: %w", err)
	}

	if rowsAffected > 0 {
		s.logger.Debug("control released", "org_id", orgID, "lead_id", leadID)
	}
	return rowsAffected > 0, nil
}

// ListActiveControls returns all open control sessions in an organization,
// most recent first.
func (s *SQLiteStore) ListActiveControls(ctx context.Context, orgID string) ([]*HumanControlSession, error) {
	query := `
		SELECT id, org_id, lead_id, operator, started_at, ended_at
		FROM human_control_sessions
		WHERE org_id = ? AND ended_at IS NULL
		ORDER BY started_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("querying active controls: %w", err)
	}
	defer rows.Close()

	var sessions []*HumanControlSession
	for rows.Next() {
		session, err := scanControlRow(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating control rows: %w", err)
	}

	return sessions, nil
}

func (s *SQLiteStore) scanControl(row *sql.Row) (*HumanControlSession, error) {
	session, err := scanControlRow(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return session, err
}

func scanControlRow(row rowScanner) (*HumanControlSession, error) {
	var session HumanControlSession
	var startedAtStr string
	var endedAt sql.NullString

	err := row.Scan(
		&session.ID,
		&session.OrgID,
		&session.LeadID,
		&session.Operator,
		&startedAtStr,
		&endedAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scanning control session: %w", err)
	}

	session.StartedAt, err = time.Parse(time.RFC3339, startedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing started_at: %w", err)
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
