// ABOUTME: Message and summary persistence plus per-organization session stats
// ABOUTME: Recent-window queries are bounded; history is never scanned in full

package store

import (
	"context"
	"fmt"
	"time"
)

// SaveMessage persists a conversation entry for a lead
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *Message) error {
	query := `
		INSERT INTO messages (id, org_id, lead_id, channel, author, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		msg.ID,
		msg.OrgID,
		msg.LeadID,
		msg.Channel,
		msg.Author,
		msg.Content,
		msg.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	s.logger.Debug("saved message",
		"id", msg.ID,
		"org_id", msg.OrgID,
		"lead_id", msg.LeadID,
		"author", msg.Author)
	return nil
}

// GetRecentMessages returns the N most recent messages for a lead in
// chronological order (oldest first). The subquery bounds the scan to the
// window; context computation never reads full history.
func (s *SQLiteStore) GetRecentMessages(ctx context.Context, orgID, leadID string, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 500 {
		limit = 500
	}

	query := `
		SELECT id, org_id, lead_id, channel, author, content, created_at
		FROM (
			SELECT id, org_id, lead_id, channel, author, content, created_at
			FROM messages
			WHERE org_id = ? AND lead_id = ?
			ORDER BY created_at DESC
			LIMIT ?
		)
		ORDER BY created_at ASC
	`

	rows, err := s.db.QueryContext(ctx, query, orgID, leadID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		var msg Message
		var createdAtStr string

		if err := rows.Scan(&msg.ID, &msg.OrgID, &msg.LeadID, &msg.Channel, &msg.Author, &msg.Content, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}

		msg.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing message created_at: %w", err)
		}

		messages = append(messages, &msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}

	return messages, nil
}

// SaveSummary persists a conversation summary for a lead
func (s *SQLiteStore) SaveSummary(ctx context.Context, summary *Summary) error {
	query := `
		INSERT INTO summaries (id, org_id, lead_id, content, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		summary.ID,
		summary.OrgID,
		summary.LeadID,
		summary.Content,
		summary.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting summary: %w", err)
	}

	s.logger.Debug("saved summary", "id", summary.ID, "lead_id", summary.LeadID)
	return nil
}

// GetRecentSummaries returns the N most recent summaries for a lead,
// newest first.
func (s *SQLiteStore) GetRecentSummaries(ctx context.Context, orgID, leadID string, limit int) ([]*Summary, error) {
	if limit <= 0 {
		limit = 3
	}
	if limit > 50 {
		limit = 50
	}

	query := `
		SELECT id, org_id, lead_id, content, created_at
		FROM summaries
		WHERE org_id = ? AND lead_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, orgID, leadID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying summaries: %w", err)
	}
	defer rows.Close()

	var summaries []*Summary
	for rows.Next() {
		var summary Summary
		var createdAtStr string

		if err := rows.Scan(&summary.ID, &summary.OrgID, &summary.LeadID, &summary.Content, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scanning summary row: %w", err)
		}

		summary.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing summary created_at: %w", err)
		}

		summaries = append(summaries, &summary)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating summary rows: %w", err)
	}

	return summaries, nil
}

// GetSessionStats returns a point-in-time snapshot of session counts for an
// organization.
func (s *SQLiteStore) GetSessionStats(ctx context.Context, orgID string) (*SessionStats, error) {
	stats := &SessionStats{OrgID: orgID}

	query := `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN status IN ('initiated', 'active') THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0)
		FROM call_sessions
		WHERE org_id = ?
	`
	err := s.db.QueryRowContext(ctx, query, orgID).Scan(
		&stats.TotalSessions,
		&stats.ActiveSessions,
		&stats.CompletedSessions,
		&stats.FailedSessions,
	)
	if err != nil {
		return nil, fmt.Errorf("querying session stats: %w", err)
	}

	controlQuery := `
		SELECT COUNT(*)
		FROM human_control_sessions
		WHERE org_id = ? AND ended_at IS NULL
	`
	if err := s.db.QueryRowContext(ctx, controlQuery, orgID).Scan(&stats.HumanControlled); err != nil {
		return nil, fmt.Errorf("querying control stats: %w", err)
	}

	return stats, nil
}
