// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides org/lead persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS organizations (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			created_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS leads (
			id         TEXT PRIMARY KEY,
			org_id     TEXT NOT NULL REFERENCES organizations(id),
			phone      TEXT NOT NULL,
			name       TEXT,
			email      TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,

			UNIQUE(org_id, phone)
		);

		CREATE INDEX IF NOT EXISTS idx_leads_org_phone ON leads(org_id, phone);

		CREATE TABLE IF NOT EXISTS call_sessions (
			id          TEXT PRIMARY KEY,
			org_id      TEXT NOT NULL,
			lead_id     TEXT NOT NULL REFERENCES leads(id),
			external_id TEXT NOT NULL,
			direction   TEXT NOT NULL,
			status      TEXT NOT NULL,
			reason      TEXT,
			started_at  TEXT NOT NULL,
			ended_at    TEXT,
			updated_at  TEXT NOT NULL,

			UNIQUE(org_id, lead_id, external_id),
			CHECK (direction IN ('inbound', 'outbound')),
			CHECK (status IN ('initiated', 'active', 'completed', 'failed', 'transferred'))
		);

		CREATE INDEX IF NOT EXISTS idx_call_sessions_org_lead
			ON call_sessions(org_id, lead_id, status);
		CREATE INDEX IF NOT EXISTS idx_call_sessions_stale
			ON call_sessions(org_id, status, started_at);

		CREATE TABLE IF NOT EXISTS human_control_sessions (
			id         TEXT PRIMARY KEY,
			org_id     TEXT NOT NULL,
			lead_id    TEXT NOT NULL REFERENCES leads(id),
			operator   TEXT NOT NULL,
			started_at TEXT NOT NULL,
			ended_at   TEXT
		);

		-- The "active" marker: at most one open control session per lead.
		-- Join races resolve here, not in process memory.
		CREATE UNIQUE INDEX IF NOT EXISTS idx_control_active
			ON human_control_sessions(lead_id) WHERE ended_at IS NULL;
		CREATE INDEX IF NOT EXISTS idx_control_org
			ON human_control_sessions(org_id, ended_at);

		CREATE TABLE IF NOT EXISTS messages (
			id         TEXT PRIMARY KEY,
			org_id     TEXT NOT NULL,
			lead_id    TEXT NOT NULL REFERENCES leads(id),
			channel    TEXT NOT NULL,
			author     TEXT NOT NULL,
			content    TEXT NOT NULL,
			created_at TEXT NOT NULL,

			CHECK (channel IN ('voice', 'sms')),
			CHECK (author IN ('ai', 'human', 'lead', 'system'))
		);

		CREATE INDEX IF NOT EXISTS idx_messages_org_lead_created
			ON messages(org_id, lead_id, created_at);

		CREATE TABLE IF NOT EXISTS summaries (
			id         TEXT PRIMARY KEY,
			org_id     TEXT NOT NULL,
			lead_id    TEXT NOT NULL REFERENCES leads(id),
			content    TEXT NOT NULL,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_summaries_org_lead_created
			ON summaries(org_id, lead_id, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies schema migrations for existing databases.
// These are idempotent - safe to run multiple times.
func (s *SQLiteStore) runMigrations() error {
	// Migration: add reason column to call_sessions (if it doesn't exist).
	// SQLite doesn't support ADD COLUMN IF NOT EXISTS, so we check first.
	migrations := []struct {
		check  string
		apply  string
		column string
		table  string
	}{
		{
			check:  `SELECT 1 FROM pragma_table_info('call_sessions') WHERE name = 'reason'`,
			apply:  `ALTER TABLE call_sessions ADD COLUMN reason TEXT`,
			column: "reason",
			table:  "call_sessions",
		},
		{
			check:  `SELECT 1 FROM pragma_table_info('leads') WHERE name = 'email'`,
			apply:  `ALTER TABLE leads ADD COLUMN email TEXT`,
			column: "email",
			table:  "leads",
		},
	}

	for _, m := range migrations {
		var exists int
		err := s.db.QueryRow(m.check).Scan(&exists)
		if err == nil {
			// Column already exists, skip
			continue
		}
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding %s column to %s: %w", m.column, m.table, err)
		}
		s.logger.Info("applied migration", "column", m.column, "table", m.table)
	}

	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// CreateOrganization creates a new organization
func (s *SQLiteStore) CreateOrganization(ctx context.Context, org *Organization) error {
	query := `
		INSERT INTO organizations (id, name, created_at)
		VALUES (?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		org.ID,
		org.Name,
		org.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting organization: %w", err)
	}

	s.logger.Debug("created organization", "id", org.ID, "name", org.Name)
	return nil
}

// GetOrganization retrieves an organization by ID.
// Returns ErrNotFound if the organization doesn't exist.
func (s *SQLiteStore) GetOrganization(ctx context.Context, id string) (*Organization, error) {
	query := `SELECT id, name, created_at FROM organizations WHERE id = ?`

	var org Organization
	var createdAtStr string

	err := s.db.QueryRowContext(ctx, query, id).Scan(&org.ID, &org.Name, &createdAtStr)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying organization: %w", err)
	}

	org.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	return &org, nil
}

// ListOrganizations returns all organizations, ordered by name.
// Used by the reconciler to sweep every tenant.
func (s *SQLiteStore) ListOrganizations(ctx context.Context) ([]*Organization, error) {
	query := `SELECT id, name, created_at FROM organizations ORDER BY name`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying organizations: %w", err)
	}
	defer rows.Close()

	var orgs []*Organization
	for rows.Next() {
		var org Organization
		var createdAtStr string

		if err := rows.Scan(&org.ID, &org.Name, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scanning organization row: %w", err)
		}

		org.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}

		orgs = append(orgs, &org)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating organization rows: %w", err)
	}

	return orgs, nil
}

// CreateLead creates a new lead. The phone number is stored normalized.
// Returns ErrDuplicateLead if the org already tracks this phone.
func (s *SQLiteStore) CreateLead(ctx context.Context, lead *Lead) error {
	query := `
		INSERT INTO leads (id, org_id, phone, name, email, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		lead.ID,
		lead.OrgID,
		NormalizePhone(lead.Phone),
		nullString(lead.Name),
		nullString(lead.Email),
		lead.CreatedAt.UTC().Format(time.RFC3339),
		lead.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateLead
		}
		return fmt.Errorf("inserting lead: %w", err)
	}

	s.logger.Debug("created lead", "id", lead.ID, "org_id", lead.OrgID)
	return nil
}

// GetLead retrieves a lead by ID within an organization.
// Returns ErrNotFound if the lead doesn't exist in that org.
func (s *SQLiteStore) GetLead(ctx context.Context, orgID, id string) (*Lead, error) {
	query := `
		SELECT id, org_id, phone, name, email, created_at, updated_at
		FROM leads
		WHERE org_id = ? AND id = ?
	`
	return s.scanLead(s.db.QueryRowContext(ctx, query, orgID, id))
}

// GetLeadByPhone retrieves a lead by normalized phone within an organization.
// The input phone is normalized before lookup.
func (s *SQLiteStore) GetLeadByPhone(ctx context.Context, orgID, phone string) (*Lead, error) {
	query := `
		SELECT id, org_id, phone, name, email, created_at, updated_at
		FROM leads
		WHERE org_id = ? AND phone = ?
	`
	return s.scanLead(s.db.QueryRowContext(ctx, query, orgID, NormalizePhone(phone)))
}

func (s *SQLiteStore) scanLead(row *sql.Row) (*Lead, error) {
	var lead Lead
	var name, email sql.NullString
	var createdAtStr, updatedAtStr string

	err := row.Scan(&lead.ID, &lead.OrgID, &lead.Phone, &name, &email, &createdAtStr, &updatedAtStr)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning lead: %w", err)
	}

	lead.Name = name.String
	lead.Email = email.String

	lead.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	lead.UpdatedAt, err = time.Parse(time.RFC3339, updatedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &lead, nil
}

// UpdateLead updates a lead's mutable fields.
// Returns ErrNotFound if the lead doesn't exist in the org.
func (s *SQLiteStore) UpdateLead(ctx context.Context, lead *Lead) error {
	query := `
		UPDATE leads
		SET phone = ?, name = ?, email = ?, updated_at = ?
		WHERE org_id = ? AND id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		NormalizePhone(lead.Phone),
		nullString(lead.Name),
		nullString(lead.Email),
		time.Now().UTC().Format(time.RFC3339),
		lead.OrgID,
		lead.ID,
	)
	if err != nil {
		return fmt.Errorf("updating lead: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("updated lead", "id", lead.ID, "org_id", lead.OrgID)
	return nil
}

// nullString returns nil for empty strings, otherwise the string
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Ensure SQLiteStore implements Store interface
var _ Store = (*SQLiteStore)(nil)
