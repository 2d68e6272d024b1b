// ABOUTME: Store interface and data types for voxplane persistence
// ABOUTME: Defines Lead, CallSession, HumanControlSession structs and the Store interface

package store

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateSession is returned when a call session already exists for the
// same (org, lead, external id) triple
var ErrDuplicateSession = errors.New("call session already exists")

// ErrControlHeld is returned when the active-control marker for a lead is
// already taken by another operator
var ErrControlHeld = errors.New("control already held")

// ErrDuplicateLead is returned when a lead with the same normalized phone
// already exists in the organization
var ErrDuplicateLead = errors.New("lead already exists")

// SessionStatus is the lifecycle state of a call session
type SessionStatus string

// Call session lifecycle states
const (
	SessionInitiated   SessionStatus = "initiated"
	SessionActive      SessionStatus = "active"
	SessionCompleted   SessionStatus = "completed"
	SessionFailed      SessionStatus = "failed"
	SessionTransferred SessionStatus = "transferred"
)

// Terminal reports whether the status is sticky: no transition may leave it.
func (s SessionStatus) Terminal() bool {
	switch s {
	case SessionCompleted, SessionFailed, SessionTransferred:
		return true
	}
	return false
}

// NonTerminalStatuses lists the states a session can still transition out of.
func NonTerminalStatuses() []SessionStatus {
	return []SessionStatus{SessionInitiated, SessionActive}
}

// Direction indicates who initiated the conversation
type Direction string

// Call directions
const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Message author constants
const (
	AuthorAI     = "ai"
	AuthorHuman  = "human"
	AuthorLead   = "lead"
	AuthorSystem = "system"
)

// Message channel constants
const (
	ChannelVoice = "voice"
	ChannelSMS   = "sms"
)

// Organization is the multi-tenant boundary; every core entity belongs to one
type Organization struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// Lead is a prospective or existing customer tracked by normalized phone
// within an organization. Leads are never hard-deleted.
type Lead struct {
	ID        string
	OrgID     string
	Phone     string // normalized, see NormalizePhone
	Name      string
	Email     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CallSession is one voice/AI conversation instance tied to a lead.
// ExternalID is the provider's correlation id for the conversation.
type CallSession struct {
	ID         string
	OrgID      string
	LeadID     string
	ExternalID string
	Direction  Direction
	Status     SessionStatus
	Reason     string // why the session ended (e.g. "stale_session")
	StartedAt  time.Time
	EndedAt    *time.Time
	UpdatedAt  time.Time
}

// HumanControlSession is a period during which an operator, not the AI,
// authors responses for a lead. At most one active (EndedAt == nil) session
// exists per lead, enforced by a partial unique index.
type HumanControlSession struct {
	ID        string
	OrgID     string
	LeadID    string
	Operator  string
	StartedAt time.Time
	EndedAt   *time.Time
}

// Message is a single conversation entry for a lead
type Message struct {
	ID        string
	OrgID     string
	LeadID    string
	Channel   string // "voice", "sms"
	Author    string // "ai", "human", "lead", "system"
	Content   string
	CreatedAt time.Time
}

// Summary is a stored conversation summary used by bounded context computation
type Summary struct {
	ID        string
	OrgID     string
	LeadID    string
	Content   string
	CreatedAt time.Time
}

// SessionStats is an organization-level snapshot for the stats endpoint
type SessionStats struct {
	OrgID             string
	TotalSessions     int
	ActiveSessions    int
	CompletedSessions int
	FailedSessions    int
	HumanControlled   int
}

// Store defines the persistence boundary. Every query is scoped by
// organization id; cross-tenant reads are a bug, not a feature.
type Store interface {
	// Organizations
	CreateOrganization(ctx context.Context, org *Organization) error
	GetOrganization(ctx context.Context, id string) (*Organization, error)
	ListOrganizations(ctx context.Context) ([]*Organization, error)

	// Leads
	CreateLead(ctx context.Context, lead *Lead) error
	GetLead(ctx context.Context, orgID, id string) (*Lead, error)
	GetLeadByPhone(ctx context.Context, orgID, phone string) (*Lead, error)
	UpdateLead(ctx context.Context, lead *Lead) error

	// Call sessions
	CreateCallSession(ctx context.Context, session *CallSession) error
	GetCallSession(ctx context.Context, orgID, id string) (*CallSession, error)
	GetCallSessionByExternalID(ctx context.Context, orgID, leadID, externalID string) (*CallSession, error)
	GetActiveCallSession(ctx context.Context, orgID, leadID string) (*CallSession, error)
	TransitionCallSession(ctx context.Context, orgID, sessionID string, from []SessionStatus, to SessionStatus, reason string) (bool, error)
	ListStaleCallSessions(ctx context.Context, orgID string, olderThan time.Time) ([]*CallSession, error)
	HasEndedCallSessionSince(ctx context.Context, orgID, leadID string, since time.Time) (bool, error)

	// Human control sessions
	AcquireControl(ctx context.Context, session *HumanControlSession) error
	GetActiveControl(ctx context.Context, orgID, leadID string) (*HumanControlSession, error)
	ReleaseControl(ctx context.Context, orgID, leadID string) (bool, error)
	ListActiveControls(ctx context.Context, orgID string) ([]*HumanControlSession, error)

	// Messages and summaries
	SaveMessage(ctx context.Context, msg *Message) error
	GetRecentMessages(ctx context.Context, orgID, leadID string, limit int) ([]*Message, error)
	SaveSummary(ctx context.Context, summary *Summary) error
	GetRecentSummaries(ctx context.Context, orgID, leadID string, limit int) ([]*Summary, error)

	// Stats
	GetSessionStats(ctx context.Context, orgID string) (*SessionStats, error)

	// Close releases any resources held by the store
	Close() error
}

// NormalizePhone reduces a phone number to a canonical key: digits plus an
// optional leading "+". Formatting characters are stripped so that
// "+1 (555) 010-0199" and "+15550100199" map to the same lead.
func NormalizePhone(phone string) string {
	var b strings.Builder
	for i, r := range phone {
		if r == '+' && i == 0 {
			b.WriteRune(r)
			continue
		}
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
