package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/cynergists/specter/internal/model"
)

// ErrNotFound is returned by lookups that require the record to exist.
var ErrNotFound = eris.New("store: not found")

// LogFilter specifies criteria for listing append-only audit logs.
type LogFilter struct {
	TenantID   string                 `json:"tenant_id,omitempty"`
	Since      time.Time              `json:"since,omitempty"`
	ReasonCode model.EscalationReason `json:"reason_code,omitempty"` // escalations only
	Status     string                 `json:"status,omitempty"`      // CRM sync logs only
	Limit      int                    `json:"limit,omitempty"`
}

// SessionFilter specifies criteria for listing sessions.
type SessionFilter struct {
	TenantID string           `json:"tenant_id,omitempty"`
	Since    time.Time        `json:"since,omitempty"`
	Tier     model.IntentTier `json:"tier,omitempty"`
	Limit    int              `json:"limit,omitempty"`
}

// Store defines the persistence interface for the Specter pipeline.
type Store interface {
	// Tenants
	GetTenant(ctx context.Context, id string) (*model.Tenant, error)
	UpsertTenant(ctx context.Context, t *model.Tenant) error

	// Visitors and sessions. Get* return nil, nil when nothing matches.
	GetVisitor(ctx context.Context, tenantID, visitorID string) (*model.Visitor, error)
	GetVisitorByPK(ctx context.Context, id string) (*model.Visitor, error)
	SaveVisitor(ctx context.Context, v *model.Visitor) error
	GetSession(ctx context.Context, tenantID, sessionID string) (*model.Session, error)
	SaveSession(ctx context.Context, s *model.Session) error
	ListSessions(ctx context.Context, filter SessionFilter) ([]model.Session, error)
	CountVisitorSessions(ctx context.Context, visitorPK, excludeSessionPK string, from, to time.Time) (int, error)

	// Events
	InsertEvents(ctx context.Context, events []model.Event) error
	ListSessionEvents(ctx context.Context, sessionPK string) ([]model.Event, error)
	MaxEventSeq(ctx context.Context, sessionPK string) (int, error)

	// Scoring rules
	ListActiveRules(ctx context.Context, tenantID string) ([]model.ScoringRule, error)
	ListTenantRules(ctx context.Context, tenantID string) ([]model.ScoringRule, error)
	ReplaceTenantRules(ctx context.Context, tenantID string, rules []model.ScoringRule) error

	// Audit logs
	InsertCRMSyncLog(ctx context.Context, l *model.CRMSyncLog) error
	ListCRMSyncLogs(ctx context.Context, filter LogFilter) ([]model.CRMSyncLog, error)
	InsertTriggerLog(ctx context.Context, l *model.TriggerLog) error
	ListTriggerLogs(ctx context.Context, filter LogFilter) ([]model.TriggerLog, error)
	InsertEscalation(ctx context.Context, l *model.EscalationLog) error
	ListEscalations(ctx context.Context, filter LogFilter) ([]model.EscalationLog, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

const defaultListLimit = 100

func limitOrDefault(n int) int {
	if n <= 0 {
		return defaultListLimit
	}
	return n
}
