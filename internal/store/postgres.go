package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/cynergists/specter/internal/db"
	"github.com/cynergists/specter/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const (
	pgGetVisitor = `SELECT ` + visitorColumns + ` FROM specter_visitors WHERE tenant_id = $1 AND visitor_id = $2`
	pgGetSession = `SELECT ` + sessionColumns + ` FROM specter_sessions WHERE tenant_id = $1 AND session_id = $2`
	pgMaxSeq     = `SELECT COALESCE(MAX(seq), 0) FROM specter_events WHERE specter_session_id = $1`
	pgListEvents = `SELECT ` + eventColumns + ` FROM specter_events WHERE specter_session_id = $1 ORDER BY occurred_at, seq`
	pgListActive = `SELECT ` + ruleColumns + ` FROM specter_scoring_rules
		WHERE is_active AND (tenant_id = $1 OR tenant_id = '')
		ORDER BY CASE WHEN tenant_id = '' THEN 1 ELSE 0 END, sort_order, signal_key`
	pgCountSessions = `SELECT COUNT(*) FROM specter_sessions
		WHERE specter_visitor_id = $1 AND id <> $2 AND created_at >= $3 AND created_at <= $4`
)

// preparedStatements lists the queries run on every ingest, prepared on each
// new connection.
var preparedStatements = map[string]string{
	"get_visitor":         pgGetVisitor,
	"get_session":         pgGetSession,
	"max_event_seq":       pgMaxSeq,
	"list_session_events": pgListEvents,
	"list_active_rules":   pgListActive,
	"count_sessions":      pgCountSessions,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS tenants (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL DEFAULT '',
	settings   JSONB NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS specter_visitors (
	id              TEXT PRIMARY KEY,
	tenant_id       TEXT NOT NULL,
	visitor_id      TEXT NOT NULL,
	cookie_ids      JSONB NOT NULL DEFAULT '[]',
	consent_state   TEXT NOT NULL DEFAULT 'unknown',
	consent_version TEXT NOT NULL DEFAULT '',
	dnt             BOOLEAN NOT NULL DEFAULT false,
	first_seen_at   TIMESTAMPTZ NOT NULL,
	last_seen_at    TIMESTAMPTZ NOT NULL,
	metadata        JSONB NOT NULL DEFAULT '{}',
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (tenant_id, visitor_id)
);

CREATE TABLE IF NOT EXISTS specter_sessions (
	id                        TEXT PRIMARY KEY,
	tenant_id                 TEXT NOT NULL,
	specter_visitor_id        TEXT NOT NULL REFERENCES specter_visitors(id) ON DELETE CASCADE,
	session_id                TEXT NOT NULL,
	started_at                TIMESTAMPTZ NOT NULL,
	ended_at                  TIMESTAMPTZ,
	intent_score              INTEGER NOT NULL DEFAULT 0,
	intent_tier               TEXT NOT NULL DEFAULT 'low',
	heat_zone                 TEXT NOT NULL DEFAULT 'low',
	resolution_status         TEXT NOT NULL DEFAULT 'unresolved',
	resolution_confidence     DOUBLE PRECISION NOT NULL DEFAULT 0,
	resolution_source         TEXT NOT NULL DEFAULT '',
	scoring_feature_breakdown JSONB NOT NULL DEFAULT '{}',
	metrics                   JSONB NOT NULL DEFAULT '{}',
	last_page_url             TEXT NOT NULL DEFAULT '',
	referrer                  TEXT NOT NULL DEFAULT '',
	utm_params                JSONB NOT NULL DEFAULT '{}',
	device_type               TEXT NOT NULL DEFAULT '',
	ip_hash                   TEXT NOT NULL DEFAULT '',
	company_name              TEXT NOT NULL DEFAULT '',
	company_domain            TEXT NOT NULL DEFAULT '',
	created_at                TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at                TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (tenant_id, session_id)
);

CREATE INDEX IF NOT EXISTS idx_specter_sessions_visitor ON specter_sessions(specter_visitor_id, created_at);
CREATE INDEX IF NOT EXISTS idx_specter_sessions_tenant_tier ON specter_sessions(tenant_id, intent_tier);

CREATE TABLE IF NOT EXISTS specter_events (
	id                 TEXT PRIMARY KEY,
	tenant_id          TEXT NOT NULL,
	specter_session_id TEXT NOT NULL REFERENCES specter_sessions(id) ON DELETE CASCADE,
	event_id           TEXT NOT NULL DEFAULT '',
	seq                INTEGER NOT NULL,
	type               TEXT NOT NULL,
	page_url           TEXT NOT NULL DEFAULT '',
	occurred_at        TIMESTAMPTZ NOT NULL,
	metadata           JSONB NOT NULL DEFAULT '{}',
	is_bot             BOOLEAN NOT NULL DEFAULT false,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_specter_events_session ON specter_events(specter_session_id, occurred_at, seq);
CREATE INDEX IF NOT EXISTS idx_specter_events_tenant_type ON specter_events(tenant_id, type);

CREATE TABLE IF NOT EXISTS specter_scoring_rules (
	id         TEXT PRIMARY KEY,
	tenant_id  TEXT NOT NULL DEFAULT '',
	signal_key TEXT NOT NULL,
	weight     DOUBLE PRECISION NOT NULL DEFAULT 1,
	config     JSONB NOT NULL DEFAULT '{}',
	is_active  BOOLEAN NOT NULL DEFAULT true,
	sort_order INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_specter_scoring_rules_tenant ON specter_scoring_rules(tenant_id, is_active, sort_order);

CREATE TABLE IF NOT EXISTS specter_crm_sync_logs (
	id                 TEXT PRIMARY KEY,
	tenant_id          TEXT NOT NULL,
	specter_session_id TEXT REFERENCES specter_sessions(id) ON DELETE SET NULL,
	crm_object_type    TEXT NOT NULL,
	crm_object_id      TEXT NOT NULL DEFAULT '',
	operation          TEXT NOT NULL,
	status             TEXT NOT NULL,
	error_code         TEXT NOT NULL DEFAULT '',
	error_message      TEXT NOT NULL DEFAULT '',
	payload_summary    JSONB NOT NULL DEFAULT '{}',
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_specter_crm_sync_logs_tenant ON specter_crm_sync_logs(tenant_id, created_at);

CREATE TABLE IF NOT EXISTS specter_escalation_logs (
	id                 TEXT PRIMARY KEY,
	tenant_id          TEXT NOT NULL,
	specter_session_id TEXT REFERENCES specter_sessions(id) ON DELETE SET NULL,
	visitor_id         TEXT NOT NULL DEFAULT '',
	reason_code        TEXT NOT NULL,
	reason             TEXT NOT NULL DEFAULT '',
	details            JSONB NOT NULL DEFAULT '{}',
	integration        TEXT NOT NULL DEFAULT '',
	provider           TEXT NOT NULL DEFAULT '',
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_specter_escalation_logs_tenant ON specter_escalation_logs(tenant_id, reason_code, created_at);

CREATE TABLE IF NOT EXISTS specter_trigger_logs (
	id                 TEXT PRIMARY KEY,
	tenant_id          TEXT NOT NULL,
	specter_session_id TEXT REFERENCES specter_sessions(id) ON DELETE SET NULL,
	workflow_slug      TEXT NOT NULL,
	payload            JSONB NOT NULL DEFAULT '{}',
	status             TEXT NOT NULL,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_specter_trigger_logs_tenant ON specter_trigger_logs(tenant_id, created_at);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- Tenants ---

func (s *PostgresStore) GetTenant(ctx context.Context, id string) (*model.Tenant, error) {
	t, err := scanTenant(s.pool.QueryRow(ctx,
		`SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: tenant %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get tenant %s", id)
	}
	return t, nil
}

func (s *PostgresStore) UpsertTenant(ctx context.Context, t *model.Tenant) error {
	settings, err := encodeJSON(t.Settings)
	if err != nil {
		return err
	}
	now := dbTime(time.Now())
	err = s.pool.QueryRow(ctx,
		`INSERT INTO tenants (id, name, settings, created_at, updated_at) VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, settings = EXCLUDED.settings, updated_at = EXCLUDED.updated_at
		RETURNING created_at`,
		t.ID, t.Name, settings, now,
	).Scan(&t.CreatedAt)
	if err != nil {
		return eris.Wrapf(err, "postgres: upsert tenant %s", t.ID)
	}
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = now
	return nil
}

// --- Visitors ---

func (s *PostgresStore) GetVisitor(ctx context.Context, tenantID, visitorID string) (*model.Visitor, error) {
	v, err := scanVisitor(s.pool.QueryRow(ctx, pgGetVisitor, tenantID, visitorID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return v, eris.Wrapf(err, "postgres: get visitor %s", visitorID)
}

func (s *PostgresStore) GetVisitorByPK(ctx context.Context, id string) (*model.Visitor, error) {
	v, err := scanVisitor(s.pool.QueryRow(ctx,
		`SELECT `+visitorColumns+` FROM specter_visitors WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return v, eris.Wrapf(err, "postgres: get visitor %s", id)
}

func (s *PostgresStore) SaveVisitor(ctx context.Context, v *model.Visitor) error {
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	cookies, err := encodeJSON(nonNilStrings(v.CookieIDs))
	if err != nil {
		return err
	}
	metadata, err := encodeMap(v.Metadata)
	if err != nil {
		return err
	}
	now := dbTime(time.Now())
	err = s.pool.QueryRow(ctx,
		`INSERT INTO specter_visitors (`+visitorColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
		ON CONFLICT (tenant_id, visitor_id) DO UPDATE SET
			cookie_ids = EXCLUDED.cookie_ids,
			consent_state = EXCLUDED.consent_state,
			consent_version = EXCLUDED.consent_version,
			dnt = EXCLUDED.dnt,
			last_seen_at = EXCLUDED.last_seen_at,
			metadata = EXCLUDED.metadata,
			updated_at = EXCLUDED.updated_at
		RETURNING id, first_seen_at, created_at`,
		v.ID, v.TenantID, v.VisitorID, cookies, string(v.ConsentState), v.ConsentVersion, v.DNT,
		dbTime(v.FirstSeenAt), dbTime(v.LastSeenAt), metadata, now,
	).Scan(&v.ID, &v.FirstSeenAt, &v.CreatedAt)
	if err != nil {
		return eris.Wrapf(err, "postgres: save visitor %s", v.VisitorID)
	}
	v.FirstSeenAt, v.CreatedAt = v.FirstSeenAt.UTC(), v.CreatedAt.UTC()
	v.UpdatedAt = now
	return nil
}

// --- Sessions ---

func (s *PostgresStore) GetSession(ctx context.Context, tenantID, sessionID string) (*model.Session, error) {
	sess, err := scanSession(s.pool.QueryRow(ctx, pgGetSession, tenantID, sessionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return sess, eris.Wrapf(err, "postgres: get session %s", sessionID)
}

func (s *PostgresStore) SaveSession(ctx context.Context, sess *model.Session) error {
	if sess.ID == "" {
		sess.ID = uuid.New().String()
	}
	args, err := sessionArgs(sess)
	if err != nil {
		return err
	}
	err = s.pool.QueryRow(ctx,
		`INSERT INTO specter_sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $22)
		ON CONFLICT (tenant_id, session_id) DO UPDATE SET
			specter_visitor_id = EXCLUDED.specter_visitor_id,
			started_at = EXCLUDED.started_at,
			ended_at = EXCLUDED.ended_at,
			intent_score = EXCLUDED.intent_score,
			intent_tier = EXCLUDED.intent_tier,
			heat_zone = EXCLUDED.heat_zone,
			resolution_status = EXCLUDED.resolution_status,
			resolution_confidence = EXCLUDED.resolution_confidence,
			resolution_source = EXCLUDED.resolution_source,
			scoring_feature_breakdown = EXCLUDED.scoring_feature_breakdown,
			metrics = EXCLUDED.metrics,
			last_page_url = EXCLUDED.last_page_url,
			referrer = EXCLUDED.referrer,
			utm_params = EXCLUDED.utm_params,
			device_type = EXCLUDED.device_type,
			ip_hash = EXCLUDED.ip_hash,
			company_name = EXCLUDED.company_name,
			company_domain = EXCLUDED.company_domain,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at`,
		args...,
	).Scan(&sess.ID, &sess.CreatedAt)
	if err != nil {
		return eris.Wrapf(err, "postgres: save session %s", sess.SessionID)
	}
	sess.CreatedAt = sess.CreatedAt.UTC()
	sess.UpdatedAt = args[len(args)-1].(time.Time)
	return nil
}

func (s *PostgresStore) ListSessions(ctx context.Context, filter SessionFilter) ([]model.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM specter_sessions WHERE true`
	args := []any{}
	argIdx := 1

	if filter.TenantID != "" {
		query += fmt.Sprintf(` AND tenant_id = $%d`, argIdx)
		args = append(args, filter.TenantID)
		argIdx++
	}
	if !filter.Since.IsZero() {
		query += fmt.Sprintf(` AND updated_at >= $%d`, argIdx)
		args = append(args, dbTime(filter.Since))
		argIdx++
	}
	if filter.Tier != "" {
		query += fmt.Sprintf(` AND intent_tier = $%d`, argIdx)
		args = append(args, string(filter.Tier))
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY updated_at DESC LIMIT $%d`, argIdx)
	args = append(args, limitOrDefault(filter.Limit))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list sessions")
	}
	defer rows.Close()

	var sessions []model.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan session")
		}
		sessions = append(sessions, *sess)
	}
	return sessions, eris.Wrap(rows.Err(), "postgres: list sessions iterate")
}

func (s *PostgresStore) CountVisitorSessions(ctx context.Context, visitorPK, excludeSessionPK string, from, to time.Time) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, pgCountSessions, visitorPK, excludeSessionPK, dbTime(from), dbTime(to)).Scan(&n)
	return n, eris.Wrapf(err, "postgres: count sessions for visitor %s", visitorPK)
}

// --- Events ---

var eventCopyColumns = []string{
	"id", "tenant_id", "specter_session_id", "event_id", "seq", "type",
	"page_url", "occurred_at", "metadata", "is_bot", "created_at",
}

// InsertEvents bulk-loads events with COPY. IDs and creation times are
// assigned to events that lack them.
func (s *PostgresStore) InsertEvents(ctx context.Context, events []model.Event) error {
	if len(events) == 0 {
		return nil
	}
	now := dbTime(time.Now())
	rows := make([][]any, 0, len(events))
	for i := range events {
		e := &events[i]
		if e.ID == "" {
			e.ID = uuid.New().String()
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}
		metadata, err := encodeMap(e.Metadata)
		if err != nil {
			return err
		}
		rows = append(rows, []any{
			e.ID, e.TenantID, e.SessionPK, e.EventID, e.Seq, e.Type,
			e.PageURL, dbTime(e.OccurredAt), metadata, e.IsBot, e.CreatedAt,
		})
	}
	_, err := db.CopyFrom(ctx, s.pool, "specter_events", eventCopyColumns, rows)
	return eris.Wrap(err, "postgres: insert events")
}

func (s *PostgresStore) ListSessionEvents(ctx context.Context, sessionPK string) ([]model.Event, error) {
	rows, err := s.pool.Query(ctx, pgListEvents, sessionPK)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list events for session %s", sessionPK)
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan event")
		}
		events = append(events, *e)
	}
	return events, eris.Wrap(rows.Err(), "postgres: list events iterate")
}

func (s *PostgresStore) MaxEventSeq(ctx context.Context, sessionPK string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, pgMaxSeq, sessionPK).Scan(&n)
	return n, eris.Wrapf(err, "postgres: max event seq for session %s", sessionPK)
}

// --- Scoring rules ---

func (s *PostgresStore) ListActiveRules(ctx context.Context, tenantID string) ([]model.ScoringRule, error) {
	return s.queryRules(ctx, "list active rules", pgListActive, tenantID)
}

func (s *PostgresStore) ListTenantRules(ctx context.Context, tenantID string) ([]model.ScoringRule, error) {
	return s.queryRules(ctx, "list tenant rules",
		`SELECT `+ruleColumns+` FROM specter_scoring_rules WHERE tenant_id = $1 ORDER BY sort_order, signal_key`,
		tenantID)
}

func (s *PostgresStore) queryRules(ctx context.Context, op, query string, args ...any) ([]model.ScoringRule, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: %s", op)
	}
	defer rows.Close()

	var rules []model.ScoringRule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan rule")
		}
		rules = append(rules, *r)
	}
	return rules, eris.Wrapf(rows.Err(), "postgres: %s iterate", op)
}

// ReplaceTenantRules swaps a tenant's rule set in one transaction. An empty
// tenant ID replaces the global rules.
func (s *PostgresStore) ReplaceTenantRules(ctx context.Context, tenantID string, rules []model.ScoringRule) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin replace rules")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `DELETE FROM specter_scoring_rules WHERE tenant_id = $1`, tenantID); err != nil {
		return eris.Wrapf(err, "postgres: delete rules for tenant %q", tenantID)
	}

	now := dbTime(time.Now())
	for i := range rules {
		r := &rules[i]
		r.ID = uuid.New().String()
		r.TenantID = tenantID
		r.CreatedAt, r.UpdatedAt = now, now
		config, err := encodeJSON(r.Config)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO specter_scoring_rules (`+ruleColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			r.ID, r.TenantID, r.SignalKey, r.Weight, config, r.IsActive, r.SortOrder, now, now,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: insert rule %s", r.SignalKey)
		}
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit replace rules")
}

// --- Audit logs ---

func (s *PostgresStore) InsertCRMSyncLog(ctx context.Context, l *model.CRMSyncLog) error {
	prepareLog(&l.ID, &l.CreatedAt)
	summary, err := encodeMap(l.PayloadSummary)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO specter_crm_sync_logs (id, tenant_id, specter_session_id, crm_object_type, crm_object_id, operation, status, error_code, error_message, payload_summary, created_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9, $10, $11)`,
		l.ID, l.TenantID, l.SessionPK, l.CRMObjectType, l.CRMObjectID, l.Operation, l.Status,
		l.ErrorCode, l.ErrorMessage, summary, l.CreatedAt,
	)
	return eris.Wrap(err, "postgres: insert crm sync log")
}

func (s *PostgresStore) ListCRMSyncLogs(ctx context.Context, filter LogFilter) ([]model.CRMSyncLog, error) {
	query, args := pgLogQuery(`SELECT `+syncLogColumns+` FROM specter_crm_sync_logs WHERE true`, filter, "status", filter.Status)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list crm sync logs")
	}
	defer rows.Close()

	var logs []model.CRMSyncLog
	for rows.Next() {
		l, err := scanSyncLog(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan crm sync log")
		}
		logs = append(logs, *l)
	}
	return logs, eris.Wrap(rows.Err(), "postgres: list crm sync logs iterate")
}

func (s *PostgresStore) InsertTriggerLog(ctx context.Context, l *model.TriggerLog) error {
	prepareLog(&l.ID, &l.CreatedAt)
	payload, err := encodeJSON(l.Payload)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO specter_trigger_logs (id, tenant_id, specter_session_id, workflow_slug, payload, status, created_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7)`,
		l.ID, l.TenantID, l.SessionPK, l.WorkflowSlug, payload, l.Status, l.CreatedAt,
	)
	return eris.Wrap(err, "postgres: insert trigger log")
}

func (s *PostgresStore) ListTriggerLogs(ctx context.Context, filter LogFilter) ([]model.TriggerLog, error) {
	query, args := pgLogQuery(`SELECT `+triggerColumns+` FROM specter_trigger_logs WHERE true`, filter, "", "")
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list trigger logs")
	}
	defer rows.Close()

	var logs []model.TriggerLog
	for rows.Next() {
		l, err := scanTriggerLog(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan trigger log")
		}
		logs = append(logs, *l)
	}
	return logs, eris.Wrap(rows.Err(), "postgres: list trigger logs iterate")
}

func (s *PostgresStore) InsertEscalation(ctx context.Context, l *model.EscalationLog) error {
	prepareLog(&l.ID, &l.CreatedAt)
	details, err := encodeMap(l.Details)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO specter_escalation_logs (id, tenant_id, specter_session_id, visitor_id, reason_code, reason, details, integration, provider, created_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9, $10)`,
		l.ID, l.TenantID, l.SessionPK, l.VisitorID, string(l.ReasonCode), l.Reason, details,
		l.Integration, l.Provider, l.CreatedAt,
	)
	return eris.Wrap(err, "postgres: insert escalation")
}

func (s *PostgresStore) ListEscalations(ctx context.Context, filter LogFilter) ([]model.EscalationLog, error) {
	query, args := pgLogQuery(`SELECT `+escalationColumns+` FROM specter_escalation_logs WHERE true`, filter, "reason_code", string(filter.ReasonCode))
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list escalations")
	}
	defer rows.Close()

	var logs []model.EscalationLog
	for rows.Next() {
		l, err := scanEscalation(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan escalation")
		}
		logs = append(logs, *l)
	}
	return logs, eris.Wrap(rows.Err(), "postgres: list escalations iterate")
}

// pgLogQuery appends the common log filters plus one optional equality
// column, newest first.
func pgLogQuery(base string, filter LogFilter, column, value string) (string, []any) {
	query := base
	args := []any{}
	argIdx := 1

	if filter.TenantID != "" {
		query += fmt.Sprintf(` AND tenant_id = $%d`, argIdx)
		args = append(args, filter.TenantID)
		argIdx++
	}
	if !filter.Since.IsZero() {
		query += fmt.Sprintf(` AND created_at >= $%d`, argIdx)
		args = append(args, dbTime(filter.Since))
		argIdx++
	}
	if column != "" && value != "" {
		query += fmt.Sprintf(` AND %s = $%d`, column, argIdx)
		args = append(args, value)
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, argIdx)
	args = append(args, limitOrDefault(filter.Limit))
	return query, args
}
