package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/cynergists/specter/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS tenants (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL DEFAULT '',
	settings   TEXT NOT NULL DEFAULT '{}',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS specter_visitors (
	id              TEXT PRIMARY KEY,
	tenant_id       TEXT NOT NULL,
	visitor_id      TEXT NOT NULL,
	cookie_ids      TEXT NOT NULL DEFAULT '[]',
	consent_state   TEXT NOT NULL DEFAULT 'unknown',
	consent_version TEXT NOT NULL DEFAULT '',
	dnt             BOOLEAN NOT NULL DEFAULT 0,
	first_seen_at   DATETIME NOT NULL,
	last_seen_at    DATETIME NOT NULL,
	metadata        TEXT NOT NULL DEFAULT '{}',
	created_at      DATETIME NOT NULL,
	updated_at      DATETIME NOT NULL,
	UNIQUE (tenant_id, visitor_id)
);

CREATE TABLE IF NOT EXISTS specter_sessions (
	id                        TEXT PRIMARY KEY,
	tenant_id                 TEXT NOT NULL,
	specter_visitor_id        TEXT NOT NULL REFERENCES specter_visitors(id) ON DELETE CASCADE,
	session_id                TEXT NOT NULL,
	started_at                DATETIME NOT NULL,
	ended_at                  DATETIME,
	intent_score              INTEGER NOT NULL DEFAULT 0,
	intent_tier               TEXT NOT NULL DEFAULT 'low',
	heat_zone                 TEXT NOT NULL DEFAULT 'low',
	resolution_status         TEXT NOT NULL DEFAULT 'unresolved',
	resolution_confidence     REAL NOT NULL DEFAULT 0,
	resolution_source         TEXT NOT NULL DEFAULT '',
	scoring_feature_breakdown TEXT NOT NULL DEFAULT '{}',
	metrics                   TEXT NOT NULL DEFAULT '{}',
	last_page_url             TEXT NOT NULL DEFAULT '',
	referrer                  TEXT NOT NULL DEFAULT '',
	utm_params                TEXT NOT NULL DEFAULT '{}',
	device_type               TEXT NOT NULL DEFAULT '',
	ip_hash                   TEXT NOT NULL DEFAULT '',
	company_name              TEXT NOT NULL DEFAULT '',
	company_domain            TEXT NOT NULL DEFAULT '',
	created_at                DATETIME NOT NULL,
	updated_at                DATETIME NOT NULL,
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
	occurred_at        DATETIME NOT NULL,
	metadata           TEXT NOT NULL DEFAULT '{}',
	is_bot             BOOLEAN NOT NULL DEFAULT 0,
	created_at         DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_specter_events_session ON specter_events(specter_session_id, occurred_at, seq);

CREATE TABLE IF NOT EXISTS specter_scoring_rules (
	id         TEXT PRIMARY KEY,
	tenant_id  TEXT NOT NULL DEFAULT '',
	signal_key TEXT NOT NULL,
	weight     REAL NOT NULL DEFAULT 1,
	config     TEXT NOT NULL DEFAULT '{}',
	is_active  BOOLEAN NOT NULL DEFAULT 1,
	sort_order INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
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
	payload_summary    TEXT NOT NULL DEFAULT '{}',
	created_at         DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_specter_crm_sync_logs_tenant ON specter_crm_sync_logs(tenant_id, created_at);

CREATE TABLE IF NOT EXISTS specter_escalation_logs (
	id                 TEXT PRIMARY KEY,
	tenant_id          TEXT NOT NULL,
	specter_session_id TEXT REFERENCES specter_sessions(id) ON DELETE SET NULL,
	visitor_id         TEXT NOT NULL DEFAULT '',
	reason_code        TEXT NOT NULL,
	reason             TEXT NOT NULL DEFAULT '',
	details            TEXT NOT NULL DEFAULT '{}',
	integration        TEXT NOT NULL DEFAULT '',
	provider           TEXT NOT NULL DEFAULT '',
	created_at         DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_specter_escalation_logs_tenant ON specter_escalation_logs(tenant_id, reason_code, created_at);

CREATE TABLE IF NOT EXISTS specter_trigger_logs (
	id                 TEXT PRIMARY KEY,
	tenant_id          TEXT NOT NULL,
	specter_session_id TEXT REFERENCES specter_sessions(id) ON DELETE SET NULL,
	workflow_slug      TEXT NOT NULL,
	payload            TEXT NOT NULL DEFAULT '{}',
	status             TEXT NOT NULL,
	created_at         DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_specter_trigger_logs_tenant ON specter_trigger_logs(tenant_id, created_at);
`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Tenants ---

func (s *SQLiteStore) GetTenant(ctx context.Context, id string) (*model.Tenant, error) {
	t, err := scanTenant(s.db.QueryRowContext(ctx,
		`SELECT `+tenantColumns+` FROM tenants WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: tenant %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get tenant %s", id)
	}
	return t, nil
}

func (s *SQLiteStore) UpsertTenant(ctx context.Context, t *model.Tenant) error {
	settings, err := encodeJSON(t.Settings)
	if err != nil {
		return err
	}
	now := dbTime(time.Now())
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tenants (id, name, settings, created_at, updated_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET name = excluded.name, settings = excluded.settings, updated_at = excluded.updated_at`,
		t.ID, t.Name, string(settings), now, now,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: upsert tenant %s", t.ID)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT created_at FROM tenants WHERE id = ?`, t.ID).Scan(&t.CreatedAt); err != nil {
		return eris.Wrapf(err, "sqlite: reload tenant %s", t.ID)
	}
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = now
	return nil
}

// --- Visitors ---

func (s *SQLiteStore) GetVisitor(ctx context.Context, tenantID, visitorID string) (*model.Visitor, error) {
	v, err := scanVisitor(s.db.QueryRowContext(ctx,
		`SELECT `+visitorColumns+` FROM specter_visitors WHERE tenant_id = ? AND visitor_id = ?`,
		tenantID, visitorID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return v, eris.Wrapf(err, "sqlite: get visitor %s", visitorID)
}

func (s *SQLiteStore) GetVisitorByPK(ctx context.Context, id string) (*model.Visitor, error) {
	v, err := scanVisitor(s.db.QueryRowContext(ctx,
		`SELECT `+visitorColumns+` FROM specter_visitors WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return v, eris.Wrapf(err, "sqlite: get visitor %s", id)
}

func (s *SQLiteStore) SaveVisitor(ctx context.Context, v *model.Visitor) error {
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
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO specter_visitors (`+visitorColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, visitor_id) DO UPDATE SET
			cookie_ids = excluded.cookie_ids,
			consent_state = excluded.consent_state,
			consent_version = excluded.consent_version,
			dnt = excluded.dnt,
			last_seen_at = excluded.last_seen_at,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at
		RETURNING id`,
		v.ID, v.TenantID, v.VisitorID, string(cookies), string(v.ConsentState), v.ConsentVersion, v.DNT,
		dbTime(v.FirstSeenAt), dbTime(v.LastSeenAt), string(metadata), now, now,
	).Scan(&v.ID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: save visitor %s", v.VisitorID)
	}
	err = s.db.QueryRowContext(ctx,
		`SELECT first_seen_at, created_at FROM specter_visitors WHERE id = ?`, v.ID,
	).Scan(&v.FirstSeenAt, &v.CreatedAt)
	if err != nil {
		return eris.Wrapf(err, "sqlite: reload visitor %s", v.VisitorID)
	}
	v.FirstSeenAt, v.CreatedAt = v.FirstSeenAt.UTC(), v.CreatedAt.UTC()
	v.UpdatedAt = now
	return nil
}

// --- Sessions ---

func (s *SQLiteStore) GetSession(ctx context.Context, tenantID, sessionID string) (*model.Session, error) {
	sess, err := scanSession(s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM specter_sessions WHERE tenant_id = ? AND session_id = ?`,
		tenantID, sessionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return sess, eris.Wrapf(err, "sqlite: get session %s", sessionID)
}

func (s *SQLiteStore) SaveSession(ctx context.Context, sess *model.Session) error {
	if sess.ID == "" {
		sess.ID = uuid.New().String()
	}
	args, err := sessionArgs(sess)
	if err != nil {
		return err
	}
	updatedAt := args[len(args)-1].(time.Time)
	args = append(textArgs(args), updatedAt)
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO specter_sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, session_id) DO UPDATE SET
			specter_visitor_id = excluded.specter_visitor_id,
			started_at = excluded.started_at,
			ended_at = excluded.ended_at,
			intent_score = excluded.intent_score,
			intent_tier = excluded.intent_tier,
			heat_zone = excluded.heat_zone,
			resolution_status = excluded.resolution_status,
			resolution_confidence = excluded.resolution_confidence,
			resolution_source = excluded.resolution_source,
			scoring_feature_breakdown = excluded.scoring_feature_breakdown,
			metrics = excluded.metrics,
			last_page_url = excluded.last_page_url,
			referrer = excluded.referrer,
			utm_params = excluded.utm_params,
			device_type = excluded.device_type,
			ip_hash = excluded.ip_hash,
			company_name = excluded.company_name,
			company_domain = excluded.company_domain,
			updated_at = excluded.updated_at
		RETURNING id`,
		args...,
	).Scan(&sess.ID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: save session %s", sess.SessionID)
	}
	err = s.db.QueryRowContext(ctx, `SELECT created_at FROM specter_sessions WHERE id = ?`, sess.ID).Scan(&sess.CreatedAt)
	if err != nil {
		return eris.Wrapf(err, "sqlite: reload session %s", sess.SessionID)
	}
	sess.CreatedAt = sess.CreatedAt.UTC()
	sess.UpdatedAt = updatedAt
	return nil
}

func (s *SQLiteStore) ListSessions(ctx context.Context, filter SessionFilter) ([]model.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM specter_sessions WHERE 1=1`
	args := []any{}
	if filter.TenantID != "" {
		query += ` AND tenant_id = ?`
		args = append(args, filter.TenantID)
	}
	if !filter.Since.IsZero() {
		query += ` AND updated_at >= ?`
		args = append(args, dbTime(filter.Since))
	}
	if filter.Tier != "" {
		query += ` AND intent_tier = ?`
		args = append(args, string(filter.Tier))
	}
	query += ` ORDER BY updated_at DESC LIMIT ?`
	args = append(args, limitOrDefault(filter.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list sessions")
	}
	defer rows.Close() //nolint:errcheck

	var sessions []model.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan session")
		}
		sessions = append(sessions, *sess)
	}
	return sessions, eris.Wrap(rows.Err(), "sqlite: list sessions iterate")
}

func (s *SQLiteStore) CountVisitorSessions(ctx context.Context, visitorPK, excludeSessionPK string, from, to time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM specter_sessions
		WHERE specter_visitor_id = ? AND id <> ? AND created_at >= ? AND created_at <= ?`,
		visitorPK, excludeSessionPK, dbTime(from), dbTime(to),
	).Scan(&n)
	return n, eris.Wrapf(err, "sqlite: count sessions for visitor %s", visitorPK)
}

// --- Events ---

func (s *SQLiteStore) InsertEvents(ctx context.Context, events []model.Event) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin insert events")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO specter_events (`+eventColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare insert event")
	}
	defer stmt.Close() //nolint:errcheck

	now := dbTime(time.Now())
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
		_, err = stmt.ExecContext(ctx, e.ID, e.TenantID, e.SessionPK, e.EventID, e.Seq, e.Type,
			e.PageURL, dbTime(e.OccurredAt), string(metadata), e.IsBot, e.CreatedAt)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert event %d", e.Seq)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit events")
}

func (s *SQLiteStore) ListSessionEvents(ctx context.Context, sessionPK string) ([]model.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM specter_events WHERE specter_session_id = ? ORDER BY occurred_at, seq`,
		sessionPK)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list events for session %s", sessionPK)
	}
	defer rows.Close() //nolint:errcheck

	var events []model.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan event")
		}
		events = append(events, *e)
	}
	return events, eris.Wrap(rows.Err(), "sqlite: list events iterate")
}

func (s *SQLiteStore) MaxEventSeq(ctx context.Context, sessionPK string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM specter_events WHERE specter_session_id = ?`, sessionPK,
	).Scan(&n)
	return n, eris.Wrapf(err, "sqlite: max event seq for session %s", sessionPK)
}

// --- Scoring rules ---

func (s *SQLiteStore) ListActiveRules(ctx context.Context, tenantID string) ([]model.ScoringRule, error) {
	return s.queryRules(ctx, "list active rules",
		`SELECT `+ruleColumns+` FROM specter_scoring_rules
		WHERE is_active = 1 AND (tenant_id = ? OR tenant_id = '')
		ORDER BY CASE WHEN tenant_id = '' THEN 1 ELSE 0 END, sort_order, signal_key`,
		tenantID)
}

func (s *SQLiteStore) ListTenantRules(ctx context.Context, tenantID string) ([]model.ScoringRule, error) {
	return s.queryRules(ctx, "list tenant rules",
		`SELECT `+ruleColumns+` FROM specter_scoring_rules WHERE tenant_id = ? ORDER BY sort_order, signal_key`,
		tenantID)
}

func (s *SQLiteStore) queryRules(ctx context.Context, op, query string, args ...any) ([]model.ScoringRule, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: %s", op)
	}
	defer rows.Close() //nolint:errcheck

	var rules []model.ScoringRule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan rule")
		}
		rules = append(rules, *r)
	}
	return rules, eris.Wrapf(rows.Err(), "sqlite: %s iterate", op)
}

func (s *SQLiteStore) ReplaceTenantRules(ctx context.Context, tenantID string, rules []model.ScoringRule) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin replace rules")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM specter_scoring_rules WHERE tenant_id = ?`, tenantID); err != nil {
		return eris.Wrapf(err, "sqlite: delete rules for tenant %q", tenantID)
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
		_, err = tx.ExecContext(ctx,
			`INSERT INTO specter_scoring_rules (`+ruleColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, r.TenantID, r.SignalKey, r.Weight, string(config), r.IsActive, r.SortOrder, now, now,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert rule %s", r.SignalKey)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit replace rules")
}

// --- Audit logs ---

func (s *SQLiteStore) InsertCRMSyncLog(ctx context.Context, l *model.CRMSyncLog) error {
	prepareLog(&l.ID, &l.CreatedAt)
	summary, err := encodeMap(l.PayloadSummary)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO specter_crm_sync_logs (id, tenant_id, specter_session_id, crm_object_type, crm_object_id, operation, status, error_code, error_message, payload_summary, created_at)
		VALUES (?, ?, NULLIF(?, ''), ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.TenantID, l.SessionPK, l.CRMObjectType, l.CRMObjectID, l.Operation, l.Status,
		l.ErrorCode, l.ErrorMessage, string(summary), l.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: insert crm sync log")
}

func (s *SQLiteStore) ListCRMSyncLogs(ctx context.Context, filter LogFilter) ([]model.CRMSyncLog, error) {
	query, args := sqliteLogQuery(`SELECT `+syncLogColumns+` FROM specter_crm_sync_logs WHERE 1=1`, filter, "status", filter.Status)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list crm sync logs")
	}
	defer rows.Close() //nolint:errcheck

	var logs []model.CRMSyncLog
	for rows.Next() {
		l, err := scanSyncLog(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan crm sync log")
		}
		logs = append(logs, *l)
	}
	return logs, eris.Wrap(rows.Err(), "sqlite: list crm sync logs iterate")
}

func (s *SQLiteStore) InsertTriggerLog(ctx context.Context, l *model.TriggerLog) error {
	prepareLog(&l.ID, &l.CreatedAt)
	payload, err := encodeJSON(l.Payload)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO specter_trigger_logs (id, tenant_id, specter_session_id, workflow_slug, payload, status, created_at)
		VALUES (?, ?, NULLIF(?, ''), ?, ?, ?, ?)`,
		l.ID, l.TenantID, l.SessionPK, l.WorkflowSlug, string(payload), l.Status, l.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: insert trigger log")
}

func (s *SQLiteStore) ListTriggerLogs(ctx context.Context, filter LogFilter) ([]model.TriggerLog, error) {
	query, args := sqliteLogQuery(`SELECT `+triggerColumns+` FROM specter_trigger_logs WHERE 1=1`, filter, "", "")
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list trigger logs")
	}
	defer rows.Close() //nolint:errcheck

	var logs []model.TriggerLog
	for rows.Next() {
		l, err := scanTriggerLog(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan trigger log")
		}
		logs = append(logs, *l)
	}
	return logs, eris.Wrap(rows.Err(), "sqlite: list trigger logs iterate")
}

func (s *SQLiteStore) InsertEscalation(ctx context.Context, l *model.EscalationLog) error {
	prepareLog(&l.ID, &l.CreatedAt)
	details, err := encodeMap(l.Details)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO specter_escalation_logs (id, tenant_id, specter_session_id, visitor_id, reason_code, reason, details, integration, provider, created_at)
		VALUES (?, ?, NULLIF(?, ''), ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.TenantID, l.SessionPK, l.VisitorID, string(l.ReasonCode), l.Reason, string(details),
		l.Integration, l.Provider, l.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: insert escalation")
}

func (s *SQLiteStore) ListEscalations(ctx context.Context, filter LogFilter) ([]model.EscalationLog, error) {
	query, args := sqliteLogQuery(`SELECT `+escalationColumns+` FROM specter_escalation_logs WHERE 1=1`, filter, "reason_code", string(filter.ReasonCode))
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list escalations")
	}
	defer rows.Close() //nolint:errcheck

	var logs []model.EscalationLog
	for rows.Next() {
		l, err := scanEscalation(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan escalation")
		}
		logs = append(logs, *l)
	}
	return logs, eris.Wrap(rows.Err(), "sqlite: list escalations iterate")
}

func sqliteLogQuery(base string, filter LogFilter, column, value string) (string, []any) {
	query := base
	args := []any{}
	if filter.TenantID != "" {
		query += ` AND tenant_id = ?`
		args = append(args, filter.TenantID)
	}
	if !filter.Since.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, dbTime(filter.Since))
	}
	if column != "" && value != "" {
		query += ` AND ` + column + ` = ?`
		args = append(args, value)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limitOrDefault(filter.Limit))
	return query, args
}

// textArgs converts JSON byte slices to strings so SQLite stores them as
// TEXT rather than BLOB.
func textArgs(args []any) []any {
	out := make([]any, 0, len(args)+1)
	for _, a := range args {
		if b, ok := a.([]byte); ok {
			out = append(out, string(b))
			continue
		}
		out = append(out, a)
	}
	return out
}
