package store

import (
	"database/sql"

	"github.com/cynergists/specter/internal/model"
)

// Column lists shared by both backends. Nullable session references are
// coalesced so scanners see plain strings.
const (
	tenantColumns     = `id, name, settings, created_at, updated_at`
	visitorColumns    = `id, tenant_id, visitor_id, cookie_ids, consent_state, consent_version, dnt, first_seen_at, last_seen_at, metadata, created_at, updated_at`
	sessionColumns    = `id, tenant_id, specter_visitor_id, session_id, started_at, ended_at, intent_score, intent_tier, heat_zone, resolution_status, resolution_confidence, resolution_source, scoring_feature_breakdown, metrics, last_page_url, referrer, utm_params, device_type, ip_hash, company_name, company_domain, created_at, updated_at`
	eventColumns      = `id, tenant_id, specter_session_id, event_id, seq, type, page_url, occurred_at, metadata, is_bot, created_at`
	ruleColumns       = `id, tenant_id, signal_key, weight, config, is_active, sort_order, created_at, updated_at`
	syncLogColumns    = `id, tenant_id, COALESCE(specter_session_id, ''), crm_object_type, crm_object_id, operation, status, error_code, error_message, payload_summary, created_at`
	triggerColumns    = `id, tenant_id, COALESCE(specter_session_id, ''), workflow_slug, payload, status, created_at`
	escalationColumns = `id, tenant_id, COALESCE(specter_session_id, ''), visitor_id, reason_code, reason, details, integration, provider, created_at`
)

type scannable interface {
	Scan(dest ...any) error
}

func scanTenant(row scannable) (*model.Tenant, error) {
	var t model.Tenant
	var settings []byte
	if err := row.Scan(&t.ID, &t.Name, &settings, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	if err := decodeJSON(settings, &t.Settings); err != nil {
		return nil, err
	}
	t.CreatedAt, t.UpdatedAt = t.CreatedAt.UTC(), t.UpdatedAt.UTC()
	return &t, nil
}

func scanVisitor(row scannable) (*model.Visitor, error) {
	var v model.Visitor
	var cookies, metadata []byte
	err := row.Scan(&v.ID, &v.TenantID, &v.VisitorID, &cookies, &v.ConsentState, &v.ConsentVersion,
		&v.DNT, &v.FirstSeenAt, &v.LastSeenAt, &metadata, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := decodeJSON(cookies, &v.CookieIDs); err != nil {
		return nil, err
	}
	if err := decodeJSON(metadata, &v.Metadata); err != nil {
		return nil, err
	}
	v.FirstSeenAt, v.LastSeenAt = v.FirstSeenAt.UTC(), v.LastSeenAt.UTC()
	v.CreatedAt, v.UpdatedAt = v.CreatedAt.UTC(), v.UpdatedAt.UTC()
	return &v, nil
}

func scanSession(row scannable) (*model.Session, error) {
	var s model.Session
	var endedAt sql.NullTime
	var breakdown, metrics, utm []byte
	err := row.Scan(&s.ID, &s.TenantID, &s.VisitorPK, &s.SessionID, &s.StartedAt, &endedAt,
		&s.IntentScore, &s.IntentTier, &s.HeatZone, &s.ResolutionStatus, &s.ResolutionConfidence,
		&s.ResolutionSource, &breakdown, &metrics, &s.LastPageURL, &s.Referrer, &utm,
		&s.DeviceType, &s.IPHash, &s.CompanyName, &s.CompanyDomain, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if endedAt.Valid {
		t := endedAt.Time.UTC()
		s.EndedAt = &t
	}
	if err := decodeJSON(breakdown, &s.ScoringBreakdown); err != nil {
		return nil, err
	}
	if err := decodeJSON(metrics, &s.Metrics); err != nil {
		return nil, err
	}
	if err := decodeJSON(utm, &s.UTMParams); err != nil {
		return nil, err
	}
	s.StartedAt = s.StartedAt.UTC()
	s.CreatedAt, s.UpdatedAt = s.CreatedAt.UTC(), s.UpdatedAt.UTC()
	return &s, nil
}

func scanEvent(row scannable) (*model.Event, error) {
	var e model.Event
	var metadata []byte
	err := row.Scan(&e.ID, &e.TenantID, &e.SessionPK, &e.EventID, &e.Seq, &e.Type, &e.PageURL,
		&e.OccurredAt, &metadata, &e.IsBot, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := decodeJSON(metadata, &e.Metadata); err != nil {
		return nil, err
	}
	e.OccurredAt, e.CreatedAt = e.OccurredAt.UTC(), e.CreatedAt.UTC()
	return &e, nil
}

func scanRule(row scannable) (*model.ScoringRule, error) {
	var r model.ScoringRule
	var config []byte
	err := row.Scan(&r.ID, &r.TenantID, &r.SignalKey, &r.Weight, &config, &r.IsActive, &r.SortOrder,
		&r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := decodeJSON(config, &r.Config); err != nil {
		return nil, err
	}
	r.CreatedAt, r.UpdatedAt = r.CreatedAt.UTC(), r.UpdatedAt.UTC()
	return &r, nil
}

func scanSyncLog(row scannable) (*model.CRMSyncLog, error) {
	var l model.CRMSyncLog
	var summary []byte
	err := row.Scan(&l.ID, &l.TenantID, &l.SessionPK, &l.CRMObjectType, &l.CRMObjectID, &l.Operation,
		&l.Status, &l.ErrorCode, &l.ErrorMessage, &summary, &l.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := decodeJSON(summary, &l.PayloadSummary); err != nil {
		return nil, err
	}
	l.CreatedAt = l.CreatedAt.UTC()
	return &l, nil
}

func scanTriggerLog(row scannable) (*model.TriggerLog, error) {
	var l model.TriggerLog
	var payload []byte
	err := row.Scan(&l.ID, &l.TenantID, &l.SessionPK, &l.WorkflowSlug, &payload, &l.Status, &l.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := decodeJSON(payload, &l.Payload); err != nil {
		return nil, err
	}
	l.CreatedAt = l.CreatedAt.UTC()
	return &l, nil
}

func scanEscalation(row scannable) (*model.EscalationLog, error) {
	var l model.EscalationLog
	var details []byte
	err := row.Scan(&l.ID, &l.TenantID, &l.SessionPK, &l.VisitorID, &l.ReasonCode, &l.Reason, &details,
		&l.Integration, &l.Provider, &l.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := decodeJSON(details, &l.Details); err != nil {
		return nil, err
	}
	l.CreatedAt = l.CreatedAt.UTC()
	return &l, nil
}
