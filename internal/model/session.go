package model

import "time"

// IntentTier buckets an intent score. Heat zones use the same values.
type IntentTier string

const (
	TierLow    IntentTier = "low"
	TierMedium IntentTier = "medium"
	TierHigh   IntentTier = "high"
)

// ResolutionStatus is the outcome of identity resolution for a session.
type ResolutionStatus string

const (
	ResolutionUnresolved ResolutionStatus = "unresolved"
	ResolutionPartial    ResolutionStatus = "partial"
	ResolutionResolved   ResolutionStatus = "resolved"
)

// Session is one browsing session of a visitor.
type Session struct {
	ID                   string                     `json:"id"`
	TenantID             string                     `json:"tenant_id"`
	VisitorPK            string                     `json:"specter_visitor_id"`
	SessionID            string                     `json:"session_id"`
	StartedAt            time.Time                  `json:"started_at"`
	EndedAt              *time.Time                 `json:"ended_at,omitempty"`
	IntentScore          int                        `json:"intent_score"`
	IntentTier           IntentTier                 `json:"intent_tier"`
	HeatZone             IntentTier                 `json:"heat_zone"`
	ResolutionStatus     ResolutionStatus           `json:"resolution_status"`
	ResolutionConfidence float64                    `json:"resolution_confidence"`
	ResolutionSource     string                     `json:"resolution_source,omitempty"`
	ScoringBreakdown     map[string]SignalBreakdown `json:"scoring_feature_breakdown,omitempty"`
	Metrics              map[string]any             `json:"metrics,omitempty"`
	LastPageURL          string                     `json:"last_page_url,omitempty"`
	Referrer             string                     `json:"referrer,omitempty"`
	UTMParams            map[string]any             `json:"utm_params,omitempty"`
	DeviceType           string                     `json:"device_type,omitempty"`
	IPHash               string                     `json:"ip_hash,omitempty"`
	CompanyName          string                     `json:"company_name,omitempty"`
	CompanyDomain        string                     `json:"company_domain,omitempty"`
	CreatedAt            time.Time                  `json:"created_at"`
	UpdatedAt            time.Time                  `json:"updated_at"`
}

// SignalBreakdown records how one scoring rule contributed to a session score.
type SignalBreakdown struct {
	Value  float64    `json:"value"`
	Weight float64    `json:"weight"`
	Points float64    `json:"points"`
	Config RuleConfig `json:"config"`
}

// KeyPageVisits returns the key_page_visits feature from the last scoring
// snapshot, or zero when the session has not been scored.
func (s *Session) KeyPageVisits() int {
	snap, ok := s.Metrics["feature_snapshot"].(map[string]any)
	if !ok {
		return 0
	}
	switch v := snap["key_page_visits"].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

// Event is an immutable interaction recorded within a session.
type Event struct {
	ID         string         `json:"id"`
	TenantID   string         `json:"tenant_id"`
	SessionPK  string         `json:"specter_session_id"`
	EventID    string         `json:"event_id,omitempty"`
	Seq        int            `json:"seq"`
	Type       string         `json:"type"`
	PageURL    string         `json:"page_url,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	IsBot      bool           `json:"is_bot"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Well-known event types.
const (
	EventPageView   = "page_view"
	EventScroll     = "scroll"
	EventFormView   = "form_view"
	EventFormStart  = "form_start"
	EventFormSubmit = "form_submit"
)
