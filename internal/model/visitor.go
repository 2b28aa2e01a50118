package model

import "time"

// ConsentState is the consent level reported by the tracking snippet.
type ConsentState string

const (
	ConsentGranted            ConsentState = "granted"
	ConsentFull               ConsentState = "full"
	ConsentAnalytics          ConsentState = "analytics"
	ConsentAnalyticsMarketing ConsentState = "analytics_marketing"
	ConsentRestricted         ConsentState = "restricted"
	ConsentDenied             ConsentState = "denied"
	ConsentUnknown            ConsentState = "unknown"
)

// PermitsResolution reports whether the consent state is one of the states
// under which identity resolution may run. DNT is checked separately.
func (c ConsentState) PermitsResolution() bool {
	switch c {
	case ConsentGranted, ConsentFull, ConsentAnalytics, ConsentAnalyticsMarketing:
		return true
	default:
		return false
	}
}

// Visitor is the persistent identity behind one or more sessions.
type Visitor struct {
	ID             string         `json:"id"`
	TenantID       string         `json:"tenant_id"`
	VisitorID      string         `json:"visitor_id"`
	CookieIDs      []string       `json:"cookie_ids"`
	ConsentState   ConsentState   `json:"consent_state"`
	ConsentVersion string         `json:"consent_version,omitempty"`
	DNT            bool           `json:"dnt"`
	FirstSeenAt    time.Time      `json:"first_seen_at"`
	LastSeenAt     time.Time      `json:"last_seen_at"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// MergeCookieIDs adds ids not already present. Existing order is kept.
func (v *Visitor) MergeCookieIDs(ids []string) {
	seen := make(map[string]struct{}, len(v.CookieIDs)+len(ids))
	merged := make([]string, 0, len(v.CookieIDs)+len(ids))
	for _, id := range append(append([]string{}, v.CookieIDs...), ids...) {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		merged = append(merged, id)
	}
	v.CookieIDs = merged
}

// ConsentAllowed reports whether identity resolution may run for this visitor.
func (v *Visitor) ConsentAllowed() bool {
	return v.ConsentState.PermitsResolution() && !v.DNT
}
