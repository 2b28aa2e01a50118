package model

import "time"

// Default tier thresholds applied when a tenant does not override them.
const (
	DefaultMediumThreshold = 35
	DefaultHighThreshold   = 70
)

// DefaultHighIntentPages are the key page patterns used when a tenant has none.
// Patterns wrapped in '#' are regular expressions.
var DefaultHighIntentPages = []string{
	"/pricing",
	"/demo",
	"/contact",
	"/checkout",
	"#^/services#",
}

// CRM provider names accepted in tenant settings.
const (
	CRMProviderGoHighLevel = "gohighlevel"
	CRMProviderSalesforce  = "salesforce"
)

// Tenant is an isolated customer account.
type Tenant struct {
	ID        string         `json:"id" yaml:"id"`
	Name      string         `json:"name" yaml:"name"`
	Settings  TenantSettings `json:"settings" yaml:"settings"`
	CreatedAt time.Time      `json:"created_at" yaml:"-"`
	UpdatedAt time.Time      `json:"updated_at" yaml:"-"`
}

// TenantSettings holds per-tenant Specter configuration.
type TenantSettings struct {
	TierThresholds             *TierThresholds `json:"tier_thresholds,omitempty" yaml:"tier_thresholds,omitempty"`
	HighIntentPages            []string        `json:"high_intent_pages,omitempty" yaml:"high_intent_pages,omitempty"`
	GHLLocationID              string          `json:"ghl_location_id,omitempty" yaml:"ghl_location_id,omitempty"`
	GHLAPIKey                  string          `json:"ghl_api_key,omitempty" yaml:"ghl_api_key,omitempty"`
	CRMProvider                string          `json:"crm_provider,omitempty" yaml:"crm_provider,omitempty"`
	ReverseIPProvider          string          `json:"reverse_ip_provider,omitempty" yaml:"reverse_ip_provider,omitempty"`
	ApprovedReverseIPProviders []string        `json:"approved_reverse_ip_providers,omitempty" yaml:"approved_reverse_ip_providers,omitempty"`
	ConsentVersion             string          `json:"consent_version,omitempty" yaml:"consent_version,omitempty"`
	TrackingMode               string          `json:"tracking_mode,omitempty" yaml:"tracking_mode,omitempty"`
}

// TierThresholds are the minimum scores for the medium and high tiers.
type TierThresholds struct {
	Medium float64 `json:"medium" yaml:"medium"`
	High   float64 `json:"high" yaml:"high"`
}

// Thresholds returns the medium and high thresholds, falling back to defaults
// for any value left at zero.
func (s TenantSettings) Thresholds() (medium, high float64) {
	medium, high = DefaultMediumThreshold, DefaultHighThreshold
	if s.TierThresholds == nil {
		return medium, high
	}
	if s.TierThresholds.Medium > 0 {
		medium = s.TierThresholds.Medium
	}
	if s.TierThresholds.High > 0 {
		high = s.TierThresholds.High
	}
	return medium, high
}

// KeyPagePatterns returns the tenant's high-intent page patterns or the defaults.
func (s TenantSettings) KeyPagePatterns() []string {
	if len(s.HighIntentPages) > 0 {
		return s.HighIntentPages
	}
	return DefaultHighIntentPages
}

// CRM returns the configured CRM provider, defaulting to GoHighLevel.
func (s TenantSettings) CRM() string {
	if s.CRMProvider == "" {
		return CRMProviderGoHighLevel
	}
	return s.CRMProvider
}

// ReverseIPProviderApproved reports whether the named provider may be used for
// company resolution. An empty name is always approved.
func (s TenantSettings) ReverseIPProviderApproved(provider string) bool {
	if provider == "" {
		return true
	}
	for _, p := range s.ApprovedReverseIPProviders {
		if p == provider {
			return true
		}
	}
	return false
}
