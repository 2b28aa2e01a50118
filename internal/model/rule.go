package model

import (
	"sort"
	"strconv"
	"time"
)

// Signal keys understood by the scorer.
const (
	SignalDurationSeconds         = "duration_seconds"
	SignalScrollDepthMax          = "scroll_depth_max"
	SignalKeyPageVisits           = "key_page_visits"
	SignalReturnVisitRecent       = "return_visit_recent"
	SignalFormInteractionStrength = "form_interaction_strength"
	SignalNavigationDepth         = "navigation_depth"
)

// ScoringRule maps one feature to points. An empty TenantID marks a global rule.
type ScoringRule struct {
	ID        string     `json:"id,omitempty" yaml:"-"`
	TenantID  string     `json:"tenant_id,omitempty" yaml:"-"`
	SignalKey string     `json:"signal_key" yaml:"signal_key" validate:"required,max=64"`
	Weight    float64    `json:"weight" yaml:"weight" validate:"gte=0"`
	Config    RuleConfig `json:"config" yaml:"config"`
	IsActive  bool       `json:"is_active" yaml:"is_active"`
	SortOrder int        `json:"sort_order" yaml:"sort_order" validate:"gte=0"`
	CreatedAt time.Time  `json:"created_at,omitempty" yaml:"-"`
	UpdatedAt time.Time  `json:"updated_at,omitempty" yaml:"-"`
}

// RuleConfig holds the threshold tiers of a rule. Keys are numeric thresholds
// encoded as strings, values are the points awarded at or above the threshold.
type RuleConfig struct {
	Tiers map[string]float64 `json:"tiers,omitempty" yaml:"tiers,omitempty"`
}

// Tier is a parsed threshold/points pair.
type Tier struct {
	Threshold float64
	Points    float64
}

// ParsedTiers returns the tiers sorted by threshold. Keys that are not numbers
// are ignored.
func (c RuleConfig) ParsedTiers() []Tier {
	tiers := make([]Tier, 0, len(c.Tiers))
	for k, pts := range c.Tiers {
		th, err := strconv.ParseFloat(k, 64)
		if err != nil {
			continue
		}
		tiers = append(tiers, Tier{Threshold: th, Points: pts})
	}
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].Threshold < tiers[j].Threshold })
	return tiers
}
