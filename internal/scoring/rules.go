package scoring

import (
	"math"
	"strconv"
	"sync/atomic"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"

	"github.com/cynergists/specter/internal/model"
)

// DefaultRules returns the built-in rule set used when neither the tenant nor
// the global scope has active rules. The worked reference session (200s,
// scroll 80, one key page, form start) scores 85.
func DefaultRules() []model.ScoringRule {
	rule := func(key string, order int, tiers map[string]float64) model.ScoringRule {
		return model.ScoringRule{
			SignalKey: key,
			Weight:    1,
			Config:    model.RuleConfig{Tiers: tiers},
			IsActive:  true,
			SortOrder: order,
		}
	}
	return []model.ScoringRule{
		rule(model.SignalDurationSeconds, 1, map[string]float64{"60": 10, "180": 20, "300": 30}),
		rule(model.SignalScrollDepthMax, 2, map[string]float64{"25": 5, "50": 10, "75": 20}),
		rule(model.SignalKeyPageVisits, 3, map[string]float64{"1": 20, "2": 30, "3": 40}),
		rule(model.SignalReturnVisitRecent, 4, map[string]float64{"1": 15}),
		rule(model.SignalFormInteractionStrength, 5, map[string]float64{"1": 10, "2": 25, "3": 40}),
		rule(model.SignalNavigationDepth, 6, map[string]float64{"4": 5, "6": 10, "8": 15}),
	}
}

// Defaults holds the fallback rule set and allows it to be swapped while
// scoring is in flight.
type Defaults struct {
	rules atomic.Pointer[[]model.ScoringRule]
}

// NewDefaults returns a Defaults seeded with rules, or DefaultRules when
// rules is empty.
func NewDefaults(rules []model.ScoringRule) *Defaults {
	d := &Defaults{}
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	d.Set(rules)
	return d
}

// Rules returns the current fallback rules.
func (d *Defaults) Rules() []model.ScoringRule {
	return *d.rules.Load()
}

// Set replaces the fallback rules.
func (d *Defaults) Set(rules []model.ScoringRule) {
	cp := append([]model.ScoringRule(nil), rules...)
	d.rules.Store(&cp)
}

// EffectiveRules merges stored rules with the fallback set. Stored rules
// arrive tenant-first, so the first rule seen for a signal key wins and a
// tenant rule shadows the global rule with the same key. With no stored
// rules the fallback set applies.
func EffectiveRules(stored, fallback []model.ScoringRule) []model.ScoringRule {
	if len(stored) == 0 {
		return fallback
	}
	seen := make(map[string]struct{}, len(stored))
	out := make([]model.ScoringRule, 0, len(stored))
	for _, r := range stored {
		if !r.IsActive {
			continue
		}
		if _, dup := seen[r.SignalKey]; dup {
			continue
		}
		seen[r.SignalKey] = struct{}{}
		out = append(out, r)
	}
	return out
}

// RulePoints returns the weighted points a rule awards for value. With tiers
// the best tier whose threshold is at or below value applies; without tiers
// the raw value is weighted.
func RulePoints(rule model.ScoringRule, value float64) float64 {
	tiers := rule.Config.ParsedTiers()
	if len(tiers) == 0 {
		return value * rule.Weight
	}
	var best float64
	for _, t := range tiers {
		if value >= t.Threshold && t.Points > best {
			best = t.Points
		}
	}
	return best * rule.Weight
}

var validate = validator.New()

// ValidateRules checks rule fields and that every tier threshold is numeric.
func ValidateRules(rules []model.ScoringRule) error {
	for i, r := range rules {
		if err := validate.Struct(r); err != nil {
			return eris.Wrapf(err, "scoring: rule %d (%s)", i, r.SignalKey)
		}
		for k := range r.Config.Tiers {
			if _, err := strconv.ParseFloat(k, 64); err != nil {
				return eris.Errorf("scoring: rule %d (%s): tier threshold %q is not a number", i, r.SignalKey, k)
			}
		}
	}
	return nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
