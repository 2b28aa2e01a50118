// Package scoring computes session intent scores from configurable rules.
package scoring

import (
	"context"
	"math"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/cynergists/specter/internal/model"
)

// Result is the outcome of scoring one session.
type Result struct {
	IntentScore int                              `json:"intent_score"`
	IntentTier  model.IntentTier                 `json:"intent_tier"`
	HeatZone    model.IntentTier                 `json:"heat_zone"`
	Breakdown   map[string]model.SignalBreakdown `json:"scoring_feature_breakdown"`
	Features    Features                         `json:"-"`
}

// Evaluate applies rules to features and derives score, tier and heat zone.
// It is pure: the same inputs always produce the same Result.
func Evaluate(features Features, rules []model.ScoringRule, settings model.TenantSettings, events []model.Event) *Result {
	breakdown := make(map[string]model.SignalBreakdown, len(rules))
	var total float64
	for _, r := range rules {
		value := features[r.SignalKey]
		points := RulePoints(r, value)
		total += points
		breakdown[r.SignalKey] = model.SignalBreakdown{
			Value:  value,
			Weight: r.Weight,
			Points: round2(points),
			Config: r.Config,
		}
	}

	score := int(math.Round(math.Max(0, total)))
	tier := TierFor(score, settings)
	return &Result{
		IntentScore: score,
		IntentTier:  tier,
		HeatZone:    HeatZone(tier, events),
		Breakdown:   breakdown,
		Features:    features,
	}
}

// TierFor maps a score onto the tenant's tier thresholds.
func TierFor(score int, settings model.TenantSettings) model.IntentTier {
	medium, high := settings.Thresholds()
	switch s := float64(score); {
	case s >= high:
		return model.TierHigh
	case s >= medium:
		return model.TierMedium
	default:
		return model.TierLow
	}
}

// HeatZone promotes a low tier to medium when the session started or
// submitted a form.
func HeatZone(tier model.IntentTier, events []model.Event) model.IntentTier {
	if tier != model.TierLow {
		return tier
	}
	for _, e := range events {
		if e.IsBot {
			continue
		}
		if e.Type == model.EventFormStart || e.Type == model.EventFormSubmit {
			return model.TierMedium
		}
	}
	return tier
}

// Store is the persistence needed by the Scorer.
type Store interface {
	ListSessionEvents(ctx context.Context, sessionPK string) ([]model.Event, error)
	ListActiveRules(ctx context.Context, tenantID string) ([]model.ScoringRule, error)
	CountVisitorSessions(ctx context.Context, visitorPK, excludeSessionPK string, from, to time.Time) (int, error)
	SaveSession(ctx context.Context, s *model.Session) error
}

// Scorer loads a session's events and rules, scores it and persists the result.
type Scorer struct {
	store        Store
	defaults     *Defaults
	returnWindow time.Duration
	now          func() time.Time
}

// NewScorer creates a Scorer. A zero returnWindow disables the return visit
// signal. A nil defaults uses the built-in rule set.
func NewScorer(st Store, defaults *Defaults, returnWindow time.Duration) *Scorer {
	if defaults == nil {
		defaults = NewDefaults(nil)
	}
	return &Scorer{store: st, defaults: defaults, returnWindow: returnWindow, now: time.Now}
}

// Rules returns the rules that apply to a tenant.
func (s *Scorer) Rules(ctx context.Context, tenantID string) ([]model.ScoringRule, error) {
	stored, err := s.store.ListActiveRules(ctx, tenantID)
	if err != nil {
		return nil, eris.Wrap(err, "scoring: load rules")
	}
	return EffectiveRules(stored, s.defaults.Rules()), nil
}

// ScoreSession scores sess and persists score, tier, heat zone, breakdown and
// the feature snapshot. sess is updated in place.
func (s *Scorer) ScoreSession(ctx context.Context, tenant *model.Tenant, sess *model.Session) (*Result, error) {
	events, err := s.store.ListSessionEvents(ctx, sess.ID)
	if err != nil {
		return nil, eris.Wrap(err, "scoring: load events")
	}
	rules, err := s.Rules(ctx, tenant.ID)
	if err != nil {
		return nil, err
	}

	returnVisit := false
	if s.returnWindow > 0 {
		// Server clock only. Event timestamps are client-supplied.
		until := sess.CreatedAt
		if until.IsZero() {
			until = s.now()
		}
		n, err := s.store.CountVisitorSessions(ctx, sess.VisitorPK, sess.ID, until.Add(-s.returnWindow), until)
		if err != nil {
			return nil, eris.Wrap(err, "scoring: count prior sessions")
		}
		returnVisit = n > 0
	}

	features := ExtractFeatures(events, tenant.Settings.KeyPagePatterns(), returnVisit)
	res := Evaluate(features, rules, tenant.Settings, events)

	sess.IntentScore = res.IntentScore
	sess.IntentTier = res.IntentTier
	sess.HeatZone = res.HeatZone
	sess.ScoringBreakdown = res.Breakdown
	if sess.Metrics == nil {
		sess.Metrics = map[string]any{}
	}
	sess.Metrics["feature_snapshot"] = features.Snapshot()
	sess.Metrics["scored_at"] = s.now().UTC().Format(time.RFC3339)

	if err := s.store.SaveSession(ctx, sess); err != nil {
		return nil, eris.Wrap(err, "scoring: save session")
	}

	zap.L().Debug("scoring: session scored",
		zap.String("tenant_id", tenant.ID),
		zap.String("session_id", sess.SessionID),
		zap.Int("intent_score", res.IntentScore),
		zap.String("intent_tier", string(res.IntentTier)),
		zap.Int("rules", len(rules)),
	)
	return res, nil
}
