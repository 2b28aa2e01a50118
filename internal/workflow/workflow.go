// Package workflow records downstream workflow triggers for engaged sessions.
package workflow

import (
	"context"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/cynergists/specter/internal/model"
)

// MaxTopSignals caps the signal keys carried in a trigger payload.
const MaxTopSignals = 3

// Store is the persistence needed by the Trigger.
type Store interface {
	InsertTriggerLog(ctx context.Context, l *model.TriggerLog) error
}

// Trigger queues the high-intent-visitor workflow.
type Trigger struct {
	store Store
}

// NewTrigger creates a Trigger.
func NewTrigger(st Store) *Trigger {
	return &Trigger{store: st}
}

// Eligible reports whether a tier triggers the workflow.
func Eligible(tier model.IntentTier) bool {
	return tier == model.TierMedium || tier == model.TierHigh
}

// TopSignals returns up to n signal keys ordered by points descending, ties
// broken by key.
func TopSignals(breakdown map[string]model.SignalBreakdown, n int) []string {
	keys := make([]string, 0, len(breakdown))
	for k := range breakdown {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		pi, pj := breakdown[keys[i]].Points, breakdown[keys[j]].Points
		if pi != pj {
			return pi > pj
		}
		return keys[i] < keys[j]
	})
	if len(keys) > n {
		keys = keys[:n]
	}
	return keys
}

// Fire records a queued trigger for medium and high intent sessions. It
// returns nil without writing anything for low intent.
func (t *Trigger) Fire(ctx context.Context, tenantID string, sess *model.Session, visitorID string) (*model.TriggerPayload, error) {
	if !Eligible(sess.IntentTier) {
		return nil, nil
	}

	payload := model.TriggerPayload{
		SessionID:            sess.SessionID,
		VisitorID:            visitorID,
		IntentTier:           sess.IntentTier,
		TopSignals:           TopSignals(sess.ScoringBreakdown, MaxTopSignals),
		ResolutionConfidence: sess.ResolutionConfidence,
		HeatZone:             sess.HeatZone,
	}
	log := &model.TriggerLog{
		TenantID:     tenantID,
		SessionPK:    sess.ID,
		WorkflowSlug: model.WorkflowHighIntentVisitor,
		Payload:      payload,
		Status:       model.TriggerStatusQueued,
	}
	if err := t.store.InsertTriggerLog(ctx, log); err != nil {
		return nil, eris.Wrap(err, "workflow: insert trigger log")
	}

	zap.L().Info("workflow: trigger queued",
		zap.String("tenant_id", tenantID),
		zap.String("session_id", sess.SessionID),
		zap.String("tier", string(sess.IntentTier)),
		zap.Strings("top_signals", payload.TopSignals),
	)
	return &payload, nil
}
