package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"

	"github.com/cynergists/specter/internal/model"
	"github.com/cynergists/specter/internal/resilience"
	"github.com/cynergists/specter/internal/store"
)

const collectLimit = 10000

// MetricsSnapshot holds a point-in-time view of pipeline health.
type MetricsSnapshot struct {
	TenantID string `json:"tenant_id,omitempty"`

	// Sessions touched within the lookback window.
	SessionsTotal    int                      `json:"sessions_total"`
	SessionsByTier   map[model.IntentTier]int `json:"sessions_by_tier"`
	SessionsResolved int                      `json:"sessions_resolved"`

	// CRM sync attempts.
	CRMSyncTotal      int            `json:"crm_sync_total"`
	CRMSyncSuccess    int            `json:"crm_sync_success"`
	CRMSyncFailed     int            `json:"crm_sync_failed"`
	CRMSyncFailRate   float64        `json:"crm_sync_fail_rate"`
	CRMFailuresByCode map[string]int `json:"crm_failures_by_code,omitempty"`

	// Escalations.
	EscalationsTotal    int                            `json:"escalations_total"`
	EscalationsByReason map[model.EscalationReason]int `json:"escalations_by_reason"`

	// CRM circuit breakers, keyed by provider and account.
	BreakerStates map[string]string `json:"breaker_states,omitempty"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Store is the read access the collector needs.
type Store interface {
	ListSessions(ctx context.Context, filter store.SessionFilter) ([]model.Session, error)
	ListCRMSyncLogs(ctx context.Context, filter store.LogFilter) ([]model.CRMSyncLog, error)
	ListEscalations(ctx context.Context, filter store.LogFilter) ([]model.EscalationLog, error)
}

// BreakerSource reports circuit breaker states.
type BreakerSource interface {
	States() map[string]resilience.State
}

// Collector gathers metrics from the audit tables.
type Collector struct {
	store    Store
	breakers BreakerSource
	now      func() time.Time
}

// NewCollector creates a new metrics collector. breakers may be nil.
func NewCollector(st Store, breakers BreakerSource) *Collector {
	return &Collector{store: st, breakers: breakers, now: time.Now}
}

// Collect gathers a snapshot over the given lookback window. An empty
// tenantID covers every tenant. The three tables are read concurrently.
func (c *Collector) Collect(ctx context.Context, tenantID string, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now().UTC()
	snap := &MetricsSnapshot{
		TenantID:            tenantID,
		SessionsByTier:      map[model.IntentTier]int{},
		EscalationsByReason: map[model.EscalationReason]int{},
		LookbackHours:       lookbackHours,
		CollectedAt:         now,
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	var (
		sessions    []model.Session
		syncs       []model.CRMSyncLog
		escalations []model.EscalationLog
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		sessions, err = c.store.ListSessions(gctx, store.SessionFilter{TenantID: tenantID, Since: cutoff, Limit: collectLimit})
		return eris.Wrap(err, "monitoring: list sessions")
	})
	g.Go(func() error {
		var err error
		syncs, err = c.store.ListCRMSyncLogs(gctx, store.LogFilter{TenantID: tenantID, Since: cutoff, Limit: collectLimit})
		return eris.Wrap(err, "monitoring: list crm sync logs")
	})
	g.Go(func() error {
		var err error
		escalations, err = c.store.ListEscalations(gctx, store.LogFilter{TenantID: tenantID, Since: cutoff, Limit: collectLimit})
		return eris.Wrap(err, "monitoring: list escalations")
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	snap.SessionsTotal = len(sessions)
	for _, s := range sessions {
		snap.SessionsByTier[s.IntentTier]++
		if s.ResolutionStatus == model.ResolutionResolved || s.ResolutionStatus == model.ResolutionPartial {
			snap.SessionsResolved++
		}
	}

	snap.CRMSyncTotal = len(syncs)
	for _, l := range syncs {
		switch l.Status {
		case model.SyncStatusSuccess:
			snap.CRMSyncSuccess++
		case model.SyncStatusFail:
			snap.CRMSyncFailed++
			if snap.CRMFailuresByCode == nil {
				snap.CRMFailuresByCode = map[string]int{}
			}
			snap.CRMFailuresByCode[l.ErrorCode]++
		}
	}
	if finished := snap.CRMSyncSuccess + snap.CRMSyncFailed; finished > 0 {
		snap.CRMSyncFailRate = float64(snap.CRMSyncFailed) / float64(finished)
	}

	snap.EscalationsTotal = len(escalations)
	for _, e := range escalations {
		snap.EscalationsByReason[e.ReasonCode]++
	}

	if c.breakers != nil {
		states := c.breakers.States()
		if len(states) > 0 {
			snap.BreakerStates = make(map[string]string, len(states))
			for k, s := range states {
				snap.BreakerStates[k] = s.String()
			}
		}
	}

	return snap, nil
}
