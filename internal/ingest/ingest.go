// Package ingest runs a tracker batch through the Specter pipeline: visitor
// and session upsert, bot filtering, privacy sanitization, scoring, identity
// resolution, CRM sync, escalation and workflow triggering.
package ingest

import (
	"context"
	"math"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cast"
	"go.uber.org/zap"

	"github.com/cynergists/specter/internal/botfilter"
	"github.com/cynergists/specter/internal/crm"
	"github.com/cynergists/specter/internal/model"
	"github.com/cynergists/specter/internal/privacy"
	"github.com/cynergists/specter/internal/scoring"
)

// Store is the persistence needed by the Service.
type Store interface {
	GetVisitor(ctx context.Context, tenantID, visitorID string) (*model.Visitor, error)
	SaveVisitor(ctx context.Context, v *model.Visitor) error
	GetSession(ctx context.Context, tenantID, sessionID string) (*model.Session, error)
	SaveSession(ctx context.Context, s *model.Session) error
	InsertEvents(ctx context.Context, events []model.Event) error
	ListSessionEvents(ctx context.Context, sessionPK string) ([]model.Event, error)
	MaxEventSeq(ctx context.Context, sessionPK string) (int, error)
}

// Scorer scores a session from its stored events.
type Scorer interface {
	ScoreSession(ctx context.Context, tenant *model.Tenant, sess *model.Session) (*scoring.Result, error)
}

// Resolver resolves identity for a session.
type Resolver interface {
	Resolve(ctx context.Context, tenant *model.Tenant, visitor *model.Visitor, sess *model.Session, signals model.IdentitySignals) (*model.Resolution, error)
}

// Syncer pushes a session to the CRM.
type Syncer interface {
	SyncSession(ctx context.Context, tenant *model.Tenant, sess *model.Session, visitor *model.Visitor, res *model.Resolution) (*crm.SyncResult, error)
}

// Escalator records automatic escalations.
type Escalator interface {
	ConsentRestricted(ctx context.Context, tenantID string, sess *model.Session, visitor *model.Visitor) error
	ProviderFailure(ctx context.Context, tenantID, provider string, sess *model.Session, visitorID string, details map[string]any) error
}

// Trigger queues the high intent workflow.
type Trigger interface {
	Fire(ctx context.Context, tenantID string, sess *model.Session, visitorID string) (*model.TriggerPayload, error)
}

// RequestMeta carries caller details from the transport.
type RequestMeta struct {
	UserAgent string
	IP        string
}

// Summary is returned for every accepted batch.
type Summary struct {
	VisitorID            string                 `json:"visitor_id"`
	SessionID            string                 `json:"session_id"`
	EventsReceived       int                    `json:"events_received"`
	EventsPersisted      int                    `json:"events_persisted"`
	BotEventsFiltered    int                    `json:"bot_events_filtered"`
	IntentScore          int                    `json:"intent_score"`
	IntentTier           model.IntentTier       `json:"intent_tier"`
	HeatZone             model.IntentTier       `json:"heat_zone"`
	ResolutionStatus     model.ResolutionStatus `json:"resolution_status"`
	ResolutionConfidence float64                `json:"resolution_confidence"`
	ResolutionSource     string                 `json:"resolution_source"`
	TriggeredWorkflow    *model.TriggerPayload  `json:"triggered_workflow"`
}

// Service orchestrates ingestion.
type Service struct {
	store     Store
	scorer    Scorer
	resolver  Resolver
	syncer    Syncer
	escalator Escalator
	trigger   Trigger
	locks     *keyedLocks
	now       func() time.Time
}

// NewService wires the pipeline stages.
func NewService(st Store, scorer Scorer, resolver Resolver, syncer Syncer, escalator Escalator, trigger Trigger) *Service {
	return &Service{
		store:     st,
		scorer:    scorer,
		resolver:  resolver,
		syncer:    syncer,
		escalator: escalator,
		trigger:   trigger,
		locks:     newKeyedLocks(),
		now:       time.Now,
	}
}

// Ingest processes one batch. An invalid payload returns *ValidationError.
// Malformed events are skipped, and CRM failures and consent denial become
// escalations; only store failures abort the batch. Batches for the same
// session or visitor run one at a time within the process.
func (s *Service) Ingest(ctx context.Context, tenant *model.Tenant, p *Payload, meta RequestMeta) (*Summary, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	defer s.lockBatch(tenant.ID, p)()
	started := s.now()

	visitor, err := s.upsertVisitor(ctx, tenant.ID, p, started)
	if err != nil {
		return nil, err
	}
	sess, err := s.upsertSession(ctx, tenant.ID, p.SessionID, visitor, meta, started)
	if err != nil {
		return nil, err
	}

	events, signals, bots, err := s.buildEvents(ctx, tenant.ID, sess, p.Events, meta, started)
	if err != nil {
		return nil, err
	}
	if err := s.store.InsertEvents(ctx, events); err != nil {
		return nil, eris.Wrap(err, "ingest: insert events")
	}

	all, err := s.store.ListSessionEvents(ctx, sess.ID)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: load session events")
	}
	rollup(sess, all)
	if sess.Metrics == nil {
		sess.Metrics = map[string]any{}
	}
	sess.Metrics["bot_events_filtered"] = bots
	sess.Metrics["event_count"] = len(all)
	sess.Metrics["processing_seconds"] = math.Round(s.now().Sub(started).Seconds()*1e4) / 1e4
	if err := s.store.SaveSession(ctx, sess); err != nil {
		return nil, eris.Wrap(err, "ingest: save session rollup")
	}

	score, err := s.scorer.ScoreSession(ctx, tenant, sess)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: score")
	}

	res, err := s.resolver.Resolve(ctx, tenant, visitor, sess, signals)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: resolve identity")
	}
	if !res.ConsentAllowed {
		if err := s.escalator.ConsentRestricted(ctx, tenant.ID, sess, visitor); err != nil {
			return nil, eris.Wrap(err, "ingest: escalate consent")
		}
	}

	sync, err := s.syncer.SyncSession(ctx, tenant, sess, visitor, res)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: crm sync")
	}
	if !sync.Success {
		if err := s.escalator.ProviderFailure(ctx, tenant.ID, sync.Provider, sess, visitor.VisitorID, sync.Details()); err != nil {
			return nil, eris.Wrap(err, "ingest: escalate crm failure")
		}
	}

	triggered, err := s.trigger.Fire(ctx, tenant.ID, sess, visitor.VisitorID)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: trigger workflow")
	}

	zap.L().Info("ingest: batch processed",
		zap.String("tenant_id", tenant.ID),
		zap.String("session_id", sess.SessionID),
		zap.Int("events_received", len(p.Events)),
		zap.Int("events_persisted", len(events)),
		zap.Int("bot_events", bots),
		zap.Int("intent_score", score.IntentScore),
		zap.String("resolution_status", string(res.Status)),
		zap.Bool("crm_success", sync.Success),
	)

	return &Summary{
		VisitorID:            visitor.VisitorID,
		SessionID:            sess.SessionID,
		EventsReceived:       len(p.Events),
		EventsPersisted:      len(events),
		BotEventsFiltered:    bots,
		IntentScore:          score.IntentScore,
		IntentTier:           score.IntentTier,
		HeatZone:             score.HeatZone,
		ResolutionStatus:     res.Status,
		ResolutionConfidence: res.Confidence,
		ResolutionSource:     res.Source,
		TriggeredWorkflow:    triggered,
	}, nil
}

func (s *Service) upsertVisitor(ctx context.Context, tenantID string, p *Payload, now time.Time) (*model.Visitor, error) {
	v, err := s.store.GetVisitor(ctx, tenantID, p.VisitorID)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: load visitor")
	}
	if v == nil {
		v = &model.Visitor{
			TenantID:    tenantID,
			VisitorID:   p.VisitorID,
			FirstSeenAt: now,
			Metadata:    map[string]any{},
		}
	}
	v.MergeCookieIDs(p.Cookies())
	v.ConsentState = p.Consent()
	v.ConsentVersion = p.ConsentVersion
	v.DNT = p.DoNotTrack()
	v.LastSeenAt = now
	if err := s.store.SaveVisitor(ctx, v); err != nil {
		return nil, eris.Wrap(err, "ingest: save visitor")
	}
	return v, nil
}

func (s *Service) upsertSession(ctx context.Context, tenantID, sessionID string, visitor *model.Visitor, meta RequestMeta, now time.Time) (*model.Session, error) {
	sess, err := s.store.GetSession(ctx, tenantID, sessionID)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: load session")
	}
	if sess != nil && sess.VisitorPK == visitor.ID {
		return sess, nil
	}
	if sess == nil {
		sess = &model.Session{
			TenantID:         tenantID,
			SessionID:        sessionID,
			StartedAt:        now,
			IntentTier:       model.TierLow,
			HeatZone:         model.TierLow,
			ResolutionStatus: model.ResolutionUnresolved,
			Metrics:          map[string]any{},
			IPHash:           privacy.HashIP(meta.IP),
		}
	}
	sess.VisitorPK = visitor.ID
	if err := s.store.SaveSession(ctx, sess); err != nil {
		return nil, eris.Wrap(err, "ingest: save session")
	}
	return sess, nil
}

// buildEvents classifies, sanitizes and sequences the batch. Identity
// signals from later events override earlier ones.
func (s *Service) buildEvents(ctx context.Context, tenantID string, sess *model.Session, raw []any, meta RequestMeta, now time.Time) ([]model.Event, model.IdentitySignals, int, error) {
	var signals model.IdentitySignals
	if len(raw) == 0 {
		return nil, signals, 0, nil
	}

	seq, err := s.store.MaxEventSeq(ctx, sess.ID)
	if err != nil {
		return nil, signals, 0, eris.Wrap(err, "ingest: next event seq")
	}

	events := make([]model.Event, 0, len(raw))
	bots := 0
	for i, entry := range raw {
		ev, ok := parseEvent(entry, now)
		if !ok {
			zap.L().Debug("ingest: skipping malformed event",
				zap.String("session_id", sess.SessionID), zap.Int("index", i))
			continue
		}

		ua := ev.userAgent
		if ua == "" {
			ua = meta.UserAgent
		}
		isBot := botfilter.IsBot(ua, ev.fields)
		if isBot {
			bots++
		}
		signals.Merge(privacy.ExtractSignals(ev.metadata))

		seq++
		events = append(events, model.Event{
			TenantID:   tenantID,
			SessionPK:  sess.ID,
			EventID:    ev.eventID,
			Seq:        seq,
			Type:       ev.eventType,
			PageURL:    ev.pageURL,
			OccurredAt: ev.occurredAt,
			Metadata:   privacy.Sanitize(ev.metadata),
			IsBot:      isBot,
		})
	}
	return events, signals, bots, nil
}

// rollup refreshes the session summary fields from all of its events, which
// arrive ordered by occurrence then sequence.
func rollup(sess *model.Session, events []model.Event) {
	if len(events) == 0 {
		return
	}
	if first := events[0].OccurredAt; first.Before(sess.StartedAt) {
		sess.StartedAt = first
	}
	last := events[len(events)-1].OccurredAt
	if sess.EndedAt == nil || last.After(*sess.EndedAt) {
		sess.EndedAt = &last
	}

	for i := len(events) - 1; i >= 0; i-- {
		e := events[i]
		if e.Type != model.EventPageView {
			continue
		}
		if e.PageURL != "" {
			sess.LastPageURL = e.PageURL
		}
		if ref := cast.ToString(e.Metadata["referrer"]); ref != "" {
			sess.Referrer = ref
		}
		if utm, ok := e.Metadata["utm"].(map[string]any); ok {
			sess.UTMParams = utm
		}
		if device := cast.ToString(e.Metadata["device_type"]); device != "" {
			sess.DeviceType = device
		}
		return
	}
}
