package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cynergists/specter/internal/model"
)

// storeTestSuite exercises the Store contract against any backend.
func storeTestSuite(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	seedSession := func(t *testing.T, st Store, visitorID, sessionID string, started time.Time) (*model.Visitor, *model.Session) {
		t.Helper()
		v := &model.Visitor{
			TenantID:     "acme",
			VisitorID:    visitorID,
			ConsentState: model.ConsentGranted,
			FirstSeenAt:  started,
			LastSeenAt:   started,
		}
		require.NoError(t, st.SaveVisitor(ctx, v))
		sess := &model.Session{
			TenantID:         "acme",
			VisitorPK:        v.ID,
			SessionID:        sessionID,
			StartedAt:        started,
			IntentTier:       model.TierLow,
			HeatZone:         model.TierLow,
			ResolutionStatus: model.ResolutionUnresolved,
		}
		require.NoError(t, st.SaveSession(ctx, sess))
		return v, sess
	}

	t.Run("TenantRoundTrip", func(t *testing.T) {
		st := newStore(t)
		_, err := st.GetTenant(ctx, "missing")
		require.ErrorIs(t, err, ErrNotFound)

		tenant := &model.Tenant{
			ID:   "acme",
			Name: "Acme",
			Settings: model.TenantSettings{
				GHLLocationID:   "loc-1",
				HighIntentPages: []string{"/pricing"},
				TierThresholds:  &model.TierThresholds{Medium: 40, High: 80},
			},
		}
		require.NoError(t, st.UpsertTenant(ctx, tenant))

		tenant.Name = "Acme Inc"
		require.NoError(t, st.UpsertTenant(ctx, tenant))

		got, err := st.GetTenant(ctx, "acme")
		require.NoError(t, err)
		assert.Equal(t, "Acme Inc", got.Name)
		assert.Equal(t, "loc-1", got.Settings.GHLLocationID)
		assert.Equal(t, []string{"/pricing"}, got.Settings.HighIntentPages)
		medium, high := got.Settings.Thresholds()
		assert.Equal(t, 40.0, medium)
		assert.Equal(t, 80.0, high)
	})

	t.Run("VisitorUpsertKeepsIdentity", func(t *testing.T) {
		st := newStore(t)
		missing, err := st.GetVisitor(ctx, "acme", "v-1")
		require.NoError(t, err)
		assert.Nil(t, missing)

		v := &model.Visitor{
			TenantID:     "acme",
			VisitorID:    "v-1",
			CookieIDs:    []string{"c1"},
			ConsentState: model.ConsentUnknown,
			FirstSeenAt:  base,
			LastSeenAt:   base,
		}
		require.NoError(t, st.SaveVisitor(ctx, v))
		firstID := v.ID

		// A second writer that never saw the row converges on the same visitor.
		dup := &model.Visitor{
			TenantID:     "acme",
			VisitorID:    "v-1",
			CookieIDs:    []string{"c1", "c2"},
			ConsentState: model.ConsentGranted,
			DNT:          true,
			FirstSeenAt:  base.Add(time.Hour),
			LastSeenAt:   base.Add(time.Hour),
		}
		require.NoError(t, st.SaveVisitor(ctx, dup))
		assert.Equal(t, firstID, dup.ID)
		assert.True(t, dup.FirstSeenAt.Equal(base), "first seen is preserved")

		got, err := st.GetVisitorByPK(ctx, firstID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, []string{"c1", "c2"}, got.CookieIDs)
		assert.Equal(t, model.ConsentGranted, got.ConsentState)
		assert.True(t, got.DNT)
		assert.True(t, got.LastSeenAt.Equal(base.Add(time.Hour)))
	})

	t.Run("SessionSaveAndUpdate", func(t *testing.T) {
		st := newStore(t)
		missing, err := st.GetSession(ctx, "acme", "s-1")
		require.NoError(t, err)
		assert.Nil(t, missing)

		_, sess := seedSession(t, st, "v-1", "s-1", base)

		ended := base.Add(200 * time.Second)
		sess.EndedAt = &ended
		sess.IntentScore = 85
		sess.IntentTier = model.TierHigh
		sess.HeatZone = model.TierHigh
		sess.ScoringBreakdown = map[string]model.SignalBreakdown{
			model.SignalKeyPageVisits: {Value: 1, Weight: 1, Points: 20, Config: model.RuleConfig{Tiers: map[string]float64{"1": 20}}},
		}
		sess.Metrics = map[string]any{"event_count": 5}
		sess.UTMParams = map[string]any{"utm_source": "google"}
		sess.LastPageURL = "https://acme.test/pricing"
		require.NoError(t, st.SaveSession(ctx, sess))

		got, err := st.GetSession(ctx, "acme", "s-1")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, sess.ID, got.ID)
		assert.Equal(t, 85, got.IntentScore)
		assert.Equal(t, model.TierHigh, got.IntentTier)
		require.NotNil(t, got.EndedAt)
		assert.True(t, got.EndedAt.Equal(ended))
		assert.Equal(t, 20.0, got.ScoringBreakdown[model.SignalKeyPageVisits].Points)
		assert.Equal(t, 5.0, got.Metrics["event_count"])
		assert.Equal(t, "google", got.UTMParams["utm_source"])
		assert.Equal(t, "https://acme.test/pricing", got.LastPageURL)

		high, err := st.ListSessions(ctx, SessionFilter{TenantID: "acme", Tier: model.TierHigh})
		require.NoError(t, err)
		assert.Len(t, high, 1)
		low, err := st.ListSessions(ctx, SessionFilter{TenantID: "acme", Tier: model.TierLow})
		require.NoError(t, err)
		assert.Empty(t, low)
	})

	t.Run("EventsOrderedByOccurrenceThenSeq", func(t *testing.T) {
		st := newStore(t)
		_, sess := seedSession(t, st, "v-1", "s-1", base)

		seq, err := st.MaxEventSeq(ctx, sess.ID)
		require.NoError(t, err)
		assert.Equal(t, 0, seq)

		events := []model.Event{
			{TenantID: "acme", SessionPK: sess.ID, Seq: 1, Type: model.EventPageView, OccurredAt: base.Add(10 * time.Second), Metadata: map[string]any{"email_hash": "abc"}},
			{TenantID: "acme", SessionPK: sess.ID, Seq: 2, Type: model.EventScroll, OccurredAt: base, IsBot: true},
			{TenantID: "acme", SessionPK: sess.ID, Seq: 3, Type: model.EventFormStart, OccurredAt: base},
		}
		require.NoError(t, st.InsertEvents(ctx, events))
		for _, e := range events {
			assert.NotEmpty(t, e.ID)
		}

		got, err := st.ListSessionEvents(ctx, sess.ID)
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, []int{2, 3, 1}, []int{got[0].Seq, got[1].Seq, got[2].Seq})
		assert.True(t, got[0].IsBot)
		assert.Equal(t, "abc", got[2].Metadata["email_hash"])

		seq, err = st.MaxEventSeq(ctx, sess.ID)
		require.NoError(t, err)
		assert.Equal(t, 3, seq)
	})

	t.Run("CountVisitorSessionsWindow", func(t *testing.T) {
		st := newStore(t)
		v, current := seedSession(t, st, "v-1", "s-current", base)

		other := &model.Session{TenantID: "acme", VisitorPK: v.ID, SessionID: "s-other", StartedAt: base}
		require.NoError(t, st.SaveSession(ctx, other))

		now := time.Now()
		n, err := st.CountVisitorSessions(ctx, v.ID, current.ID, now.Add(-time.Hour), now.Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		n, err = st.CountVisitorSessions(ctx, v.ID, current.ID, now.Add(time.Hour), now.Add(2*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 0, n)
	})

	t.Run("RulesTenantFirstThenGlobal", func(t *testing.T) {
		st := newStore(t)
		require.NoError(t, st.ReplaceTenantRules(ctx, "", []model.ScoringRule{
			{SignalKey: model.SignalDurationSeconds, Weight: 1, IsActive: true, SortOrder: 1},
			{SignalKey: model.SignalScrollDepthMax, Weight: 1, IsActive: false, SortOrder: 2},
		}))
		require.NoError(t, st.ReplaceTenantRules(ctx, "acme", []model.ScoringRule{
			{SignalKey: model.SignalKeyPageVisits, Weight: 2, IsActive: true, SortOrder: 5, Config: model.RuleConfig{Tiers: map[string]float64{"1": 20}}},
			{SignalKey: model.SignalDurationSeconds, Weight: 0.5, IsActive: true, SortOrder: 1},
		}))

		rules, err := st.ListActiveRules(ctx, "acme")
		require.NoError(t, err)
		require.Len(t, rules, 3)
		assert.Equal(t, "acme", rules[0].TenantID)
		assert.Equal(t, model.SignalDurationSeconds, rules[0].SignalKey)
		assert.Equal(t, model.SignalKeyPageVisits, rules[1].SignalKey)
		assert.Equal(t, 20.0, rules[1].Config.Tiers["1"])
		assert.Equal(t, "", rules[2].TenantID)

		// Replacing drops the old tenant rows only.
		require.NoError(t, st.ReplaceTenantRules(ctx, "acme", nil))
		tenantRules, err := st.ListTenantRules(ctx, "acme")
		require.NoError(t, err)
		assert.Empty(t, tenantRules)
		globals, err := st.ListTenantRules(ctx, "")
		require.NoError(t, err)
		assert.Len(t, globals, 2)
	})

	t.Run("AuditLogs", func(t *testing.T) {
		st := newStore(t)
		v, sess := seedSession(t, st, "v-1", "s-1", base)

		require.NoError(t, st.InsertCRMSyncLog(ctx, &model.CRMSyncLog{
			TenantID: "acme", SessionPK: sess.ID, CRMObjectType: model.CRMObjectEvent, Operation: "create",
			Status: model.SyncStatusSuccess, PayloadSummary: map[string]any{"intent_score": 10},
		}))
		require.NoError(t, st.InsertCRMSyncLog(ctx, &model.CRMSyncLog{
			TenantID: "acme", CRMObjectType: model.CRMObjectEvent, Operation: "create",
			Status: model.SyncStatusFail, ErrorCode: "not_configured",
		}))
		require.NoError(t, st.InsertTriggerLog(ctx, &model.TriggerLog{
			TenantID: "acme", SessionPK: sess.ID, WorkflowSlug: model.WorkflowHighIntentVisitor,
			Status: model.TriggerStatusQueued,
			Payload: model.TriggerPayload{SessionID: "s-1", VisitorID: v.VisitorID, IntentTier: model.TierHigh, TopSignals: []string{"form_interaction_strength"}},
		}))
		require.NoError(t, st.InsertEscalation(ctx, &model.EscalationLog{
			TenantID: "acme", SessionPK: sess.ID, VisitorID: "v-1", ReasonCode: model.ReasonConsentRestricted,
			Reason: "consent restricted", Integration: "haven", Details: map[string]any{"consent_state": "unknown"},
		}))
		require.NoError(t, st.InsertEscalation(ctx, &model.EscalationLog{
			TenantID: "other", ReasonCode: model.ReasonProviderFailure,
		}))

		failed, err := st.ListCRMSyncLogs(ctx, LogFilter{TenantID: "acme", Status: model.SyncStatusFail})
		require.NoError(t, err)
		require.Len(t, failed, 1)
		assert.Equal(t, "not_configured", failed[0].ErrorCode)
		assert.Empty(t, failed[0].SessionPK)

		all, err := st.ListCRMSyncLogs(ctx, LogFilter{TenantID: "acme", Since: time.Now().Add(-time.Hour)})
		require.NoError(t, err)
		assert.Len(t, all, 2)

		triggers, err := st.ListTriggerLogs(ctx, LogFilter{TenantID: "acme"})
		require.NoError(t, err)
		require.Len(t, triggers, 1)
		assert.Equal(t, []string{"form_interaction_strength"}, triggers[0].Payload.TopSignals)

		escalations, err := st.ListEscalations(ctx, LogFilter{TenantID: "acme", ReasonCode: model.ReasonConsentRestricted})
		require.NoError(t, err)
		require.Len(t, escalations, 1)
		assert.Equal(t, sess.ID, escalations[0].SessionPK)
		assert.Equal(t, "haven", escalations[0].Integration)
		assert.Equal(t, "unknown", escalations[0].Details["consent_state"])

		future, err := st.ListEscalations(ctx, LogFilter{Since: time.Now().Add(time.Hour)})
		require.NoError(t, err)
		assert.Empty(t, future)
	})
}
