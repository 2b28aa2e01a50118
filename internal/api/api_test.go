package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cynergists/specter/internal/config"
	"github.com/cynergists/specter/internal/crm"
	"github.com/cynergists/specter/internal/escalation"
	"github.com/cynergists/specter/internal/identity"
	"github.com/cynergists/specter/internal/ingest"
	"github.com/cynergists/specter/internal/model"
	"github.com/cynergists/specter/internal/scoring"
	"github.com/cynergists/specter/internal/store"
	"github.com/cynergists/specter/internal/workflow"
)

type testEnv struct {
	srv     *httptest.Server
	st      *store.SQLiteStore
	ghlHits *atomic.Int32
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	ctx := context.Background()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(ctx))
	require.NoError(t, st.UpsertTenant(ctx, &model.Tenant{ID: "acme", Name: "Acme"}))

	hits := &atomic.Int32{}
	ghl := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`{"contact":{"id":"ghl-9"}}`))
	}))
	t.Cleanup(ghl.Close)

	scorer := scoring.NewScorer(st, nil, 30*24*time.Hour)
	resolver := identity.NewResolver(st)
	syncer := crm.NewSyncService(st, crm.NewGoHighLevel(config.GoHighLevelConfig{APIKey: "k", LocationID: "loc", BaseURL: ghl.URL}, nil))
	esc := escalation.NewService(st)
	trigger := workflow.NewTrigger(st)

	deps := Deps{
		Store:     st,
		Ingester:  ingest.NewService(st, scorer, resolver, syncer, esc, trigger),
		Scorer:    scorer,
		Resolver:  resolver,
		Syncer:    syncer,
		Escalator: esc,
		Trigger:   trigger,
	}
	srv := httptest.NewServer(NewRouter(deps, opts))
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, st: st, ghlHits: hits}
}

type response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (int, response) {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req, err := http.NewRequest(method, e.srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck

	var out response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

func ts(sec int) string {
	return time.Now().UTC().Add(-time.Hour).Add(time.Duration(sec) * time.Second).Format(time.RFC3339)
}

func workedBatch(consent string) map[string]any {
	return map[string]any{
		"visitor_id":    "v-1",
		"session_id":    "s-1",
		"consent_state": consent,
		"events": []any{
			map[string]any{"type": "page_view", "page_url": "/", "timestamp": ts(0)},
			map[string]any{"type": "page_view", "page_url": "/pricing", "timestamp": ts(60)},
			map[string]any{"type": "page_view", "page_url": "/about", "timestamp": ts(120)},
			map[string]any{"type": "form_start", "timestamp": ts(150)},
			map[string]any{"type": "scroll", "timestamp": ts(200), "metadata": map[string]any{"depth": 80}},
		},
	}
}

func TestHealth(t *testing.T) {
	e := newTestEnv(t, Options{})
	status, body := e.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, body.Success)
	assert.JSONEq(t, `{"status":"ok"}`, string(body.Data))
}

func TestIngest(t *testing.T) {
	e := newTestEnv(t, Options{})
	status, body := e.do(t, http.MethodPost, "/v1/tenants/acme/ingest", workedBatch("granted"))
	require.Equal(t, http.StatusOK, status, body.Error)

	sum := decode[ingest.Summary](t, body.Data)
	assert.Equal(t, 85, sum.IntentScore)
	assert.Equal(t, model.TierHigh, sum.IntentTier)
	assert.Equal(t, 5, sum.EventsPersisted)
	require.NotNil(t, sum.TriggeredWorkflow)

	sess, err := e.st.GetSession(context.Background(), "acme", "s-1")
	require.NoError(t, err)
	assert.NotEmpty(t, sess.IPHash, "client ip is hashed onto the session")
}

func TestIngest_Errors(t *testing.T) {
	e := newTestEnv(t, Options{MaxBodyBytes: 256})

	tests := []struct {
		name   string
		path   string
		body   any
		status int
		errMsg string
	}{
		{"unknown tenant", "/v1/tenants/nope/ingest", workedBatch("granted"), http.StatusNotFound, "tenant not found"},
		{"malformed json", "/v1/tenants/acme/ingest", "{not json", http.StatusBadRequest, "invalid request body"},
		{"missing visitor", "/v1/tenants/acme/ingest", map[string]any{"session_id": "s"}, http.StatusUnprocessableEntity, "visitor_id: is required"},
		{"body over limit", "/v1/tenants/acme/ingest", workedBatch("granted"), http.StatusBadRequest, "invalid request body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := e.do(t, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.status, status)
			assert.False(t, body.Success)
			assert.Equal(t, tt.errMsg, body.Error)
		})
	}
}

func TestIngest_BatchLimits(t *testing.T) {
	e := newTestEnv(t, Options{})
	cookies := make([]string, 101)
	for i := range cookies {
		cookies[i] = "c"
	}
	status, body := e.do(t, http.MethodPost, "/v1/tenants/acme/ingest",
		map[string]any{"visitor_id": "v", "session_id": "s", "cookie_ids": cookies})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "cookie_ids: must be at most 100 items", body.Error)
}

func TestCORSPreflight(t *testing.T) {
	e := newTestEnv(t, Options{AllowedOrigins: []string{"https://acme.test"}})
	req, err := http.NewRequest(http.MethodOptions, e.srv.URL+"/v1/tenants/acme/ingest", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://acme.test")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck

	assert.Equal(t, "https://acme.test", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Methods"), http.MethodPost)
}

func TestSessionOps_NotFound(t *testing.T) {
	e := newTestEnv(t, Options{})
	for _, op := range []string{"score", "resolve", "sync", "escalate", "trigger"} {
		status, body := e.do(t, http.MethodPost, "/v1/tenants/acme/sessions/missing/"+op, nil)
		assert.Equal(t, http.StatusNotFound, status, op)
		assert.Equal(t, "session not found", body.Error, op)
	}
}

func TestScore(t *testing.T) {
	e := newTestEnv(t, Options{})
	e.do(t, http.MethodPost, "/v1/tenants/acme/ingest", workedBatch("granted"))

	status, body := e.do(t, http.MethodPost, "/v1/tenants/acme/sessions/s-1/score", nil)
	require.Equal(t, http.StatusOK, status)
	res := decode[scoring.Result](t, body.Data)
	assert.Equal(t, 85, res.IntentScore)
	assert.Equal(t, model.TierHigh, res.HeatZone)
	assert.InDelta(t, 25, res.Breakdown[model.SignalFormInteractionStrength].Points, 0.001)
}

func TestResolveAndSync(t *testing.T) {
	e := newTestEnv(t, Options{})
	e.do(t, http.MethodPost, "/v1/tenants/acme/ingest", workedBatch("granted"))
	require.Zero(t, e.ghlHits.Load())

	identityBody := map[string]any{"identity": map[string]any{"email": "ann@example.com"}}
	status, body := e.do(t, http.MethodPost, "/v1/tenants/acme/sessions/s-1/resolve", identityBody)
	require.Equal(t, http.StatusOK, status, body.Error)
	res := decode[model.Resolution](t, body.Data)
	assert.Equal(t, model.ResolutionResolved, res.Status)
	assert.Equal(t, model.SourceFirstPartyForm, res.Source)

	status, body = e.do(t, http.MethodPost, "/v1/tenants/acme/sessions/s-1/sync", identityBody)
	require.Equal(t, http.StatusOK, status, body.Error)
	sync := decode[crm.SyncResult](t, body.Data)
	assert.True(t, sync.Success)
	assert.Equal(t, model.CRMObjectContact, sync.CRMObjectType)
	assert.Equal(t, "ghl-9", sync.CRMObjectID)
	assert.Equal(t, int32(1), e.ghlHits.Load())
}

func TestSync_RestrictedVisitorLogsEvent(t *testing.T) {
	e := newTestEnv(t, Options{})
	e.do(t, http.MethodPost, "/v1/tenants/acme/ingest", workedBatch("denied"))

	status, body := e.do(t, http.MethodPost, "/v1/tenants/acme/sessions/s-1/sync",
		map[string]any{"identity": map[string]any{"email": "ann@example.com"}})
	require.Equal(t, http.StatusOK, status)
	sync := decode[crm.SyncResult](t, body.Data)
	assert.Equal(t, model.CRMObjectEvent, sync.CRMObjectType)
	assert.Zero(t, e.ghlHits.Load())
}

func TestEscalate(t *testing.T) {
	e := newTestEnv(t, Options{})
	e.do(t, http.MethodPost, "/v1/tenants/acme/ingest", workedBatch("granted"))

	status, body := e.do(t, http.MethodPost, "/v1/tenants/acme/sessions/s-1/escalate",
		map[string]any{"reason_code": "made_up"})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "unknown reason_code made_up", body.Error)

	status, body = e.do(t, http.MethodPost, "/v1/tenants/acme/sessions/s-1/escalate", map[string]any{
		"reason_code": "non_approved_source",
		"reason":      "vendor not on the approved list",
		"details":     map[string]any{"vendor": "ipinfo"},
	})
	require.Equal(t, http.StatusCreated, status, body.Error)
	l := decode[model.EscalationLog](t, body.Data)
	assert.Equal(t, model.ReasonNonApprovedSource, l.ReasonCode)
	assert.Equal(t, "v-1", l.VisitorID)
	assert.Equal(t, escalation.IntegrationHaven, l.Integration)

	status, body = e.do(t, http.MethodGet, "/v1/tenants/acme/escalations?reason_code=non_approved_source", nil)
	require.Equal(t, http.StatusOK, status)
	rows := decode[[]model.EscalationLog](t, body.Data)
	require.Len(t, rows, 1)
	assert.Equal(t, "ipinfo", rows[0].Details["vendor"])

	status, body = e.do(t, http.MethodGet, "/v1/tenants/acme/escalations?since=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, body.Error, "RFC3339")
}

func TestEscalate_DefaultsToProviderFailure(t *testing.T) {
	e := newTestEnv(t, Options{})
	e.do(t, http.MethodPost, "/v1/tenants/acme/ingest", workedBatch("granted"))

	status, body := e.do(t, http.MethodPost, "/v1/tenants/acme/sessions/s-1/escalate", nil)
	require.Equal(t, http.StatusCreated, status, body.Error)
	l := decode[model.EscalationLog](t, body.Data)
	assert.Equal(t, model.ReasonProviderFailure, l.ReasonCode)
	assert.Equal(t, escalation.ReasonManualText, l.Reason)
}

func TestTrigger(t *testing.T) {
	e := newTestEnv(t, Options{})
	e.do(t, http.MethodPost, "/v1/tenants/acme/ingest", workedBatch("granted"))

	status, body := e.do(t, http.MethodPost, "/v1/tenants/acme/sessions/s-1/trigger", nil)
	require.Equal(t, http.StatusOK, status)
	out := decode[struct {
		Triggered bool                  `json:"triggered"`
		Payload   *model.TriggerPayload `json:"payload"`
	}](t, body.Data)
	assert.True(t, out.Triggered)
	require.NotNil(t, out.Payload)
	assert.Equal(t, "s-1", out.Payload.SessionID)

	logs, err := e.st.ListTriggerLogs(context.Background(), store.LogFilter{TenantID: "acme"})
	require.NoError(t, err)
	assert.Len(t, logs, 2, "one from ingest, one from the manual trigger")
}

func TestRules(t *testing.T) {
	e := newTestEnv(t, Options{})

	status, body := e.do(t, http.MethodPut, "/v1/tenants/acme/rules", map[string]any{"rules": []any{
		map[string]any{"signal_key": "duration_seconds", "weight": 1, "config": map[string]any{"tiers": map[string]any{"soon": 5}}},
	}})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Contains(t, body.Error, "not a number")

	status, body = e.do(t, http.MethodPut, "/v1/tenants/acme/rules", map[string]any{"rules": []any{
		map[string]any{"signal_key": "duration_seconds", "weight": 2, "is_active": true,
			"config": map[string]any{"tiers": map[string]any{"60": 10}}},
	}})
	require.Equal(t, http.StatusOK, status, body.Error)

	status, body = e.do(t, http.MethodGet, "/v1/tenants/acme/rules", nil)
	require.Equal(t, http.StatusOK, status)
	rules := decode[[]model.ScoringRule](t, body.Data)
	require.Len(t, rules, 1)
	assert.Equal(t, "acme", rules[0].TenantID)
	assert.InDelta(t, 2, rules[0].Weight, 0.001)
}

type panicIngester struct{}

func (panicIngester) Ingest(context.Context, *model.Tenant, *ingest.Payload, ingest.RequestMeta) (*ingest.Summary, error) {
	panic("boom")
}

func TestRecoverer(t *testing.T) {
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	require.NoError(t, st.UpsertTenant(context.Background(), &model.Tenant{ID: "acme"}))

	h := NewRouter(Deps{Store: st, Ingester: panicIngester{}}, Options{})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/tenants/acme/ingest", strings.NewReader(`{"visitor_id":"v","session_id":"s"}`))
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
