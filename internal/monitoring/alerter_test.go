package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cynergists/specter/internal/config"
	"github.com/cynergists/specter/internal/model"
)

func TestAlerter_Evaluate_NoAlerts(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		SyncFailureRateThreshold:   0.25,
		ConsentEscalationThreshold: 100,
	})

	snap := &MetricsSnapshot{
		CRMSyncTotal:        100,
		CRMSyncSuccess:      90,
		CRMSyncFailed:       10,
		CRMSyncFailRate:     0.10,
		EscalationsByReason: map[model.EscalationReason]int{model.ReasonConsentRestricted: 40},
		BreakerStates:       map[string]string{"gohighlevel:loc": "closed"},
		LookbackHours:       24,
	}

	assert.Empty(t, a.Evaluate(snap))
}

func TestAlerter_Evaluate_SyncFailureRate(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{SyncFailureRateThreshold: 0.25})

	snap := &MetricsSnapshot{
		TenantID:          "acme",
		CRMSyncTotal:      20,
		CRMSyncSuccess:    12,
		CRMSyncFailed:     8,
		CRMSyncFailRate:   0.4,
		CRMFailuresByCode: map[string]int{"ghl_http_error": 8},
		LookbackHours:     24,
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertCRMSyncFailureRate, alerts[0].Type)
	assert.Equal(t, "high", alerts[0].Severity)
	assert.Equal(t, "acme", alerts[0].TenantID)
	assert.Contains(t, alerts[0].Message, "40.0%")
	assert.Equal(t, 20, alerts[0].Details["finished"])
}

func TestAlerter_Evaluate_MinimumSyncsRequired(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{SyncFailureRateThreshold: 0.10})

	// Only 3 finished syncs, below the minimum sample.
	snap := &MetricsSnapshot{
		CRMSyncSuccess:  1,
		CRMSyncFailed:   2,
		CRMSyncFailRate: 0.666,
		LookbackHours:   24,
	}

	assert.Empty(t, a.Evaluate(snap))
}

func TestAlerter_Evaluate_ConsentVolume(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{ConsentEscalationThreshold: 10})

	snap := &MetricsSnapshot{
		EscalationsByReason: map[model.EscalationReason]int{
			model.ReasonConsentRestricted: 11,
			model.ReasonProviderFailure:   50,
		},
		LookbackHours: 24,
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertConsentEscalationVolume, alerts[0].Type)
	assert.Equal(t, "medium", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "11 consent_restricted")
}

func TestAlerter_Evaluate_ZeroConsentThreshold(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{ConsentEscalationThreshold: 0}) // disabled

	snap := &MetricsSnapshot{
		EscalationsByReason: map[model.EscalationReason]int{model.ReasonConsentRestricted: 9999},
	}
	assert.Empty(t, a.Evaluate(snap))
}

func TestAlerter_Evaluate_OpenBreakers(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{SyncFailureRateThreshold: 1})

	snap := &MetricsSnapshot{BreakerStates: map[string]string{
		"gohighlevel:b": "open",
		"gohighlevel:a": "open",
		"gohighlevel:c": "half-open",
	}}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertCRMCircuitOpen, alerts[0].Type)
	assert.Equal(t, []string{"gohighlevel:a", "gohighlevel:b"}, alerts[0].Details["breakers"])
}

func TestAlerter_SendAlerts_Webhook(t *testing.T) {
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var alert Alert
		err := json.NewDecoder(r.Body).Decode(&alert)
		require.NoError(t, err)
		assert.NotEmpty(t, alert.Type)
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: ts.URL})

	alerts := []Alert{
		{Type: AlertCRMSyncFailureRate, Severity: "high", Message: "test alert 1"},
		{Type: AlertConsentEscalationVolume, Severity: "medium", Message: "test alert 2"},
	}

	sent := a.SendAlerts(context.Background(), alerts)
	assert.Equal(t, 2, sent)
	assert.Equal(t, int32(2), received.Load())
}

func TestAlerter_SendAlerts_EmptyURL(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{WebhookURL: ""})

	sent := a.SendAlerts(context.Background(), []Alert{
		{Type: AlertCRMSyncFailureRate, Message: "test"},
	})
	assert.Equal(t, 0, sent)
}

func TestAlerter_SendAlerts_EmptyAlerts(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{WebhookURL: "http://example.com"})

	assert.Equal(t, 0, a.SendAlerts(context.Background(), nil))
}

func TestAlerter_SendAlerts_WebhookError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: ts.URL})

	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertCRMSyncFailureRate, Message: "test"}})
	assert.Equal(t, 0, sent)
}
