package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/cynergists/specter/internal/config"
	"github.com/cynergists/specter/internal/model"
	"github.com/cynergists/specter/internal/resilience"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertCRMSyncFailureRate      AlertType = "crm_sync_failure_rate"
	AlertConsentEscalationVolume AlertType = "consent_escalation_volume"
	AlertCRMCircuitOpen          AlertType = "crm_circuit_open"
)

// minSyncSample is the number of finished syncs needed before the failure
// rate is trusted.
const minSyncSample = 5

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	TenantID  string         `json:"tenant_id,omitempty"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	finished := snap.CRMSyncSuccess + snap.CRMSyncFailed
	if finished >= minSyncSample && snap.CRMSyncFailRate > a.cfg.SyncFailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertCRMSyncFailureRate,
			Severity: "high",
			TenantID: snap.TenantID,
			Message: fmt.Sprintf(
				"CRM sync failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d finished in last %dh)",
				snap.CRMSyncFailRate*100, a.cfg.SyncFailureRateThreshold*100,
				snap.CRMSyncFailed, finished, snap.LookbackHours,
			),
			Details: map[string]any{
				"failure_rate":     snap.CRMSyncFailRate,
				"threshold":        a.cfg.SyncFailureRateThreshold,
				"failed":           snap.CRMSyncFailed,
				"finished":         finished,
				"failures_by_code": snap.CRMFailuresByCode,
			},
			Timestamp: now,
		})
	}

	consent := snap.EscalationsByReason[model.ReasonConsentRestricted]
	if a.cfg.ConsentEscalationThreshold > 0 && consent > a.cfg.ConsentEscalationThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertConsentEscalationVolume,
			Severity: "medium",
			TenantID: snap.TenantID,
			Message: fmt.Sprintf(
				"%d consent_restricted escalations in last %dh exceed threshold %d",
				consent, snap.LookbackHours, a.cfg.ConsentEscalationThreshold,
			),
			Details: map[string]any{
				"count":          consent,
				"threshold":      a.cfg.ConsentEscalationThreshold,
				"sessions_total": snap.SessionsTotal,
			},
			Timestamp: now,
		})
	}

	var open []string
	for key, state := range snap.BreakerStates {
		if state == resilience.Open.String() {
			open = append(open, key)
		}
	}
	if len(open) > 0 {
		sort.Strings(open)
		alerts = append(alerts, Alert{
			Type:      AlertCRMCircuitOpen,
			Severity:  "high",
			TenantID:  snap.TenantID,
			Message:   fmt.Sprintf("%d CRM circuit breaker(s) open", len(open)),
			Details:   map[string]any{"breakers": open},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
