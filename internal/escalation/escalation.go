// Package escalation records compliance and integration conditions that need
// human follow-up. Escalations are informational and never block processing.
package escalation

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/cynergists/specter/internal/model"
)

// Integration names recorded on escalations.
const (
	IntegrationHaven = "haven"
)

// Reason texts for automatic escalations.
const (
	ReasonConsentText = "Identity resolution unavailable because consent is missing, restricted, or DNT is enabled."
	ReasonCRMText     = "CRM API sync failed for Specter session."
	ReasonManualText  = "Manual Specter escalation"
)

// ErrUnknownReason is returned for reason codes outside the fixed set.
var ErrUnknownReason = eris.New("escalation: unknown reason code")

// Store is the persistence needed by the Service.
type Store interface {
	InsertEscalation(ctx context.Context, l *model.EscalationLog) error
}

// Service writes escalation rows.
type Service struct {
	store Store
}

// NewService creates a Service.
func NewService(st Store) *Service {
	return &Service{store: st}
}

// Record validates and appends an escalation.
func (s *Service) Record(ctx context.Context, l *model.EscalationLog) error {
	if !l.ReasonCode.Valid() {
		return eris.Wrapf(ErrUnknownReason, "reason_code %q", l.ReasonCode)
	}
	if l.Integration == "" {
		l.Integration = IntegrationHaven
	}
	if err := s.store.InsertEscalation(ctx, l); err != nil {
		return eris.Wrap(err, "escalation: insert")
	}

	zap.L().Warn("escalation: recorded",
		zap.String("tenant_id", l.TenantID),
		zap.String("session_pk", l.SessionPK),
		zap.String("reason_code", string(l.ReasonCode)),
		zap.String("integration", l.Integration),
	)
	return nil
}

// ConsentRestricted records that identity resolution was skipped for the
// visitor's consent state.
func (s *Service) ConsentRestricted(ctx context.Context, tenantID string, sess *model.Session, visitor *model.Visitor) error {
	return s.Record(ctx, &model.EscalationLog{
		TenantID:    tenantID,
		SessionPK:   sess.ID,
		VisitorID:   visitor.VisitorID,
		ReasonCode:  model.ReasonConsentRestricted,
		Reason:      ReasonConsentText,
		Integration: IntegrationHaven,
		Details: map[string]any{
			"consent_state":   string(visitor.ConsentState),
			"consent_version": visitor.ConsentVersion,
			"dnt":             visitor.DNT,
		},
	})
}

// ProviderFailure records a failed CRM sync. details carries the sync result.
func (s *Service) ProviderFailure(ctx context.Context, tenantID, provider string, sess *model.Session, visitorID string, details map[string]any) error {
	return s.Record(ctx, &model.EscalationLog{
		TenantID:    tenantID,
		SessionPK:   sess.ID,
		VisitorID:   visitorID,
		ReasonCode:  model.ReasonProviderFailure,
		Reason:      ReasonCRMText,
		Integration: provider,
		Provider:    provider,
		Details:     details,
	})
}

// Manual records an operator escalation. An empty reason code defaults to
// provider_failure.
func (s *Service) Manual(ctx context.Context, tenantID string, sess *model.Session, visitorID, reasonCode, reason string, details map[string]any) (*model.EscalationLog, error) {
	code := model.EscalationReason(reasonCode)
	if code == "" {
		code = model.ReasonProviderFailure
	}
	if reason == "" {
		reason = ReasonManualText
	}
	l := &model.EscalationLog{
		TenantID:    tenantID,
		VisitorID:   visitorID,
		ReasonCode:  code,
		Reason:      reason,
		Details:     details,
		Integration: IntegrationHaven,
	}
	if sess != nil {
		l.SessionPK = sess.ID
	}
	if err := s.Record(ctx, l); err != nil {
		return nil, err
	}
	return l, nil
}
