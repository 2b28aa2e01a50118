// Package crm pushes scored sessions to the tenant's CRM and records every
// attempt in the sync log.
package crm

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/cynergists/specter/internal/model"
	"github.com/cynergists/specter/internal/resilience"
)

// Error codes recorded on failed syncs. Provider specific codes are built
// from the provider's ErrorPrefix.
const (
	CodeNotConfigured = "not_configured"
	suffixHTTPError   = "_http_error"
	suffixException   = "_exception"
)

// Matching strategies, in order of preference.
const (
	MatchEmail               = "email"
	MatchPhone               = "phone"
	MatchAuthenticatedUserID = "authenticated_user_id"
	MatchVisitorID           = "visitor_id"
)

// ContactInput is what a provider needs to upsert a resolved contact.
type ContactInput struct {
	Contact          *model.Contact
	CompanyName      string
	Session          *model.Session
	VisitorID        string
	MatchingStrategy string
}

// Provider is one CRM backend.
type Provider interface {
	// Name is the tenant setting value selecting this provider.
	Name() string
	// Label is the human readable name used in log messages.
	Label() string
	// ErrorPrefix prefixes provider error codes, e.g. "ghl".
	ErrorPrefix() string
	// Configured reports whether credentials exist for the tenant.
	Configured(tenant *model.Tenant) bool
	// UpsertContact writes the contact and returns the CRM object id.
	UpsertContact(ctx context.Context, tenant *model.Tenant, in ContactInput) (string, error)
}

// SyncResult is the outcome of one sync attempt.
type SyncResult struct {
	Success          bool   `json:"success"`
	Provider         string `json:"provider"`
	CRMObjectType    string `json:"crm_object_type,omitempty"`
	CRMObjectID      string `json:"crm_object_id,omitempty"`
	MatchingStrategy string `json:"matching_strategy,omitempty"`
	ErrorCode        string `json:"error_code,omitempty"`
	ErrorMessage     string `json:"error_message,omitempty"`
}

// Details returns the result as an escalation details map.
func (r *SyncResult) Details() map[string]any {
	d := map[string]any{"success": r.Success, "provider": r.Provider}
	for k, v := range map[string]string{
		"crm_object_type":   r.CRMObjectType,
		"crm_object_id":     r.CRMObjectID,
		"matching_strategy": r.MatchingStrategy,
		"error_code":        r.ErrorCode,
		"error_message":     r.ErrorMessage,
	} {
		if v != "" {
			d[k] = v
		}
	}
	return d
}

// Store is the persistence needed by the SyncService.
type Store interface {
	InsertCRMSyncLog(ctx context.Context, l *model.CRMSyncLog) error
}

// SyncService routes sessions to the tenant's provider.
type SyncService struct {
	store     Store
	providers map[string]Provider
}

// NewSyncService creates a SyncService. Nil providers are ignored.
func NewSyncService(st Store, providers ...Provider) *SyncService {
	s := &SyncService{store: st, providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		if p != nil {
			s.providers[p.Name()] = p
		}
	}
	return s
}

// MatchingStrategy picks the first identifier present on the contact, falling
// back to the visitor id.
func MatchingStrategy(c *model.Contact) string {
	switch {
	case c == nil:
		return MatchVisitorID
	case c.Email != "":
		return MatchEmail
	case c.Phone != "":
		return MatchPhone
	case c.AuthenticatedUserID != "":
		return MatchAuthenticatedUserID
	default:
		return MatchVisitorID
	}
}

// SyncSession writes the session to the CRM. Provider failures are reported
// in the result and the sync log; the error is non-nil only when the log
// itself cannot be written.
func (s *SyncService) SyncSession(ctx context.Context, tenant *model.Tenant, sess *model.Session, visitor *model.Visitor, res *model.Resolution) (*SyncResult, error) {
	name := tenant.Settings.CRM()
	var visitorID string
	if visitor != nil {
		visitorID = visitor.VisitorID
	}

	p, ok := s.providers[name]
	if !ok || !p.Configured(tenant) {
		label := name
		if ok {
			label = p.Label()
		}
		return s.fail(ctx, tenant, sess, name, model.CRMObjectEvent, "create",
			CodeNotConfigured, label+" is not configured for Specter", nil)
	}

	if res == nil || !res.ConsentAllowed || !res.Resolved || res.Contact.Empty() {
		return s.logEvent(ctx, tenant, sess, name, visitorID)
	}

	strategy := MatchingStrategy(res.Contact)
	in := ContactInput{
		Contact:          res.Contact,
		CompanyName:      sess.CompanyName,
		Session:          sess,
		VisitorID:        visitorID,
		MatchingStrategy: strategy,
	}
	if res.Company != nil && res.Company.Name != "" {
		in.CompanyName = res.Company.Name
	}

	id, err := p.UpsertContact(ctx, tenant, in)
	if err != nil {
		if status := resilience.StatusCode(err); status > 0 {
			return s.fail(ctx, tenant, sess, name, model.CRMObjectContact, "upsert",
				p.ErrorPrefix()+suffixHTTPError, p.Label()+" contact upsert failed",
				map[string]any{"status": status, "matching_strategy": strategy})
		}
		return s.fail(ctx, tenant, sess, name, model.CRMObjectContact, "upsert",
			p.ErrorPrefix()+suffixException, err.Error(),
			map[string]any{"matching_strategy": strategy})
	}

	log := &model.CRMSyncLog{
		TenantID:      tenant.ID,
		SessionPK:     sess.ID,
		CRMObjectType: model.CRMObjectContact,
		CRMObjectID:   id,
		Operation:     "upsert",
		Status:        model.SyncStatusSuccess,
		PayloadSummary: map[string]any{
			"matching_strategy": strategy,
			"intent_score":      sess.IntentScore,
			"intent_tier":       string(sess.IntentTier),
			"heat_zone":         string(sess.HeatZone),
		},
	}
	if err := s.store.InsertCRMSyncLog(ctx, log); err != nil {
		return nil, eris.Wrap(err, "crm: insert sync log")
	}

	zap.L().Info("crm: contact synced",
		zap.String("tenant_id", tenant.ID),
		zap.String("provider", name),
		zap.String("session_id", sess.SessionID),
		zap.String("matching_strategy", strategy),
	)
	return &SyncResult{
		Success:          true,
		Provider:         name,
		CRMObjectType:    model.CRMObjectContact,
		CRMObjectID:      id,
		MatchingStrategy: strategy,
	}, nil
}

// logEvent records a non-PII session event for unresolved sessions.
func (s *SyncService) logEvent(ctx context.Context, tenant *model.Tenant, sess *model.Session, provider, visitorID string) (*SyncResult, error) {
	log := &model.CRMSyncLog{
		TenantID:      tenant.ID,
		SessionPK:     sess.ID,
		CRMObjectType: model.CRMObjectEvent,
		Operation:     "create",
		Status:        model.SyncStatusSuccess,
		PayloadSummary: map[string]any{
			"source":            "Specter",
			"mode":              "unresolved_non_pii_session_event",
			"session_id":        sess.SessionID,
			"visitor_id":        visitorID,
			"intent_score":      sess.IntentScore,
			"intent_tier":       string(sess.IntentTier),
			"resolution_status": string(sess.ResolutionStatus),
		},
	}
	if err := s.store.InsertCRMSyncLog(ctx, log); err != nil {
		return nil, eris.Wrap(err, "crm: insert sync log")
	}
	return &SyncResult{Success: true, Provider: provider, CRMObjectType: model.CRMObjectEvent}, nil
}

func (s *SyncService) fail(ctx context.Context, tenant *model.Tenant, sess *model.Session, provider, objectType, op, code, msg string, extra map[string]any) (*SyncResult, error) {
	if extra == nil {
		extra = map[string]any{}
	}
	log := &model.CRMSyncLog{
		TenantID:       tenant.ID,
		SessionPK:      sess.ID,
		CRMObjectType:  objectType,
		Operation:      op,
		Status:         model.SyncStatusFail,
		ErrorCode:      code,
		ErrorMessage:   msg,
		PayloadSummary: extra,
	}
	if err := s.store.InsertCRMSyncLog(ctx, log); err != nil {
		return nil, eris.Wrap(err, "crm: insert sync log")
	}

	zap.L().Warn("crm: sync failed",
		zap.String("tenant_id", tenant.ID),
		zap.String("provider", provider),
		zap.String("session_id", sess.SessionID),
		zap.String("error_code", code),
		zap.String("error", msg),
	)
	strategy, _ := extra["matching_strategy"].(string)
	return &SyncResult{
		Provider:         provider,
		CRMObjectType:    objectType,
		MatchingStrategy: strategy,
		ErrorCode:        code,
		ErrorMessage:     msg,
	}, nil
}

// lastSeen is the session end, or its last update when still open.
func lastSeen(sess *model.Session) time.Time {
	if sess.EndedAt != nil {
		return *sess.EndedAt
	}
	return sess.UpdatedAt
}
