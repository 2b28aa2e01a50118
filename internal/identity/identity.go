// Package identity resolves who is behind a session, gated on consent.
package identity

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/cynergists/specter/internal/model"
)

// Confidence levels per resolution source.
const (
	ConfidenceAuthenticated = 100
	ConfidenceFirstParty    = 95
	ConfidenceReverseIP     = 55
)

// Decide computes the resolution for a session from this call's signals. It
// does not touch the session.
//
// Consent is checked first and nothing else is evaluated when it fails. A
// session already holding a stronger resolution from an earlier call keeps it
// when the current call brings weaker evidence, since signals are never stored.
func Decide(settings model.TenantSettings, visitor *model.Visitor, sess *model.Session, signals model.IdentitySignals) *model.Resolution {
	if visitor == nil || !visitor.ConsentAllowed() {
		return &model.Resolution{
			Status: model.ResolutionUnresolved,
			Source: model.SourceConsentRestricted,
		}
	}

	res := &model.Resolution{ConsentAllowed: true, Status: model.ResolutionUnresolved}

	contact := &model.Contact{
		Email:               signals.Email,
		Phone:               signals.Phone,
		Name:                signals.Name,
		AuthenticatedUserID: signals.AuthenticatedUserID,
	}
	switch {
	case contact.AuthenticatedUserID != "":
		res.Contact = contact
		res.Status = model.ResolutionResolved
		res.Confidence = ConfidenceAuthenticated
		res.Source = model.SourceAuthenticatedSession
	case !contact.Empty():
		res.Contact = contact
		res.Status = model.ResolutionResolved
		res.Confidence = ConfidenceFirstParty
		res.Source = model.SourceFirstPartyForm
	default:
		if company := reverseIPCompany(settings, signals.ReverseIPCompany); company != nil {
			res.Company = company
			res.Status = model.ResolutionPartial
			res.Confidence = ConfidenceReverseIP
			res.Source = model.SourceReverseIPVendor
		}
	}

	if sess != nil && sess.ResolutionSource != model.SourceConsentRestricted &&
		sess.ResolutionConfidence > res.Confidence {
		res.Status = sess.ResolutionStatus
		res.Confidence = sess.ResolutionConfidence
		res.Source = sess.ResolutionSource
	}
	res.Resolved = res.Status == model.ResolutionResolved || res.Status == model.ResolutionPartial
	return res
}

// reverseIPCompany accepts a supplied company signal only from approved
// providers. Both the tenant's configured provider and the signal's own
// provider must pass the allow-list.
func reverseIPCompany(settings model.TenantSettings, sig *model.CompanySignal) *model.Company {
	if sig == nil || (sig.Name == "" && sig.Domain == "") {
		return nil
	}
	if !settings.ReverseIPProviderApproved(settings.ReverseIPProvider) {
		return nil
	}
	if !settings.ReverseIPProviderApproved(sig.Provider) {
		return nil
	}
	return &model.Company{Name: sig.Name, Domain: sig.Domain}
}

// Store is the persistence needed by the Resolver.
type Store interface {
	SaveSession(ctx context.Context, s *model.Session) error
}

// Resolver applies resolution decisions to sessions.
type Resolver struct {
	store Store
}

// NewResolver creates a Resolver.
func NewResolver(st Store) *Resolver {
	return &Resolver{store: st}
}

// Resolve decides and persists the session's resolution. Company fields are
// written only when this call resolved a company.
func (r *Resolver) Resolve(ctx context.Context, tenant *model.Tenant, visitor *model.Visitor, sess *model.Session, signals model.IdentitySignals) (*model.Resolution, error) {
	res := Decide(tenant.Settings, visitor, sess, signals)

	sess.ResolutionStatus = res.Status
	sess.ResolutionConfidence = res.Confidence
	sess.ResolutionSource = res.Source
	if res.Company != nil {
		sess.CompanyName = res.Company.Name
		sess.CompanyDomain = res.Company.Domain
	}
	if err := r.store.SaveSession(ctx, sess); err != nil {
		return nil, eris.Wrap(err, "identity: save session")
	}

	zap.L().Debug("identity: session resolved",
		zap.String("tenant_id", tenant.ID),
		zap.String("session_id", sess.SessionID),
		zap.String("status", string(res.Status)),
		zap.String("source", res.Source),
		zap.Bool("consent_allowed", res.ConsentAllowed),
	)
	return res, nil
}
