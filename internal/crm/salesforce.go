package crm

import (
	"context"
	"fmt"
	"strings"

	"github.com/cynergists/specter/internal/model"
	"github.com/cynergists/specter/pkg/salesforce"
)

// Salesforce syncs contacts as Leads, matched by email.
type Salesforce struct {
	client     salesforce.Client
	leadSource string
}

// NewSalesforce creates the provider. A nil client leaves it unconfigured.
func NewSalesforce(client salesforce.Client, leadSource string) *Salesforce {
	return &Salesforce{client: client, leadSource: leadSource}
}

func (s *Salesforce) Name() string { return model.CRMProviderSalesforce }
func (s *Salesforce) Label() string { return "Salesforce" }
func (s *Salesforce) ErrorPrefix() string { return "salesforce" }
func (s *Salesforce) Configured(_ *model.Tenant) bool { return s.client != nil }

func (s *Salesforce) UpsertContact(ctx context.Context, _ *model.Tenant, in ContactInput) (string, error) {
	id, _, err := salesforce.UpsertLead(ctx, s.client, LeadFields(in, s.leadSource))
	return id, err
}

// LeadFields maps a resolved contact onto standard Lead fields.
func LeadFields(in ContactInput, leadSource string) map[string]any {
	sess := in.Session
	fields := map[string]any{
		"LeadSource":  leadSource,
		"Rating":      rating(sess.HeatZone),
		"Description": fmt.Sprintf("Specter intent %d (%s), matched by %s", sess.IntentScore, sess.IntentTier, in.MatchingStrategy),
	}
	if in.Contact.Email != "" {
		fields["Email"] = in.Contact.Email
	}
	if in.Contact.Phone != "" {
		fields["Phone"] = in.Contact.Phone
	}
	if in.CompanyName != "" {
		fields["Company"] = in.CompanyName
	}
	if name := strings.TrimSpace(in.Contact.Name); name != "" {
		if i := strings.LastIndex(name, " "); i > 0 {
			fields["FirstName"] = name[:i]
			fields["LastName"] = name[i+1:]
		} else {
			fields["LastName"] = name
		}
	}
	return fields
}

func rating(zone model.IntentTier) string {
	switch zone {
	case model.TierHigh:
		return "Hot"
	case model.TierMedium:
		return "Warm"
	default:
		return "Cold"
	}
}
