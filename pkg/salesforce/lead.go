package salesforce

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// Lead is the subset of Salesforce Lead fields Specter reads back.
type Lead struct {
	ID      string `json:"Id" salesforce:"Id"`
	Email   string `json:"Email" salesforce:"Email"`
	Company string `json:"Company" salesforce:"Company"`
}

// FindLeadByEmail returns the first Lead with the email, or nil.
func FindLeadByEmail(ctx context.Context, c Client, email string) (*Lead, error) {
	soql := fmt.Sprintf("SELECT Id, Email, Company FROM Lead WHERE Email = '%s' LIMIT 1", escapeSoql(email))

	var leads []Lead
	if err := c.Query(ctx, soql, &leads); err != nil {
		return nil, eris.Wrap(err, "sf: find lead by email")
	}
	if len(leads) == 0 {
		return nil, nil
	}
	return &leads[0], nil
}

// UpsertLead updates the Lead matching fields["Email"] or inserts a new one.
// It returns the Lead id and whether it was created.
func UpsertLead(ctx context.Context, c Client, fields map[string]any) (string, bool, error) {
	email, _ := fields["Email"].(string)
	if email != "" {
		existing, err := FindLeadByEmail(ctx, c, email)
		if err != nil {
			return "", false, err
		}
		if existing != nil {
			if err := c.UpdateOne(ctx, "Lead", existing.ID, fields); err != nil {
				return "", false, eris.Wrap(err, "sf: update lead")
			}
			return existing.ID, false, nil
		}
	}

	// Company and LastName are required on insert.
	if s, _ := fields["Company"].(string); s == "" {
		fields["Company"] = "Unknown"
	}
	if s, _ := fields["LastName"].(string); s == "" {
		fields["LastName"] = "Visitor"
	}
	id, err := c.InsertOne(ctx, "Lead", fields)
	if err != nil {
		return "", false, eris.Wrap(err, "sf: create lead")
	}
	return id, true, nil
}

// escapeSoql escapes a value for use inside a quoted SOQL string literal.
func escapeSoql(s string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s)
}
