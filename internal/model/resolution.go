package model

// Resolution sources recorded on a session.
const (
	SourceAuthenticatedSession = "authenticated_session"
	SourceFirstPartyForm       = "first_party_form"
	SourceReverseIPVendor      = "reverse_ip_vendor"
	SourceConsentRestricted    = "consent_restricted"
)

// Contact is personal data resolved for a session. It is passed to the CRM
// and never persisted by Specter.
type Contact struct {
	Email               string `json:"email,omitempty"`
	Phone               string `json:"phone,omitempty"`
	Name                string `json:"name,omitempty"`
	AuthenticatedUserID string `json:"authenticated_user_id,omitempty"`
}

// Empty reports whether the contact carries no identifying field.
func (c *Contact) Empty() bool {
	return c == nil || (c.Email == "" && c.Phone == "" && c.AuthenticatedUserID == "")
}

// Company is an organisation resolved for a session.
type Company struct {
	Name   string `json:"company_name,omitempty"`
	Domain string `json:"company_domain,omitempty"`
}

// Resolution is the outcome of identity resolution for one session.
type Resolution struct {
	ConsentAllowed bool             `json:"consent_allowed"`
	Resolved       bool             `json:"resolved"`
	Status         ResolutionStatus `json:"resolution_status"`
	Confidence     float64          `json:"resolution_confidence"`
	Source         string           `json:"resolution_source,omitempty"`
	Contact        *Contact         `json:"contact,omitempty"`
	Company        *Company         `json:"company,omitempty"`
}
