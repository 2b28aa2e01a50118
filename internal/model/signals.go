package model

// CompanySignal is a reverse-IP company lookup result supplied by the tracker.
type CompanySignal struct {
	Name     string `json:"name,omitempty"`
	Domain   string `json:"domain,omitempty"`
	Provider string `json:"provider,omitempty"`
}

// IdentitySignals holds the raw identity hints captured from one ingest call.
// It is held in memory only and never persisted.
type IdentitySignals struct {
	Email               string         `json:"email,omitempty"`
	Phone               string         `json:"phone,omitempty"`
	Name                string         `json:"name,omitempty"`
	AuthenticatedUserID string         `json:"authenticated_user_id,omitempty"`
	ReverseIPCompany    *CompanySignal `json:"reverse_ip_company,omitempty"`
}

// Merge overlays the non-empty values of other onto s.
func (s *IdentitySignals) Merge(other IdentitySignals) {
	if other.Email != "" {
		s.Email = other.Email
	}
	if other.Phone != "" {
		s.Phone = other.Phone
	}
	if other.Name != "" {
		s.Name = other.Name
	}
	if other.AuthenticatedUserID != "" {
		s.AuthenticatedUserID = other.AuthenticatedUserID
	}
	if other.ReverseIPCompany != nil {
		s.ReverseIPCompany = other.ReverseIPCompany
	}
}
