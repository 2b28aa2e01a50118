package model

import "time"

// CRM sync outcomes.
const (
	SyncStatusSuccess = "success"
	SyncStatusFail    = "fail"
)

// CRM object types written by the sync.
const (
	CRMObjectContact = "contact"
	CRMObjectEvent   = "event"
)

// CRMSyncLog is an append-only record of one CRM sync attempt.
type CRMSyncLog struct {
	ID             string         `json:"id"`
	TenantID       string         `json:"tenant_id"`
	SessionPK      string         `json:"specter_session_id,omitempty"`
	CRMObjectType  string         `json:"crm_object_type"`
	CRMObjectID    string         `json:"crm_object_id,omitempty"`
	Operation      string         `json:"operation"`
	Status         string         `json:"status"`
	ErrorCode      string         `json:"error_code,omitempty"`
	ErrorMessage   string         `json:"error_message,omitempty"`
	PayloadSummary map[string]any `json:"payload_summary,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// WorkflowHighIntentVisitor is the slug of the only workflow Specter triggers.
const WorkflowHighIntentVisitor = "high-intent-visitor"

// TriggerStatusQueued marks a recorded trigger that has not been executed.
const TriggerStatusQueued = "queued"

// TriggerPayload is the body handed to downstream workflows.
type TriggerPayload struct {
	SessionID            string     `json:"session_id"`
	VisitorID            string     `json:"visitor_id"`
	IntentTier           IntentTier `json:"intent_tier"`
	TopSignals           []string   `json:"top_signals"`
	ResolutionConfidence float64    `json:"resolution_confidence"`
	HeatZone             IntentTier `json:"heat_zone"`
}

// TriggerLog is an append-only record of a workflow trigger.
type TriggerLog struct {
	ID           string         `json:"id"`
	TenantID     string         `json:"tenant_id"`
	SessionPK    string         `json:"specter_session_id,omitempty"`
	WorkflowSlug string         `json:"workflow_slug"`
	Payload      TriggerPayload `json:"payload"`
	Status       string         `json:"status"`
	CreatedAt    time.Time      `json:"created_at"`
}

// EscalationReason is the fixed set of escalation reason codes.
type EscalationReason string

const (
	ReasonConsentRestricted       EscalationReason = "consent_restricted"
	ReasonProviderFailure         EscalationReason = "provider_failure"
	ReasonNonApprovedSource       EscalationReason = "non_approved_source"
	ReasonComplianceBypassAttempt EscalationReason = "compliance_bypass_attempt"
)

// Valid reports whether r is a known reason code.
func (r EscalationReason) Valid() bool {
	switch r {
	case ReasonConsentRestricted, ReasonProviderFailure, ReasonNonApprovedSource, ReasonComplianceBypassAttempt:
		return true
	default:
		return false
	}
}

// EscalationLog is an append-only record of a condition needing human follow-up.
type EscalationLog struct {
	ID          string           `json:"id"`
	TenantID    string           `json:"tenant_id"`
	SessionPK   string           `json:"specter_session_id,omitempty"`
	VisitorID   string           `json:"visitor_id,omitempty"`
	ReasonCode  EscalationReason `json:"reason_code"`
	Reason      string           `json:"reason"`
	Details     map[string]any   `json:"details,omitempty"`
	Integration string           `json:"integration,omitempty"`
	Provider    string           `json:"provider,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
}
