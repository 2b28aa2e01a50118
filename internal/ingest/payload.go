package ingest

import (
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/cast"

	"github.com/cynergists/specter/internal/model"
)

var validate = validator.New()

// Payload is one batch posted by the tracking snippet. Fields the snippet
// sends loosely typed are decoded as any and coerced.
type Payload struct {
	VisitorID      string `json:"visitor_id" validate:"required,max=255"`
	SessionID      string `json:"session_id" validate:"required,max=255"`
	ConsentState   string `json:"consent_state" validate:"max=64"`
	ConsentVersion string `json:"consent_version" validate:"max=64"`
	DNT            any    `json:"dnt"`
	CookieIDs      []any  `json:"cookie_ids" validate:"max=100"`
	Events         []any  `json:"events" validate:"max=1000"`
}

// ValidationError reports the first invalid payload field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid payload"
	}
	return e.Field + ": " + e.Reason
}

// Validate checks required identifiers and batch limits.
func (p *Payload) Validate() error {
	err := validate.Struct(p)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &ValidationError{Reason: err.Error()}
	}
	fe := verrs[0]
	field := map[string]string{
		"VisitorID":      "visitor_id",
		"SessionID":      "session_id",
		"ConsentState":   "consent_state",
		"ConsentVersion": "consent_version",
		"CookieIDs":      "cookie_ids",
		"Events":         "events",
	}[fe.Field()]
	switch fe.Tag() {
	case "required":
		return &ValidationError{Field: field, Reason: "is required"}
	default:
		return &ValidationError{Field: field, Reason: "must be at most " + fe.Param() + " " + unit(fe.Kind().String())}
	}
}

func unit(kind string) string {
	if kind == "slice" {
		return "items"
	}
	return "characters"
}

// Consent normalizes the reported state. Unrecognized values are unknown.
func (p *Payload) Consent() model.ConsentState {
	switch s := model.ConsentState(strings.ToLower(strings.TrimSpace(p.ConsentState))); s {
	case model.ConsentGranted, model.ConsentFull, model.ConsentAnalytics, model.ConsentAnalyticsMarketing,
		model.ConsentRestricted, model.ConsentDenied:
		return s
	default:
		return model.ConsentUnknown
	}
}

// DoNotTrack coerces dnt; anything unparseable is false.
func (p *Payload) DoNotTrack() bool {
	return cast.ToBool(p.DNT)
}

// Cookies returns the string cookie ids; other entries are dropped.
func (p *Payload) Cookies() []string {
	out := make([]string, 0, len(p.CookieIDs))
	for _, c := range p.CookieIDs {
		if s, ok := c.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

// rawEvent is one parsed batch entry.
type rawEvent struct {
	fields     map[string]any
	eventType  string
	eventID    string
	pageURL    string
	userAgent  string
	metadata   map[string]any
	occurredAt time.Time
}

// parseEvent reads one batch entry. ok is false for non-objects and for
// timestamps that are present but unparseable.
func parseEvent(v any, now time.Time) (rawEvent, bool) {
	fields, isMap := v.(map[string]any)
	if !isMap {
		return rawEvent{}, false
	}

	ev := rawEvent{
		fields:     fields,
		eventType:  "unknown",
		occurredAt: now,
	}
	if s := cast.ToString(fields["type"]); s != "" {
		ev.eventType = s
	}
	if id, ok := fields["event_id"]; ok && id != nil {
		ev.eventID = cast.ToString(id)
	}
	ev.pageURL = cast.ToString(fields["page_url"])
	ev.userAgent = cast.ToString(fields["user_agent"])
	if m, ok := fields["metadata"].(map[string]any); ok {
		ev.metadata = m
	} else {
		ev.metadata = map[string]any{}
	}

	if ts, ok := fields["timestamp"]; ok && ts != nil && ts != "" {
		t, err := cast.ToTimeE(ts)
		if err != nil {
			return rawEvent{}, false
		}
		ev.occurredAt = t
	}
	return ev, true
}
