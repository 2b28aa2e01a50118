package store

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/cynergists/specter/internal/model"
)

// dbTime normalizes a timestamp to UTC microseconds, the precision both
// backends round-trip exactly.
func dbTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

func dbTimePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := dbTime(*t)
	return &v
}

// encodeMap marshals a map column. Nil maps are stored as an empty object.
func encodeMap[V any](m map[string]V) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(m)
	return b, eris.Wrap(err, "store: marshal map")
}

func encodeJSON(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	return b, eris.Wrap(err, "store: marshal json")
}

// decodeJSON unmarshals a JSON column, leaving out untouched for empty input.
func decodeJSON(data []byte, out any) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	return eris.Wrap(json.Unmarshal(data, out), "store: unmarshal json")
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// prepareLog fills the identity columns of an audit row.
func prepareLog(id *string, createdAt *time.Time) {
	if *id == "" {
		*id = uuid.New().String()
	}
	if createdAt.IsZero() {
		*createdAt = time.Now()
	}
	*createdAt = dbTime(*createdAt)
}

// sessionArgs returns the insert arguments in sessionColumns order with the
// update timestamp last.
func sessionArgs(s *model.Session) ([]any, error) {
	breakdown, err := encodeMap(s.ScoringBreakdown)
	if err != nil {
		return nil, err
	}
	metrics, err := encodeMap(s.Metrics)
	if err != nil {
		return nil, err
	}
	utm, err := encodeMap(s.UTMParams)
	if err != nil {
		return nil, err
	}
	return []any{
		s.ID, s.TenantID, s.VisitorPK, s.SessionID, dbTime(s.StartedAt), dbTimePtr(s.EndedAt),
		s.IntentScore, string(s.IntentTier), string(s.HeatZone), string(s.ResolutionStatus),
		s.ResolutionConfidence, s.ResolutionSource, breakdown, metrics, s.LastPageURL, s.Referrer,
		utm, s.DeviceType, s.IPHash, s.CompanyName, s.CompanyDomain, dbTime(time.Now()),
	}, nil
}
