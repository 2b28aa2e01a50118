// Package privacy hashes personal data out of event metadata and captures the
// identity signals that identity resolution consumes in memory.
package privacy

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/spf13/cast"

	"github.com/cynergists/specter/internal/model"
)

// sensitiveFields are replaced by their hash before an event is stored.
var sensitiveFields = []string{"email", "phone", "name", "first_name", "last_name"}

// HashValue returns the hex SHA-256 of the lower-cased, trimmed value.
func HashValue(v string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(v))))
	return hex.EncodeToString(sum[:])
}

// HashIP returns the hex SHA-256 of a caller IP, or "" when ip is empty.
func HashIP(ip string) string {
	if ip == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(ip))
	return hex.EncodeToString(sum[:])
}

// Sanitize returns a copy of metadata with every sensitive string field
// replaced by <field>_hash, both at the top level and inside form_fields.
// The input is never mutated.
func Sanitize(metadata map[string]any) map[string]any {
	if metadata == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(metadata))
	for k, v := range metadata {
		out[k] = v
	}

	for _, field := range sensitiveFields {
		if s, ok := out[field].(string); ok && s != "" {
			out[field+"_hash"] = HashValue(s)
			delete(out, field)
		}
	}

	if fields, ok := metadata["form_fields"].(map[string]any); ok && len(fields) > 0 {
		clean := make(map[string]any, len(fields))
		for k, v := range fields {
			s, isString := v.(string)
			if isString && isSensitive(k) {
				clean[k+"_hash"] = HashValue(s)
				continue
			}
			clean[k] = v
		}
		out["form_fields"] = clean
	}
	return out
}

func isSensitive(key string) bool {
	key = strings.ToLower(key)
	for _, f := range sensitiveFields {
		if key == f {
			return true
		}
	}
	return false
}

// ExtractSignals captures identity hints from raw event metadata. Top-level
// contact fields win over their form_fields counterparts.
func ExtractSignals(metadata map[string]any) model.IdentitySignals {
	var sig model.IdentitySignals
	fields, _ := metadata["form_fields"].(map[string]any)

	pick := func(field string) string {
		if s, ok := metadata[field].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
		if s, ok := fields[field].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
		return ""
	}
	sig.Email = pick("email")
	sig.Phone = pick("phone")
	sig.Name = pick("name")

	switch v := metadata["authenticated_user_id"].(type) {
	case string:
		sig.AuthenticatedUserID = strings.TrimSpace(v)
	case float64, float32, int, int64, int32, uint, uint64, uint32:
		sig.AuthenticatedUserID = cast.ToString(v)
	}

	if company, ok := metadata["reverse_ip_company"].(map[string]any); ok {
		sig.ReverseIPCompany = &model.CompanySignal{
			Name:     strings.TrimSpace(cast.ToString(company["name"])),
			Domain:   strings.TrimSpace(cast.ToString(company["domain"])),
			Provider: strings.TrimSpace(cast.ToString(company["provider"])),
		}
	}
	return sig
}
