package privacy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashValue_Normalizes(t *testing.T) {
	// sha256("abc")
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", HashValue("  ABC "))
	assert.Equal(t, HashValue("ann@example.com"), HashValue("Ann@Example.COM"))
}

func TestHashIP(t *testing.T) {
	assert.Empty(t, HashIP(""))
	assert.Len(t, HashIP("203.0.113.9"), 64)
	assert.NotEqual(t, HashIP("203.0.113.9"), HashIP("203.0.113.10"))
}

func TestSanitize_TopLevel(t *testing.T) {
	in := map[string]any{
		"email":      "Ann@Example.com",
		"phone":      "555-0100",
		"first_name": "Ann",
		"last_name":  "",
		"name":       42,
		"referrer":   "https://google.com",
	}
	out := Sanitize(in)

	assert.NotContains(t, out, "email")
	assert.Equal(t, HashValue("ann@example.com"), out["email_hash"])
	assert.Equal(t, HashValue("555-0100"), out["phone_hash"])
	assert.Equal(t, HashValue("ann"), out["first_name_hash"])
	assert.Equal(t, "", out["last_name"], "empty values are left alone")
	assert.Equal(t, 42, out["name"], "non-string values are left alone")
	assert.Equal(t, "https://google.com", out["referrer"])

	assert.Equal(t, "Ann@Example.com", in["email"], "input must not be mutated")
}

func TestSanitize_FormFields(t *testing.T) {
	in := map[string]any{
		"form_fields": map[string]any{
			"Email":   "ann@example.com",
			"company": "Acme",
			"phone":   7,
		},
	}
	out := Sanitize(in)

	fields, ok := out["form_fields"].(map[string]any)
	require.True(t, ok)
	assert.NotContains(t, fields, "Email")
	assert.Equal(t, HashValue("ann@example.com"), fields["Email_hash"])
	assert.Equal(t, "Acme", fields["company"])
	assert.Equal(t, 7, fields["phone"])

	orig := in["form_fields"].(map[string]any)
	assert.Equal(t, "ann@example.com", orig["Email"])
}

func TestSanitize_Nil(t *testing.T) {
	assert.Equal(t, map[string]any{}, Sanitize(nil))
}

func TestExtractSignals(t *testing.T) {
	sig := ExtractSignals(map[string]any{
		"email": " ann@example.com ",
		"form_fields": map[string]any{
			"email": "ignored@example.com",
			"phone": "555-0100",
			"name":  "   ",
		},
		"authenticated_user_id": float64(1234),
		"reverse_ip_company":    map[string]any{"name": "Acme", "domain": "acme.test", "provider": "clearbit"},
	})

	assert.Equal(t, "ann@example.com", sig.Email)
	assert.Equal(t, "555-0100", sig.Phone)
	assert.Empty(t, sig.Name)
	assert.Equal(t, "1234", sig.AuthenticatedUserID)
	require.NotNil(t, sig.ReverseIPCompany)
	assert.Equal(t, "acme.test", sig.ReverseIPCompany.Domain)
	assert.Equal(t, "clearbit", sig.ReverseIPCompany.Provider)
}

func TestExtractSignals_IgnoresNonObjectCompany(t *testing.T) {
	sig := ExtractSignals(map[string]any{
		"reverse_ip_company":    "Acme",
		"authenticated_user_id": true,
	})
	assert.Nil(t, sig.ReverseIPCompany)
	assert.Empty(t, sig.AuthenticatedUserID)
}
