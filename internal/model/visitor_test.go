package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVisitor_MergeCookieIDs(t *testing.T) {
	v := &Visitor{CookieIDs: []string{"a", "b"}}
	v.MergeCookieIDs([]string{"b", "c", "", "a", "d"})
	assert.Equal(t, []string{"a", "b", "c", "d"}, v.CookieIDs)
}

func TestVisitor_MergeCookieIDs_Empty(t *testing.T) {
	v := &Visitor{}
	v.MergeCookieIDs(nil)
	assert.Empty(t, v.CookieIDs)
}

func TestVisitor_ConsentAllowed(t *testing.T) {
	tests := []struct {
		state ConsentState
		dnt   bool
		want  bool
	}{
		{ConsentGranted, false, true},
		{ConsentFull, false, true},
		{ConsentAnalytics, false, true},
		{ConsentAnalyticsMarketing, false, true},
		{ConsentGranted, true, false},
		{ConsentRestricted, false, false},
		{ConsentDenied, false, false},
		{ConsentUnknown, false, false},
		{ConsentState(""), false, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			v := &Visitor{ConsentState: tt.state, DNT: tt.dnt}
			assert.Equal(t, tt.want, v.ConsentAllowed())
		})
	}
}
