// Package botfilter classifies tracking events produced by automated agents.
package botfilter

import (
	"strings"

	"github.com/spf13/cast"
)

// userAgentMarkers are matched case-insensitively against the user agent.
var userAgentMarkers = []string{"bot", "crawler", "spider", "slurp", "headless", "lighthouse"}

// IsBot reports whether an event came from an automated agent. The event's own
// is_bot flag (top level or inside metadata) is honored alongside the user
// agent check.
func IsBot(userAgent string, event map[string]any) bool {
	ua := strings.ToLower(userAgent)
	for _, marker := range userAgentMarkers {
		if strings.Contains(ua, marker) {
			return true
		}
	}
	if flagged(event["is_bot"]) {
		return true
	}
	if meta, ok := event["metadata"].(map[string]any); ok && flagged(meta["is_bot"]) {
		return true
	}
	return false
}

func flagged(v any) bool {
	if v == nil {
		return false
	}
	b, err := cast.ToBoolE(v)
	return err == nil && b
}
