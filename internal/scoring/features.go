package scoring

import (
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/cast"

	"github.com/cynergists/specter/internal/model"
)

// Features maps signal keys to the values extracted from a session.
type Features map[string]float64

// Snapshot returns the features as a JSON-friendly map for session metrics.
func (f Features) Snapshot() map[string]any {
	out := make(map[string]any, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// ExtractFeatures derives the scoring signals from a session's events. Bot
// events are ignored. Events are expected in occurrence order.
func ExtractFeatures(events []model.Event, keyPages []string, returnVisit bool) Features {
	matcher := newPageMatcher(keyPages)

	var (
		first, last   time.Time
		seen          bool
		scrollMax     float64
		keyPageVisits int
		formStrength  int
		paths         = make(map[string]struct{})
	)

	for _, e := range events {
		if e.IsBot {
			continue
		}
		if !seen || e.OccurredAt.Before(first) {
			first = e.OccurredAt
		}
		if !seen || e.OccurredAt.After(last) {
			last = e.OccurredAt
		}
		seen = true

		switch e.Type {
		case model.EventPageView:
			path := NormalizePath(e.PageURL)
			if matcher.match(path) {
				keyPageVisits++
			}
			if e.PageURL != "" {
				paths[path] = struct{}{}
			}
		case model.EventScroll:
			if d := scrollDepth(e.Metadata); d > scrollMax {
				scrollMax = d
			}
		case model.EventFormView:
			formStrength = max(formStrength, 1)
		case model.EventFormStart:
			formStrength = max(formStrength, 2)
		case model.EventFormSubmit:
			formStrength = max(formStrength, 3)
		}
	}

	var duration float64
	if seen {
		duration = float64(int64(last.Sub(first) / time.Second))
		if duration < 0 {
			duration = 0
		}
	}

	var ret float64
	if returnVisit {
		ret = 1
	}

	return Features{
		model.SignalDurationSeconds:         duration,
		model.SignalScrollDepthMax:          scrollMax,
		model.SignalKeyPageVisits:           float64(keyPageVisits),
		model.SignalReturnVisitRecent:       ret,
		model.SignalFormInteractionStrength: float64(formStrength),
		model.SignalNavigationDepth:         float64(len(paths)),
	}
}

func scrollDepth(meta map[string]any) float64 {
	v, ok := meta["depth"]
	if !ok || v == nil {
		v = meta["scroll_depth"]
	}
	if v == nil {
		return 0
	}
	d, err := cast.ToFloat64E(v)
	if err != nil {
		return 0
	}
	return d
}

// NormalizePath reduces a page URL to its path without a trailing slash.
// Unparseable or empty input yields "/".
func NormalizePath(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Path == "" {
		return "/"
	}
	path := strings.TrimRight(u.Path, "/")
	if path == "" {
		return "/"
	}
	return path
}

// pageMatcher tests normalized paths against high-intent page patterns.
// Plain patterns match exactly or as a path prefix; patterns wrapped in '#'
// are regular expressions, optionally followed by an 'i' flag.
type pageMatcher struct {
	prefixes []string
	regexps  []*regexp.Regexp
}

func newPageMatcher(patterns []string) *pageMatcher {
	m := &pageMatcher{}
	for _, p := range patterns {
		if p == "" {
			continue
		}
		if strings.HasPrefix(p, "#") {
			if re := compileDelimited(p); re != nil {
				m.regexps = append(m.regexps, re)
			}
			continue
		}
		m.prefixes = append(m.prefixes, p)
	}
	return m
}

func compileDelimited(p string) *regexp.Regexp {
	end := strings.LastIndex(p, "#")
	if end <= 0 {
		return nil
	}
	expr, flags := p[1:end], p[end+1:]
	if strings.Contains(flags, "i") {
		expr = "(?i)" + expr
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil
	}
	return re
}

func (m *pageMatcher) match(path string) bool {
	for _, re := range m.regexps {
		if re.MatchString(path) {
			return true
		}
	}
	for _, p := range m.prefixes {
		if path == p || strings.HasPrefix(path, strings.TrimRight(p, "/")+"/") {
			return true
		}
	}
	return false
}
