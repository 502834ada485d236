// Package matcher canonicalizes domains and decides whether a search result
// URL belongs to a tracked domain. Matching is deliberately permissive:
// a tracked domain may surface as a subdomain or a regional TLD variant.
package matcher

import (
	"net/url"
	"strings"

	"github.com/rank-tracker/internal/types"
)

// Normalize reduces a URL or bare domain to its canonical host form:
// scheme stripped, leading "www." stripped, path and query discarded,
// lower-cased. Malformed input falls back to best-effort string stripping;
// Normalize never fails.
func Normalize(input string) string {
	s := strings.TrimSpace(strings.ToLower(input))
	if s == "" {
		return ""
	}

	if host := hostOf(s); host != "" {
		return strings.TrimPrefix(host, "www.")
	}

	// Fallback for input net/url cannot parse.
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}
	for _, sep := range []string{"/", "?", "#"} {
		if i := strings.Index(s, sep); i >= 0 {
			s = s[:i]
		}
	}
	return strings.TrimPrefix(s, "www.")
}

func hostOf(s string) string {
	raw := s
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// Matches reports whether a result URL belongs to the target domain. True
// when the normalized forms are equal or either contains the other as a
// substring. Returns false, never panics, on unparseable input.
func Matches(resultURL, target string) bool {
	a := Normalize(resultURL)
	b := Normalize(target)
	if a == "" || b == "" {
		return false
	}
	return a == b || strings.Contains(a, b) || strings.Contains(b, a)
}

// FindPosition scans ordered organic results for the first one matching the
// target domain. Returns the 1-based position and the matching URL, or
// (nil, "") when the domain does not appear.
func FindPosition(results []types.SerpResult, target string) (*int, string) {
	for _, r := range results {
		if Matches(r.URL, target) {
			pos := r.Position
			return &pos, r.URL
		}
	}
	return nil, ""
}
