// Package serp fetches and parses search engine results pages from the
// upstream search API. The parser is isolated here with recorded payload
// fixtures because organic classification and text decoding are the areas
// most exposed to upstream format drift.
package serp

import (
	"encoding/json"
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/rank-tracker/internal/types"
)

// pageEnvelope is the upstream response wrapper. Error payloads carry
// status "error" and a human-readable message.
type pageEnvelope struct {
	Status  string     `json:"status"`
	Message string     `json:"message"`
	Results []rawEntry `json:"results"`
}

// rawEntry is one entry of a results page. Different upstream API
// generations tag the entry kind as "type" or "content_type" and the target
// as "link" or "url"; both forms are accepted.
type rawEntry struct {
	Type        string `json:"type"`
	ContentType string `json:"content_type"`
	Title       string `json:"title"`
	Link        string `json:"link"`
	URL         string `json:"url"`
	Snippet     string `json:"snippet"`
	Breadcrumbs string `json:"breadcrumbs"`
}

func (e rawEntry) kind() string {
	if e.Type != "" {
		return e.Type
	}
	return e.ContentType
}

func (e rawEntry) target() string {
	if e.Link != "" {
		return e.Link
	}
	return e.URL
}

// isOrganic reports whether an entry counts toward position numbering.
// Ads, featured panels and other non-link features are dropped before
// positions are assigned.
func (e rawEntry) isOrganic() bool {
	switch e.kind() {
	case "organic", "web_result", "":
		return e.target() != ""
	default:
		return false
	}
}

var tagPattern = regexp.MustCompile(`<[^>]*>`)

// cleanText decodes escaped, tag-wrapped payload text into plain text
func cleanText(s string) string {
	s = tagPattern.ReplaceAllString(s, "")
	s = html.UnescapeString(s)
	return strings.TrimSpace(s)
}

// parsePage parses one upstream page payload into ordered organic results.
// Position numbering starts at startPosition and counts organic entries
// only, so numbering stays globally consistent across pages.
func parsePage(body []byte, startPosition int) ([]types.SerpResult, error) {
	var envelope pageEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("failed to parse results page: %w", err)
	}

	if envelope.Status != "" && envelope.Status != "ok" {
		return nil, mapUpstreamError(envelope.Message)
	}

	results := make([]types.SerpResult, 0, len(envelope.Results))
	position := startPosition
	for _, entry := range envelope.Results {
		if !entry.isOrganic() {
			continue
		}
		results = append(results, types.SerpResult{
			Position:    position,
			Title:       cleanText(entry.Title),
			URL:         entry.target(),
			Description: cleanText(entry.Snippet),
			Breadcrumbs: cleanText(entry.Breadcrumbs),
		})
		position++
	}

	return results, nil
}
