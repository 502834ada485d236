package serp

import (
	"strings"

	"github.com/rank-tracker/internal/apperrors"
)

// mapUpstreamError maps an upstream error message onto the stable fetch
// taxonomy. Callers use the code to decide retry vs. abort.
func mapUpstreamError(message string) *apperrors.CategorizedError {
	m := strings.ToLower(message)

	switch {
	case strings.Contains(m, "empty query") || strings.Contains(m, "missing query"):
		return apperrors.NewFetchError(apperrors.CodeEmptyQuery, "search query is empty", nil)
	case strings.Contains(m, "no results"):
		return apperrors.NewFetchError(apperrors.CodeNoResults, "no results for query", nil)
	case strings.Contains(m, "invalid api key") || strings.Contains(m, "unauthorized") || strings.Contains(m, "auth"):
		return apperrors.NewFetchError(apperrors.CodeAuthInvalid, "search API rejected credentials", nil)
	case strings.Contains(m, "too many requests") || strings.Contains(m, "rate limit") || strings.Contains(m, "blocked"):
		return apperrors.NewFetchError(apperrors.CodeRateLimited, "search API rate limited or blocked the request", nil)
	case strings.Contains(m, "maintenance"):
		return apperrors.NewFetchError(apperrors.CodeUpstreamMaintenance, "search API is under maintenance", nil)
	default:
		return apperrors.NewFetchError(apperrors.CodeUpstreamError, "search API error: "+message, nil)
	}
}

// mapHTTPStatus maps a non-200 HTTP status onto the fetch taxonomy
func mapHTTPStatus(status int) *apperrors.CategorizedError {
	switch {
	case status == 401 || status == 403:
		return apperrors.NewFetchError(apperrors.CodeAuthInvalid, "search API rejected credentials", nil)
	case status == 429:
		return apperrors.NewFetchError(apperrors.CodeRateLimited, "search API rate limited or blocked the request", nil)
	case status == 503:
		return apperrors.NewFetchError(apperrors.CodeUpstreamMaintenance, "search API is under maintenance", nil)
	default:
		return apperrors.NewFetchError(apperrors.CodeUpstreamError, "search API returned unexpected status", nil)
	}
}
