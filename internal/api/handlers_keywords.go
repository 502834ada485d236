package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
)

// handleGetKeywordResults handles GET /api/keywords/:id/results - the latest
// fetched result set, read through the cache with the persisted copy as
// fallback.
func (s *Server) handleGetKeywordResults(w http.ResponseWriter, r *http.Request) {
	keywordID := mux.Vars(r)["id"]

	results, fetchedAt, found, err := s.resultCache.Get(r.Context(), keywordID)
	if err != nil {
		s.logger.WithError(err).WithField("keywordId", keywordID).Warn("Result cache read failed")
	}
	if found {
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"keywordId": keywordID,
			"results":   results,
			"fetchedAt": fetchedAt,
			"cached":    true,
		})
		return
	}

	keyword, err := s.keywords.GetByID(r.Context(), keywordID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"keywordId": keyword.ID,
		"results":   keyword.SerpResults,
		"fetchedAt": keyword.LastCheckedAt,
		"cached":    false,
	})
}

// handleGetKeywordHistory handles GET /api/keywords/:id/history with optional
// from/to (RFC 3339) and limit query parameters
func (s *Server) handleGetKeywordHistory(w http.ResponseWriter, r *http.Request) {
	keywordID := mux.Vars(r)["id"]

	if _, err := s.keywords.GetByID(r.Context(), keywordID); err != nil {
		respondServiceError(w, err)
		return
	}

	to := time.Now()
	from := to.AddDate(0, -3, 0)

	if v := r.URL.Query().Get("from"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "INVALID_INPUT", "Invalid from parameter, expected RFC 3339", nil)
			return
		}
		from = parsed
	}
	if v := r.URL.Query().Get("to"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "INVALID_INPUT", "Invalid to parameter, expected RFC 3339", nil)
			return
		}
		to = parsed
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			respondError(w, http.StatusBadRequest, "INVALID_INPUT", "Invalid limit parameter", nil)
			return
		}
		limit = parsed
	}

	records, err := s.history.ListByKeyword(r.Context(), keywordID, from, to, limit)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"keywordId": keywordID,
		"history":   records,
		"count":     len(records),
	})
}
