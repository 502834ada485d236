package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/rank-tracker/internal/service"
)

// handleEnqueueCheck handles POST /api/classes/:id/checks - request a ranking
// check for a class. A check already running for the class yields 409 with
// the existing job's id and status.
func (s *Server) handleEnqueueCheck(w http.ResponseWriter, r *http.Request) {
	classID := mux.Vars(r)["id"]

	var req struct {
		KeywordIDs []string `json:"keywordIds,omitempty"`
	}
	if r.ContentLength > 0 {
		if err := parseJSONBody(r, &req); err != nil {
			respondError(w, http.StatusBadRequest, "INVALID_INPUT", "Invalid request body", nil)
			return
		}
	}

	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "User ID required", nil)
		return
	}

	job, err := s.checkService.Enqueue(r.Context(), &service.EnqueueInput{
		ClassID:    classID,
		UserID:     userID,
		KeywordIDs: req.KeywordIDs,
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"jobId":         job.ID,
		"totalKeywords": job.TotalKeywords,
		"status":        job.Status,
	})
}

// handleGetActiveCheck handles GET /api/classes/:id/checks/active
func (s *Server) handleGetActiveCheck(w http.ResponseWriter, r *http.Request) {
	classID := mux.Vars(r)["id"]

	job, err := s.checkService.ActiveJob(r.Context(), classID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if job == nil {
		respondJSON(w, http.StatusOK, map[string]interface{}{"active": false})
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"active": true,
		"job":    job,
	})
}

// handleGetJob handles GET /api/jobs/:id
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]

	job, err := s.checkService.GetJob(r.Context(), jobID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, job)
}
