package api

import (
	"net/http"
)

// handleRunScheduler handles POST /api/scheduler/run - evaluate every
// scheduled class once
func (s *Server) handleRunScheduler(w http.ResponseWriter, r *http.Request) {
	result, err := s.scheduler.Run(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// handleRunProcessor handles POST /api/processor/run - process one batch of
// the oldest active job
func (s *Server) handleRunProcessor(w http.ResponseWriter, r *http.Request) {
	result, err := s.processor.RunOnce(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}
