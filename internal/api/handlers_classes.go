package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/rank-tracker/internal/models"
	"github.com/rank-tracker/internal/types"
)

// handleCreateClass handles POST /api/classes
func (s *Server) handleCreateClass(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name          string            `json:"name"`
		Domain        string            `json:"domain"`
		Competitors   []string          `json:"competitors,omitempty"`
		CountryID     int               `json:"countryId"`
		LanguageCode  string            `json:"languageCode"`
		Device        types.Device      `json:"device"`
		TopResults    int               `json:"topResults"`
		LocationID    *int              `json:"locationId,omitempty"`
		Recurrence    *types.Recurrence `json:"recurrence,omitempty"`
		CheckHour     int               `json:"checkHour"`
		CheckWeekday  int               `json:"checkWeekday"`
		CheckMonthDay int               `json:"checkMonthDay"`
	}

	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_INPUT", "Invalid request body", nil)
		return
	}

	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "User ID required", nil)
		return
	}

	if req.Domain == "" {
		respondError(w, http.StatusBadRequest, "INVALID_INPUT", "Domain is required", nil)
		return
	}
	if req.TopResults <= 0 {
		req.TopResults = 10
	}
	if req.Device == "" {
		req.Device = types.DeviceDesktop
	}
	if req.Device != types.DeviceDesktop && req.Device != types.DevicePhone && req.Device != types.DeviceTablet {
		respondError(w, http.StatusBadRequest, "INVALID_INPUT", "Invalid device value", nil)
		return
	}
	if req.Recurrence != nil {
		switch *req.Recurrence {
		case types.RecurrenceDaily, types.RecurrenceWeekly, types.RecurrenceMonthly:
		default:
			respondError(w, http.StatusBadRequest, "INVALID_INPUT", "Invalid recurrence value", nil)
			return
		}
	}

	now := time.Now()
	class := &models.Class{
		ID:            uuid.New().String(),
		UserID:        userID,
		Name:          req.Name,
		Domain:        req.Domain,
		Competitors:   req.Competitors,
		CountryID:     req.CountryID,
		LanguageCode:  req.LanguageCode,
		Device:        req.Device,
		TopResults:    req.TopResults,
		LocationID:    req.LocationID,
		Recurrence:    req.Recurrence,
		CheckHour:     req.CheckHour,
		CheckWeekday:  req.CheckWeekday,
		CheckMonthDay: req.CheckMonthDay,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.classes.Create(r.Context(), class); err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, class)
}

// handleGetClass handles GET /api/classes/:id
func (s *Server) handleGetClass(w http.ResponseWriter, r *http.Request) {
	classID := mux.Vars(r)["id"]

	class, err := s.classes.GetByID(r.Context(), classID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, class)
}

// handleAddKeyword handles POST /api/classes/:id/keywords
func (s *Server) handleAddKeyword(w http.ResponseWriter, r *http.Request) {
	classID := mux.Vars(r)["id"]

	var req struct {
		Text string `json:"text"`
	}
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_INPUT", "Invalid request body", nil)
		return
	}
	if req.Text == "" {
		respondError(w, http.StatusBadRequest, "INVALID_INPUT", "Keyword text is required", nil)
		return
	}

	// Verify the class exists before attaching keywords to it.
	if _, err := s.classes.GetByID(r.Context(), classID); err != nil {
		respondServiceError(w, err)
		return
	}

	keyword := &models.Keyword{
		ID:        uuid.New().String(),
		ClassID:   classID,
		Text:      req.Text,
		CreatedAt: time.Now(),
	}

	if err := s.keywords.Create(r.Context(), keyword); err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, keyword)
}

// handleListKeywords handles GET /api/classes/:id/keywords
func (s *Server) handleListKeywords(w http.ResponseWriter, r *http.Request) {
	classID := mux.Vars(r)["id"]

	if _, err := s.classes.GetByID(r.Context(), classID); err != nil {
		respondServiceError(w, err)
		return
	}

	keywords, err := s.keywords.ListByClass(r.Context(), classID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"keywords": keywords,
		"count":    len(keywords),
	})
}
