package api

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"github.com/rank-tracker/internal/service"
)

// handlePaymentWebhook handles POST /webhooks/payment. The payment provider
// delivers notifications at least once; duplicates settle nothing twice and
// still return success so the provider stops redelivering.
func (s *Server) handlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	if s.config.WebhookSecret != "" {
		got := r.Header.Get("X-Webhook-Secret")
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.config.WebhookSecret)) != 1 {
			respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid webhook secret", nil)
			return
		}
	}

	// Provider payloads carry fields beyond what we act on, so decode
	// leniently rather than through parseJSONBody.
	var event service.WebhookEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_INPUT", "Invalid webhook payload", nil)
		return
	}

	result, err := s.paymentService.HandleWebhook(r.Context(), &event)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}
