package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
)

// handleGetBalance handles GET /api/users/:id/credits
func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]

	account, err := s.ledger.Account(r.Context(), userID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, account)
}

// handleListTransactions handles GET /api/users/:id/credits/transactions -
// the newest ledger entries, with an optional limit query parameter
func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			respondError(w, http.StatusBadRequest, "INVALID_INPUT", "Invalid limit parameter", nil)
			return
		}
		limit = parsed
	}

	transactions, err := s.ledger.Transactions(r.Context(), userID, limit)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"userId":       userID,
		"transactions": transactions,
		"count":        len(transactions),
	})
}

// handleAdjustCredits handles POST /api/users/:id/credits/adjust - manual
// administrative correction, gated on the confirmation token
func (s *Server) handleAdjustCredits(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]

	var req struct {
		Delta             int    `json:"delta"`
		Reason            string `json:"reason"`
		ConfirmationToken string `json:"confirmationToken"`
	}
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_INPUT", "Invalid request body", nil)
		return
	}

	tx, err := s.ledger.Adjust(r.Context(), userID, req.Delta, req.Reason, req.ConfirmationToken)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, tx)
}

// handleCreateOrder handles POST /api/orders - open a credit purchase to be
// settled by the payment webhook
func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		InvoiceNumber string `json:"invoiceNumber"`
		Credits       int    `json:"credits"`
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

	order, err := s.paymentService.CreateOrder(r.Context(), userID, req.InvoiceNumber, req.Credits)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, order)
}
