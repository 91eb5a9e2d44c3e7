package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	apperrors "github.com/portfolio-aggregator/internal/errors"
	"github.com/portfolio-aggregator/internal/service"
)

// handleLinkAccount handles POST /api/accounts/link
func (s *Server) handleLinkAccount(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Provider    string `json:"provider"`
		PublicToken string `json:"publicToken"`
	}
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	result, err := s.services.Accounts.LinkAccount(r.Context(), userIDFrom(r.Context()), req.Provider, req.PublicToken)
	if err != nil {
		respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, result)
}

// handleListAccounts handles GET /api/accounts
func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.services.Accounts.ListAccounts(r.Context(), userIDFrom(r.Context()))
	if err != nil {
		respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"accounts": accounts,
		"count":    len(accounts),
	})
}

// handleCreateManualAccount handles POST /api/accounts
func (s *Server) handleCreateManualAccount(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	account, err := s.services.Holdings.CreateManualAccount(r.Context(), userIDFrom(r.Context()), req.Name)
	if err != nil {
		respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, account)
}

// handleGetAccount handles GET /api/accounts/{id}
func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	account, err := s.services.Accounts.GetAccount(r.Context(), userIDFrom(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, account)
}

// handleDeleteAccount handles DELETE /api/accounts/{id}
func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	if err := s.services.Accounts.DeleteAccount(r.Context(), userIDFrom(r.Context()), mux.Vars(r)["id"]); err != nil {
		respondError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleSyncAccount handles POST /api/accounts/{id}/sync
func (s *Server) handleSyncAccount(w http.ResponseWriter, r *http.Request) {
	result, err := s.services.Accounts.SyncAccount(r.Context(), userIDFrom(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// handleAccountSummary handles GET /api/accounts/{id}/summary. Every call
// records a snapshot.
func (s *Server) handleAccountSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.services.Portfolio.SummarizeAccount(r.Context(), userIDFrom(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, summary)
}

// handleAccountHistory handles GET /api/accounts/{id}/history?days=N
func (s *Server) handleAccountHistory(w http.ResponseWriter, r *http.Request) {
	days, err := s.parseDays(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	history, err := s.services.History.AccountHistory(r.Context(), userIDFrom(r.Context()), mux.Vars(r)["id"], days)
	if err != nil {
		respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, history)
}

// handleListAccountHoldings handles GET /api/accounts/{id}/holdings
func (s *Server) handleListAccountHoldings(w http.ResponseWriter, r *http.Request) {
	holdings, err := s.services.Holdings.ListAccountHoldings(r.Context(), userIDFrom(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"holdings": holdings,
		"count":    len(holdings),
	})
}

// handleAddHolding handles POST /api/accounts/{id}/holdings
func (s *Server) handleAddHolding(w http.ResponseWriter, r *http.Request) {
	var req service.HoldingInput
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	holding, err := s.services.Holdings.AddHolding(r.Context(), userIDFrom(r.Context()), mux.Vars(r)["id"], req)
	if err != nil {
		respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, holding)
}

// parseDays reads the history window, defaulting when absent
func (s *Server) parseDays(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("days")
	if raw == "" {
		return s.config.DefaultHistoryDays, nil
	}
	days, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperrors.NewInvalidParameterError("days", "must be an integer")
	}
	return days, nil
}
