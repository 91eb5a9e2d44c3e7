package api

import (
	"net/http"
)

// handlePortfolioSummary handles GET /api/portfolio/summary. Every call
// records a user snapshot.
func (s *Server) handlePortfolioSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.services.Portfolio.SummarizeUser(r.Context(), userIDFrom(r.Context()))
	if err != nil {
		respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, summary)
}

// handlePortfolioHistory handles GET /api/portfolio/history?days=N
func (s *Server) handlePortfolioHistory(w http.ResponseWriter, r *http.Request) {
	days, err := s.parseDays(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	history, err := s.services.History.UserHistory(r.Context(), userIDFrom(r.Context()), days)
	if err != nil {
		respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, history)
}

// handleSyncPortfolio handles POST /api/portfolio/sync - syncs every linked
// account of the caller
func (s *Server) handleSyncPortfolio(w http.ResponseWriter, r *http.Request) {
	result, err := s.services.Accounts.SyncUser(r.Context(), userIDFrom(r.Context()))
	if err != nil {
		respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}
