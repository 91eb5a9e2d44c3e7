package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/portfolio-aggregator/internal/service"
)

// handleListHoldings handles GET /api/holdings - holdings across all accounts
func (s *Server) handleListHoldings(w http.ResponseWriter, r *http.Request) {
	holdings, err := s.services.Holdings.ListHoldings(r.Context(), userIDFrom(r.Context()))
	if err != nil {
		respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"holdings": holdings,
		"count":    len(holdings),
	})
}

// handleUpdateHolding handles PUT /api/holdings/{id}
func (s *Server) handleUpdateHolding(w http.ResponseWriter, r *http.Request) {
	var req service.HoldingUpdate
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	holding, err := s.services.Holdings.UpdateHolding(r.Context(), userIDFrom(r.Context()), mux.Vars(r)["id"], req)
	if err != nil {
		respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, holding)
}

// handleDeleteHolding handles DELETE /api/holdings/{id}
func (s *Server) handleDeleteHolding(w http.ResponseWriter, r *http.Request) {
	if err := s.services.Holdings.DeleteHolding(r.Context(), userIDFrom(r.Context()), mux.Vars(r)["id"]); err != nil {
		respondError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
