package api

import (
	"net/http"
	"net/url"
	"strconv"
	"time"

	apperrors "github.com/portfolio-aggregator/internal/errors"
	"github.com/portfolio-aggregator/internal/service"
)

// handleQueryTransactions handles GET /api/transactions
//
// Query parameters: accountId, symbol, type, dateFrom, dateTo (YYYY-MM-DD or
// RFC 3339), page, pageSize.
func (s *Server) handleQueryTransactions(w http.ResponseWriter, r *http.Request) {
	q, err := parseTransactionQuery(r.URL.Query())
	if err != nil {
		respondError(w, r, err)
		return
	}

	result, err := s.services.Query.QueryForUser(r.Context(), userIDFrom(r.Context()), q)
	if err != nil {
		respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

func parseTransactionQuery(values url.Values) (service.TransactionQuery, error) {
	q := service.TransactionQuery{
		AccountID: values.Get("accountId"),
		Symbol:    values.Get("symbol"),
		Type:      values.Get("type"),
	}

	var err error
	if q.Page, err = parseIntParam(values, "page"); err != nil {
		return q, err
	}
	if q.PageSize, err = parseIntParam(values, "pageSize"); err != nil {
		return q, err
	}
	if q.DateFrom, err = parseDateParam(values, "dateFrom", false); err != nil {
		return q, err
	}
	if q.DateTo, err = parseDateParam(values, "dateTo", true); err != nil {
		return q, err
	}
	return q, nil
}

func parseIntParam(values url.Values, name string) (int, error) {
	raw := values.Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperrors.NewInvalidParameterError(name, "must be an integer")
	}
	return n, nil
}

// parseDateParam accepts a calendar date or an RFC 3339 timestamp. A bare
// date used as an upper bound covers the whole day.
func parseDateParam(values url.Values, name string, endOfDay bool) (*time.Time, error) {
	raw := values.Get(name)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return nil, apperrors.NewInvalidParameterError(name, "must be YYYY-MM-DD or RFC 3339")
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}
