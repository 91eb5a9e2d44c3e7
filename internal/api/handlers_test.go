package api

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/portfolio-aggregator/internal/errors"
	"github.com/portfolio-aggregator/internal/models"
	"github.com/portfolio-aggregator/internal/service"
)

func TestLinkAccount_InvalidJSON(t *testing.T) {
	server, _ := createTestServer()

	w := doRequest(server, "POST", "/api/accounts/link", "invalid json")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	body := decodeError(t, w)
	assert.Equal(t, "INVALID_PARAMETER", body.Code)
	assert.Equal(t, "body", body.Details["parameter"])
}

func TestLinkAccount_UnknownField(t *testing.T) {
	server, _ := createTestServer()

	w := doRequest(server, "POST", "/api/accounts/link", `{"provider":"plaid","publicToken":"x","accessToken":"y"}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServiceErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"not found", apperrors.NewNotFoundError("account", "a1"), http.StatusNotFound, "NOT_FOUND"},
		{"not aggregated", apperrors.NewNotAggregatedError("a1"), http.StatusUnprocessableEntity, "NOT_AGGREGATED"},
		{"provider", apperrors.NewProviderError("plaid", errors.New("timeout")), http.StatusBadGateway, "PROVIDER_ERROR"},
		{"database", apperrors.NewDatabaseError("replace account data", errors.New("conn reset")), http.StatusServiceUnavailable, "DATABASE_ERROR"},
		{"wrapped", errors.Join(errors.New("context"), apperrors.NewNotFoundError("account", "a1")), http.StatusNotFound, "NOT_FOUND"},
		{"plain", errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, m := createTestServer()
			m.accounts.syncFunc = func(ctx context.Context, userID, accountID string) (*service.SyncResult, error) {
				return nil, tt.err
			}

			w := doRequest(server, "POST", "/api/accounts/a1/sync", nil)

			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.code, decodeError(t, w).Code)
		})
	}
}

func TestInternalErrorHidesCause(t *testing.T) {
	server, m := createTestServer()
	m.accounts.listFunc = func(ctx context.Context, userID string) ([]*models.Account, error) {
		return nil, errors.New("pq: password authentication failed for user admin")
	}

	w := doRequest(server, "GET", "/api/accounts", nil)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "password")
}

func TestDeleteAccount(t *testing.T) {
	server, m := createTestServer()
	var deleted string
	m.accounts.deleteFunc = func(ctx context.Context, userID, accountID string) error {
		deleted = accountID
		return nil
	}

	w := doRequest(server, "DELETE", "/api/accounts/a1", nil)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "a1", deleted)
}

func TestAccountHistory_InvalidDays(t *testing.T) {
	server, _ := createTestServer()

	w := doRequest(server, "GET", "/api/accounts/a1/history?days=week", nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "days", decodeError(t, w).Details["parameter"])
}

func TestAccountHistory_PassesWindow(t *testing.T) {
	server, m := createTestServer()
	var gotAccount string
	var gotDays int
	m.history.accountFunc = func(ctx context.Context, userID, accountID string, windowDays int) (*service.HistoryResult, error) {
		gotAccount, gotDays = accountID, windowDays
		return &service.HistoryResult{TargetID: accountID, WindowDays: windowDays}, nil
	}

	w := doRequest(server, "GET", "/api/accounts/a1/history?days=7", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "a1", gotAccount)
	assert.Equal(t, 7, gotDays)
}

func TestCreateManualAccount(t *testing.T) {
	server, _ := createTestServer()

	w := doRequest(server, "POST", "/api/accounts", map[string]string{"name": "Retirement"})

	assert.Equal(t, http.StatusCreated, w.Code)
	var account models.Account
	require.NoError(t, json.NewDecoder(w.Body).Decode(&account))
	assert.Equal(t, "Retirement", account.Name)
	assert.Equal(t, testUserID, account.UserID)
}

func TestAddHolding_DecimalBody(t *testing.T) {
	server, m := createTestServer()
	var got service.HoldingInput
	m.holdings.addFunc = func(ctx context.Context, userID, accountID string, in service.HoldingInput) (*models.Holding, error) {
		got = in
		return &models.Holding{ID: "h1", AccountID: accountID, Symbol: in.Symbol}, nil
	}

	w := doRequest(server, "POST", "/api/accounts/manual-1/holdings", `{"symbol":"aapl","quantity":"1.5","avgCost":150.25}`)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "aapl", got.Symbol)
	assert.True(t, got.Quantity.Equal(decimal.RequireFromString("1.5")))
	assert.True(t, got.AvgCost.Equal(decimal.RequireFromString("150.25")))
	assert.Nil(t, got.CurrentPrice)
}

func TestUpdateAndDeleteHolding(t *testing.T) {
	server, m := createTestServer()
	var update service.HoldingUpdate
	m.holdings.updateFunc = func(ctx context.Context, userID, holdingID string, in service.HoldingUpdate) (*models.Holding, error) {
		update = in
		return &models.Holding{ID: holdingID}, nil
	}
	m.holdings.deleteFunc = func(ctx context.Context, userID, holdingID string) error {
		return apperrors.NewNotFoundError("holding", holdingID)
	}

	w := doRequest(server, "PUT", "/api/holdings/h1", `{"quantity":"4"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, update.Quantity)
	assert.True(t, update.Quantity.Equal(decimal.NewFromInt(4)))
	assert.Nil(t, update.AvgCost)

	w = doRequest(server, "DELETE", "/api/holdings/h1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListHoldings_Unified(t *testing.T) {
	server, _ := createTestServer()

	w := doRequest(server, "GET", "/api/holdings", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Holdings []map[string]interface{} `json:"holdings"`
		Count    int                      `json:"count"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, "AAPL", resp.Holdings[0]["symbol"])
	assert.Equal(t, "Robinhood Brokerage", resp.Holdings[0]["accountName"])
}

func TestQueryTransactions_Params(t *testing.T) {
	server, m := createTestServer()
	var got service.TransactionQuery
	m.query.queryFunc = func(ctx context.Context, userID string, q service.TransactionQuery) (*service.PaginatedTransactions, error) {
		got = q
		return &service.PaginatedTransactions{Page: q.Page, PageSize: q.PageSize}, nil
	}

	w := doRequest(server, "GET", "/api/transactions?accountId=a1&symbol=aap&type=BUY&dateFrom=2024-01-01&dateTo=2024-01-31&page=2&pageSize=10", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "a1", got.AccountID)
	assert.Equal(t, "aap", got.Symbol)
	assert.Equal(t, "BUY", got.Type)
	assert.Equal(t, 2, got.Page)
	assert.Equal(t, 10, got.PageSize)
	require.NotNil(t, got.DateFrom)
	require.NotNil(t, got.DateTo)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), *got.DateFrom)
	assert.Equal(t, time.Date(2024, 1, 31, 23, 59, 59, 999999999, time.UTC), *got.DateTo)
}

func TestQueryTransactions_InvalidParams(t *testing.T) {
	tests := []struct {
		query string
		param string
	}{
		{"?page=first", "page"},
		{"?pageSize=1.5", "pageSize"},
		{"?dateFrom=01/02/2024", "dateFrom"},
		{"?dateTo=tomorrow", "dateTo"},
	}

	server, _ := createTestServer()
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			w := doRequest(server, "GET", "/api/transactions"+tt.query, nil)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, tt.param, decodeError(t, w).Details["parameter"])
		})
	}
}

func TestQueryTransactions_RFC3339(t *testing.T) {
	server, m := createTestServer()
	var got service.TransactionQuery
	m.query.queryFunc = func(ctx context.Context, userID string, q service.TransactionQuery) (*service.PaginatedTransactions, error) {
		got = q
		return &service.PaginatedTransactions{}, nil
	}

	w := doRequest(server, "GET", "/api/transactions?dateTo=2024-01-31T12:00:00Z", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, time.Date(2024, 1, 31, 12, 0, 0, 0, time.UTC), got.DateTo.UTC())
}

func TestSyncPortfolio(t *testing.T) {
	server, m := createTestServer()
	m.accounts.syncUserFunc = func(ctx context.Context, userID string) (*service.UserSyncResult, error) {
		return &service.UserSyncResult{UserID: userID, Synced: 2, Failed: 1}, nil
	}

	w := doRequest(server, "POST", "/api/portfolio/sync", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	var result service.UserSyncResult
	require.NoError(t, json.NewDecoder(w.Body).Decode(&result))
	assert.Equal(t, 2, result.Synced)
	assert.Equal(t, 1, result.Failed)
}

func TestCompression(t *testing.T) {
	server, _ := createTestServer()

	req := httptest.NewRequest("GET", "/health", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)

	require.Equal(t, "gzip", w.Header().Get("Content-Encoding"))
	gz, err := gzip.NewReader(w.Body)
	require.NoError(t, err)
	var response map[string]string
	require.NoError(t, json.NewDecoder(gz).Decode(&response))
	assert.Equal(t, "healthy", response["status"])
}

func TestRecoveryMiddleware(t *testing.T) {
	server, m := createTestServer()
	m.portfolio.accountFunc = func(ctx context.Context, userID, accountID string) (*service.AccountSummary, error) {
		panic("unexpected nil holding")
	}

	w := doRequest(server, "GET", "/api/accounts/a1/summary", nil)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "INTERNAL_ERROR", decodeError(t, w).Code)
}
