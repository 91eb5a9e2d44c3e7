package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/portfolio-aggregator/internal/errors"
	"github.com/portfolio-aggregator/internal/models"
	"github.com/portfolio-aggregator/internal/storage"
	"github.com/portfolio-aggregator/internal/types"
)

// Default paging limits
const (
	DefaultPageSize = 50
	MaxPageSize     = 100
)

// QueryService handles transaction queries with filtering and pagination
type QueryService struct {
	accounts        AccountRepository
	transactions    TransactionRepository
	defaultPageSize int
	maxPageSize     int
}

// NewQueryService creates a new query service. Non-positive sizes fall back
// to DefaultPageSize and MaxPageSize.
func NewQueryService(accounts AccountRepository, transactions TransactionRepository, defaultPageSize, maxPageSize int) *QueryService {
	if maxPageSize <= 0 {
		maxPageSize = MaxPageSize
	}
	if defaultPageSize <= 0 || defaultPageSize > maxPageSize {
		defaultPageSize = min(DefaultPageSize, maxPageSize)
	}
	return &QueryService{
		accounts:        accounts,
		transactions:    transactions,
		defaultPageSize: defaultPageSize,
		maxPageSize:     maxPageSize,
	}
}

// TransactionQuery defines the filters and page of a transaction query.
// Zero Page and PageSize select the defaults.
type TransactionQuery struct {
	AccountID string     `json:"accountId,omitempty"`
	Symbol    string     `json:"symbol,omitempty"`
	Type      string     `json:"type,omitempty"`
	DateFrom  *time.Time `json:"dateFrom,omitempty"`
	DateTo    *time.Time `json:"dateTo,omitempty"`
	Page      int        `json:"page"`
	PageSize  int        `json:"pageSize"`
}

// PaginatedTransactions is one page of a transaction query
type PaginatedTransactions struct {
	Items    []*models.Transaction `json:"items"`
	Total    int64                 `json:"total"`
	Page     int                   `json:"page"`
	PageSize int                   `json:"pageSize"`
	Pages    int                   `json:"pages"`
}

// QueryForUser queries transactions across the user's accounts, or a single
// owned account when q.AccountID is set.
func (s *QueryService) QueryForUser(ctx context.Context, userID string, q TransactionQuery) (*PaginatedTransactions, error) {
	if q.AccountID != "" {
		account, err := s.accounts.GetByIDAndUser(ctx, q.AccountID, userID)
		if err != nil {
			return nil, storeError("get account", "account", q.AccountID, err)
		}
		return s.Query(ctx, []string{account.ID}, q)
	}

	accounts, err := s.accounts.ListByUser(ctx, userID)
	if err != nil {
		return nil, storeError("list accounts", "user", userID, err)
	}
	ids := make([]string, 0, len(accounts))
	for _, a := range accounts {
		ids = append(ids, a.ID)
	}
	return s.Query(ctx, ids, q)
}

// Query returns one page of the transactions of the given accounts, newest
// first. Out-of-range paging values are rejected rather than clamped.
func (s *QueryService) Query(ctx context.Context, accountIDs []string, q TransactionQuery) (*PaginatedTransactions, error) {
	filters, page, pageSize, err := s.buildFilters(accountIDs, q)
	if err != nil {
		return nil, err
	}

	result := &PaginatedTransactions{
		Items:    []*models.Transaction{},
		Page:     page,
		PageSize: pageSize,
	}
	if len(accountIDs) == 0 {
		return result, nil
	}

	total, err := s.transactions.Count(ctx, filters)
	if err != nil {
		return nil, storeError("count transactions", "transactions", "", err)
	}
	result.Total = total
	result.Pages = int((total + int64(pageSize) - 1) / int64(pageSize))

	if int64(filters.Offset) >= total {
		return result, nil
	}

	items, err := s.transactions.Find(ctx, filters)
	if err != nil {
		return nil, storeError("query transactions", "transactions", "", err)
	}
	result.Items = items
	return result, nil
}

func (s *QueryService) buildFilters(accountIDs []string, q TransactionQuery) (*storage.TransactionFilters, int, int, error) {
	page := q.Page
	if page == 0 {
		page = 1
	}
	if page < 1 {
		return nil, 0, 0, apperrors.NewInvalidParameterError("page", "must be at least 1")
	}

	pageSize := q.PageSize
	if pageSize == 0 {
		pageSize = s.defaultPageSize
	}
	if pageSize < 1 || pageSize > s.maxPageSize {
		return nil, 0, 0, apperrors.NewInvalidParameterError("pageSize",
			fmt.Sprintf("must be between 1 and %d", s.maxPageSize))
	}

	filters := &storage.TransactionFilters{
		AccountIDs: accountIDs,
		Symbol:     strings.TrimSpace(q.Symbol),
		DateFrom:   q.DateFrom,
		DateTo:     q.DateTo,
		Limit:      pageSize,
		Offset:     (page - 1) * pageSize,
	}

	if q.Type != "" {
		t, ok := types.ParseTransactionType(q.Type)
		if !ok {
			return nil, 0, 0, apperrors.NewInvalidParameterError("type",
				"must be one of buy, sell, dividend, deposit, withdrawal")
		}
		filters.Type = &t
	}

	if q.DateFrom != nil && q.DateTo != nil && q.DateFrom.After(*q.DateTo) {
		return nil, 0, 0, apperrors.NewInvalidParameterError("dateFrom", "must not be after dateTo")
	}

	return filters, page, pageSize, nil
}
