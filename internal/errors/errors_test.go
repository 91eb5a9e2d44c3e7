package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCategorize_FindsWrappedError(t *testing.T) {
	base := NewNotFoundError("account", "acc-1")
	wrapped := fmt.Errorf("failed to load: %w", base)

	cat := Categorize(wrapped)
	require.NotNil(t, cat)
	assert.Same(t, base, cat)
	assert.Equal(t, http.StatusNotFound, GetHTTPStatusCode(wrapped))
}

func TestCategorize_PlainErrorIsInternal(t *testing.T) {
	cat := Categorize(stderrors.New("boom"))
	require.NotNil(t, cat)
	assert.Equal(t, CategorySystem, cat.Category)
	assert.Equal(t, "INTERNAL_ERROR", cat.Code)
	assert.Nil(t, Categorize(nil))
}

func TestTaxonomy(t *testing.T) {
	tests := []struct {
		name      string
		err       *CategorizedError
		category  ErrorCategory
		code      string
		status    int
		retryable bool
	}{
		{"unsupported provider", NewUnsupportedProviderError("fidelity"), CategoryConfiguration, "UNSUPPORTED_PROVIDER", 400, false},
		{"not aggregated", NewNotAggregatedError("acc"), CategoryConfiguration, "NOT_AGGREGATED", 422, false},
		{"provider", NewProviderError("plaid", stderrors.New("x")), CategoryUpstream, "PROVIDER_ERROR", 502, true},
		{"oracle", NewPriceOracleError("AAPL", nil), CategoryUpstream, "PRICE_ORACLE_ERROR", 502, true},
		{"database", NewDatabaseError("replace holdings", nil), CategoryUpstream, "DATABASE_ERROR", 503, true},
		{"not found", NewNotFoundError("account", "a"), CategoryNotFound, "NOT_FOUND", 404, false},
		{"validation", NewInvalidParameterError("page", "must be >= 1"), CategoryValidation, "INVALID_PARAMETER", 400, false},
		{"internal", NewInternalError("x", nil), CategorySystem, "INTERNAL_ERROR", 500, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.category, tt.err.Category)
			assert.Equal(t, tt.code, tt.err.Code)
			assert.Equal(t, tt.status, tt.err.StatusCode)
			assert.Equal(t, tt.retryable, IsRetryable(tt.err))
			assert.True(t, Is(tt.err, tt.category))
			assert.True(t, HasCode(fmt.Errorf("ctx: %w", tt.err), tt.code))
		})
	}
}

func TestUserAndSystemErrors(t *testing.T) {
	assert.True(t, IsUserError(NewInvalidParameterError("type", "unknown")))
	assert.False(t, IsSystemError(NewInvalidParameterError("type", "unknown")))
	assert.True(t, IsSystemError(NewDatabaseError("insert", nil)))
	assert.False(t, IsUserError(NewDatabaseError("insert", nil)))
}

func TestErrorMessageIncludesCause(t *testing.T) {
	err := NewProviderError("schwab", stderrors.New("timeout"))
	assert.Contains(t, err.Error(), "PROVIDER_ERROR")
	assert.Contains(t, err.Error(), "timeout")
	assert.True(t, stderrors.Is(err, err.Cause))
}
