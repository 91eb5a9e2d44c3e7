package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategoryConfiguration represents a provider or account that cannot be aggregated
	CategoryConfiguration ErrorCategory = "configuration"
	// CategoryUpstream represents failures of providers, the price oracle or the store
	CategoryUpstream ErrorCategory = "upstream"
	// CategoryNotFound represents missing or foreign resources
	CategoryNotFound ErrorCategory = "not_found"
	// CategoryValidation represents invalid caller input
	CategoryValidation ErrorCategory = "validation"
	// CategoryAuthorization represents missing caller identity
	CategoryAuthorization ErrorCategory = "authorization"
	// CategoryRateLimit represents callers exceeding their request budget
	CategoryRateLimit ErrorCategory = "rate_limit"
	// CategorySystem represents unexpected internal errors (5xx)
	CategorySystem ErrorCategory = "system"
)

// CategorizedError represents an error with category and HTTP status code
type CategorizedError struct {
	Category   ErrorCategory
	StatusCode int
	Code       string
	Message    string
	Details    map[string]interface{}
	Cause      error
}

// Error implements the error interface
func (e *CategorizedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *CategorizedError) Unwrap() error {
	return e.Cause
}

// Configuration Errors

// NewUnsupportedProviderError creates an error for a provider with no aggregator variant
func NewUnsupportedProviderError(provider string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryConfiguration,
		StatusCode: http.StatusBadRequest,
		Code:       "UNSUPPORTED_PROVIDER",
		Message:    fmt.Sprintf("unsupported provider: %s", provider),
		Details: map[string]interface{}{
			"provider": provider,
		},
	}
}

// NewNotAggregatedError creates an error for accounts that are not backed by a provider
func NewNotAggregatedError(accountID string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryConfiguration,
		StatusCode: http.StatusUnprocessableEntity,
		Code:       "NOT_AGGREGATED",
		Message:    fmt.Sprintf("account %s is not linked to an aggregation provider", accountID),
		Details: map[string]interface{}{
			"accountId": accountID,
		},
	}
}

// User Input Errors (4xx)

// NewInvalidParameterError creates an invalid parameter error
func NewInvalidParameterError(param string, reason string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       "INVALID_PARAMETER",
		Message:    fmt.Sprintf("invalid parameter '%s': %s", param, reason),
		Details: map[string]interface{}{
			"parameter": param,
			"reason":    reason,
		},
	}
}

// NewUnauthorizedError creates an unauthorized error
func NewUnauthorizedError(message string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryAuthorization,
		StatusCode: http.StatusUnauthorized,
		Code:       "UNAUTHORIZED",
		Message:    message,
	}
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string, id string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryNotFound,
		StatusCode: http.StatusNotFound,
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found: %s", resource, id),
		Details: map[string]interface{}{
			"resource": resource,
			"id":       id,
		},
	}
}

// NewRateLimitError creates a rate limit error
func NewRateLimitError(retryAfter int) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryRateLimit,
		StatusCode: http.StatusTooManyRequests,
		Code:       "RATE_LIMIT_EXCEEDED",
		Message:    "rate limit exceeded",
		Details: map[string]interface{}{
			"retryAfter": retryAfter,
		},
	}
}

// Upstream Errors

// NewProviderError creates an aggregation provider error
func NewProviderError(provider string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryUpstream,
		StatusCode: http.StatusBadGateway,
		Code:       "PROVIDER_ERROR",
		Message:    fmt.Sprintf("aggregation provider error: %s", provider),
		Cause:      cause,
		Details: map[string]interface{}{
			"provider": provider,
		},
	}
}

// NewPriceOracleError creates a price oracle error
func NewPriceOracleError(symbol string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryUpstream,
		StatusCode: http.StatusBadGateway,
		Code:       "PRICE_ORACLE_ERROR",
		Message:    fmt.Sprintf("price oracle error for %s", symbol),
		Cause:      cause,
		Details: map[string]interface{}{
			"symbol": symbol,
		},
	}
}

// NewDatabaseError creates a database error
func NewDatabaseError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryUpstream,
		StatusCode: http.StatusServiceUnavailable,
		Code:       "DATABASE_ERROR",
		Message:    fmt.Sprintf("database error during %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// System Errors (5xx)

// NewInternalError creates an internal server error
func NewInternalError(message string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusInternalServerError,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		Cause:      cause,
	}
}

// Categorize categorizes an existing error. Wrapped categorized errors are found
// through the chain; anything else becomes an internal error.
func Categorize(err error) *CategorizedError {
	if err == nil {
		return nil
	}

	var catErr *CategorizedError
	if stderrors.As(err, &catErr) {
		return catErr
	}

	return NewInternalError("unexpected error", err)
}

// Is reports whether err carries the given category
func Is(err error, category ErrorCategory) bool {
	var catErr *CategorizedError
	if !stderrors.As(err, &catErr) {
		return false
	}
	return catErr.Category == category
}

// HasCode reports whether err carries the given code
func HasCode(err error, code string) bool {
	var catErr *CategorizedError
	if !stderrors.As(err, &catErr) {
		return false
	}
	return catErr.Code == code
}

// GetHTTPStatusCode returns the HTTP status code for an error
func GetHTTPStatusCode(err error) int {
	if catErr := Categorize(err); catErr != nil {
		return catErr.StatusCode
	}
	return http.StatusInternalServerError
}

// IsRetryable determines if an error is retryable
func IsRetryable(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}
	return catErr.Category == CategoryUpstream
}

// IsUserError determines if an error is a user error (4xx)
func IsUserError(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}

	return catErr.StatusCode >= 400 && catErr.StatusCode < 500
}

// IsSystemError determines if an error is a system error (5xx)
func IsSystemError(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}

	return catErr.StatusCode >= 500
}
