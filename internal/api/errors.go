package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	apperrors "github.com/portfolio-aggregator/internal/errors"
	"github.com/portfolio-aggregator/internal/logging"
)

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody is the error payload of an ErrorResponse
type ErrorBody struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// respondError sends the categorized form of err. Internal errors are logged
// and their message is replaced.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	catErr := apperrors.Categorize(err)

	body := ErrorBody{
		Code:    catErr.Code,
		Message: catErr.Message,
		Details: catErr.Details,
	}

	if catErr.StatusCode >= http.StatusInternalServerError {
		logging.FromContext(r.Context()).WithFields(map[string]interface{}{
			"code":   catErr.Code,
			"method": r.Method,
			"path":   r.URL.Path,
		}).WithError(err).Error("Request failed")
		if catErr.Category == apperrors.CategorySystem {
			body.Message = "An internal error occurred"
			body.Details = nil
		}
	}

	if catErr.Category == apperrors.CategoryRateLimit {
		if retryAfter, ok := catErr.Details["retryAfter"].(int); ok {
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		}
	}

	respondJSON(w, catErr.StatusCode, ErrorResponse{Error: body})
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// parseJSONBody parses JSON request body.
func parseJSONBody(r *http.Request, v interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil {
		return apperrors.NewInvalidParameterError("body", err.Error())
	}
	return nil
}
