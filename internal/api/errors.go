package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	apperrors "github.com/pnl-tracker/internal/errors"
)

// ErrorBody is the error payload of every failed request
type ErrorBody struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// Common error codes
const (
	ErrCodeInvalidInput      = "INVALID_INPUT"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternalError     = "INTERNAL_ERROR"
)

// respondError sends an error response.
func respondError(w http.ResponseWriter, statusCode int, code, message string, details map[string]interface{}) {
	respondJSON(w, statusCode, ErrorResponse{
		Error: ErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		_ = json.NewEncoder(w).Encode(data) // nolint:errcheck // client went away
	}
}

// errorBody maps a service error onto the API error payload. Internal
// causes are not exposed.
func errorBody(err error) (int, ErrorBody) {
	catErr := apperrors.Categorize(err)

	body := ErrorBody{Code: catErr.Code, Message: catErr.Message}
	if catErr.StatusCode >= http.StatusInternalServerError && catErr.Category != apperrors.CategoryProvider {
		body.Message = "An internal error occurred"
	} else if len(catErr.Details) > 0 {
		body.Details = make(map[string]interface{}, len(catErr.Details)+1)
		for k, v := range catErr.Details {
			body.Details[k] = v
		}
	}

	if stage := apperrors.StageOf(err); stage != "" {
		if body.Details == nil {
			body.Details = map[string]interface{}{}
		}
		body.Details["stage"] = string(stage)
	}
	return catErr.StatusCode, body
}

// respondServiceError sends the categorized form of err.
func respondServiceError(w http.ResponseWriter, err error) {
	status, body := errorBody(err)
	respondJSON(w, status, ErrorResponse{Error: body})
}

// queryInt parses an optional integer query parameter.
func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperrors.NewInvalidParameterError(name, "must be an integer")
	}
	return v, nil
}

// queryBool parses an optional boolean query parameter.
func queryBool(r *http.Request, name string) (bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, apperrors.NewInvalidParameterError(name, "must be a boolean")
	}
	return v, nil
}
