// Package sheets provides an HTTP client for the Google Sheets API v4 with
// optional retry, error classification, and the handful of value and
// formatting operations the sync engine needs.
package sheets

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Sentinel errors for HTTP status code classification.
// Use errors.Is(err, sheets.ErrNotFound) to check.
var (
	ErrBadRequest   = errors.New("sheets: bad request")
	ErrUnauthorized = errors.New("sheets: unauthorized")
	ErrForbidden    = errors.New("sheets: forbidden")
	ErrNotFound     = errors.New("sheets: not found")
	ErrThrottled    = errors.New("sheets: throttled")
	ErrServerError  = errors.New("sheets: server error")
	ErrNotLoggedIn  = errors.New("sheets: not logged in")
	ErrSheetMissing = errors.New("sheets: sheet not found in spreadsheet")
)

// APIError wraps a sentinel error with the HTTP status code, the Google
// status string and the API error message.
type APIError struct {
	StatusCode int
	Status     string // e.g. "INVALID_ARGUMENT"
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *APIError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("sheets: HTTP %d %s: %s", e.StatusCode, e.Status, e.Message)
	}

	return fmt.Sprintf("sheets: HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// IsTypedColumnError reports whether err is the API's refusal to apply a
// data validation rule to a range that already carries typed per-cell
// validation (smart chips, typed dropdown columns, table column types).
func IsTypedColumnError(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadRequest {
		return false
	}

	msg := strings.ToLower(apiErr.Message)

	return strings.Contains(msg, "typed") || strings.Contains(msg, "column type")
}

// classifyStatus maps an HTTP status code to a sentinel error.
// Returns nil for codes with no sentinel.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusTooManyRequests:
		return ErrThrottled
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return nil
	}
}

// isRetryable reports whether the given HTTP status code should be retried.
func isRetryable(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
