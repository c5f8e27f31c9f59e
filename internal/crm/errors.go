// Package crm provides an HTTP client for the CRM's REST API with automatic
// retry, error classification, OAuth2 authentication, and the realtime
// websocket listener.
package crm

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for HTTP status classification.
// Use errors.Is(err, crm.ErrUnauthorized) to check.
var (
	ErrBadRequest   = errors.New("crm: bad request")
	ErrUnauthorized = errors.New("crm: unauthorized")
	ErrForbidden    = errors.New("crm: forbidden")
	ErrNotFound     = errors.New("crm: not found")
	ErrThrottled    = errors.New("crm: throttled")
	ErrServerError  = errors.New("crm: server error")

	// ErrNotLoggedIn means no token file exists. Run login first.
	ErrNotLoggedIn = errors.New("crm: not logged in")
)

// APIError wraps a sentinel error with the HTTP status code, the request id
// echoed by the server, and the response body for debugging.
type APIError struct {
	StatusCode int
	RequestID  string
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *APIError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("crm: HTTP %d (request-id: %s): %s", e.StatusCode, e.RequestID, e.Message)
	}

	return fmt.Sprintf("crm: HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// classifyStatus maps an HTTP status code to a sentinel error.
// Returns nil for 2xx success codes.
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
