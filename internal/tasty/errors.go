package tasty

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// APIError is a classified upstream failure. Code carries the upstream
// error identifier when one was returned (e.g. "invalid_grant").
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tastytrade: %s (%d): %s", e.Code, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("tastytrade: status %d: %s", e.StatusCode, e.Message)
}

// IsPermanentAuth reports whether err is a terminal credential rejection:
// the upstream explicitly refused the grant, so retrying with the same
// refresh token can never succeed.
func IsPermanentAuth(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch strings.ToLower(apiErr.Code) {
	case "invalid_grant", "invalid_client", "unauthorized_client":
		return true
	}
	if strings.Contains(strings.ToLower(apiErr.Message), "grant revoked") {
		return true
	}
	// A 4xx from the token endpoint without a recognised code still means
	// the credentials were never valid.
	return apiErr.StatusCode == 400 || apiErr.StatusCode == 401
}

// IsTransient reports whether err should be treated as retryable on the
// next natural access: network failures, timeouts and upstream 5xx.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500 || apiErr.StatusCode == 429
	}
	// Anything unclassified (decode failures, connection resets wrapped by
	// the http client) is retried rather than treated as terminal.
	return true
}
