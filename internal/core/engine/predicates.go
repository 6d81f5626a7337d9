package engine

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"syscall"

	"github.com/socialrelay/socialrelay/internal/core"
)

// IsRetryable is the default retry predicate.
//
// Local denials and missing tokens never recover by waiting a few seconds, so
// they fail fast. Network faults, 5xx and 429 are retried; other 4xx are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var rateErr *core.RateLimitError
	if errors.As(err, &rateErr) {
		return false
	}
	if errors.Is(err, core.ErrNoValidToken) || errors.Is(err, context.Canceled) {
		return false
	}
	if isNetworkError(err) {
		return true
	}

	var apiErr *core.APIError
	if errors.As(err, &apiErr) {
		return retryableStatus(apiErr.StatusCode)
	}

	// Unclassified failures, including upstream "rate limit exceeded" text,
	// are treated as transient.
	return true
}

// InstagramRetryable skips the duplicate-content and spam-block errors.
func InstagramRetryable(err error) bool {
	var apiErr *core.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusBadRequest {
		if apiErr.Field("error.code").Int() == 24 {
			return false
		}
		if strings.Contains(strings.ToLower(apiErr.Field("error.message").String()), "duplicate") {
			return false
		}
	}
	return IsRetryable(err)
}

// TwitterRetryable skips duplicate-status (187) and auth failures.
func TwitterRetryable(err error) bool {
	var apiErr *core.APIError
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusForbidden && apiErr.Field("errors.0.code").Int() == 187 {
			return false
		}
		if apiErr.StatusCode == http.StatusUnauthorized {
			return false
		}
	}
	return IsRetryable(err)
}

// FacebookRetryable skips invalid-parameter (100) and expired-token (190) errors.
func FacebookRetryable(err error) bool {
	var apiErr *core.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusBadRequest {
		switch apiErr.Field("error.code").Int() {
		case 100, 190:
			return false
		}
	}
	return IsRetryable(err)
}

func retryableStatus(status int) bool {
	if status >= 500 || status == http.StatusTooManyRequests {
		return true
	}
	return status < 400
}

func isNetworkError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ETIMEDOUT) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
