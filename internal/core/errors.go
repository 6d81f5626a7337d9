package core

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

var (
	// ErrAccountNotFound is returned when the token store has no such account.
	ErrAccountNotFound = errors.New("account not found")

	// ErrNotificationNotFound is returned when a notification does not exist.
	ErrNotificationNotFound = errors.New("notification not found")

	// ErrNoValidToken means the account has no usable access token and must be reconnected.
	ErrNoValidToken = errors.New("no valid access token available")

	// ErrNoRefreshToken is a refresh failure for platforms that rotate refresh tokens.
	ErrNoRefreshToken = errors.New("no refresh token available")

	// ErrUnsupportedPlatform is returned for unknown platform names.
	ErrUnsupportedPlatform = errors.New("unsupported platform")

	// ErrRefreshCycleInProgress is returned when a refresh cycle is requested
	// while another one is still running.
	ErrRefreshCycleInProgress = errors.New("token refresh cycle already in progress")
)

// permanentRefreshCodes are platform error codes that no retry can fix.
// 190 is the Graph API's invalid or expired access token.
var permanentRefreshCodes = []string{
	"invalid_grant",
	"unauthorized_client",
	"access_denied",
	"user_revoked_access",
	"app_not_authorized",
	"invalid_client",
	"190",
}

// RateLimitError is a local admission denial. No request was sent.
type RateLimitError struct {
	Key   string
	Limit RateLimit
	Wait  time.Duration
}

func (e *RateLimitError) Error() string {
	seconds := int(math.Ceil(e.Wait.Seconds()))
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("rate limit exceeded for %s, try again in %d seconds", e.Key, seconds)
}

// APIError is a non-2xx response from a platform.
type APIError struct {
	Platform   Platform
	Method     string
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("%s api request failed: %d %s", e.platformName(), e.StatusCode, http.StatusText(e.StatusCode))
	if detail := e.Detail(); detail != "" {
		msg += ": " + detail
	}
	return msg
}

// Field looks up a gjson path in the response body.
func (e *APIError) Field(path string) gjson.Result {
	if e == nil || len(e.Body) == 0 || !gjson.ValidBytes(e.Body) {
		return gjson.Result{}
	}
	return gjson.GetBytes(e.Body, path)
}

// Code returns the platform's error code: the OAuth "error" string or the
// Graph API's numeric "error.code".
func (e *APIError) Code() string {
	if f := e.Field("error"); f.Type == gjson.String {
		return f.String()
	}
	if f := e.Field("error.code"); f.Exists() {
		return f.String()
	}
	return ""
}

// Detail extracts the most specific error description the platform returned.
// OAuth error codes are kept in the text so callers can classify them.
func (e *APIError) Detail() string {
	if e == nil {
		return ""
	}
	var parts []string
	if code := e.Field("error").String(); code != "" && e.Field("error").Type == gjson.String {
		parts = append(parts, code)
	}
	for _, path := range []string{"error_description", "error.message", "errors.0.message", "detail", "title"} {
		if value := strings.TrimSpace(e.Field(path).String()); value != "" {
			parts = append(parts, value)
			break
		}
	}
	if len(parts) == 0 && len(e.Body) > 0 && !gjson.ValidBytes(e.Body) {
		body := strings.TrimSpace(string(e.Body))
		if len(body) > 200 {
			body = body[:200]
		}
		parts = append(parts, body)
	}
	return strings.Join(parts, ": ")
}

func (e *APIError) platformName() string {
	if e.Platform == "" {
		return "platform"
	}
	return string(e.Platform)
}

// RefreshError wraps a failed platform refresh. Permanent marks failures
// that retrying cannot fix.
type RefreshError struct {
	AccountID string
	Platform  Platform
	Code      string
	Permanent bool
	Err       error
}

// NewRefreshError wraps err for account and classifies the platform's error
// code when err carries an *APIError.
func NewRefreshError(account *SocialAccount, err error) *RefreshError {
	re := &RefreshError{AccountID: account.ID, Platform: account.Platform, Err: err}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		re.Code = apiErr.Code()
		re.Permanent = slices.Contains(permanentRefreshCodes, strings.ToLower(re.Code))
	}
	return re
}

func (e *RefreshError) Error() string {
	if e.AccountID == "" {
		return fmt.Sprintf("refresh %s token: %v", e.Platform, e.Err)
	}
	return fmt.Sprintf("refresh %s account %s: %v", e.Platform, e.AccountID, e.Err)
}

func (e *RefreshError) Unwrap() error {
	return e.Err
}
