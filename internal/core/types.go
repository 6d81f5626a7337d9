package core

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Platform identifies a connected social network.
type Platform string

const (
	PlatformInstagram Platform = "instagram"
	PlatformTwitter   Platform = "twitter"
	PlatformFacebook  Platform = "facebook"
)

// Platforms lists the supported platforms in display order.
var Platforms = []Platform{PlatformInstagram, PlatformTwitter, PlatformFacebook}

// Valid reports whether p is a supported platform.
func (p Platform) Valid() bool {
	switch p {
	case PlatformInstagram, PlatformTwitter, PlatformFacebook:
		return true
	default:
		return false
	}
}

// ParsePlatform validates and normalizes a platform name.
func ParsePlatform(value string) (Platform, error) {
	p := Platform(strings.ToLower(strings.TrimSpace(value)))
	if !p.Valid() {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedPlatform, value)
	}
	return p, nil
}

// RefreshBuffer is how far ahead of expiry a token is considered stale.
const RefreshBuffer = 5 * time.Minute

// SocialAccount is a connected platform identity holding OAuth credentials.
type SocialAccount struct {
	ID                 string     `json:"id"`
	UserID             string     `json:"user_id"`
	TeamID             string     `json:"team_id,omitempty"`
	Platform           Platform   `json:"platform"`
	PlatformUserID     string     `json:"platform_user_id"`
	Username           string     `json:"username,omitempty"`
	DisplayName        string     `json:"display_name,omitempty"`
	AccessToken        string     `json:"-"`
	RefreshToken       string     `json:"-"`
	TokenExpiresAt     *time.Time `json:"token_expires_at,omitempty"`
	Scopes             []string   `json:"scopes,omitempty"`
	IsActive           bool       `json:"is_active"`
	DeactivationReason string     `json:"deactivation_reason,omitempty"`
	LastSyncAt         *time.Time `json:"last_sync_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// ExpiresWithin reports whether the access token expires before now+buffer.
// Accounts without an expiry never expire.
func (a *SocialAccount) ExpiresWithin(now time.Time, buffer time.Duration) bool {
	if a == nil || a.TokenExpiresAt == nil {
		return false
	}
	return !now.Add(buffer).Before(*a.TokenExpiresAt)
}

// RefreshKey identifies the account in the in-flight refresh table.
func (a *SocialAccount) RefreshKey() string {
	return string(a.Platform) + "-" + a.ID
}

// TokenUpdate carries refreshed credentials to the token store.
// An empty RefreshToken keeps the stored one.
type TokenUpdate struct {
	AccessToken    string
	RefreshToken   string
	TokenExpiresAt *time.Time
}

// TokenRefreshResult is the outcome of one platform refresh. Permanent is set
// when the platform rejected the grant outright.
type TokenRefreshResult struct {
	Success         bool       `json:"success"`
	NewToken        string     `json:"-"`
	NewRefreshToken string     `json:"-"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	Error           string     `json:"error,omitempty"`
	Permanent       bool       `json:"permanent,omitempty"`
}

// RefreshStats summarizes one scheduler cycle.
type RefreshStats struct {
	TotalAccounts       int           `json:"total_accounts"`
	SuccessfulRefreshes int           `json:"successful_refreshes"`
	FailedRefreshes     int           `json:"failed_refreshes"`
	SkippedRefreshes    int           `json:"skipped_refreshes"`
	Errors              []string      `json:"errors"`
	StartedAt           time.Time     `json:"started_at"`
	Duration            time.Duration `json:"duration"`
}

// UserRefreshSummary is the result of refreshing every stale token of a user.
type UserRefreshSummary struct {
	Success int      `json:"success"`
	Failed  int      `json:"failed"`
	Errors  []string `json:"errors"`
}

// NotificationTokenRefreshFailed is emitted when an account could not be refreshed.
const NotificationTokenRefreshFailed = "token_refresh_failed"

// NotificationInput describes a user-facing notification to create.
type NotificationInput struct {
	Type      string         `json:"type" validate:"required"`
	Title     string         `json:"title" validate:"required"`
	Message   string         `json:"message" validate:"required"`
	ActionURL string         `json:"action_url,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Notification is a stored user-facing notification.
type Notification struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id"`
	Type      string         `json:"type"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	ActionURL string         `json:"action_url,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	IsRead    bool           `json:"is_read"`
	CreatedAt time.Time      `json:"created_at"`
	ReadAt    *time.Time     `json:"read_at,omitempty"`
}

// Logger is the logging surface used by core services.
// It is satisfied by gofulmen loggers and *zap.Logger.
type Logger interface {
	Debug(msg string, fields ...zap.Field)
	Info(msg string, fields ...zap.Field)
	Warn(msg string, fields ...zap.Field)
	Error(msg string, fields ...zap.Field)
}

// NopLogger returns a logger that discards everything.
func NopLogger() Logger {
	return zap.NewNop()
}
