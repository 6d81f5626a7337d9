package output

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/socialrelay/socialrelay/internal/core"
	"github.com/socialrelay/socialrelay/internal/core/engine"
)

var renderNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func sampleAccounts() []core.SocialAccount {
	expires := renderNow.Add(90 * time.Minute)
	expired := renderNow.Add(-time.Hour)
	return []core.SocialAccount{
		{ID: "acct-1", UserID: "user-1", Platform: core.PlatformTwitter, PlatformUserID: "42",
			Username: "relay", DisplayName: "Relay", AccessToken: "secret-access", TokenExpiresAt: &expires, IsActive: true},
		{ID: "acct-2", UserID: "user-1", Platform: core.PlatformInstagram, PlatformUserID: "ig-9",
			TokenExpiresAt: &expired, DeactivationReason: "invalid_grant"},
	}
}

func TestParseFormat(t *testing.T) {
	format, err := ParseFormat("table")
	require.NoError(t, err)
	require.Equal(t, FormatTable, format)

	format, err = ParseFormat("JSON")
	require.NoError(t, err)
	require.Equal(t, FormatJSON, format)

	format, err = ParseFormat("md")
	require.NoError(t, err)
	require.Equal(t, FormatMarkdown, format)

	format, err = ParseFormat("")
	require.NoError(t, err)
	require.Equal(t, FormatTable, format)

	_, err = ParseFormat("csv")
	require.Error(t, err)
}

func TestAccountsTable(t *testing.T) {
	rendered, err := Accounts(FormatTable, sampleAccounts(), renderNow)
	require.NoError(t, err)
	require.Contains(t, rendered, "@relay (Relay)")
	require.Contains(t, rendered, "ig-9")
	require.Contains(t, rendered, "(in 1h30m0s)")
	require.Contains(t, rendered, "(expired)")
	require.Contains(t, rendered, "1/2 ACTIVE")
	require.NotContains(t, rendered, "secret-access")
}

func TestAccountsJSONOmitsTokens(t *testing.T) {
	rendered, err := Accounts(FormatJSON, sampleAccounts(), renderNow)
	require.NoError(t, err)
	require.NotContains(t, rendered, "secret-access")

	var decoded []map[string]any
	require.NoError(t, json.Unmarshal([]byte(rendered), &decoded))
	require.Len(t, decoded, 2)
	require.Equal(t, "acct-1", decoded[0]["id"])

	rendered, err = Accounts(FormatJSON, nil, renderNow)
	require.NoError(t, err)
	require.Equal(t, "[]", rendered)
}

func TestAccountDetailMarkdown(t *testing.T) {
	account := sampleAccounts()[1]
	rendered, err := Account(FormatMarkdown, &account, renderNow)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(rendered, "|"))
	require.Contains(t, rendered, "invalid_grant")
	require.Contains(t, rendered, "inactive")
}

func TestNotifications(t *testing.T) {
	list := []core.Notification{
		{ID: "n1", Type: core.NotificationTokenRefreshFailed, Title: "Social Account Connection Issue", CreatedAt: renderNow},
		{ID: "n2", Type: "info", Title: "Hello", IsRead: true, CreatedAt: renderNow},
	}
	rendered, err := Notifications(FormatTable, list)
	require.NoError(t, err)
	require.Contains(t, rendered, "Social Account Connection Issue")
	require.Contains(t, rendered, "1 UNREAD")
}

func TestPresetsAndRateLimits(t *testing.T) {
	rendered, err := Presets(FormatTable, engine.DefaultPresets)
	require.NoError(t, err)
	require.Contains(t, rendered, "facebook-page")
	require.Contains(t, rendered, "15m0s")

	rendered, err = RateLimits(FormatTable, map[string]core.RateLimit{
		"twitter:acct-1": {Limit: 300, Remaining: 12, ResetTime: renderNow.Add(5 * time.Minute)},
	}, renderNow)
	require.NoError(t, err)
	require.Contains(t, rendered, "twitter:acct-1")
	require.Contains(t, rendered, "5m0s")
}

func TestRefreshRenderers(t *testing.T) {
	rendered, err := RefreshStats(FormatTable, core.RefreshStats{
		TotalAccounts: 3, SuccessfulRefreshes: 1, FailedRefreshes: 1, SkippedRefreshes: 1,
		Errors: []string{"acct-2: invalid_grant"},
	})
	require.NoError(t, err)
	require.Contains(t, rendered, "acct-2: invalid_grant")

	rendered, err = RefreshSummary(FormatJSON, core.UserRefreshSummary{Success: 2, Errors: []string{}})
	require.NoError(t, err)
	require.Contains(t, rendered, `"success": 2`)

	rendered, err = RefreshResult(FormatTable, "acct-1", core.TokenRefreshResult{Error: "boom"})
	require.NoError(t, err)
	require.Contains(t, rendered, "failed")
	require.Contains(t, rendered, "boom")
}

func TestRefreshResultMarkdown(t *testing.T) {
	rendered, err := RefreshResult(FormatMarkdown, "acct-1", core.TokenRefreshResult{Success: true})
	require.NoError(t, err)
	require.Contains(t, rendered, "| Status | refreshed |")
}
