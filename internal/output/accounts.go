package output

import (
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/socialrelay/socialrelay/internal/core"
)

const timeLayout = "2006-01-02 15:04 MST"

// Accounts renders connected accounts. Tokens are never shown.
func Accounts(format Format, accounts []core.SocialAccount, now time.Time) (string, error) {
	if accounts == nil {
		accounts = []core.SocialAccount{}
	}
	rows := make([]table.Row, 0, len(accounts))
	active := 0
	for i := range accounts {
		a := &accounts[i]
		if a.IsActive {
			active++
		}
		rows = append(rows, table.Row{
			a.ID,
			a.UserID,
			string(a.Platform),
			accountName(a),
			accountStatus(a),
			expiryLabel(a.TokenExpiresAt, now),
		})
	}
	return grid{
		header: table.Row{"ID", "User", "Platform", "Account", "Status", "Token Expires"},
		rows:   rows,
		footer: table.Row{"", "", "", "", fmt.Sprintf("%d/%d active", active, len(accounts)), ""},
		raw:    accounts,
	}.render(format)
}

// Account renders one account as a field/value table.
func Account(format Format, a *core.SocialAccount, now time.Time) (string, error) {
	if a == nil {
		return "", nil
	}
	rows := []table.Row{
		{"ID", a.ID},
		{"User", a.UserID},
		{"Platform", string(a.Platform)},
		{"Platform user", a.PlatformUserID},
		{"Account", accountName(a)},
		{"Status", accountStatus(a)},
		{"Token expires", expiryLabel(a.TokenExpiresAt, now)},
		{"Scopes", strings.Join(a.Scopes, " ")},
		{"Last sync", timeLabel(a.LastSyncAt)},
		{"Created", a.CreatedAt.Format(timeLayout)},
	}
	if a.TeamID != "" {
		rows = append(rows, table.Row{"Team", a.TeamID})
	}
	if a.DeactivationReason != "" {
		rows = append(rows, table.Row{"Deactivated", a.DeactivationReason})
	}
	return grid{header: table.Row{"Field", "Value"}, rows: rows, raw: a}.render(format)
}

func accountName(a *core.SocialAccount) string {
	switch {
	case a.Username != "" && a.DisplayName != "":
		return fmt.Sprintf("@%s (%s)", a.Username, a.DisplayName)
	case a.Username != "":
		return "@" + a.Username
	case a.DisplayName != "":
		return a.DisplayName
	default:
		return a.PlatformUserID
	}
}

func accountStatus(a *core.SocialAccount) string {
	if a.IsActive {
		return "active"
	}
	return "inactive"
}

// expiryLabel shows the expiry with its distance from now.
func expiryLabel(t *time.Time, now time.Time) string {
	if t == nil {
		return "never"
	}
	remaining := t.Sub(now).Round(time.Minute)
	if remaining <= 0 {
		return fmt.Sprintf("%s (expired)", t.Format(timeLayout))
	}
	return fmt.Sprintf("%s (in %s)", t.Format(timeLayout), remaining)
}

func timeLabel(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(timeLayout)
}
