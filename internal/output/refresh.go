package output

import (
	"fmt"
	"strings"

	"github.com/fulmenhq/gofulmen/ascii"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/socialrelay/socialrelay/internal/core"
)

// RefreshStats renders the outcome of one refresh cycle.
func RefreshStats(format Format, stats core.RefreshStats) (string, error) {
	rows := []table.Row{
		{"Accounts", stats.TotalAccounts},
		{"Refreshed", stats.SuccessfulRefreshes},
		{"Failed", stats.FailedRefreshes},
		{"Skipped", stats.SkippedRefreshes},
		{"Duration", stats.Duration.String()},
	}
	if len(stats.Errors) > 0 {
		rows = append(rows, table.Row{"Errors", strings.Join(stats.Errors, "\n")})
	}
	return grid{title: "Token refresh cycle", header: table.Row{"", ""}, rows: rows, raw: stats}.render(format)
}

// RefreshSummary renders the outcome of refreshing one user's accounts.
func RefreshSummary(format Format, summary core.UserRefreshSummary) (string, error) {
	rows := []table.Row{
		{"Refreshed", summary.Success},
		{"Failed", summary.Failed},
	}
	if len(summary.Errors) > 0 {
		rows = append(rows, table.Row{"Errors", strings.Join(summary.Errors, "\n")})
	}
	return grid{header: table.Row{"", ""}, rows: rows, raw: summary}.render(format)
}

// RefreshResult renders a single account refresh. The table form is a box.
func RefreshResult(format Format, accountID string, result core.TokenRefreshResult) (string, error) {
	status := "refreshed"
	if !result.Success {
		status = "failed"
	}
	rows := []table.Row{{"Account", accountID}, {"Status", status}}
	if result.ExpiresAt != nil {
		rows = append(rows, table.Row{"Expires", result.ExpiresAt.Format(timeLayout)})
	}
	if result.Error != "" {
		rows = append(rows, table.Row{"Error", result.Error})
	}
	if format != FormatTable {
		return grid{header: table.Row{"", ""}, rows: rows, raw: result}.render(format)
	}

	lines := []string{"Token refresh", ""}
	for _, row := range rows {
		lines = append(lines, fmt.Sprintf("%-8s %v", strings.ToLower(fmt.Sprint(row[0]))+":", row[1]))
	}
	return strings.TrimRight(ascii.DrawBox(strings.Join(lines, "\n"), 0), "\n"), nil
}
