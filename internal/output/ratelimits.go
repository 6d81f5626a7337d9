package output

import (
	"sort"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/socialrelay/socialrelay/internal/core"
	"github.com/socialrelay/socialrelay/internal/core/engine"
)

// Presets renders the configured rate limit presets.
func Presets(format Format, presets []engine.RateLimitPreset) (string, error) {
	rows := make([]table.Row, 0, len(presets))
	for _, p := range presets {
		rows = append(rows, table.Row{p.Name, p.MaxRequests, p.Window.String()})
	}
	return grid{
		header: table.Row{"Preset", "Max Requests", "Window"},
		rows:   rows,
		raw:    presets,
	}.render(format)
}

// RateLimits renders tracked budgets keyed by limiter key.
func RateLimits(format Format, status map[string]core.RateLimit, now time.Time) (string, error) {
	keys := make([]string, 0, len(status))
	for k := range status {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	rows := make([]table.Row, 0, len(keys))
	for _, k := range keys {
		limit := status[k]
		reset := limit.ResetTime.Sub(now).Round(time.Second)
		if reset < 0 {
			reset = 0
		}
		rows = append(rows, table.Row{k, limit.Remaining, limit.Limit, reset.String()})
	}
	return grid{
		header: table.Row{"Key", "Remaining", "Limit", "Resets In"},
		rows:   rows,
		raw:    status,
	}.render(format)
}
