package cmd

import (
	"github.com/spf13/cobra"

	"github.com/socialrelay/socialrelay/internal/output"
)

var rateLimitCmd = &cobra.Command{
	Use:   "rate-limit",
	Short: "Inspect outbound rate limit presets",
	Long: `Inspect outbound rate limit presets.

Request budgets are tracked in memory by the running server; use
GET /api/v1/rate-limits for live counters.`,
}

var rateLimitPresetsCmd = &cobra.Command{
	Use:   "presets",
	Short: "List effective presets after overrides and the safety margin",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd.Context())
		if err != nil {
			return err
		}
		presets := newLimiters(cfg.RateLimits, cfg.RateLimitMargin).Presets()
		return emit(cmd, func(format output.Format) (string, error) {
			return output.Presets(format, presets)
		})
	},
}

func init() {
	addOutputFlags(rateLimitPresetsCmd)

	rateLimitCmd.AddCommand(rateLimitPresetsCmd)
	rootCmd.AddCommand(rateLimitCmd)
}
