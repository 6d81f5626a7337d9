package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/socialrelay/socialrelay/internal/output"
)

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Refresh OAuth tokens",
}

var refreshRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one scheduler cycle over every token nearing expiry",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withServices(cmd, func(ctx context.Context, svc *services) error {
			stats, err := svc.scheduler.RunCycle(ctx)
			if err != nil {
				return err
			}
			return emit(cmd, func(format output.Format) (string, error) {
				return output.RefreshStats(format, stats)
			})
		})
	},
}

var refreshUserCmd = &cobra.Command{
	Use:   "user <user-id>",
	Short: "Refresh every stale token of a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withServices(cmd, func(ctx context.Context, svc *services) error {
			summary, err := svc.tokens.RefreshAllUserTokens(ctx, args[0])
			if err != nil {
				return err
			}
			return emit(cmd, func(format output.Format) (string, error) {
				return output.RefreshSummary(format, summary)
			})
		})
	},
}

var refreshAccountCmd = &cobra.Command{
	Use:   "account <account-id>",
	Short: "Refresh one account's token now, whether or not it is stale",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withServices(cmd, func(ctx context.Context, svc *services) error {
			account, err := svc.store.GetAccount(ctx, args[0])
			if err != nil {
				return err
			}
			result := svc.tokens.RefreshToken(ctx, account)
			if err := emit(cmd, func(format output.Format) (string, error) {
				return output.RefreshResult(format, account.ID, result)
			}); err != nil {
				return err
			}
			if !result.Success {
				return fmt.Errorf("refresh %s: %s", account.ID, result.Error)
			}
			return nil
		})
	},
}

func init() {
	addOutputFlags(refreshRunCmd)
	addOutputFlags(refreshUserCmd)
	addOutputFlags(refreshAccountCmd)

	refreshCmd.AddCommand(refreshRunCmd, refreshUserCmd, refreshAccountCmd)
	rootCmd.AddCommand(refreshCmd)
}
