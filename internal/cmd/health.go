package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/socialrelay/socialrelay/internal/config"
	apperrors "github.com/socialrelay/socialrelay/internal/errors"
	"github.com/socialrelay/socialrelay/internal/observability"
)

type selfCheck struct {
	name string
	run  func(ctx context.Context, cfg *config.Config) error
}

var selfChecks = []selfCheck{
	{"version information", func(context.Context, *config.Config) error {
		if versionInfo.Version == "" {
			return apperrors.NewConfigInvalidError("version information missing")
		}
		return nil
	}},
	{"token store", func(ctx context.Context, cfg *config.Config) error {
		db, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()
		return db.Ping(ctx)
	}},
	{"rate limit presets", func(_ context.Context, cfg *config.Config) error {
		if len(newLimiters(cfg.RateLimits, cfg.RateLimitMargin).Names()) == 0 {
			return apperrors.NewConfigInvalidError("no rate limit presets")
		}
		return nil
	}},
	{"retry policies", func(_ context.Context, cfg *config.Config) error {
		_, err := retryConfigs(cfg.Retry)
		return err
	}},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Run self-health check",
	Long:  "Verify configuration, the token store and the outbound policies without starting the server.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()
		logger := observability.Logger()
		out := cmd.OutOrStdout()

		cfg, err := loadConfig(ctx)
		if err != nil {
			fmt.Fprintln(out, "❌ configuration")
			return apperrors.Wrap(ctx, apperrors.CodeConfigInvalid, err, "configuration invalid")
		}
		fmt.Fprintln(out, "✅ configuration")
		if cfg.Security.TokenEncryptionKey == "" && cfg.Security.AllowPlaintextTokens {
			fmt.Fprintln(out, "⚠️  token encryption disabled")
		}

		failed := 0
		for _, check := range selfChecks {
			if err := check.run(ctx, cfg); err != nil {
				failed++
				logger.Debug("Self check failed", zap.String("check", check.name), zap.Error(err))
				fmt.Fprintf(out, "❌ %s: %v\n", check.name, err)
				continue
			}
			fmt.Fprintf(out, "✅ %s\n", check.name)
		}

		if failed > 0 {
			return apperrors.NewServiceUnavailableError(fmt.Sprintf("%d health check(s) failed", failed))
		}
		fmt.Fprintln(out, "All health checks passed")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
