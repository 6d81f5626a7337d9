package cmd

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/socialrelay/socialrelay/internal/appid"
	"github.com/socialrelay/socialrelay/internal/config"
	"github.com/socialrelay/socialrelay/internal/core"
	"github.com/socialrelay/socialrelay/internal/observability"
)

var envInfoCmd = &cobra.Command{
	Use:   "envinfo",
	Short: "Display environment information",
	Long:  "Display version, runtime and resolved configuration. Secrets are reported as set or not set.",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := observability.CLILogger
		version := crucible.GetVersion()
		identity := appid.Get()

		log.Info("=== " + identity.BinaryName + " environment ===")
		log.Info("")

		log.Info("Application:")
		log.Info("  Name:       " + identity.BinaryName)
		log.Info("  Version:    " + versionInfo.Version)
		log.Info("  Commit:     " + versionInfo.Commit)
		log.Info("  Built:      " + versionInfo.BuildDate)
		log.Info("  Gofulmen:   "+version.Gofulmen, zap.String("gofulmen_version", version.Gofulmen))
		log.Info("  Crucible:   "+version.Crucible, zap.String("crucible_version", version.Crucible))
		log.Info("")

		log.Info("Runtime:")
		log.Info("  Go Version: "+runtime.Version(), zap.String("go_version", runtime.Version()))
		log.Info("  GOOS/ARCH:  " + runtime.GOOS + "/" + runtime.GOARCH)
		log.Info("")

		cfg, err := loadConfig(cmd.Context())
		if err != nil {
			log.Warn("Config load failed", zap.Error(err))
			return err
		}

		log.Info("Configuration:")
		log.Info("  Config File:    " + config.DefaultConfigPath())
		log.Info(fmt.Sprintf("  Server:         %s:%d", cfg.Server.Host, cfg.Server.Port))
		log.Info("  Log Level:      " + cfg.Logging.Level)
		if strings.TrimSpace(cfg.Store.URL) != "" {
			log.Info("  Store URL:      " + cfg.Store.URL)
		} else {
			log.Info("  Store Path:     " + cfg.Store.Path)
		}
		log.Info("  Encryption:     " + setLabel(cfg.Security.TokenEncryptionKey))
		log.Info(fmt.Sprintf("  Metrics:        %t (port %d)", cfg.Metrics.Enabled, cfg.Metrics.Port))
		log.Info(fmt.Sprintf("  Scheduler:      %t every %s, lookahead %s", cfg.Scheduler.Enabled, cfg.Scheduler.Interval, cfg.Scheduler.Lookahead))
		log.Info("  Refresh Buffer: " + cfg.Tokens.RefreshBuffer.String())
		log.Info(fmt.Sprintf("  Rate Margin:    %.2f", cfg.RateLimitMargin))
		log.Info("")

		log.Info("Platforms:")
		for _, p := range core.Platforms {
			var creds, apiURL string
			switch p {
			case core.PlatformInstagram:
				creds, apiURL = cfg.Platforms.Instagram.ClientID, cfg.Platforms.Instagram.APIURL
			case core.PlatformFacebook:
				creds, apiURL = cfg.Platforms.Facebook.ClientID, cfg.Platforms.Facebook.APIURL
			case core.PlatformTwitter:
				creds, apiURL = cfg.Platforms.Twitter.ClientID, cfg.Platforms.Twitter.APIURL
			}
			log.Info(fmt.Sprintf("  %-10s client_id %s, api %s", p, setLabel(creds), apiURL))
		}
		return nil
	},
}

func setLabel(value string) string {
	if strings.TrimSpace(value) == "" {
		return "(not set)"
	}
	return "(set)"
}

func init() {
	rootCmd.AddCommand(envInfoCmd)
}
