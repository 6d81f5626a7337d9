package cmd

import (
	"context"
	"net/http"
	"time"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/socialrelay/socialrelay/internal/appid"
	apperrors "github.com/socialrelay/socialrelay/internal/errors"
	"github.com/socialrelay/socialrelay/internal/metrics"
	"github.com/socialrelay/socialrelay/internal/observability"
	"github.com/socialrelay/socialrelay/internal/server"
	"github.com/socialrelay/socialrelay/internal/server/handlers"
)

// telemetryHealthChecker ensures telemetry system and exporter are available
type telemetryHealthChecker struct{}

func (telemetryHealthChecker) CheckHealth(ctx context.Context) error {
	if observability.TelemetrySystem == nil || observability.PrometheusExporter == nil {
		return apperrors.NewInternalError("telemetry system not initialized")
	}
	return nil
}

// schedulerHealthChecker fails when the refresher should be running but is not.
type schedulerHealthChecker struct {
	svc *services
}

func (s schedulerHealthChecker) CheckHealth(ctx context.Context) error {
	if !s.svc.scheduler.Status().IsRunning {
		return apperrors.NewServiceUnavailableError("token refresh scheduler not running")
	}
	return nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and the token refresh scheduler",
	Long: `Start the HTTP API with graceful shutdown support.

The background scheduler refreshes tokens that are about to expire unless
scheduler.enabled is false.

Signal Handling:
  • Ctrl+C (SIGINT) or SIGTERM: Graceful shutdown
  • Ctrl+C twice within 2s: Force quit
  • SIGHUP: Re-validate configuration (restart to apply)`,
	RunE: func(cmd *cobra.Command, args []string) error {
		identity := appid.Get()
		namespace := identity.BinaryName

		svc, err := newServices(cmd.Context())
		if err != nil {
			return apperrors.Wrap(cmd.Context(), apperrors.CodeConfigInvalid, err, "service initialization failed")
		}
		cfg := svc.cfg
		if disabled, _ := cmd.Flags().GetBool("no-scheduler"); disabled {
			cfg.Scheduler.Enabled = false
		}

		observability.InitServerLogger(identity.BinaryName, observability.ServerLogOptions{
			Level:       cfg.Logging.Level,
			Environment: cfg.Logging.Environment,
			Profile:     cfg.Logging.Profile,
			Namespace:   namespace,
		})
		logger := observability.ServerLogger

		if cfg.Metrics.Enabled {
			if err := observability.InitMetrics(identity.BinaryName, cfg.Metrics.Port, namespace); err != nil {
				logger.Error("Failed to initialize metrics", zap.Error(err))
				_ = svc.Close()
				return apperrors.Wrap(cmd.Context(), apperrors.CodeInternal, err, "metrics initialization failed")
			}
		}
		metrics.SetServerStartTime(time.Now().Unix())

		logger.Info("Initializing server",
			zap.String("service", identity.BinaryName),
			zap.String("version", versionInfo.Version),
			zap.String("host", cfg.Server.Host),
			zap.Int("port", cfg.Server.Port),
			zap.Bool("metrics_enabled", cfg.Metrics.Enabled),
			zap.Int("metrics_port", cfg.Metrics.Port),
			zap.Bool("scheduler_enabled", cfg.Scheduler.Enabled),
			zap.Bool("tokens_encrypted", svc.store.Encrypted()))

		hm := handlers.InitHealthManager(versionInfo.Version)
		hm.RegisterChecker("store", handlers.CheckFunc(svc.store.Ping))
		if cfg.Metrics.Enabled {
			hm.RegisterChecker("telemetry", telemetryHealthChecker{})
		}
		if cfg.Scheduler.Enabled {
			hm.RegisterChecker("scheduler", schedulerHealthChecker{svc: svc})
		}

		deps := handlers.APIDeps{
			Store:      svc.store,
			Tokens:     svc.tokens,
			Client:     svc.client,
			Connectors: svc.connectors,
			StateTTL:   cfg.Connect.StateTTL,
		}
		if cfg.Scheduler.Enabled {
			deps.Scheduler = svc.scheduler
		}
		srv := server.New(cfg.Server, handlers.NewAPI(deps))

		// Cycles run under this context so shutdown can abandon them once the
		// server has drained.
		schedulerCtx, cancelScheduler := context.WithCancel(context.Background())
		if cfg.Scheduler.Enabled {
			if err := svc.scheduler.Start(schedulerCtx); err != nil {
				cancelScheduler()
				_ = svc.Close()
				return apperrors.Wrap(cmd.Context(), apperrors.CodeInternal, err, "scheduler start failed")
			}
		}

		// Shutdown handlers run LIFO.
		signals.OnShutdown(func(ctx context.Context) error {
			logger.Info("Flushing logger...")
			if err := logger.Sync(); err != nil {
				logger.Warn("Logger sync returned error (may be benign)", zap.Error(err))
			}
			return nil
		})

		if cfg.Metrics.Enabled {
			signals.OnShutdown(func(ctx context.Context) error {
				logger.Info("Stopping metrics exporter...")
				if err := observability.StopMetrics(); err != nil {
					logger.Warn("Metrics exporter stop returned error", zap.Error(err))
				}
				return nil
			})
		}

		signals.OnShutdown(func(ctx context.Context) error {
			logger.Info("Stopping token refresh scheduler and closing store...")
			cancelScheduler()
			if err := svc.Close(); err != nil {
				return apperrors.Wrap(ctx, apperrors.CodeDatabase, err, "store close failed")
			}
			return nil
		})

		signals.OnShutdown(func(ctx context.Context) error {
			logger.Info("Shutting down HTTP server...")
			shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				return apperrors.Wrap(ctx, apperrors.CodeInternal, err, "server shutdown failed")
			}
			logger.Info("HTTP server stopped gracefully")
			return nil
		})

		signals.OnReload(func(ctx context.Context) error {
			logger.Info("Received SIGHUP: validating configuration")
			if _, err := loadConfig(ctx); err != nil {
				logger.Error("Configuration reload failed", zap.Error(err))
				return apperrors.Wrap(ctx, apperrors.CodeConfigInvalid, err, "config reload failed")
			}
			logger.Info("Configuration is valid; restart to apply changes")
			return nil
		})

		if err := signals.EnableDoubleTap(signals.DoubleTapConfig{
			Window:  2 * time.Second,
			Message: "Press Ctrl+C again within 2 seconds to force quit",
		}); err != nil {
			logger.Warn("Failed to enable double-tap force quit", zap.Error(err))
		}

		errChan := make(chan error, 1)
		go func() {
			logger.Info("Starting HTTP server...", zap.String("addr", srv.Addr()))
			if err := srv.Start(); err != nil && err != http.ErrServerClosed {
				errChan <- err
			}
		}()

		go func() {
			if err := signals.Listen(cmd.Context()); err != nil {
				logger.Error("Signal handler error", zap.Error(err))
				errChan <- err
			}
		}()

		if err := <-errChan; err != nil {
			return apperrors.Wrap(cmd.Context(), apperrors.CodeInternal, err, "server error")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "localhost", "server host")
	serveCmd.Flags().IntP("port", "p", 8080, "server port")
	serveCmd.Flags().Int("metrics-port", 9090, "Prometheus metrics port")
	serveCmd.Flags().Bool("no-scheduler", false, "do not run the background token refresher")

	bindFlag(serveCmd, "server.host", "host")
	bindFlag(serveCmd, "server.port", "port")
	bindFlag(serveCmd, "metrics.port", "metrics-port")
}
