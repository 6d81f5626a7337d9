package observability

import (
	"testing"

	"github.com/fulmenhq/gofulmen/logging"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestParseLogLevel(t *testing.T) {
	cases := map[string]string{
		"trace":   "TRACE",
		"DEBUG":   "DEBUG",
		" info ":  "INFO",
		"warning": "WARN",
		"error":   "ERROR",
		"":        "INFO",
		"loud":    "INFO",
	}
	for in, want := range cases {
		require.Equal(t, want, parseLogLevel(in), in)
	}
}

func TestLoggerFallsBackInOrder(t *testing.T) {
	prevCLI, prevServer := CLILogger, ServerLogger
	t.Cleanup(func() { CLILogger, ServerLogger = prevCLI, prevServer })

	CLILogger, ServerLogger = nil, nil
	require.NotNil(t, Logger())
	Logger().Info("discarded", zap.String("k", "v"))

	InitCLILogger("socialrelay-test", true)
	require.Same(t, CLILogger, Logger())

	InitServerLogger("socialrelay-test", ServerLogOptions{Level: "debug", Environment: "test", Namespace: "socialrelay"})
	require.Same(t, ServerLogger, Logger())
	Logger().Debug("token refreshed", zap.String("platform", "twitter"))
}

func TestServerLoggerConfigProfiles(t *testing.T) {
	structured := serverLoggerConfig("socialrelay-test", ServerLogOptions{Level: "warn", Namespace: "relay"})
	require.Equal(t, logging.ProfileStructured, structured.Profile)
	require.Equal(t, "json", structured.Sinks[0].Format)
	require.Equal(t, "WARN", structured.DefaultLevel)
	require.Equal(t, "production", structured.Environment)
	require.Equal(t, "relay", structured.StaticFields["namespace"])

	simple := serverLoggerConfig("socialrelay-test", ServerLogOptions{Profile: "Simple", Environment: "test"})
	require.Equal(t, logging.ProfileSimple, simple.Profile)
	require.Equal(t, "console", simple.Sinks[0].Format)
	require.Empty(t, simple.StaticFields)

	for _, cfg := range []*logging.LoggerConfig{structured, simple} {
		logger, err := logging.New(cfg)
		require.NoError(t, err)
		logger.Info("rate limit headers applied", zap.Int("remaining", 42))
	}
}
