package metrics

import (
	"testing"
	"time"

	"github.com/fulmenhq/gofulmen/telemetry"
	telemetrytesting "github.com/fulmenhq/gofulmen/telemetry/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/socialrelay/socialrelay/internal/observability"
)

func recordAll() {
	RecordPlatformRequest("twitter", 200, time.Millisecond)
	RecordPlatformRequest("twitter", 0, time.Millisecond)
	RecordRetryAttempts("facebook", 3, false)
	RecordRateLimitDenied("instagram")
	RecordTokenRefresh("instagram", true, time.Second)
	RecordSchedulerCycle(true, 2, 1, time.Second)
	RecordHealthCheck("store", true, time.Millisecond)
	SetServerStartTime(time.Now().Unix())
	RecordError("INTERNAL_ERROR", 500)
	RecordPanic()
	RecordErrorByEndpoint("/api/v1/accounts/{id}/requests", "RATE_LIMITED")
}

func TestRecordersAreSafeWithoutTelemetry(t *testing.T) {
	original := observability.TelemetrySystem
	observability.TelemetrySystem = nil
	t.Cleanup(func() { observability.TelemetrySystem = original })

	assert.NotPanics(t, recordAll)
}

func TestRecordersEmit(t *testing.T) {
	collector := telemetrytesting.NewFakeCollector()
	sys, err := telemetry.NewSystem(&telemetry.Config{Enabled: true, Emitter: collector})
	require.NoError(t, err)

	original := observability.TelemetrySystem
	observability.TelemetrySystem = sys
	t.Cleanup(func() { observability.TelemetrySystem = original })

	recordAll()

	assert.Equal(t, 2, collector.CountMetricsByName(PlatformRequestsTotal))
	assert.Equal(t, 1, collector.CountMetricsByName(RetryAttemptsTotal))
	assert.Equal(t, 1, collector.CountMetricsByName(RateLimitDeniedTotal))
	assert.Equal(t, 1, collector.CountMetricsByName(TokenRefreshTotal))
	assert.Equal(t, 1, collector.CountMetricsByName(SchedulerCyclesTotal))
	assert.Equal(t, 2, collector.CountMetricsByName(SchedulerAccountsTotal))
	assert.Equal(t, 1, collector.CountMetricsByName(PanicsTotal))
	assert.Positive(t, collector.CountMetricsByName(ServerStartTime))
}
