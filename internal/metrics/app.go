package metrics

import (
	"strconv"
	"time"

	"github.com/socialrelay/socialrelay/internal/observability"
)

// Metric names. Relay metrics carry the socialrelay_ prefix; the health and
// lifecycle names are shared with the other fulmen services.
const (
	PlatformRequestsTotal   = "socialrelay_platform_requests_total"
	PlatformRequestDuration = "socialrelay_platform_request_duration_ms"
	RetryAttemptsTotal      = "socialrelay_retry_attempts_total"
	RateLimitDeniedTotal    = "socialrelay_rate_limit_denied_total"

	TokenRefreshTotal    = "socialrelay_token_refresh_total"
	TokenRefreshDuration = "socialrelay_token_refresh_duration_ms"

	SchedulerCyclesTotal   = "socialrelay_scheduler_cycles_total"
	SchedulerCycleDuration = "socialrelay_scheduler_cycle_duration_ms"
	SchedulerAccountsTotal = "socialrelay_scheduler_accounts_total"

	ErrorsTotal      = "errors_total"
	ErrorsByEndpoint = "errors_by_endpoint"
	PanicsTotal      = "panics_total"

	HealthCheckTotal    = "app_health_check_total"
	HealthCheckDuration = "app_health_check_duration_ms"
	ServerStartTime     = "app_server_start_time_seconds"
)

type labels = map[string]string

// Emission is best effort: with telemetry disabled every recorder is a no-op
// and exporter errors are dropped.
func counter(name string, value float64, l labels) {
	if tm := observability.TelemetrySystem; tm != nil {
		_ = tm.Counter(name, value, l)
	}
}

func histogram(name string, d time.Duration, l labels) {
	if tm := observability.TelemetrySystem; tm != nil {
		_ = tm.Histogram(name, d, l)
	}
}

func gauge(name string, value float64, l labels) {
	if tm := observability.TelemetrySystem; tm != nil {
		_ = tm.Gauge(name, value, l)
	}
}

func outcome(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

// RecordPlatformRequest records one HTTP exchange with a platform API.
// A zero status means the request never produced a response.
func RecordPlatformRequest(platform string, status int, duration time.Duration) {
	code := "none"
	if status > 0 {
		code = strconv.Itoa(status)
	}
	counter(PlatformRequestsTotal, 1, labels{"platform": platform, "status": code})
	histogram(PlatformRequestDuration, duration, labels{"platform": platform})
}

// RecordRetryAttempts adds the attempts one logical request needed.
func RecordRetryAttempts(platform string, attempts int, success bool) {
	counter(RetryAttemptsTotal, float64(attempts), labels{"platform": platform, "status": outcome(success)})
}

// RecordRateLimitDenied records a request rejected by a local limiter.
func RecordRateLimitDenied(limiter string) {
	counter(RateLimitDeniedTotal, 1, labels{"limiter": limiter})
}

func RecordTokenRefresh(platform string, success bool, duration time.Duration) {
	counter(TokenRefreshTotal, 1, labels{"platform": platform, "status": outcome(success)})
	histogram(TokenRefreshDuration, duration, labels{"platform": platform})
}

// RecordSchedulerCycle records one refresh cycle. ok is false when account
// discovery failed and nothing was attempted.
func RecordSchedulerCycle(ok bool, succeeded, failed int, duration time.Duration) {
	counter(SchedulerCyclesTotal, 1, labels{"status": outcome(ok)})
	histogram(SchedulerCycleDuration, duration, nil)
	if succeeded > 0 {
		counter(SchedulerAccountsTotal, float64(succeeded), labels{"status": "success"})
	}
	if failed > 0 {
		counter(SchedulerAccountsTotal, float64(failed), labels{"status": "failure"})
	}
}

// RecordError records an API error envelope by code and HTTP status.
func RecordError(errorCode string, httpStatus int) {
	counter(ErrorsTotal, 1, labels{"error_code": errorCode, "http_status": strconv.Itoa(httpStatus)})
}

// RecordErrorByEndpoint records an error against the route pattern that
// produced it.
func RecordErrorByEndpoint(endpoint, errorCode string) {
	counter(ErrorsByEndpoint, 1, labels{"endpoint": endpoint, "error_code": errorCode})
}

func RecordPanic() {
	counter(PanicsTotal, 1, nil)
}

func RecordHealthCheck(checkName string, healthy bool, duration time.Duration) {
	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}
	counter(HealthCheckTotal, 1, labels{"check": checkName, "status": status})
	histogram(HealthCheckDuration, duration, labels{"check": checkName})
}

// SetServerStartTime records the server start time as a Unix timestamp.
func SetServerStartTime(timestamp int64) {
	gauge(ServerStartTime, float64(timestamp), nil)
}
