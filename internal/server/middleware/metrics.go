package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/socialrelay/socialrelay/internal/observability"
)

const apiPrefix = "/api/v1/"

// endpointLabel returns a low-cardinality label for r. Matched routes use
// their chi pattern; unmatched paths are bucketed so account and user IDs
// never become label values.
func endpointLabel(r *http.Request) string {
	if pattern := chi.RouteContext(r.Context()).RoutePattern(); pattern != "" {
		return pattern
	}

	path := r.URL.Path
	switch {
	case path == "/health" || strings.HasPrefix(path, "/health/"):
		return "/health/*"
	case path == "/version", path == "/metrics", path == "/":
		return path
	case strings.HasPrefix(path, apiPrefix):
		return "/api/v1/*"
	default:
		return "/unknown"
	}
}

// surfaceLabel separates relay API traffic from probes and scrapes.
func surfaceLabel(endpoint string) string {
	if strings.HasPrefix(endpoint, apiPrefix) {
		return "api"
	}
	return "ops"
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "server_error"
	case status >= 400:
		return "client_error"
	default:
		return ""
	}
}

// RequestMetrics records count, latency and response size per route. Error
// responses are also counted by class, and 429s separately so rejected relay
// calls can be alerted on.
func RequestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if observability.TelemetrySystem == nil {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		duration := time.Since(start)
		endpoint := endpointLabel(r)
		labels := map[string]string{
			"method":   r.Method,
			"endpoint": endpoint,
			"status":   strconv.Itoa(status),
			"surface":  surfaceLabel(endpoint),
		}

		tm := observability.TelemetrySystem
		_ = tm.Counter("http_requests_total", 1, labels)
		_ = tm.Histogram("http_request_duration_ms", duration, labels)
		_ = tm.Gauge("http_response_size_bytes", float64(ww.BytesWritten()), map[string]string{
			"method":   r.Method,
			"endpoint": endpoint,
		})

		if class := statusClass(status); class != "" {
			_ = tm.Counter("http_errors_total", 1, map[string]string{
				"method":     r.Method,
				"endpoint":   endpoint,
				"status":     strconv.Itoa(status),
				"error_type": class,
			})
		}
		if status == http.StatusTooManyRequests {
			_ = tm.Counter("http_rate_limited_total", 1, map[string]string{"endpoint": endpoint})
		}

		if observability.ServerLogger != nil {
			observability.ServerLogger.Info("HTTP request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("endpoint", endpoint),
				zap.Int("status", status),
				zap.Duration("duration", duration),
				zap.Int("response_size", ww.BytesWritten()),
				zap.String("request_id", GetRequestID(r.Context())),
			)
		}
	})
}
