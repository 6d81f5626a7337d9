package engine

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/socialrelay/socialrelay/internal/core"
)

const maxJitter = 100 * time.Millisecond

// RetryConfig bounds how an operation is retried.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts" validate:"gte=1"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
	Multiplier  float64       `mapstructure:"multiplier"`
	Jitter      bool          `mapstructure:"jitter"`

	// Retryable decides whether a failed attempt may be retried.
	Retryable func(error) bool `mapstructure:"-"`
}

// DefaultRetryConfig returns the general-purpose retry policy.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		Multiplier:  2,
		Jitter:      true,
		Retryable:   IsRetryable,
	}
}

// RetryConfigForPlatform returns the platform retry policy.
func RetryConfigForPlatform(platform core.Platform) RetryConfig {
	cfg := DefaultRetryConfig()
	switch platform {
	case core.PlatformInstagram:
		cfg.BaseDelay = 2 * time.Second
		cfg.MaxDelay = 30 * time.Second
		cfg.Retryable = InstagramRetryable
	case core.PlatformTwitter:
		cfg.BaseDelay = time.Second
		cfg.MaxDelay = 60 * time.Second
		cfg.Retryable = TwitterRetryable
	case core.PlatformFacebook:
		cfg.BaseDelay = 1500 * time.Millisecond
		cfg.MaxDelay = 45 * time.Second
		cfg.Retryable = FacebookRetryable
	}
	return cfg
}

// WithOverrides returns c with every non-zero timing field of o applied.
// Jitter and the predicate always come from c.
func (c RetryConfig) WithOverrides(o RetryConfig) RetryConfig {
	if o.MaxAttempts > 0 {
		c.MaxAttempts = o.MaxAttempts
	}
	if o.BaseDelay > 0 {
		c.BaseDelay = o.BaseDelay
	}
	if o.MaxDelay > 0 {
		c.MaxDelay = o.MaxDelay
	}
	if o.Multiplier > 0 {
		c.Multiplier = o.Multiplier
	}
	return c
}

// RetryResult reports the outcome of Execute.
type RetryResult[T any] struct {
	Success    bool
	Data       T
	Err        error
	Attempts   int
	TotalDelay time.Duration
}

// RetryHandler executes operations with exponential backoff.
type RetryHandler struct {
	config RetryConfig
	logger core.Logger

	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() time.Duration
}

// NewRetryHandler creates a handler. Invalid settings fall back to defaults.
func NewRetryHandler(cfg RetryConfig, logger core.Logger) *RetryHandler {
	defaults := DefaultRetryConfig()
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.BaseDelay < 0 {
		cfg.BaseDelay = defaults.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = defaults.MaxDelay
	}
	if cfg.Multiplier <= 1 {
		cfg.Multiplier = defaults.Multiplier
	}
	if cfg.Retryable == nil {
		cfg.Retryable = IsRetryable
	}
	if logger == nil {
		logger = core.NopLogger()
	}
	return &RetryHandler{
		config: cfg,
		logger: logger,
		sleep:  sleepContext,
		jitter: func() time.Duration { return time.Duration(rand.Int64N(int64(maxJitter))) },
	}
}

// Config returns the effective configuration.
func (h *RetryHandler) Config() RetryConfig {
	return h.config
}

// Delay returns the backoff before the attempt following attempt.
func (h *RetryHandler) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	exp := float64(h.config.BaseDelay) * math.Pow(h.config.Multiplier, float64(attempt-1))
	delay := time.Duration(math.Min(exp, float64(h.config.MaxDelay)))
	if h.config.Jitter && h.jitter != nil {
		delay += h.jitter()
	}
	return delay
}

// Execute runs op until it succeeds, the predicate rejects the error, or
// attempts run out. It never panics; the last error is returned unwrapped.
// Cancelling ctx stops further attempts.
func Execute[T any](ctx context.Context, h *RetryHandler, op func(context.Context) (T, error)) RetryResult[T] {
	if ctx == nil {
		ctx = context.Background()
	}

	var result RetryResult[T]
	for attempt := 1; attempt <= h.config.MaxAttempts; attempt++ {
		result.Attempts = attempt

		data, err := safeCall(ctx, op)
		if err == nil {
			result.Success = true
			result.Data = data
			result.Err = nil
			return result
		}
		result.Err = err

		if attempt == h.config.MaxAttempts || !h.config.Retryable(err) {
			return result
		}

		delay := h.Delay(attempt)
		h.logger.Debug("Retrying failed attempt",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))

		if sleepErr := h.sleep(ctx, delay); sleepErr != nil {
			return result
		}
		result.TotalDelay += delay
	}
	return result
}

func safeCall[T any](ctx context.Context, op func(context.Context) (T, error)) (data T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("operation panicked: %v", r)
		}
	}()
	return op(ctx)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
