package oauth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/socialrelay/socialrelay/internal/core"
	"github.com/socialrelay/socialrelay/internal/metrics"
)

// Notification copy for accounts that could not be refreshed.
const (
	refreshFailedTitle     = "Social Account Connection Issue"
	refreshFailedMessage   = "We couldn't refresh your %s account connection. Please reconnect your account."
	refreshFailedActionURL = "/settings/social-accounts"
)

// permanentRefreshErrors never succeed on retry.
var permanentRefreshErrors = []string{
	"invalid_grant",
	"unauthorized_client",
	"access_denied",
	"user_revoked_access",
	"app_not_authorized",
	"invalid_client",
}

// SchedulerConfig controls the background refresh cycle.
type SchedulerConfig struct {
	Interval   time.Duration `json:"interval" mapstructure:"interval" validate:"gte=1m"`
	MaxRetries int           `json:"max_retries" mapstructure:"max_retries" validate:"gte=1"`
	RetryDelay time.Duration `json:"retry_delay" mapstructure:"retry_delay" validate:"gte=0"`
	BatchSize  int           `json:"batch_size" mapstructure:"batch_size" validate:"gte=1"`
	Lookahead  time.Duration `json:"lookahead" mapstructure:"lookahead" validate:"gte=0"`
}

// DefaultSchedulerConfig returns the production schedule.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Interval:   30 * time.Minute,
		MaxRetries: 3,
		RetryDelay: 2 * time.Minute,
		BatchSize:  5,
		Lookahead:  time.Hour,
	}
}

func (c SchedulerConfig) withDefaults() SchedulerConfig {
	defaults := DefaultSchedulerConfig()
	if c.Interval <= 0 {
		c.Interval = defaults.Interval
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = defaults.MaxRetries
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = defaults.RetryDelay
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.Lookahead <= 0 {
		c.Lookahead = defaults.Lookahead
	}
	return c
}

// SchedulerStatus is a point-in-time view of the scheduler.
type SchedulerStatus struct {
	IsRunning bool            `json:"is_running"`
	Config    SchedulerConfig `json:"config"`
	NextRun   *time.Time      `json:"next_run,omitempty"`
	LastRun   *time.Time      `json:"last_run,omitempty"`
}

// AccountRefresher refreshes one account's token.
type AccountRefresher interface {
	RefreshToken(ctx context.Context, account *core.SocialAccount) core.TokenRefreshResult
}

// Scheduler periodically refreshes tokens that are about to expire.
type Scheduler struct {
	store     TokenStore
	refresher AccountRefresher
	config    SchedulerConfig
	logger    core.Logger

	clock func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	mu      sync.Mutex
	cron    *cron.Cron
	entryID cron.EntryID
	running bool
	lastRun *time.Time

	// cycling is held by whichever trigger is running a cycle.
	cycling atomic.Bool
}

// NewScheduler creates a stopped scheduler.
func NewScheduler(store TokenStore, refresher AccountRefresher, cfg SchedulerConfig, logger core.Logger) *Scheduler {
	if logger == nil {
		logger = core.NopLogger()
	}
	return &Scheduler{
		store:     store,
		refresher: refresher,
		config:    cfg.withDefaults(),
		logger:    logger,
		clock:     func() time.Time { return time.Now().UTC() },
		sleep:     sleepContext,
	}
}

// Start runs one cycle immediately in the background and then one every
// interval. Calling Start on a running scheduler is a no-op. Cycles run under
// ctx; Stop does not cancel them.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		s.logger.Debug("Token refresh scheduler already running")
		return nil
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{s.logger})))
	id, err := c.AddFunc(fmt.Sprintf("@every %s", s.config.Interval), func() {
		s.runCycle(ctx, "scheduled")
	})
	if err != nil {
		return fmt.Errorf("schedule token refresh: %w", err)
	}
	c.Start()

	s.cron = c
	s.entryID = id
	s.running = true
	s.logger.Info("Token refresh scheduler started", zap.Duration("interval", s.config.Interval))

	go s.runCycle(ctx, "initial")
	return nil
}

// Stop prevents future cycles. A cycle already in progress runs to completion.
// Calling Stop on a stopped scheduler is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		s.logger.Debug("Token refresh scheduler not running")
		return
	}
	s.cron.Stop()
	s.cron = nil
	s.running = false
	s.logger.Info("Token refresh scheduler stopped")
}

// Status reports whether the scheduler is running and when it fires next.
func (s *Scheduler) Status() SchedulerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := SchedulerStatus{IsRunning: s.running, Config: s.config}
	if s.lastRun != nil {
		last := *s.lastRun
		status.LastRun = &last
	}
	if s.running && s.cron != nil {
		next := s.cron.Entry(s.entryID).Next
		if next.IsZero() {
			next = s.clock().Add(s.config.Interval)
		}
		status.NextRun = &next
	}
	return status
}

// ForceRefresh runs one cycle synchronously. It fails with
// core.ErrRefreshCycleInProgress while another cycle is running.
func (s *Scheduler) ForceRefresh(ctx context.Context) (core.RefreshStats, error) {
	s.logger.Info("Forcing token refresh cycle")
	return s.RunCycle(ctx)
}

func (s *Scheduler) runCycle(ctx context.Context, trigger string) {
	_, err := s.RunCycle(ctx)
	switch {
	case errors.Is(err, core.ErrRefreshCycleInProgress):
		s.logger.Info("Token refresh cycle already running, skipping", zap.String("trigger", trigger))
	case err != nil:
		s.logger.Error("Token refresh cycle failed", zap.String("trigger", trigger), zap.Error(err))
	}
}

type refreshOutcome int

const (
	outcomeSkipped refreshOutcome = iota
	outcomeSucceeded
	outcomeFailed
)

type accountOutcome struct {
	outcome refreshOutcome
	err     string
}

// RunCycle refreshes every account expiring within the lookahead window.
// Accounts are processed in concurrent batches; only discovery failure
// aborts the cycle. At most one cycle runs at a time; overlapping calls
// return core.ErrRefreshCycleInProgress.
func (s *Scheduler) RunCycle(ctx context.Context) (core.RefreshStats, error) {
	if !s.cycling.CompareAndSwap(false, true) {
		return core.RefreshStats{Errors: []string{}}, core.ErrRefreshCycleInProgress
	}
	defer s.cycling.Store(false)

	start := s.clock()
	stats := core.RefreshStats{Errors: []string{}, StartedAt: start}

	s.mu.Lock()
	s.lastRun = &start
	s.mu.Unlock()

	accounts, err := s.store.GetAccountsNeedingRefresh(ctx, start.Add(s.config.Lookahead))
	if err != nil {
		metrics.RecordSchedulerCycle(false, 0, 0, s.clock().Sub(start))
		return stats, fmt.Errorf("discover accounts needing refresh: %w", err)
	}
	stats.TotalAccounts = len(accounts)
	s.logger.Info("Token refresh cycle started", zap.Int("accounts", len(accounts)))

	outcomes := make([]accountOutcome, len(accounts))
	for lo := 0; lo < len(accounts); lo += s.config.BatchSize {
		hi := min(lo+s.config.BatchSize, len(accounts))

		var g errgroup.Group
		g.SetLimit(s.config.BatchSize)
		for i := lo; i < hi; i++ {
			g.Go(func() error {
				outcomes[i] = s.refreshWithRetry(ctx, &accounts[i])
				return nil
			})
		}
		_ = g.Wait()
	}

	for _, out := range outcomes {
		switch out.outcome {
		case outcomeSucceeded:
			stats.SuccessfulRefreshes++
		case outcomeFailed:
			stats.FailedRefreshes++
			stats.Errors = append(stats.Errors, out.err)
		default:
			stats.SkippedRefreshes++
		}
	}
	stats.Duration = s.clock().Sub(start)

	metrics.RecordSchedulerCycle(true, stats.SuccessfulRefreshes, stats.FailedRefreshes, stats.Duration)
	s.logger.Info("Token refresh cycle completed",
		zap.Int("total", stats.TotalAccounts),
		zap.Int("successful", stats.SuccessfulRefreshes),
		zap.Int("failed", stats.FailedRefreshes),
		zap.Int("skipped", stats.SkippedRefreshes),
		zap.Duration("duration", stats.Duration))
	if len(stats.Errors) > 0 {
		s.logger.Warn("Token refresh errors", zap.Strings("errors", stats.Errors))
	}
	return stats, nil
}

func (s *Scheduler) refreshWithRetry(ctx context.Context, account *core.SocialAccount) accountOutcome {
	if !account.IsActive || account.TokenExpiresAt == nil {
		return accountOutcome{outcome: outcomeSkipped}
	}

	var lastErr string
	for attempt := 1; attempt <= s.config.MaxRetries; attempt++ {
		result := s.refresher.RefreshToken(ctx, account)
		if result.Success {
			return accountOutcome{outcome: outcomeSucceeded}
		}
		lastErr = result.Error

		if result.Permanent || IsPermanentRefreshError(lastErr) {
			s.logger.Info("Permanent refresh error, not retrying",
				zap.String("account_id", account.ID),
				zap.String("error", lastErr))
			break
		}
		if attempt == s.config.MaxRetries {
			break
		}

		delay := s.config.RetryDelay * time.Duration(1<<(attempt-1))
		s.logger.Info("Retrying token refresh",
			zap.String("account_id", account.ID),
			zap.Int("next_attempt", attempt+1),
			zap.Duration("delay", delay))
		if err := s.sleep(ctx, delay); err != nil {
			break
		}
	}

	s.notifyRefreshFailed(ctx, account)
	return accountOutcome{
		outcome: outcomeFailed,
		err:     fmt.Sprintf("%s account %s: %s", account.Platform, account.ID, lastErr),
	}
}

func (s *Scheduler) notifyRefreshFailed(ctx context.Context, account *core.SocialAccount) {
	input := core.NotificationInput{
		Type:      core.NotificationTokenRefreshFailed,
		Title:     refreshFailedTitle,
		Message:   fmt.Sprintf(refreshFailedMessage, account.Platform),
		ActionURL: refreshFailedActionURL,
		Metadata: map[string]any{
			"accountId": account.ID,
			"platform":  string(account.Platform),
		},
	}
	if _, err := s.store.CreateNotification(context.WithoutCancel(ctx), account.UserID, input); err != nil {
		s.logger.Error("Failed to create refresh failure notification",
			zap.String("account_id", account.ID),
			zap.Error(err))
	}
}

// IsPermanentRefreshError reports whether a refresh error names an OAuth
// condition that retrying cannot fix.
func IsPermanentRefreshError(msg string) bool {
	if msg == "" {
		return false
	}
	lower := strings.ToLower(msg)
	for _, needle := range permanentRefreshErrors {
		if strings.Contains(lower, needle) {
			return true
		}
	}
	return false
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

type cronLogger struct {
	logger core.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, zap.Any("details", keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, zap.Error(err), zap.Any("details", keysAndValues))
}
