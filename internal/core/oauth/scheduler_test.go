package oauth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/socialrelay/socialrelay/internal/core"
)

// batchRefresher holds every caller until the expected batch has fully
// arrived, so a scheduler that does not run batches concurrently deadlocks
// and one that overlaps batches is caught by maxActive.
type batchRefresher struct {
	mu        sync.Mutex
	cond      *sync.Cond
	targets   []int
	arrived   int
	active    int
	maxActive int
}

func newBatchRefresher(batches ...int) *batchRefresher {
	r := &batchRefresher{}
	r.cond = sync.NewCond(&r.mu)
	total := 0
	for _, size := range batches {
		total += size
		r.targets = append(r.targets, total)
	}
	return r
}

func (r *batchRefresher) RefreshToken(_ context.Context, _ *core.SocialAccount) core.TokenRefreshResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.arrived++
	r.active++
	r.maxActive = max(r.maxActive, r.active)

	target := r.targets[len(r.targets)-1]
	for _, t := range r.targets {
		if r.arrived <= t {
			target = t
			break
		}
	}
	r.cond.Broadcast()
	for r.arrived < target {
		r.cond.Wait()
	}
	r.active--
	return core.TokenRefreshResult{Success: true, NewToken: "new"}
}

type scriptedRefresher struct {
	mu      sync.Mutex
	calls   map[string]int
	results map[string][]core.TokenRefreshResult
}

func (r *scriptedRefresher) RefreshToken(_ context.Context, account *core.SocialAccount) core.TokenRefreshResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.calls == nil {
		r.calls = make(map[string]int)
	}
	idx := r.calls[account.ID]
	r.calls[account.ID]++
	script := r.results[account.ID]
	if idx >= len(script) {
		return script[len(script)-1]
	}
	return script[idx]
}

func (r *scriptedRefresher) callCount(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[id]
}

func expiringAccounts(n int) []core.SocialAccount {
	accounts := make([]core.SocialAccount, 0, n)
	for i := 0; i < n; i++ {
		accounts = append(accounts, core.SocialAccount{
			ID:             fmt.Sprintf("acct-%02d", i),
			UserID:         "user-1",
			Platform:       core.PlatformInstagram,
			AccessToken:    "old",
			TokenExpiresAt: timePtr(testNow.Add(30 * time.Minute)),
			IsActive:       true,
		})
	}
	return accounts
}

func newTestScheduler(store TokenStore, refresher AccountRefresher) (*Scheduler, *[]time.Duration) {
	s := NewScheduler(store, refresher, DefaultSchedulerConfig(), nil)
	s.clock = func() time.Time { return testNow }
	var mu sync.Mutex
	var slept []time.Duration
	s.sleep = func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		slept = append(slept, d)
		mu.Unlock()
		return ctx.Err()
	}
	return s, &slept
}

func TestRunCycleProcessesBatchesOfFive(t *testing.T) {
	store := newMemoryStore(expiringAccounts(12)...)
	refresher := newBatchRefresher(5, 5, 2)
	scheduler, _ := newTestScheduler(store, refresher)

	type cycleResult struct {
		stats core.RefreshStats
		err   error
	}
	done := make(chan cycleResult, 1)
	go func() {
		stats, err := scheduler.ForceRefresh(context.Background())
		done <- cycleResult{stats, err}
	}()

	select {
	case res := <-done:
		require.NoError(t, res.err)
		require.Equal(t, 12, res.stats.TotalAccounts)
		require.Equal(t, 12, res.stats.SuccessfulRefreshes)
		require.Zero(t, res.stats.FailedRefreshes)
		require.Zero(t, res.stats.SkippedRefreshes)
		require.Empty(t, res.stats.Errors)
	case <-time.After(5 * time.Second):
		t.Fatal("refresh cycle did not complete")
	}
	require.Equal(t, 5, refresher.maxActive)
	require.Equal(t, 12, refresher.arrived)
}

func TestRunCyclePermanentFailureNotifiesOnceWithoutRetry(t *testing.T) {
	accounts := expiringAccounts(1)
	store := newMemoryStore(accounts...)
	refresher := &scriptedRefresher{results: map[string][]core.TokenRefreshResult{
		accounts[0].ID: {{Error: "Invalid_Grant: refresh token revoked"}},
	}}
	scheduler, slept := newTestScheduler(store, refresher)

	stats, err := scheduler.ForceRefresh(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, stats.FailedRefreshes)
	require.Equal(t, []string{"instagram account acct-00: Invalid_Grant: refresh token revoked"}, stats.Errors)
	require.Equal(t, 1, refresher.callCount(accounts[0].ID))
	require.Empty(t, *slept)

	notifications := store.notificationList()
	require.Len(t, notifications, 1)
	n := notifications[0]
	require.Equal(t, "user-1", n.UserID)
	require.Equal(t, core.NotificationTokenRefreshFailed, n.Type)
	require.Equal(t, "Social Account Connection Issue", n.Title)
	require.Equal(t, "We couldn't refresh your instagram account connection. Please reconnect your account.", n.Message)
	require.Equal(t, "/settings/social-accounts", n.ActionURL)
	require.Equal(t, map[string]any{"accountId": "acct-00", "platform": "instagram"}, n.Metadata)
}

func TestRunCycleRetriesTransientFailuresWithBackoff(t *testing.T) {
	accounts := expiringAccounts(2)
	store := newMemoryStore(accounts...)
	refresher := &scriptedRefresher{results: map[string][]core.TokenRefreshResult{
		accounts[0].ID: {{Error: "timeout"}, {Error: "timeout"}, {Success: true}},
		accounts[1].ID: {{Error: "server error"}},
	}}
	scheduler, slept := newTestScheduler(store, refresher)

	stats, err := scheduler.ForceRefresh(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, stats.SuccessfulRefreshes)
	require.Equal(t, 1, stats.FailedRefreshes)
	require.Equal(t, 3, refresher.callCount(accounts[0].ID))
	require.Equal(t, 3, refresher.callCount(accounts[1].ID))
	require.Len(t, store.notificationList(), 1)

	// Two retries per account: 2m then 4m.
	require.ElementsMatch(t, []time.Duration{
		2 * time.Minute, 4 * time.Minute,
		2 * time.Minute, 4 * time.Minute,
	}, *slept)
}

func TestRunCycleSkipsInactiveAndNonExpiring(t *testing.T) {
	accounts := expiringAccounts(3)
	accounts[1].IsActive = false
	store := newMemoryStore(accounts...)
	store.accounts["forever"] = core.SocialAccount{ID: "forever", Platform: core.PlatformFacebook, IsActive: true}

	refresher := &scriptedRefresher{results: map[string][]core.TokenRefreshResult{
		accounts[0].ID: {{Success: true}},
		accounts[2].ID: {{Success: true}},
	}}
	scheduler, _ := newTestScheduler(store, refresher)

	stats, err := scheduler.ForceRefresh(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, stats.TotalAccounts)
	require.Equal(t, 2, stats.SuccessfulRefreshes)
	require.Equal(t, 1, stats.SkippedRefreshes)
	require.Equal(t, stats.TotalAccounts, stats.SuccessfulRefreshes+stats.FailedRefreshes+stats.SkippedRefreshes)
	require.Zero(t, refresher.callCount(accounts[1].ID))
}

func TestRunCycleDiscoveryFailureAborts(t *testing.T) {
	store := newMemoryStore()
	store.discoverErr = errors.New("database is locked")
	scheduler, _ := newTestScheduler(store, &scriptedRefresher{})

	_, err := scheduler.ForceRefresh(context.Background())
	require.ErrorContains(t, err, "database is locked")
}

func TestSchedulerStartStopIdempotent(t *testing.T) {
	store := newMemoryStore()
	scheduler, _ := newTestScheduler(store, &scriptedRefresher{})

	require.False(t, scheduler.Status().IsRunning)
	scheduler.Stop()

	ctx := context.Background()
	require.NoError(t, scheduler.Start(ctx))
	require.NoError(t, scheduler.Start(ctx))

	status := scheduler.Status()
	require.True(t, status.IsRunning)
	require.NotNil(t, status.NextRun)
	require.Equal(t, 30*time.Minute, status.Config.Interval)

	scheduler.Stop()
	scheduler.Stop()
	status = scheduler.Status()
	require.False(t, status.IsRunning)
	require.Nil(t, status.NextRun)
}

func TestRunCycleRetrySuccessReactivatesAccount(t *testing.T) {
	accounts := expiringAccounts(1)
	store := newMemoryStore(accounts...)
	refresher := &fakeRefresher{
		err:      errors.New("connection reset by peer"),
		failures: 1,
		update:   core.TokenUpdate{AccessToken: "new", TokenExpiresAt: timePtr(testNow.Add(2 * time.Hour))},
	}
	manager := newTestManager(store, refresher)
	scheduler, slept := newTestScheduler(store, manager)

	stats, err := scheduler.ForceRefresh(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, stats.SuccessfulRefreshes)
	require.Zero(t, stats.FailedRefreshes)
	require.Equal(t, 2, refresher.callCount())
	require.Equal(t, []time.Duration{2 * time.Minute}, *slept)
	require.Empty(t, store.notificationList())

	stored := store.account(accounts[0].ID)
	require.True(t, stored.IsActive)
	require.Empty(t, stored.DeactivationReason)

	token, ok := manager.GetValidToken(context.Background(), accounts[0].ID)
	require.True(t, ok)
	require.Equal(t, "new", token)
}

func TestRunCycleStopsOnPermanentResult(t *testing.T) {
	accounts := expiringAccounts(1)
	store := newMemoryStore(accounts...)
	refresher := &scriptedRefresher{results: map[string][]core.TokenRefreshResult{
		accounts[0].ID: {{Error: "refresh instagram account acct-00: Session has expired", Permanent: true}},
	}}
	scheduler, slept := newTestScheduler(store, refresher)

	stats, err := scheduler.ForceRefresh(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, stats.FailedRefreshes)
	require.Equal(t, 1, refresher.callCount(accounts[0].ID))
	require.Empty(t, *slept)
	require.Len(t, store.notificationList(), 1)
}

// gatedRefresher blocks every refresh until gate is closed.
type gatedRefresher struct {
	once    sync.Once
	started chan struct{}
	gate    chan struct{}
}

func (r *gatedRefresher) RefreshToken(context.Context, *core.SocialAccount) core.TokenRefreshResult {
	r.once.Do(func() { close(r.started) })
	<-r.gate
	return core.TokenRefreshResult{Success: true, NewToken: "new"}
}

func TestRunCycleRejectsOverlappingCycles(t *testing.T) {
	store := newMemoryStore(expiringAccounts(1)...)
	refresher := &gatedRefresher{started: make(chan struct{}), gate: make(chan struct{})}
	scheduler, _ := newTestScheduler(store, refresher)

	done := make(chan error, 1)
	go func() {
		_, err := scheduler.ForceRefresh(context.Background())
		done <- err
	}()
	<-refresher.started

	_, err := scheduler.RunCycle(context.Background())
	require.ErrorIs(t, err, core.ErrRefreshCycleInProgress)

	close(refresher.gate)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("refresh cycle did not complete")
	}

	stats, err := scheduler.ForceRefresh(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, stats.SuccessfulRefreshes)
}

func TestIsPermanentRefreshError(t *testing.T) {
	require.True(t, IsPermanentRefreshError("oauth2: \"invalid_grant\" \"expired\""))
	require.True(t, IsPermanentRefreshError("USER_REVOKED_ACCESS"))
	require.True(t, IsPermanentRefreshError("app_not_authorized for scope"))
	require.False(t, IsPermanentRefreshError("connection reset by peer"))
	require.False(t, IsPermanentRefreshError(""))
}
