// Package oauth keeps platform access tokens usable: on-demand refresh with
// per-account deduplication, revocation, and a recurring refresh scheduler.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/socialrelay/socialrelay/internal/core"
	"github.com/socialrelay/socialrelay/internal/metrics"
)

// RevokedByUserReason is stored on accounts disconnected through RevokeToken.
const RevokedByUserReason = "Token revoked by user"

// TokenStore persists connected accounts and user notifications.
type TokenStore interface {
	GetAccount(ctx context.Context, id string) (*core.SocialAccount, error)
	GetUserAccounts(ctx context.Context, userID string) ([]core.SocialAccount, error)
	GetAccountsNeedingRefresh(ctx context.Context, cutoff time.Time) ([]core.SocialAccount, error)
	UpdateTokens(ctx context.Context, id string, update core.TokenUpdate) error
	MarkInactive(ctx context.Context, id string, reason string) error
	CreateNotification(ctx context.Context, userID string, input core.NotificationInput) (*core.Notification, error)
}

// Refresher speaks one platform's OAuth dialect.
type Refresher interface {
	Refresh(ctx context.Context, account *core.SocialAccount) (core.TokenUpdate, error)
	Revoke(ctx context.Context, account *core.SocialAccount) error
}

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	Buffer time.Duration
	Clock  func() time.Time
	Logger core.Logger
}

// Manager hands out valid access tokens and refreshes them when they are
// about to expire.
type Manager struct {
	store      TokenStore
	refreshers map[core.Platform]Refresher
	buffer     time.Duration
	clock      func() time.Time
	logger     core.Logger

	inflight singleflight.Group
}

// NewManager creates a manager over store using one refresher per platform.
func NewManager(store TokenStore, refreshers map[core.Platform]Refresher, opts ManagerOptions) *Manager {
	buffer := opts.Buffer
	if buffer <= 0 {
		buffer = core.RefreshBuffer
	}
	clock := opts.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	logger := opts.Logger
	if logger == nil {
		logger = core.NopLogger()
	}
	return &Manager{
		store:      store,
		refreshers: refreshers,
		buffer:     buffer,
		clock:      clock,
		logger:     logger,
	}
}

// NeedsRefresh reports whether the account's token is inside the refresh buffer.
func (m *Manager) NeedsRefresh(account *core.SocialAccount) bool {
	return account.ExpiresWithin(m.clock(), m.buffer)
}

// GetValidToken returns a usable access token for the account, refreshing it
// first when it is about to expire. Missing or inactive accounts and failed
// refreshes yield ok == false.
func (m *Manager) GetValidToken(ctx context.Context, accountID string) (string, bool) {
	account, err := m.store.GetAccount(ctx, accountID)
	if err != nil {
		if !errors.Is(err, core.ErrAccountNotFound) {
			m.logger.Error("Failed to load account", zap.String("account_id", accountID), zap.Error(err))
		}
		return "", false
	}
	if account == nil || !account.IsActive {
		m.logger.Debug("Account not found or inactive", zap.String("account_id", accountID))
		return "", false
	}

	if !m.NeedsRefresh(account) {
		return account.AccessToken, account.AccessToken != ""
	}

	m.logger.Info("Token needs refresh", zap.String("account_id", accountID), zap.String("platform", string(account.Platform)))
	result := m.RefreshToken(ctx, account)
	if !result.Success || result.NewToken == "" {
		m.logger.Warn("Failed to refresh token",
			zap.String("account_id", accountID),
			zap.String("error", result.Error))
		return "", false
	}
	return result.NewToken, true
}

// RefreshToken refreshes the account's token with its platform. Concurrent
// calls for the same account share one platform request. A successful refresh
// is persisted and reactivates the account; a failed one deactivates it.
//
// The refresh always works from the stored account. When the stored tokens
// have moved on since the caller's copy was read and are not about to expire,
// they are returned without calling the platform.
func (m *Manager) RefreshToken(ctx context.Context, account *core.SocialAccount) core.TokenRefreshResult {
	if account == nil {
		return core.TokenRefreshResult{Error: core.ErrAccountNotFound.Error()}
	}

	// The shared refresh outlives any single caller's cancellation.
	snapshot := *account
	ch := m.inflight.DoChan(account.RefreshKey(), func() (any, error) {
		return m.refreshStored(context.WithoutCancel(ctx), &snapshot), nil
	})

	select {
	case <-ctx.Done():
		return core.TokenRefreshResult{Error: ctx.Err().Error()}
	case res := <-ch:
		if res.Shared {
			m.logger.Debug("Joined in-flight token refresh", zap.String("key", account.RefreshKey()))
		}
		return res.Val.(core.TokenRefreshResult)
	}
}

func (m *Manager) refreshStored(ctx context.Context, seen *core.SocialAccount) core.TokenRefreshResult {
	current, err := m.store.GetAccount(ctx, seen.ID)
	if err != nil {
		if !errors.Is(err, core.ErrAccountNotFound) {
			m.logger.Error("Failed to load account for refresh", zap.String("account_id", seen.ID), zap.Error(err))
			return core.TokenRefreshResult{Error: fmt.Sprintf("load account: %v", err)}
		}
		return core.TokenRefreshResult{Error: core.ErrAccountNotFound.Error()}
	}
	if current == nil {
		return core.TokenRefreshResult{Error: core.ErrAccountNotFound.Error()}
	}

	if !current.IsActive && current.DeactivationReason == RevokedByUserReason {
		return core.TokenRefreshResult{Error: "account was disconnected by the user", Permanent: true}
	}

	if current.IsActive && current.AccessToken != "" && tokensChanged(seen, current) && !m.NeedsRefresh(current) {
		m.logger.Debug("Token already refreshed, using stored token", zap.String("account_id", current.ID))
		return core.TokenRefreshResult{
			Success:   true,
			NewToken:  current.AccessToken,
			ExpiresAt: current.TokenExpiresAt,
		}
	}
	return m.performRefresh(ctx, current)
}

func tokensChanged(seen, current *core.SocialAccount) bool {
	if seen.AccessToken != current.AccessToken || seen.RefreshToken != current.RefreshToken {
		return true
	}
	switch {
	case seen.TokenExpiresAt == nil && current.TokenExpiresAt == nil:
		return false
	case seen.TokenExpiresAt == nil || current.TokenExpiresAt == nil:
		return true
	default:
		return !seen.TokenExpiresAt.Equal(*current.TokenExpiresAt)
	}
}

func (m *Manager) performRefresh(ctx context.Context, account *core.SocialAccount) (result core.TokenRefreshResult) {
	start := m.clock()
	defer func() {
		if r := recover(); r != nil {
			result = core.TokenRefreshResult{Error: fmt.Sprintf("token refresh panicked: %v", r)}
		}
		metrics.RecordTokenRefresh(string(account.Platform), result.Success, m.clock().Sub(start))
	}()

	refresher, ok := m.refreshers[account.Platform]
	if !ok {
		return core.TokenRefreshResult{Error: fmt.Sprintf("%s: %s", core.ErrUnsupportedPlatform, account.Platform)}
	}

	m.logger.Info("Refreshing token",
		zap.String("account_id", account.ID),
		zap.String("platform", string(account.Platform)))

	update, err := refresher.Refresh(ctx, account)
	if err == nil && update.AccessToken == "" {
		err = errors.New("no access token in refresh response")
	}
	if err != nil {
		reason := err.Error()
		var refreshErr *core.RefreshError
		permanent := errors.As(err, &refreshErr) && refreshErr.Permanent
		m.logger.Warn("Token refresh failed, deactivating account",
			zap.String("account_id", account.ID),
			zap.String("platform", string(account.Platform)),
			zap.Bool("permanent", permanent),
			zap.Error(err))
		if markErr := m.store.MarkInactive(ctx, account.ID, reason); markErr != nil {
			m.logger.Error("Failed to deactivate account", zap.String("account_id", account.ID), zap.Error(markErr))
		}
		return core.TokenRefreshResult{Error: reason, Permanent: permanent}
	}

	if err := m.store.UpdateTokens(ctx, account.ID, update); err != nil {
		m.logger.Error("Failed to persist refreshed token", zap.String("account_id", account.ID), zap.Error(err))
		return core.TokenRefreshResult{Error: fmt.Sprintf("persist refreshed token: %v", err)}
	}

	m.logger.Info("Token refreshed",
		zap.String("account_id", account.ID),
		zap.String("platform", string(account.Platform)))
	return core.TokenRefreshResult{
		Success:         true,
		NewToken:        update.AccessToken,
		NewRefreshToken: update.RefreshToken,
		ExpiresAt:       update.TokenExpiresAt,
	}
}

// RefreshAllUserTokens refreshes every active account of the user whose token
// is inside the refresh buffer. Accounts are processed one at a time.
func (m *Manager) RefreshAllUserTokens(ctx context.Context, userID string) (core.UserRefreshSummary, error) {
	summary := core.UserRefreshSummary{Errors: []string{}}

	accounts, err := m.store.GetUserAccounts(ctx, userID)
	if err != nil {
		return summary, fmt.Errorf("load user accounts: %w", err)
	}

	for i := range accounts {
		account := &accounts[i]
		if !account.IsActive || !m.NeedsRefresh(account) {
			continue
		}
		result := m.RefreshToken(ctx, account)
		if result.Success {
			summary.Success++
			continue
		}
		summary.Failed++
		summary.Errors = append(summary.Errors, fmt.Sprintf("%s: %s", account.Platform, result.Error))
	}
	return summary, nil
}

// RevokeToken revokes the account's grant with its platform and deactivates
// it locally. The local deactivation happens even when the platform call
// fails. Returns core.ErrAccountNotFound for unknown accounts.
func (m *Manager) RevokeToken(ctx context.Context, accountID string) error {
	account, err := m.store.GetAccount(ctx, accountID)
	if err != nil {
		return err
	}
	if account == nil {
		return core.ErrAccountNotFound
	}

	if refresher, ok := m.refreshers[account.Platform]; ok {
		if err := refresher.Revoke(ctx, account); err != nil {
			m.logger.Warn("Platform token revocation failed",
				zap.String("account_id", accountID),
				zap.String("platform", string(account.Platform)),
				zap.Error(err))
		}
	}

	if err := m.store.MarkInactive(ctx, accountID, RevokedByUserReason); err != nil {
		return fmt.Errorf("deactivate account: %w", err)
	}
	m.logger.Info("Account disconnected", zap.String("account_id", accountID))
	return nil
}
