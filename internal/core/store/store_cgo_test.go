//go:build cgo

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/socialrelay/socialrelay/internal/config"
	"github.com/socialrelay/socialrelay/internal/core"
	"github.com/socialrelay/socialrelay/internal/core/secrets"
)

var storeNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func openTestStore(t *testing.T, cipher *secrets.Cipher) *Store {
	t.Helper()
	ctx := context.Background()

	store, err := Open(ctx, config.StoreConfig{Driver: "libsql", Path: ":memory:"}, cipher)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	store.now = func() time.Time { return storeNow }
	require.NoError(t, store.Migrate(ctx))
	return store
}

func testCipher(t *testing.T) *secrets.Cipher {
	t.Helper()
	c, err := secrets.NewCipher("store-test-secret-value")
	require.NoError(t, err)
	return c
}

func expiry(d time.Duration) *time.Time {
	t := storeNow.Add(d)
	return &t
}

func TestOpenMemoryStore(t *testing.T) {
	store := openTestStore(t, nil)
	require.Equal(t, "libsql", store.Driver())
	require.NoError(t, store.Ping(context.Background()))
	// Migrate is idempotent.
	require.NoError(t, store.Migrate(context.Background()))
}

func TestUpsertAccountSealsTokens(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t, testCipher(t))

	account, err := store.UpsertAccount(ctx, core.SocialAccount{
		UserID:         "user-1",
		Platform:       core.PlatformTwitter,
		PlatformUserID: "42",
		Username:       "relay",
		AccessToken:    "access-1",
		RefreshToken:   "refresh-1",
		TokenExpiresAt: expiry(2 * time.Hour),
		Scopes:         []string{"tweet.read", "offline.access"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, account.ID)
	require.True(t, account.IsActive)
	require.Equal(t, "access-1", account.AccessToken)
	require.Equal(t, "refresh-1", account.RefreshToken)
	require.Equal(t, []string{"tweet.read", "offline.access"}, account.Scopes)
	require.Equal(t, storeNow.Add(2*time.Hour), *account.TokenExpiresAt)
	require.Equal(t, storeNow, account.CreatedAt)

	var rawAccess, rawRefresh string
	require.NoError(t, store.DB.QueryRowContext(ctx,
		"SELECT access_token, refresh_token FROM social_accounts WHERE id = ?", account.ID).Scan(&rawAccess, &rawRefresh))
	require.True(t, secrets.IsSealed(rawAccess))
	require.True(t, secrets.IsSealed(rawRefresh))
	require.NotContains(t, rawAccess, "access-1")
}

func TestUpsertAccountReconnectKeepsID(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t, testCipher(t))

	first, err := store.UpsertAccount(ctx, core.SocialAccount{
		UserID: "user-1", Platform: core.PlatformFacebook, PlatformUserID: "fb-9", AccessToken: "old",
	})
	require.NoError(t, err)
	require.NoError(t, store.MarkInactive(ctx, first.ID, "Token revoked by user"))

	second, err := store.UpsertAccount(ctx, core.SocialAccount{
		UserID: "user-1", Platform: core.PlatformFacebook, PlatformUserID: "fb-9", AccessToken: "new",
	})
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, "new", second.AccessToken)
	require.True(t, second.IsActive)
	require.Empty(t, second.DeactivationReason)
}

func TestUpsertAccountValidation(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t, nil)

	_, err := store.UpsertAccount(ctx, core.SocialAccount{Platform: core.PlatformTwitter, PlatformUserID: "1", AccessToken: "a"})
	require.Error(t, err)

	_, err = store.UpsertAccount(ctx, core.SocialAccount{UserID: "u", Platform: "myspace", PlatformUserID: "1", AccessToken: "a"})
	require.ErrorIs(t, err, core.ErrUnsupportedPlatform)

	_, err = store.UpsertAccount(ctx, core.SocialAccount{UserID: "u", Platform: core.PlatformTwitter, PlatformUserID: "1"})
	require.Error(t, err)
}

func TestGetAccountNotFound(t *testing.T) {
	store := openTestStore(t, nil)
	_, err := store.GetAccount(context.Background(), "missing")
	require.ErrorIs(t, err, core.ErrAccountNotFound)
}

func TestUpdateTokensKeepsRefreshTokenWhenEmpty(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t, testCipher(t))

	account, err := store.UpsertAccount(ctx, core.SocialAccount{
		UserID: "user-1", Platform: core.PlatformInstagram, PlatformUserID: "ig-1",
		AccessToken: "a1", RefreshToken: "r1", TokenExpiresAt: expiry(time.Minute),
	})
	require.NoError(t, err)

	store.now = func() time.Time { return storeNow.Add(time.Hour) }
	require.NoError(t, store.UpdateTokens(ctx, account.ID, core.TokenUpdate{
		AccessToken:    "a2",
		TokenExpiresAt: expiry(60 * 24 * time.Hour),
	}))

	got, err := store.GetAccount(ctx, account.ID)
	require.NoError(t, err)
	require.Equal(t, "a2", got.AccessToken)
	require.Equal(t, "r1", got.RefreshToken)
	require.Equal(t, storeNow.Add(60*24*time.Hour), *got.TokenExpiresAt)
	require.NotNil(t, got.LastSyncAt)
	require.Equal(t, storeNow.Add(time.Hour), *got.LastSyncAt)

	require.ErrorIs(t, store.UpdateTokens(ctx, "missing", core.TokenUpdate{AccessToken: "x"}), core.ErrAccountNotFound)
}

func TestUpdateTokensReactivatesAccount(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t, nil)

	account, err := store.UpsertAccount(ctx, core.SocialAccount{
		UserID: "user-1", Platform: core.PlatformTwitter, PlatformUserID: "8",
		AccessToken: "a1", RefreshToken: "r1", TokenExpiresAt: expiry(time.Minute),
	})
	require.NoError(t, err)
	require.NoError(t, store.MarkInactive(ctx, account.ID, "connection reset by peer"))

	require.NoError(t, store.UpdateTokens(ctx, account.ID, core.TokenUpdate{
		AccessToken:    "a2",
		RefreshToken:   "r2",
		TokenExpiresAt: expiry(2 * time.Hour),
	}))

	got, err := store.GetAccount(ctx, account.ID)
	require.NoError(t, err)
	require.True(t, got.IsActive)
	require.Empty(t, got.DeactivationReason)
	require.Equal(t, "r2", got.RefreshToken)
}

func TestMarkInactive(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t, nil)

	account, err := store.UpsertAccount(ctx, core.SocialAccount{
		UserID: "user-1", Platform: core.PlatformTwitter, PlatformUserID: "7", AccessToken: "a",
	})
	require.NoError(t, err)
	require.NoError(t, store.MarkInactive(ctx, account.ID, "invalid_grant"))

	got, err := store.GetAccount(ctx, account.ID)
	require.NoError(t, err)
	require.False(t, got.IsActive)
	require.Equal(t, "invalid_grant", got.DeactivationReason)

	require.ErrorIs(t, store.MarkInactive(ctx, "missing", "x"), core.ErrAccountNotFound)
}

func TestAccountQueries(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t, testCipher(t))

	seed := []core.SocialAccount{
		{UserID: "u1", Platform: core.PlatformTwitter, PlatformUserID: "t1", AccessToken: "a", TokenExpiresAt: expiry(30 * time.Minute)},
		{UserID: "u1", Platform: core.PlatformInstagram, PlatformUserID: "i1", AccessToken: "b", TokenExpiresAt: expiry(3 * time.Hour)},
		{UserID: "u1", Platform: core.PlatformFacebook, PlatformUserID: "f1", AccessToken: "c"},
		{UserID: "u2", Platform: core.PlatformTwitter, PlatformUserID: "t2", AccessToken: "d", TokenExpiresAt: expiry(-time.Minute)},
		{UserID: "u2", Platform: core.PlatformInstagram, PlatformUserID: "i2", AccessToken: "e", TokenExpiresAt: expiry(10 * time.Minute)},
	}
	ids := make([]string, len(seed))
	for i, a := range seed {
		stored, err := store.UpsertAccount(ctx, a)
		require.NoError(t, err)
		ids[i] = stored.ID
	}
	require.NoError(t, store.MarkInactive(ctx, ids[4], "revoked"))

	userAccounts, err := store.GetUserAccounts(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, userAccounts, 3)

	all, err := store.ListAccounts(ctx, AccountFilter{})
	require.NoError(t, err)
	require.Len(t, all, 5)

	twitter, err := store.ListAccounts(ctx, AccountFilter{Platform: core.PlatformTwitter})
	require.NoError(t, err)
	require.Len(t, twitter, 2)

	active, err := store.ListAccounts(ctx, AccountFilter{UserID: "u2", ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, ids[3], active[0].ID)

	due, err := store.GetAccountsNeedingRefresh(ctx, storeNow.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, due, 2)
	require.Equal(t, ids[3], due[0].ID)
	require.Equal(t, ids[0], due[1].ID)
	require.Equal(t, "d", due[0].AccessToken)
}

func TestNotifications(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t, nil)

	first, err := store.CreateNotification(ctx, "user-1", core.NotificationInput{
		Type:      core.NotificationTokenRefreshFailed,
		Title:     "Token Refresh Failed",
		Message:   "Reconnect your twitter account.",
		ActionURL: "/settings/accounts",
		Metadata:  map[string]any{"accountId": "acct-1", "platform": "twitter"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, first.ID)
	require.False(t, first.IsRead)

	store.now = func() time.Time { return storeNow.Add(time.Minute) }
	second, err := store.CreateNotification(ctx, "user-1", core.NotificationInput{
		Type: "info", Title: "Hello", Message: "World",
	})
	require.NoError(t, err)

	_, err = store.CreateNotification(ctx, "user-1", core.NotificationInput{Type: "info"})
	require.ErrorContains(t, err, "invalid notification")
	_, err = store.CreateNotification(ctx, "", core.NotificationInput{Type: "info", Title: "t", Message: "m"})
	require.Error(t, err)

	list, err := store.ListNotifications(ctx, "user-1", false)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, second.ID, list[0].ID)
	require.Equal(t, "acct-1", list[1].Metadata["accountId"])
	require.Equal(t, "/settings/accounts", list[1].ActionURL)

	store.now = func() time.Time { return storeNow.Add(time.Hour) }
	require.NoError(t, store.MarkNotificationRead(ctx, first.ID))
	store.now = func() time.Time { return storeNow.Add(2 * time.Hour) }
	require.NoError(t, store.MarkNotificationRead(ctx, first.ID))
	require.ErrorIs(t, store.MarkNotificationRead(ctx, "missing"), core.ErrNotificationNotFound)

	unread, err := store.ListNotifications(ctx, "user-1", true)
	require.NoError(t, err)
	require.Len(t, unread, 1)
	require.Equal(t, second.ID, unread[0].ID)

	list, err = store.ListNotifications(ctx, "user-1", false)
	require.NoError(t, err)
	require.True(t, list[1].IsRead)
	require.Equal(t, storeNow.Add(time.Hour), *list[1].ReadAt)
}
