package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/socialrelay/socialrelay/internal/config"
	"github.com/socialrelay/socialrelay/internal/core"
	"github.com/socialrelay/socialrelay/internal/core/engine"
	"github.com/socialrelay/socialrelay/internal/core/oauth"
	"github.com/socialrelay/socialrelay/internal/core/platform"
	"github.com/socialrelay/socialrelay/internal/core/store"
	"github.com/socialrelay/socialrelay/internal/server"
	"github.com/socialrelay/socialrelay/internal/server/handlers"
)

// memStore is an in-memory token store satisfying both the token manager and
// the API handlers.
type memStore struct {
	mu            sync.Mutex
	accounts      map[string]core.SocialAccount
	notifications []core.Notification
}

func newMemStore(accounts ...core.SocialAccount) *memStore {
	s := &memStore{accounts: map[string]core.SocialAccount{}}
	for _, a := range accounts {
		s.accounts[a.ID] = a
	}
	return s
}

func (s *memStore) GetAccount(_ context.Context, id string) (*core.SocialAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil, core.ErrAccountNotFound
	}
	return &a, nil
}

func (s *memStore) GetUserAccounts(ctx context.Context, userID string) ([]core.SocialAccount, error) {
	return s.ListAccounts(ctx, store.AccountFilter{UserID: userID})
}

func (s *memStore) GetAccountsNeedingRefresh(_ context.Context, cutoff time.Time) ([]core.SocialAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.SocialAccount
	for _, a := range s.accounts {
		if a.IsActive && a.TokenExpiresAt != nil && !a.TokenExpiresAt.After(cutoff) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) ListAccounts(_ context.Context, filter store.AccountFilter) ([]core.SocialAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.SocialAccount
	for _, a := range s.accounts {
		if filter.UserID != "" && a.UserID != filter.UserID {
			continue
		}
		if filter.Platform != "" && a.Platform != filter.Platform {
			continue
		}
		if filter.ActiveOnly && !a.IsActive {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) UpsertAccount(_ context.Context, account core.SocialAccount) (*core.SocialAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, existing := range s.accounts {
		if existing.UserID == account.UserID && existing.Platform == account.Platform && existing.PlatformUserID == account.PlatformUserID {
			account.ID = id
		}
	}
	if account.ID == "" {
		account.ID = fmt.Sprintf("acct-%d", len(s.accounts)+1)
	}
	s.accounts[account.ID] = account
	return &account, nil
}

func (s *memStore) UpdateTokens(_ context.Context, id string, update core.TokenUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return core.ErrAccountNotFound
	}
	a.AccessToken = update.AccessToken
	if update.RefreshToken != "" {
		a.RefreshToken = update.RefreshToken
	}
	a.TokenExpiresAt = update.TokenExpiresAt
	a.IsActive = true
	a.DeactivationReason = ""
	s.accounts[id] = a
	return nil
}

func (s *memStore) MarkInactive(_ context.Context, id string, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return core.ErrAccountNotFound
	}
	a.IsActive = false
	a.DeactivationReason = reason
	s.accounts[id] = a
	return nil
}

func (s *memStore) CreateNotification(_ context.Context, userID string, input core.NotificationInput) (*core.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := core.Notification{
		ID:        fmt.Sprintf("n-%d", len(s.notifications)+1),
		UserID:    userID,
		Type:      input.Type,
		Title:     input.Title,
		Message:   input.Message,
		Metadata:  input.Metadata,
		CreatedAt: time.Now().UTC(),
	}
	s.notifications = append(s.notifications, n)
	return &n, nil
}

func (s *memStore) ListNotifications(_ context.Context, userID string, unreadOnly bool) ([]core.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Notification
	for _, n := range s.notifications {
		if n.UserID == userID && (!unreadOnly || !n.IsRead) {
			out = append(out, n)
		}
	}
	return out, nil
}

func (s *memStore) MarkNotificationRead(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.notifications {
		if s.notifications[i].ID == id {
			now := time.Now().UTC()
			s.notifications[i].IsRead = true
			s.notifications[i].ReadAt = &now
			return nil
		}
	}
	return core.ErrNotificationNotFound
}

func (s *memStore) account(id string) core.SocialAccount {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accounts[id]
}

// fakeTwitter serves the OAuth and API endpoints the relay talks to.
type fakeTwitter struct {
	*httptest.Server

	refreshes atomic.Int32
	revokes   atomic.Int32

	mu       sync.Mutex
	lastAuth string
	// refreshErr, when set, is returned as an OAuth error code.
	refreshErr string
}

func newFakeTwitter(t *testing.T) *fakeTwitter {
	t.Helper()
	f := &fakeTwitter{}
	r := chi.NewRouter()
	r.Post("/2/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		f.refreshes.Add(1)
		_ = r.ParseForm()
		w.Header().Set("Content-Type", "application/json")
		if code := f.refreshError(); code != "" {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": code})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "fresh-token",
			"refresh_token": "rotated-refresh",
			"token_type":    "bearer",
			"expires_in":    7200,
			"scope":         "tweet.read users.read offline.access",
		})
	})
	r.Post("/2/oauth2/revoke", func(w http.ResponseWriter, r *http.Request) {
		f.revokes.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"revoked":true}`))
	})
	r.Get("/2/users/me", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("x-rate-limit-limit", "75")
		w.Header().Set("x-rate-limit-remaining", "74")
		w.Header().Set("x-rate-limit-reset", strconv.FormatInt(time.Now().Add(10*time.Minute).Unix(), 10))
		_, _ = w.Write([]byte(`{"data":{"id":"2244994945","username":"relaydev","name":"Relay Dev"}}`))
	})
	r.Post("/2/tweets", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"data":{"id":"1445880548472328192","text":"hello"}}`))
	})
	r.Get("/2/tweets/forbidden", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"title":"Forbidden","detail":"not permitted","type":"about:blank"}`))
	})

	f.Server = httptest.NewServer(r)
	t.Cleanup(f.Close)
	return f
}

func (f *fakeTwitter) record(r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastAuth = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
}

func (f *fakeTwitter) failRefreshes(code string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshErr = code
}

func (f *fakeTwitter) refreshError() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshErr
}

func (f *fakeTwitter) lastToken() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastAuth
}

// stack is the relay wired the way serve wires it, against fakes.
type stack struct {
	store     *memStore
	twitter   *fakeTwitter
	tokens    *oauth.Manager
	client    *engine.SocialAPIClient
	scheduler *oauth.Scheduler
	api       *httptest.Server
}

func newStack(t *testing.T, rateLimits map[string]engine.RateLimitPreset, accounts ...core.SocialAccount) *stack {
	t.Helper()
	fake := newFakeTwitter(t)
	db := newMemStore(accounts...)

	pc := platform.Config{
		HTTPClient:       fake.Client(),
		Twitter:          platform.Credentials{ClientID: "client", ClientSecret: "secret", RedirectURL: "http://localhost/cb"},
		TwitterAuthURL:   fake.URL + "/i/oauth2/authorize",
		TwitterTokenURL:  fake.URL + "/2/oauth2/token",
		TwitterRevokeURL: fake.URL + "/2/oauth2/revoke",
		TwitterAPIURL:    fake.URL + "/2",
	}
	tokens := oauth.NewManager(db, platform.NewRefreshers(pc), oauth.ManagerOptions{})

	limiters := engine.NewRateLimiters(engine.DefaultPresets, rateLimits)
	client := engine.NewSocialAPIClient(limiters, tokens, engine.ClientOptions{
		HTTPClient: fake.Client(),
		BaseURLs:   map[core.Platform]string{core.PlatformTwitter: fake.URL + "/2"},
		Retry: map[core.Platform]engine.RetryConfig{
			core.PlatformTwitter: engine.RetryConfigForPlatform(core.PlatformTwitter).WithOverrides(engine.RetryConfig{
				MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond,
			}),
		},
		BatchPause: time.Millisecond,
	})
	scheduler := oauth.NewScheduler(db, tokens, oauth.SchedulerConfig{
		Interval: time.Hour, MaxRetries: 1, RetryDelay: time.Millisecond, BatchSize: 2, Lookahead: time.Hour,
	}, nil)

	api := handlers.NewAPI(handlers.APIDeps{
		Store:      db,
		Tokens:     tokens,
		Client:     client,
		Scheduler:  scheduler,
		Connectors: map[core.Platform]handlers.Connector{core.PlatformTwitter: platform.NewTwitter(pc)},
	})
	srv := server.New(config.ServerConfig{Host: "127.0.0.1"}, api)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &stack{store: db, twitter: fake, tokens: tokens, client: client, scheduler: scheduler, api: ts}
}

func twitterAccount(id, token string, expiresIn time.Duration) core.SocialAccount {
	expires := time.Now().UTC().Add(expiresIn)
	return core.SocialAccount{
		ID:             id,
		UserID:         "user-1",
		Platform:       core.PlatformTwitter,
		PlatformUserID: "2244994945",
		Username:       "relaydev",
		AccessToken:    token,
		RefreshToken:   "refresh-" + id,
		TokenExpiresAt: &expires,
		IsActive:       true,
	}
}
