package oauth

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/socialrelay/socialrelay/internal/core"
)

type memoryStore struct {
	mu            sync.Mutex
	accounts      map[string]core.SocialAccount
	notifications []core.Notification
	updates       map[string]int
	discoverErr   error
}

func newMemoryStore(accounts ...core.SocialAccount) *memoryStore {
	s := &memoryStore{
		accounts: make(map[string]core.SocialAccount),
		updates:  make(map[string]int),
	}
	for _, account := range accounts {
		s.accounts[account.ID] = account
	}
	return s
}

func (s *memoryStore) GetAccount(_ context.Context, id string) (*core.SocialAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[id]
	if !ok {
		return nil, core.ErrAccountNotFound
	}
	return &account, nil
}

func (s *memoryStore) GetUserAccounts(_ context.Context, userID string) ([]core.SocialAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.SocialAccount
	for _, account := range s.accounts {
		if account.UserID == userID {
			out = append(out, account)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memoryStore) GetAccountsNeedingRefresh(_ context.Context, cutoff time.Time) ([]core.SocialAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.discoverErr != nil {
		return nil, s.discoverErr
	}
	var out []core.SocialAccount
	for _, account := range s.accounts {
		if account.TokenExpiresAt == nil || account.TokenExpiresAt.After(cutoff) {
			continue
		}
		out = append(out, account)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memoryStore) UpdateTokens(_ context.Context, id string, update core.TokenUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[id]
	if !ok {
		return core.ErrAccountNotFound
	}
	account.AccessToken = update.AccessToken
	if update.RefreshToken != "" {
		account.RefreshToken = update.RefreshToken
	}
	account.TokenExpiresAt = update.TokenExpiresAt
	account.IsActive = true
	account.DeactivationReason = ""
	now := time.Now().UTC()
	account.LastSyncAt = &now
	s.accounts[id] = account
	s.updates[id]++
	return nil
}

func (s *memoryStore) MarkInactive(_ context.Context, id string, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[id]
	if !ok {
		return core.ErrAccountNotFound
	}
	account.IsActive = false
	account.DeactivationReason = reason
	s.accounts[id] = account
	return nil
}

func (s *memoryStore) CreateNotification(_ context.Context, userID string, input core.NotificationInput) (*core.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := core.Notification{
		ID:        "n" + string(rune('a'+len(s.notifications))),
		UserID:    userID,
		Type:      input.Type,
		Title:     input.Title,
		Message:   input.Message,
		ActionURL: input.ActionURL,
		Metadata:  input.Metadata,
		CreatedAt: time.Now().UTC(),
	}
	s.notifications = append(s.notifications, n)
	return &n, nil
}

func (s *memoryStore) account(id string) core.SocialAccount {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accounts[id]
}

func (s *memoryStore) notificationList() []core.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.Notification(nil), s.notifications...)
}

// fakeRefresher returns update, or err for every call. With failures set,
// only the first failures calls return err.
type fakeRefresher struct {
	mu        sync.Mutex
	calls     int
	revoked   int
	err       error
	failures  int
	revokeErr error
	update    core.TokenUpdate
	gate      chan struct{}
	started   chan struct{}
}

func (f *fakeRefresher) Refresh(ctx context.Context, _ *core.SocialAccount) (core.TokenUpdate, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()

	if call == 1 && f.started != nil {
		close(f.started)
	}
	if f.gate != nil {
		<-f.gate
	}
	if f.err != nil && (f.failures == 0 || call <= f.failures) {
		return core.TokenUpdate{}, f.err
	}
	return f.update, nil
}

func (f *fakeRefresher) Revoke(context.Context, *core.SocialAccount) error {
	f.mu.Lock()
	f.revoked++
	f.mu.Unlock()
	return f.revokeErr
}

func (f *fakeRefresher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// rotatingRefresher accepts each refresh token once, like Twitter.
type rotatingRefresher struct {
	mu    sync.Mutex
	calls int
	valid string
}

func (r *rotatingRefresher) Refresh(_ context.Context, account *core.SocialAccount) (core.TokenUpdate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if account.RefreshToken != r.valid {
		return core.TokenUpdate{}, errors.New("invalid_grant: refresh token already used")
	}
	r.valid = fmt.Sprintf("r%d", r.calls+1)
	expires := testNow.Add(2 * time.Hour)
	return core.TokenUpdate{
		AccessToken:    fmt.Sprintf("a%d", r.calls+1),
		RefreshToken:   r.valid,
		TokenExpiresAt: &expires,
	}, nil
}

func (r *rotatingRefresher) Revoke(context.Context, *core.SocialAccount) error {
	return nil
}

func (r *rotatingRefresher) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func timePtr(t time.Time) *time.Time {
	return &t
}
