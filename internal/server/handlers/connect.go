package handlers

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/socialrelay/socialrelay/internal/core"
	apperrors "github.com/socialrelay/socialrelay/internal/errors"
)

// pendingAuthorization is an issued consent request awaiting its callback.
type pendingAuthorization struct {
	platform  core.Platform
	userID    string
	teamID    string
	verifier  string
	expiresAt time.Time
}
// pendingAuthorizations maps OAuth state values to their PKCE verifier. Each
// state is redeemable once, until it expires.
type pendingAuthorizations struct {
	mu      sync.Mutex
	entries map[string]pendingAuthorization
	ttl     time.Duration
	clock   func() time.Time
}

func newPendingAuthorizations(ttl time.Duration, clock func() time.Time) *pendingAuthorizations {
	return &pendingAuthorizations{
		entries: make(map[string]pendingAuthorization),
		ttl:     ttl,
		clock:   clock,
	}
}

func (p *pendingAuthorizations) put(state string, entry pendingAuthorization) time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock()
	for key, existing := range p.entries {
		if !now.Before(existing.expiresAt) {
			delete(p.entries, key)
		}
	}
	entry.expiresAt = now.Add(p.ttl)
	p.entries[state] = entry
	return entry.expiresAt
}

func (p *pendingAuthorizations) take(state string) (pendingAuthorization, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.entries[state]
	if !ok {
		return pendingAuthorization{}, false
	}
	delete(p.entries, state)
	if !p.clock().Before(entry.expiresAt) {
		return pendingAuthorization{}, false
	}
	return entry, true
}

// ConnectStartResponse carries the consent URL the user must visit.
type ConnectStartResponse struct {
	AuthorizationURL string    `json:"authorization_url"`
	State            string    `json:"state"`
	ExpiresAt        time.Time `json:"expires_at"`
}

// ConnectCallbackResponse lists the accounts stored by a callback.
type ConnectCallbackResponse struct {
	Accounts []core.SocialAccount `json:"accounts"`
}

func (a *API) connector(w http.ResponseWriter, r *http.Request) (core.Platform, Connector, bool) {
	p, err := core.ParsePlatform(chi.URLParam(r, "platform"))
	if err != nil {
		respondWithError(w, r, err)
		return "", nil, false
	}
	c, ok := a.connectors[p]
	if !ok || c == nil {
		unavailable(w, r, string(p)+" connect")
		return "", nil, false
	}
	return p, c, true
}

// StartConnect handles GET /oauth/{platform}/start?user_id=&team_id=.
// With redirect=true the caller is sent straight to the consent page.
func (a *API) StartConnect(w http.ResponseWriter, r *http.Request) {
	p, connector, ok := a.connector(w, r)
	if !ok {
		return
	}
	query := r.URL.Query()
	userID := strings.TrimSpace(query.Get("user_id"))
	if userID == "" {
		respondWithError(w, r, apperrors.Wrap(r.Context(), apperrors.CodeInvalidInput, nil, "user_id is required"))
		return
	}

	state := uuid.NewString()
	verifier := oauth2.GenerateVerifier()
	expiresAt := a.pending.put(state, pendingAuthorization{
		platform: p,
		userID:   userID,
		teamID:   strings.TrimSpace(query.Get("team_id")),
		verifier: verifier,
	})
	authURL := connector.AuthCodeURL(state, verifier)

	if query.Get("redirect") == "true" {
		http.Redirect(w, r, authURL, http.StatusFound)
		return
	}
	writeJSON(w, http.StatusOK, ConnectStartResponse{AuthorizationURL: authURL, State: state, ExpiresAt: expiresAt})
}

// ConnectCallback handles GET /oauth/{platform}/callback. It redeems the code
// and stores every account the grant covers for the user who started the flow.
func (a *API) ConnectCallback(w http.ResponseWriter, r *http.Request) {
	p, connector, ok := a.connector(w, r)
	if !ok {
		return
	}
	query := r.URL.Query()
	ctx := r.Context()

	pending, ok := a.pending.take(query.Get("state"))
	if !ok || pending.platform != p {
		respondWithError(w, r, apperrors.Wrap(ctx, apperrors.CodeInvalidInput, nil, "unknown or expired authorization state"))
		return
	}
	if denied := query.Get("error"); denied != "" {
		respondWithError(w, r, apperrors.Wrap(ctx, apperrors.CodeInvalidInput, nil, "authorization denied: "+denied))
		return
	}
	code := query.Get("code")
	if code == "" {
		respondWithError(w, r, apperrors.Wrap(ctx, apperrors.CodeInvalidInput, nil, "code is required"))
		return
	}

	connected, err := connector.Connect(ctx, code, pending.verifier)
	if err != nil {
		respondWithError(w, r, err)
		return
	}

	resp := ConnectCallbackResponse{Accounts: make([]core.SocialAccount, 0, len(connected))}
	for _, account := range connected {
		account.UserID = pending.userID
		account.TeamID = pending.teamID
		stored, err := a.store.UpsertAccount(ctx, account)
		if err != nil {
			respondWithError(w, r, err)
			return
		}
		resp.Accounts = append(resp.Accounts, *stored)
	}
	writeJSON(w, http.StatusCreated, resp)
}
