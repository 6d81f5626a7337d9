package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/socialrelay/socialrelay/internal/core"
	"github.com/socialrelay/socialrelay/internal/core/engine"
	"github.com/socialrelay/socialrelay/internal/core/oauth"
	"github.com/socialrelay/socialrelay/internal/core/store"
	apperrors "github.com/socialrelay/socialrelay/internal/errors"
	"github.com/socialrelay/socialrelay/internal/validate"
)

const maxRequestBody = 1 << 20

// AccountStore is the persistence surface the API needs beyond token refresh.
type AccountStore interface {
	GetAccount(ctx context.Context, id string) (*core.SocialAccount, error)
	ListAccounts(ctx context.Context, filter store.AccountFilter) ([]core.SocialAccount, error)
	UpsertAccount(ctx context.Context, account core.SocialAccount) (*core.SocialAccount, error)
	ListNotifications(ctx context.Context, userID string, unreadOnly bool) ([]core.Notification, error)
	MarkNotificationRead(ctx context.Context, id string) error
}

// TokenManager hands out and refreshes access tokens.
type TokenManager interface {
	GetValidToken(ctx context.Context, accountID string) (string, bool)
	RefreshToken(ctx context.Context, account *core.SocialAccount) core.TokenRefreshResult
	RefreshAllUserTokens(ctx context.Context, userID string) (core.UserRefreshSummary, error)
	RevokeToken(ctx context.Context, accountID string) error
}

// PlatformClient sends rate-limited platform calls.
type PlatformClient interface {
	Request(ctx context.Context, req engine.APIRequest) (*engine.APIResponse, error)
	GetAllRateLimitStatus() map[string]core.RateLimit
	Limiters() *engine.RateLimiters
}

// RefreshScheduler is the background token refresher.
type RefreshScheduler interface {
	Status() oauth.SchedulerStatus
	ForceRefresh(ctx context.Context) (core.RefreshStats, error)
}

// Connector runs one platform's authorization-code flow. Connect returns the
// accounts the grant covers without owner fields.
type Connector interface {
	AuthCodeURL(state, verifier string) string
	Connect(ctx context.Context, code, verifier string) ([]core.SocialAccount, error)
}

// APIDeps wires the API handlers. Scheduler may be nil and Connectors may
// omit platforms; those routes then answer 503.
type APIDeps struct {
	Store      AccountStore
	Tokens     TokenManager
	Client     PlatformClient
	Scheduler  RefreshScheduler
	Connectors map[core.Platform]Connector
	StateTTL   time.Duration
	Clock      func() time.Time
}

// API serves the /api/v1 routes.
type API struct {
	store      AccountStore
	tokens     TokenManager
	client     PlatformClient
	scheduler  RefreshScheduler
	connectors map[core.Platform]Connector
	pending    *pendingAuthorizations
	clock      func() time.Time
}

// NewAPI creates the API handlers.
func NewAPI(deps APIDeps) *API {
	clock := deps.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	ttl := deps.StateTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &API{
		store:      deps.Store,
		tokens:     deps.Tokens,
		client:     deps.Client,
		scheduler:  deps.Scheduler,
		connectors: deps.Connectors,
		pending:    newPendingAuthorizations(ttl, clock),
		clock:      clock,
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// decodeJSON reads a JSON body into dst and validates it. An empty body
// leaves dst untouched.
func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return validate.Struct(dst)
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && err != io.EOF {
		return apperrors.Wrap(r.Context(), apperrors.CodeInvalidInput, err, fmt.Sprintf("invalid JSON body: %v", err))
	}
	return validate.Struct(dst)
}

func respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	apperrors.RespondWithError(w, r, err)
}

func unavailable(w http.ResponseWriter, r *http.Request, what string) {
	respondWithError(w, r, apperrors.NewServiceUnavailableError(what+" is not configured"))
}

// Routes returns the API router, mounted by the server under /api/v1.
func (a *API) Routes() chi.Router {
	r := chi.NewRouter()

	r.Route("/accounts", func(r chi.Router) {
		r.Get("/", a.ListAccounts)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", a.GetAccount)
			r.Post("/refresh", a.RefreshAccount)
			r.Post("/revoke", a.RevokeAccount)
			r.Get("/token", a.AccountToken)
			r.Post("/requests", a.ProxyAccountRequest)
		})
	})

	r.Post("/users/{id}/refresh", a.RefreshUser)
	r.Get("/users/{id}/notifications", a.ListNotifications)
	r.Post("/notifications/{id}/read", a.MarkNotificationRead)

	r.Get("/rate-limits", a.ListRateLimits)
	r.Get("/rate-limits/{preset}/{id}", a.RateLimitStatus)

	r.Get("/scheduler", a.SchedulerStatus)
	r.Post("/scheduler/refresh", a.ForceSchedulerRefresh)

	r.Get("/oauth/{platform}/start", a.StartConnect)
	r.Get("/oauth/{platform}/callback", a.ConnectCallback)

	return r
}
