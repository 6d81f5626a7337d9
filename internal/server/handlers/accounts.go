package handlers

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/socialrelay/socialrelay/internal/core"
	"github.com/socialrelay/socialrelay/internal/core/engine"
	"github.com/socialrelay/socialrelay/internal/core/store"
)

// AccountsResponse lists connected accounts. Tokens are never serialized.
type AccountsResponse struct {
	Accounts []core.SocialAccount `json:"accounts"`
	Count    int                  `json:"count"`
}

// TokenStatusResponse reports whether an account can currently be used.
type TokenStatusResponse struct {
	AccountID string     `json:"account_id"`
	Valid     bool       `json:"valid"`
	Token     string     `json:"token,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// ListAccounts handles GET /accounts?user_id=&platform=&active=.
func (a *API) ListAccounts(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := store.AccountFilter{
		UserID:     strings.TrimSpace(query.Get("user_id")),
		ActiveOnly: query.Get("active") == "true",
	}
	if raw := query.Get("platform"); raw != "" {
		p, err := core.ParsePlatform(raw)
		if err != nil {
			respondWithError(w, r, err)
			return
		}
		filter.Platform = p
	}

	accounts, err := a.store.ListAccounts(r.Context(), filter)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	if accounts == nil {
		accounts = []core.SocialAccount{}
	}
	writeJSON(w, http.StatusOK, AccountsResponse{Accounts: accounts, Count: len(accounts)})
}

// GetAccount handles GET /accounts/{id}.
func (a *API) GetAccount(w http.ResponseWriter, r *http.Request) {
	account, err := a.store.GetAccount(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

// RefreshAccount handles POST /accounts/{id}/refresh.
func (a *API) RefreshAccount(w http.ResponseWriter, r *http.Request) {
	account, err := a.store.GetAccount(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondWithError(w, r, err)
		return
	}

	result := a.tokens.RefreshToken(r.Context(), account)
	status := http.StatusOK
	if !result.Success {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, result)
}

// RevokeAccount handles POST /accounts/{id}/revoke.
func (a *API) RevokeAccount(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := a.tokens.RevokeToken(r.Context(), id); err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"account_id": id, "revoked": true})
}

// AccountToken handles GET /accounts/{id}/token. The token itself is redacted
// to its last four characters.
func (a *API) AccountToken(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	token, ok := a.tokens.GetValidToken(r.Context(), id)
	resp := TokenStatusResponse{AccountID: id, Valid: ok}
	if ok {
		resp.Token = redact(token)
		if account, err := a.store.GetAccount(r.Context(), id); err == nil {
			resp.ExpiresAt = account.TokenExpiresAt
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// ProxyRequest is the body of POST /accounts/{id}/requests.
type ProxyRequest struct {
	Preset   string            `json:"preset,omitempty"`
	Method   string            `json:"method" validate:"omitempty,oneof=GET POST PUT PATCH DELETE get post put patch delete"`
	Endpoint string            `json:"endpoint" validate:"required"`
	Query    map[string]string `json:"query,omitempty"`
	Body     any               `json:"body,omitempty"`
}

// ProxyAccountRequest handles POST /accounts/{id}/requests by sending the
// described call as the account through the rate-limited client.
func (a *API) ProxyAccountRequest(w http.ResponseWriter, r *http.Request) {
	var body ProxyRequest
	if err := decodeJSON(r, &body); err != nil {
		respondWithError(w, r, err)
		return
	}

	account, err := a.store.GetAccount(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	if !account.IsActive {
		respondWithError(w, r, core.ErrNoValidToken)
		return
	}

	req := engine.APIRequest{
		Platform:  account.Platform,
		AccountID: account.ID,
		Preset:    body.Preset,
		Method:    strings.ToUpper(body.Method),
		Endpoint:  body.Endpoint,
		Query:     queryValues(body.Query),
		Body:      body.Body,
	}
	resp, err := a.client.Request(r.Context(), req)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// RefreshUser handles POST /users/{id}/refresh.
func (a *API) RefreshUser(w http.ResponseWriter, r *http.Request) {
	summary, err := a.tokens.RefreshAllUserTokens(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func redact(token string) string {
	if len(token) <= 4 {
		return "****"
	}
	return "****" + token[len(token)-4:]
}

func queryValues(in map[string]string) url.Values {
	if len(in) == 0 {
		return nil
	}
	out := make(url.Values, len(in))
	for k, v := range in {
		out.Set(k, v)
	}
	return out
}
