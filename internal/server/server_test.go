package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/socialrelay/socialrelay/internal/config"
	"github.com/socialrelay/socialrelay/internal/core"
	"github.com/socialrelay/socialrelay/internal/core/engine"
	"github.com/socialrelay/socialrelay/internal/core/store"
	apperrors "github.com/socialrelay/socialrelay/internal/errors"
	"github.com/socialrelay/socialrelay/internal/server/handlers"
)

type emptyStore struct{}

func (emptyStore) GetAccount(context.Context, string) (*core.SocialAccount, error) {
	return nil, core.ErrAccountNotFound
}

func (emptyStore) ListAccounts(context.Context, store.AccountFilter) ([]core.SocialAccount, error) {
	return nil, nil
}

func (emptyStore) UpsertAccount(_ context.Context, a core.SocialAccount) (*core.SocialAccount, error) {
	return &a, nil
}

func (emptyStore) ListNotifications(context.Context, string, bool) ([]core.Notification, error) {
	return nil, nil
}

func (emptyStore) MarkNotificationRead(context.Context, string) error {
	return core.ErrNotificationNotFound
}

func decodeErrorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body apperrors.HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body.Error.Code
}

func TestServerUsesStandardErrorHandlers(t *testing.T) {
	srv := New(config.ServerConfig{Host: "127.0.0.1"}, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/does-not-exist", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", decodeErrorCode(t, rec))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/version", nil))
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "METHOD_NOT_ALLOWED", decodeErrorCode(t, rec))
}

func TestServerMountsAPI(t *testing.T) {
	api := handlers.NewAPI(handlers.APIDeps{
		Store: emptyStore{},
		Client: engine.NewSocialAPIClient(engine.NewRateLimiters(engine.DefaultPresets, nil), nil,
			engine.ClientOptions{}),
	})
	srv := New(config.ServerConfig{Host: "127.0.0.1", Port: 8181}, api)
	assert.Equal(t, "127.0.0.1:8181", srv.Addr())
	assert.Equal(t, 8181, srv.Port())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, APIPrefix+"/accounts", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"accounts":[],"count":0}`, rec.Body.String())

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, APIPrefix+"/accounts/nope", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, APIPrefix+"/rate-limits", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRecoveryReturnsEnvelope(t *testing.T) {
	srv := New(config.ServerConfig{}, nil)
	srv.router.Get("/boom", func(http.ResponseWriter, *http.Request) { panic("kaboom") })

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "kaboom")
}

func TestShutdownBeforeStart(t *testing.T) {
	srv := New(config.ServerConfig{}, nil)
	require.NoError(t, srv.Shutdown(context.Background()))
}
