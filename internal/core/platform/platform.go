// Package platform implements the OAuth dialects of the supported social
// networks: token refresh, revocation and the authorization-code connect flows.
package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/socialrelay/socialrelay/internal/core"
	"github.com/socialrelay/socialrelay/internal/core/oauth"
)

const (
	DefaultInstagramGraphURL = "https://graph.instagram.com"
	DefaultInstagramAuthURL  = "https://api.instagram.com/oauth/authorize"
	DefaultInstagramTokenURL = "https://api.instagram.com/oauth/access_token"
	DefaultFacebookGraphURL  = "https://graph.facebook.com/v18.0"
	DefaultFacebookAuthURL   = "https://www.facebook.com/v18.0/dialog/oauth"
	DefaultFacebookTokenURL  = "https://graph.facebook.com/v18.0/oauth/access_token"
	DefaultTwitterAuthURL    = "https://twitter.com/i/oauth2/authorize"
	DefaultTwitterTokenURL   = "https://api.twitter.com/2/oauth2/token"
	DefaultTwitterRevokeURL  = "https://api.twitter.com/2/oauth2/revoke"
	DefaultTwitterAPIURL     = "https://api.twitter.com/2"

	defaultTimeout = 30 * time.Second
	maxBodySize    = 1 << 20
)

// Scopes requested when connecting an account.
var (
	DefaultInstagramScopes = []string{"user_profile", "user_media"}
	DefaultFacebookScopes  = []string{"pages_manage_posts", "pages_read_engagement", "pages_show_list"}
	DefaultTwitterScopes   = []string{"tweet.read", "tweet.write", "users.read", "offline.access"}
)

// Credentials identify this application to a platform.
type Credentials struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	RedirectURL  string `mapstructure:"redirect_url"`
}

// Config holds endpoints and credentials for every platform.
type Config struct {
	HTTPClient *http.Client
	Clock      func() time.Time

	Instagram         Credentials
	InstagramGraphURL string
	InstagramAuthURL  string
	InstagramTokenURL string
	InstagramScopes   []string

	Facebook         Credentials
	FacebookGraphURL string
	FacebookAuthURL  string
	FacebookTokenURL string
	FacebookScopes   []string

	Twitter          Credentials
	TwitterAuthURL   string
	TwitterTokenURL  string
	TwitterRevokeURL string
	TwitterAPIURL    string
	TwitterScopes    []string
}

func (c Config) withDefaults() Config {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: defaultTimeout}
	}
	if c.Clock == nil {
		c.Clock = func() time.Time { return time.Now().UTC() }
	}
	c.InstagramGraphURL = orDefault(c.InstagramGraphURL, DefaultInstagramGraphURL)
	c.InstagramAuthURL = orDefault(c.InstagramAuthURL, DefaultInstagramAuthURL)
	c.InstagramTokenURL = orDefault(c.InstagramTokenURL, DefaultInstagramTokenURL)
	c.FacebookGraphURL = orDefault(c.FacebookGraphURL, DefaultFacebookGraphURL)
	c.FacebookAuthURL = orDefault(c.FacebookAuthURL, DefaultFacebookAuthURL)
	c.FacebookTokenURL = orDefault(c.FacebookTokenURL, DefaultFacebookTokenURL)
	c.TwitterAuthURL = orDefault(c.TwitterAuthURL, DefaultTwitterAuthURL)
	c.TwitterTokenURL = orDefault(c.TwitterTokenURL, DefaultTwitterTokenURL)
	c.TwitterRevokeURL = orDefault(c.TwitterRevokeURL, DefaultTwitterRevokeURL)
	c.TwitterAPIURL = orDefault(c.TwitterAPIURL, DefaultTwitterAPIURL)
	if len(c.InstagramScopes) == 0 {
		c.InstagramScopes = DefaultInstagramScopes
	}
	if len(c.FacebookScopes) == 0 {
		c.FacebookScopes = DefaultFacebookScopes
	}
	if len(c.TwitterScopes) == 0 {
		c.TwitterScopes = DefaultTwitterScopes
	}
	return c
}

// NewRefreshers builds one refresher per supported platform.
func NewRefreshers(cfg Config) map[core.Platform]oauth.Refresher {
	cfg = cfg.withDefaults()
	return map[core.Platform]oauth.Refresher{
		core.PlatformInstagram: NewInstagram(cfg),
		core.PlatformTwitter:   NewTwitter(cfg),
		core.PlatformFacebook:  NewFacebook(cfg),
	}
}

// refreshFailed wraps a refresh error so callers can tell permanent failures
// from transient ones.
func refreshFailed(platform core.Platform, account *core.SocialAccount, err error) error {
	re := core.NewRefreshError(account, err)
	re.Platform = platform
	return re
}

// exchangeCode redeems an authorization code with cfg's token endpoint.
func exchangeCode(ctx context.Context, client *http.Client, cfg *oauth2.Config, code string, opts ...oauth2.AuthCodeOption) (*oauth2.Token, error) {
	return cfg.Exchange(context.WithValue(ctx, oauth2.HTTPClient, client), code, opts...)
}

// retrieveError converts oauth2 retrieval failures into API errors so the
// platform error code stays visible to classifiers.
func retrieveError(platform core.Platform, tokenURL string, err error) error {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) || re.Response == nil {
		return err
	}
	return &core.APIError{
		Platform:   platform,
		Method:     http.MethodPost,
		URL:        tokenURL,
		StatusCode: re.Response.StatusCode,
		Header:     re.Response.Header.Clone(),
		Body:       re.Body,
	}
}

func orDefault(value, fallback string) string {
	value = strings.TrimRight(strings.TrimSpace(value), "/")
	if value == "" {
		return fallback
	}
	return value
}

// tokenResponse is the common long-lived token payload.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (r tokenResponse) update(now time.Time) (core.TokenUpdate, error) {
	if r.AccessToken == "" {
		return core.TokenUpdate{}, fmt.Errorf("no access token in refresh response")
	}
	update := core.TokenUpdate{AccessToken: r.AccessToken}
	if r.ExpiresIn > 0 {
		expires := now.Add(time.Duration(r.ExpiresIn) * time.Second)
		update.TokenExpiresAt = &expires
	}
	return update, nil
}

// doJSON sends req and decodes a 2xx JSON body into out. Non-2xx responses
// become *core.APIError carrying the raw body.
func doJSON(client *http.Client, platform core.Platform, req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return fmt.Errorf("read %s response: %w", platform, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &core.APIError{
			Platform:   platform,
			Method:     req.Method,
			URL:        redactURL(req.URL.String()),
			StatusCode: resp.StatusCode,
			Header:     resp.Header.Clone(),
			Body:       body,
		}
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s response: %w", platform, err)
	}
	return nil
}

func newRequest(ctx context.Context, method, target string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	return req, nil
}

// redactURL strips the query string, which carries tokens and secrets.
func redactURL(raw string) string {
	if idx := strings.IndexByte(raw, '?'); idx >= 0 {
		return raw[:idx]
	}
	return raw
}
