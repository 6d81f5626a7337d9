package platform

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"golang.org/x/oauth2"

	"github.com/socialrelay/socialrelay/internal/core"
)

// Instagram extends long-lived Instagram tokens and connects accounts through
// the Basic Display authorization-code flow.
type Instagram struct {
	cfg Config
}

func NewInstagram(cfg Config) *Instagram {
	return &Instagram{cfg: cfg.withDefaults()}
}

func (i *Instagram) oauthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     i.cfg.Instagram.ClientID,
		ClientSecret: i.cfg.Instagram.ClientSecret,
		RedirectURL:  i.cfg.Instagram.RedirectURL,
		Scopes:       i.cfg.InstagramScopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   i.cfg.InstagramAuthURL,
			TokenURL:  i.cfg.InstagramTokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// Refresh exchanges a long-lived token for a new one with a fresh expiry.
func (i *Instagram) Refresh(ctx context.Context, account *core.SocialAccount) (core.TokenUpdate, error) {
	query := url.Values{}
	query.Set("grant_type", "ig_refresh_token")
	query.Set("access_token", account.AccessToken)

	var out tokenResponse
	if err := i.get(ctx, "/refresh_access_token", query, &out); err != nil {
		return core.TokenUpdate{}, refreshFailed(core.PlatformInstagram, account, err)
	}
	update, err := out.update(i.cfg.Clock())
	if err != nil {
		return core.TokenUpdate{}, refreshFailed(core.PlatformInstagram, account, err)
	}
	return update, nil
}

// Revoke is a no-op; Instagram has no revocation endpoint.
func (i *Instagram) Revoke(context.Context, *core.SocialAccount) error {
	return nil
}

// AuthCodeURL returns the consent URL for state. Instagram does not support
// PKCE, so verifier is ignored.
func (i *Instagram) AuthCodeURL(state, _ string) string {
	return i.oauthConfig().AuthCodeURL(state)
}

// Connect redeems the code for a short-lived token, trades that for a
// long-lived one and returns the connected account.
func (i *Instagram) Connect(ctx context.Context, code, _ string) ([]core.SocialAccount, error) {
	tok, err := exchangeCode(ctx, i.cfg.HTTPClient, i.oauthConfig(), code)
	if err != nil {
		return nil, retrieveError(core.PlatformInstagram, i.cfg.InstagramTokenURL, err)
	}

	query := url.Values{}
	query.Set("grant_type", "ig_exchange_token")
	query.Set("client_secret", i.cfg.Instagram.ClientSecret)
	query.Set("access_token", tok.AccessToken)

	var long tokenResponse
	if err := i.get(ctx, "/access_token", query, &long); err != nil {
		return nil, err
	}
	update, err := long.update(i.cfg.Clock())
	if err != nil {
		return nil, err
	}

	profileQuery := url.Values{}
	profileQuery.Set("fields", "id,username")
	profileQuery.Set("access_token", update.AccessToken)

	var profile struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	}
	if err := i.get(ctx, "/me", profileQuery, &profile); err != nil {
		return nil, err
	}
	if profile.ID == "" {
		return nil, errors.New("instagram profile response missing user id")
	}

	return []core.SocialAccount{{
		Platform:       core.PlatformInstagram,
		PlatformUserID: profile.ID,
		Username:       profile.Username,
		AccessToken:    update.AccessToken,
		TokenExpiresAt: update.TokenExpiresAt,
		Scopes:         i.cfg.InstagramScopes,
	}}, nil
}

func (i *Instagram) get(ctx context.Context, path string, query url.Values, out any) error {
	req, err := newRequest(ctx, http.MethodGet, i.cfg.InstagramGraphURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return err
	}
	return doJSON(i.cfg.HTTPClient, core.PlatformInstagram, req, out)
}
