package platform

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"golang.org/x/oauth2"

	"github.com/socialrelay/socialrelay/internal/core"
)

// Facebook extends user tokens, removes app permissions and connects the
// pages a user manages.
type Facebook struct {
	cfg Config
}

func NewFacebook(cfg Config) *Facebook {
	return &Facebook{cfg: cfg.withDefaults()}
}

func (f *Facebook) oauthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     f.cfg.Facebook.ClientID,
		ClientSecret: f.cfg.Facebook.ClientSecret,
		RedirectURL:  f.cfg.Facebook.RedirectURL,
		Scopes:       f.cfg.FacebookScopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   f.cfg.FacebookAuthURL,
			TokenURL:  f.cfg.FacebookTokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// Refresh exchanges the current token for a long-lived one.
func (f *Facebook) Refresh(ctx context.Context, account *core.SocialAccount) (core.TokenUpdate, error) {
	update, err := f.extend(ctx, account.AccessToken)
	if err != nil {
		return core.TokenUpdate{}, refreshFailed(core.PlatformFacebook, account, err)
	}
	return update, nil
}

func (f *Facebook) extend(ctx context.Context, accessToken string) (core.TokenUpdate, error) {
	query := url.Values{}
	query.Set("grant_type", "fb_exchange_token")
	query.Set("client_id", f.cfg.Facebook.ClientID)
	query.Set("client_secret", f.cfg.Facebook.ClientSecret)
	query.Set("fb_exchange_token", accessToken)

	req, err := newRequest(ctx, http.MethodGet, f.cfg.FacebookGraphURL+"/oauth/access_token?"+query.Encode(), nil)
	if err != nil {
		return core.TokenUpdate{}, err
	}

	var out tokenResponse
	if err := doJSON(f.cfg.HTTPClient, core.PlatformFacebook, req, &out); err != nil {
		return core.TokenUpdate{}, err
	}
	return out.update(f.cfg.Clock())
}

// Revoke deletes every permission the user granted to the app.
func (f *Facebook) Revoke(ctx context.Context, account *core.SocialAccount) error {
	query := url.Values{}
	query.Set("access_token", account.AccessToken)

	req, err := newRequest(ctx, http.MethodDelete, f.cfg.FacebookGraphURL+"/me/permissions?"+query.Encode(), nil)
	if err != nil {
		return err
	}
	return doJSON(f.cfg.HTTPClient, core.PlatformFacebook, req, nil)
}

// AuthCodeURL returns the consent URL for state. The Facebook dialog does not
// take a PKCE challenge, so verifier is ignored.
func (f *Facebook) AuthCodeURL(state, _ string) string {
	return f.oauthConfig().AuthCodeURL(state)
}

// Connect redeems the code, extends the user token and returns one account
// per page the user manages. Each account holds that page's token.
func (f *Facebook) Connect(ctx context.Context, code, _ string) ([]core.SocialAccount, error) {
	tok, err := exchangeCode(ctx, f.cfg.HTTPClient, f.oauthConfig(), code)
	if err != nil {
		return nil, retrieveError(core.PlatformFacebook, f.cfg.FacebookTokenURL, err)
	}
	user, err := f.extend(ctx, tok.AccessToken)
	if err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("fields", "id,name,access_token")
	query.Set("access_token", user.AccessToken)

	req, err := newRequest(ctx, http.MethodGet, f.cfg.FacebookGraphURL+"/me/accounts?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Data []struct {
			ID          string `json:"id"`
			Name        string `json:"name"`
			AccessToken string `json:"access_token"`
		} `json:"data"`
	}
	if err := doJSON(f.cfg.HTTPClient, core.PlatformFacebook, req, &out); err != nil {
		return nil, err
	}

	accounts := make([]core.SocialAccount, 0, len(out.Data))
	for _, page := range out.Data {
		if page.ID == "" || page.AccessToken == "" {
			continue
		}
		accounts = append(accounts, core.SocialAccount{
			Platform:       core.PlatformFacebook,
			PlatformUserID: page.ID,
			DisplayName:    page.Name,
			AccessToken:    page.AccessToken,
			TokenExpiresAt: user.TokenExpiresAt,
			Scopes:         f.cfg.FacebookScopes,
		})
	}
	if len(accounts) == 0 {
		return nil, errors.New("facebook user manages no pages")
	}
	return accounts, nil
}
