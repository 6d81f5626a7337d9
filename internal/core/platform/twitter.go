package platform

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"

	"github.com/socialrelay/socialrelay/internal/core"
)

// Twitter implements the OAuth 2.0 refresh-token grant, revocation and the
// PKCE authorization-code flow.
type Twitter struct {
	cfg Config
}

func NewTwitter(cfg Config) *Twitter {
	return &Twitter{cfg: cfg.withDefaults()}
}

// Profile is the authenticated Twitter user.
type Profile struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
}

// Grant is the result of an authorization-code exchange.
type Grant struct {
	Token  core.TokenUpdate
	Scopes []string
}

func (t *Twitter) oauthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     t.cfg.Twitter.ClientID,
		ClientSecret: t.cfg.Twitter.ClientSecret,
		RedirectURL:  t.cfg.Twitter.RedirectURL,
		Scopes:       t.cfg.TwitterScopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   t.cfg.TwitterAuthURL,
			TokenURL:  t.cfg.TwitterTokenURL,
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}
}

// Refresh redeems the stored refresh token. Twitter rotates refresh tokens,
// so the returned update carries the new one.
func (t *Twitter) Refresh(ctx context.Context, account *core.SocialAccount) (core.TokenUpdate, error) {
	if account.RefreshToken == "" {
		return core.TokenUpdate{}, refreshFailed(core.PlatformTwitter, account, core.ErrNoRefreshToken)
	}

	clientCtx := context.WithValue(ctx, oauth2.HTTPClient, t.cfg.HTTPClient)
	src := t.oauthConfig().TokenSource(clientCtx, &oauth2.Token{RefreshToken: account.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		return core.TokenUpdate{}, refreshFailed(core.PlatformTwitter, account, retrieveError(core.PlatformTwitter, t.cfg.TwitterTokenURL, err))
	}
	return tokenUpdate(tok), nil
}

// Revoke invalidates the access token.
func (t *Twitter) Revoke(ctx context.Context, account *core.SocialAccount) error {
	form := url.Values{}
	form.Set("token", account.AccessToken)
	form.Set("token_type_hint", "access_token")

	req, err := newRequest(ctx, http.MethodPost, t.cfg.TwitterRevokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(url.QueryEscape(t.cfg.Twitter.ClientID), url.QueryEscape(t.cfg.Twitter.ClientSecret))
	return doJSON(t.cfg.HTTPClient, core.PlatformTwitter, req, nil)
}

// AuthCodeURL returns the consent URL for state using an S256 challenge
// derived from verifier.
func (t *Twitter) AuthCodeURL(state, verifier string) string {
	return t.oauthConfig().AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))
}

// Exchange redeems an authorization code.
func (t *Twitter) Exchange(ctx context.Context, code, verifier string) (Grant, error) {
	tok, err := exchangeCode(ctx, t.cfg.HTTPClient, t.oauthConfig(), code, oauth2.VerifierOption(verifier))
	if err != nil {
		return Grant{}, retrieveError(core.PlatformTwitter, t.cfg.TwitterTokenURL, err)
	}

	grant := Grant{Token: tokenUpdate(tok)}
	if scope, ok := tok.Extra("scope").(string); ok && scope != "" {
		grant.Scopes = strings.Fields(scope)
	}
	return grant, nil
}

// Me returns the profile of the token's owner.
func (t *Twitter) Me(ctx context.Context, accessToken string) (Profile, error) {
	req, err := newRequest(ctx, http.MethodGet, t.cfg.TwitterAPIURL+"/users/me", nil)
	if err != nil {
		return Profile{}, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	var out struct {
		Data Profile `json:"data"`
	}
	if err := doJSON(t.cfg.HTTPClient, core.PlatformTwitter, req, &out); err != nil {
		return Profile{}, err
	}
	if out.Data.ID == "" {
		return Profile{}, errors.New("twitter profile response missing user id")
	}
	return out.Data, nil
}

// Connect redeems an authorization code and returns the Twitter account it
// grants access to.
func (t *Twitter) Connect(ctx context.Context, code, verifier string) ([]core.SocialAccount, error) {
	grant, err := t.Exchange(ctx, code, verifier)
	if err != nil {
		return nil, err
	}
	profile, err := t.Me(ctx, grant.Token.AccessToken)
	if err != nil {
		return nil, err
	}
	return []core.SocialAccount{{
		Platform:       core.PlatformTwitter,
		PlatformUserID: profile.ID,
		Username:       profile.Username,
		DisplayName:    profile.Name,
		AccessToken:    grant.Token.AccessToken,
		RefreshToken:   grant.Token.RefreshToken,
		TokenExpiresAt: grant.Token.TokenExpiresAt,
		Scopes:         grant.Scopes,
	}}, nil
}

func tokenUpdate(tok *oauth2.Token) core.TokenUpdate {
	update := core.TokenUpdate{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
	}
	if !tok.Expiry.IsZero() {
		expires := tok.Expiry.UTC()
		update.TokenExpiresAt = &expires
	}
	return update
}
