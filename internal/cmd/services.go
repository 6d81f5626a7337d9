package cmd

import (
	"context"
	"fmt"
	"net/http"

	"github.com/socialrelay/socialrelay/internal/config"
	"github.com/socialrelay/socialrelay/internal/core"
	"github.com/socialrelay/socialrelay/internal/core/engine"
	"github.com/socialrelay/socialrelay/internal/core/oauth"
	"github.com/socialrelay/socialrelay/internal/core/platform"
	"github.com/socialrelay/socialrelay/internal/core/store"
	"github.com/socialrelay/socialrelay/internal/observability"
	"github.com/socialrelay/socialrelay/internal/server/handlers"
)

// services is the object graph shared by serve and the CLI commands.
type services struct {
	cfg        *config.Config
	store      *store.Store
	tokens     *oauth.Manager
	limiters   *engine.RateLimiters
	client     *engine.SocialAPIClient
	scheduler  *oauth.Scheduler
	connectors map[core.Platform]handlers.Connector
}

// newServices loads configuration and wires every component. Callers must
// Close the result.
func newServices(ctx context.Context) (*services, error) {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return nil, err
	}

	db, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	svc, err := wireServices(cfg, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return svc, nil
}

func wireServices(cfg *config.Config, db *store.Store) (*services, error) {
	logger := observability.Logger()
	httpClient := &http.Client{Timeout: cfg.Client.Timeout}

	platformCfg := platformConfig(cfg, httpClient)
	tokens := oauth.NewManager(db, platform.NewRefreshers(platformCfg), oauth.ManagerOptions{
		Buffer: cfg.Tokens.RefreshBuffer,
		Logger: logger,
	})

	limiters := newLimiters(cfg.RateLimits, cfg.RateLimitMargin)

	retry, err := retryConfigs(cfg.Retry)
	if err != nil {
		return nil, err
	}

	client := engine.NewSocialAPIClient(limiters, tokens, engine.ClientOptions{
		HTTPClient: httpClient,
		BaseURLs: map[core.Platform]string{
			core.PlatformInstagram: cfg.Platforms.Instagram.APIURL,
			core.PlatformFacebook:  cfg.Platforms.Facebook.APIURL,
			core.PlatformTwitter:   cfg.Platforms.Twitter.APIURL,
		},
		Retry:      retry,
		BatchPause: cfg.Client.BatchPause,
		Logger:     logger,
	})

	return &services{
		cfg:        cfg,
		store:      db,
		tokens:     tokens,
		limiters:   limiters,
		client:     client,
		scheduler:  oauth.NewScheduler(db, tokens, cfg.Scheduler.SchedulerConfig, logger),
		connectors: newConnectors(cfg.Platforms, platformCfg),
	}, nil
}

func (s *services) Close() error {
	if s == nil {
		return nil
	}
	s.scheduler.Stop()
	return s.store.Close()
}

// newLimiters builds the built-in presets with configured overrides applied
// first and the safety margin scaled over the result.
func newLimiters(overrides map[string]engine.RateLimitPreset, margin float64) *engine.RateLimiters {
	limiters := engine.NewRateLimiters(engine.DefaultPresets, nil)
	limiters.ApplyOverrides(overrides)
	limiters.ApplySafetyMargin(margin)
	return limiters
}

// newConnectors offers a connect flow for every platform with a client ID.
func newConnectors(p config.PlatformsConfig, pc platform.Config) map[core.Platform]handlers.Connector {
	out := make(map[core.Platform]handlers.Connector)
	if p.Instagram.ClientID != "" {
		out[core.PlatformInstagram] = platform.NewInstagram(pc)
	}
	if p.Facebook.ClientID != "" {
		out[core.PlatformFacebook] = platform.NewFacebook(pc)
	}
	if p.Twitter.ClientID != "" {
		out[core.PlatformTwitter] = platform.NewTwitter(pc)
	}
	return out
}

func platformConfig(cfg *config.Config, httpClient *http.Client) platform.Config {
	p := cfg.Platforms
	return platform.Config{
		HTTPClient:        httpClient,
		Instagram:         p.Instagram.Credentials,
		InstagramGraphURL: p.Instagram.APIURL,
		InstagramAuthURL:  p.Instagram.AuthURL,
		InstagramTokenURL: p.Instagram.TokenURL,
		InstagramScopes:   p.Instagram.Scopes,
		Facebook:          p.Facebook.Credentials,
		FacebookGraphURL:  p.Facebook.APIURL,
		FacebookAuthURL:   p.Facebook.AuthURL,
		FacebookTokenURL:  p.Facebook.TokenURL,
		FacebookScopes:    p.Facebook.Scopes,
		Twitter:           p.Twitter.Credentials,
		TwitterAuthURL:    p.Twitter.AuthURL,
		TwitterTokenURL:   p.Twitter.TokenURL,
		TwitterRevokeURL:  p.Twitter.RevokeURL,
		TwitterAPIURL:     p.Twitter.APIURL,
		TwitterScopes:     p.Twitter.Scopes,
	}
}

// retryConfigs layers configured overrides over each platform's policy.
func retryConfigs(overrides map[string]engine.RetryConfig) (map[core.Platform]engine.RetryConfig, error) {
	out := make(map[core.Platform]engine.RetryConfig, len(core.Platforms))
	for _, p := range core.Platforms {
		out[p] = engine.RetryConfigForPlatform(p)
	}
	for name, o := range overrides {
		p, err := core.ParsePlatform(name)
		if err != nil {
			return nil, fmt.Errorf("retry: %w", err)
		}
		out[p] = out[p].WithOverrides(o)
	}
	return out, nil
}
