package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/socialrelay/socialrelay/internal/core"
	"github.com/socialrelay/socialrelay/internal/metrics"
)

const (
	defaultBatchPause   = 100 * time.Millisecond
	maxResponseBodySize = 4 << 20
)

// DefaultBaseURLs are the platform API roots used for relative endpoints.
var DefaultBaseURLs = map[core.Platform]string{
	core.PlatformInstagram: "https://graph.instagram.com",
	core.PlatformTwitter:   "https://api.twitter.com/2",
	core.PlatformFacebook:  "https://graph.facebook.com/v18.0",
}

// TokenSource yields a usable access token for an account.
type TokenSource interface {
	GetValidToken(ctx context.Context, accountID string) (string, bool)
}

// APIRequest is one outbound platform call.
type APIRequest struct {
	Platform  core.Platform `json:"platform" validate:"required,oneof=instagram twitter facebook"`
	AccountID string        `json:"account_id" validate:"required"`
	// Preset selects a resource-specific limiter such as "facebook-page".
	// Empty means the platform limiter.
	Preset   string      `json:"preset,omitempty"`
	Method   string      `json:"method" validate:"omitempty,oneof=GET POST PUT PATCH DELETE"`
	Endpoint string      `json:"endpoint" validate:"required"`
	Query    url.Values  `json:"query,omitempty"`
	Body     any         `json:"body,omitempty"`
	Header   http.Header `json:"-"`
}

// APIResponse is a successful platform response.
type APIResponse struct {
	Data      json.RawMessage `json:"data,omitempty"`
	Status    int             `json:"status"`
	Header    http.Header     `json:"headers,omitempty"`
	RateLimit *core.RateLimit `json:"rate_limit,omitempty"`
}

// BatchResult pairs a batch entry with its outcome.
type BatchResult struct {
	Index    int
	Request  APIRequest
	Response *APIResponse
	Err      error
}

// ClientOptions configures a SocialAPIClient.
type ClientOptions struct {
	HTTPClient *http.Client
	BaseURLs   map[core.Platform]string
	Retry      map[core.Platform]RetryConfig
	BatchPause time.Duration
	Logger     core.Logger
}

// SocialAPIClient sends platform calls through admission control, token
// lookup and retry.
type SocialAPIClient struct {
	limiters   *RateLimiters
	tokens     TokenSource
	httpClient *http.Client
	baseURLs   map[core.Platform]string
	retry      map[core.Platform]*RetryHandler
	batchPause time.Duration
	logger     core.Logger
}

// NewSocialAPIClient wires the client. Platforms without a retry override use
// their preset policy.
func NewSocialAPIClient(limiters *RateLimiters, tokens TokenSource, opts ClientOptions) *SocialAPIClient {
	logger := opts.Logger
	if logger == nil {
		logger = core.NopLogger()
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	baseURLs := make(map[core.Platform]string, len(DefaultBaseURLs))
	for platform, base := range DefaultBaseURLs {
		baseURLs[platform] = base
	}
	for platform, base := range opts.BaseURLs {
		if strings.TrimSpace(base) != "" {
			baseURLs[platform] = strings.TrimRight(base, "/")
		}
	}
	retry := make(map[core.Platform]*RetryHandler, len(core.Platforms))
	for _, platform := range core.Platforms {
		cfg, ok := opts.Retry[platform]
		if !ok {
			cfg = RetryConfigForPlatform(platform)
		}
		retry[platform] = NewRetryHandler(cfg, logger)
	}
	pause := opts.BatchPause
	if pause <= 0 {
		pause = defaultBatchPause
	}
	if limiters == nil {
		limiters = NewRateLimiters(DefaultPresets, nil)
	}

	return &SocialAPIClient{
		limiters:   limiters,
		tokens:     tokens,
		httpClient: httpClient,
		baseURLs:   baseURLs,
		retry:      retry,
		batchPause: pause,
		logger:     logger,
	}
}

// Request performs one call. A local rate limit denial returns
// *core.RateLimitError without touching the network.
func (c *SocialAPIClient) Request(ctx context.Context, req APIRequest) (*APIResponse, error) {
	if !req.Platform.Valid() {
		return nil, fmt.Errorf("%w: %s", core.ErrUnsupportedPlatform, req.Platform)
	}
	limiter, err := c.limiterFor(req)
	if err != nil {
		return nil, err
	}

	allowed, limit := limiter.CheckLimit(req.AccountID)
	if !allowed {
		wait := limit.ResetTime.Sub(limiter.now())
		if wait < 0 {
			wait = 0
		}
		metrics.RecordRateLimitDenied(limiter.Name)
		c.logger.Warn("Rate limit exceeded",
			zap.String("preset", limiter.Name),
			zap.String("account_id", req.AccountID),
			zap.Duration("wait", wait))
		return nil, &core.RateLimitError{Key: limiter.key(req.AccountID), Limit: limit, Wait: wait}
	}

	handler := c.retry[req.Platform]
	result := Execute(ctx, handler, func(ctx context.Context) (*APIResponse, error) {
		return c.send(ctx, limiter, req)
	})
	metrics.RecordRetryAttempts(string(req.Platform), result.Attempts, result.Success)
	if !result.Success {
		return nil, result.Err
	}
	return result.Data, nil
}

// BatchRequest sends requests one after another with a short pause between
// them. Failed entries are logged and reported in their result, and do not
// stop the batch.
func (c *SocialAPIClient) BatchRequest(ctx context.Context, reqs []APIRequest) []BatchResult {
	results := make([]BatchResult, 0, len(reqs))
	pacer := rate.NewLimiter(rate.Every(c.batchPause), 1)

	for i, req := range reqs {
		if err := pacer.Wait(ctx); err != nil {
			results = append(results, BatchResult{Index: i, Request: req, Err: err})
			continue
		}
		resp, err := c.Request(ctx, req)
		if err != nil {
			c.logger.Warn("Batch request failed",
				zap.Int("index", i),
				zap.String("platform", string(req.Platform)),
				zap.String("endpoint", req.Endpoint),
				zap.Error(err))
		}
		results = append(results, BatchResult{Index: i, Request: req, Response: resp, Err: err})
	}
	return results
}

// GetRateLimitStatus returns the platform limiter state for an account.
func (c *SocialAPIClient) GetRateLimitStatus(platform core.Platform, accountID string) (core.RateLimit, bool) {
	limiter, ok := c.limiters.ForPlatform(platform)
	if !ok {
		return core.RateLimit{}, false
	}
	return limiter.GetStatus(accountID)
}

// GetAllRateLimitStatus returns every tracked key across all limiters.
func (c *SocialAPIClient) GetAllRateLimitStatus() map[string]core.RateLimit {
	return c.limiters.Snapshot()
}

// Limiters exposes the configured limiter set.
func (c *SocialAPIClient) Limiters() *RateLimiters {
	return c.limiters
}

func (c *SocialAPIClient) limiterFor(req APIRequest) (*RateLimiter, error) {
	name := strings.TrimSpace(req.Preset)
	if name == "" {
		name = string(req.Platform)
	}
	limiter, ok := c.limiters.Get(name)
	if !ok {
		return nil, fmt.Errorf("unknown rate limit preset %q", name)
	}
	return limiter, nil
}

func (c *SocialAPIClient) send(ctx context.Context, limiter *RateLimiter, req APIRequest) (*APIResponse, error) {
	token, ok := c.tokens.GetValidToken(ctx, req.AccountID)
	if !ok || token == "" {
		return nil, core.ErrNoValidToken
	}

	target, err := c.resolveURL(req)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if req.Body != nil {
		payload, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = http.MethodGet
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for name, values := range req.Header {
		for _, value := range values {
			httpReq.Header.Add(name, value)
		}
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		metrics.RecordPlatformRequest(string(req.Platform), 0, time.Since(start))
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	metrics.RecordPlatformRequest(string(req.Platform), resp.StatusCode, time.Since(start))

	limiter.UpdateFromHeaders(req.AccountID, NormalizeRateLimitHeaders(resp.Header))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &core.APIError{
			Platform:   req.Platform,
			Method:     method,
			URL:        target,
			StatusCode: resp.StatusCode,
			Header:     resp.Header.Clone(),
			Body:       raw,
		}
	}

	out := &APIResponse{
		Data:   responseData(raw),
		Status: resp.StatusCode,
		Header: resp.Header.Clone(),
	}
	if status, ok := limiter.GetStatus(req.AccountID); ok {
		out.RateLimit = &status
	}
	return out, nil
}

func (c *SocialAPIClient) resolveURL(req APIRequest) (string, error) {
	endpoint := strings.TrimSpace(req.Endpoint)
	if endpoint == "" {
		return "", fmt.Errorf("endpoint is required")
	}

	var target *url.URL
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		parsed, err := url.Parse(endpoint)
		if err != nil {
			return "", fmt.Errorf("parse endpoint: %w", err)
		}
		target = parsed
	} else {
		base, ok := c.baseURLs[req.Platform]
		if !ok {
			return "", fmt.Errorf("%w: %s", core.ErrUnsupportedPlatform, req.Platform)
		}
		parsed, err := url.Parse(base + "/" + strings.TrimLeft(endpoint, "/"))
		if err != nil {
			return "", fmt.Errorf("parse endpoint: %w", err)
		}
		target = parsed
	}

	if len(req.Query) > 0 {
		query := target.Query()
		for key, values := range req.Query {
			for _, value := range values {
				query.Add(key, value)
			}
		}
		target.RawQuery = query.Encode()
	}
	return target.String(), nil
}

func responseData(raw []byte) json.RawMessage {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil
	}
	if gjson.ValidBytes(trimmed) {
		return json.RawMessage(trimmed)
	}
	quoted, _ := json.Marshal(string(trimmed))
	return json.RawMessage(quoted)
}
