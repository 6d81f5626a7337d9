package engine

import (
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/socialrelay/socialrelay/internal/core"
)

// Canonical rate limit response headers.
const (
	HeaderRateLimitLimit     = "X-Rate-Limit-Limit"
	HeaderRateLimitRemaining = "X-Rate-Limit-Remaining"
	HeaderRateLimitReset     = "X-Rate-Limit-Reset"
)

// RateLimiter tracks a sliding-window request budget per key.
//
// A window opens lazily on the first check for a key and is replaced when it
// expires or when the platform reports authoritative limits in headers.
type RateLimiter struct {
	Name        string
	MaxRequests int
	Window      time.Duration
	Clock       func() time.Time

	mu      sync.Mutex
	entries map[string]*limitEntry
}

type limitEntry struct {
	mu    sync.Mutex
	limit core.RateLimit
	set   bool
}

// RateLimitPreset configures the limiter for one platform/resource pair.
type RateLimitPreset struct {
	Name        string        `json:"name" mapstructure:"name"`
	MaxRequests int           `json:"max_requests" mapstructure:"max_requests"`
	Window      time.Duration `json:"window" mapstructure:"window"`
}

// DefaultPresets are the published platform quotas.
var DefaultPresets = []RateLimitPreset{
	{Name: "instagram", MaxRequests: 200, Window: time.Hour},
	{Name: "instagram-graph", MaxRequests: 4800, Window: time.Hour},
	{Name: "twitter", MaxRequests: 300, Window: 15 * time.Minute},
	{Name: "twitter-upload", MaxRequests: 300, Window: 15 * time.Minute},
	{Name: "facebook", MaxRequests: 600, Window: time.Hour},
	{Name: "facebook-page", MaxRequests: 4800, Window: time.Hour},
}

// NewRateLimiter creates a limiter allowing maxRequests per window.
func NewRateLimiter(name string, maxRequests int, window time.Duration) *RateLimiter {
	if maxRequests < 1 {
		maxRequests = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{
		Name:        name,
		MaxRequests: maxRequests,
		Window:      window,
		entries:     make(map[string]*limitEntry),
	}
}

// CheckLimit admits or rejects one call for identifier and returns the
// budget after the decision. Admission consumes one request.
func (r *RateLimiter) CheckLimit(identifier string) (bool, core.RateLimit) {
	entry := r.entry(r.key(identifier))
	entry.mu.Lock()
	defer entry.mu.Unlock()

	now := r.now()
	if !entry.set || !now.Before(entry.limit.ResetTime) {
		entry.limit = r.freshWindow(now)
		entry.set = true
	}

	limit := entry.limit
	span := limit.ResetTime.Sub(limit.WindowStart)
	progress := 0.0
	if span > 0 {
		progress = float64(now.Sub(limit.WindowStart)) / float64(span)
	}
	allowedSoFar := int(math.Floor(float64(limit.Limit) * progress))
	used := limit.Limit - limit.Remaining

	if used >= allowedSoFar && limit.Remaining <= 0 {
		return false, limit
	}

	if entry.limit.Remaining > 0 {
		entry.limit.Remaining--
	}
	return true, entry.limit
}

// UpdateFromHeaders overwrites local state with the platform-reported budget.
// Headers must already use the canonical x-rate-limit-* names.
func (r *RateLimiter) UpdateFromHeaders(identifier string, header http.Header) {
	if header == nil {
		return
	}

	limit := headerInt(header, HeaderRateLimitLimit)
	if limit <= 0 {
		return
	}
	remaining := headerInt(header, HeaderRateLimitRemaining)
	if remaining < 0 {
		remaining = 0
	}
	if remaining > limit {
		remaining = limit
	}

	now := r.now()
	resetTime := time.Unix(int64(headerInt(header, HeaderRateLimitReset)), 0).UTC()
	if !resetTime.After(now) {
		resetTime = now.Add(r.window())
	}

	entry := r.entry(r.key(identifier))
	entry.mu.Lock()
	entry.limit = core.RateLimit{
		Limit:       limit,
		Remaining:   remaining,
		ResetTime:   resetTime,
		WindowStart: now,
	}
	entry.set = true
	entry.mu.Unlock()
}

// GetStatus returns the current budget for identifier, if any.
func (r *RateLimiter) GetStatus(identifier string) (core.RateLimit, bool) {
	r.mu.Lock()
	entry, ok := r.entries[r.key(identifier)]
	r.mu.Unlock()
	if !ok {
		return core.RateLimit{}, false
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.limit, entry.set
}

// GetAllStatus returns a snapshot of every tracked key.
func (r *RateLimiter) GetAllStatus() map[string]core.RateLimit {
	r.mu.Lock()
	entries := make(map[string]*limitEntry, len(r.entries))
	for key, entry := range r.entries {
		entries[key] = entry
	}
	r.mu.Unlock()

	out := make(map[string]core.RateLimit, len(entries))
	for key, entry := range entries {
		entry.mu.Lock()
		if entry.set {
			out[key] = entry.limit
		}
		entry.mu.Unlock()
	}
	return out
}

// Clear drops all tracked state.
func (r *RateLimiter) Clear() {
	r.mu.Lock()
	r.entries = make(map[string]*limitEntry)
	r.mu.Unlock()
}

func (r *RateLimiter) entry(key string) *limitEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.entries == nil {
		r.entries = make(map[string]*limitEntry)
	}
	entry, ok := r.entries[key]
	if !ok {
		entry = &limitEntry{}
		r.entries[key] = entry
	}
	return entry
}

func (r *RateLimiter) freshWindow(now time.Time) core.RateLimit {
	budget := r.MaxRequests
	if budget < 1 {
		budget = 1
	}
	return core.RateLimit{
		Limit:       budget,
		Remaining:   budget,
		ResetTime:   now.Add(r.window()),
		WindowStart: now,
	}
}

func (r *RateLimiter) key(identifier string) string {
	if r.Name == "" {
		return identifier
	}
	return r.Name + ":" + identifier
}

func (r *RateLimiter) window() time.Duration {
	if r.Window <= 0 {
		return time.Minute
	}
	return r.Window
}

func (r *RateLimiter) now() time.Time {
	if r != nil && r.Clock != nil {
		return r.Clock()
	}
	return time.Now().UTC()
}

func headerInt(header http.Header, name string) int {
	value, err := strconv.Atoi(strings.TrimSpace(header.Get(name)))
	if err != nil {
		return 0
	}
	return value
}

// NormalizeRateLimitHeaders maps platform header variants onto the canonical
// x-rate-limit-* names. Canonical headers already present win.
func NormalizeRateLimitHeaders(header http.Header) http.Header {
	out := make(http.Header, 3)
	pairs := [][2]string{
		{HeaderRateLimitLimit, "X-Ratelimit-Limit"},
		{HeaderRateLimitRemaining, "X-Ratelimit-Remaining"},
		{HeaderRateLimitReset, "X-Ratelimit-Reset"},
	}
	for _, pair := range pairs {
		value := strings.TrimSpace(header.Get(pair[0]))
		if value == "" {
			value = strings.TrimSpace(header.Get(pair[1]))
		}
		if value != "" {
			out.Set(pair[0], value)
		}
	}
	return out
}

// RateLimiters holds one limiter per configured preset.
type RateLimiters struct {
	limiters map[string]*RateLimiter
}

// NewRateLimiters builds limiters for presets, applying overrides by name.
func NewRateLimiters(presets []RateLimitPreset, overrides map[string]RateLimitPreset) *RateLimiters {
	set := &RateLimiters{limiters: make(map[string]*RateLimiter, len(presets))}
	for _, preset := range presets {
		set.add(preset)
	}
	set.ApplyOverrides(overrides)
	return set
}

// ApplyOverrides replaces or adds presets. Zero fields keep the current value.
func (s *RateLimiters) ApplyOverrides(overrides map[string]RateLimitPreset) {
	if s == nil || len(overrides) == 0 {
		return
	}
	for name, override := range overrides {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		preset := RateLimitPreset{Name: name}
		if existing, ok := s.limiters[name]; ok {
			preset.MaxRequests = existing.MaxRequests
			preset.Window = existing.Window
		}
		if override.MaxRequests > 0 {
			preset.MaxRequests = override.MaxRequests
		}
		if override.Window > 0 {
			preset.Window = override.Window
		}
		s.add(preset)
	}
}

// ApplySafetyMargin scales every current limiter's budget by a ratio in (0, 1].
func (s *RateLimiters) ApplySafetyMargin(margin float64) {
	if s == nil || margin <= 0 || margin > 1 {
		return
	}
	for _, limiter := range s.limiters {
		adjusted := int(math.Floor(float64(limiter.MaxRequests) * margin))
		if adjusted < 1 {
			adjusted = 1
		}
		limiter.MaxRequests = adjusted
	}
}

// Get returns the limiter for a preset name.
func (s *RateLimiters) Get(name string) (*RateLimiter, bool) {
	if s == nil {
		return nil, false
	}
	limiter, ok := s.limiters[name]
	return limiter, ok
}

// ForPlatform returns the account-level limiter for a platform.
func (s *RateLimiters) ForPlatform(platform core.Platform) (*RateLimiter, bool) {
	return s.Get(string(platform))
}

// Names returns the configured preset names in sorted order.
func (s *RateLimiters) Names() []string {
	if s == nil {
		return nil
	}
	names := make([]string, 0, len(s.limiters))
	for name := range s.limiters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Presets returns the effective preset configuration.
func (s *RateLimiters) Presets() []RateLimitPreset {
	names := s.Names()
	out := make([]RateLimitPreset, 0, len(names))
	for _, name := range names {
		limiter := s.limiters[name]
		out = append(out, RateLimitPreset{Name: name, MaxRequests: limiter.MaxRequests, Window: limiter.Window})
	}
	return out
}

// Snapshot returns every tracked key across all limiters.
func (s *RateLimiters) Snapshot() map[string]core.RateLimit {
	out := make(map[string]core.RateLimit)
	if s == nil {
		return out
	}
	for _, limiter := range s.limiters {
		for key, limit := range limiter.GetAllStatus() {
			out[key] = limit
		}
	}
	return out
}

func (s *RateLimiters) add(preset RateLimitPreset) {
	s.limiters[preset.Name] = NewRateLimiter(preset.Name, preset.MaxRequests, preset.Window)
}
