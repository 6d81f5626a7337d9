package handlers

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/socialrelay/socialrelay/internal/core"
	"github.com/socialrelay/socialrelay/internal/core/engine"
	apperrors "github.com/socialrelay/socialrelay/internal/errors"
)

// RateLimitsResponse shows the configured presets and every tracked budget.
type RateLimitsResponse struct {
	Presets []engine.RateLimitPreset  `json:"presets"`
	Status  map[string]core.RateLimit `json:"status"`
}

// RateLimitStatusResponse is the budget of one identifier under one preset.
type RateLimitStatusResponse struct {
	Preset     string          `json:"preset"`
	Identifier string          `json:"identifier"`
	Tracked    bool            `json:"tracked"`
	Limit      *core.RateLimit `json:"limit,omitempty"`
}

// ListRateLimits handles GET /rate-limits.
func (a *API) ListRateLimits(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, RateLimitsResponse{
		Presets: a.client.Limiters().Presets(),
		Status:  a.client.GetAllRateLimitStatus(),
	})
}

// RateLimitStatus handles GET /rate-limits/{preset}/{id}.
func (a *API) RateLimitStatus(w http.ResponseWriter, r *http.Request) {
	preset := chi.URLParam(r, "preset")
	id := chi.URLParam(r, "id")

	limiter, ok := a.client.Limiters().Get(preset)
	if !ok {
		respondWithError(w, r, apperrors.Wrap(r.Context(), apperrors.CodeNotFound, nil, fmt.Sprintf("unknown rate limit preset %q", preset)))
		return
	}

	resp := RateLimitStatusResponse{Preset: preset, Identifier: id}
	if limit, tracked := limiter.GetStatus(id); tracked {
		resp.Tracked = true
		resp.Limit = &limit
	}
	writeJSON(w, http.StatusOK, resp)
}
