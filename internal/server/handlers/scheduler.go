package handlers

import "net/http"

// SchedulerStatus handles GET /scheduler.
func (a *API) SchedulerStatus(w http.ResponseWriter, r *http.Request) {
	if a.scheduler == nil {
		unavailable(w, r, "token refresh scheduler")
		return
	}
	writeJSON(w, http.StatusOK, a.scheduler.Status())
}

// ForceSchedulerRefresh handles POST /scheduler/refresh and runs one cycle
// synchronously.
func (a *API) ForceSchedulerRefresh(w http.ResponseWriter, r *http.Request) {
	if a.scheduler == nil {
		unavailable(w, r, "token refresh scheduler")
		return
	}
	stats, err := a.scheduler.ForceRefresh(r.Context())
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
