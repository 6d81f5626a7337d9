package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/socialrelay/socialrelay/internal/core"
)

// NotificationsResponse lists a user's notifications, newest first.
type NotificationsResponse struct {
	Notifications []core.Notification `json:"notifications"`
	Unread        int                 `json:"unread"`
}

// ListNotifications handles GET /users/{id}/notifications?unread=true.
func (a *API) ListNotifications(w http.ResponseWriter, r *http.Request) {
	unreadOnly := r.URL.Query().Get("unread") == "true"
	list, err := a.store.ListNotifications(r.Context(), chi.URLParam(r, "id"), unreadOnly)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	if list == nil {
		list = []core.Notification{}
	}

	unread := 0
	for _, n := range list {
		if !n.IsRead {
			unread++
		}
	}
	writeJSON(w, http.StatusOK, NotificationsResponse{Notifications: list, Unread: unread})
}

// MarkNotificationRead handles POST /notifications/{id}/read.
func (a *API) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := a.store.MarkNotificationRead(r.Context(), id); err != nil {
		respondWithError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
