package presence

import (
	"encoding/json"
	"errors"
	"net/http"

	"codesync/middleware"
	"codesync/store"
)

type Handler struct {
	Tracker *Tracker
	Roles   store.RoleStore
}

func NewHandler(tracker *Tracker, roles store.RoleStore) *Handler {
	return &Handler{Tracker: tracker, Roles: roles}
}

// ListPresence reports who is currently active on a channel. Members only;
// the channel is keyed by its document id.
func (h *Handler) ListPresence(w http.ResponseWriter, r *http.Request) {
	channelID := r.URL.Query().Get("channelId")
	if channelID == "" {
		http.Error(w, "Missing channelId parameter", http.StatusBadRequest)
		return
	}

	actor, _ := middleware.IdentityFrom(r.Context())
	if _, err := h.Roles.RoleOf(r.Context(), channelID, actor.UserID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "Permission denied", http.StatusForbidden)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.Tracker.List(channelID))
}
