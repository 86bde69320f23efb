package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"shoplist.app/internal/auth"
)

func (a *API) visibleBroadcasts(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFromContext(r.Context())
	items, err := a.deps.Broadcasts.Visible(r.Context(), claims.UserID)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"broadcasts": items})
}

func (a *API) confirmBroadcast(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		badRequest(w, r, err.Error())
		return
	}
	claims, _ := auth.ClaimsFromContext(r.Context())
	if err := a.deps.Broadcasts.Confirm(r.Context(), id, claims.UserID); err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "confirmed": true})
}
