package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"shoplist.app/internal/audit"
	"shoplist.app/internal/broadcast"
)

// passphraseBody is embedded in every passphrase-channel request so the
// strict decoder accepts the field the gate already consumed.
type passphraseBody struct {
	Password string `json:"password"`
}

func (a *API) adminListUsers(w http.ResponseWriter, r *http.Request) {
	var req passphraseBody
	if err := decodeOptionalJSON(r, &req); err != nil {
		badRequest(w, r, err.Error())
		return
	}
	users, err := a.deps.Auth.ListIdentities(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

type toggleAdminRequest struct {
	UserID string `json:"userId"`
}

func (a *API) adminToggleByToken(w http.ResponseWriter, r *http.Request) {
	var req toggleAdminRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, r, err.Error())
		return
	}
	a.toggleAdmin(w, r, req.UserID)
}

func (a *API) adminToggleUser(w http.ResponseWriter, r *http.Request) {
	var req passphraseBody
	if err := decodeOptionalJSON(r, &req); err != nil {
		badRequest(w, r, err.Error())
		return
	}
	a.toggleAdmin(w, r, chi.URLParam(r, "id"))
}

func (a *API) toggleAdmin(w http.ResponseWriter, r *http.Request, userID string) {
	id, err := a.deps.Auth.ToggleAdmin(r.Context(), userID)
	if err != nil {
		fail(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "admin.user.toggled", map[string]any{
		"target":   id.ID,
		"is_admin": id.IsAdmin,
	})
	writeJSON(w, http.StatusOK, map[string]any{"user": id})
}

func (a *API) adminDeleteUser(w http.ResponseWriter, r *http.Request) {
	var req passphraseBody
	if err := decodeOptionalJSON(r, &req); err != nil {
		badRequest(w, r, err.Error())
		return
	}
	userID := chi.URLParam(r, "id")
	if err := a.deps.Auth.DeleteIdentity(r.Context(), userID); err != nil {
		fail(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "admin.user.deleted", map[string]any{"target": userID})
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

func (a *API) adminStats(w http.ResponseWriter, r *http.Request) {
	var req passphraseBody
	if err := decodeOptionalJSON(r, &req); err != nil {
		badRequest(w, r, err.Error())
		return
	}
	stats, err := a.deps.Stats.Stats(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type createBroadcastRequest struct {
	Password             string     `json:"password"`
	Title                string     `json:"title"`
	Message              string     `json:"message"`
	Severity             string     `json:"severity"`
	RequiresConfirmation bool       `json:"requires_confirmation"`
	Permanent            bool       `json:"permanent"`
	ExpiresAt            *time.Time `json:"expires_at"`
}

func (a *API) adminCreateBroadcast(w http.ResponseWriter, r *http.Request) {
	var req createBroadcastRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, r, err.Error())
		return
	}
	b, err := a.deps.Broadcasts.Create(r.Context(), broadcast.Draft{
		Title:                req.Title,
		Message:              req.Message,
		Severity:             broadcast.Severity(strings.ToLower(strings.TrimSpace(req.Severity))),
		RequiresConfirmation: req.RequiresConfirmation,
		Permanent:            req.Permanent,
		ExpiresAt:            req.ExpiresAt,
	})
	if err != nil {
		fail(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "admin.broadcast.created", map[string]any{
		"broadcast_id": b.ID,
		"severity":     string(b.Severity),
	})
	writeJSON(w, http.StatusCreated, map[string]any{"broadcast": b})
}

func (a *API) adminListBroadcasts(w http.ResponseWriter, r *http.Request) {
	var req passphraseBody
	if err := decodeOptionalJSON(r, &req); err != nil {
		badRequest(w, r, err.Error())
		return
	}
	items, err := a.deps.Broadcasts.List(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"broadcasts": items})
}

func (a *API) adminToggleBroadcast(w http.ResponseWriter, r *http.Request) {
	var req passphraseBody
	if err := decodeOptionalJSON(r, &req); err != nil {
		badRequest(w, r, err.Error())
		return
	}
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		badRequest(w, r, err.Error())
		return
	}
	b, err := a.deps.Broadcasts.ToggleActive(r.Context(), id)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"broadcast": b})
}

func (a *API) adminDeleteBroadcast(w http.ResponseWriter, r *http.Request) {
	var req passphraseBody
	if err := decodeOptionalJSON(r, &req); err != nil {
		badRequest(w, r, err.Error())
		return
	}
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		badRequest(w, r, err.Error())
		return
	}
	if err := a.deps.Broadcasts.Delete(r.Context(), id); err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

type logsRequest struct {
	Password string `json:"password"`
	Limit    *int   `json:"limit"`
	Offset   int    `json:"offset"`
}

func (a *API) adminLogs(w http.ResponseWriter, r *http.Request) {
	var req logsRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		badRequest(w, r, err.Error())
		return
	}
	limit := audit.DefaultListLimit
	if req.Limit != nil {
		if *req.Limit < 1 || *req.Limit > audit.MaxListLimit {
			badRequest(w, r, "limit must be between 1 and 1000")
			return
		}
		limit = *req.Limit
	}
	if req.Offset < 0 {
		badRequest(w, r, "offset must not be negative")
		return
	}
	logs, err := a.deps.Logs.List(r.Context(), limit, req.Offset)
	if err != nil {
		fail(w, r, err)
		return
	}
	total, err := a.deps.Logs.Count(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"logs":   logs,
		"total":  total,
		"limit":  limit,
		"offset": req.Offset,
	})
}

type clearLogsRequest struct {
	Password      string `json:"password"`
	OlderThanDays *int   `json:"older_than_days"`
}

func (a *API) adminClearLogs(w http.ResponseWriter, r *http.Request) {
	var req clearLogsRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		badRequest(w, r, err.Error())
		return
	}
	days := audit.DefaultRetention
	if req.OlderThanDays != nil {
		days = *req.OlderThanDays
	}
	deleted, err := a.deps.Logs.PurgeOlderThan(r.Context(), days)
	if err != nil {
		fail(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "admin.logs.purged", map[string]any{
		"older_than_days": days,
		"deleted_count":   deleted,
	})
	writeJSON(w, http.StatusOK, map[string]any{"deleted_count": deleted})
}
