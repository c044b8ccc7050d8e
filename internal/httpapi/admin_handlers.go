package httpapi

import (
	"context"
	"net/http"
	"strings"

	"campusiam.org/internal/audit"
	"campusiam.org/internal/auth"
)

type changeRoleRequest struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
}

type userIDRequest struct {
	UserID string `json:"userId"`
}

func (a *API) handleAdminUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if _, ok := a.requireRole(w, r, auth.RoleAdmin); !ok {
		return
	}
	q := r.URL.Query()
	page, err := parsePositiveInt(q.Get("page"), 1, 1, 1<<20)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "page must be a positive integer")
		return
	}
	limit, err := parsePositiveInt(q.Get("limit"), 50, 1, 500)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "limit must be between 1 and 500")
		return
	}
	users, err := a.svc.ListUsers(r.Context(), auth.ListFilter{
		Search: q.Get("search"),
		Page:   page,
		Limit:  limit,
	})
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "server error")
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (a *API) handleAdminRole(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	principal, ok := a.requireRole(w, r, auth.RoleAdmin)
	if !ok {
		return
	}
	var req changeRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.svc.ChangeRole(r.Context(), principal, req.UserID, req.Role); err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (a *API) handleAdminDisable(w http.ResponseWriter, r *http.Request) {
	a.handleAdminFlag(w, r, a.svc.DisableUser)
}

func (a *API) handleAdminEnable(w http.ResponseWriter, r *http.Request) {
	a.handleAdminFlag(w, r, a.svc.EnableUser)
}

func (a *API) handleAdminDelete(w http.ResponseWriter, r *http.Request) {
	a.handleAdminFlag(w, r, a.svc.DeleteUser)
}

// handleAdminFlag shares the decode and guard path for the three user
// state mutations that only take a target id.
func (a *API) handleAdminFlag(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, actor auth.Principal, userID string) error) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	principal, ok := a.requireRole(w, r, auth.RoleAdmin)
	if !ok {
		return
	}
	var req userIDRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		writeError(w, r, http.StatusBadRequest, "missing userId")
		return
	}
	if err := op(r.Context(), principal, req.UserID); err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (a *API) handleAdminLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if _, ok := a.requireRole(w, r, auth.RoleAdmin); !ok {
		return
	}
	q := r.URL.Query()
	page, err := parsePositiveInt(q.Get("page"), 1, 1, 1<<20)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "page must be a positive integer")
		return
	}
	limit, err := parsePositiveInt(q.Get("limit"), 200, 1, 1000)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "limit must be between 1 and 1000")
		return
	}
	entries, err := a.svc.Logs(r.Context(), audit.Filter{
		Search: q.Get("search"),
		Action: audit.Action(strings.TrimSpace(q.Get("action"))),
		Page:   page,
		Limit:  limit,
	})
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "unknown action filter")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}
