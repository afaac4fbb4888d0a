package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"brokergate.org/internal/access"
	"brokergate.org/internal/audit"
)

type createManagerRequest struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
}

type togglePermissionRequest struct {
	Active bool `json:"is_active"`
}

func (a *API) handlePermissions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if _, ok := a.requireRole(w, r, access.RoleAdmin); !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"permissions": a.registry.Rules(),
	})
}

func (a *API) handlePermissionResource(w http.ResponseWriter, r *http.Request) {
	name := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/admin/permissions/"), "/")
	if name == "" || strings.Contains(name, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodPatch {
		methodNotAllowed(w, r, http.MethodPatch)
		return
	}
	if _, ok := a.requireRole(w, r, access.RoleAdmin); !ok {
		return
	}

	var req togglePermissionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.registry.SetActive(r.Context(), name, req.Active); err != nil {
		handleAccessError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "access.permission.toggled", map[string]any{
		"name":      name,
		"is_active": req.Active,
	})
	rule, _ := a.registry.Get(name)
	writeJSON(w, http.StatusOK, rule)
}

// handleUserResource covers /api/admin/users/{id}/... subresources:
// ban, approve, sessions and the deny list.
func (a *API) handleUserResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/admin/users/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if _, ok := a.requireRole(w, r, access.RoleAdmin); !ok {
		return
	}

	parts := strings.Split(path, "/")
	userID := parts[0]
	switch {
	case len(parts) == 2 && parts[1] == "ban":
		a.handleUserBan(w, r, userID)
	case len(parts) == 2 && parts[1] == "approve":
		a.handleUserApprove(w, r, userID)
	case len(parts) == 2 && parts[1] == "reject":
		a.handleUserReject(w, r, userID)
	case len(parts) == 2 && parts[1] == "sessions":
		a.handleUserSessions(w, r, userID)
	case len(parts) == 2 && parts[1] == "deny":
		a.handleUserDenyList(w, r, userID)
	case len(parts) == 3 && parts[1] == "deny":
		a.handleUserDenyEntry(w, r, userID, parts[2])
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleUserBan(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if err := a.users.UpdateStatus(r.Context(), userID, access.UserStatusBanned); err != nil {
		handleAccessError(w, r, err)
		return
	}
	// a banned user keeps no live sessions
	a.sessions.RevokeAll(userID)
	_ = audit.LogEvent(r.Context(), "access.user.banned", map[string]any{
		"user_id": userID,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleUserApprove(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if err := a.users.UpdateStatus(r.Context(), userID, access.UserStatusApproved); err != nil {
		handleAccessError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "access.user.approved", map[string]any{
		"user_id": userID,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleUserReject(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if err := a.users.UpdateStatus(r.Context(), userID, access.UserStatusRejected); err != nil {
		handleAccessError(w, r, err)
		return
	}
	// rejection revokes like a ban does
	a.sessions.RevokeAll(userID)
	_ = audit.LogEvent(r.Context(), "access.user.rejected", map[string]any{
		"user_id": userID,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleUserSessions(w http.ResponseWriter, r *http.Request, userID string) {
	switch r.Method {
	case http.MethodGet:
		sessions := a.sessions.ListForUser(userID)
		views := make([]sessionView, 0, len(sessions))
		for _, s := range sessions {
			views = append(views, viewOfSession(s))
		}
		writeJSON(w, http.StatusOK, map[string]any{"sessions": views})
	case http.MethodDelete:
		a.sessions.RevokeAll(userID)
		_ = audit.LogEvent(r.Context(), "access.sessions.revoked_all", map[string]any{
			"user_id": userID,
		})
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodDelete)
	}
}

func (a *API) handleUserDenyList(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	entries, err := a.denyList.ListForUser(r.Context(), userID)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deny": entries})
}

func (a *API) handleUserDenyEntry(w http.ResponseWriter, r *http.Request, userID, permissionName string) {
	rule, ok := a.registry.Get(permissionName)
	if !ok {
		writeError(w, r, http.StatusNotFound, "unknown permission")
		return
	}
	switch r.Method {
	case http.MethodPut:
		if err := a.denyList.Add(r.Context(), userID, rule.ID); err != nil {
			handleAccessError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "access.deny.added", map[string]any{
			"user_id":    userID,
			"permission": permissionName,
		})
		w.WriteHeader(http.StatusNoContent)
	case http.MethodDelete:
		if err := a.denyList.Remove(r.Context(), userID, rule.ID); err != nil {
			handleAccessError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "access.deny.removed", map[string]any{
			"user_id":    userID,
			"permission": permissionName,
		})
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodPut, http.MethodDelete)
	}
}

func (a *API) handleManagers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if _, ok := a.requireRole(w, r, access.RoleAdmin); !ok {
		return
	}

	var req createManagerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		writeError(w, r, http.StatusBadRequest, "user_id is required")
		return
	}

	mgr, err := a.assignments.CreateManager(r.Context(), req.UserID, strings.TrimSpace(req.Name))
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	// the directory role drives scope checks on future sessions
	if err := a.users.UpdateRole(r.Context(), req.UserID, access.RoleManager); err != nil {
		handleAccessError(w, r, err)
		return
	}
	// existing sessions carry the old role; force a fresh login
	a.sessions.RevokeAll(req.UserID)

	_ = audit.LogEvent(r.Context(), "access.manager.created", map[string]any{
		"manager_id": mgr.ID,
		"user_id":    req.UserID,
	})
	writeJSON(w, http.StatusCreated, mgr)
}

// handleManagerResource covers /api/admin/managers/{mid} and
// /api/admin/managers/{mid}/users[/{uid}].
func (a *API) handleManagerResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/admin/managers/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if _, ok := a.requireRole(w, r, access.RoleAdmin); !ok {
		return
	}

	parts := strings.Split(path, "/")
	managerID := parts[0]
	switch {
	case len(parts) == 1:
		a.handleManagerDelete(w, r, managerID)
	case len(parts) == 2 && parts[1] == "users":
		a.handleManagerAssignmentList(w, r, managerID)
	case len(parts) == 3 && parts[1] == "users":
		a.handleManagerAssignment(w, r, managerID, parts[2])
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleManagerDelete(w http.ResponseWriter, r *http.Request, managerID string) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	if err := a.scope.DeleteManager(r.Context(), managerID); err != nil {
		if errors.Is(err, access.ErrConflict) {
			writeError(w, r, http.StatusConflict, "manager still has assigned users")
			return
		}
		handleAccessError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "access.manager.deleted", map[string]any{
		"manager_id": managerID,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleManagerAssignmentList(w http.ResponseWriter, r *http.Request, managerID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	list, err := a.assignments.ListAssignments(r.Context(), managerID)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"assignments": list})
}

func (a *API) handleManagerAssignment(w http.ResponseWriter, r *http.Request, managerID, userID string) {
	switch r.Method {
	case http.MethodPut:
		if err := a.scope.Assign(r.Context(), managerID, userID); err != nil {
			handleAccessError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "access.assignment.created", map[string]any{
			"manager_id": managerID,
			"user_id":    userID,
		})
		w.WriteHeader(http.StatusNoContent)
	case http.MethodDelete:
		if err := a.scope.Unassign(r.Context(), managerID, userID); err != nil {
			handleAccessError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "access.assignment.removed", map[string]any{
			"manager_id": managerID,
			"user_id":    userID,
		})
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodPut, http.MethodDelete)
	}
}

func (a *API) handleAdminSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if _, ok := a.requireRole(w, r, access.RoleAdmin); !ok {
		return
	}
	sessions := a.sessions.ListActive()
	views := make([]sessionView, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, viewOfSession(s))
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": views})
}
