package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"authgate.dev/internal/audit"
	"authgate.dev/internal/auth"
	"authgate.dev/internal/ids"
)

type roleRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	FullAccess  bool     `json:"fullAccess"`
	Active      *bool    `json:"active"`
	Permissions []string `json:"permissions"`
}

type rolePermissionsRequest struct {
	Permissions []string `json:"permissions"`
}

type permissionRequest struct {
	Name        string `json:"name"`
	Category    string `json:"category"`
	Slug        string `json:"slug"`
	APIUrl      string `json:"apiUrl"`
	APIMethod   string `json:"apiMethod"`
	Description string `json:"description"`
}

type assignRolesRequest struct {
	Roles []string `json:"roles"`
}

// --- roles ---

func (a *API) handleListRoles(w http.ResponseWriter, r *http.Request) {
	if !a.requirePermission(w, r, auth.PermRoleRead) {
		return
	}
	roles, err := a.store.Roles(r.Context()).List(r.Context())
	if err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	writeEnvelope(w, r, http.StatusOK, "Roles", roles)
}

func (a *API) handleGetRole(w http.ResponseWriter, r *http.Request) {
	if !a.requirePermission(w, r, auth.PermRoleRead) {
		return
	}
	role, err := a.store.Roles(r.Context()).Find(r.Context(), chi.URLParam(r, "roleID"))
	if err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	writeEnvelope(w, r, http.StatusOK, "Role", role)
}

func (a *API) handleCreateRole(w http.ResponseWriter, r *http.Request) {
	if !a.requirePermission(w, r, auth.PermRoleCreate) {
		return
	}
	var req roleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		writeError(w, r, http.StatusBadRequest, "name is required")
		return
	}
	// Роль хранится без префикса; ROLE_ добавляется только на wire-уровне.
	if auth.IsRoleMarker(strings.ToUpper(name)) {
		writeError(w, r, http.StatusBadRequest, "role name must not carry the ROLE_ prefix")
		return
	}
	permIDs, err := a.resolvePermissionRefs(r.Context(), req.Permissions)
	if err != nil {
		a.handleAuthError(w, r, err)
		return
	}

	now := time.Now().UTC()
	role := &auth.Role{
		ID:            ids.New(),
		Name:          name,
		Description:   strings.TrimSpace(req.Description),
		FullAccess:    req.FullAccess,
		Active:        req.Active == nil || *req.Active,
		CreatedAt:     now,
		UpdatedAt:     now,
		PermissionIDs: permIDs,
	}
	if err := a.store.Roles(r.Context()).Create(r.Context(), role); err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventRoleChange, map[string]any{
		"action":  "create",
		"role_id": role.ID,
		"name":    role.Name,
	})
	w.Header().Set("Location", fmt.Sprintf("/api/v1/roles/%s", role.ID))
	writeEnvelope(w, r, http.StatusCreated, "Role created", role)
}

func (a *API) handleUpdateRole(w http.ResponseWriter, r *http.Request) {
	if !a.requirePermission(w, r, auth.PermRoleUpdate) {
		return
	}
	var req roleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	roles := a.store.Roles(r.Context())
	role, err := roles.Find(r.Context(), chi.URLParam(r, "roleID"))
	if err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	if name := strings.TrimSpace(req.Name); name != "" {
		if auth.IsRoleMarker(strings.ToUpper(name)) {
			writeError(w, r, http.StatusBadRequest, "role name must not carry the ROLE_ prefix")
			return
		}
		role.Name = name
	}
	if desc := strings.TrimSpace(req.Description); desc != "" {
		role.Description = desc
	}
	role.FullAccess = req.FullAccess
	if req.Active != nil {
		role.Active = *req.Active
	}
	role.UpdatedAt = time.Now().UTC()
	if err := roles.Update(r.Context(), role); err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventRoleChange, map[string]any{
		"action":  "update",
		"role_id": role.ID,
		"name":    role.Name,
	})
	writeEnvelope(w, r, http.StatusOK, "Role updated", role)
}

func (a *API) handleDeleteRole(w http.ResponseWriter, r *http.Request) {
	if !a.requirePermission(w, r, auth.PermRoleDelete) {
		return
	}
	roleID := chi.URLParam(r, "roleID")
	if err := a.store.Roles(r.Context()).Delete(r.Context(), roleID); err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventRoleChange, map[string]any{
		"action":  "delete",
		"role_id": roleID,
	})
	writeEnvelope(w, r, http.StatusOK, "Role deleted", nil)
}

func (a *API) handleSetRolePermissions(w http.ResponseWriter, r *http.Request) {
	if !a.requirePermission(w, r, auth.PermRoleUpdate) {
		return
	}
	var req rolePermissionsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	roleID := chi.URLParam(r, "roleID")
	permIDs, err := a.resolvePermissionRefs(r.Context(), req.Permissions)
	if err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	if err := a.store.Roles(r.Context()).SetPermissions(r.Context(), roleID, permIDs); err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventRoleChange, map[string]any{
		"action":  "set_permissions",
		"role_id": roleID,
		"count":   len(permIDs),
	})
	writeEnvelope(w, r, http.StatusOK, "Role permissions updated", nil)
}

// --- permissions ---

func (a *API) handleListPermissions(w http.ResponseWriter, r *http.Request) {
	if !a.requirePermission(w, r, auth.PermPermissionRead) {
		return
	}
	perms, err := a.store.Permissions(r.Context()).List(r.Context())
	if err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	writeEnvelope(w, r, http.StatusOK, "Permissions", perms)
}

func (a *API) handleGetPermission(w http.ResponseWriter, r *http.Request) {
	if !a.requirePermission(w, r, auth.PermPermissionRead) {
		return
	}
	perm, err := a.store.Permissions(r.Context()).Find(r.Context(), chi.URLParam(r, "permissionID"))
	if err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	writeEnvelope(w, r, http.StatusOK, "Permission", perm)
}

func (a *API) handleCreatePermission(w http.ResponseWriter, r *http.Request) {
	if !a.requirePermission(w, r, auth.PermPermissionCreate) {
		return
	}
	var req permissionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.Slug) == "" {
		writeError(w, r, http.StatusBadRequest, "name and slug are required")
		return
	}
	perm := &auth.Permission{
		ID:          ids.New(),
		Name:        strings.TrimSpace(req.Name),
		Category:    strings.TrimSpace(req.Category),
		Slug:        strings.TrimSpace(req.Slug),
		APIUrl:      strings.TrimSpace(req.APIUrl),
		APIMethod:   strings.ToUpper(strings.TrimSpace(req.APIMethod)),
		Description: strings.TrimSpace(req.Description),
		CreatedAt:   time.Now().UTC(),
	}
	if err := a.store.Permissions(r.Context()).Create(r.Context(), perm); err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventPermChange, map[string]any{
		"action":        "create",
		"permission_id": perm.ID,
		"slug":          perm.Slug,
	})
	w.Header().Set("Location", fmt.Sprintf("/api/v1/permissions/%s", perm.ID))
	writeEnvelope(w, r, http.StatusCreated, "Permission created", perm)
}

func (a *API) handleUpdatePermission(w http.ResponseWriter, r *http.Request) {
	if !a.requirePermission(w, r, auth.PermPermissionUpdate) {
		return
	}
	var req permissionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	store := a.store.Permissions(r.Context())
	perm, err := store.Find(r.Context(), chi.URLParam(r, "permissionID"))
	if err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	if v := strings.TrimSpace(req.Name); v != "" {
		perm.Name = v
	}
	if v := strings.TrimSpace(req.Category); v != "" {
		perm.Category = v
	}
	if v := strings.TrimSpace(req.Slug); v != "" {
		perm.Slug = v
	}
	if v := strings.TrimSpace(req.APIUrl); v != "" {
		perm.APIUrl = v
	}
	if v := strings.TrimSpace(req.APIMethod); v != "" {
		perm.APIMethod = strings.ToUpper(v)
	}
	if v := strings.TrimSpace(req.Description); v != "" {
		perm.Description = v
	}
	if err := store.Update(r.Context(), perm); err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventPermChange, map[string]any{
		"action":        "update",
		"permission_id": perm.ID,
		"slug":          perm.Slug,
	})
	writeEnvelope(w, r, http.StatusOK, "Permission updated", perm)
}

func (a *API) handleDeletePermission(w http.ResponseWriter, r *http.Request) {
	if !a.requirePermission(w, r, auth.PermPermissionDelete) {
		return
	}
	permID := chi.URLParam(r, "permissionID")
	if err := a.store.Permissions(r.Context()).Delete(r.Context(), permID); err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventPermChange, map[string]any{
		"action":        "delete",
		"permission_id": permID,
	})
	writeEnvelope(w, r, http.StatusOK, "Permission deleted", nil)
}

// --- user role assignment ---

func (a *API) handleAssignRoles(w http.ResponseWriter, r *http.Request) {
	if !a.requirePermission(w, r, auth.PermUserAssignRole) {
		return
	}
	var req assignRolesRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Roles) == 0 {
		writeError(w, r, http.StatusBadRequest, "roles are required")
		return
	}

	userID := chi.URLParam(r, "userID")
	users := a.store.Users(r.Context())
	user, err := users.Find(r.Context(), userID)
	if err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	roleIDs := make([]string, 0, len(req.Roles))
	seen := make(map[string]struct{}, len(req.Roles))
	for _, name := range req.Roles {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		role, err := a.store.Roles(r.Context()).FindByName(r.Context(), name)
		if err != nil {
			a.handleAuthError(w, r, fmt.Errorf("%w: role %s", auth.ErrNotFound, name))
			return
		}
		if _, ok := seen[role.ID]; ok {
			continue
		}
		seen[role.ID] = struct{}{}
		roleIDs = append(roleIDs, role.ID)
	}
	user.RoleIDs = roleIDs
	user.UpdatedAt = time.Now().UTC()
	if err := users.Update(r.Context(), user); err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventRoleChange, map[string]any{
		"action":  "assign",
		"user_id": userID,
		"roles":   req.Roles,
	})
	writeEnvelope(w, r, http.StatusOK, "Roles assigned", user)
}

// resolvePermissionRefs resolves a mixed list of slugs, ids or names.
func (a *API) resolvePermissionRefs(ctx context.Context, refs []string) ([]string, error) {
	store := a.store.Permissions(ctx)
	out := make([]string, 0, len(refs))
	seen := make(map[string]struct{}, len(refs))
	for _, ref := range refs {
		ref = strings.TrimSpace(ref)
		if ref == "" {
			continue
		}
		perm, err := store.FindBySlug(ctx, ref)
		if err != nil {
			perm, err = store.Find(ctx, ref)
		}
		if err != nil {
			perm, err = store.FindByName(ctx, ref)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: permission %s", auth.ErrNotFound, ref)
		}
		if _, ok := seen[perm.ID]; ok {
			continue
		}
		seen[perm.ID] = struct{}{}
		out = append(out, perm.ID)
	}
	return out, nil
}
