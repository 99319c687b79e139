package auth

import "strings"

// FullAccess is the sentinel authority granted by full-access roles. It is a
// distinct value, not a union of every permission slug.
const FullAccess = "FULL_ACCESS"

// RolePrefix marks role-derived authorities on the wire so they can be told
// apart from permission slugs.
const RolePrefix = "ROLE_"

// DefaultRoleName is assigned at registration when no roles are named.
const DefaultRoleName = "user"

// RoleMarker converts a role name into its wire-level authority string.
func RoleMarker(name string) string {
	return RolePrefix + strings.ToUpper(strings.TrimSpace(name))
}

// IsRoleMarker reports whether an authority string denotes a role.
func IsRoleMarker(authority string) bool {
	return strings.HasPrefix(authority, RolePrefix)
}

// Builtin permission slugs guarding the RBAC admin surface.
const (
	PermRoleRead         = "role.read"
	PermRoleCreate       = "role.create"
	PermRoleUpdate       = "role.update"
	PermRoleDelete       = "role.delete"
	PermPermissionRead   = "permission.read"
	PermPermissionCreate = "permission.create"
	PermPermissionUpdate = "permission.update"
	PermPermissionDelete = "permission.delete"
	PermUserAssignRole   = "user.assign-role"
)

// BuiltinPermissions is ensured in the credential store at startup.
var BuiltinPermissions = []Permission{
	{Name: "Read roles", Category: "rbac", Slug: PermRoleRead, APIUrl: "/api/v1/roles", APIMethod: "GET"},
	{Name: "Create role", Category: "rbac", Slug: PermRoleCreate, APIUrl: "/api/v1/roles", APIMethod: "POST"},
	{Name: "Update role", Category: "rbac", Slug: PermRoleUpdate, APIUrl: "/api/v1/roles", APIMethod: "PUT"},
	{Name: "Delete role", Category: "rbac", Slug: PermRoleDelete, APIUrl: "/api/v1/roles", APIMethod: "DELETE"},
	{Name: "Read permissions", Category: "rbac", Slug: PermPermissionRead, APIUrl: "/api/v1/permissions", APIMethod: "GET"},
	{Name: "Create permission", Category: "rbac", Slug: PermPermissionCreate, APIUrl: "/api/v1/permissions", APIMethod: "POST"},
	{Name: "Update permission", Category: "rbac", Slug: PermPermissionUpdate, APIUrl: "/api/v1/permissions", APIMethod: "PUT"},
	{Name: "Delete permission", Category: "rbac", Slug: PermPermissionDelete, APIUrl: "/api/v1/permissions", APIMethod: "DELETE"},
	{Name: "Assign role to user", Category: "rbac", Slug: PermUserAssignRole, APIUrl: "/api/v1/users", APIMethod: "POST"},
}
