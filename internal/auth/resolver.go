package auth

import (
	"sort"
	"strings"
)

// ResolveAuthorities flattens a user's assigned roles, their permissions and
// the user's direct permissions into the authority set embedded in access
// tokens. The function is pure and deterministic: resolving twice with
// unchanged assignments yields an identical, sorted set.
//
// If any active role has FullAccess, the result is exactly the role markers
// plus the FULL_ACCESS sentinel; no permission slugs are enumerated.
// Inactive roles contribute neither their marker nor their permissions.
func ResolveAuthorities(roles []Role, rolePermissions map[string][]Permission, directPermissions []Permission) []string {
	set := make(map[string]struct{})
	fullAccess := false

	for _, role := range roles {
		if !role.Active {
			continue
		}
		set[RoleMarker(role.Name)] = struct{}{}
		if role.FullAccess {
			fullAccess = true
		}
	}

	if fullAccess {
		set[FullAccess] = struct{}{}
		return sortedSet(set)
	}

	for _, role := range roles {
		if !role.Active {
			continue
		}
		for _, perm := range rolePermissions[role.ID] {
			if perm.Slug != "" {
				set[perm.Slug] = struct{}{}
			}
		}
	}
	for _, perm := range directPermissions {
		if perm.Slug != "" {
			set[perm.Slug] = struct{}{}
		}
	}
	return sortedSet(set)
}

// SplitAuthorities partitions an authority set into role names (markers with
// the prefix stripped) and permission slugs, for response shaping.
func SplitAuthorities(authorities []string) (roles, permissions []string) {
	for _, a := range authorities {
		switch {
		case a == FullAccess:
			permissions = append(permissions, a)
		case IsRoleMarker(a):
			roles = append(roles, strings.TrimPrefix(a, RolePrefix))
		default:
			permissions = append(permissions, a)
		}
	}
	return roles, permissions
}

func sortedSet(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
