package auth

import (
	"reflect"
	"testing"
)

func TestResolveAuthorities(t *testing.T) {
	reader := Role{ID: "r1", Name: "reader", Active: true}
	writer := Role{ID: "r2", Name: "writer", Active: true}
	dormant := Role{ID: "r3", Name: "dormant", Active: false}
	admin := Role{ID: "r4", Name: "admin", Active: true, FullAccess: true}

	read := Permission{ID: "p1", Slug: "order.read"}
	write := Permission{ID: "p2", Slug: "order.write"}
	secret := Permission{ID: "p3", Slug: "vault.read"}

	cases := []struct {
		name      string
		roles     []Role
		rolePerms map[string][]Permission
		direct    []Permission
		want      []string
	}{
		{
			name:  "no assignments",
			want:  []string{},
		},
		{
			name:      "single role with permissions",
			roles:     []Role{reader},
			rolePerms: map[string][]Permission{"r1": {read}},
			want:      []string{"ROLE_READER", "order.read"},
		},
		{
			name:      "union is sorted and deduplicated",
			roles:     []Role{reader, writer},
			rolePerms: map[string][]Permission{"r1": {read}, "r2": {read, write}},
			direct:    []Permission{write},
			want:      []string{"ROLE_READER", "ROLE_WRITER", "order.read", "order.write"},
		},
		{
			name:      "inactive role contributes nothing",
			roles:     []Role{reader, dormant},
			rolePerms: map[string][]Permission{"r1": {read}, "r3": {secret}},
			want:      []string{"ROLE_READER", "order.read"},
		},
		{
			name:      "full access short-circuits enumeration",
			roles:     []Role{reader, admin},
			rolePerms: map[string][]Permission{"r1": {read}, "r4": {secret}},
			direct:    []Permission{write},
			want:      []string{"FULL_ACCESS", "ROLE_ADMIN", "ROLE_READER"},
		},
		{
			name:      "inactive full-access role grants nothing",
			roles:     []Role{{ID: "r5", Name: "old-admin", Active: false, FullAccess: true}},
			rolePerms: map[string][]Permission{},
			want:      []string{},
		},
		{
			name:   "direct permissions only",
			direct: []Permission{write, read},
			want:   []string{"order.read", "order.write"},
		},
		{
			name:      "blank slugs are skipped",
			roles:     []Role{reader},
			rolePerms: map[string][]Permission{"r1": {{ID: "px"}}},
			want:      []string{"ROLE_READER"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ResolveAuthorities(tc.roles, tc.rolePerms, tc.direct)
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestResolveAuthoritiesDeterministic(t *testing.T) {
	roles := []Role{
		{ID: "r1", Name: "reader", Active: true},
		{ID: "r2", Name: "writer", Active: true},
	}
	perms := map[string][]Permission{
		"r1": {{ID: "p1", Slug: "order.read"}},
		"r2": {{ID: "p2", Slug: "order.write"}, {ID: "p1", Slug: "order.read"}},
	}
	first := ResolveAuthorities(roles, perms, nil)
	for i := 0; i < 50; i++ {
		if got := ResolveAuthorities(roles, perms, nil); !reflect.DeepEqual(got, first) {
			t.Fatalf("iteration %d: got %v, want %v", i, got, first)
		}
	}
}

func TestSplitAuthorities(t *testing.T) {
	roles, permissions := SplitAuthorities([]string{"ROLE_ADMIN", "FULL_ACCESS", "order.read", "ROLE_USER"})
	if !reflect.DeepEqual(roles, []string{"ADMIN", "USER"}) {
		t.Errorf("roles = %v", roles)
	}
	if !reflect.DeepEqual(permissions, []string{"FULL_ACCESS", "order.read"}) {
		t.Errorf("permissions = %v", permissions)
	}
}

func TestRoleMarker(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"user", "ROLE_USER"},
		{" Admin ", "ROLE_ADMIN"},
		{"OPERATOR", "ROLE_OPERATOR"},
	}
	for _, tc := range cases {
		if got := RoleMarker(tc.in); got != tc.want {
			t.Errorf("RoleMarker(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
	if !IsRoleMarker("ROLE_USER") {
		t.Error("IsRoleMarker(ROLE_USER) = false")
	}
	if IsRoleMarker("order.read") {
		t.Error("IsRoleMarker(order.read) = true")
	}
}
