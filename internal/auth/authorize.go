package auth

import "context"

// AnonymousUserID is the sentinel identity attached to unauthenticated calls.
const AnonymousUserID = "-"

// Identity is a caller with an already-resolved authority set, threaded
// explicitly through the call context rather than held in ambient state.
type Identity struct {
	UserID      string
	Username    string
	authorities map[string]struct{}
}

// NewIdentity builds an identity from a resolved authority set.
func NewIdentity(userID, username string, authorities []string) Identity {
	set := make(map[string]struct{}, len(authorities))
	for _, a := range authorities {
		set[a] = struct{}{}
	}
	return Identity{UserID: userID, Username: username, authorities: set}
}

// HasAuthority reports membership of a single authority string.
func (id Identity) HasAuthority(slug string) bool {
	_, ok := id.authorities[slug]
	return ok
}

// Authorities returns a copy of the authority set.
func (id Identity) Authorities() []string {
	out := make([]string, 0, len(id.authorities))
	for a := range id.authorities {
		out = append(out, a)
	}
	return out
}

// Anonymous reports whether the identity is absent or the anonymous sentinel.
func (id Identity) Anonymous() bool {
	return id.UserID == "" || id.UserID == AnonymousUserID
}

// RequireAuthority guards a protected operation. The required slug is
// call-site configuration, not inferred from the route. FULL_ACCESS passes
// every check.
func RequireAuthority(ctx context.Context, slug string) error {
	identity, ok := IdentityFromContext(ctx)
	if !ok || identity.Anonymous() {
		return ErrNotAuthenticated
	}
	if identity.HasAuthority(FullAccess) {
		return nil
	}
	if !identity.HasAuthority(slug) {
		return ErrAccessDenied
	}
	return nil
}
