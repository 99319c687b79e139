package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"authgate.dev/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// withAuth verifies the bearer access token locally and attaches the caller
// identity built from the token's authority claim. Admin routes behind this
// middleware still name their required permission explicitly per handler.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}

		claims, err := a.svc.Codec().Verify(token)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, "invalid token")
			return
		}
		if claims.TokenType != auth.TokenTypeAccess {
			writeError(w, r, http.StatusUnauthorized, "invalid token type")
			return
		}

		identity := auth.NewIdentity(claims.Subject, claims.Subject, claims.AuthorityList())
		ctx := auth.ContextWithIdentity(r.Context(), identity)
		ctx = auth.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requirePermission guards one operation with one permission slug.
func (a *API) requirePermission(w http.ResponseWriter, r *http.Request, slug string) bool {
	err := auth.RequireAuthority(r.Context(), slug)
	switch {
	case err == nil:
		return true
	case errors.Is(err, auth.ErrNotAuthenticated):
		writeError(w, r, http.StatusUnauthorized, "authentication required")
	default:
		writeError(w, r, http.StatusForbidden, "access denied")
	}
	return false
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func identityUsername(ctx context.Context) string {
	if identity, ok := auth.IdentityFromContext(ctx); ok {
		return identity.Username
	}
	return ""
}
