package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"authgate.dev/internal/ids"
)

// Service is the authority façade: it orchestrates the codec, the resolver
// and the refresh-token manager to answer authenticate, register, validate,
// refresh and logout.
type Service struct {
	store       Store
	codec       *Codec
	refresh     *RefreshTokenManager
	defaultRole string
	now         func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithDefaultRole overrides the role assigned at registration when the
// signup names none.
func WithDefaultRole(name string) ServiceOption {
	return func(s *Service) {
		if strings.TrimSpace(name) != "" {
			s.defaultRole = strings.TrimSpace(name)
		}
	}
}

// WithClock overrides the time source (tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs the façade.
func NewService(store Store, codec *Codec, refresh *RefreshTokenManager, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	if codec == nil {
		return nil, errors.New("auth: codec is required")
	}
	if refresh == nil {
		return nil, errors.New("auth: refresh token manager is required")
	}
	s := &Service{
		store:       store,
		codec:       codec,
		refresh:     refresh,
		defaultRole: DefaultRoleName,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Codec exposes the token codec for callers that verify locally.
func (s *Service) Codec() *Codec { return s.codec }

// RefreshTokens exposes the lifecycle manager (sweeper wiring).
func (s *Service) RefreshTokens() *RefreshTokenManager { return s.refresh }

// EnsureBuiltins makes sure the built-in permission catalog exists.
func (s *Service) EnsureBuiltins(ctx context.Context) error {
	return s.store.Permissions(ctx).Ensure(ctx, BuiltinPermissions)
}

// LoginResult is returned by Authenticate and Register: both tokens plus the
// split role/permission view of the freshly resolved authority set.
type LoginResult struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresIn    int64 // seconds until the access token expires
	UserID       string
	Username     string
	Email        string
	Roles        []string
	Permissions  []string
}

// SignupRequest carries the registration payload.
type SignupRequest struct {
	Username          string
	Email             string
	Password          string
	Roles             []string
	DirectPermissions []string
}

// ValidationResult answers a validate-token call. Valid=false never travels
// as an error: invalid tokens are an expected outcome, not a failure.
type ValidationResult struct {
	Valid       bool
	Message     string
	Authorities []string
	UserID      string
	IPAddress   string
	// Reason is set when Valid=false, for logging only; it must not leak
	// into the outward message.
	Reason TokenInvalidReason
}

// RefreshResult carries a new access token and the unchanged refresh token.
type RefreshResult struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresIn    int64
}

// Authenticate verifies credentials and issues a token pair. The login field
// may be a username or an email. Credential failures are typed for logging
// but the HTTP boundary surfaces a single generic message.
func (s *Service) Authenticate(ctx context.Context, login, password, ip, userAgent string) (LoginResult, error) {
	login = strings.TrimSpace(login)
	if login == "" || password == "" {
		return LoginResult{}, ErrInvalidCredentials
	}
	users := s.store.Users(ctx)
	user, err := users.FindByUsername(ctx, login)
	if err != nil {
		user, err = users.FindByEmail(ctx, strings.ToLower(login))
	}
	if err != nil {
		return LoginResult{}, ErrInvalidCredentials
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		return LoginResult{}, ErrInvalidCredentials
	}
	if user.Locked {
		return LoginResult{}, ErrAccountLocked
	}
	if !user.Active {
		return LoginResult{}, ErrAccountDisabled
	}
	return s.issueTokens(ctx, user, ip, userAgent)
}

// Register creates the user, assigns roles (the default role when none are
// named) and direct permissions, then logs the user in.
func (s *Service) Register(ctx context.Context, req SignupRequest, ip, userAgent string) (LoginResult, error) {
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Username == "" {
		return LoginResult{}, fmt.Errorf("%w: username is required", ErrInvalidInput)
	}
	if req.Email == "" || !strings.Contains(req.Email, "@") {
		return LoginResult{}, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	if len(req.Password) < 8 {
		return LoginResult{}, fmt.Errorf("%w: password must be at least 8 characters", ErrInvalidInput)
	}

	users := s.store.Users(ctx)
	if _, err := users.FindByUsername(ctx, req.Username); err == nil {
		return LoginResult{}, fmt.Errorf("%w: username is already taken", ErrConflict)
	}
	if _, err := users.FindByEmail(ctx, req.Email); err == nil {
		return LoginResult{}, fmt.Errorf("%w: email is already taken", ErrConflict)
	}

	roleIDs, err := s.resolveRoleNames(ctx, req.Roles)
	if err != nil {
		return LoginResult{}, err
	}
	permIDs, err := s.resolvePermissionNames(ctx, req.DirectPermissions)
	if err != nil {
		return LoginResult{}, err
	}

	hash, err := HashPassword(req.Password)
	if err != nil {
		return LoginResult{}, err
	}
	now := s.now().UTC()
	user := &User{
		ID:                  ids.New(),
		Username:            req.Username,
		Email:               req.Email,
		PasswordHash:        hash,
		Active:              true,
		CreatedAt:           now,
		UpdatedAt:           now,
		RoleIDs:             roleIDs,
		DirectPermissionIDs: permIDs,
	}
	if err := users.Create(ctx, user); err != nil {
		return LoginResult{}, err
	}
	return s.issueTokens(ctx, user, ip, userAgent)
}

// ValidateTokenAndPermissions is the enforcement point that makes permission
// revocation effective immediately: authorities come from the current store
// state, never from the token claim. An invalid token yields Valid=false,
// not an error; a refresh token presented here is a typed failure.
func (s *Service) ValidateTokenAndPermissions(ctx context.Context, token, ip string) (ValidationResult, error) {
	claims, err := s.codec.Verify(token)
	if err != nil {
		reason, _ := InvalidReason(err)
		return ValidationResult{
			Valid:     false,
			Message:   "Invalid token",
			IPAddress: ip,
			Reason:    reason,
		}, nil
	}
	if claims.TokenType != TokenTypeAccess {
		return ValidationResult{}, ErrWrongTokenType
	}
	user, err := s.store.Users(ctx).FindByUsername(ctx, claims.Subject)
	if err != nil {
		return ValidationResult{}, fmt.Errorf("%w: user %s", ErrNotFound, claims.Subject)
	}
	authorities, err := s.resolveUser(ctx, user)
	if err != nil {
		return ValidationResult{}, err
	}
	return ValidationResult{
		Valid:       true,
		Message:     "Access granted",
		Authorities: authorities,
		UserID:      user.ID,
		IPAddress:   ip,
	}, nil
}

// RefreshAccessToken exchanges a refresh token for a new access token. The
// token-type check happens before any other claim is trusted. The refresh
// token string itself is returned unchanged (no rotation).
func (s *Service) RefreshAccessToken(ctx context.Context, refreshToken, ip, userAgent string) (RefreshResult, error) {
	claims, err := s.codec.Verify(refreshToken)
	if err != nil {
		return RefreshResult{}, err
	}
	if claims.TokenType != TokenTypeRefresh {
		return RefreshResult{}, ErrWrongTokenType
	}
	rec, err := s.refresh.FindByToken(ctx, refreshToken)
	if err != nil {
		return RefreshResult{}, fmt.Errorf("%w: refresh token", ErrNotFound)
	}
	if _, err := s.refresh.VerifyUsable(ctx, rec); err != nil {
		return RefreshResult{}, err
	}
	user, err := s.store.Users(ctx).Find(ctx, rec.UserID)
	if err != nil {
		return RefreshResult{}, fmt.Errorf("%w: user %s", ErrNotFound, rec.UserID)
	}
	authorities, err := s.resolveUser(ctx, user)
	if err != nil {
		return RefreshResult{}, err
	}
	access, err := s.codec.IssueAccessToken(user.Username, authorities, ip, userAgent)
	if err != nil {
		return RefreshResult{}, err
	}
	return RefreshResult{
		AccessToken:  access,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.codec.AccessTTL().Seconds()),
	}, nil
}

// Logout deletes the refresh token row. Best-effort: the returned error is
// for the caller's log only, logout must never fail visibly to the client.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	return s.refresh.DeleteByToken(ctx, refreshToken)
}

// RevokeAllTokens flags every refresh token of the user (logout-all).
func (s *Service) RevokeAllTokens(ctx context.Context, username string) error {
	return s.refresh.RevokeAll(ctx, username)
}

func (s *Service) issueTokens(ctx context.Context, user *User, ip, userAgent string) (LoginResult, error) {
	authorities, err := s.resolveUser(ctx, user)
	if err != nil {
		return LoginResult{}, err
	}
	access, err := s.codec.IssueAccessToken(user.Username, authorities, ip, userAgent)
	if err != nil {
		return LoginResult{}, err
	}
	rec, err := s.refresh.Create(ctx, user.Username, ip, userAgent)
	if err != nil {
		return LoginResult{}, err
	}
	roles, permissions := SplitAuthorities(authorities)
	return LoginResult{
		AccessToken:  access,
		RefreshToken: rec.Token,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.codec.AccessTTL().Seconds()),
		UserID:       user.ID,
		Username:     user.Username,
		Email:        user.Email,
		Roles:        roles,
		Permissions:  permissions,
	}, nil
}

// resolveUser recomputes the authority set from current store state. Run on
// every authentication and every validate call; caller-supplied authority
// lists are never trusted.
func (s *Service) resolveUser(ctx context.Context, user *User) ([]string, error) {
	roles, err := s.store.Roles(ctx).ForUser(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	rolePerms := make(map[string][]Permission, len(roles))
	for _, role := range roles {
		if !role.Active || role.FullAccess {
			continue
		}
		perms, err := s.store.Permissions(ctx).ForRole(ctx, role.ID)
		if err != nil {
			return nil, err
		}
		rolePerms[role.ID] = perms
	}
	direct, err := s.store.Permissions(ctx).DirectForUser(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	return ResolveAuthorities(roles, rolePerms, direct), nil
}

func (s *Service) resolveRoleNames(ctx context.Context, names []string) ([]string, error) {
	if len(names) == 0 {
		names = []string{s.defaultRole}
	}
	out := make([]string, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		role, err := s.store.Roles(ctx).FindByName(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("%w: role %s", ErrNotFound, name)
		}
		if _, ok := seen[role.ID]; ok {
			continue
		}
		seen[role.ID] = struct{}{}
		out = append(out, role.ID)
	}
	return out, nil
}

func (s *Service) resolvePermissionNames(ctx context.Context, names []string) ([]string, error) {
	out := make([]string, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		perm, err := s.store.Permissions(ctx).FindByName(ctx, name)
		if err != nil {
			perm, err = s.store.Permissions(ctx).FindBySlug(ctx, name)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: permission %s", ErrNotFound, name)
		}
		if _, ok := seen[perm.ID]; ok {
			continue
		}
		seen[perm.ID] = struct{}{}
		out = append(out, perm.ID)
	}
	return out, nil
}
