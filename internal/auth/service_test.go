package auth_test

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"authgate.dev/internal/auth"
	"authgate.dev/internal/ids"
	"authgate.dev/internal/store/memory"
)

type serviceEnv struct {
	store *memory.Store
	codec *auth.Codec
	svc   *auth.Service
}

func newServiceEnv(t *testing.T, opts ...auth.ServiceOption) *serviceEnv {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	codec, err := auth.NewCodec(managerSecret)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	mgr := auth.NewRefreshTokenManager(store, codec)
	svc, err := auth.NewService(store, codec, mgr, opts...)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	if err := svc.EnsureBuiltins(ctx); err != nil {
		t.Fatalf("EnsureBuiltins: %v", err)
	}
	roles := []*auth.Role{
		{ID: ids.New(), Name: "user", Active: true},
		{ID: ids.New(), Name: "admin", Active: true, FullAccess: true},
	}
	for _, r := range roles {
		if err := store.Roles(ctx).Create(ctx, r); err != nil {
			t.Fatalf("seed role %s: %v", r.Name, err)
		}
	}
	return &serviceEnv{store: store, codec: codec, svc: svc}
}

func (e *serviceEnv) register(t *testing.T, username, password string, roles ...string) auth.LoginResult {
	t.Helper()
	res, err := e.svc.Register(context.Background(), auth.SignupRequest{
		Username: username,
		Email:    username + "@example.com",
		Password: password,
		Roles:    roles,
	}, "10.0.0.1", "test")
	if err != nil {
		t.Fatalf("Register %s: %v", username, err)
	}
	return res
}

func TestRegisterAssignsDefaultRole(t *testing.T) {
	env := newServiceEnv(t)
	res := env.register(t, "alice", "correct-horse")
	if res.UserID == "" || res.Username != "alice" {
		t.Fatalf("result = %+v", res)
	}
	if !reflect.DeepEqual(res.Roles, []string{"USER"}) {
		t.Errorf("roles = %v, want [USER]", res.Roles)
	}
	if len(res.Permissions) != 0 {
		t.Errorf("permissions = %v, want none", res.Permissions)
	}
	if res.TokenType != "Bearer" || res.ExpiresIn <= 0 {
		t.Errorf("token meta = %q/%d", res.TokenType, res.ExpiresIn)
	}
	if !env.codec.IsAccessToken(res.AccessToken) {
		t.Error("access token does not verify")
	}
	if !env.codec.IsRefreshToken(res.RefreshToken) {
		t.Error("refresh token does not verify")
	}
}

func TestRegisterValidation(t *testing.T) {
	env := newServiceEnv(t)
	cases := []struct {
		name string
		req  auth.SignupRequest
		want error
	}{
		{"missing username", auth.SignupRequest{Email: "a@b.c", Password: "longenough"}, auth.ErrInvalidInput},
		{"missing email", auth.SignupRequest{Username: "a", Password: "longenough"}, auth.ErrInvalidInput},
		{"bad email", auth.SignupRequest{Username: "a", Email: "nope", Password: "longenough"}, auth.ErrInvalidInput},
		{"short password", auth.SignupRequest{Username: "a", Email: "a@b.c", Password: "short"}, auth.ErrInvalidInput},
		{"unknown role", auth.SignupRequest{Username: "a", Email: "a@b.c", Password: "longenough", Roles: []string{"ghost"}}, auth.ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.svc.Register(context.Background(), tc.req, "", "")
			if !errors.Is(err, tc.want) {
				t.Errorf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestRegisterConflicts(t *testing.T) {
	env := newServiceEnv(t)
	env.register(t, "alice", "correct-horse")

	_, err := env.svc.Register(context.Background(), auth.SignupRequest{
		Username: "ALICE", Email: "other@example.com", Password: "longenough",
	}, "", "")
	if !errors.Is(err, auth.ErrConflict) {
		t.Errorf("username conflict err = %v", err)
	}
	_, err = env.svc.Register(context.Background(), auth.SignupRequest{
		Username: "bob", Email: "Alice@Example.com", Password: "longenough",
	}, "", "")
	if !errors.Is(err, auth.ErrConflict) {
		t.Errorf("email conflict err = %v", err)
	}
}

func TestAuthenticate(t *testing.T) {
	env := newServiceEnv(t)
	env.register(t, "alice", "correct-horse")

	res, err := env.svc.Authenticate(context.Background(), "alice", "correct-horse", "10.0.0.1", "test")
	if err != nil {
		t.Fatalf("Authenticate by username: %v", err)
	}
	if res.Username != "alice" {
		t.Errorf("username = %q", res.Username)
	}

	// Email works as the login field too.
	if _, err := env.svc.Authenticate(context.Background(), "alice@example.com", "correct-horse", "", ""); err != nil {
		t.Errorf("Authenticate by email: %v", err)
	}

	if _, err := env.svc.Authenticate(context.Background(), "alice", "wrong", "", ""); !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Errorf("wrong password err = %v", err)
	}
	if _, err := env.svc.Authenticate(context.Background(), "nobody", "correct-horse", "", ""); !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Errorf("unknown user err = %v", err)
	}
	if _, err := env.svc.Authenticate(context.Background(), "", "", "", ""); !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Errorf("empty credentials err = %v", err)
	}
}

func TestAuthenticateAccountState(t *testing.T) {
	env := newServiceEnv(t)
	ctx := context.Background()
	res := env.register(t, "alice", "correct-horse")

	user, err := env.store.Users(ctx).Find(ctx, res.UserID)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	user.Locked = true
	if err := env.store.Users(ctx).Update(ctx, user); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if _, err := env.svc.Authenticate(ctx, "alice", "correct-horse", "", ""); !errors.Is(err, auth.ErrAccountLocked) {
		t.Errorf("locked err = %v", err)
	}
	// Password is checked before account state: a bad password on a locked
	// account reveals nothing about the lock.
	if _, err := env.svc.Authenticate(ctx, "alice", "wrong", "", ""); !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Errorf("locked+wrong password err = %v", err)
	}

	user.Locked = false
	user.Active = false
	if err := env.store.Users(ctx).Update(ctx, user); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if _, err := env.svc.Authenticate(ctx, "alice", "correct-horse", "", ""); !errors.Is(err, auth.ErrAccountDisabled) {
		t.Errorf("disabled err = %v", err)
	}
}

func TestValidateTokenAndPermissions(t *testing.T) {
	env := newServiceEnv(t)
	ctx := context.Background()
	res := env.register(t, "alice", "correct-horse")

	out, err := env.svc.ValidateTokenAndPermissions(ctx, res.AccessToken, "10.1.1.1")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !out.Valid || out.UserID != res.UserID || out.IPAddress != "10.1.1.1" {
		t.Errorf("result = %+v", out)
	}
	if len(out.Authorities) == 0 {
		t.Error("no authorities resolved")
	}

	// Garbage is an expected outcome, not an error.
	out, err = env.svc.ValidateTokenAndPermissions(ctx, "garbage", "10.1.1.1")
	if err != nil {
		t.Fatalf("invalid token returned error: %v", err)
	}
	if out.Valid || out.Reason == "" {
		t.Errorf("result = %+v", out)
	}

	// Refresh tokens are a typed failure here, never silently accepted.
	if _, err := env.svc.ValidateTokenAndPermissions(ctx, res.RefreshToken, ""); !errors.Is(err, auth.ErrWrongTokenType) {
		t.Errorf("refresh token err = %v", err)
	}
}

func TestValidateReflectsCurrentAssignments(t *testing.T) {
	env := newServiceEnv(t)
	ctx := context.Background()
	res := env.register(t, "alice", "correct-horse")

	admin, err := env.store.Roles(ctx).FindByName(ctx, "admin")
	if err != nil {
		t.Fatalf("FindByName: %v", err)
	}
	user, err := env.store.Users(ctx).Find(ctx, res.UserID)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	user.RoleIDs = []string{admin.ID}
	if err := env.store.Users(ctx).Update(ctx, user); err != nil {
		t.Fatalf("Update: %v", err)
	}

	// The token was minted before the role change; validation must see the
	// change anyway.
	out, err := env.svc.ValidateTokenAndPermissions(ctx, res.AccessToken, "")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	found := false
	for _, a := range out.Authorities {
		if a == auth.FullAccess {
			found = true
		}
	}
	if !found {
		t.Errorf("FULL_ACCESS missing from %v", out.Authorities)
	}
}

func TestValidateDeletedUser(t *testing.T) {
	env := newServiceEnv(t)
	ctx := context.Background()
	res := env.register(t, "alice", "correct-horse")

	if err := env.store.Users(ctx).Delete(ctx, res.UserID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := env.svc.ValidateTokenAndPermissions(ctx, res.AccessToken, ""); !errors.Is(err, auth.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestRefreshAccessToken(t *testing.T) {
	env := newServiceEnv(t)
	ctx := context.Background()
	res := env.register(t, "alice", "correct-horse")

	out, err := env.svc.RefreshAccessToken(ctx, res.RefreshToken, "10.0.0.2", "test")
	if err != nil {
		t.Fatalf("RefreshAccessToken: %v", err)
	}
	if out.RefreshToken != res.RefreshToken {
		t.Error("refresh token was rotated")
	}
	if out.AccessToken == res.AccessToken {
		t.Error("access token unchanged")
	}
	if !env.codec.IsAccessToken(out.AccessToken) {
		t.Error("new access token does not verify")
	}

	if _, err := env.svc.RefreshAccessToken(ctx, res.AccessToken, "", ""); !errors.Is(err, auth.ErrWrongTokenType) {
		t.Errorf("access token err = %v", err)
	}
	if _, err := env.svc.RefreshAccessToken(ctx, "garbage", "", ""); !errors.Is(err, auth.ErrTokenInvalid) {
		t.Errorf("garbage err = %v", err)
	}
}

func TestRefreshRevokedToken(t *testing.T) {
	env := newServiceEnv(t)
	ctx := context.Background()
	res := env.register(t, "alice", "correct-horse")

	if err := env.svc.RevokeAllTokens(ctx, "alice"); err != nil {
		t.Fatalf("RevokeAllTokens: %v", err)
	}
	if _, err := env.svc.RefreshAccessToken(ctx, res.RefreshToken, "", ""); !errors.Is(err, auth.ErrRefreshTokenRevoked) {
		t.Errorf("err = %v, want ErrRefreshTokenRevoked", err)
	}
}

func TestRefreshAfterLogout(t *testing.T) {
	env := newServiceEnv(t)
	ctx := context.Background()
	res := env.register(t, "alice", "correct-horse")

	if err := env.svc.Logout(ctx, res.RefreshToken); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, err := env.svc.RefreshAccessToken(ctx, res.RefreshToken, "", ""); !errors.Is(err, auth.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
