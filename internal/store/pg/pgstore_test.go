package pg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"authgate.dev/internal/auth"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewWithDB(db), mock
}

func uniqueViolation() error {
	return &pgconn.PgError{Code: pgErrUniqueViolation, ConstraintName: "users_username_key"}
}

func fkViolation() error {
	return &pgconn.PgError{Code: pgErrForeignKeyViolation}
}

func TestCreateUserWritesLinks(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec("insert into users ").
		WithArgs("u1", "alice", "alice@example.com", "hash", true, false).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("insert into users_roles").
		WithArgs("u1", "r1").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("insert into users_permissions").
		WithArgs("u1", "p1").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := s.Users(ctx).Create(ctx, &auth.User{
		ID:                  "u1",
		Username:            "alice",
		Email:               "Alice@Example.com", // lowered on the way in
		PasswordHash:        "hash",
		Active:              true,
		RoleIDs:             []string{"r1"},
		DirectPermissionIDs: []string{"p1"},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCreateUserAssignsID(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec("insert into users ").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	u := &auth.User{Username: "alice", Email: "alice@example.com"}
	if err := s.Users(ctx).Create(ctx, u); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if u.ID == "" {
		t.Error("Create did not assign an id")
	}
}

func TestCreateUserUniqueViolation(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec("insert into users ").WillReturnError(uniqueViolation())
	mock.ExpectRollback()

	err := s.Users(ctx).Create(ctx, &auth.User{ID: "u1", Username: "alice", Email: "alice@example.com"})
	if !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestFindByUsername(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()
	now := time.Now()

	mock.ExpectQuery("from users where lower").
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "email", "password_hash", "active", "locked", "created_at", "updated_at"}).
			AddRow("u1", "alice", "alice@example.com", "hash", true, false, now, now))
	mock.ExpectQuery("select role_id from users_roles").
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"role_id"}).AddRow("r1").AddRow("r2"))
	mock.ExpectQuery("select permission_id from users_permissions").
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"permission_id"}))

	u, err := s.Users(ctx).FindByUsername(ctx, "alice")
	if err != nil {
		t.Fatalf("FindByUsername: %v", err)
	}
	if u.ID != "u1" || !u.Active || u.Locked {
		t.Errorf("user = %+v", u)
	}
	if len(u.RoleIDs) != 2 || u.RoleIDs[0] != "r1" {
		t.Errorf("role ids = %v", u.RoleIDs)
	}
	if len(u.DirectPermissionIDs) != 0 {
		t.Errorf("direct permission ids = %v", u.DirectPermissionIDs)
	}
}

func TestFindUserNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectQuery("from users where id").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "email", "password_hash", "active", "locked", "created_at", "updated_at"}))

	if _, err := s.Users(ctx).Find(ctx, "missing"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestUpdateUserMissing(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec("update users").WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.Users(ctx).Update(ctx, &auth.User{ID: "ghost", Username: "x", Email: "x@y.z"})
	if !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestRoleDeleteRestricted(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec("delete from roles").WithArgs("r1").WillReturnError(fkViolation())

	if err := s.Roles(ctx).Delete(ctx, "r1"); !errors.Is(err, auth.ErrOperationNotAllowed) {
		t.Fatalf("err = %v, want ErrOperationNotAllowed", err)
	}
}

func TestSetPermissionsReplacesSet(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec("delete from role_permissions").WithArgs("r1").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("insert into role_permissions").WithArgs("r1", "p1").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("insert into role_permissions").WithArgs("r1", "p2").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	if err := s.Roles(ctx).SetPermissions(ctx, "r1", []string{"p1", "p2"}); err != nil {
		t.Fatalf("SetPermissions: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRolesForUser(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()
	now := time.Now()

	mock.ExpectQuery("join users_roles").
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "description", "full_access", "active", "created_at", "updated_at"}).
			AddRow("r1", "admin", "", true, true, now, now).
			AddRow("r2", "user", "", false, true, now, now))

	roles, err := s.Roles(ctx).ForUser(ctx, "u1")
	if err != nil {
		t.Fatalf("ForUser: %v", err)
	}
	if len(roles) != 2 || !roles[0].FullAccess || roles[1].Name != "user" {
		t.Errorf("roles = %+v", roles)
	}
}

func TestPermissionCreateConflict(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec("insert into permissions").WillReturnError(uniqueViolation())

	err := s.Permissions(ctx).Create(ctx, &auth.Permission{ID: "p1", Name: "Read", Slug: "order.read"})
	if !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
}

func TestPermissionDeleteReferenced(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec("delete from permissions").WithArgs("p1").WillReturnError(fkViolation())

	if err := s.Permissions(ctx).Delete(ctx, "p1"); !errors.Is(err, auth.ErrOperationNotAllowed) {
		t.Fatalf("err = %v, want ErrOperationNotAllowed", err)
	}
}

func TestReferenceCount(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectQuery("select").
		WithArgs("p1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	n, err := s.Permissions(ctx).ReferenceCount(ctx, "p1")
	if err != nil || n != 3 {
		t.Fatalf("ReferenceCount = %d, %v", n, err)
	}
}

func TestRefreshTokenRoundTrip(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()
	now := time.Now()

	mock.ExpectExec("insert into refresh_tokens").
		WithArgs("t1", "tok", "u1", sqlmock.AnyArg(), sqlmock.AnyArg(), false, "10.0.0.1", "curl/8").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("from refresh_tokens where token").
		WithArgs("tok").
		WillReturnRows(sqlmock.NewRows([]string{"id", "token", "user_id", "expiry_date", "created_at", "revoked", "ip_address", "user_agent"}).
			AddRow("t1", "tok", "u1", now.Add(time.Hour), now, false, "10.0.0.1", "curl/8"))

	err := s.RefreshTokens(ctx).Create(ctx, &auth.RefreshToken{
		ID: "t1", Token: "tok", UserID: "u1",
		ExpiryDate: now.Add(time.Hour), CreatedAt: now,
		IPAddress: "10.0.0.1", UserAgent: "curl/8",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	tok, err := s.RefreshTokens(ctx).FindByToken(ctx, "tok")
	if err != nil {
		t.Fatalf("FindByToken: %v", err)
	}
	if tok.ID != "t1" || tok.UserID != "u1" || tok.Revoked {
		t.Errorf("token = %+v", tok)
	}
}

func TestDeleteExpiredCount(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec("delete from refresh_tokens where expiry_date").
		WillReturnResult(sqlmock.NewResult(0, 4))

	n, err := s.RefreshTokens(ctx).DeleteExpired(ctx, time.Now())
	if err != nil || n != 4 {
		t.Fatalf("DeleteExpired = %d, %v", n, err)
	}
}

func TestRevokeAllForUser(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec("update refresh_tokens set revoked").
		WithArgs("u1").
		WillReturnResult(sqlmock.NewResult(0, 2))

	if err := s.RefreshTokens(ctx).RevokeAllForUser(ctx, "u1"); err != nil {
		t.Fatalf("RevokeAllForUser: %v", err)
	}
}
