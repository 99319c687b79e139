// Package pg implements the credential store on PostgreSQL.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"authgate.dev/internal/auth"
	"authgate.dev/internal/ids"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

// Store wraps a pooled sql.DB connection.
type Store struct {
	db *sql.DB
}

var _ auth.Store = (*Store)(nil)

// Open connects with pooled defaults tuned for the authority workload.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing connection (tests).
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

// DB exposes the handle for readiness probes and the migration manager.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Users(ctx context.Context) auth.UserStore             { return (*userStore)(s) }
func (s *Store) Roles(ctx context.Context) auth.RoleStore             { return (*roleStore)(s) }
func (s *Store) Permissions(ctx context.Context) auth.PermissionStore { return (*permissionStore)(s) }
func (s *Store) RefreshTokens(ctx context.Context) auth.RefreshTokenStore {
	return (*refreshTokenStore)(s)
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

func mapConstraintError(err error) error {
	if pgErr, ok := maybePgError(err); ok {
		switch pgErr.Code {
		case pgErrUniqueViolation:
			return auth.ErrConflict
		case pgErrForeignKeyViolation:
			return auth.ErrOperationNotAllowed
		}
	}
	return err
}

// --- users ---

type userStore Store

func (s *userStore) Create(ctx context.Context, u *auth.User) error {
	if u.ID == "" {
		u.ID = ids.New()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		insert into users (id, username, email, password_hash, active, locked, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, now(), now())
	`, u.ID, u.Username, strings.ToLower(u.Email), u.PasswordHash, u.Active, u.Locked); err != nil {
		return mapConstraintError(err)
	}
	for _, roleID := range u.RoleIDs {
		if _, err := tx.ExecContext(ctx, `
			insert into users_roles (user_id, role_id) values ($1, $2)
			on conflict do nothing
		`, u.ID, roleID); err != nil {
			return mapConstraintError(err)
		}
	}
	for _, permID := range u.DirectPermissionIDs {
		if _, err := tx.ExecContext(ctx, `
			insert into users_permissions (user_id, permission_id) values ($1, $2)
			on conflict do nothing
		`, u.ID, permID); err != nil {
			return mapConstraintError(err)
		}
	}
	return tx.Commit()
}

func (s *userStore) Find(ctx context.Context, id string) (*auth.User, error) {
	return s.findWhere(ctx, `id = $1`, id)
}

func (s *userStore) FindByUsername(ctx context.Context, username string) (*auth.User, error) {
	return s.findWhere(ctx, `lower(username) = lower($1)`, username)
}

func (s *userStore) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	return s.findWhere(ctx, `lower(email) = lower($1)`, email)
}

func (s *userStore) findWhere(ctx context.Context, where string, arg any) (*auth.User, error) {
	var u auth.User
	row := s.db.QueryRowContext(ctx, `
		select id, username, email, password_hash, active, locked, created_at, updated_at
		from users where `+where, arg)
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Active, &u.Locked, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, auth.ErrNotFound
		}
		return nil, err
	}
	roleIDs, err := scanIDs(ctx, s.db, `select role_id from users_roles where user_id = $1`, u.ID)
	if err != nil {
		return nil, err
	}
	permIDs, err := scanIDs(ctx, s.db, `select permission_id from users_permissions where user_id = $1`, u.ID)
	if err != nil {
		return nil, err
	}
	u.RoleIDs = roleIDs
	u.DirectPermissionIDs = permIDs
	return &u, nil
}

func (s *userStore) Update(ctx context.Context, u *auth.User) error {
	res, err := s.db.ExecContext(ctx, `
		update users
		set username = $2, email = $3, password_hash = $4, active = $5, locked = $6, updated_at = now()
		where id = $1
	`, u.ID, u.Username, strings.ToLower(u.Email), u.PasswordHash, u.Active, u.Locked)
	if err != nil {
		return mapConstraintError(err)
	}
	return requireRow(res)
}

// Delete cascades to users_roles, users_permissions and refresh_tokens via
// the schema's on delete cascade.
func (s *userStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from users where id = $1`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// --- refresh tokens ---

type refreshTokenStore Store

func (s *refreshTokenStore) Create(ctx context.Context, tok *auth.RefreshToken) error {
	if tok.ID == "" {
		tok.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx, `
		insert into refresh_tokens (id, token, user_id, expiry_date, created_at, revoked, ip_address, user_agent)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
	`, tok.ID, tok.Token, tok.UserID, tok.ExpiryDate, tok.CreatedAt, tok.Revoked, tok.IPAddress, tok.UserAgent)
	return mapConstraintError(err)
}

func (s *refreshTokenStore) FindByToken(ctx context.Context, token string) (*auth.RefreshToken, error) {
	var t auth.RefreshToken
	row := s.db.QueryRowContext(ctx, `
		select id, token, user_id, expiry_date, created_at, revoked, ip_address, user_agent
		from refresh_tokens where token = $1
	`, token)
	if err := row.Scan(&t.ID, &t.Token, &t.UserID, &t.ExpiryDate, &t.CreatedAt, &t.Revoked, &t.IPAddress, &t.UserAgent); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, auth.ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

func (s *refreshTokenStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from refresh_tokens where id = $1`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *refreshTokenStore) DeleteByToken(ctx context.Context, token string) error {
	res, err := s.db.ExecContext(ctx, `delete from refresh_tokens where token = $1`, token)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *refreshTokenStore) RevokeAllForUser(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `update refresh_tokens set revoked = true where user_id = $1`, userID)
	return err
}

func (s *refreshTokenStore) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `delete from refresh_tokens where expiry_date < $1`, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- helpers ---

func scanIDs(ctx context.Context, db *sql.DB, query string, arg any) ([]string, error) {
	rows, err := db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return auth.ErrNotFound
	}
	return nil
}
