package pg

import (
	"context"
	"database/sql"
	"errors"

	"authgate.dev/internal/auth"
	"authgate.dev/internal/ids"
)

// --- roles ---

type roleStore Store

func (s *roleStore) Create(ctx context.Context, role *auth.Role) error {
	if role.ID == "" {
		role.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx, `
		insert into roles (id, name, description, full_access, active, created_at, updated_at)
		values ($1, $2, $3, $4, $5, now(), now())
	`, role.ID, role.Name, role.Description, role.FullAccess, role.Active)
	return mapConstraintError(err)
}

func (s *roleStore) Find(ctx context.Context, id string) (*auth.Role, error) {
	return s.findWhere(ctx, `id = $1`, id)
}

func (s *roleStore) FindByName(ctx context.Context, name string) (*auth.Role, error) {
	return s.findWhere(ctx, `lower(name) = lower($1)`, name)
}

func (s *roleStore) findWhere(ctx context.Context, where string, arg any) (*auth.Role, error) {
	var r auth.Role
	row := s.db.QueryRowContext(ctx, `
		select id, name, description, full_access, active, created_at, updated_at
		from roles where `+where, arg)
	if err := row.Scan(&r.ID, &r.Name, &r.Description, &r.FullAccess, &r.Active, &r.CreatedAt, &r.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, auth.ErrNotFound
		}
		return nil, err
	}
	permIDs, err := scanIDs(ctx, s.db, `select permission_id from role_permissions where role_id = $1`, r.ID)
	if err != nil {
		return nil, err
	}
	r.PermissionIDs = permIDs
	return &r, nil
}

func (s *roleStore) List(ctx context.Context) ([]*auth.Role, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, name, description, full_access, active, created_at, updated_at
		from roles order by name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*auth.Role
	for rows.Next() {
		var r auth.Role
		if err := rows.Scan(&r.ID, &r.Name, &r.Description, &r.FullAccess, &r.Active, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (s *roleStore) Update(ctx context.Context, role *auth.Role) error {
	res, err := s.db.ExecContext(ctx, `
		update roles
		set name = $2, description = $3, full_access = $4, active = $5, updated_at = now()
		where id = $1
	`, role.ID, role.Name, role.Description, role.FullAccess, role.Active)
	if err != nil {
		return mapConstraintError(err)
	}
	return requireRow(res)
}

func (s *roleStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from roles where id = $1`, id)
	if err != nil {
		return mapConstraintError(err)
	}
	return requireRow(res)
}

func (s *roleStore) ForUser(ctx context.Context, userID string) ([]auth.Role, error) {
	rows, err := s.db.QueryContext(ctx, `
		select r.id, r.name, r.description, r.full_access, r.active, r.created_at, r.updated_at
		from roles r
		join users_roles ur on ur.role_id = r.id
		where ur.user_id = $1
		order by r.name
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []auth.Role
	for rows.Next() {
		var r auth.Role
		if err := rows.Scan(&r.ID, &r.Name, &r.Description, &r.FullAccess, &r.Active, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *roleStore) SetPermissions(ctx context.Context, roleID string, permissionIDs []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `delete from role_permissions where role_id = $1`, roleID); err != nil {
		return err
	}
	for _, pid := range permissionIDs {
		if _, err := tx.ExecContext(ctx, `
			insert into role_permissions (role_id, permission_id) values ($1, $2)
		`, roleID, pid); err != nil {
			return mapConstraintError(err)
		}
	}
	return tx.Commit()
}

func (s *roleStore) AssignedUserCount(ctx context.Context, roleID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `select count(*) from users_roles where role_id = $1`, roleID).Scan(&n)
	return n, err
}

// --- permissions ---

type permissionStore Store

func (s *permissionStore) Ensure(ctx context.Context, perms []auth.Permission) error {
	for _, p := range perms {
		id := p.ID
		if id == "" {
			id = ids.New()
		}
		if _, err := s.db.ExecContext(ctx, `
			insert into permissions (id, name, category, slug, api_url, api_method, description, created_at)
			values ($1, $2, $3, $4, $5, $6, $7, now())
			on conflict (slug) do nothing
		`, id, p.Name, p.Category, p.Slug, p.APIUrl, p.APIMethod, p.Description); err != nil {
			return err
		}
	}
	return nil
}

func (s *permissionStore) Create(ctx context.Context, perm *auth.Permission) error {
	if perm.ID == "" {
		perm.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx, `
		insert into permissions (id, name, category, slug, api_url, api_method, description, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, now())
	`, perm.ID, perm.Name, perm.Category, perm.Slug, perm.APIUrl, perm.APIMethod, perm.Description)
	return mapConstraintError(err)
}

func (s *permissionStore) Find(ctx context.Context, id string) (*auth.Permission, error) {
	return s.findWhere(ctx, `id = $1`, id)
}

func (s *permissionStore) FindBySlug(ctx context.Context, slug string) (*auth.Permission, error) {
	return s.findWhere(ctx, `slug = $1`, slug)
}

func (s *permissionStore) FindByName(ctx context.Context, name string) (*auth.Permission, error) {
	return s.findWhere(ctx, `lower(name) = lower($1)`, name)
}

func (s *permissionStore) findWhere(ctx context.Context, where string, arg any) (*auth.Permission, error) {
	var p auth.Permission
	row := s.db.QueryRowContext(ctx, `
		select id, name, category, slug, api_url, api_method, description, created_at
		from permissions where `+where, arg)
	if err := row.Scan(&p.ID, &p.Name, &p.Category, &p.Slug, &p.APIUrl, &p.APIMethod, &p.Description, &p.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, auth.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *permissionStore) List(ctx context.Context) ([]*auth.Permission, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, name, category, slug, api_url, api_method, description, created_at
		from permissions order by category, slug
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*auth.Permission
	for rows.Next() {
		var p auth.Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.Category, &p.Slug, &p.APIUrl, &p.APIMethod, &p.Description, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

func (s *permissionStore) Update(ctx context.Context, perm *auth.Permission) error {
	res, err := s.db.ExecContext(ctx, `
		update permissions
		set name = $2, category = $3, slug = $4, api_url = $5, api_method = $6, description = $7
		where id = $1
	`, perm.ID, perm.Name, perm.Category, perm.Slug, perm.APIUrl, perm.APIMethod, perm.Description)
	if err != nil {
		return mapConstraintError(err)
	}
	return requireRow(res)
}

func (s *permissionStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from permissions where id = $1`, id)
	if err != nil {
		return mapConstraintError(err)
	}
	return requireRow(res)
}

func (s *permissionStore) ForRole(ctx context.Context, roleID string) ([]auth.Permission, error) {
	return s.listJoined(ctx, `
		select p.id, p.name, p.category, p.slug, p.api_url, p.api_method, p.description, p.created_at
		from permissions p
		join role_permissions rp on rp.permission_id = p.id
		where rp.role_id = $1
		order by p.slug
	`, roleID)
}

func (s *permissionStore) DirectForUser(ctx context.Context, userID string) ([]auth.Permission, error) {
	return s.listJoined(ctx, `
		select p.id, p.name, p.category, p.slug, p.api_url, p.api_method, p.description, p.created_at
		from permissions p
		join users_permissions up on up.permission_id = p.id
		where up.user_id = $1
		order by p.slug
	`, userID)
}

func (s *permissionStore) ReferenceCount(ctx context.Context, permissionID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		select
			(select count(*) from role_permissions where permission_id = $1) +
			(select count(*) from users_permissions where permission_id = $1)
	`, permissionID).Scan(&n)
	return n, err
}

func (s *permissionStore) listJoined(ctx context.Context, query string, arg any) ([]auth.Permission, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []auth.Permission
	for rows.Next() {
		var p auth.Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.Category, &p.Slug, &p.APIUrl, &p.APIMethod, &p.Description, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
