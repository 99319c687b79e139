package auth

import (
	"context"
	"time"
)

// Store describes the credential-store operations the authority needs.
type Store interface {
	Users(ctx context.Context) UserStore
	Roles(ctx context.Context) RoleStore
	Permissions(ctx context.Context) PermissionStore
	RefreshTokens(ctx context.Context) RefreshTokenStore
}

// UserStore manages user records and their role/permission links.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	FindByUsername(ctx context.Context, username string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	Update(ctx context.Context, u *User) error
	Delete(ctx context.Context, id string) error
}

// RoleStore manages roles, their permission sets and user assignments.
type RoleStore interface {
	Create(ctx context.Context, role *Role) error
	Find(ctx context.Context, id string) (*Role, error)
	FindByName(ctx context.Context, name string) (*Role, error)
	List(ctx context.Context) ([]*Role, error)
	Update(ctx context.Context, role *Role) error
	Delete(ctx context.Context, id string) error
	ForUser(ctx context.Context, userID string) ([]Role, error)
	SetPermissions(ctx context.Context, roleID string, permissionIDs []string) error
	AssignedUserCount(ctx context.Context, roleID string) (int, error)
}

// PermissionStore manages the permission catalog.
type PermissionStore interface {
	Ensure(ctx context.Context, perms []Permission) error
	Create(ctx context.Context, perm *Permission) error
	Find(ctx context.Context, id string) (*Permission, error)
	FindBySlug(ctx context.Context, slug string) (*Permission, error)
	FindByName(ctx context.Context, name string) (*Permission, error)
	List(ctx context.Context) ([]*Permission, error)
	Update(ctx context.Context, perm *Permission) error
	Delete(ctx context.Context, id string) error
	ForRole(ctx context.Context, roleID string) ([]Permission, error)
	DirectForUser(ctx context.Context, userID string) ([]Permission, error)
	ReferenceCount(ctx context.Context, permissionID string) (int, error)
}

// RefreshTokenStore manages refresh-token rows.
type RefreshTokenStore interface {
	Create(ctx context.Context, tok *RefreshToken) error
	FindByToken(ctx context.Context, token string) (*RefreshToken, error)
	Delete(ctx context.Context, id string) error
	DeleteByToken(ctx context.Context, token string) error
	RevokeAllForUser(ctx context.Context, userID string) error
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}
