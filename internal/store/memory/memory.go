// Package memory implements the credential store in process memory. It backs
// the test suites and the dev mode of the authority service.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"authgate.dev/internal/auth"
	"authgate.dev/internal/ids"
)

// Store holds every record under a single RWMutex. Row-level consistency is
// more than enough at this scale; the pg store is the production path.
type Store struct {
	mu sync.RWMutex

	users         map[string]*auth.User
	roles         map[string]*auth.Role
	permissions   map[string]*auth.Permission
	refreshTokens map[string]*auth.RefreshToken
}

var _ auth.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		users:         make(map[string]*auth.User),
		roles:         make(map[string]*auth.Role),
		permissions:   make(map[string]*auth.Permission),
		refreshTokens: make(map[string]*auth.RefreshToken),
	}
}

func (s *Store) Users(ctx context.Context) auth.UserStore              { return (*userStore)(s) }
func (s *Store) Roles(ctx context.Context) auth.RoleStore              { return (*roleStore)(s) }
func (s *Store) Permissions(ctx context.Context) auth.PermissionStore  { return (*permissionStore)(s) }
func (s *Store) RefreshTokens(ctx context.Context) auth.RefreshTokenStore {
	return (*refreshTokenStore)(s)
}

// --- users ---

type userStore Store

func (s *userStore) Create(ctx context.Context, u *auth.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == "" {
		u.ID = ids.New()
	}
	for _, existing := range s.users {
		if strings.EqualFold(existing.Username, u.Username) || strings.EqualFold(existing.Email, u.Email) {
			return auth.ErrConflict
		}
	}
	cp := cloneUser(u)
	s.users[u.ID] = cp
	return nil
}

func (s *userStore) Find(ctx context.Context, id string) (*auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return cloneUser(u), nil
}

func (s *userStore) FindByUsername(ctx context.Context, username string) (*auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Username, username) {
			return cloneUser(u), nil
		}
	}
	return nil, auth.ErrNotFound
}

func (s *userStore) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			return cloneUser(u), nil
		}
	}
	return nil, auth.ErrNotFound
}

func (s *userStore) Update(ctx context.Context, u *auth.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.ID]; !ok {
		return auth.ErrNotFound
	}
	s.users[u.ID] = cloneUser(u)
	return nil
}

// Delete cascades to the user's refresh tokens; role and direct-permission
// links go with the record itself.
func (s *userStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[id]; !ok {
		return auth.ErrNotFound
	}
	delete(s.users, id)
	for tid, tok := range s.refreshTokens {
		if tok.UserID == id {
			delete(s.refreshTokens, tid)
		}
	}
	return nil
}

// --- roles ---

type roleStore Store

func (s *roleStore) Create(ctx context.Context, role *auth.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if role.ID == "" {
		role.ID = ids.New()
	}
	for _, existing := range s.roles {
		if strings.EqualFold(existing.Name, role.Name) {
			return auth.ErrConflict
		}
	}
	s.roles[role.ID] = cloneRole(role)
	return nil
}

func (s *roleStore) Find(ctx context.Context, id string) (*auth.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.roles[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return cloneRole(r), nil
}

func (s *roleStore) FindByName(ctx context.Context, name string) (*auth.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.roles {
		if strings.EqualFold(r.Name, name) {
			return cloneRole(r), nil
		}
	}
	return nil, auth.ErrNotFound
}

func (s *roleStore) List(ctx context.Context) ([]*auth.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*auth.Role, 0, len(s.roles))
	for _, r := range s.roles {
		out = append(out, cloneRole(r))
	}
	return out, nil
}

func (s *roleStore) Update(ctx context.Context, role *auth.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[role.ID]; !ok {
		return auth.ErrNotFound
	}
	for id, existing := range s.roles {
		if id != role.ID && strings.EqualFold(existing.Name, role.Name) {
			return auth.ErrConflict
		}
	}
	s.roles[role.ID] = cloneRole(role)
	return nil
}

func (s *roleStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[id]; !ok {
		return auth.ErrNotFound
	}
	for _, u := range s.users {
		for _, rid := range u.RoleIDs {
			if rid == id {
				return auth.ErrOperationNotAllowed
			}
		}
	}
	delete(s.roles, id)
	return nil
}

func (s *roleStore) ForUser(ctx context.Context, userID string) ([]auth.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, auth.ErrNotFound
	}
	out := make([]auth.Role, 0, len(u.RoleIDs))
	for _, rid := range u.RoleIDs {
		if r, ok := s.roles[rid]; ok {
			out = append(out, *cloneRole(r))
		}
	}
	return out, nil
}

func (s *roleStore) SetPermissions(ctx context.Context, roleID string, permissionIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	role, ok := s.roles[roleID]
	if !ok {
		return auth.ErrNotFound
	}
	for _, pid := range permissionIDs {
		if _, ok := s.permissions[pid]; !ok {
			return fmt.Errorf("%w: permission %s", auth.ErrNotFound, pid)
		}
	}
	role.PermissionIDs = append([]string(nil), permissionIDs...)
	return nil
}

func (s *roleStore) AssignedUserCount(ctx context.Context, roleID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, u := range s.users {
		for _, rid := range u.RoleIDs {
			if rid == roleID {
				count++
				break
			}
		}
	}
	return count, nil
}

// --- permissions ---

type permissionStore Store

func (s *permissionStore) Ensure(ctx context.Context, perms []auth.Permission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range perms {
		if s.findBySlugLocked(p.Slug) != nil {
			continue
		}
		cp := p
		if cp.ID == "" {
			cp.ID = ids.New()
		}
		if cp.CreatedAt.IsZero() {
			cp.CreatedAt = time.Now().UTC()
		}
		s.permissions[cp.ID] = &cp
	}
	return nil
}

func (s *permissionStore) Create(ctx context.Context, perm *auth.Permission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if perm.ID == "" {
		perm.ID = ids.New()
	}
	if s.findBySlugLocked(perm.Slug) != nil {
		return auth.ErrConflict
	}
	cp := *perm
	s.permissions[perm.ID] = &cp
	return nil
}

func (s *permissionStore) Find(ctx context.Context, id string) (*auth.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.permissions[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *permissionStore) FindBySlug(ctx context.Context, slug string) (*auth.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p := s.findBySlugLocked(slug); p != nil {
		cp := *p
		return &cp, nil
	}
	return nil, auth.ErrNotFound
}

func (s *permissionStore) FindByName(ctx context.Context, name string) (*auth.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.permissions {
		if strings.EqualFold(p.Name, name) {
			cp := *p
			return &cp, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (s *permissionStore) List(ctx context.Context) ([]*auth.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*auth.Permission, 0, len(s.permissions))
	for _, p := range s.permissions {
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

func (s *permissionStore) Update(ctx context.Context, perm *auth.Permission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.permissions[perm.ID]; !ok {
		return auth.ErrNotFound
	}
	if existing := s.findBySlugLocked(perm.Slug); existing != nil && existing.ID != perm.ID {
		return auth.ErrConflict
	}
	cp := *perm
	s.permissions[perm.ID] = &cp
	return nil
}

func (s *permissionStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.permissions[id]; !ok {
		return auth.ErrNotFound
	}
	if s.referenceCountLocked(id) > 0 {
		return auth.ErrOperationNotAllowed
	}
	delete(s.permissions, id)
	return nil
}

func (s *permissionStore) ForRole(ctx context.Context, roleID string) ([]auth.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	role, ok := s.roles[roleID]
	if !ok {
		return nil, auth.ErrNotFound
	}
	out := make([]auth.Permission, 0, len(role.PermissionIDs))
	for _, pid := range role.PermissionIDs {
		if p, ok := s.permissions[pid]; ok {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s *permissionStore) DirectForUser(ctx context.Context, userID string) ([]auth.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, auth.ErrNotFound
	}
	out := make([]auth.Permission, 0, len(u.DirectPermissionIDs))
	for _, pid := range u.DirectPermissionIDs {
		if p, ok := s.permissions[pid]; ok {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s *permissionStore) ReferenceCount(ctx context.Context, permissionID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.referenceCountLocked(permissionID), nil
}

func (s *permissionStore) findBySlugLocked(slug string) *auth.Permission {
	for _, p := range s.permissions {
		if p.Slug == slug {
			return p
		}
	}
	return nil
}

func (s *permissionStore) referenceCountLocked(permissionID string) int {
	count := 0
	for _, r := range s.roles {
		for _, pid := range r.PermissionIDs {
			if pid == permissionID {
				count++
			}
		}
	}
	for _, u := range s.users {
		for _, pid := range u.DirectPermissionIDs {
			if pid == permissionID {
				count++
			}
		}
	}
	return count
}

// --- refresh tokens ---

type refreshTokenStore Store

func (s *refreshTokenStore) Create(ctx context.Context, tok *auth.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.ID == "" {
		tok.ID = ids.New()
	}
	for _, existing := range s.refreshTokens {
		if existing.Token == tok.Token {
			return auth.ErrConflict
		}
	}
	cp := *tok
	s.refreshTokens[tok.ID] = &cp
	return nil
}

func (s *refreshTokenStore) FindByToken(ctx context.Context, token string) (*auth.RefreshToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.refreshTokens {
		if t.Token == token {
			cp := *t
			return &cp, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (s *refreshTokenStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.refreshTokens[id]; !ok {
		return auth.ErrNotFound
	}
	delete(s.refreshTokens, id)
	return nil
}

func (s *refreshTokenStore) DeleteByToken(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.refreshTokens {
		if t.Token == token {
			delete(s.refreshTokens, id)
			return nil
		}
	}
	return auth.ErrNotFound
}

func (s *refreshTokenStore) RevokeAllForUser(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.refreshTokens {
		if t.UserID == userID {
			t.Revoked = true
		}
	}
	return nil
}

func (s *refreshTokenStore) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, t := range s.refreshTokens {
		if t.ExpiryDate.Before(before) {
			delete(s.refreshTokens, id)
			n++
		}
	}
	return n, nil
}

// --- clone helpers ---

func cloneUser(u *auth.User) *auth.User {
	cp := *u
	cp.RoleIDs = append([]string(nil), u.RoleIDs...)
	cp.DirectPermissionIDs = append([]string(nil), u.DirectPermissionIDs...)
	return &cp
}

func cloneRole(r *auth.Role) *auth.Role {
	cp := *r
	cp.PermissionIDs = append([]string(nil), r.PermissionIDs...)
	return &cp
}
