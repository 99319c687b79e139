package auth

import (
	"context"
	"fmt"
	"time"

	"authgate.dev/internal/ids"
)

// RefreshTokenManager owns the refresh-token lifecycle: create on login,
// verify on refresh, bulk-revoke on credential change, sweep on a schedule.
//
// On successful refresh the same token string is reissued rather than
// rotated. This is a known weaker-than-ideal policy kept deliberately; see
// DESIGN.md before changing it.
type RefreshTokenManager struct {
	store Store
	codec *Codec
	now   func() time.Time
}

// ManagerOption configures a RefreshTokenManager.
type ManagerOption func(*RefreshTokenManager)

// WithManagerClock overrides the time source (tests).
func WithManagerClock(fn func() time.Time) ManagerOption {
	return func(m *RefreshTokenManager) {
		if fn != nil {
			m.now = fn
		}
	}
}

// NewRefreshTokenManager constructs a manager over the given store and codec.
func NewRefreshTokenManager(store Store, codec *Codec, opts ...ManagerOption) *RefreshTokenManager {
	m := &RefreshTokenManager{store: store, codec: codec, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create issues a fresh refresh token for the user and persists the record.
func (m *RefreshTokenManager) Create(ctx context.Context, username, ip, userAgent string) (*RefreshToken, error) {
	user, err := m.store.Users(ctx).FindByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("%w: user %s", ErrNotFound, username)
	}
	tokenString, err := m.codec.IssueRefreshToken(user.Username)
	if err != nil {
		return nil, err
	}
	now := m.now().UTC()
	rec := &RefreshToken{
		ID:         ids.New(),
		Token:      tokenString,
		UserID:     user.ID,
		ExpiryDate: now.Add(m.codec.RefreshTTL()),
		CreatedAt:  now,
		Revoked:    false,
		IPAddress:  ip,
		UserAgent:  userAgent,
	}
	if err := m.store.RefreshTokens(ctx).Create(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// FindByToken loads the record for a presented refresh token string.
func (m *RefreshTokenManager) FindByToken(ctx context.Context, token string) (*RefreshToken, error) {
	return m.store.RefreshTokens(ctx).FindByToken(ctx, token)
}

// VerifyUsable checks the record against the expiry/revocation state
// machine. An expired record is deleted and ErrRefreshTokenExpired returned;
// a revoked record is left in place until swept and ErrRefreshTokenRevoked
// returned. Otherwise the record comes back unchanged.
func (m *RefreshTokenManager) VerifyUsable(ctx context.Context, rec *RefreshToken) (*RefreshToken, error) {
	if m.now().After(rec.ExpiryDate) {
		_ = m.store.RefreshTokens(ctx).Delete(ctx, rec.ID)
		return nil, ErrRefreshTokenExpired
	}
	if rec.Revoked {
		return nil, ErrRefreshTokenRevoked
	}
	return rec, nil
}

// RevokeAll flags every token owned by the user. Used on logout-all or
// credential change.
func (m *RefreshTokenManager) RevokeAll(ctx context.Context, username string) error {
	user, err := m.store.Users(ctx).FindByUsername(ctx, username)
	if err != nil {
		return fmt.Errorf("%w: user %s", ErrNotFound, username)
	}
	return m.store.RefreshTokens(ctx).RevokeAllForUser(ctx, user.ID)
}

// DeleteByToken removes the row for an explicit logout. Deleting an absent
// token is not an error to the caller-facing logout operation.
func (m *RefreshTokenManager) DeleteByToken(ctx context.Context, token string) error {
	return m.store.RefreshTokens(ctx).DeleteByToken(ctx, token)
}

// SweepExpired batch-deletes every record past its expiry. Invoked on a
// schedule, never on the request path.
func (m *RefreshTokenManager) SweepExpired(ctx context.Context) (int64, error) {
	return m.store.RefreshTokens(ctx).DeleteExpired(ctx, m.now().UTC())
}
