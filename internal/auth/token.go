package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token type claim values. The type check must pass before any other claim
// is trusted: a refresh token is never accepted where an access token is
// required, and vice versa.
const (
	TokenTypeAccess  = "ACCESS"
	TokenTypeRefresh = "REFRESH"
)

const (
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 7 * 24 * time.Hour
)

// Claims is the wire shape of both token kinds. Authorities ride in a single
// comma-joined claim on access tokens; refresh tokens never carry them.
type Claims struct {
	TokenType   string `json:"type"`
	Authorities string `json:"auth,omitempty"`
	IPAddress   string `json:"ipAddress,omitempty"`
	UserAgent   string `json:"userAgent,omitempty"`
	jwt.RegisteredClaims
}

// AuthorityList splits the joined authority claim back into a slice.
func (c *Claims) AuthorityList() []string {
	if c.Authorities == "" {
		return nil
	}
	return strings.Split(c.Authorities, ",")
}

// Codec mints and verifies signed, expiring tokens. It is stateless apart
// from its configuration; Verify compares expiry against the verifier's wall
// clock with no skew compensation.
type Codec struct {
	key        []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// CodecOption configures a Codec.
type CodecOption func(*Codec)

// WithAccessTTL overrides the access token lifetime.
func WithAccessTTL(ttl time.Duration) CodecOption {
	return func(c *Codec) {
		if ttl > 0 {
			c.accessTTL = ttl
		}
	}
}

// WithRefreshTTL overrides the refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) CodecOption {
	return func(c *Codec) {
		if ttl > 0 {
			c.refreshTTL = ttl
		}
	}
}

// WithCodecClock overrides the time source (tests).
func WithCodecClock(fn func() time.Time) CodecOption {
	return func(c *Codec) {
		if fn != nil {
			c.now = fn
		}
	}
}

// NewCodec constructs a Codec signing with HMAC-SHA-384. The key is
// process-wide configuration loaded once at startup.
func NewCodec(secret string, opts ...CodecOption) (*Codec, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("auth: signing secret is required")
	}
	c := &Codec{
		key:        []byte(secret),
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// AccessTTL reports the configured access token lifetime.
func (c *Codec) AccessTTL() time.Duration { return c.accessTTL }

// RefreshTTL reports the configured refresh token lifetime.
func (c *Codec) RefreshTTL() time.Duration { return c.refreshTTL }

// IssueAccessToken signs an access token for the subject carrying the
// resolved authority set plus the caller's network identity.
func (c *Codec) IssueAccessToken(subject string, authorities []string, ip, userAgent string) (string, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", errors.New("auth: subject is required")
	}
	now := c.now().UTC()
	claims := Claims{
		TokenType:   TokenTypeAccess,
		Authorities: strings.Join(authorities, ","),
		IPAddress:   ip,
		UserAgent:   userAgent,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.accessTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS384, claims).SignedString(c.key)
}

// IssueRefreshToken signs a refresh token for the subject. No authority
// claim: refresh tokens never carry permissions.
func (c *Codec) IssueRefreshToken(subject string) (string, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", errors.New("auth: subject is required")
	}
	now := c.now().UTC()
	claims := Claims{
		TokenType: TokenTypeRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.refreshTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS384, claims).SignedString(c.key)
}

// Verify checks signature and expiry atomically and returns the claims, or a
// TokenInvalidError with a typed reason. It never panics past the caller.
func (c *Codec) Verify(tokenString string) (*Claims, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return nil, &TokenInvalidError{Reason: ReasonEmpty}
	}
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS384 {
			return nil, &TokenInvalidError{Reason: ReasonUnsupported}
		}
		return c.key, nil
	}, jwt.WithTimeFunc(func() time.Time { return c.now() }))
	if err != nil {
		return nil, classifyJWTError(err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, &TokenInvalidError{Reason: ReasonMalformed}
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, &TokenInvalidError{Reason: ReasonMalformed}
	}
	return claims, nil
}

// IsAccessToken reports whether the token verifies and carries type=ACCESS.
func (c *Codec) IsAccessToken(tokenString string) bool {
	claims, err := c.Verify(tokenString)
	return err == nil && claims.TokenType == TokenTypeAccess
}

// IsRefreshToken reports whether the token verifies and carries type=REFRESH.
func (c *Codec) IsRefreshToken(tokenString string) bool {
	claims, err := c.Verify(tokenString)
	return err == nil && claims.TokenType == TokenTypeRefresh
}

func classifyJWTError(err error) error {
	var tie *TokenInvalidError
	switch {
	case errors.As(err, &tie):
		return tie
	case errors.Is(err, jwt.ErrTokenExpired):
		return &TokenInvalidError{Reason: ReasonExpired}
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return &TokenInvalidError{Reason: ReasonBadSignature}
	case errors.Is(err, jwt.ErrTokenMalformed):
		return &TokenInvalidError{Reason: ReasonMalformed}
	default:
		return &TokenInvalidError{Reason: ReasonUnsupported}
	}
}
