package auth

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidCredentials  = errors.New("auth: invalid credentials")
	ErrAccountDisabled     = errors.New("auth: account disabled")
	ErrAccountLocked       = errors.New("auth: account locked")
	ErrNotFound            = errors.New("auth: not found")
	ErrConflict            = errors.New("auth: already exists")
	ErrInvalidInput        = errors.New("auth: invalid input")
	ErrOperationNotAllowed = errors.New("auth: operation not allowed")
	ErrWrongTokenType      = errors.New("auth: wrong token type")
	ErrRefreshTokenExpired = errors.New("auth: refresh token expired")
	ErrRefreshTokenRevoked = errors.New("auth: refresh token revoked")
	ErrNotAuthenticated    = errors.New("auth: not authenticated")
	ErrAccessDenied        = errors.New("auth: access denied")
)

// ErrTokenInvalid is the errors.Is target for every token verification
// failure; the concrete reason travels in TokenInvalidError.
var ErrTokenInvalid = errors.New("auth: invalid token")

// TokenInvalidReason distinguishes verification failures for logging. The
// outward-facing message stays uniform regardless of the reason.
type TokenInvalidReason string

const (
	ReasonBadSignature TokenInvalidReason = "bad_signature"
	ReasonMalformed    TokenInvalidReason = "malformed"
	ReasonExpired      TokenInvalidReason = "expired"
	ReasonUnsupported  TokenInvalidReason = "unsupported"
	ReasonEmpty        TokenInvalidReason = "empty"
)

// TokenInvalidError carries the typed reason a token failed verification.
type TokenInvalidError struct {
	Reason TokenInvalidReason
}

func (e *TokenInvalidError) Error() string {
	return fmt.Sprintf("auth: invalid token (%s)", e.Reason)
}

// Is makes errors.Is(err, ErrTokenInvalid) match any TokenInvalidError.
func (e *TokenInvalidError) Is(target error) bool {
	return target == ErrTokenInvalid
}

// InvalidReason extracts the verification failure reason, if err is one.
func InvalidReason(err error) (TokenInvalidReason, bool) {
	var tie *TokenInvalidError
	if errors.As(err, &tie) {
		return tie.Reason, true
	}
	return "", false
}
