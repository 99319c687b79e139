package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"authgate.dev/internal/audit"
	"authgate.dev/internal/auth"
	"authgate.dev/internal/obs"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type registerRequest struct {
	Username    string   `json:"username"`
	Email       string   `json:"email"`
	Password    string   `json:"password"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

// validateTokenRequest carries the target route alongside the token. The
// route fields are recorded for audit; enforcement stays slug-based at the
// handler call sites.
type validateTokenRequest struct {
	Token                     string `json:"token"`
	RequiredPermissionsAPI    string `json:"requiredPermissionsApi"`
	RequiredPermissionsMethod string `json:"requiredPermissionsMethod"`
	IPAddress                 string `json:"ipAddress"`
}

type refreshTokenRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type logoutRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// tokenPairData is the data payload of login, register and refresh replies.
type tokenPairData struct {
	AccessToken  string   `json:"accessToken"`
	RefreshToken string   `json:"refreshToken"`
	TokenType    string   `json:"tokenType"`
	ExpiresIn    int64    `json:"expiresIn"`
	UserID       string   `json:"userId,omitempty"`
	Username     string   `json:"username,omitempty"`
	Email        string   `json:"email,omitempty"`
	Roles        []string `json:"roles,omitempty"`
	Permissions  []string `json:"permissions,omitempty"`
}

// validationData is what the gateway consumes: ipAddress and userId are
// required fields of the contract, not decoration.
type validationData struct {
	IsValid         bool     `json:"isValid"`
	Message         string   `json:"message"`
	UserPermissions []string `json:"userPermissions,omitempty"`
	IPAddress       string   `json:"ipAddress"`
	UserID          string   `json:"userId"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	result, err := a.svc.Authenticate(r.Context(), req.Username, req.Password, clientIP(r), r.UserAgent())
	if err != nil {
		// Одно и то же сообщение на любую причину отказа, чтобы не
		// раскрывать существование аккаунта. Точная причина — в аудите.
		_ = audit.LogEvent(r.Context(), audit.EventLoginFailed, map[string]any{
			"login":  strings.TrimSpace(req.Username),
			"ip":     clientIP(r),
			"reason": loginFailureReason(err),
		})
		writeEnvelope(w, r, http.StatusUnauthorized, "Invalid username or password", nil)
		return
	}

	obs.TokensIssued.WithLabelValues("access").Inc()
	obs.TokensIssued.WithLabelValues("refresh").Inc()
	_ = audit.LogEvent(r.Context(), audit.EventLogin, map[string]any{
		"user_id":  result.UserID,
		"username": result.Username,
		"ip":       clientIP(r),
	})
	writeEnvelope(w, r, http.StatusOK, "Login successful", loginData(result))
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	result, err := a.svc.Register(r.Context(), auth.SignupRequest{
		Username:          req.Username,
		Email:             req.Email,
		Password:          req.Password,
		Roles:             req.Roles,
		DirectPermissions: req.Permissions,
	}, clientIP(r), r.UserAgent())
	if err != nil {
		a.handleAuthError(w, r, err)
		return
	}

	obs.TokensIssued.WithLabelValues("access").Inc()
	obs.TokensIssued.WithLabelValues("refresh").Inc()
	_ = audit.LogEvent(r.Context(), audit.EventRegister, map[string]any{
		"user_id":  result.UserID,
		"username": result.Username,
		"ip":       clientIP(r),
	})
	writeEnvelope(w, r, http.StatusCreated, "Registration successful", loginData(result))
}

func (a *API) handleValidateToken(w http.ResponseWriter, r *http.Request) {
	var req validateTokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	ip := strings.TrimSpace(req.IPAddress)
	if ip == "" {
		ip = clientIP(r)
	}

	result, err := a.svc.ValidateTokenAndPermissions(r.Context(), req.Token, ip)
	if err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	if !result.Valid {
		obs.TokenRejections.WithLabelValues(string(result.Reason)).Inc()
		_ = audit.LogEvent(r.Context(), audit.EventValidateDenied, map[string]any{
			"ip":     ip,
			"reason": string(result.Reason),
			"target": strings.TrimSpace(req.RequiredPermissionsMethod + " " + req.RequiredPermissionsAPI),
		})
		writeEnvelope(w, r, http.StatusForbidden, result.Message, validationData{
			IsValid:   false,
			Message:   result.Message,
			IPAddress: ip,
			UserID:    auth.AnonymousUserID,
		})
		return
	}

	writeEnvelope(w, r, http.StatusOK, result.Message, validationData{
		IsValid:         true,
		Message:         result.Message,
		UserPermissions: result.Authorities,
		IPAddress:       result.IPAddress,
		UserID:          result.UserID,
	})
}

func (a *API) handleRefreshToken(w http.ResponseWriter, r *http.Request) {
	var req refreshTokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	result, err := a.svc.RefreshAccessToken(r.Context(), req.RefreshToken, clientIP(r), r.UserAgent())
	if err != nil {
		a.handleAuthError(w, r, err)
		return
	}

	obs.TokensIssued.WithLabelValues("access").Inc()
	_ = audit.LogEvent(r.Context(), audit.EventRefresh, map[string]any{
		"ip": clientIP(r),
	})
	writeEnvelope(w, r, http.StatusOK, "Token refreshed", tokenPairData{
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		TokenType:    result.TokenType,
		ExpiresIn:    result.ExpiresIn,
	})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req logoutRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	// Logout не должен падать наружу: ошибка удаления — только в лог.
	if err := a.svc.Logout(r.Context(), req.RefreshToken); err != nil {
		obs.Log("warn", "logout_cleanup_failed", map[string]any{
			"request_id": RequestIDFromContext(r.Context()),
			"error":      err.Error(),
		})
	}
	_ = audit.LogEvent(r.Context(), audit.EventLogout, map[string]any{
		"ip": clientIP(r),
	})
	writeEnvelope(w, r, http.StatusOK, "Logged out", nil)
}

func (a *API) handleRevokeAll(w http.ResponseWriter, r *http.Request) {
	username := identityUsername(r.Context())
	if username == "" {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	if err := a.svc.RevokeAllTokens(r.Context(), username); err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventRevokeAll, map[string]any{
		"username": username,
	})
	writeEnvelope(w, r, http.StatusOK, "All sessions revoked", nil)
}

func loginData(result auth.LoginResult) tokenPairData {
	return tokenPairData{
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		TokenType:    result.TokenType,
		ExpiresIn:    result.ExpiresIn,
		UserID:       result.UserID,
		Username:     result.Username,
		Email:        result.Email,
		Roles:        result.Roles,
		Permissions:  result.Permissions,
	}
}

func loginFailureReason(err error) string {
	switch {
	case errors.Is(err, auth.ErrAccountLocked):
		return "account_locked"
	case errors.Is(err, auth.ErrAccountDisabled):
		return "account_disabled"
	default:
		return "invalid_credentials"
	}
}

// handleAuthError maps domain errors onto the HTTP surface.
func (a *API) handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	var tie *auth.TokenInvalidError
	switch {
	case errors.As(err, &tie), errors.Is(err, auth.ErrTokenInvalid):
		reason, _ := auth.InvalidReason(err)
		obs.TokenRejections.WithLabelValues(string(reason)).Inc()
		writeEnvelope(w, r, http.StatusUnauthorized, "Invalid token", nil)
	case errors.Is(err, auth.ErrWrongTokenType):
		writeEnvelope(w, r, http.StatusUnauthorized, "Invalid token type", nil)
	case errors.Is(err, auth.ErrRefreshTokenExpired):
		writeEnvelope(w, r, http.StatusUnauthorized, "Refresh token expired", nil)
	case errors.Is(err, auth.ErrRefreshTokenRevoked):
		writeEnvelope(w, r, http.StatusUnauthorized, "Refresh token revoked", nil)
	case errors.Is(err, auth.ErrInvalidInput):
		writeEnvelope(w, r, http.StatusBadRequest, err.Error(), nil)
	case errors.Is(err, auth.ErrConflict):
		writeEnvelope(w, r, http.StatusConflict, err.Error(), nil)
	case errors.Is(err, auth.ErrNotFound):
		writeEnvelope(w, r, http.StatusNotFound, err.Error(), nil)
	case errors.Is(err, auth.ErrOperationNotAllowed):
		writeEnvelope(w, r, http.StatusForbidden, err.Error(), nil)
	case errors.Is(err, auth.ErrNotAuthenticated):
		writeError(w, r, http.StatusUnauthorized, "authentication required")
	case errors.Is(err, auth.ErrAccessDenied):
		writeError(w, r, http.StatusForbidden, "access denied")
	default:
		obs.Log("error", "auth_operation_failed", map[string]any{
			"request_id": RequestIDFromContext(r.Context()),
			"error":      err.Error(),
		})
		writeEnvelope(w, r, http.StatusInternalServerError, "Internal error", nil)
	}
}
