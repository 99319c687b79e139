// Package audit emits structured audit events for security-relevant
// actions: logins, registrations, token refreshes, revocations and
// permission changes.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"authgate.dev/internal/auth"
	"authgate.dev/internal/obs"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// Well-known event names.
const (
	EventLogin          = "auth.login"
	EventLoginFailed    = "auth.login.failed"
	EventRegister       = "auth.register"
	EventRefresh        = "auth.refresh"
	EventLogout         = "auth.logout"
	EventValidateDenied = "auth.validate.denied"
	EventRevokeAll      = "auth.revoke_all"
	EventSweep          = "auth.refresh.sweep"
	EventRoleChange     = "rbac.role.change"
	EventPermChange     = "rbac.permission.change"
)

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the audit request id from context if present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes an audit log entry enriched with request and caller context.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	entry := map[string]any{
		"ts":    time.Now().UTC().Format(time.RFC3339Nano),
		"type":  "audit",
		"event": event,
	}
	if rid := RequestIDFromContext(ctx); rid != "" {
		entry["request_id"] = rid
	}
	if identity, ok := auth.IdentityFromContext(ctx); ok {
		entry["user_id"] = identity.UserID
		if identity.Username != "" {
			entry["username"] = identity.Username
		}
	}
	if len(fields) > 0 {
		copyFields := make(map[string]any, len(fields))
		for k, v := range fields {
			copyFields[k] = v
		}
		entry["fields"] = copyFields
	} else {
		entry["fields"] = map[string]any{}
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	obs.Logger().Println(string(data))
	return nil
}
