// Package audit emits structured audit events for security-relevant actions:
// logins, revocations, permission toggles, deny-list and assignment changes.
package audit

import (
	"context"
	"errors"
	"strings"

	"brokergate.org/internal/access"
	"brokergate.org/internal/obs"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes an audit entry enriched with the request id and the acting
// session, when present in the context.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	ev := obs.Log().Info().Str("type", "audit").Str("event", event)
	if rid := requestIDFromContext(ctx); rid != "" {
		ev = ev.Str("request_id", rid)
	}
	if sess, ok := access.SessionFromContext(ctx); ok {
		ev = ev.Str("actor_id", sess.UserID).Str("actor_role", sess.Role.String())
	}
	if len(fields) > 0 {
		ev = ev.Fields(fields)
	}
	ev.Msg("audit")
	return nil
}
