package audit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"shoplist.app/internal/auth"
	"shoplist.app/internal/obs"
)

type ctxKey string

const (
	requestIDKey ctxKey = "audit_request_id"
	actorKey     ctxKey = "audit_actor"
	originKey    ctxKey = "audit_origin"
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

// WithActor records the identity on whose behalf persistence calls are made.
// Without it the actor falls back to the authenticated claims, then to none.
func WithActor(ctx context.Context, userID string) context.Context {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return ctx
	}
	return context.WithValue(ctx, actorKey, userID)
}

// ActorFromContext returns the acting identity id, if any.
func ActorFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	if v, ok := ctx.Value(actorKey).(string); ok && v != "" {
		return v, true
	}
	return auth.UserIDFromContext(ctx)
}

// WithOrigin labels where persistence calls originate, e.g. "POST /login".
func WithOrigin(ctx context.Context, origin string) context.Context {
	origin = strings.TrimSpace(origin)
	if origin == "" {
		return ctx
	}
	return context.WithValue(ctx, originKey, origin)
}

// OriginFromContext returns the call origin or "internal".
func OriginFromContext(ctx context.Context) string {
	if ctx != nil {
		if v, ok := ctx.Value(originKey).(string); ok && v != "" {
			return v
		}
	}
	return "internal"
}

// LogEvent writes a security event line enriched with request and user context.
// It goes to the operational log, not to db_logs.
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
	if userID, ok := ActorFromContext(ctx); ok {
		entry["user_id"] = userID
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
