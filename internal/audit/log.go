// Package audit records who changed what, through the shared structured logger.
package audit

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"tessera.org/internal/auth"
	"tessera.org/internal/obs"
)

type ctxKey struct{}

// WithRequestID attaches the request identifier to the context for audit logging.
// Requests routed through chi's RequestID middleware carry one already.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxKey{}, requestID)
}

func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxKey{}).(string); ok {
		return v
	}
	return middleware.GetReqID(ctx)
}

// LogEvent writes an audit entry enriched with the request id and acting user.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	attrs := []any{
		slog.String("type", "audit"),
		slog.String("event", event),
	}
	if rid := requestIDFromContext(ctx); rid != "" {
		attrs = append(attrs, slog.String("request_id", rid))
	}
	if userID, ok := auth.UserIDFromContext(ctx); ok {
		attrs = append(attrs, slog.String("user_id", userID))
	}
	copied := make(map[string]any, len(fields))
	maps.Copy(copied, fields)
	attrs = append(attrs, slog.Any("fields", copied))

	obs.Logger().InfoContext(ctx, "audit", attrs...)
	return nil
}
