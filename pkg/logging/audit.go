package logging

import (
	"context"
	"log/slog"
)

// AuditEvent describes a security relevant credential operation.
// Token values must never be placed in any field.
type AuditEvent struct {
	// Action is what happened, e.g. "token_refresh" or "authorization".
	Action string

	// Outcome is "success" or "failure".
	Outcome string

	// Target is the resource acted on, usually the token file path.
	Target string

	// Details carries extra non-sensitive key/value pairs.
	Details map[string]string

	// Err is the failure cause, if any.
	Err error
}

// Audit logs an audit event at INFO level with an [AUDIT] prefix.
func Audit(event AuditEvent) {
	attrs := []slog.Attr{
		slog.String("subsystem", "Audit"),
		slog.String("action", event.Action),
		slog.String("outcome", event.Outcome),
	}
	if event.Target != "" {
		attrs = append(attrs, slog.String("target", event.Target))
	}
	for k, v := range event.Details {
		attrs = append(attrs, slog.String(k, v))
	}
	if event.Err != nil {
		attrs = append(attrs, slog.String("error", event.Err.Error()))
	}

	logger().LogAttrs(context.Background(), slog.LevelInfo, "[AUDIT] "+event.Action, attrs...)
}
