package logger

import (
	"context"
	"log/slog"
	"time"
)

// AuditEvent is one security-relevant outcome
type AuditEvent struct {
	EventType     string
	UserID        string
	Email         string // logged masked
	IPAddress     string
	UserAgent     string
	Success       bool
	FailureReason string
	Metadata      map[string]string
}

// AuditLogger writes audit records as structured log lines tagged with audit_type
type AuditLogger struct {
	logger *slog.Logger
}

func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return &AuditLogger{logger: logger}
}

// LogAuthAttempt records a login outcome
func (al *AuditLogger) LogAuthAttempt(ctx context.Context, event AuditEvent) {
	al.log(ctx, "auth", event)
}

// LogLockEvent records lock creation and release
func (al *AuditLogger) LogLockEvent(ctx context.Context, eventType, userID, actorID string, lockedUntil time.Time) {
	meta := map[string]string{"locked_until": lockedUntil.UTC().Format(time.RFC3339)}
	if actorID != "" {
		meta["actor_id"] = actorID
	}
	al.log(ctx, "lockout", AuditEvent{
		EventType: eventType,
		UserID:    userID,
		Success:   true,
		Metadata:  meta,
	})
}

// LogTwoFactorEvent records two-factor lifecycle changes
func (al *AuditLogger) LogTwoFactorEvent(ctx context.Context, eventType, userID string, success bool) {
	al.log(ctx, "two_factor", AuditEvent{
		EventType: eventType,
		UserID:    userID,
		Success:   success,
	})
}

// LogAdminAction records an operator action against another account or alert
func (al *AuditLogger) LogAdminAction(ctx context.Context, eventType, actorID string, metadata map[string]string) {
	al.log(ctx, "admin", AuditEvent{
		EventType: eventType,
		UserID:    actorID,
		Success:   true,
		Metadata:  metadata,
	})
}

func (al *AuditLogger) log(ctx context.Context, auditType string, event AuditEvent) {
	attrs := []slog.Attr{
		slog.String("audit_type", auditType),
		slog.String("event_type", event.EventType),
		slog.Bool("success", event.Success),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}

	if event.UserID != "" {
		attrs = append(attrs, slog.String("user_id", event.UserID))
	}
	if event.Email != "" {
		attrs = append(attrs, slog.String("email", SanitizedEmail(event.Email)))
	}
	if event.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", event.IPAddress))
	}
	if event.UserAgent != "" {
		attrs = append(attrs, slog.String("user_agent", event.UserAgent))
	}
	if event.FailureReason != "" {
		attrs = append(attrs, slog.String("failure_reason", event.FailureReason))
	}
	for key, val := range event.Metadata {
		attrs = append(attrs, slog.String(key, val))
	}

	level := slog.LevelInfo
	if !event.Success {
		level = slog.LevelWarn
	}
	al.logger.LogAttrs(ctx, level, "audit", attrs...)
}
