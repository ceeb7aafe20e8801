package logger

import (
	"context"
	"log/slog"
	"time"

	"github.com/BradenHooton/keystone/internal/models"
)

// AuditLogger writes audit entries to the structured log
type AuditLogger struct {
	logger *slog.Logger
}

// NewAuditLogger creates a new audit logger
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return &AuditLogger{
		logger: logger,
	}
}

// LogEvent emits one audit line. The level follows the entry's severity.
func (al *AuditLogger) LogEvent(ctx context.Context, entry *models.AuditLog) {
	if al == nil || entry == nil {
		return
	}

	attrs := []slog.Attr{
		slog.String("audit_action", entry.Action),
		slog.Bool("success", entry.Success),
		slog.String("severity", string(entry.Severity)),
		slog.String("timestamp", entry.CreatedAt.UTC().Format(time.RFC3339Nano)),
	}

	if entry.ActorID != nil {
		attrs = append(attrs, slog.String("actor_id", *entry.ActorID))
	}
	if entry.TargetID != nil {
		attrs = append(attrs, slog.String("target_id", *entry.TargetID))
	}
	if entry.FailureReason != nil {
		attrs = append(attrs, slog.String("failure_reason", *entry.FailureReason))
	}
	if entry.IPAddress != nil {
		attrs = append(attrs, slog.String("ip_address", *entry.IPAddress))
	}
	if entry.UserAgent != nil {
		attrs = append(attrs, slog.String("user_agent", *entry.UserAgent))
	}
	if entry.Description != "" {
		attrs = append(attrs, slog.String("description", entry.Description))
	}
	if len(entry.Metadata) > 0 {
		attrs = append(attrs, slog.Any("metadata", map[string]interface{}(entry.Metadata)))
	}

	al.logger.LogAttrs(ctx, levelFor(entry), "audit", attrs...)
}

func levelFor(entry *models.AuditLog) slog.Level {
	switch {
	case entry.Severity == models.AuditSeverityCritical:
		return slog.LevelError
	case entry.Severity == models.AuditSeverityWarning || !entry.Success:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}
