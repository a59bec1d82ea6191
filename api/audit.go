package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

// AuditEvent identifies the type of security-relevant action being logged.
type AuditEvent string

const (
	AuditLoginSuccess          AuditEvent = "login_success"
	AuditLoginFailure          AuditEvent = "login_failure"
	AuditLoginRateLimited      AuditEvent = "login_rate_limited"
	AuditLogout                AuditEvent = "logout"
	AuditPasswordChanged       AuditEvent = "password_changed"
	AuditPasswordChangeFailure AuditEvent = "password_change_failed"
	AuditAccessDenied          AuditEvent = "access_denied"
)

// auditLogger wraps slog.Logger for structured security audit logging.
// Passwords and tokens are never passed to it.
type auditLogger struct {
	logger  *slog.Logger
	alerts  *metricsCollector
	metrics *Metrics
}

func newAuditLogger(logger *slog.Logger, alerts *metricsCollector, metrics *Metrics) *auditLogger {
	return &auditLogger{
		logger:  logger.With("component", "audit"),
		alerts:  alerts,
		metrics: metrics,
	}
}

func (al *auditLogger) log(event AuditEvent, r *http.Request, attrs ...slog.Attr) {
	baseAttrs := []slog.Attr{
		slog.String("event", string(event)),
		slog.String("remote_addr", r.RemoteAddr),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}
	baseAttrs = append(baseAttrs, attrs...)

	al.logger.LogAttrs(r.Context(), slog.LevelInfo, "audit", baseAttrs...)
	al.alerts.recordEvent(event)
	al.metrics.recordAudit(event)
}

// logEvent is a convenience for events tied to a role.
func (al *auditLogger) logEvent(event AuditEvent, r *http.Request, roleID int64, extra ...slog.Attr) {
	attrs := []slog.Attr{
		slog.String("role_id", strconv.FormatInt(roleID, 10)),
	}
	attrs = append(attrs, extra...)
	al.log(event, r, attrs...)
}

// logFailure logs a rejected request with a short reason.
func (al *auditLogger) logFailure(event AuditEvent, r *http.Request, reason string, extra ...slog.Attr) {
	attrs := []slog.Attr{
		slog.String("reason", reason),
	}
	attrs = append(attrs, extra...)
	al.log(event, r, attrs...)
}
