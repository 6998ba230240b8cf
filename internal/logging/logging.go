// Package logging adds request-scoped context (trace and user IDs) on top of
// pkg/logger.
package logging

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/clothbridge/clothbridge/pkg/logger"
)

type contextKey string

const (
	TraceIDKey contextKey = "trace_id"
	UserIDKey  contextKey = "user_id"
	RoleKey    contextKey = "role"
	EmailKey   contextKey = "email"
)

// Logger decorates pkg/logger with context-aware helpers.
type Logger struct {
	*logger.Logger
}

// New builds a component logger with the given level and format.
func New(component, level, format string) *Logger {
	base := logger.New(logger.LoggingConfig{Level: level, Format: format, Output: "stdout"})
	return &Logger{Logger: base.Named(component)}
}

// Wrap adapts an existing logger.
func Wrap(l *logger.Logger) *Logger {
	if l == nil {
		l = logger.NewDefault("http")
	}
	return &Logger{Logger: l}
}

// WithContext returns an entry annotated with trace and user IDs from ctx.
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	fields := logrus.Fields{}
	if id := GetTraceID(ctx); id != "" {
		fields["trace_id"] = id
	}
	if id := GetUserID(ctx); id != "" {
		fields["user_id"] = id
	}
	return l.WithFields(fields)
}

// LogRequest writes one line per served HTTP request.
func (l *Logger) LogRequest(ctx context.Context, method, path string, status int, duration time.Duration) {
	entry := l.WithContext(ctx).WithFields(logrus.Fields{
		"method":      method,
		"path":        path,
		"status":      status,
		"duration_ms": duration.Milliseconds(),
	})
	switch {
	case status >= 500:
		entry.Error("request failed")
	case status >= 400:
		entry.Warn("request rejected")
	default:
		entry.Info("request served")
	}
}

// LogSecurityEvent records authentication and abuse related events.
func (l *Logger) LogSecurityEvent(ctx context.Context, event string, details map[string]interface{}) {
	l.WithContext(ctx).WithFields(logrus.Fields(details)).WithField("security_event", event).Warn("security event")
}

// NewTraceID returns a fresh trace identifier.
func NewTraceID() string {
	return uuid.NewString()
}

func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

func GetTraceID(ctx context.Context) string {
	return stringValue(ctx, TraceIDKey)
}

func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

func GetUserID(ctx context.Context) string {
	return stringValue(ctx, UserIDKey)
}

func GetRole(ctx context.Context) string {
	return stringValue(ctx, RoleKey)
}

func GetEmail(ctx context.Context) string {
	return stringValue(ctx, EmailKey)
}

func stringValue(ctx context.Context, key contextKey) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}
