// Package logger provides context-scoped structured logging for both
// entry points. AuthorizedKeysAgent and HostKeyPublisher are unattended
// processes invoked by sshd and init respectively, so diagnostics go to the
// authpriv syslog facility rather than a terminal; this falls back to
// stderr when no syslog socket is reachable (containers, `go test`, a host
// without a running syslog daemon).
package logger

import (
	"context"
	"log/slog"
	"log/syslog"
	"os"
)

type contextKey string

const (
	RequestIDKey   contextKey = "request_id"
	InstanceIDKey  contextKey = "instance_id"
	UserKey        contextKey = "user"
	FingerprintKey contextKey = "fingerprint"
	CallerKey      contextKey = "caller"
)

// defaultLogger starts out writing to stderr; init() upgrades it to the
// authpriv syslog facility when a syslog daemon is reachable.
var defaultLogger = slog.New(slog.NewJSONHandler(os.Stderr, nil))

func init() {
	if w, err := syslog.New(syslog.LOG_AUTHPRIV|syslog.LOG_INFO, "ec2-managed-ssh-authd"); err == nil {
		defaultLogger = slog.New(slog.NewJSONHandler(syslogWriter{w}, nil))
	}
}

// syslogWriter adapts a *syslog.Writer (which exposes leveled methods, not
// a single Write) to io.Writer for slog.NewJSONHandler.
type syslogWriter struct {
	w *syslog.Writer
}

func (s syslogWriter) Write(p []byte) (int, error) {
	if err := s.w.Info(string(p)); err != nil {
		return 0, err
	}
	return len(p), nil
}

func Info(ctx context.Context, msg string, attrs ...any) {
	defaultLogger.InfoContext(ctx, msg, appendContextAttrs(ctx, attrs)...)
}

func Warn(ctx context.Context, msg string, attrs ...any) {
	defaultLogger.WarnContext(ctx, msg, appendContextAttrs(ctx, attrs)...)
}

func Error(ctx context.Context, msg string, attrs ...any) {
	defaultLogger.ErrorContext(ctx, msg, appendContextAttrs(ctx, attrs)...)
}

func appendContextAttrs(ctx context.Context, attrs []any) []any {
	if reqID, ok := ctx.Value(RequestIDKey).(string); ok {
		attrs = append(attrs, slog.String("request_id", reqID))
	}
	if instanceID, ok := ctx.Value(InstanceIDKey).(string); ok {
		attrs = append(attrs, slog.String("instance_id", instanceID))
	}
	if user, ok := ctx.Value(UserKey).(string); ok {
		attrs = append(attrs, slog.String("user", user))
	}
	if fingerprint, ok := ctx.Value(FingerprintKey).(string); ok {
		attrs = append(attrs, slog.String("fingerprint", fingerprint))
	}
	if caller, ok := ctx.Value(CallerKey).(string); ok {
		attrs = append(attrs, slog.String("caller", caller))
	}
	return attrs
}
