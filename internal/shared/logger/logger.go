package logger

import (
	"context"
	"io"
	"os"
	"runtime/debug"
	"time"

	charmlog "github.com/charmbracelet/log"
)

// Logger is a structured JSON logger carrying service, hostname and request id on every record.
type Logger struct {
	base *charmlog.Logger
}

// NewLogger creates a logger writing JSON lines to stdout at debug level.
func NewLogger(service string) *Logger {
	return NewLoggerTo(service, os.Stdout, "debug")
}

// NewLoggerTo creates a logger writing to w. Unknown levels fall back to info.
func NewLoggerTo(service string, w io.Writer, level string) *Logger {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	lvl, err := charmlog.ParseLevel(level)
	if err != nil {
		lvl = charmlog.InfoLevel
	}

	base := charmlog.NewWithOptions(w, charmlog.Options{
		Formatter:       charmlog.JSONFormatter,
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		TimeFunction:    func(t time.Time) time.Time { return t.UTC() },
		Level:           lvl,
	})

	return &Logger{base: base.With("service", service, "hostname", hostname)}
}

// SetLevel changes the minimum level; unknown names are ignored.
func (logger *Logger) SetLevel(level string) {
	if lvl, err := charmlog.ParseLevel(level); err == nil {
		logger.base.SetLevel(lvl)
	}
}

// Define an unexported type for context keys.
type ctxKey string

// requestIDKey is the context key for the request ID.
const requestIDKey ctxKey = "request_id"

// WithRequestID returns a context carrying a request id (useful for HTTP/ws/mq hops).
func (logger *Logger) WithRequestID(ctx context.Context, rid string) context.Context {
	return context.WithValue(ctx, requestIDKey, rid)
}

// RequestIDFrom returns the request id saved in the context.
func RequestIDFrom(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v := ctx.Value(requestIDKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func (logger *Logger) fields(ctx context.Context, action string, details any) []any {
	kv := []any{"action", action, "request_id", RequestIDFrom(ctx)}
	if details != nil {
		kv = append(kv, "details", details)
	}
	return kv
}

// -- Logger helper functions --

func (logger *Logger) Info(ctx context.Context, action, msg string, details any) {
	logger.base.Info(msg, logger.fields(ctx, action, details)...)
}

func (logger *Logger) Debug(ctx context.Context, action, msg string, details any) {
	logger.base.Debug(msg, logger.fields(ctx, action, details)...)
}

func (logger *Logger) Warn(ctx context.Context, action, msg string, details any) {
	logger.base.Warn(msg, logger.fields(ctx, action, details)...)
}

func (logger *Logger) Error(ctx context.Context, action, msg string, err error) {
	kv := logger.fields(ctx, action, nil)
	if err != nil {
		kv = append(kv, "error", map[string]string{
			"msg":   err.Error(),
			"stack": string(debug.Stack()),
		})
	}
	logger.base.Error(msg, kv...)
}
