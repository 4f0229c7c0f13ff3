// Package observability provides structured logging and Prometheus
// metrics for the Aida gateway.
package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

// LogConfig configures the logging behavior.
type LogConfig struct {
	// Level sets the minimum log level: "debug", "info", "warn", "error".
	Level string

	// Format specifies output format: "json" or "text".
	Format string

	// Output is the writer for log output (defaults to os.Stdout).
	Output io.Writer
}

// DefaultRedactPatterns match common credential shapes so they never
// reach log output even when attached as attribute values.
var DefaultRedactPatterns = []string{
	`sk-[a-zA-Z0-9_\-]{20,}`,
	`xox[abp]-[a-zA-Z0-9\-]{10,}`,
	`xapp-[a-zA-Z0-9\-]{10,}`,
	`(?i)(bearer|token)[\s:]+[a-zA-Z0-9_\-\.]{16,}`,
}

// NewLogger creates a structured slog logger with secret redaction.
//
// If config.Output is nil, logs go to os.Stdout. Invalid or empty level
// defaults to "info"; empty format defaults to "text".
func NewLogger(config LogConfig) *slog.Logger {
	if config.Output == nil {
		config.Output = os.Stdout
	}

	var level slog.Level
	switch strings.ToLower(config.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.EqualFold(config.Format, "json") {
		handler = slog.NewJSONHandler(config.Output, opts)
	} else {
		handler = slog.NewTextHandler(config.Output, opts)
	}

	return slog.New(&redactHandler{inner: handler, patterns: compileRedacts()})
}

func compileRedacts() []*regexp.Regexp {
	redacts := make([]*regexp.Regexp, 0, len(DefaultRedactPatterns))
	for _, pattern := range DefaultRedactPatterns {
		if re, err := regexp.Compile(pattern); err == nil {
			redacts = append(redacts, re)
		}
	}
	return redacts
}

// redactHandler rewrites string attribute values that match a credential
// pattern before delegating to the wrapped handler.
type redactHandler struct {
	inner    slog.Handler
	patterns []*regexp.Regexp
}

func (h *redactHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *redactHandler) Handle(ctx context.Context, record slog.Record) error {
	clean := slog.NewRecord(record.Time, record.Level, h.redact(record.Message), record.PC)
	record.Attrs(func(attr slog.Attr) bool {
		if attr.Value.Kind() == slog.KindString {
			attr.Value = slog.StringValue(h.redact(attr.Value.String()))
		}
		clean.AddAttrs(attr)
		return true
	})
	return h.inner.Handle(ctx, clean)
}

func (h *redactHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	for i, attr := range attrs {
		if attr.Value.Kind() == slog.KindString {
			attrs[i].Value = slog.StringValue(h.redact(attr.Value.String()))
		}
	}
	return &redactHandler{inner: h.inner.WithAttrs(attrs), patterns: h.patterns}
}

func (h *redactHandler) WithGroup(name string) slog.Handler {
	return &redactHandler{inner: h.inner.WithGroup(name), patterns: h.patterns}
}

func (h *redactHandler) redact(s string) string {
	for _, re := range h.patterns {
		s = re.ReplaceAllString(s, "[REDACTED]")
	}
	return s
}
