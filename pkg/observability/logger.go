// Package observability provides structured logging, metrics, health checks
// and request correlation for licenceledger.
package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// ServiceName is attached to every log record.
const ServiceName = "licenceledger"

// LogConfig configures NewLogger.
type LogConfig struct {
	Level     slog.Level
	JSON      bool
	AddSource bool
	// Output defaults to os.Stderr.
	Output  io.Writer
	Version string
}

// LogConfigFor builds a LogConfig from the LOG_LEVEL and LOG_FORMAT settings.
// Production logs JSON with source locations unless format says otherwise.
func LogConfigFor(appEnv, level, format, version string) LogConfig {
	production := appEnv == "production"
	cfg := LogConfig{
		Level:     ParseLevel(level),
		JSON:      production,
		AddSource: production,
		Version:   version,
	}
	switch strings.ToLower(format) {
	case "json":
		cfg.JSON = true
	case "text":
		cfg.JSON = false
	}
	return cfg
}

// ParseLevel maps debug, info, warn and error (any case) to a slog level.
// Anything else is info.
func ParseLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// NewLogger returns a logger tagged with the service name and version that
// also records the correlation and request ids carried by the context.
func NewLogger(cfg LogConfig) *slog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: cfg.Level, AddSource: cfg.AddSource}

	var h slog.Handler = slog.NewTextHandler(out, opts)
	if cfg.JSON {
		h = slog.NewJSONHandler(out, opts)
	}

	attrs := []slog.Attr{slog.String("service", ServiceName)}
	if cfg.Version != "" {
		attrs = append(attrs, slog.String("version", cfg.Version))
	}
	return slog.New(contextHandler{h.WithAttrs(attrs)})
}

type contextHandler struct {
	slog.Handler
}

func (h contextHandler) Handle(ctx context.Context, r slog.Record) error {
	if id := CorrelationIDFromContext(ctx); id != "" {
		r.AddAttrs(slog.String(CorrelationIDKey, id))
	}
	if id := RequestIDFromContext(ctx); id != "" {
		r.AddAttrs(slog.String(RequestIDKey, id))
	}
	return h.Handler.Handle(ctx, r)
}

func (h contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return contextHandler{h.Handler.WithAttrs(attrs)}
}

func (h contextHandler) WithGroup(name string) slog.Handler {
	return contextHandler{h.Handler.WithGroup(name)}
}
