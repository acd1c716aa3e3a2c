package observability

import (
	"context"
	"log/slog"
)

type slogLogger struct {
	inner *slog.Logger
}

// NewSlogLogger adapts a *slog.Logger to Logger. A nil logger yields a NopLogger.
func NewSlogLogger(l *slog.Logger) Logger {
	if l == nil {
		return NopLogger{}
	}
	return &slogLogger{inner: l}
}

func (l *slogLogger) Debug(msg string, fields ...Field) { l.log(slog.LevelDebug, msg, fields) }
func (l *slogLogger) Info(msg string, fields ...Field)  { l.log(slog.LevelInfo, msg, fields) }
func (l *slogLogger) Warn(msg string, fields ...Field)  { l.log(slog.LevelWarn, msg, fields) }
func (l *slogLogger) Error(msg string, fields ...Field) { l.log(slog.LevelError, msg, fields) }

func (l *slogLogger) With(fields ...Field) Logger {
	return &slogLogger{inner: l.inner.With(toArgs(fields)...)}
}

func (l *slogLogger) log(level slog.Level, msg string, fields []Field) {
	ctx := context.Background()
	if !l.inner.Enabled(ctx, level) {
		return
	}
	l.inner.LogAttrs(ctx, level, msg, toAttrs(fields)...)
}

func toAttrs(fields []Field) []slog.Attr {
	attrs := make([]slog.Attr, 0, len(fields))
	for _, f := range fields {
		attrs = append(attrs, toAttr(f))
	}
	return attrs
}

func toArgs(fields []Field) []any {
	args := make([]any, 0, len(fields))
	for _, f := range fields {
		args = append(args, toAttr(f))
	}
	return args
}

func toAttr(f Field) slog.Attr {
	switch v := f.Value().(type) {
	case string:
		return slog.String(f.Key(), v)
	case int:
		return slog.Int(f.Key(), v)
	case int64:
		return slog.Int64(f.Key(), v)
	case float64:
		return slog.Float64(f.Key(), v)
	case bool:
		return slog.Bool(f.Key(), v)
	case error:
		if v == nil {
			return slog.String(f.Key(), "<nil>")
		}
		return slog.String(f.Key(), v.Error())
	default:
		return slog.Any(f.Key(), v)
	}
}

// ParseLevel maps a level name to a slog level. Unknown names yield Info.
func ParseLevel(name string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(name)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
