package observability

import (
	"context"
	"log/slog"
)

type slogLogger struct {
	l *slog.Logger
}

// NewSlogLogger adapts a *slog.Logger to Logger. A nil logger yields NopLogger.
func NewSlogLogger(l *slog.Logger) Logger {
	if l == nil {
		return NopLogger{}
	}
	return slogLogger{l: l}
}

func (s slogLogger) Debug(msg string, fields ...Field) { s.log(slog.LevelDebug, msg, fields) }
func (s slogLogger) Info(msg string, fields ...Field)  { s.log(slog.LevelInfo, msg, fields) }
func (s slogLogger) Warn(msg string, fields ...Field)  { s.log(slog.LevelWarn, msg, fields) }
func (s slogLogger) Error(msg string, fields ...Field) { s.log(slog.LevelError, msg, fields) }

func (s slogLogger) With(fields ...Field) Logger {
	if len(fields) == 0 {
		return s
	}
	return slogLogger{l: s.l.With(attrsToAny(toAttrs(fields))...)}
}

func (s slogLogger) log(level slog.Level, msg string, fields []Field) {
	ctx := context.Background()
	if !s.l.Enabled(ctx, level) {
		return
	}
	s.l.LogAttrs(ctx, level, msg, toAttrs(fields)...)
}

func toAttrs(fields []Field) []slog.Attr {
	attrs := make([]slog.Attr, 0, len(fields))
	for _, f := range fields {
		if f == nil {
			continue
		}
		attrs = append(attrs, toAttr(f))
	}
	return attrs
}

func toAttr(f Field) slog.Attr {
	switch v := f.(type) {
	case stringField:
		return slog.String(v.key, v.val)
	case intField:
		return slog.Int(v.key, v.val)
	case int64Field:
		return slog.Int64(v.key, v.val)
	case uint64Field:
		return slog.Uint64(v.key, v.val)
	case float64Field:
		return slog.Float64(v.key, v.val)
	case boolField:
		return slog.Bool(v.key, v.val)
	case durationField:
		return slog.Duration(v.key, v.val)
	case errorField:
		if v.err == nil {
			return slog.String(v.key, "<nil>")
		}
		return slog.String(v.key, v.err.Error())
	default:
		return slog.Any(f.Key(), f.Value())
	}
}

func attrsToAny(attrs []slog.Attr) []any {
	out := make([]any, len(attrs))
	for i, a := range attrs {
		out[i] = a
	}
	return out
}
