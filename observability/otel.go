package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type otelTracer struct {
	t trace.Tracer
}

// NewOTelTracer bridges an OpenTelemetry tracer to Tracer.
// A nil tracer yields NopTracer.
func NewOTelTracer(t trace.Tracer) Tracer {
	if t == nil {
		return NopTracer()
	}
	return otelTracer{t: t}
}

func (o otelTracer) StartSpan(ctx context.Context, name string) (context.Context, Span) {
	ctx, span := o.t.Start(ctx, name)
	return ctx, otelSpan{span: span}
}

type otelSpan struct {
	span trace.Span
}

func (s otelSpan) SetTag(key string, value interface{}) {
	s.span.SetAttributes(attributeFor(key, value))
}

func (s otelSpan) SetError(err error) {
	if err == nil {
		return
	}
	s.span.RecordError(err)
	s.span.SetStatus(codes.Error, err.Error())
}

func (s otelSpan) Finish() { s.span.End() }

func attributeFor(key string, value interface{}) attribute.KeyValue {
	switch v := value.(type) {
	case string:
		return attribute.String(key, v)
	case bool:
		return attribute.Bool(key, v)
	case int:
		return attribute.Int(key, v)
	case int64:
		return attribute.Int64(key, v)
	case uint64:
		return attribute.Int64(key, int64(v))
	case float64:
		return attribute.Float64(key, v)
	case time.Duration:
		return attribute.Int64(key, v.Milliseconds())
	case fmt.Stringer:
		return attribute.String(key, v.String())
	default:
		return attribute.String(key, fmt.Sprint(v))
	}
}
