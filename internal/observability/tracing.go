package observability

import (
	"context"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Tracer wraps an OpenTelemetry tracer with dataset-specific span creation methods.
type Tracer struct {
	tracer      trace.Tracer
	serviceName string
}

// NewTracer creates a new Tracer using the given TracerProvider.
func NewTracer(tp trace.TracerProvider, serviceName string) *Tracer {
	return &Tracer{
		tracer:      tp.Tracer(TracerName),
		serviceName: serviceName,
	}
}

// StartSpan starts a new span with the given name and attributes.
func (t *Tracer) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// StartRequest starts a span for an HTTP request.
func (t *Tracer) StartRequest(ctx context.Context, r *http.Request) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "ocdb.request", trace.WithAttributes(
		attribute.String("http.method", r.Method),
		attribute.String("http.url", r.URL.String()),
		attribute.String("http.route", r.URL.Path),
	))
}

// StartDatasetOperation starts a span for an operation on the dataset
// collection. id is empty for collection level operations.
func (t *Tracer) StartDatasetOperation(ctx context.Context, operation, id string) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{OperationAttr(operation)}
	if id != "" {
		attrs = append(attrs, DatasetIDAttr(id))
	}
	return t.tracer.Start(ctx, "ocdb."+operation, trace.WithAttributes(attrs...))
}

// StartParse starts a span for parsing a query expression.
func (t *Tracer) StartParse(ctx context.Context) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "ocdb.query.parse")
}

// StartCompile starts a span for lowering a parsed query into a filter.
func (t *Tracer) StartCompile(ctx context.Context) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "ocdb.query.compile")
}

// StartDBQuery starts a span for a database query.
func (t *Tracer) StartDBQuery(ctx context.Context, operation string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "db.query", trace.WithAttributes(
		attribute.String("db.operation", operation),
	))
}

// SetHTTPStatus sets the HTTP status code on the current span.
func (t *Tracer) SetHTTPStatus(ctx context.Context, statusCode int) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(attribute.Int("http.status_code", statusCode))
	if statusCode >= 400 {
		span.SetStatus(codes.Error, http.StatusText(statusCode))
	}
}

// RecordError records an error on the span.
func (t *Tracer) RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// AddQueryAttributes adds the query expression and paging to a span.
func (t *Tracer) AddQueryAttributes(span trace.Span, expr, filter string, offset, count int) {
	var attrs []attribute.KeyValue
	if expr != "" {
		attrs = append(attrs, QueryExprAttr(expr))
	}
	if filter != "" {
		attrs = append(attrs, QueryFilterAttr(filter))
	}
	if offset > 0 {
		attrs = append(attrs, QueryOffsetAttr(offset))
	}
	if count > 0 {
		attrs = append(attrs, QueryCountAttr(count))
	}
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
}

// LoggerWithTrace returns a logger enriched with trace context.
func LoggerWithTrace(ctx context.Context, logger *slog.Logger) *slog.Logger {
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return logger
	}
	return logger.With(
		slog.String(LogFieldTraceID, span.SpanContext().TraceID().String()),
		slog.String(LogFieldSpanID, span.SpanContext().SpanID().String()),
	)
}
