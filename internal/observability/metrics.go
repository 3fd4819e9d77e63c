package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the dataset service metric instruments.
type Metrics struct {
	requestDuration metric.Float64Histogram
	requestCount    metric.Int64Counter
	resultCount     metric.Int64Histogram
	dbQueryDuration metric.Float64Histogram
	parseDuration   metric.Float64Histogram
	errorCount      metric.Int64Counter
}

// NewMetrics creates a new Metrics instance with the given MeterProvider.
func NewMetrics(mp metric.MeterProvider) *Metrics {
	meter := mp.Meter(MeterName)
	m := &Metrics{}

	// Instrument creation only fails on invalid parameters; fall back to an
	// undescribed instrument so recording never hits a nil value.
	var err error

	m.requestDuration, err = meter.Float64Histogram(
		"ocdb.request.duration",
		metric.WithDescription("Duration of dataset requests in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		m.requestDuration, _ = meter.Float64Histogram("ocdb.request.duration")
	}

	m.requestCount, err = meter.Int64Counter(
		"ocdb.request.count",
		metric.WithDescription("Total number of dataset requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		m.requestCount, _ = meter.Int64Counter("ocdb.request.count")
	}

	m.resultCount, err = meter.Int64Histogram(
		"ocdb.result.count",
		metric.WithDescription("Number of datasets returned by searches"),
		metric.WithUnit("{dataset}"),
	)
	if err != nil {
		m.resultCount, _ = meter.Int64Histogram("ocdb.result.count")
	}

	m.dbQueryDuration, err = meter.Float64Histogram(
		"ocdb.db.query.duration",
		metric.WithDescription("Duration of database queries in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		m.dbQueryDuration, _ = meter.Float64Histogram("ocdb.db.query.duration")
	}

	m.parseDuration, err = meter.Float64Histogram(
		"ocdb.query.parse.duration",
		metric.WithDescription("Duration of query parsing and lowering in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		m.parseDuration, _ = meter.Float64Histogram("ocdb.query.parse.duration")
	}

	m.errorCount, err = meter.Int64Counter(
		"ocdb.error.count",
		metric.WithDescription("Total number of failed dataset requests"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		m.errorCount, _ = meter.Int64Counter("ocdb.error.count")
	}

	return m
}

// RecordRequest records metrics for a completed request.
func (m *Metrics) RecordRequest(ctx context.Context, operation string, statusCode int, duration time.Duration) {
	attrs := metric.WithAttributes(
		OperationAttr(operation),
		attribute.Int("http.status_code", statusCode),
	)
	m.requestDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
	m.requestCount.Add(ctx, 1, attrs)
}

// RecordResultCount records the number of datasets returned by a search.
func (m *Metrics) RecordResultCount(ctx context.Context, count int64) {
	m.resultCount.Record(ctx, count)
}

// RecordDBQuery records metrics for a database query.
func (m *Metrics) RecordDBQuery(ctx context.Context, operation string, duration time.Duration) {
	attrs := metric.WithAttributes(attribute.String("db.operation", operation))
	m.dbQueryDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
}

// RecordParse records how long turning an expression into a filter took.
func (m *Metrics) RecordParse(ctx context.Context, duration time.Duration, ok bool) {
	m.parseDuration.Record(ctx, float64(duration.Microseconds())/1000, metric.WithAttributes(
		attribute.Bool("ocdb.query.valid", ok),
	))
}

// RecordError records an error occurrence.
func (m *Metrics) RecordError(ctx context.Context, operation, errorCode string) {
	attrs := metric.WithAttributes(
		OperationAttr(operation),
		ErrorCodeAttr(errorCode),
	)
	m.errorCount.Add(ctx, 1, attrs)
}
