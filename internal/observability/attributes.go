// Package observability provides OpenTelemetry-based instrumentation for the
// dataset service: request and query spans, metrics, GORM callbacks and the
// Server-Timing header.
//
// All observability features are opt-in. When not configured, no-op
// implementations are used.
package observability

import "go.opentelemetry.io/otel/attribute"

// Instrumentation identity constants
const (
	// TracerName is the instrumentation name for tracing.
	TracerName = "github.com/nlstn/go-ocdb"
	// MeterName is the instrumentation name for metrics.
	MeterName = "github.com/nlstn/go-ocdb"
)

// Semantic attribute keys.
const (
	AttrOperation = "ocdb.operation"
	AttrDatasetID = "ocdb.dataset.id"
	AttrStatus    = "ocdb.dataset.status"

	AttrQueryExpr   = "ocdb.query.expr"
	AttrQueryOffset = "ocdb.query.offset"
	AttrQueryCount  = "ocdb.query.count"
	AttrQueryFilter = "ocdb.query.filter"

	AttrResultCount = "ocdb.result.count"
	AttrTotalCount  = "ocdb.result.total"

	AttrErrorCode = "ocdb.error.code"
)

// Operation types for the ocdb.operation attribute.
const (
	OpListDatasets  = "list_datasets"
	OpGetDataset    = "get_dataset"
	OpCreateDataset = "create_dataset"
	OpUpdateStatus  = "update_status"
	OpDeleteDataset = "delete_dataset"
	OpExplainQuery  = "explain_query"
)

// Log field keys for structured logging with trace context.
const (
	LogFieldOperation   = "ocdb.operation"
	LogFieldDatasetID   = "ocdb.dataset.id"
	LogFieldTraceID     = "trace_id"
	LogFieldSpanID      = "span_id"
	LogFieldDuration    = "duration_ms"
	LogFieldResultCount = "result_count"
	LogFieldError       = "error"
)

// OperationAttr creates an attribute for the operation type.
func OperationAttr(op string) attribute.KeyValue {
	return attribute.String(AttrOperation, op)
}

// DatasetIDAttr creates an attribute for a dataset id.
func DatasetIDAttr(id string) attribute.KeyValue {
	return attribute.String(AttrDatasetID, id)
}

// StatusAttr creates an attribute for a dataset status.
func StatusAttr(status string) attribute.KeyValue {
	return attribute.String(AttrStatus, status)
}

// QueryExprAttr creates an attribute for the raw query expression.
func QueryExprAttr(expr string) attribute.KeyValue {
	return attribute.String(AttrQueryExpr, expr)
}

// QueryFilterAttr creates an attribute for the lowered filter.
func QueryFilterAttr(filter string) attribute.KeyValue {
	return attribute.String(AttrQueryFilter, filter)
}

// QueryOffsetAttr creates an attribute for the page offset.
func QueryOffsetAttr(offset int) attribute.KeyValue {
	return attribute.Int(AttrQueryOffset, offset)
}

// QueryCountAttr creates an attribute for the page size.
func QueryCountAttr(count int) attribute.KeyValue {
	return attribute.Int(AttrQueryCount, count)
}

// ResultCountAttr creates an attribute for the number of returned datasets.
func ResultCountAttr(count int64) attribute.KeyValue {
	return attribute.Int64(AttrResultCount, count)
}

// TotalCountAttr creates an attribute for the number of matching datasets.
func TotalCountAttr(count int64) attribute.KeyValue {
	return attribute.Int64(AttrTotalCount, count)
}

// ErrorCodeAttr creates an attribute for the error code.
func ErrorCodeAttr(code string) attribute.KeyValue {
	return attribute.String(AttrErrorCode, code)
}
