package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

const (
	gormSpanKey             = "ocdb:gorm:span"
	gormStartTimeKey        = "ocdb:gorm:start"
	gormTimingStartKey      = "ocdb:gorm:timing_start"
	gormTracingCallbackName = "ocdb_tracing"
	gormTimingCallbackName  = "ocdb_server_timing"
)

type registerFunc func(db *gorm.DB, name string, fn func(*gorm.DB)) error

// gormChain is one GORM callback chain with the span name and db.operation
// reported for it.
type gormChain struct {
	name      string
	spanName  string
	operation string
	before    registerFunc
	after     registerFunc
}

var gormChains = []gormChain{
	{
		name: "query", spanName: "db.query", operation: "SELECT",
		before: func(db *gorm.DB, n string, fn func(*gorm.DB)) error {
			return db.Callback().Query().Before("gorm:query").Register(n, fn)
		},
		after: func(db *gorm.DB, n string, fn func(*gorm.DB)) error {
			return db.Callback().Query().After("gorm:query").Register(n, fn)
		},
	},
	{
		name: "create", spanName: "db.create", operation: "INSERT",
		before: func(db *gorm.DB, n string, fn func(*gorm.DB)) error {
			return db.Callback().Create().Before("gorm:create").Register(n, fn)
		},
		after: func(db *gorm.DB, n string, fn func(*gorm.DB)) error {
			return db.Callback().Create().After("gorm:create").Register(n, fn)
		},
	},
	{
		name: "update", spanName: "db.update", operation: "UPDATE",
		before: func(db *gorm.DB, n string, fn func(*gorm.DB)) error {
			return db.Callback().Update().Before("gorm:update").Register(n, fn)
		},
		after: func(db *gorm.DB, n string, fn func(*gorm.DB)) error {
			return db.Callback().Update().After("gorm:update").Register(n, fn)
		},
	},
	{
		name: "delete", spanName: "db.delete", operation: "DELETE",
		before: func(db *gorm.DB, n string, fn func(*gorm.DB)) error {
			return db.Callback().Delete().Before("gorm:delete").Register(n, fn)
		},
		after: func(db *gorm.DB, n string, fn func(*gorm.DB)) error {
			return db.Callback().Delete().After("gorm:delete").Register(n, fn)
		},
	},
	{
		name: "row", spanName: "db.row", operation: "ROW",
		before: func(db *gorm.DB, n string, fn func(*gorm.DB)) error {
			return db.Callback().Row().Before("gorm:row").Register(n, fn)
		},
		after: func(db *gorm.DB, n string, fn func(*gorm.DB)) error {
			return db.Callback().Row().After("gorm:row").Register(n, fn)
		},
	},
	{
		name: "raw", spanName: "db.raw", operation: "RAW",
		before: func(db *gorm.DB, n string, fn func(*gorm.DB)) error {
			return db.Callback().Raw().Before("gorm:raw").Register(n, fn)
		},
		after: func(db *gorm.DB, n string, fn func(*gorm.DB)) error {
			return db.Callback().Raw().After("gorm:raw").Register(n, fn)
		},
	},
}

// RegisterGORMCallbacks registers GORM callbacks that open a span per
// database statement and record its duration. It is a no-op unless tracing
// is configured with detailed database tracing.
func RegisterGORMCallbacks(db *gorm.DB, cfg *Config) error {
	if cfg == nil || cfg.TracerProvider == nil || !cfg.EnableDetailedDBTracing {
		return nil
	}

	tracer := cfg.Tracer()
	for _, chain := range gormChains {
		chain := chain
		before := func(db *gorm.DB) { startSpan(db, tracer, chain.spanName) }
		after := func(db *gorm.DB) { endSpan(db, tracer, cfg, chain.operation) }
		if err := chain.before(db, gormTracingCallbackName+":before_"+chain.name, before); err != nil {
			return err
		}
		if err := chain.after(db, gormTracingCallbackName+":after_"+chain.name, after); err != nil {
			return err
		}
	}
	return nil
}

// RegisterServerTimingCallbacks registers GORM callbacks that add the
// duration of every statement to the request's DBTimeAccumulator. It works
// without OpenTelemetry.
func RegisterServerTimingCallbacks(db *gorm.DB) error {
	for _, chain := range gormChains {
		if err := chain.before(db, gormTimingCallbackName+":before_"+chain.name, beforeTiming); err != nil {
			return err
		}
		if err := chain.after(db, gormTimingCallbackName+":after_"+chain.name, afterTiming); err != nil {
			return err
		}
	}
	return nil
}

func beforeTiming(db *gorm.DB) {
	db.InstanceSet(gormTimingStartKey, time.Now())
}

func afterTiming(db *gorm.DB) {
	startTimeVal, ok := db.InstanceGet(gormTimingStartKey)
	if !ok {
		return
	}
	startTime, ok := startTimeVal.(time.Time)
	if !ok {
		return
	}
	if db.Statement != nil && db.Statement.Context != nil {
		AddDBTime(db.Statement.Context, time.Since(startTime))
	}
}

func startSpan(db *gorm.DB, tracer *Tracer, spanName string) {
	ctx := db.Statement.Context
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, span := tracer.StartSpan(ctx, spanName,
		attribute.String("db.system", db.Dialector.Name()),
	)

	db.Statement.Context = ctx
	db.InstanceSet(gormSpanKey, span)
	db.InstanceSet(gormStartTimeKey, time.Now())
}

func endSpan(db *gorm.DB, tracer *Tracer, cfg *Config, operation string) {
	spanVal, ok := db.InstanceGet(gormSpanKey)
	if !ok {
		return
	}
	span, ok := spanVal.(trace.Span)
	if !ok {
		return
	}
	defer span.End()

	if db.Statement != nil {
		if table := db.Statement.Table; table != "" {
			span.SetAttributes(attribute.String("db.sql.table", table))
		}
		span.SetAttributes(attribute.Int64("db.rows_affected", db.RowsAffected))
	}

	tracer.RecordError(span, db.Error)

	if startTimeVal, ok := db.InstanceGet(gormStartTimeKey); ok {
		if startTime, ok := startTimeVal.(time.Time); ok {
			cfg.Metrics().RecordDBQuery(db.Statement.Context, operation, time.Since(startTime))
		}
	}
}
