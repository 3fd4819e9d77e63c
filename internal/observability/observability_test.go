package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func TestNewConfig(t *testing.T) {
	cfg := NewConfig(
		WithServiceName("test-service"),
		WithServiceVersion("1.0.0"),
		WithDetailedDBTracing(),
		WithQueryTracing(),
	)

	if cfg.ServiceName != "test-service" {
		t.Errorf("expected service name 'test-service', got '%s'", cfg.ServiceName)
	}
	if cfg.ServiceVersion != "1.0.0" {
		t.Errorf("ServiceVersion = %q, want %q", cfg.ServiceVersion, "1.0.0")
	}
	if !cfg.EnableDetailedDBTracing {
		t.Error("expected detailed DB tracing to be enabled")
	}
	if !cfg.QueryTracingEnabled() {
		t.Error("expected query tracing to be enabled")
	}
}

func TestNewConfigDefaults(t *testing.T) {
	cfg := NewConfig()
	if cfg.ServiceName != DefaultServiceName {
		t.Errorf("expected default service name, got %q", cfg.ServiceName)
	}
	if cfg.IsEnabled() || cfg.ServerTimingEnabled() || cfg.QueryTracingEnabled() {
		t.Error("expected every feature to be disabled by default")
	}
}

func TestConfigInitialize(t *testing.T) {
	cfg := NewConfig(
		WithTracerProvider(tracenoop.NewTracerProvider()),
		WithMeterProvider(noop.NewMeterProvider()),
	)

	if err := cfg.Initialize(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Tracer() == nil {
		t.Error("expected tracer to be initialized")
	}
	if cfg.Metrics() == nil {
		t.Error("expected metrics to be initialized")
	}
}

func TestConfigNil(t *testing.T) {
	var cfg *Config
	if cfg.Tracer() == nil {
		t.Error("Tracer() should return noop tracer for nil config")
	}
	if cfg.Metrics() == nil {
		t.Error("Metrics() should return noop metrics for nil config")
	}
	if cfg.IsEnabled() || cfg.ServerTimingEnabled() || cfg.QueryTracingEnabled() {
		t.Error("nil config must report every feature as disabled")
	}
}

func TestIsEnabled(t *testing.T) {
	if !NewConfig(WithTracerProvider(tracenoop.NewTracerProvider())).IsEnabled() {
		t.Error("expected config with tracer to be enabled")
	}
	if !NewConfig(WithMeterProvider(noop.NewMeterProvider())).IsEnabled() {
		t.Error("expected config with meter to be enabled")
	}
}

func TestMetrics(t *testing.T) {
	ctx := context.Background()
	for name, m := range map[string]*Metrics{
		"noop":     NewNoopMetrics(),
		"provider": NewMetrics(noop.NewMeterProvider()),
	} {
		t.Run(name, func(t *testing.T) {
			m.RecordRequest(ctx, OpListDatasets, http.StatusOK, time.Second)
			m.RecordResultCount(ctx, 10)
			m.RecordDBQuery(ctx, "SELECT", 100*time.Millisecond)
			m.RecordParse(ctx, time.Millisecond, true)
			m.RecordError(ctx, OpGetDataset, "NotFound")
		})
	}
}

func TestStartServerTimingNoContext(t *testing.T) {
	ctx := context.Background()
	StartServerTiming(ctx, "test").Stop()
	StartServerTimingWithDesc(ctx, "test", "Test description").Stop()
	FlushDBTiming(ctx)

	var metric *ServerTimingMetric
	metric.Stop()
}

func TestServerTimingMiddleware(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		m := StartServerTiming(r.Context(), "parse")
		m.Stop()
		AddDBTime(r.Context(), 5*time.Millisecond)
		FlushDBTiming(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}

	rec := httptest.NewRecorder()
	ServerTimingMiddleware(NewConfig(WithServerTiming()))(http.HandlerFunc(handler)).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	header := rec.Header().Get("Server-Timing")
	if !strings.Contains(header, "parse") || !strings.Contains(header, "db") {
		t.Errorf("expected parse and db metrics in Server-Timing, got %q", header)
	}
}

func TestServerTimingMiddlewareDisabled(t *testing.T) {
	rec := httptest.NewRecorder()
	ServerTimingMiddleware(NewConfig())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if DBTimeAccumulatorFromContext(r.Context()) != nil {
			t.Error("accumulator must not be installed when server timing is disabled")
		}
		w.WriteHeader(http.StatusOK)
	})).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Header().Get("Server-Timing") != "" {
		t.Error("expected no Server-Timing header")
	}
}

func TestHTTPMiddlewarePassthrough(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	wrapped := HTTPMiddleware(NewConfig())(next)
	if wrapped == nil {
		t.Fatal("expected handler")
	}
}

func TestHTTPMiddlewareTraces(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	wrapped := HTTPMiddleware(NewConfig(WithTracerProvider(tp)))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	wrapped.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/datasets", nil))

	if len(recorder.Ended()) != 1 {
		t.Fatalf("expected one server span, got %d", len(recorder.Ended()))
	}
}

func TestDBTimeAccumulatorConcurrent(t *testing.T) {
	acc := &DBTimeAccumulator{}

	done := make(chan struct{})
	for i := 0; i < 10; i++ {
		go func() {
			for j := 0; j < 100; j++ {
				acc.Add(time.Millisecond)
			}
			done <- struct{}{}
		}()
	}
	for i := 0; i < 10; i++ {
		<-done
	}

	if total := acc.Duration(); total != time.Second {
		t.Errorf("expected %v, got %v", time.Second, total)
	}
}

func TestAddDBTime(t *testing.T) {
	AddDBTime(context.Background(), time.Millisecond)

	ctx := WithDBTimeAccumulator(context.Background())
	AddDBTime(ctx, 50*time.Millisecond)
	AddDBTime(ctx, 100*time.Millisecond)

	acc := DBTimeAccumulatorFromContext(ctx)
	if acc == nil {
		t.Fatal("accumulator should not be nil")
	}
	if total := acc.Duration(); total != 150*time.Millisecond {
		t.Errorf("expected %v, got %v", 150*time.Millisecond, total)
	}
}

type testDataset struct {
	ID   string `gorm:"primaryKey"`
	Name string
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to connect to database: %v", err)
	}
	if err := db.AutoMigrate(&testDataset{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func TestServerTimingCallbacks(t *testing.T) {
	db := openTestDB(t)
	if err := RegisterServerTimingCallbacks(db); err != nil {
		t.Fatalf("failed to register callbacks: %v", err)
	}

	ctx := WithDBTimeAccumulator(context.Background())
	if err := db.WithContext(ctx).Create(&testDataset{ID: "a", Name: "Test"}).Error; err != nil {
		t.Fatalf("failed to create: %v", err)
	}
	acc := DBTimeAccumulatorFromContext(ctx)
	first := acc.Duration()
	if first == 0 {
		t.Error("expected non-zero database time after Create")
	}

	var rows []testDataset
	if err := db.WithContext(ctx).Find(&rows).Error; err != nil {
		t.Fatalf("failed to find: %v", err)
	}
	if acc.Duration() <= first {
		t.Errorf("expected duration to increase after Find, got before=%v after=%v", first, acc.Duration())
	}
}

func TestGORMCallbacksTraceStatements(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	cfg := NewConfig(WithTracerProvider(tp), WithDetailedDBTracing())
	if err := cfg.Initialize(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	db := openTestDB(t)
	if err := RegisterGORMCallbacks(db, cfg); err != nil {
		t.Fatalf("failed to register callbacks: %v", err)
	}

	ctx := context.Background()
	if err := db.WithContext(ctx).Create(&testDataset{ID: "a"}).Error; err != nil {
		t.Fatalf("failed to create: %v", err)
	}
	var rows []testDataset
	if err := db.WithContext(ctx).Find(&rows).Error; err != nil {
		t.Fatalf("failed to find: %v", err)
	}

	var names []string
	for _, span := range recorder.Ended() {
		names = append(names, span.Name())
	}
	joined := strings.Join(names, ",")
	if !strings.Contains(joined, "db.create") || !strings.Contains(joined, "db.query") {
		t.Errorf("expected db.create and db.query spans, got %v", names)
	}
}

func TestGORMCallbacksDisabled(t *testing.T) {
	db := openTestDB(t)
	if err := RegisterGORMCallbacks(db, NewConfig()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := RegisterGORMCallbacks(db, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
