// Package ocdb serves a searchable catalog of oceanographic datasets over
// HTTP. Searches are written in a small query language, parsed by
// internal/query, lowered by internal/filter and evaluated by the GORM
// backed internal/store.
package ocdb

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"gorm.io/gorm"

	"github.com/nlstn/go-ocdb/internal/observability"
	"github.com/nlstn/go-ocdb/internal/response"
	"github.com/nlstn/go-ocdb/internal/store"
)

// Default paging limits of the dataset search.
const (
	DefaultPageSize = 100
	MaxPageSize     = 1000
)

// Option configures a Service.
type Option func(*serviceOptions)

type serviceOptions struct {
	logger          *slog.Logger
	obsOpts         []observability.Option
	defaultPageSize int
	maxPageSize     int
	basePath        string
}

// WithLogger sets the logger. If not set, slog.Default() is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *serviceOptions) {
		o.logger = logger
	}
}

// WithObservability enables OpenTelemetry tracing, metrics and the
// Server-Timing header as configured by opts.
func WithObservability(opts ...observability.Option) Option {
	return func(o *serviceOptions) {
		o.obsOpts = append(o.obsOpts, opts...)
	}
}

// WithPageSize sets the page size used when a search gives no count, and
// the largest count a search may ask for.
func WithPageSize(defaultSize, maxSize int) Option {
	return func(o *serviceOptions) {
		o.defaultPageSize = defaultSize
		o.maxPageSize = maxSize
	}
}

// WithBasePath sets the path prefix the service is mounted under. It is
// used when building absolute links.
func WithBasePath(path string) Option {
	return func(o *serviceOptions) {
		o.basePath = path
	}
}

// Service is the dataset catalog HTTP API. It implements http.Handler.
type Service struct {
	// store persists datasets
	store *store.Store
	// logger is used for structured logging throughout the service
	logger *slog.Logger
	// obs holds tracer and metrics; never nil
	obs *observability.Config
	// mux routes requests to dataset handlers
	mux *http.ServeMux
	// operations maps route patterns to operation names for telemetry
	operations map[string]string
	// handler is mux wrapped in the middleware chain
	handler http.Handler

	defaultPageSize int
	maxPageSize     int
	basePath        string
}

type route struct {
	pattern   string
	operation string
	handler   http.HandlerFunc
}

// NewService creates a dataset service backed by db.
func NewService(db *gorm.DB, opts ...Option) (*Service, error) {
	if db == nil {
		return nil, fmt.Errorf("ocdb: database handle is required")
	}

	o := serviceOptions{
		logger:          slog.Default(),
		defaultPageSize: DefaultPageSize,
		maxPageSize:     MaxPageSize,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.defaultPageSize <= 0 || o.maxPageSize < o.defaultPageSize {
		return nil, fmt.Errorf("ocdb: invalid page sizes %d/%d", o.defaultPageSize, o.maxPageSize)
	}

	obs := observability.NewConfig(o.obsOpts...)
	if err := obs.Initialize(); err != nil {
		return nil, fmt.Errorf("ocdb: initialize observability: %w", err)
	}
	if err := observability.RegisterGORMCallbacks(db, obs); err != nil {
		return nil, fmt.Errorf("ocdb: register tracing callbacks: %w", err)
	}
	if obs.ServerTimingEnabled() {
		if err := observability.RegisterServerTimingCallbacks(db); err != nil {
			return nil, fmt.Errorf("ocdb: register server timing callbacks: %w", err)
		}
	}

	s := &Service{
		store:           store.New(db),
		logger:          o.logger,
		obs:             obs,
		mux:             http.NewServeMux(),
		operations:      make(map[string]string),
		defaultPageSize: o.defaultPageSize,
		maxPageSize:     o.maxPageSize,
		basePath:        o.basePath,
	}

	for _, r := range s.routes() {
		s.mux.HandleFunc(r.pattern, r.handler)
		s.operations[r.pattern] = r.operation
	}

	s.handler = observability.HTTPMiddleware(obs)(
		observability.ServerTimingMiddleware(obs)(
			http.HandlerFunc(s.serve),
		),
	)
	return s, nil
}

func (s *Service) routes() []route {
	return []route{
		{"GET /datasets", observability.OpListDatasets, s.handleListDatasets},
		{"POST /datasets", observability.OpCreateDataset, s.handleCreateDataset},
		{"GET /datasets/{id}", observability.OpGetDataset, s.handleGetDataset},
		{"DELETE /datasets/{id}", observability.OpDeleteDataset, s.handleDeleteDataset},
		{"PUT /datasets/{id}/status", observability.OpUpdateStatus, s.handleUpdateStatus},
		{"GET /query", observability.OpExplainQuery, s.handleExplainQuery},
	}
}

// Migrate creates or updates the database tables.
func (s *Service) Migrate(ctx context.Context) error {
	return s.store.Migrate(ctx)
}

// Store returns the dataset store used by the service.
func (s *Service) Store() *store.Store {
	return s.store
}

// ServeHTTP implements http.Handler.
func (s *Service) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// serve opens the request span, dispatches to the mux and records request
// metrics once the handler is done.
func (s *Service) serve(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	tracer := s.obs.Tracer()

	ctx, span := tracer.StartRequest(r.Context(), r)
	defer span.End()
	if s.basePath != "" {
		ctx = context.WithValue(ctx, response.BasePathContextKey, s.basePath)
	}
	r = r.WithContext(ctx)

	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	handler, pattern := s.mux.Handler(r)
	operation := s.operations[pattern]
	if pattern == "" {
		s.serveUnmatched(rec, r, handler)
	} else {
		handler.ServeHTTP(rec, r)
	}

	duration := time.Since(start)
	tracer.SetHTTPStatus(ctx, rec.status)
	s.obs.Metrics().RecordRequest(ctx, operation, rec.status, duration)
	observability.LoggerWithTrace(ctx, s.logger).Debug("request served",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", rec.status),
		slog.String(observability.LogFieldOperation, operation),
		slog.Int64(observability.LogFieldDuration, duration.Milliseconds()),
	)
}

// serveUnmatched renders the mux's not found and method not allowed
// responses as JSON errors.
func (s *Service) serveUnmatched(w http.ResponseWriter, r *http.Request, handler http.Handler) {
	capture := &statusCapture{header: http.Header{}}
	handler.ServeHTTP(capture, r)

	if capture.status == http.StatusMethodNotAllowed {
		if allow := capture.header.Get("Allow"); allow != "" {
			w.Header().Set("Allow", allow)
		}
		s.writeError(r.Context(), w, "", fmt.Errorf("%w: %s %s", ErrMethodNotAllowed, r.Method, r.URL.Path))
		return
	}
	s.writeError(r.Context(), w, "", &ServiceError{
		StatusCode: http.StatusNotFound,
		Code:       ErrorCodeNotFound,
		Message:    fmt.Sprintf("No resource at '%s'", r.URL.Path),
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// statusCapture records the status a handler writes and discards the body.
type statusCapture struct {
	header http.Header
	status int
}

func (c *statusCapture) Header() http.Header { return c.header }

func (c *statusCapture) Write(b []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	return len(b), nil
}

func (c *statusCapture) WriteHeader(code int) {
	if c.status == 0 {
		c.status = code
	}
}
