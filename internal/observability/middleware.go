package observability

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// HTTPMiddleware returns an HTTP middleware that instruments requests with tracing.
// It uses otelhttp for automatic span propagation and HTTP semantic attributes.
func HTTPMiddleware(cfg *Config) func(http.Handler) http.Handler {
	if cfg == nil || cfg.TracerProvider == nil {
		return func(next http.Handler) http.Handler {
			return next
		}
	}

	opts := []otelhttp.Option{otelhttp.WithTracerProvider(cfg.TracerProvider)}
	if cfg.MeterProvider != nil {
		opts = append(opts, otelhttp.WithMeterProvider(cfg.MeterProvider))
	}
	return func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "ocdb.http", opts...)
	}
}
