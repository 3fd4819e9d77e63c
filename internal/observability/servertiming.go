package observability

import (
	"context"
	"net/http"

	servertiming "github.com/mitchellh/go-server-timing"
)

// ServerTimingMetric wraps the server-timing library's Metric type.
type ServerTimingMetric struct {
	metric *servertiming.Metric
}

// Stop stops the timing metric.
func (m *ServerTimingMetric) Stop() {
	if m != nil && m.metric != nil {
		m.metric.Stop()
	}
}

// StartServerTiming starts a server-timing metric with the given name.
// If the context carries no timing header, a no-op metric is returned.
func StartServerTiming(ctx context.Context, name string) *ServerTimingMetric {
	timing := servertiming.FromContext(ctx)
	if timing == nil {
		return &ServerTimingMetric{}
	}

	return &ServerTimingMetric{
		metric: timing.NewMetric(name).Start(),
	}
}

// StartServerTimingWithDesc starts a server-timing metric with the given name and description.
// If the context carries no timing header, a no-op metric is returned.
func StartServerTimingWithDesc(ctx context.Context, name, description string) *ServerTimingMetric {
	timing := servertiming.FromContext(ctx)
	if timing == nil {
		return &ServerTimingMetric{}
	}

	return &ServerTimingMetric{
		metric: timing.NewMetric(name).WithDesc(description).Start(),
	}
}

// FlushDBTiming adds the database time accumulated so far as a "db" metric.
// It must run before the response header is written.
func FlushDBTiming(ctx context.Context) {
	timing := servertiming.FromContext(ctx)
	acc := DBTimeAccumulatorFromContext(ctx)
	if timing == nil || acc == nil {
		return
	}
	m := timing.NewMetric("db").WithDesc("database")
	m.Duration = acc.Duration()
}

// ServerTimingMiddleware returns a middleware that emits the Server-Timing
// header and collects database time for the request. It is a passthrough
// unless server timing is enabled.
func ServerTimingMiddleware(cfg *Config) func(http.Handler) http.Handler {
	if !cfg.ServerTimingEnabled() {
		return func(next http.Handler) http.Handler {
			return next
		}
	}

	return func(next http.Handler) http.Handler {
		withAcc := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(WithDBTimeAccumulator(r.Context())))
		})
		return servertiming.Middleware(withAcc, nil)
	}
}
