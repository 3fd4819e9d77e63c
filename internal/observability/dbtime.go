package observability

import (
	"context"
	"sync/atomic"
	"time"
)

type dbTimeKey struct{}

// DBTimeAccumulator sums the time spent in database calls for one request.
// It is safe for concurrent use.
type DBTimeAccumulator struct {
	nanos atomic.Int64
}

// Add adds d to the total.
func (a *DBTimeAccumulator) Add(d time.Duration) {
	a.nanos.Add(int64(d))
}

// Duration returns the total so far.
func (a *DBTimeAccumulator) Duration() time.Duration {
	return time.Duration(a.nanos.Load())
}

// WithDBTimeAccumulator returns a context carrying a fresh accumulator.
func WithDBTimeAccumulator(ctx context.Context) context.Context {
	return context.WithValue(ctx, dbTimeKey{}, &DBTimeAccumulator{})
}

// DBTimeAccumulatorFromContext returns the accumulator of ctx, or nil.
func DBTimeAccumulatorFromContext(ctx context.Context) *DBTimeAccumulator {
	acc, _ := ctx.Value(dbTimeKey{}).(*DBTimeAccumulator) //nolint:errcheck
	return acc
}

// AddDBTime adds d to the accumulator of ctx, if any.
func AddDBTime(ctx context.Context, d time.Duration) {
	if acc := DBTimeAccumulatorFromContext(ctx); acc != nil {
		acc.Add(d)
	}
}
