package xmap

import (
	"context"
	"time"
)

// Option adjusts a single call.
type Option func(*callOptions)

type callOptions struct {
	splitOn string
	kind    CommandKind
	timeout time.Duration
}

func (e *Engine) options(opts []Option) *callOptions {
	o := &callOptions{splitOn: e.splitOn}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// context applies the call timeout, if any.
func (o *callOptions) context(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.timeout > 0 {
		return context.WithTimeout(ctx, o.timeout)
	}
	return ctx, func() {}
}

// WithSplitOn sets the multi-map split columns: one name used for every
// boundary, or a comma-separated list with one name per boundary. "*" gives
// each of the trailing columns its own segment.
func WithSplitOn(names string) Option {
	return func(o *callOptions) { o.splitOn = names }
}

// WithCommandKind sets how the query text is interpreted.
func WithCommandKind(kind CommandKind) Option {
	return func(o *callOptions) { o.kind = kind }
}

// AsProcedure treats the query text as a stored procedure name.
func AsProcedure() Option { return WithCommandKind(KindStoredProcedure) }

// WithTimeout bounds execution and reading with a context deadline.
func WithTimeout(d time.Duration) Option {
	return func(o *callOptions) { o.timeout = d }
}
