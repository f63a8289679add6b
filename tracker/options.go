package tracker

import (
	"github.com/vsariola/shifter/internal/observe"
	"go.uber.org/zap"
)

type (
	// Option configures the ambient dependencies of the components in this
	// package.
	Option func(*options)

	options struct {
		logger  *zap.Logger
		metrics *observe.Metrics
	}
)

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics sets the metric instruments. Defaults to
// observe.DefaultMetrics.
func WithMetrics(m *observe.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

func newOptions(opts []Option) options {
	var o options
	for _, f := range opts {
		f(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	return o
}
