package tension

import (
	"context"
	"time"

	"github.com/vsariola/shifter"
	"github.com/vsariola/shifter/internal/observe"
	"go.uber.org/zap"
)

type (
	// Effect is a configured tension effect. It is safe for concurrent use.
	Effect struct {
		cfg     shifter.TensionConfig
		logger  *zap.Logger
		metrics *observe.Metrics
	}

	// Option configures an Effect.
	Option func(*Effect)
)

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Effect) { e.logger = l }
}

// WithMetrics sets the metric instruments. Defaults to observe.DefaultMetrics.
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Effect) { e.metrics = m }
}

// New returns an Effect using the given STFT configuration. The
// configuration is validated by Apply.
func New(cfg shifter.TensionConfig, opts ...Option) *Effect {
	e := &Effect{cfg: cfg, logger: zap.NewNop()}
	for _, o := range opts {
		o(e)
	}
	if e.metrics == nil {
		e.metrics = observe.DefaultMetrics()
	}
	return e
}

// Apply runs the effect. See the package level Apply.
func (e *Effect) Apply(ctx context.Context, audio shifter.AudioBuffer, sampleRate int, pitch, tension []float32, curveHop int) (shifter.AudioBuffer, error) {
	if len(audio) == 0 || IsNeutral(tension) {
		return audio, nil
	}
	start := time.Now()
	ret, err := Apply(audio, sampleRate, pitch, tension, curveHop, e.cfg)
	elapsed := time.Since(start)
	e.metrics.RecordTension(ctx, elapsed, err)
	if err != nil {
		e.logger.Error("tension effect failed", zap.Int("samples", len(audio)), zap.Error(err))
		return nil, err
	}
	e.logger.Debug("tension effect applied", zap.Int("samples", len(audio)), zap.Duration("elapsed", elapsed))
	return ret, nil
}
