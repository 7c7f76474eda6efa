package engine

import (
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/copyleftdev/stratopt/internal/optimization"
	"github.com/copyleftdev/stratopt/internal/optimization/objective"
	"github.com/copyleftdev/stratopt/internal/optimization/sampler"
)

// ProgressFunc is called after every recorded trial.
type ProgressFunc func(p Progress)

type options struct {
	logger          *zap.Logger
	metrics         *Metrics
	registry        *objective.Registry
	trialTimeout    time.Duration
	defaultSeed     int64
	maxCombinations int
	progress        ProgressFunc
	signals         []os.Signal
}

func defaultOptions() options {
	return options{
		logger:          zap.NewNop(),
		registry:        objective.DefaultRegistry(),
		defaultSeed:     sampler.DefaultSeed,
		maxCombinations: sampler.DefaultMaxCombinations,
	}
}

// Option configures an Engine.
type Option func(*options)

// WithLogger sets the logger used for run and trial events.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics records run and trial metrics.
func WithMetrics(m *Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithRegistry replaces the built-in objective registry.
func WithRegistry(r *objective.Registry) Option {
	return func(o *options) {
		if r != nil {
			o.registry = r
		}
	}
}

// WithTrialTimeout bounds every backtest call. Zero disables the bound.
func WithTrialTimeout(d time.Duration) Option {
	return func(o *options) {
		o.trialTimeout = d
	}
}

// WithDefaultSeed sets the seed used when a random search config has none.
func WithDefaultSeed(seed int64) Option {
	return func(o *options) {
		o.defaultSeed = seed
	}
}

// WithMaxCombinations bounds grid searches that do not set max_combinations.
func WithMaxCombinations(n int) Option {
	return func(o *options) {
		o.maxCombinations = n
	}
}

// WithProgress registers a callback invoked after every trial. It runs on
// the engine goroutine and must not block.
func WithProgress(fn ProgressFunc) Option {
	return func(o *options) {
		o.progress = fn
	}
}

// WithInterruptSignals makes the engine listen for sigs while a run is in
// progress and treat them like Stop. Callers must not install their own
// handler for the same signals.
func WithInterruptSignals(sigs ...os.Signal) Option {
	return func(o *options) {
		o.signals = append([]os.Signal(nil), sigs...)
	}
}

var _ optimization.Optimizer = (*Engine)(nil)
