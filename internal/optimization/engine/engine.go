// Package engine runs optimization searches: it draws candidates from a
// sampler, evaluates each one through the backtester, keeps the best trial
// and compiles the result, including after an interruption.
package engine

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/copyleftdev/stratopt/internal/errors"
	"github.com/copyleftdev/stratopt/internal/optimization"
	"github.com/copyleftdev/stratopt/internal/optimization/sampler"
)

// State is the lifecycle state of an Engine run.
type State string

const (
	StateNotStarted  State = "NotStarted"
	StateRunning     State = "Running"
	StateCompleted   State = "Completed"
	StateInterrupted State = "Interrupted"
	StateFailed      State = "Failed"
)

// Terminal reports whether s ends a run.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateInterrupted || s == StateFailed
}

// Progress is a point-in-time view of a run.
type Progress struct {
	State     State               `json:"state"`
	Completed int                 `json:"completed"`
	Planned   int                 `json:"planned"`
	Succeeded int                 `json:"succeeded"`
	Failed    int                 `json:"failed"`
	BestTrial *optimization.Trial `json:"best_trial,omitempty"`
	StartedAt time.Time           `json:"started_at,omitempty"`
}

// Engine executes optimization runs sequentially, one trial at a time.
//
// An Engine may be reused for several runs but only one run may be active at
// a time. Trial history and the best trial are owned by the engine and only
// exposed as copies.
type Engine struct {
	backtester optimization.Backtester
	opts       options

	mu        sync.RWMutex
	state     State
	trials    []optimization.Trial
	best      int
	succeeded int
	planned   int
	startedAt time.Time
	stop      chan struct{}
	stopped   bool
}

// New creates an engine evaluating candidates with backtester.
func New(backtester optimization.Backtester, opts ...Option) *Engine {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Engine{
		backtester: backtester,
		opts:       o,
		state:      StateNotStarted,
		best:       -1,
		stop:       make(chan struct{}),
	}
}

// Optimize runs a search in one call with a fresh engine.
func Optimize(ctx context.Context, backtester optimization.Backtester, space *optimization.ParameterSpace,
	base optimization.StrategyConfig, cfg optimization.OptimizationConfig, opts ...Option) (*optimization.OptimizationResult, error) {
	return New(backtester, opts...).Optimize(ctx, space, base, cfg)
}

// Optimize validates the inputs, evaluates every candidate and returns the
// compiled result.
//
// Invalid inputs are reported as ConfigurationError before any trial runs.
// Once trials have started Optimize never fails: failed trials are recorded
// in the result, and cancellation of ctx, Stop or a configured interrupt
// signal end the run early with WasInterrupted set.
func (e *Engine) Optimize(ctx context.Context, space *optimization.ParameterSpace,
	base optimization.StrategyConfig, cfg optimization.OptimizationConfig) (*optimization.OptimizationResult, error) {
	logger := e.opts.logger.With(
		zap.String("algorithm", string(cfg.Algorithm)),
		zap.String("objective", cfg.ObjectiveFunction),
	)

	stopCh, err := e.begin()
	if err != nil {
		return nil, err
	}

	exec, smp, err := e.prepare(space, base, cfg)
	if err != nil {
		e.finish(StateFailed)
		logger.Error("Optimization rejected", zap.Error(err))
		return nil, err
	}

	if len(e.opts.signals) > 0 {
		release := e.watchSignals(logger)
		defer release()
	}

	started := time.Now()
	e.mu.Lock()
	e.planned = smp.Len()
	e.startedAt = started
	e.mu.Unlock()
	e.opts.metrics.runStarted()

	logger.Info("Optimization started", zap.Int("planned_trials", smp.Len()))

	interrupted := false
	id := 0
	for params := range smp.Candidates() {
		if stopRequested(ctx, stopCh) {
			interrupted = true
			break
		}
		e.record(logger, exec.execute(ctx, id, params))
		id++
	}
	if ctx.Err() != nil {
		interrupted = true
	}

	state := StateCompleted
	if interrupted {
		state = StateInterrupted
		logger.Warn("Optimization interrupted", zap.Int("completed_trials", id), zap.Int("planned_trials", smp.Len()))
	}

	result := e.compile(cfg, smp.Len(), started, time.Now(), interrupted)
	e.finish(state)

	fields := []zap.Field{
		zap.Int("total_trials", result.TotalTrials),
		zap.Int("succeeded", result.SucceededCount()),
		zap.Duration("duration", result.Timing.Duration),
		zap.Bool("interrupted", interrupted),
	}
	if result.BestTrial != nil {
		fields = append(fields, zap.Float64("best_score", *result.BestTrial.Score), zap.Stringer("best_params", result.BestTrial.Params))
	}
	logger.Info("Optimization finished", fields...)
	for _, line := range result.FailureSummary() {
		logger.Warn(line)
	}

	return result, nil
}

// Validate reports the ConfigurationError Optimize would fail with, without
// starting a run.
func (e *Engine) Validate(space *optimization.ParameterSpace, base optimization.StrategyConfig,
	cfg optimization.OptimizationConfig) error {
	_, _, err := e.prepare(space, base, cfg)
	return err
}

// begin claims the engine for a new run.
func (e *Engine) begin() (<-chan struct{}, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == StateRunning {
		return nil, errors.Configuration("optimization already running").WithComponent("engine")
	}
	if e.state.Terminal() {
		e.stop = make(chan struct{})
		e.stopped = false
	}
	e.state = StateRunning
	e.startedAt = time.Time{}
	e.trials = nil
	e.best = -1
	e.succeeded = 0
	e.planned = 0
	return e.stop, nil
}

func (e *Engine) prepare(space *optimization.ParameterSpace, base optimization.StrategyConfig,
	cfg optimization.OptimizationConfig) (*executor, sampler.Sampler, error) {
	if e.backtester == nil {
		return nil, nil, errors.Configuration("backtester is required").WithComponent("engine")
	}
	if space == nil {
		return nil, nil, errors.Configuration("parameter space is required").WithComponent("engine")
	}

	obj, err := e.opts.registry.Resolve(cfg.ObjectiveFunction, cfg.ObjectiveParams)
	if err != nil {
		return nil, nil, err
	}

	smp, err := sampler.New(space, cfg, sampler.Defaults{
		Seed:            e.opts.defaultSeed,
		MaxCombinations: e.opts.maxCombinations,
	})
	if err != nil {
		return nil, nil, err
	}

	exec := &executor{
		backtester:      e.backtester,
		objective:       obj,
		objectiveParams: cfg.ObjectiveParams,
		base:            base,
		timeout:         e.opts.trialTimeout,
	}
	return exec, smp, nil
}

func (e *Engine) finish(state State) {
	e.mu.Lock()
	e.state = state
	e.mu.Unlock()
	if state == StateFailed {
		e.opts.metrics.runRejected()
		return
	}
	e.opts.metrics.runFinished(state)
}

// record appends a finalized trial and updates the running best. Ties keep
// the earlier trial.
func (e *Engine) record(logger *zap.Logger, trial optimization.Trial) {
	e.mu.Lock()
	e.trials = append(e.trials, trial)
	improved := false
	if score, ok := trial.ScoreValue(); ok {
		e.succeeded++
		if e.best < 0 || score > *e.trials[e.best].Score {
			e.best = len(e.trials) - 1
			improved = true
		}
	}
	e.mu.Unlock()

	e.opts.metrics.observeTrial(trial)

	if trial.Succeeded() {
		logger.Debug("Trial succeeded",
			zap.Int("trial", trial.ID),
			zap.Stringer("params", trial.Params),
			zap.Float64("score", *trial.Score),
			zap.Duration("duration", trial.Duration),
		)
	} else {
		logger.Warn("Trial failed",
			zap.Int("trial", trial.ID),
			zap.Stringer("params", trial.Params),
			zap.String("error_kind", string(trial.ErrorKind)),
			zap.String("error", trial.ErrorMessage),
			zap.Duration("duration", trial.Duration),
		)
	}
	if improved {
		e.opts.metrics.observeBest(*trial.Score)
		logger.Info("New best trial",
			zap.Int("trial", trial.ID),
			zap.Stringer("params", trial.Params),
			zap.Float64("score", *trial.Score),
		)
	}

	if e.opts.progress != nil {
		e.opts.progress(e.Progress())
	}
}

func (e *Engine) compile(cfg optimization.OptimizationConfig, planned int, started, ended time.Time, interrupted bool) *optimization.OptimizationResult {
	e.mu.RLock()
	defer e.mu.RUnlock()

	trials := e.history()

	summary := make(map[errors.Kind]int)
	for i := range trials {
		if trials[i].Status == optimization.TrialFailed {
			summary[trials[i].ErrorKind]++
		}
	}

	var best *optimization.Trial
	if e.best >= 0 {
		t := trials[e.best].Clone()
		best = &t
	}

	return &optimization.OptimizationResult{
		BestTrial:    best,
		AllTrials:    trials,
		TotalTrials:  len(trials),
		ErrorSummary: summary,
		Timing: optimization.TimingInfo{
			StartedAt: started,
			EndedAt:   ended,
			Duration:  ended.Sub(started),
		},
		WasInterrupted: interrupted,
		Algorithm:      cfg.Algorithm,
		Objective:      cfg.ObjectiveFunction,
		PlannedTrials:  planned,
		Scores:         optimization.ComputeScoreStats(trials),
	}
}

// watchSignals turns the configured OS signals into Stop for the duration
// of a run.
func (e *Engine) watchSignals(logger *zap.Logger) func() {
	sigCh := make(chan os.Signal, 1)
	done := make(chan struct{})
	signal.Notify(sigCh, e.opts.signals...)

	go func() {
		select {
		case sig := <-sigCh:
			logger.Warn("Interrupt signal received, finishing current trial", zap.String("signal", sig.String()))
			e.Stop()
		case <-done:
		}
	}()

	return func() {
		signal.Stop(sigCh)
		close(done)
	}
}

func stopRequested(ctx context.Context, stop <-chan struct{}) bool {
	select {
	case <-ctx.Done():
		return true
	case <-stop:
		return true
	default:
		return false
	}
}

// Stop asks the running search to end at the next trial boundary. Calling
// Stop before a run starts interrupts that run before its first trial.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.stopped {
		close(e.stop)
		e.stopped = true
	}
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// BestTrial returns a copy of the best trial so far, or nil.
func (e *Engine) BestTrial() *optimization.Trial {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.best < 0 {
		return nil
	}
	t := e.trials[e.best].Clone()
	return &t
}

// History returns a copy of the trials recorded so far.
func (e *Engine) History() []optimization.Trial {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.history()
}

// history deep-copies the recorded trials. Callers hold e.mu.
func (e *Engine) history() []optimization.Trial {
	trials := make([]optimization.Trial, len(e.trials))
	for i := range e.trials {
		trials[i] = e.trials[i].Clone()
	}
	return trials
}

// Progress returns a snapshot of the current run.
func (e *Engine) Progress() Progress {
	e.mu.RLock()
	defer e.mu.RUnlock()

	p := Progress{
		State:     e.state,
		Completed: len(e.trials),
		Planned:   e.planned,
		Succeeded: e.succeeded,
		Failed:    len(e.trials) - e.succeeded,
		StartedAt: e.startedAt,
	}
	if e.best >= 0 {
		t := e.trials[e.best].Clone()
		p.BestTrial = &t
	}
	return p
}
