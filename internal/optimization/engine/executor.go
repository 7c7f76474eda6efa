package engine

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/copyleftdev/stratopt/internal/errors"
	"github.com/copyleftdev/stratopt/internal/optimization"
	"github.com/copyleftdev/stratopt/internal/optimization/objective"
)

// executor runs one candidate in isolation and turns every outcome into a
// Trial. It never returns an error and never panics.
type executor struct {
	backtester      optimization.Backtester
	objective       objective.Objective
	objectiveParams map[string]any
	base            optimization.StrategyConfig
	timeout         time.Duration
}

func (x *executor) execute(ctx context.Context, id int, params optimization.ParameterSet) optimization.Trial {
	trial := optimization.Trial{
		ID:     id,
		Params: params.Clone(),
		Status: optimization.TrialPending,
	}

	start := time.Now()
	score, err := x.evaluate(ctx, params)
	trial.Duration = time.Since(start)

	if err != nil {
		trial.Status = optimization.TrialFailed
		trial.ErrorKind = errors.KindOf(err)
		trial.ErrorMessage = err.Error()
		return trial
	}

	trial.Status = optimization.TrialSucceeded
	trial.Score = &score
	return trial
}

func (x *executor) evaluate(ctx context.Context, params optimization.ParameterSet) (score float64, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = errors.FromPanic(rec).WithComponent("executor")
		}
	}()

	resolved, err := x.base.Overlay(params)
	if err != nil {
		return 0, err
	}

	runCtx := ctx
	if x.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, x.timeout)
		defer cancel()
	}

	result, err := x.backtester.Run(runCtx, resolved)
	if err != nil {
		return 0, x.classifyRunError(ctx, err)
	}

	return x.objective.Evaluate(result, x.objectiveParams)
}

// classifyRunError keeps typed errors and turns bare context errors into
// BacktestError so cancellation is never reported as an unknown failure.
func (x *executor) classifyRunError(parent context.Context, err error) error {
	if errors.KindOf(err) != errors.KindUnknown {
		return err
	}
	switch {
	case stderrors.Is(err, context.DeadlineExceeded) && parent.Err() == nil:
		return errors.Wrapf(errors.KindBacktest, err, "trial timed out after %s", x.timeout)
	case stderrors.Is(err, context.Canceled), stderrors.Is(err, context.DeadlineExceeded):
		return errors.Wrap(errors.KindBacktest, err, "backtest interrupted")
	}
	return err
}
