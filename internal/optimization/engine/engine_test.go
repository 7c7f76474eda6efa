package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/copyleftdev/stratopt/internal/errors"
	"github.com/copyleftdev/stratopt/internal/optimization"
	"github.com/copyleftdev/stratopt/internal/optimization/objective"
	"github.com/copyleftdev/stratopt/internal/optimization/optimizationtest"
)

// maScore favours a small fast average and a large slow one.
func maScore(params map[string]any) float64 {
	return optimizationtest.Number(params, "slow_ma")/10 - optimizationtest.Number(params, "fast_ma")/5
}

func TestOptimizeGridEndToEnd(t *testing.T) {
	bt := &optimizationtest.Backtester{Fn: optimizationtest.ScoreFrom(maScore)}
	eng := New(bt, WithLogger(zaptest.NewLogger(t)))
	assert.Equal(t, StateNotStarted, eng.State())

	result, err := eng.Optimize(context.Background(), optimizationtest.MASpace(),
		optimizationtest.BaseConfig(), optimizationtest.GridConfig(string(objective.SharpeRatio)))
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, eng.State())
	assert.False(t, result.WasInterrupted)
	assert.Equal(t, 6, result.TotalTrials)
	assert.Equal(t, 6, result.PlannedTrials)
	require.Len(t, result.AllTrials, 6)

	pairs := make(map[[2]int]bool)
	for i, trial := range result.AllTrials {
		assert.Equal(t, i, trial.ID)
		assert.Equal(t, optimization.TrialSucceeded, trial.Status)
		pair := [2]int{trial.Params["fast_ma"].(int), trial.Params["slow_ma"].(int)}
		assert.Contains(t, []int{5, 10, 15}, pair[0])
		assert.Contains(t, []int{20, 30}, pair[1])
		pairs[pair] = true
	}
	assert.Len(t, pairs, 6)

	require.NotNil(t, result.BestTrial)
	assert.Equal(t, optimization.ParameterSet{"fast_ma": 5, "slow_ma": 30}, result.BestTrial.Params)
	assert.InDelta(t, 2.0, *result.BestTrial.Score, 1e-9)
	assert.Empty(t, result.ErrorSummary)
	assert.Equal(t, 6, result.Scores.Count)
	assert.False(t, result.Timing.EndedAt.Before(result.Timing.StartedAt))
	assert.Equal(t, optimization.AlgorithmGridSearch, result.Algorithm)
	assert.Equal(t, "SharpeRatio", result.Objective)

	assert.Equal(t, result.AllTrials, eng.History())
	assert.Equal(t, result.BestTrial, eng.BestTrial())
}

func TestOptimizeResolvesConfigPerTrial(t *testing.T) {
	bt := &optimizationtest.Backtester{}
	base := optimizationtest.BaseConfig()

	_, err := Optimize(context.Background(), bt, optimizationtest.MASpace(), base,
		optimizationtest.GridConfig(string(objective.SharpeRatio)))
	require.NoError(t, err)

	calls := bt.Calls()
	require.Len(t, calls, 6)
	assert.Equal(t, 5, calls[0].Parameters["fast_ma"])
	assert.Equal(t, 20, calls[0].Parameters["slow_ma"])
	assert.Equal(t, 15, calls[5].Parameters["fast_ma"])
	assert.Equal(t, 30, calls[5].Parameters["slow_ma"])
	for _, c := range calls {
		assert.Equal(t, "BTCUSDT", c.Parameters["symbol"])
		assert.Equal(t, "ma_cross", c.Name)
	}
	assert.Equal(t, optimizationtest.BaseConfig(), base)
}

func TestBestTrialTieKeepsEarliest(t *testing.T) {
	bt := &optimizationtest.Backtester{
		Fn: func(_ context.Context, n int, _ optimization.StrategyConfig) (*optimization.AnalysisResult, error) {
			if n == 0 {
				return optimizationtest.Result(0.5), nil
			}
			return optimizationtest.Result(1.0), nil
		},
	}

	result, err := Optimize(context.Background(), bt, optimizationtest.MASpace(),
		optimizationtest.BaseConfig(), optimizationtest.GridConfig(string(objective.SharpeRatio)))
	require.NoError(t, err)
	require.NotNil(t, result.BestTrial)
	assert.Equal(t, 1, result.BestTrial.ID)
}

func TestBestTrialIsMaximum(t *testing.T) {
	space := optimization.MustParameterSpace(
		optimization.Dimension{Name: "fast_ma", Definition: optimization.NewIntRange(2, 40, 1)},
		optimization.Dimension{Name: "slow_ma", Definition: optimization.NewIntRange(20, 200, 10)},
	)
	bt := &optimizationtest.Backtester{Fn: optimizationtest.ScoreFrom(maScore)}

	for _, seed := range []int64{1, 2, 3, 42} {
		result, err := Optimize(context.Background(), bt, space, optimizationtest.BaseConfig(),
			optimizationtest.RandomConfig(string(objective.SharpeRatio), 30, seed))
		require.NoError(t, err)
		require.NotNil(t, result.BestTrial)

		best := *result.BestTrial.Score
		for _, trial := range result.AllTrials {
			s, ok := trial.ScoreValue()
			require.True(t, ok)
			assert.GreaterOrEqual(t, best, s)
			if s == best {
				assert.GreaterOrEqual(t, trial.ID, result.BestTrial.ID, "ties must keep the lowest id")
			}
		}
	}
}

func TestOptimizeIsIdempotent(t *testing.T) {
	space := optimization.MustParameterSpace(
		optimization.Dimension{Name: "fast_ma", Definition: optimization.NewIntRange(2, 40, 1)},
		optimization.Dimension{Name: "slow_ma", Definition: optimization.NewChoices(50, 100, 200)},
	)
	cfg := optimizationtest.RandomConfig(string(objective.SharpeRatio), 15, 1234)

	run := func() *optimization.OptimizationResult {
		bt := &optimizationtest.Backtester{Fn: optimizationtest.ScoreFrom(maScore)}
		result, err := Optimize(context.Background(), bt, space, optimizationtest.BaseConfig(), cfg)
		require.NoError(t, err)
		return result
	}

	a, b := run(), run()
	require.NotNil(t, a.BestTrial)
	require.NotNil(t, b.BestTrial)
	assert.Equal(t, a.BestTrial.Params, b.BestTrial.Params)
	assert.Equal(t, *a.BestTrial.Score, *b.BestTrial.Score)

	for i := range a.AllTrials {
		assert.Equal(t, a.AllTrials[i].Params, b.AllTrials[i].Params)
	}
}

func TestStopAfterNTrials(t *testing.T) {
	bt := &optimizationtest.Backtester{}
	eng := New(bt, WithLogger(zaptest.NewLogger(t)))
	bt.Fn = func(_ context.Context, n int, cfg optimization.StrategyConfig) (*optimization.AnalysisResult, error) {
		if n == 2 {
			eng.Stop()
		}
		return optimizationtest.Result(float64(10 - n)), nil
	}

	result, err := eng.Optimize(context.Background(), optimizationtest.MASpace(),
		optimizationtest.BaseConfig(), optimizationtest.GridConfig(string(objective.SharpeRatio)))
	require.NoError(t, err)

	assert.True(t, result.WasInterrupted)
	assert.Equal(t, 3, result.TotalTrials)
	assert.Equal(t, 6, result.PlannedTrials)
	assert.Equal(t, 3, bt.CallCount())
	require.NotNil(t, result.BestTrial)
	assert.Equal(t, 0, result.BestTrial.ID)
	assert.Equal(t, StateInterrupted, eng.State())
}

func TestContextCancelAfterNTrials(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bt := &optimizationtest.Backtester{
		Fn: func(_ context.Context, n int, _ optimization.StrategyConfig) (*optimization.AnalysisResult, error) {
			if n == 3 {
				cancel()
			}
			return optimizationtest.Result(float64(n)), nil
		},
	}

	result, err := Optimize(ctx, bt, optimizationtest.MASpace(),
		optimizationtest.BaseConfig(), optimizationtest.GridConfig(string(objective.SharpeRatio)))
	require.NoError(t, err)

	assert.True(t, result.WasInterrupted)
	assert.Equal(t, 4, result.TotalTrials)
	require.NotNil(t, result.BestTrial)
	assert.Equal(t, 3, result.BestTrial.ID)
}

func TestStopBeforeRun(t *testing.T) {
	bt := &optimizationtest.Backtester{}
	eng := New(bt)
	eng.Stop()
	eng.Stop()

	result, err := eng.Optimize(context.Background(), optimizationtest.MASpace(),
		optimizationtest.BaseConfig(), optimizationtest.GridConfig(string(objective.SharpeRatio)))
	require.NoError(t, err)
	assert.True(t, result.WasInterrupted)
	assert.Zero(t, result.TotalTrials)
	assert.Nil(t, result.BestTrial)
	assert.Zero(t, bt.CallCount())

	// A finished engine can run again with a fresh stop signal.
	result, err = eng.Optimize(context.Background(), optimizationtest.MASpace(),
		optimizationtest.BaseConfig(), optimizationtest.GridConfig(string(objective.SharpeRatio)))
	require.NoError(t, err)
	assert.False(t, result.WasInterrupted)
	assert.Equal(t, 6, result.TotalTrials)
	assert.Len(t, eng.History(), 6)
}

func TestAllTrialsFailed(t *testing.T) {
	bt := &optimizationtest.Backtester{
		Fn: func(context.Context, int, optimization.StrategyConfig) (*optimization.AnalysisResult, error) {
			return nil, errors.Data("no candles for BTCUSDT")
		},
	}

	result, err := Optimize(context.Background(), bt, optimizationtest.MASpace(),
		optimizationtest.BaseConfig(), optimizationtest.GridConfig(string(objective.SharpeRatio)))
	require.NoError(t, err)

	assert.Nil(t, result.BestTrial)
	assert.Equal(t, 6, result.TotalTrials)
	assert.Equal(t, map[errors.Kind]int{errors.KindData: 6}, result.ErrorSummary)
	assert.Equal(t, []string{"6/6 trials failed with DataError"}, result.FailureSummary())
	for _, trial := range result.AllTrials {
		assert.Equal(t, optimization.TrialFailed, trial.Status)
		assert.Nil(t, trial.Score)
		assert.Contains(t, trial.ErrorMessage, "no candles")
	}
}

func TestTrialFailuresAreIsolated(t *testing.T) {
	bt := &optimizationtest.Backtester{
		Fn: func(_ context.Context, n int, _ optimization.StrategyConfig) (*optimization.AnalysisResult, error) {
			switch n {
			case 0:
				return nil, errors.Data("missing data")
			case 1:
				return nil, errors.Backtest("engine crashed")
			case 2:
				return nil, fmt.Errorf("something odd")
			case 3:
				panic("boom")
			case 4:
				return &optimization.AnalysisResult{}, nil
			default:
				return optimizationtest.Result(0.7), nil
			}
		},
	}

	result, err := Optimize(context.Background(), bt, optimizationtest.MASpace(),
		optimizationtest.BaseConfig(), optimizationtest.GridConfig(string(objective.SharpeRatio)))
	require.NoError(t, err)

	require.Equal(t, 6, result.TotalTrials)
	kinds := make([]errors.Kind, 0, 6)
	for _, trial := range result.AllTrials {
		kinds = append(kinds, trial.ErrorKind)
	}
	assert.Equal(t, []errors.Kind{
		errors.KindData, errors.KindBacktest, errors.KindUnknown, errors.KindUnknown, errors.KindBacktest, "",
	}, kinds)
	assert.Contains(t, result.AllTrials[3].ErrorMessage, "boom")

	assert.Equal(t, map[errors.Kind]int{
		errors.KindData:     1,
		errors.KindBacktest: 2,
		errors.KindUnknown:  2,
	}, result.ErrorSummary)

	require.NotNil(t, result.BestTrial)
	assert.Equal(t, 5, result.BestTrial.ID)
	assert.Equal(t, 1, result.SucceededCount())
}

func TestTrialTimeout(t *testing.T) {
	bt := &optimizationtest.Backtester{
		Fn: func(ctx context.Context, n int, _ optimization.StrategyConfig) (*optimization.AnalysisResult, error) {
			if n == 0 {
				<-ctx.Done()
				return nil, ctx.Err()
			}
			return optimizationtest.Result(1), nil
		},
	}

	result, err := Optimize(context.Background(), bt, optimizationtest.MASpace(),
		optimizationtest.BaseConfig(), optimizationtest.GridConfig(string(objective.SharpeRatio)),
		WithTrialTimeout(20*time.Millisecond))
	require.NoError(t, err)

	assert.False(t, result.WasInterrupted)
	assert.Equal(t, 6, result.TotalTrials)
	assert.Equal(t, errors.KindBacktest, result.AllTrials[0].ErrorKind)
	assert.Contains(t, result.AllTrials[0].ErrorMessage, "timed out")
	assert.Equal(t, 5, result.SucceededCount())
}

func TestConfigurationErrorsAbortBeforeTrials(t *testing.T) {
	tests := []struct {
		name    string
		cfg     optimization.OptimizationConfig
		wantErr string
	}{
		{
			name:    "unknown objective",
			cfg:     optimizationtest.GridConfig("sharperatio"),
			wantErr: "unknown objective function",
		},
		{
			name:    "zero iterations",
			cfg:     optimizationtest.RandomConfig(string(objective.SharpeRatio), 0, 1),
			wantErr: "iteration_count",
		},
		{
			name: "missing hold period params",
			cfg: optimization.OptimizationConfig{
				Algorithm:         optimization.AlgorithmGridSearch,
				ObjectiveFunction: string(objective.SharpeWithHoldPeriodConstraint),
			},
			wantErr: "min_hold_days",
		},
		{
			name:    "unknown algorithm",
			cfg:     optimization.OptimizationConfig{Algorithm: "Annealing", ObjectiveFunction: "SharpeRatio"},
			wantErr: "unknown algorithm",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bt := &optimizationtest.Backtester{}
			eng := New(bt, WithLogger(zaptest.NewLogger(t)))

			result, err := eng.Optimize(context.Background(), optimizationtest.MASpace(), optimizationtest.BaseConfig(), tt.cfg)
			require.Error(t, err)
			assert.Nil(t, result)
			assert.Equal(t, errors.KindConfiguration, errors.KindOf(err))
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Zero(t, bt.CallCount())
			assert.Equal(t, StateFailed, eng.State())
		})
	}
}

func TestGridLimitOption(t *testing.T) {
	bt := &optimizationtest.Backtester{}
	_, err := Optimize(context.Background(), bt, optimizationtest.MASpace(),
		optimizationtest.BaseConfig(), optimizationtest.GridConfig(string(objective.SharpeRatio)),
		WithMaxCombinations(4))
	require.Error(t, err)
	assert.Equal(t, errors.KindConfiguration, errors.KindOf(err))
	assert.Zero(t, bt.CallCount())
}

func TestHistoryIsNotAliased(t *testing.T) {
	bt := &optimizationtest.Backtester{Fn: optimizationtest.ScoreFrom(maScore)}
	eng := New(bt)

	result, err := eng.Optimize(context.Background(), optimizationtest.MASpace(),
		optimizationtest.BaseConfig(), optimizationtest.GridConfig(string(objective.SharpeRatio)))
	require.NoError(t, err)

	h := eng.History()
	h[0].Params["fast_ma"] = 999
	*h[0].Score = 123

	best := eng.BestTrial()
	best.Params["slow_ma"] = -1
	*best.Score = -1

	p := eng.Progress()
	p.BestTrial.Params["slow_ma"] = -2

	result.AllTrials[1].Params["fast_ma"] = 777
	*result.BestTrial.Score = 456

	fresh := eng.History()
	assert.Equal(t, optimization.ParameterSet{"fast_ma": 5, "slow_ma": 20}, fresh[0].Params)
	assert.InDelta(t, 1.0, *fresh[0].Score, 1e-9)
	assert.Equal(t, 5, fresh[1].Params["fast_ma"])

	best = eng.BestTrial()
	assert.Equal(t, optimization.ParameterSet{"fast_ma": 5, "slow_ma": 30}, best.Params)
	assert.InDelta(t, 2.0, *best.Score, 1e-9)

	assert.Equal(t, 5, result.BestTrial.Params["fast_ma"])
	assert.InDelta(t, 2.0, *result.AllTrials[result.BestTrial.ID].Score, 1e-9)
}

func TestValidateDoesNotRun(t *testing.T) {
	bt := &optimizationtest.Backtester{}
	eng := New(bt, WithMaxCombinations(4))

	err := eng.Validate(optimizationtest.MASpace(), optimizationtest.BaseConfig(),
		optimizationtest.GridConfig(string(objective.SharpeRatio)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeding the limit of 4")

	err = eng.Validate(optimizationtest.MASpace(), optimizationtest.BaseConfig(),
		optimizationtest.RandomConfig(string(objective.SharpeRatio), 3, 1))
	require.NoError(t, err)

	assert.Equal(t, StateNotStarted, eng.State())
	assert.Zero(t, bt.CallCount())
}

func TestMissingInputs(t *testing.T) {
	_, err := New(nil).Optimize(context.Background(), optimizationtest.MASpace(),
		optimizationtest.BaseConfig(), optimizationtest.GridConfig("SharpeRatio"))
	assert.True(t, errors.IsKind(err, errors.KindConfiguration))

	_, err = New(&optimizationtest.Backtester{}).Optimize(context.Background(), nil,
		optimizationtest.BaseConfig(), optimizationtest.GridConfig("SharpeRatio"))
	assert.True(t, errors.IsKind(err, errors.KindConfiguration))
}

func TestProgressAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)

	var snapshots []Progress
	bt := &optimizationtest.Backtester{
		Fn: func(_ context.Context, n int, _ optimization.StrategyConfig) (*optimization.AnalysisResult, error) {
			if n%2 == 1 {
				return nil, errors.Data("gap in data")
			}
			return optimizationtest.Result(float64(n)), nil
		},
	}
	eng := New(bt,
		WithMetrics(metrics),
		WithProgress(func(p Progress) { snapshots = append(snapshots, p) }),
	)

	result, err := eng.Optimize(context.Background(), optimizationtest.MASpace(),
		optimizationtest.BaseConfig(), optimizationtest.GridConfig(string(objective.SharpeRatio)))
	require.NoError(t, err)

	require.Len(t, snapshots, 6)
	for i, p := range snapshots {
		assert.Equal(t, StateRunning, p.State)
		assert.Equal(t, i+1, p.Completed)
		assert.Equal(t, 6, p.Planned)
		assert.Equal(t, p.Completed, p.Succeeded+p.Failed)
	}
	assert.Equal(t, 4, snapshots[5].BestTrial.ID)

	final := eng.Progress()
	assert.Equal(t, StateCompleted, final.State)
	assert.Equal(t, 3, final.Succeeded)
	assert.Equal(t, 3, final.Failed)
	assert.Equal(t, result.BestTrial, final.BestTrial)

	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.trials.WithLabelValues("succeeded", "")))
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.trials.WithLabelValues("failed", "DataError")))
	assert.Equal(t, 4.0, testutil.ToFloat64(metrics.bestScore))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.runs.WithLabelValues("Completed")))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.inProgress))
}
