// Package optimizationtest provides fake backtesters and fixtures for tests
// of the optimization packages.
package optimizationtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/copyleftdev/stratopt/internal/optimization"
)

// Backtester is a scripted optimization.Backtester. Fn decides the outcome
// of every call; calls are recorded in order.
type Backtester struct {
	Fn func(ctx context.Context, n int, cfg optimization.StrategyConfig) (*optimization.AnalysisResult, error)

	mu    sync.Mutex
	calls []optimization.StrategyConfig
}

// Run implements optimization.Backtester.
func (b *Backtester) Run(ctx context.Context, cfg optimization.StrategyConfig) (*optimization.AnalysisResult, error) {
	b.mu.Lock()
	n := len(b.calls)
	b.calls = append(b.calls, cfg)
	b.mu.Unlock()

	if b.Fn == nil {
		return Result(0), nil
	}
	return b.Fn(ctx, n, cfg)
}

// Calls returns the configurations passed to Run so far.
func (b *Backtester) Calls() []optimization.StrategyConfig {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]optimization.StrategyConfig(nil), b.calls...)
}

// CallCount returns the number of Run calls.
func (b *Backtester) CallCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.calls)
}

// Result builds an analysis result with the given Sharpe ratio and neutral
// values for the other metrics.
func Result(sharpe float64) *optimization.AnalysisResult {
	return &optimization.AnalysisResult{
		Metrics: map[optimization.MetricName]float64{
			optimization.MetricSharpeRatio:  sharpe,
			optimization.MetricSortinoRatio: sharpe,
			optimization.MetricCalmarRatio:  sharpe / 2,
			optimization.MetricProfitFactor: 1,
			optimization.MetricTotalReturn:  0,
			optimization.MetricMaxDrawdown:  10,
			optimization.MetricWinRate:      50,
		},
	}
}

// ScoreFrom returns a backtest function whose Sharpe ratio is computed by
// score from the resolved strategy parameters.
func ScoreFrom(score func(params map[string]any) float64) func(context.Context, int, optimization.StrategyConfig) (*optimization.AnalysisResult, error) {
	return func(_ context.Context, _ int, cfg optimization.StrategyConfig) (*optimization.AnalysisResult, error) {
		return Result(score(cfg.Parameters)), nil
	}
}

// Number reads a numeric strategy parameter as float64.
func Number(params map[string]any, key string) float64 {
	switch v := params[key].(type) {
	case int:
		return float64(v)
	case float64:
		return v
	default:
		panic(fmt.Sprintf("parameter %q is %T, not a number", key, params[key]))
	}
}

// MASpace returns the moving average crossover space
// {fast_ma: 5..15 step 5, slow_ma: [20, 30]}.
func MASpace() *optimization.ParameterSpace {
	return optimization.MustParameterSpace(
		optimization.Dimension{Name: "fast_ma", Definition: optimization.NewIntRange(5, 15, 5)},
		optimization.Dimension{Name: "slow_ma", Definition: optimization.NewChoices(20, 30)},
	)
}

// BaseConfig returns a strategy configuration matching MASpace.
func BaseConfig() optimization.StrategyConfig {
	return optimization.StrategyConfig{
		Name: "ma_cross",
		Parameters: map[string]any{
			"fast_ma": 10,
			"slow_ma": 50,
			"symbol":  "BTCUSDT",
		},
	}
}

// GridConfig returns a grid search config scored by objective.
func GridConfig(objective string) optimization.OptimizationConfig {
	return optimization.OptimizationConfig{
		Algorithm:         optimization.AlgorithmGridSearch,
		ObjectiveFunction: objective,
	}
}

// RandomConfig returns a random search config scored by objective.
func RandomConfig(objective string, iterations int, seed int64) optimization.OptimizationConfig {
	return optimization.OptimizationConfig{
		Algorithm:         optimization.AlgorithmRandomSearch,
		ObjectiveFunction: objective,
		AlgorithmParams: map[string]any{
			optimization.ParamIterationCount: iterations,
			optimization.ParamSeed:           seed,
		},
	}
}
