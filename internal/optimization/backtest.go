package optimization

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/copyleftdev/stratopt/internal/errors"
)

// Backtester runs a single backtest for a fully resolved strategy configuration.
//
// Implementations should return errors classified with the errors package
// (ConfigurationError, DataError, BacktestError). Unclassified errors are
// recorded as UnknownError.
type Backtester interface {
	Run(ctx context.Context, cfg StrategyConfig) (*AnalysisResult, error)
}

// BacktestFunc adapts an ordinary function to the Backtester interface.
type BacktestFunc func(ctx context.Context, cfg StrategyConfig) (*AnalysisResult, error)

// Run implements Backtester.
func (f BacktestFunc) Run(ctx context.Context, cfg StrategyConfig) (*AnalysisResult, error) {
	return f(ctx, cfg)
}

// StrategyConfig is a validated strategy configuration. The optimizer treats
// it as a read-only template and derives one resolved copy per trial.
type StrategyConfig struct {
	Name       string         `json:"name" yaml:"name"`
	Parameters map[string]any `json:"parameters" yaml:"parameters"`
}

// Overlay returns a deep copy of the configuration with params written over
// its parameters. Dotted names address nested maps ("exit.stop_loss"). The
// receiver is never modified.
func (c StrategyConfig) Overlay(params ParameterSet) (StrategyConfig, error) {
	resolved := StrategyConfig{
		Name:       c.Name,
		Parameters: cloneMap(c.Parameters),
	}
	if resolved.Parameters == nil {
		resolved.Parameters = make(map[string]any, len(params))
	}

	for _, name := range params.Names() {
		path := strings.Split(name, ".")
		node := resolved.Parameters
		for _, key := range path[:len(path)-1] {
			next, exists := node[key]
			if !exists {
				child := make(map[string]any)
				node[key] = child
				node = child
				continue
			}
			child, ok := next.(map[string]any)
			if !ok {
				return StrategyConfig{}, errors.Configurationf("cannot set %q: %q is not a mapping", name, key).
					WithComponent("strategy_config").
					WithOperation("Overlay")
			}
			node = child
		}
		node[path[len(path)-1]] = params[name]
	}
	return resolved, nil
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}

// MetricName identifies a performance metric reported by the backtest.
type MetricName string

const (
	// MetricSharpeRatio is the annualized Sharpe ratio.
	MetricSharpeRatio MetricName = "sharpe_ratio"
	// MetricSortinoRatio is the annualized Sortino ratio.
	MetricSortinoRatio MetricName = "sortino_ratio"
	// MetricCalmarRatio is CAGR divided by maximum drawdown.
	MetricCalmarRatio MetricName = "calmar_ratio"
	// MetricProfitFactor is gross profit divided by gross loss.
	MetricProfitFactor MetricName = "profit_factor"
	// MetricTotalReturn is the total return in percent.
	MetricTotalReturn MetricName = "total_return_pct"
	// MetricMaxDrawdown is the maximum drawdown in percent (positive number).
	MetricMaxDrawdown MetricName = "max_drawdown_pct"
	// MetricWinRate is the percentage of winning trades.
	MetricWinRate MetricName = "win_rate"
	// MetricTradeCount is the number of closed trades.
	MetricTradeCount MetricName = "trade_count"
)

// Trade is one closed position from the backtest trade list.
type Trade struct {
	Symbol    string    `json:"symbol"`
	Side      string    `json:"side,omitempty"`
	EntryTime time.Time `json:"entry_time"`
	ExitTime  time.Time `json:"exit_time"`
	PnL       float64   `json:"pnl"`
	PnLPct    float64   `json:"pnl_pct,omitempty"`
}

// HoldDays returns the holding period of the trade in days.
func (t Trade) HoldDays() float64 {
	return t.ExitTime.Sub(t.EntryTime).Hours() / 24
}

// TradeDurationStats summarizes holding periods against a target window.
type TradeDurationStats struct {
	// AvgTradeDurationDays is the mean holding period in days.
	AvgTradeDurationDays float64 `json:"avg_trade_duration"`
	// PctTradesInTargetHoldPeriod is the share of trades whose holding period
	// falls inside the target window, in percent (0-100).
	PctTradesInTargetHoldPeriod float64 `json:"pct_trades_in_target_hold_period"`
	// TradeCount is the number of trades the statistics were computed from.
	TradeCount int `json:"trade_count"`
}

// AnalysisResult is the structured output of one backtest.
type AnalysisResult struct {
	Metrics        map[MetricName]float64 `json:"metrics"`
	Trades         []Trade                `json:"trades,omitempty"`
	TradeDurations *TradeDurationStats    `json:"trade_durations,omitempty"`
}

// Metric returns a performance metric. Missing or non-finite metrics are a
// BacktestError; the optimizer never substitutes a default.
func (r *AnalysisResult) Metric(name MetricName) (float64, error) {
	if r == nil {
		return 0, errors.Backtest("backtest returned no analysis result")
	}
	v, ok := r.Metrics[name]
	if !ok {
		return 0, errors.Backtestf("analysis result is missing metric %q", name)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errors.Backtestf("metric %q is not finite (%v)", name, v)
	}
	return v, nil
}
