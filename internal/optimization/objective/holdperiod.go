package objective

import (
	"github.com/copyleftdev/stratopt/internal/errors"
	"github.com/copyleftdev/stratopt/internal/optimization"
)

// Objective params read by SharpeWithHoldPeriodConstraint.
const (
	ParamMinHoldDays   = "min_hold_days"
	ParamMaxHoldDays   = "max_hold_days"
	ParamPenaltyWeight = "penalty_weight"
)

// DefaultPenaltyWeight scales the fraction of trades outside the window.
const DefaultPenaltyWeight = 1.0

type holdWindow struct {
	minDays float64
	maxDays float64
	weight  float64
}

func parseHoldWindow(params map[string]any) (holdWindow, error) {
	var w holdWindow
	for _, key := range []string{ParamMinHoldDays, ParamMaxHoldDays} {
		if err := optimization.RequireParam(params, key); err != nil {
			return w, err
		}
	}
	var err error
	if w.minDays, err = optimization.FloatParam(params, ParamMinHoldDays, 0); err != nil {
		return w, err
	}
	if w.maxDays, err = optimization.FloatParam(params, ParamMaxHoldDays, 0); err != nil {
		return w, err
	}
	if w.weight, err = optimization.FloatParam(params, ParamPenaltyWeight, DefaultPenaltyWeight); err != nil {
		return w, err
	}
	switch {
	case w.minDays < 0:
		return w, errors.Configurationf("%s must not be negative, got %v", ParamMinHoldDays, w.minDays)
	case w.maxDays < w.minDays:
		return w, errors.Configurationf("%s (%v) must not be less than %s (%v)", ParamMaxHoldDays, w.maxDays, ParamMinHoldDays, w.minDays)
	case w.weight < 0:
		return w, errors.Configurationf("%s must not be negative, got %v", ParamPenaltyWeight, w.weight)
	}
	return w, nil
}

func validateHoldPeriodParams(params map[string]any) error {
	_, err := parseHoldWindow(params)
	return err
}

// scoreSharpeWithHoldPeriod subtracts weight * fraction of trades outside
// [min_hold_days, max_hold_days] from the sharpe ratio. A result with no trade
// inside the window fails.
//
// Statistics are computed from the trade list when present, otherwise the
// precomputed trade duration statistics of the result are used.
func scoreSharpeWithHoldPeriod(result *optimization.AnalysisResult, params map[string]any) (float64, error) {
	w, err := parseHoldWindow(params)
	if err != nil {
		return 0, errors.Wrap(errors.KindConfiguration, err, "hold period params").WithComponent("objective")
	}

	sharpe, err := result.Metric(optimization.MetricSharpeRatio)
	if err != nil {
		return 0, err
	}

	stats := optimization.HoldPeriodStats(result.Trades, w.minDays, w.maxDays)
	if stats == nil {
		stats = result.TradeDurations
	}
	if stats == nil {
		return 0, errors.Backtest("analysis result has no trade duration statistics").WithComponent("objective")
	}

	pct := stats.PctTradesInTargetHoldPeriod
	if pct < 0 || pct > 100 {
		return 0, errors.Backtestf("pct_trades_in_target_hold_period out of range: %v", pct).WithComponent("objective")
	}
	if pct == 0 {
		return 0, errors.Backtest("no trades within target hold period").WithComponent("objective")
	}

	outside := 1 - pct/100
	return sharpe - w.weight*outside, nil
}
