package objective

import (
	"math"

	"github.com/copyleftdev/stratopt/internal/errors"
	"github.com/copyleftdev/stratopt/internal/optimization"
)

// Builtins returns every built-in objective.
func Builtins() []Objective {
	return []Objective{
		metricObjective(SharpeRatio, optimization.MetricSharpeRatio, "risk-adjusted return"),
		metricObjective(SortinoRatio, optimization.MetricSortinoRatio, "downside risk-adjusted return"),
		metricObjective(CalmarRatio, optimization.MetricCalmarRatio, "return over maximum drawdown"),
		metricObjective(ProfitFactor, optimization.MetricProfitFactor, "gross profit over gross loss"),
		metricObjective(TotalReturn, optimization.MetricTotalReturn, "total return in percent"),
		metricObjective(WinRate, optimization.MetricWinRate, "share of winning trades in percent"),
		{
			Name:        MinimizeDrawdown,
			Description: "negated maximum drawdown",
			Score:       scoreMinimizeDrawdown,
		},
		{
			Name:        Balanced,
			Description: "0.4 sharpe + 0.3 win rate + 0.3 calmar",
			Score:       scoreBalanced,
		},
		{
			Name:        SharpeWithHoldPeriodConstraint,
			Description: "sharpe ratio penalized by trades held outside the target window",
			Score:       scoreSharpeWithHoldPeriod,
			Validate:    validateHoldPeriodParams,
		},
	}
}

func metricObjective(name Name, metric optimization.MetricName, desc string) Objective {
	return Objective{
		Name:        name,
		Description: desc,
		Score: func(result *optimization.AnalysisResult, _ map[string]any) (float64, error) {
			return result.Metric(metric)
		},
	}
}

func scoreMinimizeDrawdown(result *optimization.AnalysisResult, _ map[string]any) (float64, error) {
	dd, err := result.Metric(optimization.MetricMaxDrawdown)
	if err != nil {
		return 0, err
	}
	return -math.Abs(dd), nil
}

func scoreBalanced(result *optimization.AnalysisResult, _ map[string]any) (float64, error) {
	sharpe, err := result.Metric(optimization.MetricSharpeRatio)
	if err != nil {
		return 0, err
	}
	winRate, err := result.Metric(optimization.MetricWinRate)
	if err != nil {
		return 0, err
	}
	calmar, err := result.Metric(optimization.MetricCalmarRatio)
	if err != nil {
		return 0, err
	}
	return 0.4*math.Max(0, sharpe) + 0.3*(winRate/100) + 0.3*math.Max(0, calmar), nil
}

func checkFinite(name Name, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return errors.Backtestf("objective %s produced a non-finite score (%v)", name, v).WithComponent("objective")
	}
	return nil
}
