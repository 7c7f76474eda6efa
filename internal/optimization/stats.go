package optimization

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// ScoreStats summarizes the scores of succeeded trials.
type ScoreStats struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// ComputeScoreStats aggregates the scores of the succeeded trials.
func ComputeScoreStats(trials []Trial) ScoreStats {
	scores := make([]float64, 0, len(trials))
	for i := range trials {
		if s, ok := trials[i].ScoreValue(); ok {
			scores = append(scores, s)
		}
	}
	if len(scores) == 0 {
		return ScoreStats{}
	}

	stats := ScoreStats{
		Count: len(scores),
		Min:   floats.Min(scores),
		Max:   floats.Max(scores),
	}
	if len(scores) == 1 {
		stats.Mean = scores[0]
		return stats
	}
	stats.Mean, stats.StdDev = stat.MeanStdDev(scores, nil)
	return stats
}

// HoldPeriodStats computes holding period statistics for trades against the
// inclusive window [minDays, maxDays]. It returns nil when there are no trades.
func HoldPeriodStats(trades []Trade, minDays, maxDays float64) *TradeDurationStats {
	if len(trades) == 0 {
		return nil
	}

	days := make([]float64, len(trades))
	inWindow := 0
	for i, t := range trades {
		days[i] = t.HoldDays()
		if days[i] >= minDays && days[i] <= maxDays {
			inWindow++
		}
	}

	return &TradeDurationStats{
		AvgTradeDurationDays:        stat.Mean(days, nil),
		PctTradesInTargetHoldPeriod: 100 * float64(inWindow) / float64(len(trades)),
		TradeCount:                  len(trades),
	}
}
