package optimization

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/stratopt/internal/errors"
)

func score(v float64) *float64 { return &v }

func sampleResult() *OptimizationResult {
	trials := []Trial{
		{ID: 0, Status: TrialSucceeded, Score: score(1.0)},
		{ID: 1, Status: TrialFailed, ErrorKind: errors.KindData},
		{ID: 2, Status: TrialSucceeded, Score: score(2.5)},
		{ID: 3, Status: TrialSucceeded, Score: score(2.5)},
		{ID: 4, Status: TrialFailed, ErrorKind: errors.KindBacktest},
		{ID: 5, Status: TrialFailed, ErrorKind: errors.KindData},
	}
	return &OptimizationResult{
		AllTrials:   trials,
		TotalTrials: len(trials),
		ErrorSummary: map[errors.Kind]int{
			errors.KindData:     2,
			errors.KindBacktest: 1,
		},
	}
}

func TestParseAlgorithm(t *testing.T) {
	alg, err := ParseAlgorithm("GridSearch")
	require.NoError(t, err)
	assert.Equal(t, AlgorithmGridSearch, alg)

	alg, err = ParseAlgorithm("RandomSearch")
	require.NoError(t, err)
	assert.Equal(t, AlgorithmRandomSearch, alg)

	_, err = ParseAlgorithm("gridsearch")
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindConfiguration))
	assert.Contains(t, err.Error(), "GridSearch")
}

func TestResultCounts(t *testing.T) {
	res := sampleResult()
	assert.Equal(t, 3, res.SucceededCount())
	assert.Equal(t, 3, res.FailedCount())
}

func TestTopTrials(t *testing.T) {
	res := sampleResult()

	top := res.TopTrials(2)
	require.Len(t, top, 2)
	assert.Equal(t, 2, top[0].ID, "ties keep the earlier trial first")
	assert.Equal(t, 3, top[1].ID)

	all := res.TopTrials(-1)
	require.Len(t, all, 3)
	assert.Equal(t, 0, all[2].ID)
}

func TestFailureSummary(t *testing.T) {
	res := sampleResult()
	assert.Equal(t, []string{
		"2/6 trials failed with DataError",
		"1/6 trials failed with BacktestError",
	}, res.FailureSummary())

	assert.Empty(t, (&OptimizationResult{TotalTrials: 3}).FailureSummary())
}

func TestComputeScoreStats(t *testing.T) {
	stats := ComputeScoreStats(sampleResult().AllTrials)
	assert.Equal(t, 3, stats.Count)
	assert.InDelta(t, 2.0, stats.Mean, 1e-9)
	assert.InDelta(t, 1.0, stats.Min, 1e-9)
	assert.InDelta(t, 2.5, stats.Max, 1e-9)
	assert.InDelta(t, 0.8660254, stats.StdDev, 1e-6)

	single := ComputeScoreStats([]Trial{{Status: TrialSucceeded, Score: score(-0.5)}})
	assert.Equal(t, ScoreStats{Count: 1, Mean: -0.5, Min: -0.5, Max: -0.5}, single)

	assert.Equal(t, ScoreStats{}, ComputeScoreStats(nil))
}

func TestTrialScoreValue(t *testing.T) {
	var nilTrial *Trial
	_, ok := nilTrial.ScoreValue()
	assert.False(t, ok)

	failed := &Trial{Status: TrialFailed, Score: score(1)}
	_, ok = failed.ScoreValue()
	assert.False(t, ok)

	v, ok := (&Trial{Status: TrialSucceeded, Score: score(1.5)}).ScoreValue()
	assert.True(t, ok)
	assert.Equal(t, 1.5, v)
}

func TestParameterSetKeyAndString(t *testing.T) {
	a := ParameterSet{"slow_ma": 20, "fast_ma": 5}
	b := ParameterSet{"fast_ma": 5, "slow_ma": 20}
	c := ParameterSet{"fast_ma": 5.0, "slow_ma": 20}

	assert.Equal(t, a.Key(), b.Key())
	assert.NotEqual(t, a.Key(), c.Key(), "int and float values must not collide")
	assert.Equal(t, "{fast_ma: 5, slow_ma: 20}", a.String())
	assert.Equal(t, "{fast_ma: 0.25}", ParameterSet{"fast_ma": 0.25}.String())

	clone := a.Clone()
	clone["fast_ma"] = 7
	assert.Equal(t, 5, a["fast_ma"])
}

func TestParamGetters(t *testing.T) {
	params := map[string]any{
		"int":       3,
		"whole":     4.0,
		"frac":      4.5,
		"str":       "x",
		"seed":      "123",
		"flag":      true,
		"weight":    2,
		"nan_value": nil,
	}

	n, err := IntParam(params, "int", 0)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = IntParam(params, "whole", 0)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	n, err = IntParam(params, "missing", 9)
	require.NoError(t, err)
	assert.Equal(t, 9, n)

	n, err = IntParam(params, "nan_value", 9)
	require.NoError(t, err)
	assert.Equal(t, 9, n)

	_, err = IntParam(params, "frac", 0)
	assert.True(t, errors.IsKind(err, errors.KindConfiguration))

	_, err = IntParam(params, "str", 0)
	assert.True(t, errors.IsKind(err, errors.KindConfiguration))

	seed, err := Int64Param(params, "seed", 42)
	require.NoError(t, err)
	assert.Equal(t, int64(123), seed)

	seed, err = Int64Param(params, "missing", 42)
	require.NoError(t, err)
	assert.Equal(t, int64(42), seed)

	_, err = Int64Param(params, "str", 42)
	assert.True(t, errors.IsKind(err, errors.KindConfiguration))

	f, err := FloatParam(params, "weight", 1)
	require.NoError(t, err)
	assert.Equal(t, 2.0, f)

	_, err = FloatParam(params, "str", 1)
	assert.True(t, errors.IsKind(err, errors.KindConfiguration))

	b, err := BoolParam(params, "flag", false)
	require.NoError(t, err)
	assert.True(t, b)

	_, err = BoolParam(params, "int", false)
	assert.True(t, errors.IsKind(err, errors.KindConfiguration))

	assert.NoError(t, RequireParam(params, "int"))
	assert.True(t, errors.IsKind(RequireParam(params, "nope"), errors.KindConfiguration))
}
