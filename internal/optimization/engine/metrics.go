package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/copyleftdev/stratopt/internal/optimization"
)

const metricsNamespace = "stratopt"

// Metrics holds the Prometheus collectors updated by the engine. A nil
// *Metrics records nothing.
type Metrics struct {
	trials     *prometheus.CounterVec
	duration   prometheus.Histogram
	bestScore  prometheus.Gauge
	runs       *prometheus.CounterVec
	inProgress prometheus.Gauge
}

// NewMetrics creates the engine collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		trials: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "trials_total",
			Help:      "Total number of optimization trials by status and error kind",
		}, []string{"status", "error_kind"}),
		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "trial_duration_seconds",
			Help:      "Wall clock duration of optimization trials",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}),
		bestScore: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "best_score",
			Help:      "Best objective score of the most recently improved run",
		}),
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "runs_total",
			Help:      "Total number of optimization runs by outcome",
		}, []string{"outcome"}),
		inProgress: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "runs_in_progress",
			Help:      "Number of optimization runs currently executing",
		}),
	}
}

func (m *Metrics) observeTrial(t optimization.Trial) {
	if m == nil {
		return
	}
	m.trials.WithLabelValues(string(t.Status), string(t.ErrorKind)).Inc()
	m.duration.Observe(t.Duration.Seconds())
}

func (m *Metrics) observeBest(score float64) {
	if m == nil {
		return
	}
	m.bestScore.Set(score)
}

func (m *Metrics) runStarted() {
	if m == nil {
		return
	}
	m.inProgress.Inc()
}

func (m *Metrics) runFinished(state State) {
	if m == nil {
		return
	}
	m.inProgress.Dec()
	m.runs.WithLabelValues(string(state)).Inc()
}

func (m *Metrics) runRejected() {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(string(StateFailed)).Inc()
}
