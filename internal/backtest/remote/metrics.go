package remote

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker"
)

type clientMetrics struct {
	state    prometheus.Gauge
	requests *prometheus.CounterVec
}

func newClientMetrics(reg prometheus.Registerer) *clientMetrics {
	factory := promauto.With(reg)
	return &clientMetrics{
		state: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "stratopt",
			Name:      "backtest_breaker_state",
			Help:      "Backtest circuit breaker state (0=closed, 1=half_open, 2=open)",
		}),
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stratopt",
			Name:      "backtest_requests_total",
			Help:      "Total number of backtest service requests by result",
		}, []string{"result"}),
	}
}

func (m *clientMetrics) setState(s gobreaker.State) {
	m.state.Set(float64(s))
}
