package core

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "verity"

// Metrics counts round outcomes.
type Metrics struct {
	RoundsOpened    prometheus.Counter
	RoundsFinalized *prometheus.CounterVec
	RoundsDiscarded prometheus.Counter
	VotesCast       prometheus.Counter
	ChainHeight     prometheus.Gauge
}

// NewMetrics builds the collectors and registers them with reg when it is
// not nil.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		RoundsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "rounds_opened_total",
			Help:      "Rounds opened.",
		}),
		RoundsFinalized: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "rounds_finalized_total",
			Help:      "Rounds finalized, by resolution path.",
		}, []string{"path"}),
		RoundsDiscarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "rounds_discarded_total",
			Help:      "Rounds that timed out without votes.",
		}),
		VotesCast: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "votes_cast_total",
			Help:      "Accepted votes.",
		}),
		ChainHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "chain_height",
			Help:      "Number of blocks in the chain, genesis included.",
		}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.RoundsOpened, m.RoundsFinalized, m.RoundsDiscarded, m.VotesCast, m.ChainHeight} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}
