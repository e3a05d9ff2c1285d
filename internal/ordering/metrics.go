package ordering

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts envelope acceptance outcomes. A nil *Metrics is valid
// and records nothing, so the pure core stays usable without a registry.
type Metrics struct {
	acceptedTotal prometheus.Counter
	rejectedTotal *prometheus.CounterVec
}

// NewMetrics creates acceptance metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		acceptedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trustclock_envelopes_accepted_total",
			Help: "Envelopes accepted after verification and merge.",
		}),
		rejectedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trustclock_envelopes_rejected_total",
			Help: "Envelopes rejected during verification, by reason.",
		}, []string{"reason"}),
	}
	if reg != nil {
		reg.MustRegister(m.acceptedTotal, m.rejectedTotal)
	}
	return m
}

func (m *Metrics) accepted() {
	if m == nil {
		return
	}
	m.acceptedTotal.Inc()
}

func (m *Metrics) rejected(reason string) {
	if m == nil {
		return
	}
	m.rejectedTotal.WithLabelValues(reason).Inc()
}
