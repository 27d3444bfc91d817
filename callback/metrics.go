package callback

import "github.com/prometheus/client_golang/prometheus"

// Callback outcomes.
const (
	OutcomeAccepted  = "accepted"
	OutcomeDuplicate = "duplicate"
	OutcomeRejected  = "rejected"
	OutcomeNoPending = "no_pending"
	OutcomeError     = "error"
)

// Metrics counts callbacks by source and outcome.
type Metrics struct {
	callbacks *prometheus.CounterVec
}

// NewMetrics creates the gateway counters and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		callbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskflow_callbacks_total",
			Help: "Callbacks received, by source and outcome.",
		}, []string{"source", "outcome"}),
	}
	if reg != nil {
		reg.MustRegister(m.callbacks)
	}
	return m
}

func (m *Metrics) record(source, outcome string) {
	if m == nil {
		return
	}
	m.callbacks.WithLabelValues(source, outcome).Inc()
}
