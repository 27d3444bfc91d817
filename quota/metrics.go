package quota

import "github.com/prometheus/client_golang/prometheus"

// Operation outcomes.
const (
	OutcomeOK           = "ok"
	OutcomeDuplicate    = "duplicate"
	OutcomeNoop         = "noop"
	OutcomeInsufficient = "insufficient"
	OutcomeError        = "error"
)

// Metrics holds the ledger's Prometheus collectors.
type Metrics struct {
	operations *prometheus.CounterVec
	reserved   prometheus.Gauge
	sweeps     *prometheus.CounterVec
}

// NewMetrics creates the ledger collectors and registers them on reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskflow_quota_operations_total",
				Help: "Quota ledger operations by operation and outcome",
			},
			[]string{"op", "outcome"},
		),
		reserved: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "taskflow_quota_reserved_amount",
				Help: "Amount held by reservations this process opened and has not yet resolved",
			},
		),
		sweeps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskflow_quota_reconciled_total",
				Help: "Stale reservations resolved by the reconciler, by action",
			},
			[]string{"action"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.operations, m.reserved, m.sweeps)
	}
	return m
}

func (m *Metrics) recordOperation(op, outcome string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(op, outcome).Inc()
}

func (m *Metrics) addReserved(amount int64) {
	if m == nil {
		return
	}
	m.reserved.Add(float64(amount))
}

func (m *Metrics) recordSweep(action string) {
	if m == nil {
		return
	}
	m.sweeps.WithLabelValues(action).Inc()
}
