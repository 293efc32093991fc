package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Command results used as the result label.
const (
	ResultAccepted = "accepted"
	ResultRejected = "rejected"
	ResultReplayed = "replayed"
	ResultError    = "error"
)

// Metrics holds the ledger collectors.
type Metrics struct {
	commands      *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	conflicts     *prometheus.CounterVec
	compensations *prometheus.CounterVec
}

// New creates the collectors and registers them with registerer. A nil
// registerer uses prometheus.DefaultRegisterer.
func New(registerer prometheus.Registerer) (*Metrics, error) {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_commands_total",
			Help: "Ledger commands handled, by aggregate type, command and result.",
		}, []string{"aggregate_type", "command", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ledger_command_duration_seconds",
			Help:    "Time spent executing a ledger command.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"aggregate_type", "command"}),
		conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_append_conflicts_total",
			Help: "Appends rejected because the aggregate version moved.",
		}, []string{"aggregate_type"}),
		compensations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_compensations_total",
			Help: "Compensating events appended after a failed cross-aggregate step.",
		}, []string{"operation"}),
	}
	for _, c := range []prometheus.Collector{m.commands, m.duration, m.conflicts, m.compensations} {
		if err := registerer.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ObserveCommand records one command outcome and its latency.
func (m *Metrics) ObserveCommand(aggregateType, command, result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(aggregateType, command, result).Inc()
	m.duration.WithLabelValues(aggregateType, command).Observe(elapsed.Seconds())
}

// AppendConflict records an optimistic append conflict.
func (m *Metrics) AppendConflict(aggregateType string) {
	if m == nil {
		return
	}
	m.conflicts.WithLabelValues(aggregateType).Inc()
}

// Compensation records a compensating append by coordinator operation.
func (m *Metrics) Compensation(operation string) {
	if m == nil {
		return
	}
	m.compensations.WithLabelValues(operation).Inc()
}
