package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveCommandCountsByResult(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}
	m.ObserveCommand("pallet", "pallet.reserve", ResultAccepted, 2*time.Millisecond)
	m.ObserveCommand("pallet", "pallet.reserve", ResultRejected, time.Millisecond)
	m.ObserveCommand("pallet", "pallet.reserve", ResultAccepted, time.Millisecond)

	if got := testutil.ToFloat64(m.commands.WithLabelValues("pallet", "pallet.reserve", ResultAccepted)); got != 2 {
		t.Fatalf("accepted = %v, want 2", got)
	}
	if got := testutil.CollectAndCount(m.duration); got != 1 {
		t.Fatalf("duration series = %d, want 1", got)
	}
}

func TestConflictAndCompensationCounters(t *testing.T) {
	m, err := New(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}
	m.AppendConflict("stockpile")
	m.Compensation("add_input")
	m.Compensation("add_input")

	if got := testutil.ToFloat64(m.conflicts.WithLabelValues("stockpile")); got != 1 {
		t.Fatalf("conflicts = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.compensations.WithLabelValues("add_input")); got != 2 {
		t.Fatalf("compensations = %v, want 2", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveCommand("pallet", "pallet.create", ResultAccepted, time.Millisecond)
	m.AppendConflict("pallet")
	m.Compensation("reserve")
}

func TestNewRejectsDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := New(reg); err != nil {
		t.Fatalf("first registration: %v", err)
	}
	if _, err := New(reg); err == nil {
		t.Fatal("expected duplicate registration error")
	}
}
