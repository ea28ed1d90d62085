package runtime

import (
	stderrors "errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Call outcomes recorded by Metrics
const (
	outcomeOK           = "ok"
	outcomeAllocation   = "allocation"
	outcomeTrap         = "trap"
	outcomeInvalidUTF8  = "invalid_utf8"
	outcomeCleanupError = "cleanup"
	outcomeOther        = "error"
)

// Metrics records bridge activity in prometheus
type Metrics struct {
	calls        *prometheus.CounterVec
	reallocs     prometheus.Counter
	encodedBytes prometheus.Counter
	outstanding  prometheus.Gauge
}

// NewMetrics creates bridge metrics and registers them with reg.
// Collectors already registered by another runtime are shared.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bessy_bridge",
			Name:      "calls_total",
			Help:      "guest entry point calls by entry and outcome",
		}, []string{"entry", "outcome"}),
		reallocs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bessy_bridge",
			Name:      "reallocations_total",
			Help:      "guest reallocations made while encoding strings",
		}),
		encodedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bessy_bridge",
			Name:      "encoded_bytes_total",
			Help:      "UTF-8 bytes written into guest memory",
		}),
		outstanding: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "bessy_bridge",
			Name:      "outstanding_allocations",
			Help:      "guest blocks owned by the host after the last call",
		}),
	}

	var err error
	if m.calls, err = register(reg, "calls counter", m.calls); err != nil {
		return nil, err
	}
	if m.reallocs, err = register(reg, "reallocations counter", m.reallocs); err != nil {
		return nil, err
	}
	if m.encodedBytes, err = register(reg, "encoded bytes counter", m.encodedBytes); err != nil {
		return nil, err
	}
	if m.outstanding, err = register(reg, "outstanding allocations gauge", m.outstanding); err != nil {
		return nil, err
	}
	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, name string, c C) (C, error) {
	err := reg.Register(c)
	if err == nil {
		return c, nil
	}
	var are prometheus.AlreadyRegisteredError
	if stderrors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(C); ok {
			return existing, nil
		}
	}
	return c, fmt.Errorf("cannot register %s: %w", name, err)
}

func (m *Metrics) observe(entry, outcome string, reallocs int, encoded int, outstanding int) {
	if m == nil {
		return
	}
	m.calls.WithLabelValues(entry, outcome).Inc()
	m.reallocs.Add(float64(reallocs))
	m.encodedBytes.Add(float64(encoded))
	m.outstanding.Set(float64(outstanding))
}
