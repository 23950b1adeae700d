package bridge

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the Prometheus collectors a Backend updates. A nil *Metrics
// is valid, and records nothing.
type Metrics struct {
	Iterations      prometheus.Counter
	SourcesReady    prometheus.Counter
	AcquireFailures prometheus.Counter
	FallbackReady   prometheus.Counter
	StagedOps       *prometheus.CounterVec
	Watches         *prometheus.GaugeVec
	Backends        prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg, if non-nil.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Iterations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "loopbridge",
			Name:      "iterations_total",
			Help:      "Dispatch cycles run by bridge backends.",
		}),
		SourcesReady: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "loopbridge",
			Name:      "sources_ready_total",
			Help:      "Dispatch cycles where the context reported ready sources.",
		}),
		AcquireFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "loopbridge",
			Name:      "acquire_failures_total",
			Help:      "Dispatch cycles skipped because the context could not be acquired.",
		}),
		FallbackReady: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "loopbridge",
			Name:      "fallback_ready_total",
			Help:      "Readiness reports produced by the fallback prober.",
		}),
		StagedOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loopbridge",
			Name:      "staged_ops_total",
			Help:      "Descriptor operations staged by non-owner goroutines.",
		}, []string{"op"}),
		Watches: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "loopbridge",
			Name:      "watches",
			Help:      "Tracked descriptor watches.",
		}, []string{"mode"}),
		Backends: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "loopbridge",
			Name:      "backends",
			Help:      "Backends created and not yet freed.",
		}),
	}
	if reg != nil {
		for _, c := range []prometheus.Collector{
			m.Iterations,
			m.SourcesReady,
			m.AcquireFailures,
			m.FallbackReady,
			m.StagedOps,
			m.Watches,
			m.Backends,
		} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) iteration() {
	if m != nil {
		m.Iterations.Inc()
	}
}

func (m *Metrics) sourcesReady() {
	if m != nil {
		m.SourcesReady.Inc()
	}
}

func (m *Metrics) acquireFailure() {
	if m != nil {
		m.AcquireFailures.Inc()
	}
}

func (m *Metrics) fallbackReady(n int) {
	if m != nil && n > 0 {
		m.FallbackReady.Add(float64(n))
	}
}

func (m *Metrics) staged(op string) {
	if m != nil {
		m.StagedOps.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) watch(native bool, delta int) {
	if m == nil {
		return
	}
	mode := "fallback"
	if native {
		mode = "native"
	}
	m.Watches.WithLabelValues(mode).Add(float64(delta))
}

func (m *Metrics) backend(delta int) {
	if m != nil {
		m.Backends.Add(float64(delta))
	}
}
