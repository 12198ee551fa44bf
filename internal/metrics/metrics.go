// Package metrics exposes the prometheus collectors for ref validation and
// shared store access.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DefaultNamespace prefixes every metric name unless configured otherwise.
const DefaultNamespace = "refguard"

// Shared store operation labels.
const (
	OpIsUpToDate    = "is_up_to_date"
	OpCompareAndPut = "compare_and_put"
	OpExists        = "exists"
	OpLockRef       = "lock_ref"
	OpRemove        = "remove"
	OpGet           = "get"
)

// Metrics holds the validation counters and shared store latency histogram.
// All methods are safe on a nil receiver.
type Metrics struct {
	SplitBrainPrevented prometheus.Counter
	SplitBrain          prometheus.Counter
	SharedDBLatency     *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered, which is what tests and library callers without a
// metrics endpoint want.
func New(reg prometheus.Registerer, namespace string) *Metrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	factory := promauto.With(reg)

	return &Metrics{
		SplitBrainPrevented: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "validation",
			Name:      "split_brain_prevented_total",
			Help:      "Ref updates refused because the local ref was out of sync with the shared store",
		}),
		SplitBrain: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "validation",
			Name:      "split_brain_total",
			Help:      "Local ref updates that could not be propagated to the shared store",
		}),
		SharedDBLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "shared_db",
			Name:      "operation_duration_seconds",
			Help:      "Latency of shared ref store operations in seconds",
			Buckets:   []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"op"}),
	}
}

func (m *Metrics) IncSplitBrainPrevented() {
	if m == nil {
		return
	}
	m.SplitBrainPrevented.Inc()
}

func (m *Metrics) IncSplitBrain() {
	if m == nil {
		return
	}
	m.SplitBrain.Inc()
}

// Time starts a latency measurement for op and returns the function that
// records it.
func (m *Metrics) Time(op string) func() {
	if m == nil {
		return func() {}
	}
	start := time.Now()
	return func() {
		m.SharedDBLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}
