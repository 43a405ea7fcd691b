// Package metrics exposes Prometheus metrics for the privacy manager.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once     sync.Once
	registry *Registry
)

// Registry holds all privacy metrics.
type Registry struct {
	// Interrupt path
	Interrupts            prometheus.Counter
	InterruptReadFailures prometheus.Counter
	Broadcasts            prometheus.Counter

	// Copy path
	BuffersZeroed prometheus.Counter
	InvalidStates prometheus.Counter

	// State
	StateTransitions *prometheus.CounterVec
	MicDisabled      prometheus.Gauge
	Policy           prometheus.Gauge

	// Archive
	ArchiveUploads *prometheus.CounterVec
}

// Get returns the global metrics registry, creating it if necessary.
func Get() *Registry {
	once.Do(func() {
		registry = newRegistry()
	})
	return registry
}

func newRegistry() *Registry {
	r := &Registry{}

	r.Interrupts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "micprivacy_interrupts_total",
		Help: "Firmware-managed privacy interrupts handled",
	})
	r.InterruptReadFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "micprivacy_interrupt_read_failures_total",
		Help: "Disable status reads that failed and were treated as muted",
	})
	r.Broadcasts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "micprivacy_broadcasts_total",
		Help: "Privacy settings snapshots broadcast to consumers",
	})

	r.BuffersZeroed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "micprivacy_buffers_zeroed_total",
		Help: "Capture buffers zeroed by the copy-time enforcer",
	})
	r.InvalidStates = promauto.NewCounter(prometheus.CounterOpts{
		Name: "micprivacy_invalid_state_total",
		Help: "Copy cycles that observed an unknown privacy state",
	})

	r.StateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "micprivacy_state_transitions_total",
		Help: "Privacy state transitions by target state",
	}, []string{"state"})
	r.MicDisabled = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "micprivacy_mic_disabled",
		Help: "Last disable status reported by the privacy port (1 = muted)",
	})
	r.Policy = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "micprivacy_policy",
		Help: "Resolved privacy policy (0 = hardware managed, 1 = firmware managed)",
	})

	r.ArchiveUploads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "micprivacy_archive_uploads_total",
		Help: "Event log archive uploads by result",
	}, []string{"result"})

	return r
}
