// Package metrics collects and exposes the Prometheus metrics of the
// attendance scheduler.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is what the gate reports to.
type Recorder interface {
	RecordCycle(trigger string)
	RecordAction(kind, outcome string)
	RecordSubmitLatency(duration time.Duration)
	RecordNotice(kind string)
	RecordCredentialInvalidation()
}

// Collector is the Prometheus implementation of Recorder.
type Collector struct {
	cycles        *prometheus.CounterVec
	actions       *prometheus.CounterVec
	submitLatency prometheus.Histogram
	notices       *prometheus.CounterVec
	invalidations prometheus.Counter
}

// NewCollector creates a Collector and registers it with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mawared_cycles_total",
			Help: "Number of gate cycles by trigger.",
		}, []string{"trigger"}),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mawared_actions_total",
			Help: "Per-kind gate decisions by outcome.",
		}, []string{"kind", "outcome"}),
		submitLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mawared_submit_latency_seconds",
			Help:    "Latency of attendance submissions.",
			Buckets: prometheus.DefBuckets,
		}),
		notices: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mawared_notices_total",
			Help: "Deduplicated notices emitted by kind.",
		}, []string{"kind"}),
		invalidations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mawared_credential_invalidations_total",
			Help: "Credential cache invalidations after authentication rejections.",
		}),
	}

	reg.MustRegister(
		c.cycles,
		c.actions,
		c.submitLatency,
		c.notices,
		c.invalidations,
	)
	return c
}

func (c *Collector) RecordCycle(trigger string) {
	c.cycles.WithLabelValues(trigger).Inc()
}

func (c *Collector) RecordAction(kind, outcome string) {
	c.actions.WithLabelValues(kind, outcome).Inc()
}

func (c *Collector) RecordSubmitLatency(duration time.Duration) {
	c.submitLatency.Observe(duration.Seconds())
}

func (c *Collector) RecordNotice(kind string) {
	c.notices.WithLabelValues(kind).Inc()
}

func (c *Collector) RecordCredentialInvalidation() {
	c.invalidations.Inc()
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordCycle(string) {}
func (Nop) RecordAction(string, string) {}
func (Nop) RecordSubmitLatency(time.Duration) {}
func (Nop) RecordNotice(string) {}
func (Nop) RecordCredentialInvalidation() {}

// Handler returns the HTTP handler for Prometheus scrapes.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
