// Package metrics collects Prometheus telemetry for capability host calls,
// guest invocations on adopted instantiations and capability linking.
//
// A nil *Collector is valid and records nothing, so callers never need to
// check whether metrics are enabled.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector provides run metrics collection.
type Collector struct {
	registry *prometheus.Registry

	hostCalls    *prometheus.CounterVec
	hostLatency  *prometheus.HistogramVec
	guestCalls   *prometheus.CounterVec
	guestLatency *prometheus.HistogramVec
	linked       *prometheus.CounterVec
	builds       prometheus.Counter
}

// NewCollector creates a collector registered on its own registry.
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = "capsule"
	}

	c := &Collector{registry: prometheus.NewRegistry()}

	c.hostCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "host",
			Name:      "calls_total",
			Help:      "Host function calls made by guest code",
		},
		[]string{"scheme", "fn", "status"},
	)
	c.hostLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "host",
			Name:      "call_duration_seconds",
			Help:      "Host function call latency",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"scheme", "fn"},
	)
	c.guestCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "guest",
			Name:      "calls_total",
			Help:      "Calls from capabilities into guest exports",
		},
		[]string{"export", "status"},
	)
	c.guestLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "guest",
			Name:      "call_duration_seconds",
			Help:      "Guest export call latency, including time spent waiting for the instance lock",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"export"},
	)
	c.linked = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "capability",
			Name:      "linked_total",
			Help:      "Capabilities linked into environments",
		},
		[]string{"scheme"},
	)
	c.builds = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "environment",
			Name:      "builds_total",
			Help:      "Environments built",
		},
	)

	c.registry.MustRegister(
		c.hostCalls,
		c.hostLatency,
		c.guestCalls,
		c.guestLatency,
		c.linked,
		c.builds,
	)

	return c
}

// ObserveHostCall records a guest-to-host call.
func (c *Collector) ObserveHostCall(scheme, fn string, d time.Duration, err error) {
	if c == nil {
		return
	}
	c.hostCalls.WithLabelValues(scheme, fn, status(err)).Inc()
	c.hostLatency.WithLabelValues(scheme, fn).Observe(d.Seconds())
}

// ObserveGuestCall records a host-to-guest call.
func (c *Collector) ObserveGuestCall(export string, d time.Duration, err error) {
	if c == nil {
		return
	}
	c.guestCalls.WithLabelValues(export, status(err)).Inc()
	c.guestLatency.WithLabelValues(export).Observe(d.Seconds())
}

// CapabilityLinked records that a capability was linked into an environment.
func (c *Collector) CapabilityLinked(scheme string) {
	if c == nil {
		return
	}
	c.linked.WithLabelValues(scheme).Inc()
}

// EnvironmentBuilt records a completed environment build.
func (c *Collector) EnvironmentBuilt() {
	if c == nil {
		return
	}
	c.builds.Inc()
}

// Registry returns the underlying Prometheus registry.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler returns an HTTP handler exposing the collected metrics.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
