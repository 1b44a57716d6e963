// Package metrics exposes relay counters in the Prometheus text format.
//
// Metrics implements the dispatch and registration observer interfaces, so
// the engine and manager report to it without importing Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/pushrelay/internal/device"
	"github.com/nerrad567/pushrelay/internal/dispatch"
	"github.com/nerrad567/pushrelay/internal/ratelimit"
)

const namespace = "pushrelay"

// Metrics holds the relay's collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	registrations    *prometheus.CounterVec
	dispatches       *prometheus.CounterVec
	messagesAttempt  prometheus.Counter
	messagesDeliver  prometheus.Counter
	invalidTokens    prometheus.Counter
	deliveryErrors   prometheus.Counter
	dispatchDuration prometheus.Histogram
}

// New creates the collectors, plus Go runtime and process collectors.
func New(version string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	factory.NewGauge(prometheus.GaugeOpts{
		Namespace:   namespace,
		Name:        "build_info",
		Help:        "Build information.",
		ConstLabels: prometheus.Labels{"version": version},
	}).Set(1)

	m := &Metrics{
		registry: reg,
		registrations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registrations_total",
			Help:      "Device registrations by push network.",
		}, []string{"network"}),
		dispatches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatches_total",
			Help:      "Dispatch requests by outcome.",
		}, []string{"outcome"}),
		messagesAttempt: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_attempted_total",
			Help:      "Per-device message deliveries attempted.",
		}),
		messagesDeliver: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_delivered_total",
			Help:      "Per-device messages accepted by the broker.",
		}),
		invalidTokens: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invalid_tokens_total",
			Help:      "Requested dispatch tokens with no listening device.",
		}),
		deliveryErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_errors_total",
			Help:      "Distinct delivery errors reported to origins.",
		}),
		dispatchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Time spent handling accepted dispatch requests.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	for _, n := range device.AllNetworks() {
		m.registrations.WithLabelValues(string(n))
	}
	return m
}

// ObserveDispatch implements dispatch.Observer.
func (m *Metrics) ObserveDispatch(s dispatch.Summary) {
	m.dispatches.WithLabelValues(s.Outcome).Inc()
	m.messagesAttempt.Add(float64(s.Attempted))
	m.messagesDeliver.Add(float64(s.Delivered))
	m.invalidTokens.Add(float64(s.InvalidTokens))
	m.deliveryErrors.Add(float64(s.Errors))
	if s.Outcome == "ok" || s.Outcome == "partial" {
		m.dispatchDuration.Observe(s.Duration.Seconds())
	}
}

// ObserveRegistration implements registration.Observer.
func (m *Metrics) ObserveRegistration(network string) {
	m.registrations.WithLabelValues(network).Inc()
}

// WatchLimiter exports the limiter's ceiling, tracked origin count and window start.
func (m *Metrics) WatchLimiter(l *ratelimit.WindowLimiter) {
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ratelimit_ceiling",
			Help:      "Messages an origin may send per rate window.",
		}, func() float64 { return float64(l.Ceiling()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ratelimit_tracked_origins",
			Help:      "Origins with a counter in the current rate window.",
		}, func() float64 { return float64(l.Stats().Origins) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ratelimit_window_start_seconds",
			Help:      "Start of the current rate window as a Unix time.",
		}, func() float64 {
			start := l.Stats().WindowStart
			if start.IsZero() {
				return 0
			}
			return float64(start.Unix())
		}),
	)
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
