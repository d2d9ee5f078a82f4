// Package metrics exposes fetch and publish counters to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
)

const namespace = "proxyfetch"

// Collector implements fetch.Observer and publish.Observer on a private
// registry.
type Collector struct {
	attempts        *prometheus.CounterVec
	attemptDuration *prometheus.HistogramVec
	pauses          prometheus.Counter
	exhausted       prometheus.Counter
	published       *prometheus.CounterVec

	registry *prometheus.Registry
}

// New registers the collectors on reg. A nil reg gets a fresh registry.
func New(reg *prometheus.Registry) (*Collector, error) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	c := &Collector{
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "attempts_total",
			Help:      "Strategy dispatches by outcome.",
		}, []string{"strategy", "outcome"}),
		attemptDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "attempt_duration_seconds",
			Help:      "Time spent in one strategy dispatch.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"strategy"}),
		pauses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "pauses_total",
			Help:      "Pauses taken after a round in which every strategy failed.",
		}),
		exhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "exhausted_total",
			Help:      "Fetches that ran out of rounds without a 200.",
		}),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "publish",
			Name:      "messages_total",
			Help:      "Broker publishes by outcome.",
		}, []string{"outcome"}),
		registry: reg,
	}

	for _, col := range []prometheus.Collector{c.attempts, c.attemptDuration, c.pauses, c.exhausted, c.published} {
		if err := reg.Register(col); err != nil {
			return nil, eris.Wrap(err, "metrics: register collector")
		}
	}
	return c, nil
}

// ObserveAttempt counts one dispatch.
func (c *Collector) ObserveAttempt(strategy, outcome string, elapsed time.Duration) {
	c.attempts.WithLabelValues(strategy, outcome).Inc()
	c.attemptDuration.WithLabelValues(strategy).Observe(elapsed.Seconds())
}

// ObservePause counts one inter-round pause.
func (c *Collector) ObservePause() { c.pauses.Inc() }

// ObserveExhausted counts one terminal failure.
func (c *Collector) ObserveExhausted() { c.exhausted.Inc() }

// ObservePublish counts one publish outcome.
func (c *Collector) ObservePublish(outcome string) {
	c.published.WithLabelValues(outcome).Inc()
}

// PublishTotals returns the publish counters keyed by outcome.
func (c *Collector) PublishTotals() (map[string]float64, error) {
	families, err := c.registry.Gather()
	if err != nil {
		return nil, eris.Wrap(err, "metrics: gather")
	}

	totals := make(map[string]float64)
	for _, mf := range families {
		if mf.GetName() != namespace+"_publish_messages_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "outcome" {
					totals[lp.GetValue()] += m.GetCounter().GetValue()
				}
			}
		}
	}
	return totals, nil
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
