// Package metrics exports controller state as Prometheus metrics.
package metrics

import (
	"math"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/copyleftdev/adaiter/internal/optimization/adaptive"
)

const namespace = "adaiter"

// Collector tracks per-session controller state.
type Collector struct {
	iterTerm  *prometheus.GaugeVec
	best      *prometheus.GaugeVec
	badEpochs *prometheus.GaugeVec
	steps     *prometheus.CounterVec
	increases *prometheus.CounterVec
	stops     *prometheus.CounterVec
}

// NewCollector creates the collectors and registers them with reg.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		iterTerm: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "iter_term",
			Help:      "Current iteration budget per session.",
		}, []string{"session"}),
		best: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "best_metric",
			Help:      "Best metric observed per session.",
		}, []string{"session"}),
		badEpochs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "bad_epochs",
			Help:      "Consecutive non-improving observations per session.",
		}, []string{"session"}),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_total",
			Help:      "Metric observations processed per session.",
		}, []string{"session"}),
		increases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "increases_total",
			Help:      "Iteration budget increases per session.",
		}, []string{"session"}),
		stops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stops_total",
			Help:      "Early stops per session and reason.",
		}, []string{"session", "reason"}),
	}

	for _, col := range []prometheus.Collector{c.iterTerm, c.best, c.badEpochs, c.steps, c.increases, c.stops} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Observe records one step of session id, given the state before and after.
func (c *Collector) Observe(id string, prev, cur adaptive.State) {
	c.steps.WithLabelValues(id).Inc()
	c.iterTerm.WithLabelValues(id).Set(cur.IterTerm)
	c.badEpochs.WithLabelValues(id).Set(float64(cur.NumBadEpochs))
	if !math.IsInf(cur.Best, 0) && !math.IsNaN(cur.Best) {
		c.best.WithLabelValues(id).Set(cur.Best)
	}
	if cur.IterTerm > prev.IterTerm {
		c.increases.WithLabelValues(id).Inc()
	}
	if cur.ShouldStop && !prev.ShouldStop {
		c.stops.WithLabelValues(id, cur.StopReason.String()).Inc()
	}
}

// Forget drops every series of session id.
func (c *Collector) Forget(id string) {
	labels := prometheus.Labels{"session": id}
	c.iterTerm.DeletePartialMatch(labels)
	c.best.DeletePartialMatch(labels)
	c.badEpochs.DeletePartialMatch(labels)
	c.steps.DeletePartialMatch(labels)
	c.increases.DeletePartialMatch(labels)
	c.stops.DeletePartialMatch(labels)
}
