// Package prometheus adapts github.com/prometheus/client_golang to the
// metrics.Registry contract.
package prometheus

import (
	promclient "github.com/prometheus/client_golang/prometheus"

	"github.com/fsvxavier/odbcengine/telemetry/metrics"
)

type registry struct {
	reg *promclient.Registry
}

// New creates a Registry backed by a dedicated prometheus.Registry (never
// the global DefaultRegisterer, so multiple engine sessions in one process
// don't collide on metric names).
func New() metrics.Registry {
	return registry{reg: promclient.NewRegistry()}
}

// Gatherer exposes the underlying prometheus.Gatherer for an HTTP /metrics
// handler set up by the caller; the engine itself never starts a server.
func (r registry) Gatherer() promclient.Gatherer { return r.reg }

func (r registry) Counter(name, help string, labels ...string) metrics.Counter {
	c := promclient.NewCounter(promclient.CounterOpts{Name: name, Help: help})
	r.reg.MustRegister(c)
	return counter{c}
}

func (r registry) Gauge(name, help string, labels ...string) metrics.Gauge {
	g := promclient.NewGauge(promclient.GaugeOpts{Name: name, Help: help})
	r.reg.MustRegister(g)
	return gauge{g}
}

func (r registry) Histogram(name, help string, buckets []float64, labels ...string) metrics.Histogram {
	if len(buckets) == 0 {
		buckets = promclient.DefBuckets
	}
	h := promclient.NewHistogram(promclient.HistogramOpts{Name: name, Help: help, Buckets: buckets})
	r.reg.MustRegister(h)
	return histogram{h}
}

type counter struct{ c promclient.Counter }

func (c counter) Inc()          { c.c.Inc() }
func (c counter) Add(v float64) { c.c.Add(v) }

type gauge struct{ g promclient.Gauge }

func (g gauge) Set(v float64) { g.g.Set(v) }
func (g gauge) Inc()          { g.g.Inc() }
func (g gauge) Dec()          { g.g.Dec() }

type histogram struct{ h promclient.Histogram }

func (h histogram) Observe(v float64) { h.h.Observe(v) }
