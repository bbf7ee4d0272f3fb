package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/kunal/kernel-bench/pkg/measure"
)

// Metrics are the bench worker's Prometheus collectors. They live on their
// own registry so several workers can coexist in one process.
type Metrics struct {
	reg *prometheus.Registry

	// RunsTotal counts runs by kernel, variant and outcome ("ok", "invalid", "error").
	RunsTotal *prometheus.CounterVec

	// RepTime observes the per-launch time of every meta-sample. Buckets
	// span 1µs to ~16s.
	RepTime *prometheus.HistogramVec

	// Stability is the last (median-min)/min spread in percent.
	Stability *prometheus.GaugeVec
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		RunsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kernelbench_runs_total",
				Help: "Benchmark runs served by the worker, by outcome.",
			},
			[]string{"kernel", "optim", "status"},
		),
		RepTime: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kernelbench_rep_time_ms",
				Help:    "Per-launch device time of each meta-sample in milliseconds.",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 25),
			},
			[]string{"kernel", "optim"},
		),
		Stability: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "kernelbench_stability_percent",
				Help: "Spread of the median over the minimum of the last run, in percent.",
			},
			[]string{"kernel", "optim"},
		),
	}
}

// Registry exposes the collectors for scraping.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) observeRun(req Request, samples measure.SampleSet) {
	m.RunsTotal.WithLabelValues(req.Kernel, req.Optim, "ok").Inc()
	h := m.RepTime.WithLabelValues(req.Kernel, req.Optim)
	for _, s := range samples {
		h.Observe(s / float64(req.NRep))
	}
	sum, err := measure.Reduce(measure.Labels{Kernel: req.Kernel, Optim: req.Optim}, req.RunConfig, append(measure.SampleSet(nil), samples...))
	if err == nil && sum.StabilityDefined {
		m.Stability.WithLabelValues(req.Kernel, req.Optim).Set(sum.Stability)
	}
}

func (m *Metrics) observeFailure(req Request, status string) {
	m.RunsTotal.WithLabelValues(req.Kernel, req.Optim, status).Inc()
}
