package mps

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the prometheus collectors updated by Evolve.
type Metrics struct {
	Steps        prometheus.Counter
	Discarded    prometheus.Counter
	BondDim      prometheus.Gauge
	Energy       prometheus.Gauge
	Tau          prometheus.Gauge
	StepDuration prometheus.Histogram
}

// NewMetrics returns collectors registered on reg. A nil reg leaves them
// unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	m := &Metrics{
		Steps: f.NewCounter(prometheus.CounterOpts{
			Name: "ftdmrg_evolution_steps_total",
			Help: "Completed imaginary-time macro-steps",
		}),
		Discarded: f.NewCounter(prometheus.CounterOpts{
			Name: "ftdmrg_discarded_weight_total",
			Help: "Accumulated discarded weight of bond truncations",
		}),
		BondDim: f.NewGauge(prometheus.GaugeOpts{
			Name: "ftdmrg_max_bond_dimension",
			Help: "Largest bond dimension of the last macro-step",
		}),
		Energy: f.NewGauge(prometheus.GaugeOpts{
			Name: "ftdmrg_energy",
			Help: "Thermal energy estimate after the last macro-step",
		}),
		Tau: f.NewGauge(prometheus.GaugeOpts{
			Name: "ftdmrg_tau",
			Help: "Accumulated imaginary time of the ket",
		}),
		StepDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "ftdmrg_step_duration_seconds",
			Help:    "Wall time of one macro-step",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		}),
	}
	return m
}
