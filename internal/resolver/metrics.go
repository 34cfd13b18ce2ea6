package resolver

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	crateOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "voyager",
		Subsystem: "resolver",
		Name:      "crate_outcomes_total",
		Help:      "Crate resolution outcomes by final state and source (query or cache).",
	}, []string{"state", "source"})

	passDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "voyager",
		Subsystem: "resolver",
		Name:      "pass_duration_seconds",
		Help:      "Wall time of a full resolution pass.",
		Buckets:   prometheus.DefBuckets,
	})
)
