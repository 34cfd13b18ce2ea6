package querydb

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	recomputations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "voyager",
		Subsystem: "querydb",
		Name:      "recomputations_total",
		Help:      "Number of query recomputations by query ID.",
	}, []string{"query"})

	cacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "voyager",
		Subsystem: "querydb",
		Name:      "cache_hits_total",
		Help:      "Number of query results served without recomputation by query ID.",
	}, []string{"query"})

	revisionGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "voyager",
		Subsystem: "querydb",
		Name:      "revision",
		Help:      "Current revision of the most recently written database.",
	})
)
