package artifactcache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var lookups = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "voyager",
	Subsystem: "artifactcache",
	Name:      "lookups_total",
	Help:      "Artifact cache lookups by backend and result (hit, miss, error).",
}, []string{"backend", "result"})

// Instrumented wraps a Cache and counts Get outcomes.
type Instrumented struct {
	Cache
	backend string
}

func WithMetrics(c Cache, backend string) *Instrumented {
	return &Instrumented{Cache: c, backend: backend}
}

func (c *Instrumented) Get(fingerprint string) (*Entry, error) {
	e, err := c.Cache.Get(fingerprint)
	switch {
	case err != nil:
		lookups.WithLabelValues(c.backend, "error").Inc()
	case e == nil:
		lookups.WithLabelValues(c.backend, "miss").Inc()
	default:
		lookups.WithLabelValues(c.backend, "hit").Inc()
	}
	return e, err
}
