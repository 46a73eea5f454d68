package plm

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DomainMetrics records cache hit/miss counters, push duration
// histograms, and rollback counters (SPEC_FULL.md §3), grounded on the
// teacher's pkg/metrics aggregator pattern but scoped to this domain.
type DomainMetrics struct {
	cacheHits      prometheus.Counter
	cacheMisses    prometheus.Counter
	pushDuration   prometheus.Histogram
	rollbacksTotal prometheus.Counter
}

// NewDomainMetrics registers the sync engine's business metrics.
func NewDomainMetrics(reg prometheus.Registerer) *DomainMetrics {
	m := &DomainMetrics{
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "arenasync", Subsystem: "cache", Name: "hits_total", Help: "Item cache lookups served from cache.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "arenasync", Subsystem: "cache", Name: "misses_total", Help: "Item cache lookups that fell through to a refresh.",
		}),
		pushDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "arenasync", Subsystem: "push", Name: "duration_seconds", Help: "Structured push pipeline wall-clock duration.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		rollbacksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "arenasync", Subsystem: "push", Name: "rollbacks_total", Help: "Push rollbacks performed.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.cacheHits, m.cacheMisses, m.pushDuration, m.rollbacksTotal)
	}
	return m
}

func (m *DomainMetrics) RecordCacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.cacheHits.Inc()
	} else {
		m.cacheMisses.Inc()
	}
}

func (m *DomainMetrics) RecordPush(d time.Duration) {
	if m == nil {
		return
	}
	m.pushDuration.Observe(d.Seconds())
}

func (m *DomainMetrics) RecordRollback() {
	if m == nil {
		return
	}
	m.rollbacksTotal.Inc()
}
