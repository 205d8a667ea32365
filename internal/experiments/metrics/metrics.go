package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the enrollment engine.
// Registration goes through an explicit registerer so tests and embedders
// can construct as many engines as they like.
type Metrics struct {
	CatalogFetches       prometheus.Counter
	CatalogFetchFailures *prometheus.CounterVec
	CatalogFetchDuration prometheus.Histogram
	CacheHits            prometheus.Counter
	Enrollments          prometheus.Counter
	Decisions            *prometheus.CounterVec
	PersistFailures      prometheus.Counter
}

// New registers the engine metrics with reg. A nil reg builds unregistered
// collectors.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		CatalogFetches: factory.NewCounter(prometheus.CounterOpts{
			Name: "nimbus_catalog_fetches_total",
			Help: "Total number of catalog fetch cycles",
		}),
		CatalogFetchFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "nimbus_catalog_fetch_failures_total",
			Help: "Catalog fetch failures by category",
		}, []string{"category"}),
		CatalogFetchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "nimbus_catalog_fetch_duration_seconds",
			Help:    "Duration of catalog fetch cycles including retries",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "nimbus_state_cache_hits_total",
			Help: "Engine constructions served from persisted state",
		}),
		Enrollments: factory.NewCounter(prometheus.CounterOpts{
			Name: "nimbus_enrollments_total",
			Help: "Experiments enrolled by fresh enrollment runs",
		}),
		Decisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "nimbus_enrollment_decisions_total",
			Help: "Per-experiment enrollment outcomes by reason",
		}, []string{"reason"}),
		PersistFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "nimbus_persist_failures_total",
			Help: "Failed reads or writes of the persisted state",
		}),
	}
}

// ObserveFetch records one fetch cycle. Call with time.Now() at the start.
func (m *Metrics) ObserveFetch(start time.Time) {
	m.CatalogFetches.Inc()
	m.CatalogFetchDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncrementFetchFailure(category string) {
	m.CatalogFetchFailures.WithLabelValues(category).Inc()
}

func (m *Metrics) IncrementCacheHit() {
	m.CacheHits.Inc()
}

// AddEnrollments records the number of experiments enrolled by one run.
func (m *Metrics) AddEnrollments(n int) {
	m.Enrollments.Add(float64(n))
}

func (m *Metrics) IncrementDecision(reason string) {
	m.Decisions.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncrementPersistFailure() {
	m.PersistFailures.Inc()
}
