package soup

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metric names.
const (
	MetricPagesTotal        = "soup_pages_total"
	MetricPageDuration      = "soup_page_duration_seconds"
	MetricBackfillItems     = "soup_backfill_items_total"
	MetricDroppedCandidates = "soup_dropped_candidates_total"
	MetricRankRounds        = "soup_rank_rounds"
	MetricRegimeTransitions = "soup_regime_transitions_total"
)

// Metrics contains Prometheus metrics for feed pagination.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	pages       *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	backfill    prometheus.Counter
	dropped     prometheus.Counter
	rankRounds  prometheus.Histogram
	transitions prometheus.Counter
}

// NewMetrics creates the feed metrics. They are not registered; call Register.
func NewMetrics() *Metrics {
	return &Metrics{
		pages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricPagesTotal,
			Help: "Total number of feed pages served, by branch",
		}, []string{"branch"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    MetricPageDuration,
			Help:    "Histogram of feed page latency in seconds, by branch",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
		}, []string{"branch"}),
		backfill: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricBackfillItems,
			Help: "Total number of unscored items appended after ranked candidates ran out",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricDroppedCandidates,
			Help: "Total number of ranked candidates dropped as invisible or filtered",
		}),
		rankRounds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    MetricRankRounds,
			Help:    "Number of scoring service calls per relevance page",
			Buckets: []float64{1, 2, 3, 4, 6, 8},
		}),
		transitions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricRegimeTransitions,
			Help: "Total number of relevance traversals that moved to the fallback phase",
		}),
	}
}

// Collectors returns every collector for registration.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.pages,
		m.duration,
		m.backfill,
		m.dropped,
		m.rankRounds,
		m.transitions,
	}
}

// Register registers all metrics with the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// observePage records a served page.
func (m *Metrics) observePage(branch string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.pages.WithLabelValues(branch).Inc()
	m.duration.WithLabelValues(branch).Observe(elapsed.Seconds())
}

// observeMerge records the ranking work behind a relevance page.
func (m *Metrics) observeMerge(res mergeResult) {
	if m == nil {
		return
	}
	m.rankRounds.Observe(float64(res.rounds))
	m.dropped.Add(float64(res.dropped))
	m.backfill.Add(float64(res.backfilled))
}

func (m *Metrics) incTransitions() {
	if m == nil {
		return
	}
	m.transitions.Inc()
}
