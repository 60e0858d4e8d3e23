package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "funding"

// Metrics holds the engine's collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	cycles          *prometheus.CounterVec
	cycleDuration   prometheus.Histogram
	pairsCreated    *prometheus.CounterVec
	confirmations   prometheus.Counter
	deadlineMisses  *prometheus.CounterVec
	poolOperations  *prometheus.CounterVec
	eventsPublished *prometheus.CounterVec
	proofStoreFalls prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		cycles: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "merge_cycles_total",
			Help:      "Merge cycles processed, by outcome.",
		}, []string{"outcome"}),
		cycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "merge_cycle_duration_seconds",
			Help:      "Wall time spent running one merge cycle.",
			Buckets:   prometheus.DefBuckets,
		}),
		pairsCreated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "match_pairs_created_total",
			Help:      "Match pairs created, by origin.",
		}, []string{"origin"}),
		confirmations: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "match_pairs_confirmed_total",
			Help:      "Match pairs settled by withdrawer or admin confirmation.",
		}),
		deadlineMisses: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deadline_misses_total",
			Help:      "Deadline violations, by defaulting side.",
		}, []string{"side"}),
		poolOperations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pool_operations_total",
			Help:      "Admin liquidity pool settlements, by direction.",
		}, []string{"direction"}),
		eventsPublished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_events_published_total",
			Help:      "Outbox events handed to Kafka, by result.",
		}, []string{"result"}),
		proofStoreFalls: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proof_store_fallbacks_total",
			Help:      "Proof writes that fell back to the secondary store.",
		}),
	}
}

func (m *Metrics) CycleFinished(outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(outcome).Inc()
	m.cycleDuration.Observe(took.Seconds())
}

func (m *Metrics) PairsCreated(origin string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.pairsCreated.WithLabelValues(origin).Add(float64(n))
}

func (m *Metrics) PairConfirmed() {
	if m == nil {
		return
	}
	m.confirmations.Inc()
}

func (m *Metrics) DeadlineMissed(side string) {
	if m == nil {
		return
	}
	m.deadlineMisses.WithLabelValues(side).Inc()
}

func (m *Metrics) PoolOperation(direction string) {
	if m == nil {
		return
	}
	m.poolOperations.WithLabelValues(direction).Inc()
}

func (m *Metrics) EventPublished(ok bool) {
	if m == nil {
		return
	}
	result := "sent"
	if !ok {
		result = "failed"
	}
	m.eventsPublished.WithLabelValues(result).Inc()
}

func (m *Metrics) ProofStoreFallback() {
	if m == nil {
		return
	}
	m.proofStoreFalls.Inc()
}
