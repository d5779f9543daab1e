package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels for processed commands.
const (
	OutcomeApplied   = "applied"
	OutcomeDuplicate = "duplicate"
	OutcomeRejected  = "rejected"
)

// Metrics exposes pipeline-level prometheus instruments. A nil *Metrics is
// valid and records nothing, so components can treat it as optional.
type Metrics struct {
	commandsProcessed *prometheus.CounterVec
	deadLettered      prometheus.Counter
	published         prometheus.Counter
	outboxBatchSize   prometheus.Histogram
	flushDuration     prometheus.Histogram
	flushFailures     prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		commandsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bankcore",
			Name:      "commands_processed_total",
			Help:      "Commands that completed the pipeline, by action and outcome.",
		}, []string{"action", "outcome"}),
		deadLettered: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "bankcore",
			Name:      "dead_lettered_total",
			Help:      "Commands moved to the dead-letter store.",
		}),
		published: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "bankcore",
			Name:      "pipeline_published_total",
			Help:      "Commands published into the ring buffer.",
		}),
		outboxBatchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "bankcore",
			Name:      "outbox_batch_size",
			Help:      "Size of batches fetched from the outbox.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
		flushDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "bankcore",
			Name:      "persistence_flush_seconds",
			Help:      "Duration of unit-of-work flushes.",
			Buckets:   prometheus.DefBuckets,
		}),
		flushFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "bankcore",
			Name:      "persistence_flush_failures_total",
			Help:      "Unit-of-work flushes that rolled back.",
		}),
	}
}

func (m *Metrics) IncProcessed(action, outcome string) {
	if m == nil {
		return
	}
	m.commandsProcessed.WithLabelValues(action, outcome).Inc()
}

func (m *Metrics) AddDeadLettered(n int) {
	if m == nil {
		return
	}
	m.deadLettered.Add(float64(n))
}

func (m *Metrics) AddPublished(n int) {
	if m == nil {
		return
	}
	m.published.Add(float64(n))
}

func (m *Metrics) ObserveOutboxBatch(n int) {
	if m == nil {
		return
	}
	m.outboxBatchSize.Observe(float64(n))
}

func (m *Metrics) ObserveFlush(d time.Duration) {
	if m == nil {
		return
	}
	m.flushDuration.Observe(d.Seconds())
}

func (m *Metrics) IncFlushFailure() {
	if m == nil {
		return
	}
	m.flushFailures.Inc()
}
