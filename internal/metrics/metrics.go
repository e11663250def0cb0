// Package metrics exposes Prometheus counters for ingestion, link status and source health.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "curate"

var (
	// ArticlesTotal counts articles by admission outcome: admitted, seen, rejected, failed.
	ArticlesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "articles_total",
			Help:      "Articles handled by ingestion, by outcome",
		},
		[]string{"outcome"},
	)

	// RejectionsTotal counts admission rejections by reason.
	RejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admission_rejections_total",
			Help:      "Articles rejected by the admission filter, by reason",
		},
		[]string{"reason"},
	)

	// LinksTotal counts tenant links written, by initial status.
	LinksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "links_written_total",
			Help:      "Tenant article links written, by status",
		},
		[]string{"status"},
	)

	// TransitionsTotal counts processing status transitions requested by consumers.
	TransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "link_transitions_total",
			Help:      "Link status transitions, by target status and result",
		},
		[]string{"to", "result"},
	)

	// HealthActionsTotal counts health recommendations and whether they were applied.
	HealthActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_health_actions_total",
			Help:      "Source health actions, by action and result",
		},
		[]string{"action", "result"},
	)

	// ProbeFailuresTotal counts probe failures by category.
	ProbeFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_probe_failures_total",
			Help:      "Source probe failures, by category",
		},
		[]string{"category"},
	)

	// BatchDuration measures ingest batch duration.
	BatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingest_batch_duration_seconds",
			Help:      "Duration of ingest batches in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)
)

func RecordArticle(outcome string) {
	ArticlesTotal.WithLabelValues(outcome).Inc()
}

func RecordRejection(reason string) {
	RejectionsTotal.WithLabelValues(reason).Inc()
}

func RecordLink(status string) {
	LinksTotal.WithLabelValues(status).Inc()
}

func RecordTransition(to, result string) {
	TransitionsTotal.WithLabelValues(to, result).Inc()
}

func RecordHealthAction(action, result string) {
	HealthActionsTotal.WithLabelValues(action, result).Inc()
}

func RecordProbeFailure(category string) {
	ProbeFailuresTotal.WithLabelValues(category).Inc()
}

func ObserveBatch(seconds float64) {
	BatchDuration.Observe(seconds)
}
