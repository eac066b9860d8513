package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsProcessed tracks change events handled by the synchronizer.
	// Labels allow filtering by outcome (indexed/removed/skipped/error) and
	// event kind (INSERT/MODIFY/REMOVE).
	EventsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_events_processed_total",
		Help: "Total number of change events processed by the synchronizer",
	}, []string{"outcome", "kind"})

	// BatchDuration measures how long a full change-event batch takes.
	BatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sync_batch_duration_seconds",
		Help:    "Duration of change-event batch processing in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// BatchSize tracks the number of events delivered per batch.
	BatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sync_batch_size",
		Help:    "Number of change events per delivered batch",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250},
	})

	// OutboxBacklog is the number of change events awaiting relay to the
	// broker. The primary indicator of index lag.
	OutboxBacklog = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sync_outbox_backlog",
		Help: "Current number of unrelayed change events in the outbox",
	})

	// RelayPublished counts outbox entries published to the broker.
	RelayPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_relay_published_total",
		Help: "Total number of outbox entries published to the broker",
	}, []string{"status"})
)
