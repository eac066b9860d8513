package sync

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/medrec/patient-registry/internal/domain/patient"
	"github.com/medrec/patient-registry/internal/platform/metrics"
	"github.com/medrec/patient-registry/internal/platform/search"
)

// Indexer is the slice of the search client the synchronizer needs.
type Indexer interface {
	Index(ctx context.Context, doc search.Document) error
	Delete(ctx context.Context, id string) error
}

// BatchResult summarizes a processed change-event batch. Failures are
// counted, never raised: at-least-once delivery means a redelivery or a
// later MODIFY for the same key eventually converges the index.
type BatchResult struct {
	Indexed int
	Removed int
	Skipped int
	Failed  int
}

// Synchronizer applies record-store change events to the search index.
// Events for independent keys run concurrently across a fixed set of lanes;
// events sharing a key always land in the same lane, preserving the feed's
// per-key order.
type Synchronizer struct {
	index   Indexer
	logger  zerolog.Logger
	workers int
}

func NewSynchronizer(index Indexer, workers int, logger zerolog.Logger) *Synchronizer {
	if workers < 1 {
		workers = 1
	}
	return &Synchronizer{index: index, logger: logger, workers: workers}
}

// ProcessBatch handles one delivered batch. A failure on one record is
// logged and skipped so a poison event cannot stall the feed.
func (s *Synchronizer) ProcessBatch(ctx context.Context, events []patient.ChangeEvent) BatchResult {
	start := time.Now()
	metrics.BatchSize.Observe(float64(len(events)))
	defer func() {
		metrics.BatchDuration.Observe(time.Since(start).Seconds())
	}()

	lanes := make([][]patient.ChangeEvent, s.workers)
	for _, ev := range events {
		lane := laneFor(ev.RecordID, s.workers)
		lanes[lane] = append(lanes[lane], ev)
	}

	results := make([]BatchResult, s.workers)
	var wg sync.WaitGroup
	for i, lane := range lanes {
		if len(lane) == 0 {
			continue
		}
		wg.Add(1)
		go func(i int, lane []patient.ChangeEvent) {
			defer wg.Done()
			for _, ev := range lane {
				s.apply(ctx, ev, &results[i])
			}
		}(i, lane)
	}
	wg.Wait()

	var total BatchResult
	for _, r := range results {
		total.Indexed += r.Indexed
		total.Removed += r.Removed
		total.Skipped += r.Skipped
		total.Failed += r.Failed
	}
	return total
}

// Process handles a single event, for feeds that deliver one at a time.
func (s *Synchronizer) Process(ctx context.Context, ev patient.ChangeEvent) BatchResult {
	var r BatchResult
	s.apply(ctx, ev, &r)
	return r
}

func (s *Synchronizer) apply(ctx context.Context, ev patient.ChangeEvent, r *BatchResult) {
	kind := string(ev.Kind)
	switch ev.Kind {
	case patient.EventInsert, patient.EventModify:
		if ev.NewImage == nil {
			s.logger.Warn().Str("record_id", ev.RecordID).Str("kind", kind).
				Msg("change event without new image, skipping")
			metrics.EventsProcessed.WithLabelValues("skipped", kind).Inc()
			r.Skipped++
			return
		}
		// Soft-deleted records come off the index: the read paths must
		// agree on liveness.
		if ev.NewImage.IsDeleted {
			if err := s.index.Delete(ctx, ev.RecordID); err != nil {
				s.fail(ev, kind, err, r)
				return
			}
			metrics.EventsProcessed.WithLabelValues("removed", kind).Inc()
			r.Removed++
			return
		}
		if err := s.index.Index(ctx, ev.NewImage.SearchDocument()); err != nil {
			s.fail(ev, kind, err, r)
			return
		}
		metrics.EventsProcessed.WithLabelValues("indexed", kind).Inc()
		r.Indexed++

	case patient.EventRemove:
		// Hard removals only happen through out-of-band maintenance; the
		// index must not outlive the store's copy.
		if err := s.index.Delete(ctx, ev.RecordID); err != nil {
			s.fail(ev, kind, err, r)
			return
		}
		metrics.EventsProcessed.WithLabelValues("removed", kind).Inc()
		r.Removed++

	default:
		s.logger.Warn().Str("record_id", ev.RecordID).Str("kind", kind).
			Msg("unknown change event kind, skipping")
		metrics.EventsProcessed.WithLabelValues("skipped", kind).Inc()
		r.Skipped++
	}
}

func (s *Synchronizer) fail(ev patient.ChangeEvent, kind string, err error, r *BatchResult) {
	s.logger.Error().Err(err).
		Str("record_id", ev.RecordID).
		Str("kind", kind).
		Msg("failed to sync record to search index")
	metrics.EventsProcessed.WithLabelValues("error", kind).Inc()
	r.Failed++
}

func laneFor(recordID string, workers int) int {
	h := fnv.New32a()
	h.Write([]byte(recordID))
	return int(h.Sum32() % uint32(workers))
}
