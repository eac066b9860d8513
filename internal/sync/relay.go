package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/medrec/patient-registry/internal/platform/metrics"
)

// staleClaimAfter bounds how long an outbox entry may sit in the claimed
// state. A relay that crashed between claiming and marking leaves its batch
// claimed; after this long the entries are treated as abandoned and revert
// to pending.
const staleClaimAfter = 5 * time.Minute

// Relay moves committed change events from the record store's outbox to the
// broker. Entries are published in outbox id order, which preserves per-key
// write order end to end.
type Relay struct {
	repo      OutboxRepository
	publisher Publisher
	logger    zerolog.Logger
	batchSize int
	interval  time.Duration
}

func NewRelay(repo OutboxRepository, publisher Publisher, batchSize int, interval time.Duration, logger zerolog.Logger) *Relay {
	return &Relay{
		repo:      repo,
		publisher: publisher,
		logger:    logger,
		batchSize: batchSize,
		interval:  interval,
	}
}

// Run polls the outbox until the context is cancelled. Publish failures
// revert the rest of the claimed batch to pending so nothing is lost; the
// next cycle retries after the poll interval.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.ProcessNextBatch(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				r.logger.Error().Err(err).Msg("relay batch failed")
			}
			if backlog, err := r.repo.Backlog(ctx); err == nil {
				metrics.OutboxBacklog.Set(float64(backlog))
			}
		}
	}
}

// ProcessNextBatch claims and publishes one batch. Exported for tests and
// for engines that trigger the relay on demand.
func (r *Relay) ProcessNextBatch(ctx context.Context) error {
	if n, err := r.repo.ReclaimStale(ctx, staleClaimAfter); err != nil {
		r.logger.Error().Err(err).Msg("failed to reclaim stale outbox claims")
	} else if n > 0 {
		r.logger.Warn().Int64("count", n).Msg("reclaimed abandoned outbox claims")
	}

	entries, err := r.repo.FetchAndClaim(ctx, r.batchSize)
	if err != nil {
		return fmt.Errorf("fetch outbox batch: %w", err)
	}
	if len(entries) == 0 {
		return nil
	}

	sent := make([]int64, 0, len(entries))
	for i, e := range entries {
		if err := r.publisher.Publish(ctx, e); err != nil {
			metrics.RelayPublished.WithLabelValues("error").Inc()
			r.logger.Error().Err(err).
				Int64("outbox_id", e.ID).
				Str("record_id", e.RecordID).
				Msg("publish failed, reverting remainder of batch")

			remaining := make([]int64, 0, len(entries)-i)
			for _, rest := range entries[i:] {
				remaining = append(remaining, rest.ID)
			}
			// Revert with a fresh context: the failure may be the caller's
			// context going away mid-batch.
			revertCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if markErr := r.repo.MarkPending(revertCtx, remaining); markErr != nil {
				r.logger.Error().Err(markErr).Ints64("ids", remaining).
					Msg("failed to revert claimed outbox entries")
			}
			if markErr := r.repo.MarkSent(revertCtx, sent); markErr != nil {
				r.logger.Error().Err(markErr).Msg("failed to mark published entries sent")
			}
			return err
		}
		metrics.RelayPublished.WithLabelValues("sent").Inc()
		sent = append(sent, e.ID)
	}

	if err := r.repo.MarkSent(ctx, sent); err != nil {
		return fmt.Errorf("mark batch sent: %w", err)
	}
	r.logger.Debug().Int("count", len(sent)).Msg("relayed outbox batch")
	return nil
}
