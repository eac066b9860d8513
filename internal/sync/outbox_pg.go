package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

type pgOutbox struct {
	pool *pgxpool.Pool
}

func NewPGOutbox(pool *pgxpool.Pool) OutboxRepository {
	return &pgOutbox{pool: pool}
}

func (r *pgOutbox) FetchAndClaim(ctx context.Context, batchSize int) ([]OutboxEntry, error) {
	rows, err := r.pool.Query(ctx, `
		UPDATE patient_changes SET status = 'processing', claimed_at = NOW()
		WHERE id IN (
			SELECT id FROM patient_changes
			WHERE status = 'pending'
			ORDER BY id
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, record_id, kind, new_image, created_at`, batchSize)
	if err != nil {
		return nil, fmt.Errorf("claim outbox batch: %w", err)
	}
	defer rows.Close()

	var entries []OutboxEntry
	for rows.Next() {
		var e OutboxEntry
		if err := rows.Scan(&e.ID, &e.RecordID, &e.Kind, &e.NewImage, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *pgOutbox) MarkSent(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.pool.Exec(ctx,
		`UPDATE patient_changes SET status = 'sent', sent_at = NOW() WHERE id = ANY($1)`, ids)
	if err != nil {
		return fmt.Errorf("mark outbox entries sent: %w", err)
	}
	return nil
}

func (r *pgOutbox) MarkPending(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.pool.Exec(ctx,
		`UPDATE patient_changes SET status = 'pending', claimed_at = NULL WHERE id = ANY($1)`, ids)
	if err != nil {
		return fmt.Errorf("revert outbox entries: %w", err)
	}
	return nil
}

func (r *pgOutbox) ReclaimStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE patient_changes SET status = 'pending', claimed_at = NULL
		WHERE status = 'processing' AND claimed_at < NOW() - make_interval(secs => $1)`,
		olderThan.Seconds())
	if err != nil {
		return 0, fmt.Errorf("reclaim stale outbox claims: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *pgOutbox) Backlog(ctx context.Context) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM patient_changes WHERE status IN ('pending', 'processing')`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count outbox backlog: %w", err)
	}
	return n, nil
}
