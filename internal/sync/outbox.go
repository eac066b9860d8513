package sync

import (
	"context"
	"encoding/json"
	"time"
)

// OutboxEntry is a change event persisted by the record store, awaiting
// relay to the broker. The serial id gives the per-key ordering guarantee:
// entries for one record are relayed in the order they were written.
type OutboxEntry struct {
	ID        int64
	RecordID  string
	Kind      string
	NewImage  json.RawMessage
	CreatedAt time.Time
}

// Event renders the entry in the wire shape consumers expect.
func (e OutboxEntry) Event() ([]byte, error) {
	return json.Marshal(struct {
		Kind     string          `json:"eventKind"`
		RecordID string          `json:"recordId"`
		NewImage json.RawMessage `json:"newImage,omitempty"`
	}{e.Kind, e.RecordID, e.NewImage})
}

// OutboxRepository is the relay's view of the outbox table.
type OutboxRepository interface {
	// FetchAndClaim atomically claims up to batchSize pending entries in id
	// order so concurrent relays never double-publish.
	FetchAndClaim(ctx context.Context, batchSize int) ([]OutboxEntry, error)
	MarkSent(ctx context.Context, ids []int64) error
	// MarkPending reverts claimed entries after a publish failure so a
	// later cycle retries them.
	MarkPending(ctx context.Context, ids []int64) error
	// ReclaimStale reverts entries whose claim is older than olderThan.
	// A relay that died between claiming and marking leaves its batch in
	// the claimed state; without reclamation those events would never
	// reach the index.
	ReclaimStale(ctx context.Context, olderThan time.Duration) (int64, error)
	Backlog(ctx context.Context) (int64, error)
}

// Publisher pushes a single change event to the broker.
type Publisher interface {
	Publish(ctx context.Context, entry OutboxEntry) error
}
