package sync

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// fakeOutbox is an in-memory outbox mirroring the pending/claimed/sent
// lifecycle of the real table.
type fakeOutbox struct {
	pending    []OutboxEntry
	processing []OutboxEntry
	sent       []int64
}

func (f *fakeOutbox) FetchAndClaim(_ context.Context, batchSize int) ([]OutboxEntry, error) {
	n := batchSize
	if n > len(f.pending) {
		n = len(f.pending)
	}
	claimed := f.pending[:n]
	f.pending = f.pending[n:]
	f.processing = append(f.processing, claimed...)
	return claimed, nil
}

func (f *fakeOutbox) MarkSent(_ context.Context, ids []int64) error {
	f.sent = append(f.sent, ids...)
	f.dropClaims(ids)
	return nil
}

func (f *fakeOutbox) MarkPending(_ context.Context, ids []int64) error {
	for _, e := range f.processing {
		for _, id := range ids {
			if e.ID == id {
				f.pending = append(f.pending, e)
			}
		}
	}
	f.dropClaims(ids)
	return nil
}

// ReclaimStale treats every claim as expired; age handling lives in the
// real implementation's SQL.
func (f *fakeOutbox) ReclaimStale(_ context.Context, _ time.Duration) (int64, error) {
	n := int64(len(f.processing))
	f.pending = append(f.pending, f.processing...)
	f.processing = nil
	return n, nil
}

func (f *fakeOutbox) Backlog(_ context.Context) (int64, error) {
	return int64(len(f.pending) + len(f.processing)), nil
}

func (f *fakeOutbox) dropClaims(ids []int64) {
	kept := f.processing[:0]
	for _, e := range f.processing {
		stays := true
		for _, id := range ids {
			if e.ID == id {
				stays = false
			}
		}
		if stays {
			kept = append(kept, e)
		}
	}
	f.processing = kept
}

type fakePublisher struct {
	published []OutboxEntry
	failAfter int // fail on the nth call (1-based); 0 means never
	calls     int
}

func (f *fakePublisher) Publish(_ context.Context, entry OutboxEntry) error {
	f.calls++
	if f.failAfter > 0 && f.calls >= f.failAfter {
		return errors.New("broker down")
	}
	f.published = append(f.published, entry)
	return nil
}

func entry(id int64, recordID, kind string) OutboxEntry {
	return OutboxEntry{
		ID:       id,
		RecordID: recordID,
		Kind:     kind,
		NewImage: json.RawMessage(`{"id":"` + recordID + `"}`),
	}
}

func TestProcessNextBatchPublishesInOrder(t *testing.T) {
	outbox := &fakeOutbox{pending: []OutboxEntry{
		entry(1, "p1", "INSERT"),
		entry(2, "p1", "MODIFY"),
		entry(3, "p2", "INSERT"),
	}}
	pub := &fakePublisher{}
	r := NewRelay(outbox, pub, 10, time.Millisecond, zerolog.Nop())

	if err := r.ProcessNextBatch(context.Background()); err != nil {
		t.Fatalf("ProcessNextBatch: %v", err)
	}

	if len(pub.published) != 3 {
		t.Fatalf("published %d entries, want 3", len(pub.published))
	}
	for i, want := range []int64{1, 2, 3} {
		if pub.published[i].ID != want {
			t.Errorf("publish order: got id %d at position %d, want %d", pub.published[i].ID, i, want)
		}
	}
	if len(outbox.sent) != 3 {
		t.Errorf("marked sent %v, want all three", outbox.sent)
	}
}

func TestProcessNextBatchRevertsOnPublishFailure(t *testing.T) {
	outbox := &fakeOutbox{pending: []OutboxEntry{
		entry(1, "p1", "INSERT"),
		entry(2, "p2", "INSERT"),
		entry(3, "p3", "INSERT"),
	}}
	pub := &fakePublisher{failAfter: 2}
	r := NewRelay(outbox, pub, 10, time.Millisecond, zerolog.Nop())

	if err := r.ProcessNextBatch(context.Background()); err == nil {
		t.Fatal("expected publish failure to surface")
	}

	// Entry 1 went out and is sent; 2 and 3 return to pending for the next
	// cycle so nothing is lost.
	if len(outbox.sent) != 1 || outbox.sent[0] != 1 {
		t.Errorf("sent = %v, want [1]", outbox.sent)
	}
	if len(outbox.pending) != 2 {
		t.Errorf("pending = %v, want entries 2 and 3 reverted", outbox.pending)
	}
}

func TestProcessNextBatchRecoversAbandonedClaims(t *testing.T) {
	// Entries claimed by a relay that died before marking them must not be
	// stranded: the next cycle reverts and republishes them.
	outbox := &fakeOutbox{processing: []OutboxEntry{
		entry(4, "p4", "INSERT"),
		entry(5, "p5", "MODIFY"),
	}}
	pub := &fakePublisher{}
	r := NewRelay(outbox, pub, 10, time.Millisecond, zerolog.Nop())

	if err := r.ProcessNextBatch(context.Background()); err != nil {
		t.Fatalf("ProcessNextBatch: %v", err)
	}

	if len(pub.published) != 2 {
		t.Fatalf("published %d entries, want the 2 abandoned ones", len(pub.published))
	}
	if len(outbox.sent) != 2 {
		t.Errorf("sent = %v, want both reclaimed entries marked sent", outbox.sent)
	}
	if backlog, _ := outbox.Backlog(context.Background()); backlog != 0 {
		t.Errorf("backlog = %d after recovery, want 0", backlog)
	}
}

func TestProcessNextBatchEmptyOutboxIsNoop(t *testing.T) {
	outbox := &fakeOutbox{}
	pub := &fakePublisher{}
	r := NewRelay(outbox, pub, 10, time.Millisecond, zerolog.Nop())

	if err := r.ProcessNextBatch(context.Background()); err != nil {
		t.Fatalf("ProcessNextBatch: %v", err)
	}
	if pub.calls != 0 {
		t.Error("publisher called on empty outbox")
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	outbox := &fakeOutbox{}
	r := NewRelay(outbox, &fakePublisher{}, 10, time.Millisecond, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestOutboxEntryEventWireShape(t *testing.T) {
	e := entry(7, "p9", "MODIFY")
	var ev struct {
		Kind     string          `json:"eventKind"`
		RecordID string          `json:"recordId"`
		NewImage json.RawMessage `json:"newImage"`
	}
	body, err := e.Event()
	if err != nil {
		t.Fatalf("render event: %v", err)
	}
	if err := json.Unmarshal(body, &ev); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	if ev.Kind != "MODIFY" || ev.RecordID != "p9" {
		t.Errorf("event = %+v", ev)
	}
	if string(ev.NewImage) != `{"id":"p9"}` {
		t.Errorf("newImage = %s", ev.NewImage)
	}
}
