package patient

import (
	"context"
	"errors"
	"testing"

	"github.com/medrec/patient-registry/internal/platform/search"
)

// spyStore counts mutations so tests can assert fail-fast behavior.
type spyStore struct {
	*MemoryStore
	puts    int
	updates int
}

func newSpyStore() *spyStore { return &spyStore{MemoryStore: NewMemoryStore()} }

func (s *spyStore) Put(ctx context.Context, p *Patient) error {
	s.puts++
	return s.MemoryStore.Put(ctx, p)
}

func (s *spyStore) UpdateAttributes(ctx context.Context, id string, attrs map[string]any) (*Patient, error) {
	s.updates++
	return s.MemoryStore.UpdateAttributes(ctx, id, attrs)
}

type fakeIndex struct {
	terms []search.Term
	docs  []search.Document
	err   error
}

func (f *fakeIndex) Search(_ context.Context, terms []search.Term) ([]search.Document, error) {
	f.terms = terms
	return f.docs, f.err
}

func createPayload() *Payload {
	return &Payload{Name: strp("A"), Address: strp("B"), Conditions: &[]string{}, Allergies: arrp("peanuts")}
}

func TestCreate(t *testing.T) {
	store := newSpyStore()
	svc := NewService(store, &fakeIndex{})

	p, err := svc.Create(context.Background(), createPayload())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.ID == "" {
		t.Error("expected a generated id")
	}
	if p.IsDeleted {
		t.Error("new record must not be deleted")
	}
	if !p.CreatedAt.Equal(p.UpdatedAt) {
		t.Errorf("createdAt %v must equal updatedAt %v", p.CreatedAt, p.UpdatedAt)
	}
	if p.Conditions == nil || len(p.Conditions) != 0 {
		t.Errorf("expected empty conditions, got %v", p.Conditions)
	}
	if store.puts != 1 {
		t.Errorf("expected 1 put, got %d", store.puts)
	}
}

func TestCreate_EmptyAllergiesRejected(t *testing.T) {
	store := newSpyStore()
	svc := NewService(store, &fakeIndex{})

	payload := createPayload()
	payload.Allergies = &[]string{}
	_, err := svc.Create(context.Background(), payload)
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
	if store.puts != 0 {
		t.Errorf("store must not be touched on validation failure, got %d puts", store.puts)
	}
}

func TestGetByID_SoftDeletedLooksAbsent(t *testing.T) {
	store := newSpyStore()
	svc := NewService(store, &fakeIndex{})

	p, _ := svc.Create(context.Background(), createPayload())
	if err := svc.SoftDelete(context.Background(), p.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, errDeleted := svc.GetByID(context.Background(), p.ID)
	_, errAbsent := svc.GetByID(context.Background(), "never-existed")
	if !errors.Is(errDeleted, ErrNotFound) || !errors.Is(errAbsent, ErrNotFound) {
		t.Errorf("soft-deleted (%v) and absent (%v) must both be ErrNotFound", errDeleted, errAbsent)
	}
}

func TestUpdate(t *testing.T) {
	store := newSpyStore()
	svc := NewService(store, &fakeIndex{})

	p, _ := svc.Create(context.Background(), createPayload())
	updated, err := svc.Update(context.Background(), p.ID, &Payload{Name: strp("New Name")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.Name != "New Name" {
		t.Errorf("expected updated name, got %q", updated.Name)
	}
	if updated.Address != "B" {
		t.Errorf("untouched attribute changed: %q", updated.Address)
	}
	if updated.UpdatedAt.Before(updated.CreatedAt) {
		t.Error("updatedAt must not precede createdAt")
	}
	if store.updates != 1 {
		t.Errorf("expected 1 partial update, got %d", store.updates)
	}
}

func TestUpdate_NotFoundBeforeWrite(t *testing.T) {
	store := newSpyStore()
	svc := NewService(store, &fakeIndex{})

	_, err := svc.Update(context.Background(), "missing", &Payload{Name: strp("X")})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if store.updates != 0 {
		t.Errorf("no store mutation may be attempted, got %d updates", store.updates)
	}
}

func TestUpdate_SoftDeletedNotFoundBeforeWrite(t *testing.T) {
	store := newSpyStore()
	svc := NewService(store, &fakeIndex{})

	p, _ := svc.Create(context.Background(), createPayload())
	svc.SoftDelete(context.Background(), p.ID)
	store.updates = 0

	_, err := svc.Update(context.Background(), p.ID, &Payload{Name: strp("X")})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if store.updates != 0 {
		t.Errorf("no store mutation may be attempted, got %d updates", store.updates)
	}
}

func TestSoftDelete_RecordRetained(t *testing.T) {
	store := newSpyStore()
	svc := NewService(store, &fakeIndex{})

	p, _ := svc.Create(context.Background(), createPayload())
	if err := svc.SoftDelete(context.Background(), p.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Raw lookup ignoring the liveness filter still finds the row.
	raw, err := store.GetByID(context.Background(), p.ID, false)
	if err != nil {
		t.Fatalf("record must remain in the store: %v", err)
	}
	if !raw.IsDeleted {
		t.Error("expected isDeleted=true")
	}
	if !raw.UpdatedAt.After(raw.CreatedAt) && !raw.UpdatedAt.Equal(raw.CreatedAt) {
		t.Error("soft delete must touch updatedAt")
	}
}

func TestSoftDelete_NotFound(t *testing.T) {
	store := newSpyStore()
	svc := NewService(store, &fakeIndex{})

	if err := svc.SoftDelete(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if store.updates != 0 {
		t.Errorf("no store mutation may be attempted, got %d updates", store.updates)
	}
}

func TestList_ScansLiveRecords(t *testing.T) {
	store := newSpyStore()
	svc := NewService(store, &fakeIndex{})

	p1, _ := svc.Create(context.Background(), createPayload())
	p2, _ := svc.Create(context.Background(), createPayload())
	svc.SoftDelete(context.Background(), p2.ID)

	entries, err := svc.List(context.Background(), ListFilter{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != p1.ID {
		t.Errorf("expected only the live record, got %v", entries)
	}
}

func TestList_FilterDelegatesToIndex(t *testing.T) {
	store := newSpyStore()
	index := &fakeIndex{docs: []search.Document{
		{ID: "p1", Allergies: []string{"peanuts"}},
		{ID: "p2", Conditions: []string{"asthma"}},
	}}
	svc := NewService(store, index)

	entries, err := svc.List(context.Background(), ListFilter{Condition: "asthma", Allergy: "peanuts"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected union of both term matches, got %d entries", len(entries))
	}
	if len(index.terms) != 2 {
		t.Fatalf("expected both terms passed to the index, got %v", index.terms)
	}
	if index.terms[0].Field != "conditions" || index.terms[1].Field != "allergies" {
		t.Errorf("unexpected terms: %v", index.terms)
	}
}
