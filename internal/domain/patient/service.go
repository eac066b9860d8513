package patient

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/medrec/patient-registry/internal/platform/search"
)

// SearchIndex is the slice of the search client the service needs for the
// attribute-search listing path.
type SearchIndex interface {
	Search(ctx context.Context, terms []search.Term) ([]search.Document, error)
}

// ListFilter selects the attribute-search listing path when either term is
// set. Both set means OR, not AND.
type ListFilter struct {
	Condition string
	Allergy   string
}

func (f ListFilter) empty() bool {
	return f.Condition == "" && f.Allergy == ""
}

func (f ListFilter) terms() []search.Term {
	var terms []search.Term
	if f.Condition != "" {
		terms = append(terms, search.Term{Field: "conditions", Value: f.Condition})
	}
	if f.Allergy != "" {
		terms = append(terms, search.Term{Field: "allergies", Value: f.Allergy})
	}
	return terms
}

type Service struct {
	store RecordStore
	index SearchIndex
	now   func() time.Time
}

func NewService(store RecordStore, index SearchIndex) *Service {
	return &Service{store: store, index: index, now: time.Now}
}

// Create validates the payload, assigns a fresh id and writes the record.
// CreatedAt and UpdatedAt are set from the same instant.
func (s *Service) Create(ctx context.Context, payload *Payload) (*Patient, error) {
	if err := payload.Validate(SchemaCreate); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	p := &Patient{
		ID:        uuid.NewString(),
		Name:      *payload.Name,
		Address:   *payload.Address,
		IsDeleted: false,
		CreatedAt: now,
		UpdatedAt: now,
	}
	p.Conditions = []string{}
	if payload.Conditions != nil {
		p.Conditions = *payload.Conditions
	}
	p.Allergies = *payload.Allergies

	if err := s.store.Put(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// GetByID returns the live record or ErrNotFound. Every mutating operation
// funnels its existence check through here so "absent" and "soft-deleted"
// stay indistinguishable everywhere.
func (s *Service) GetByID(ctx context.Context, id string) (*Patient, error) {
	return s.store.GetByID(ctx, id, true)
}

// List returns the fixed projection of all live records, or, when a filter
// term is supplied, delegates to the search index — attribute search is the
// index's job, not the store's.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]ListEntry, error) {
	if !filter.empty() {
		docs, err := s.index.Search(ctx, filter.terms())
		if err != nil {
			return nil, err
		}
		entries := make([]ListEntry, 0, len(docs))
		for _, d := range docs {
			entries = append(entries, ListEntry{ID: d.ID, Conditions: d.Conditions, Allergies: d.Allergies})
		}
		return entries, nil
	}

	records, err := s.store.Scan(ctx, true, listProjection)
	if err != nil {
		return nil, err
	}
	entries := make([]ListEntry, 0, len(records))
	for _, p := range records {
		entries = append(entries, ListEntry{ID: p.ID, Name: p.Name, Conditions: p.Conditions, Allergies: p.Allergies})
	}
	return entries, nil
}

// Update validates the payload, re-checks existence through GetByID so a
// missing or soft-deleted id fails before any write, then applies a partial
// attribute update and returns the post-update record.
func (s *Service) Update(ctx context.Context, id string, payload *Payload) (*Patient, error) {
	if err := payload.Validate(SchemaUpdate); err != nil {
		return nil, err
	}
	if _, err := s.GetByID(ctx, id); err != nil {
		return nil, err
	}

	attrs := map[string]any{AttrUpdatedAt: s.now().UTC()}
	if payload.Name != nil {
		attrs[AttrName] = *payload.Name
	}
	if payload.Address != nil {
		attrs[AttrAddress] = *payload.Address
	}
	if payload.Conditions != nil {
		attrs[AttrConditions] = *payload.Conditions
	}
	if payload.Allergies != nil {
		attrs[AttrAllergies] = *payload.Allergies
	}
	return s.store.UpdateAttributes(ctx, id, attrs)
}

// SoftDelete marks the record deleted. The row stays in the store; only the
// liveness flag and timestamp change.
func (s *Service) SoftDelete(ctx context.Context, id string) error {
	if _, err := s.GetByID(ctx, id); err != nil {
		return err
	}
	_, err := s.store.UpdateAttributes(ctx, id, map[string]any{
		AttrIsDeleted: true,
		AttrUpdatedAt: s.now().UTC(),
	})
	return err
}
