package patient

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process RecordStore used by development mode and
// tests. It mirrors the pg implementation's semantics, including emitting a
// change event per write, delivered on an ordered in-process channel.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Patient
	events  chan ChangeEvent
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*Patient),
		events:  make(chan ChangeEvent, 256),
	}
}

// Events exposes the store's change feed. The channel preserves write order,
// which is stricter than the per-key guarantee consumers may rely on.
func (s *MemoryStore) Events() <-chan ChangeEvent {
	return s.events
}

func (s *MemoryStore) Put(_ context.Context, p *Patient) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := clone(p)
	s.records[p.ID] = cp
	s.emit(EventInsert, cp)
	return nil
}

func (s *MemoryStore) GetByID(_ context.Context, id string, liveOnly bool) (*Patient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.records[id]
	if !ok || (liveOnly && p.IsDeleted) {
		return nil, ErrNotFound
	}
	return clone(p), nil
}

func (s *MemoryStore) Scan(_ context.Context, liveOnly bool, _ []string) ([]*Patient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Patient
	for _, p := range s.records {
		if liveOnly && p.IsDeleted {
			continue
		}
		out = append(out, clone(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) UpdateAttributes(_ context.Context, id string, attrs map[string]any) (*Patient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	for k, v := range attrs {
		switch k {
		case AttrName:
			p.Name = v.(string)
		case AttrAddress:
			p.Address = v.(string)
		case AttrConditions:
			p.Conditions = append([]string(nil), v.([]string)...)
		case AttrAllergies:
			p.Allergies = append([]string(nil), v.([]string)...)
		case AttrIsDeleted:
			p.IsDeleted = v.(bool)
		case AttrUpdatedAt:
			p.UpdatedAt = v.(time.Time)
		default:
			return nil, fmt.Errorf("attribute %q is not updatable", k)
		}
	}
	s.emit(EventModify, p)
	return clone(p), nil
}

func (s *MemoryStore) emit(kind EventKind, p *Patient) {
	select {
	case s.events <- ChangeEvent{Kind: kind, RecordID: p.ID, NewImage: clone(p)}:
	default:
		// Feed consumers that fall this far behind lose events; the pg
		// store's outbox does not have this failure mode.
	}
}

func clone(p *Patient) *Patient {
	cp := *p
	cp.Conditions = append([]string(nil), p.Conditions...)
	cp.Allergies = append([]string(nil), p.Allergies...)
	return &cp
}
