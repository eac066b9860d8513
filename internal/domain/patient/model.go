package patient

import (
	"time"

	"github.com/medrec/patient-registry/internal/platform/search"
)

// Patient is the authoritative record held by the record store. The id is
// assigned at creation and immutable. Records are never physically removed;
// IsDeleted is the only deletion mechanism, and a record is live iff it is
// false.
type Patient struct {
	ID         string    `db:"id" json:"id"`
	Name       string    `db:"name" json:"name"`
	Address    string    `db:"address" json:"address"`
	Conditions []string  `db:"conditions" json:"conditions"`
	Allergies  []string  `db:"allergies" json:"allergies"`
	IsDeleted  bool      `db:"is_deleted" json:"isDeleted"`
	CreatedAt  time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt  time.Time `db:"updated_at" json:"updatedAt"`
}

// SearchDocument projects the record onto the fields the search index needs.
func (p *Patient) SearchDocument() search.Document {
	return search.Document{
		ID:         p.ID,
		Conditions: p.Conditions,
		Allergies:  p.Allergies,
	}
}

// ListEntry is the fixed projection returned by the list operation. Entries
// served from the search index carry no name; the index only stores the
// searchable fields.
type ListEntry struct {
	ID         string   `json:"id"`
	Name       string   `json:"name,omitempty"`
	Conditions []string `json:"conditions"`
	Allergies  []string `json:"allergies"`
}

// EventKind classifies a change event emitted by the record store.
type EventKind string

const (
	EventInsert EventKind = "INSERT"
	EventModify EventKind = "MODIFY"
	EventRemove EventKind = "REMOVE"
)

// ChangeEvent is the record store's notification of a single write. Delivery
// is at-least-once and ordered per record id only; consumers must treat a
// redelivered event as a no-op.
type ChangeEvent struct {
	Kind     EventKind `json:"eventKind"`
	RecordID string    `json:"recordId"`
	NewImage *Patient  `json:"newImage,omitempty"`
}
