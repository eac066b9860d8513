package patient

import "context"

// Attribute keys accepted by UpdateAttributes. The store applies only the
// supplied subset and leaves every other attribute untouched.
const (
	AttrName       = "name"
	AttrAddress    = "address"
	AttrConditions = "conditions"
	AttrAllergies  = "allergies"
	AttrIsDeleted  = "is_deleted"
	AttrUpdatedAt  = "updated_at"
)

// listProjection is the column subset fetched by the list scan.
var listProjection = []string{"id", "name", "conditions", "allergies"}

// RecordStore is the narrow contract over the authoritative patient store.
// Implementations must emit a change event for every successful write,
// ordered per record id. Transient failures surface as ErrStoreUnavailable;
// a missing or (when liveOnly) soft-deleted record surfaces as ErrNotFound.
type RecordStore interface {
	Put(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id string, liveOnly bool) (*Patient, error)
	Scan(ctx context.Context, liveOnly bool, projection []string) ([]*Patient, error)
	UpdateAttributes(ctx context.Context, id string, attrs map[string]any) (*Patient, error)
}
