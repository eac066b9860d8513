package patient

// SchemaKind selects which constraint table a payload is validated against.
type SchemaKind int

const (
	SchemaCreate SchemaKind = iota
	SchemaUpdate
)

// Payload is an inbound create/update body. Pointers distinguish an absent
// field from an empty one, which matters for partial updates.
type Payload struct {
	Name       *string   `json:"name"`
	Address    *string   `json:"address"`
	Conditions *[]string `json:"conditions"`
	Allergies  *[]string `json:"allergies"`
}

type fieldRule struct {
	field    string
	required bool // Create only; Update treats every field as optional
	minItems int  // for array fields, enforced whenever the field is present
}

var createRules = []fieldRule{
	{field: "name", required: true},
	{field: "address", required: true},
	{field: "conditions"},
	{field: "allergies", required: true, minItems: 1},
}

// On update a supplied conditions array must also be non-empty; clearing it
// is not a supported operation.
var updateRules = []fieldRule{
	{field: "name"},
	{field: "address"},
	{field: "conditions", minItems: 1},
	{field: "allergies", minItems: 1},
}

// Validate checks the payload against the Create or Update schema and
// returns a *ValidationError listing every violated field. No side effects.
func (p *Payload) Validate(kind SchemaKind) error {
	rules := createRules
	if kind == SchemaUpdate {
		rules = updateRules
	}

	var violations []FieldViolation
	for _, r := range rules {
		str, arr, present := p.field(r.field)
		if !present {
			if r.required {
				violations = append(violations, FieldViolation{r.field, r.field + " is required"})
			}
			continue
		}
		if str != nil && *str == "" {
			violations = append(violations, FieldViolation{r.field, r.field + " must not be empty"})
		}
		if arr != nil {
			if len(*arr) < r.minItems {
				violations = append(violations, FieldViolation{r.field, r.field + " must contain at least 1 entry"})
			}
			for _, v := range *arr {
				if v == "" {
					violations = append(violations, FieldViolation{r.field, r.field + " entries must be non-empty strings"})
					break
				}
			}
		}
	}

	if len(violations) > 0 {
		return &ValidationError{Violations: violations}
	}
	return nil
}

func (p *Payload) field(name string) (str *string, arr *[]string, present bool) {
	switch name {
	case "name":
		return p.Name, nil, p.Name != nil
	case "address":
		return p.Address, nil, p.Address != nil
	case "conditions":
		return nil, p.Conditions, p.Conditions != nil
	case "allergies":
		return nil, p.Allergies, p.Allergies != nil
	}
	return nil, nil, false
}
