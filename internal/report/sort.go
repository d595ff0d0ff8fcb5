package report

// Direction is the sort order of a SortSpec.
type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// SortSpec selects the single active sort field. An empty Field leaves the
// order to the server.
type SortSpec struct {
	Field     string    `json:"field,omitempty"`
	Direction Direction `json:"direction,omitempty" validate:"omitempty,oneof=asc desc"`
}

// Toggle returns the sort that results from the user selecting field:
// the same field flips direction, a new field starts ascending.
func (s SortSpec) Toggle(field string) SortSpec {
	if field == "" {
		return SortSpec{}
	}
	if s.Field == field {
		if s.direction() == Asc {
			return SortSpec{Field: field, Direction: Desc}
		}
		return SortSpec{Field: field, Direction: Asc}
	}
	return SortSpec{Field: field, Direction: Asc}
}

func (s SortSpec) direction() Direction {
	if s.Direction == Desc {
		return Desc
	}
	return Asc
}
