package tree

import "github.com/google/uuid"

// Plan is the set of closure changes produced by one Table mutation.
// Consumers must apply the parts in field order.
type Plan struct {
	ModuleID uuid.UUID `json:"module_id"`

	Delete    []Edge         `json:"delete,omitempty"`
	Shifts    []Shift        `json:"shifts,omitempty"`
	Insert    []Edge         `json:"insert,omitempty"`
	Positions []NodePosition `json:"positions,omitempty"`

	// Removed lists nodes whose rows should be deleted along with their edges.
	Removed []uuid.UUID `json:"removed,omitempty"`
}

// Shift moves every child of Parent whose position is >= From by Delta.
// It is scoped to one immediate parent, never to a depth level.
type Shift struct {
	Parent uuid.UUID `json:"parent"`
	From   int       `json:"from"`
	Delta  int       `json:"delta"`
}

// NodePosition sets Position on every edge ending at Node.
type NodePosition struct {
	Node     uuid.UUID `json:"node"`
	Position int       `json:"position"`
}

func (p *Plan) Empty() bool {
	return p == nil || (len(p.Delete) == 0 && len(p.Shifts) == 0 && len(p.Insert) == 0 && len(p.Positions) == 0)
}
