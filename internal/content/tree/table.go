package tree

import (
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/yungbote/lessonweave-backend/internal/platform/apierr"
)

// ErrCycle is returned by Move when the new parent lies inside the moved subtree.
var ErrCycle = fmt.Errorf("%w: move would create a cycle", apierr.ErrConflict)

// Edge is one closure row. Depth is the path length from Ancestor to
// Descendant; Position is the descendant's sibling index.
type Edge struct {
	Ancestor   uuid.UUID `json:"ancestor"`
	Descendant uuid.UUID `json:"descendant"`
	Depth      int       `json:"depth"`
	Position   int       `json:"position"`
}

type pair struct{ anc, desc uuid.UUID }

func keyOf(e Edge) pair { return pair{anc: e.Ancestor, desc: e.Descendant} }

// Table is an in-memory closure table for one module. It performs no I/O:
// every mutation is computed as a Plan which the caller persists and then
// applies to the table with Apply.
type Table struct {
	moduleID uuid.UUID
	rootID   uuid.UUID

	edges map[pair]Edge
	// anc[d] is the set of ancestors of d (self included), desc[a] the reverse.
	anc  map[uuid.UUID]map[uuid.UUID]struct{}
	desc map[uuid.UUID]map[uuid.UUID]struct{}
}

// New returns a table holding only the root's self edge.
func New(moduleID uuid.UUID) *Table {
	t := newTable(moduleID)
	t.add(Edge{Ancestor: moduleID, Descendant: moduleID})
	return t
}

// Load builds a table from persisted edges. The root is the module id.
func Load(moduleID uuid.UUID, edges []Edge) (*Table, error) {
	t := newTable(moduleID)
	for _, e := range edges {
		if _, dup := t.edges[keyOf(e)]; dup {
			return nil, apierr.Corrupt("duplicate edge %s -> %s", e.Ancestor, e.Descendant)
		}
		t.add(e)
	}
	if !t.Contains(moduleID) {
		return nil, apierr.NotFound("module %s has no root record", moduleID)
	}
	return t, nil
}

func newTable(moduleID uuid.UUID) *Table {
	return &Table{
		moduleID: moduleID,
		rootID:   moduleID,
		edges:    make(map[pair]Edge),
		anc:      make(map[uuid.UUID]map[uuid.UUID]struct{}),
		desc:     make(map[uuid.UUID]map[uuid.UUID]struct{}),
	}
}

func (t *Table) ModuleID() uuid.UUID { return t.moduleID }
func (t *Table) RootID() uuid.UUID   { return t.rootID }
func (t *Table) Len() int            { return len(t.desc) }

func (t *Table) add(e Edge) {
	t.edges[keyOf(e)] = e
	if t.anc[e.Descendant] == nil {
		t.anc[e.Descendant] = make(map[uuid.UUID]struct{})
	}
	t.anc[e.Descendant][e.Ancestor] = struct{}{}
	if t.desc[e.Ancestor] == nil {
		t.desc[e.Ancestor] = make(map[uuid.UUID]struct{})
	}
	t.desc[e.Ancestor][e.Descendant] = struct{}{}
}

func (t *Table) remove(k pair) {
	delete(t.edges, k)
	if set := t.anc[k.desc]; set != nil {
		delete(set, k.anc)
		if len(set) == 0 {
			delete(t.anc, k.desc)
		}
	}
	if set := t.desc[k.anc]; set != nil {
		delete(set, k.desc)
		if len(set) == 0 {
			delete(t.desc, k.anc)
		}
	}
}

// Contains reports whether id has a self edge.
func (t *Table) Contains(id uuid.UUID) bool {
	_, ok := t.edges[pair{anc: id, desc: id}]
	return ok
}

// Position returns id's sibling index.
func (t *Table) Position(id uuid.UUID) int {
	return t.edges[pair{anc: id, desc: id}].Position
}

// Depth returns the distance from the module root, or -1 when unknown.
func (t *Table) Depth(id uuid.UUID) int {
	e, ok := t.edges[pair{anc: t.rootID, desc: id}]
	if !ok {
		return -1
	}
	return e.Depth
}

// Parent returns id's immediate parent.
func (t *Table) Parent(id uuid.UUID) (uuid.UUID, bool) {
	for a := range t.anc[id] {
		if t.edges[pair{anc: a, desc: id}].Depth == 1 {
			return a, true
		}
	}
	return uuid.Nil, false
}

// Children returns the immediate children of id ordered by position.
func (t *Table) Children(id uuid.UUID) []uuid.UUID {
	type child struct {
		id  uuid.UUID
		pos int
	}
	var kids []child
	for d := range t.desc[id] {
		e := t.edges[pair{anc: id, desc: d}]
		if e.Depth == 1 {
			kids = append(kids, child{id: d, pos: e.Position})
		}
	}
	sort.Slice(kids, func(i, j int) bool {
		if kids[i].pos != kids[j].pos {
			return kids[i].pos < kids[j].pos
		}
		return kids[i].id.String() < kids[j].id.String()
	})
	out := make([]uuid.UUID, len(kids))
	for i, k := range kids {
		out[i] = k.id
	}
	return out
}

// Subtree returns id and all of its descendants.
func (t *Table) Subtree(id uuid.UUID) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(t.desc[id]))
	for d := range t.desc[id] {
		out = append(out, d)
	}
	sortIDs(out)
	return out
}

// Edges returns every edge in a stable order.
func (t *Table) Edges() []Edge {
	out := make([]Edge, 0, len(t.edges))
	for _, e := range t.edges {
		out = append(out, e)
	}
	SortEdges(out)
	return out
}

// InsertChild plans the edges for a new leaf under parentID, appended after
// the parent's existing children.
func (t *Table) InsertChild(parentID, newID uuid.UUID) (*Plan, error) {
	if parentID == uuid.Nil || newID == uuid.Nil {
		return nil, apierr.Validation("parent and node ids are required")
	}
	if !t.Contains(parentID) {
		return nil, apierr.NotFound("parent node %s", parentID)
	}
	if t.Contains(newID) {
		return nil, apierr.Conflict("node %s already exists", newID)
	}
	pos := len(t.Children(parentID))
	plan := &Plan{ModuleID: t.moduleID}
	for a := range t.anc[parentID] {
		up := t.edges[pair{anc: a, desc: parentID}]
		plan.Insert = append(plan.Insert, Edge{Ancestor: a, Descendant: newID, Depth: up.Depth + 1, Position: pos})
	}
	plan.Insert = append(plan.Insert, Edge{Ancestor: newID, Descendant: newID, Depth: 0, Position: pos})
	SortEdges(plan.Insert)
	return plan, nil
}

// DeleteSubtree plans removal of nodeID and everything below it. Siblings
// after it under the same parent move up by one.
func (t *Table) DeleteSubtree(nodeID uuid.UUID) (*Plan, error) {
	if nodeID == uuid.Nil {
		return nil, apierr.Validation("node id is required")
	}
	if !t.Contains(nodeID) {
		return nil, apierr.NotFound("node %s", nodeID)
	}
	plan := &Plan{ModuleID: t.moduleID}
	plan.Removed = t.Subtree(nodeID)
	for _, d := range plan.Removed {
		for a := range t.anc[d] {
			plan.Delete = append(plan.Delete, t.edges[pair{anc: a, desc: d}])
		}
	}
	SortEdges(plan.Delete)
	if parent, ok := t.Parent(nodeID); ok {
		plan.Shifts = append(plan.Shifts, Shift{Parent: parent, From: t.Position(nodeID) + 1, Delta: -1})
	}
	return plan, nil
}

// Move plans re-parenting nodeID (with its subtree) under newParentID at
// newPosition. Positions past the end append.
func (t *Table) Move(nodeID, newParentID uuid.UUID, newPosition int) (*Plan, error) {
	if nodeID == uuid.Nil || newParentID == uuid.Nil {
		return nil, apierr.Validation("node and parent ids are required")
	}
	if newPosition < 0 {
		return nil, apierr.Validation("position must be >= 0, got %d", newPosition)
	}
	if nodeID == t.rootID {
		return nil, apierr.Validation("the module root cannot be moved")
	}
	if !t.Contains(nodeID) {
		return nil, apierr.NotFound("node %s", nodeID)
	}
	if !t.Contains(newParentID) {
		return nil, apierr.NotFound("parent node %s", newParentID)
	}
	if _, inside := t.desc[nodeID][newParentID]; inside {
		return nil, ErrCycle
	}
	oldParent, _ := t.Parent(nodeID)
	oldPos := t.Position(nodeID)
	sub := t.Subtree(nodeID)

	plan := &Plan{ModuleID: t.moduleID}
	for a := range t.anc[nodeID] {
		if a == nodeID {
			continue
		}
		for _, d := range sub {
			plan.Delete = append(plan.Delete, t.edges[pair{anc: a, desc: d}])
		}
	}
	SortEdges(plan.Delete)

	count := len(t.Children(newParentID))
	if newParentID == oldParent {
		count--
	}
	if newPosition > count {
		newPosition = count
	}
	plan.Shifts = []Shift{
		{Parent: oldParent, From: oldPos + 1, Delta: -1},
		{Parent: newParentID, From: newPosition, Delta: 1},
	}

	for a := range t.anc[newParentID] {
		toParent := t.edges[pair{anc: a, desc: newParentID}].Depth
		for _, d := range sub {
			inner := t.edges[pair{anc: nodeID, desc: d}]
			pos := inner.Position
			if d == nodeID {
				pos = newPosition
			}
			plan.Insert = append(plan.Insert, Edge{
				Ancestor:   a,
				Descendant: d,
				Depth:      toParent + 1 + inner.Depth,
				Position:   pos,
			})
		}
	}
	SortEdges(plan.Insert)
	plan.Positions = []NodePosition{{Node: nodeID, Position: newPosition}}
	return plan, nil
}

// Apply mutates the table with a plan in the order deletes, shifts, inserts,
// positions. Persistence layers replay the same order.
func (t *Table) Apply(p *Plan) {
	if p == nil {
		return
	}
	for _, e := range p.Delete {
		t.remove(keyOf(e))
	}
	for _, s := range p.Shifts {
		for _, c := range t.Children(s.Parent) {
			if pos := t.Position(c); pos >= s.From {
				t.setPosition(c, pos+s.Delta)
			}
		}
	}
	for _, e := range p.Insert {
		t.add(e)
	}
	for _, np := range p.Positions {
		t.setPosition(np.Node, np.Position)
	}
}

func (t *Table) setPosition(id uuid.UUID, pos int) {
	for a := range t.anc[id] {
		k := pair{anc: a, desc: id}
		e := t.edges[k]
		e.Position = pos
		t.edges[k] = e
	}
}

// Validate checks every closure invariant and returns a Corrupt error for the
// first violation found.
func (t *Table) Validate() error {
	if !t.Contains(t.rootID) {
		return apierr.NotFound("module %s has no root record", t.rootID)
	}
	if len(t.anc[t.rootID]) != 1 {
		return apierr.Corrupt("root %s has ancestors", t.rootID)
	}
	if t.Position(t.rootID) != 0 {
		return apierr.Corrupt("root %s has position %d", t.rootID, t.Position(t.rootID))
	}
	for d, ancestors := range t.anc {
		self, ok := t.edges[pair{anc: d, desc: d}]
		if !ok || self.Depth != 0 {
			return apierr.Corrupt("node %s has no self edge", d)
		}
		if _, ok := ancestors[t.rootID]; !ok {
			return apierr.Corrupt("node %s is not reachable from root", d)
		}
		for a := range ancestors {
			if e := t.edges[pair{anc: a, desc: d}]; e.Position != self.Position {
				return apierr.Corrupt("edge %s -> %s position %d, node position %d", a, d, e.Position, self.Position)
			}
		}
		if d == t.rootID {
			continue
		}
		parents := 0
		var parent uuid.UUID
		for a := range ancestors {
			if t.edges[pair{anc: a, desc: d}].Depth == 1 {
				parents++
				parent = a
			}
		}
		if parents != 1 {
			return apierr.Corrupt("node %s has %d immediate parents", d, parents)
		}
		if len(ancestors) != len(t.anc[parent])+1 {
			return apierr.Corrupt("node %s ancestor set does not extend its parent's", d)
		}
		for a := range t.anc[parent] {
			up, ok := t.edges[pair{anc: a, desc: d}]
			if !ok || up.Depth != t.edges[pair{anc: a, desc: parent}].Depth+1 {
				return apierr.Corrupt("edge %s -> %s has wrong depth", a, d)
			}
		}
	}
	for p := range t.desc {
		for i, c := range t.Children(p) {
			if t.Position(c) != i {
				return apierr.Corrupt("children of %s are not contiguous at %s (position %d, want %d)", p, c, t.Position(c), i)
			}
		}
	}
	return nil
}

// SortEdges orders edges by ancestor, then descendant.
func SortEdges(edges []Edge) {
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].Ancestor != edges[j].Ancestor {
			return edges[i].Ancestor.String() < edges[j].Ancestor.String()
		}
		return edges[i].Descendant.String() < edges[j].Descendant.String()
	})
}

func sortIDs(ids []uuid.UUID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
}
