package tree

import (
	"sort"

	"github.com/google/uuid"

	"github.com/yungbote/lessonweave-backend/internal/platform/apierr"
)

// NodeData is the per-node payload joined onto closure edges.
type NodeData struct {
	Title   string
	Content string
}

// Node is one element of a built tree. Depth is relative to the root the
// tree was built for.
type Node struct {
	ID       uuid.UUID `json:"id"`
	Title    string    `json:"title"`
	Content  string    `json:"content"`
	Depth    int       `json:"depth"`
	Position int       `json:"position"`
	Children []*Node   `json:"children"`
}

// Build reconstructs the tree under rootID from a module's flat edge list in
// one pass. Nodes are attached only through immediate-parent edges (depth 1),
// so a node never appears under a transitive ancestor.
func Build(edges []Edge, data map[uuid.UUID]NodeData, rootID uuid.UUID) (*Node, error) {
	records := make(map[uuid.UUID]*Node, len(edges))
	record := func(id uuid.UUID) *Node {
		n, ok := records[id]
		if !ok {
			d := data[id]
			n = &Node{ID: id, Title: d.Title, Content: d.Content, Children: []*Node{}}
			records[id] = n
		}
		return n
	}

	// Membership and depth come from the root's own edges.
	inTree := make(map[uuid.UUID]int)
	for _, e := range edges {
		if e.Ancestor == e.Descendant {
			record(e.Descendant).Position = e.Position
		}
		if e.Ancestor == rootID {
			inTree[e.Descendant] = e.Depth
		}
	}
	root, ok := records[rootID]
	if !ok {
		return nil, apierr.NotFound("node %s has no closure record", rootID)
	}
	if _, ok := inTree[rootID]; !ok {
		return nil, apierr.Corrupt("node %s has no self edge", rootID)
	}

	parents := make(map[uuid.UUID]int, len(inTree))
	for _, e := range edges {
		if e.Depth != 1 {
			continue
		}
		if _, ok := inTree[e.Descendant]; !ok {
			continue
		}
		if _, ok := inTree[e.Ancestor]; !ok {
			if e.Descendant == rootID {
				continue
			}
			return nil, apierr.Corrupt("node %s has parent %s outside subtree %s", e.Descendant, e.Ancestor, rootID)
		}
		child := record(e.Descendant)
		child.Position = e.Position
		parent := record(e.Ancestor)
		parent.Children = append(parent.Children, child)
		parents[e.Descendant]++
	}

	for id, depth := range inTree {
		if id == rootID {
			if parents[id] != 0 {
				return nil, apierr.Corrupt("root %s has a parent inside its own subtree", id)
			}
			continue
		}
		if parents[id] != 1 {
			return nil, apierr.Corrupt("node %s has %d immediate parents", id, parents[id])
		}
		records[id].Depth = depth
	}

	// Order children and make sure every member is reachable from the root.
	seen := 0
	stack := []*Node{root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		seen++
		sort.SliceStable(n.Children, func(i, j int) bool { return n.Children[i].Position < n.Children[j].Position })
		for i := 1; i < len(n.Children); i++ {
			if n.Children[i].Position == n.Children[i-1].Position {
				return nil, apierr.Corrupt("children of %s share position %d", n.ID, n.Children[i].Position)
			}
		}
		stack = append(stack, n.Children...)
	}
	if seen != len(inTree) {
		return nil, apierr.Corrupt("subtree %s: %d nodes listed, %d reachable", rootID, len(inTree), seen)
	}
	return root, nil
}

// Flatten re-derives closure edges from a built tree. Child positions come
// from their index in Children; the root keeps its own Position.
func Flatten(root *Node) []Edge {
	if root == nil {
		return nil
	}
	var out []Edge
	var path []uuid.UUID
	var walk func(n *Node, pos int)
	walk = func(n *Node, pos int) {
		for i, a := range path {
			out = append(out, Edge{Ancestor: a, Descendant: n.ID, Depth: len(path) - i, Position: pos})
		}
		out = append(out, Edge{Ancestor: n.ID, Descendant: n.ID, Depth: 0, Position: pos})
		path = append(path, n.ID)
		for i, c := range n.Children {
			walk(c, i)
		}
		path = path[:len(path)-1]
	}
	walk(root, root.Position)
	SortEdges(out)
	return out
}

// Walk visits nodes depth first in document order. Returning false from fn
// stops the walk.
func Walk(root *Node, fn func(n *Node) bool) {
	if root == nil {
		return
	}
	var visit func(n *Node) bool
	visit = func(n *Node) bool {
		if !fn(n) {
			return false
		}
		for _, c := range n.Children {
			if !visit(c) {
				return false
			}
		}
		return true
	}
	visit(root)
}

// Find returns the node with id inside root, or nil.
func Find(root *Node, id uuid.UUID) *Node {
	var found *Node
	Walk(root, func(n *Node) bool {
		if n.ID == id {
			found = n
			return false
		}
		return true
	})
	return found
}

// Count returns the number of nodes in the tree.
func Count(root *Node) int {
	n := 0
	Walk(root, func(*Node) bool { n++; return true })
	return n
}
