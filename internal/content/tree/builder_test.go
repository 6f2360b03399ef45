package tree

import (
	"errors"
	"reflect"
	"testing"

	"github.com/google/uuid"

	"github.com/yungbote/lessonweave-backend/internal/platform/apierr"
)

func TestBuildFlattenRoundTrip(t *testing.T) {
	tbl, ids := sample(t)
	plan, err := tbl.Move(ids["B1"], ids["A"], 1)
	if err != nil {
		t.Fatalf("Move: %v", err)
	}
	tbl.Apply(plan)
	mustInsert(t, tbl, ids["A2"])
	mustValid(t, tbl)

	root, err := Build(tbl.Edges(), nil, ids["M"])
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if got, want := Flatten(root), tbl.Edges(); !reflect.DeepEqual(got, want) {
		t.Fatalf("round trip mismatch:\n got=%v\nwant=%v", got, want)
	}
}

func TestBuildScenarioModuleWithTwoChildren(t *testing.T) {
	m := uuid.New()
	tbl := New(m)
	a := mustInsert(t, tbl, m)
	b := mustInsert(t, tbl, m)
	data := map[uuid.UUID]NodeData{
		m: {Title: "Module"},
		a: {Title: "A", Content: "alpha"},
		b: {Title: "B", Content: "beta"},
	}
	root, err := Build(tbl.Edges(), data, m)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if root.ID != m || len(root.Children) != 2 {
		t.Fatalf("root: %+v", root)
	}
	if root.Children[0].ID != a || root.Children[0].Depth != 1 || root.Children[0].Position != 0 {
		t.Fatalf("A: %+v", root.Children[0])
	}
	if root.Children[1].ID != b || root.Children[1].Position != 1 || root.Children[1].Content != "beta" {
		t.Fatalf("B: %+v", root.Children[1])
	}
}

func TestBuildAttachesOnlyToImmediateParent(t *testing.T) {
	tbl, ids := sample(t)
	root, err := Build(tbl.Edges(), nil, ids["M"])
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(root.Children) != 3 {
		t.Fatalf("root children: want=3 got=%d", len(root.Children))
	}
	if Count(root) != 7 {
		t.Fatalf("count: want=7 got=%d", Count(root))
	}
}

func TestBuildSubtree(t *testing.T) {
	tbl, ids := sample(t)
	sub, err := Build(tbl.Edges(), nil, ids["A"])
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if sub.ID != ids["A"] || sub.Depth != 0 || len(sub.Children) != 2 {
		t.Fatalf("subtree: %+v", sub)
	}
	if sub.Children[0].ID != ids["A1"] || sub.Children[1].ID != ids["A2"] {
		t.Fatalf("subtree order: %s %s", sub.Children[0].ID, sub.Children[1].ID)
	}
	if Find(sub, ids["B1"]) != nil {
		t.Fatalf("B1 leaked into A's subtree")
	}
}

func TestBuildRejectsMissingRootAndCorruption(t *testing.T) {
	tbl, ids := sample(t)
	if _, err := Build(tbl.Edges(), nil, uuid.New()); !errors.Is(err, apierr.ErrNotFound) {
		t.Fatalf("missing root: want not found, got=%v", err)
	}

	// Drop A1's parent edge: the closure claims A1 but cannot place it.
	var broken []Edge
	for _, e := range tbl.Edges() {
		if e.Descendant == ids["A1"] && e.Depth == 1 {
			continue
		}
		broken = append(broken, e)
	}
	if _, err := Build(broken, nil, ids["M"]); !errors.Is(err, apierr.ErrCorrupt) {
		t.Fatalf("orphan: want corrupt, got=%v", err)
	}

	// A second immediate parent for B1.
	dup := append(tbl.Edges(), Edge{Ancestor: ids["C"], Descendant: ids["B1"], Depth: 1, Position: 0})
	if _, err := Build(dup, nil, ids["M"]); !errors.Is(err, apierr.ErrCorrupt) {
		t.Fatalf("two parents: want corrupt, got=%v", err)
	}
}

func TestWalkIsDocumentOrder(t *testing.T) {
	tbl, ids := sample(t)
	root, err := Build(tbl.Edges(), nil, ids["M"])
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	var got []uuid.UUID
	Walk(root, func(n *Node) bool {
		got = append(got, n.ID)
		return true
	})
	want := []uuid.UUID{ids["M"], ids["A"], ids["A1"], ids["A2"], ids["B"], ids["B1"], ids["C"]}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("walk order: want=%v got=%v", want, got)
	}
}
