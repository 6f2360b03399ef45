package content

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/yungbote/lessonweave-backend/internal/data/repos/testutil"
	types "github.com/yungbote/lessonweave-backend/internal/domain"
	"github.com/yungbote/lessonweave-backend/internal/platform/dbctx"
)

func positions(t *testing.T, repo ClosureRepo, dbc dbctx.Context, moduleID uuid.UUID) map[uuid.UUID]int {
	t.Helper()
	edges, err := repo.ListByModule(dbc, moduleID)
	if err != nil {
		t.Fatalf("ListByModule: %v", err)
	}
	out := map[uuid.UUID]int{}
	for _, e := range edges {
		if prev, ok := out[e.Descendant]; ok && prev != e.Position {
			t.Fatalf("node %s has positions %d and %d", e.Descendant, prev, e.Position)
		}
		out[e.Descendant] = e.Position
	}
	return out
}

func TestClosureRepoShiftIsParentScoped(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}
	repo := NewClosureRepo(db, testutil.Logger(t))

	m := testutil.SeedModule(t, ctx, tx, "m")
	a := testutil.SeedChild(t, ctx, tx, m.ID, m.ID, "a")
	b := testutil.SeedChild(t, ctx, tx, m.ID, m.ID, "b")
	a1 := testutil.SeedChild(t, ctx, tx, m.ID, a.ID, "a1")
	a2 := testutil.SeedChild(t, ctx, tx, m.ID, a.ID, "a2")
	b1 := testutil.SeedChild(t, ctx, tx, m.ID, b.ID, "b1")
	b2 := testutil.SeedChild(t, ctx, tx, m.ID, b.ID, "b2")

	if err := repo.ShiftSiblings(dbc, m.ID, a.ID, 1, -1); err != nil {
		t.Fatalf("ShiftSiblings: %v", err)
	}
	got := positions(t, repo, dbc, m.ID)
	if got[a1.ID] != 0 || got[a2.ID] != 0 {
		t.Fatalf("a children: a1=%d a2=%d", got[a1.ID], got[a2.ID])
	}
	if got[b1.ID] != 0 || got[b2.ID] != 1 {
		t.Fatalf("b children moved: b1=%d b2=%d", got[b1.ID], got[b2.ID])
	}

	if err := repo.SetPosition(dbc, m.ID, a2.ID, 1); err != nil {
		t.Fatalf("SetPosition: %v", err)
	}
	if got := positions(t, repo, dbc, m.ID); got[a2.ID] != 1 {
		t.Fatalf("a2 position: want=1 got=%d", got[a2.ID])
	}
}

func TestClosureRepoDeleteAndSubtree(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}
	repo := NewClosureRepo(db, testutil.Logger(t))

	m := testutil.SeedModule(t, ctx, tx, "m")
	a := testutil.SeedChild(t, ctx, tx, m.ID, m.ID, "a")
	a1 := testutil.SeedChild(t, ctx, tx, m.ID, a.ID, "a1")
	b := testutil.SeedChild(t, ctx, tx, m.ID, m.ID, "b")

	sub, err := repo.ListSubtree(dbc, m.ID, a.ID)
	if err != nil {
		t.Fatalf("ListSubtree: %v", err)
	}
	// a: self + m->a; a1: self + a->a1 + m->a1
	if len(sub) != 5 {
		t.Fatalf("subtree edges: want=5 got=%d", len(sub))
	}

	if err := repo.DeleteTouching(dbc, m.ID, []uuid.UUID{a.ID, a1.ID}); err != nil {
		t.Fatalf("DeleteTouching: %v", err)
	}
	all, err := repo.ListByModule(dbc, m.ID)
	if err != nil {
		t.Fatalf("ListByModule: %v", err)
	}
	// m self, b self, m->b
	if len(all) != 3 {
		t.Fatalf("remaining edges: want=3 got=%d", len(all))
	}

	if err := repo.DeletePairs(dbc, m.ID, []*types.ClosureEdge{{Ancestor: m.ID, Descendant: b.ID}}); err != nil {
		t.Fatalf("DeletePairs: %v", err)
	}
	all, _ = repo.ListByModule(dbc, m.ID)
	if len(all) != 2 {
		t.Fatalf("after DeletePairs: want=2 got=%d", len(all))
	}

	if err := repo.DeleteByModule(dbc, m.ID); err != nil {
		t.Fatalf("DeleteByModule: %v", err)
	}
	all, _ = repo.ListByModule(dbc, m.ID)
	if len(all) != 0 {
		t.Fatalf("after DeleteByModule: want=0 got=%d", len(all))
	}
}
