package testutil

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/lessonweave-backend/internal/domain"
)

// SeedModule creates a module and its root node with the root self edge.
func SeedModule(tb testing.TB, ctx context.Context, tx *gorm.DB, name string) *types.Module {
	tb.Helper()
	m := &types.Module{
		ID:          uuid.New(),
		WorkspaceID: uuid.New(),
		Name:        name,
	}
	if err := tx.WithContext(ctx).Create(m).Error; err != nil {
		tb.Fatalf("seed module: %v", err)
	}
	root := &types.ModuleNode{ID: m.ID, ModuleID: m.ID, Title: name}
	if err := tx.WithContext(ctx).Create(root).Error; err != nil {
		tb.Fatalf("seed root node: %v", err)
	}
	self := &types.ClosureEdge{ModuleID: m.ID, Ancestor: m.ID, Descendant: m.ID}
	if err := tx.WithContext(ctx).Create(self).Error; err != nil {
		tb.Fatalf("seed root edge: %v", err)
	}
	return m
}

// SeedChild creates a node under parent with the closure rows a single
// insert would produce.
func SeedChild(tb testing.TB, ctx context.Context, tx *gorm.DB, moduleID, parentID uuid.UUID, title string) *types.ModuleNode {
	tb.Helper()
	var parentEdges []*types.ClosureEdge
	if err := tx.WithContext(ctx).Where("module_id = ? AND descendant = ?", moduleID, parentID).Find(&parentEdges).Error; err != nil {
		tb.Fatalf("load parent edges: %v", err)
	}
	var siblings int64
	if err := tx.WithContext(ctx).Model(&types.ClosureEdge{}).Where("ancestor = ? AND depth = 1", parentID).Count(&siblings).Error; err != nil {
		tb.Fatalf("count siblings: %v", err)
	}
	n := &types.ModuleNode{ID: uuid.New(), ModuleID: moduleID, Title: title}
	if err := tx.WithContext(ctx).Create(n).Error; err != nil {
		tb.Fatalf("seed node: %v", err)
	}
	edges := []*types.ClosureEdge{{ModuleID: moduleID, Ancestor: n.ID, Descendant: n.ID, Position: int(siblings)}}
	for _, pe := range parentEdges {
		edges = append(edges, &types.ClosureEdge{
			ModuleID:   moduleID,
			Ancestor:   pe.Ancestor,
			Descendant: n.ID,
			Depth:      pe.Depth + 1,
			Position:   int(siblings),
		})
	}
	if err := tx.WithContext(ctx).Create(&edges).Error; err != nil {
		tb.Fatalf("seed edges: %v", err)
	}
	return n
}
