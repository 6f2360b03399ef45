package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yungbote/lessonweave-backend/internal/content/tree"
	"github.com/yungbote/lessonweave-backend/internal/data/repos"
	types "github.com/yungbote/lessonweave-backend/internal/domain"
	"github.com/yungbote/lessonweave-backend/internal/platform/apierr"
	"github.com/yungbote/lessonweave-backend/internal/platform/dbctx"
	"github.com/yungbote/lessonweave-backend/internal/platform/logger"
	"github.com/yungbote/lessonweave-backend/internal/streaming"
)

// ContentStore is the persistence boundary of the content engine. Reads of a
// missing row return NotFound; driver failures come back as Persistence.
type ContentStore interface {
	Transaction(ctx context.Context, fn func(dbc dbctx.Context) error) error

	CreateModule(dbc dbctx.Context, m *types.Module) (*types.Module, error)
	GetModule(dbc dbctx.Context, id uuid.UUID) (*types.Module, error)
	// LockModule loads the module and, on Postgres, holds its row lock until
	// the transaction ends so concurrent tree edits serialize.
	LockModule(dbc dbctx.Context, id uuid.UUID) (*types.Module, error)
	ListModules(dbc dbctx.Context, workspaceID uuid.UUID) ([]*types.Module, error)
	UpdateModule(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	DeleteModule(dbc dbctx.Context, id uuid.UUID) error

	CreateNode(dbc dbctx.Context, n *types.ModuleNode) error
	ReadNode(dbc dbctx.Context, id uuid.UUID) (*types.ModuleNode, error)
	ReadNodes(dbc dbctx.Context, moduleID uuid.UUID) ([]*types.ModuleNode, error)
	UpdateNodeContent(dbc dbctx.Context, id uuid.UUID, content string, metadata []byte) error
	UpdateNode(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	DeleteNodeCascade(dbc dbctx.Context, moduleID uuid.UUID, ids []uuid.UUID) error

	ReadClosureEdges(dbc dbctx.Context, moduleID uuid.UUID) ([]tree.Edge, error)
	ReadSubtreeEdges(dbc dbctx.Context, moduleID, nodeID uuid.UUID) ([]tree.Edge, error)
	InsertClosureEdges(dbc dbctx.Context, moduleID uuid.UUID, edges []tree.Edge) error
	DeleteClosureEdges(dbc dbctx.Context, moduleID uuid.UUID, edges []tree.Edge) error
	RenumberSiblingPositions(dbc dbctx.Context, moduleID, parentID uuid.UUID, from, delta int) error
	SetNodePosition(dbc dbctx.Context, moduleID, nodeID uuid.UUID, position int) error

	// ApplyPlan persists a tree.Plan: deletes, shifts, inserts, positions,
	// then the rows of removed nodes.
	ApplyPlan(dbc dbctx.Context, p *tree.Plan) error

	// PersistSnapshot writes a finished generation into its node.
	PersistSnapshot(ctx context.Context, info streaming.SessionInfo, snap streaming.Snapshot) error
}

type contentStore struct {
	db    *gorm.DB
	log   *logger.Logger
	repos repos.Repos
}

func NewContentStore(db *gorm.DB, baseLog *logger.Logger, r repos.Repos) ContentStore {
	return &contentStore{
		db:    db,
		log:   baseLog.With("service", "ContentStore"),
		repos: r,
	}
}

func (s *contentStore) Transaction(ctx context.Context, fn func(dbc dbctx.Context) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(dbctx.Context{Ctx: ctx, Tx: tx})
	})
}

func (s *contentStore) CreateModule(dbc dbctx.Context, m *types.Module) (*types.Module, error) {
	if m == nil || m.WorkspaceID == uuid.Nil {
		return nil, apierr.Validation("workspace id required")
	}
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	now := time.Now().UTC()
	m.CreatedAt, m.UpdatedAt = now, now
	root := &types.ModuleNode{
		ID:        m.ID,
		ModuleID:  m.ID,
		Title:     m.Name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	run := func(inner dbctx.Context) error {
		if _, err := s.repos.Modules.Create(inner, []*types.Module{m}); err != nil {
			return err
		}
		if _, err := s.repos.Nodes.Create(inner, []*types.ModuleNode{root}); err != nil {
			return err
		}
		return s.InsertClosureEdges(inner, m.ID, tree.New(m.ID).Edges())
	}
	if err := s.inTx(dbc, run); err != nil {
		return nil, apierr.Persistence(err)
	}
	return m, nil
}

func (s *contentStore) GetModule(dbc dbctx.Context, id uuid.UUID) (*types.Module, error) {
	m, err := s.repos.Modules.GetByID(dbc, id)
	if err != nil {
		return nil, apierr.Persistence(err)
	}
	if m == nil {
		return nil, apierr.NotFound("module %s not found", id)
	}
	return m, nil
}

func (s *contentStore) LockModule(dbc dbctx.Context, id uuid.UUID) (*types.Module, error) {
	tx := dbc.DB(s.db)
	if tx.Dialector.Name() == "postgres" {
		tx = tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var m types.Module
	res := tx.Where("id = ?", id).Limit(1).Find(&m)
	if res.Error != nil {
		return nil, apierr.Persistence(res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, apierr.NotFound("module %s not found", id)
	}
	return &m, nil
}

func (s *contentStore) ListModules(dbc dbctx.Context, workspaceID uuid.UUID) ([]*types.Module, error) {
	out, err := s.repos.Modules.ListByWorkspace(dbc, workspaceID)
	if err != nil {
		return nil, apierr.Persistence(err)
	}
	return out, nil
}

func (s *contentStore) UpdateModule(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	return apierr.Persistence(s.repos.Modules.UpdateFields(dbc, id, updates))
}

func (s *contentStore) DeleteModule(dbc dbctx.Context, id uuid.UUID) error {
	err := s.inTx(dbc, func(inner dbctx.Context) error {
		if err := s.repos.Closure.DeleteByModule(inner, id); err != nil {
			return err
		}
		if err := s.repos.Nodes.DeleteByModule(inner, id); err != nil {
			return err
		}
		return s.repos.Modules.Delete(inner, id)
	})
	return apierr.Persistence(err)
}

func (s *contentStore) CreateNode(dbc dbctx.Context, n *types.ModuleNode) error {
	now := time.Now().UTC()
	n.CreatedAt, n.UpdatedAt = now, now
	_, err := s.repos.Nodes.Create(dbc, []*types.ModuleNode{n})
	return apierr.Persistence(err)
}

func (s *contentStore) ReadNode(dbc dbctx.Context, id uuid.UUID) (*types.ModuleNode, error) {
	n, err := s.repos.Nodes.GetByID(dbc, id)
	if err != nil {
		return nil, apierr.Persistence(err)
	}
	if n == nil {
		return nil, apierr.NotFound("node %s not found", id)
	}
	return n, nil
}

func (s *contentStore) ReadNodes(dbc dbctx.Context, moduleID uuid.UUID) ([]*types.ModuleNode, error) {
	out, err := s.repos.Nodes.ListByModule(dbc, moduleID)
	if err != nil {
		return nil, apierr.Persistence(err)
	}
	return out, nil
}

func (s *contentStore) UpdateNodeContent(dbc dbctx.Context, id uuid.UUID, content string, metadata []byte) error {
	updates := map[string]interface{}{"content": content}
	if len(metadata) > 0 {
		updates["metadata"] = datatypes.JSON(metadata)
	}
	return s.UpdateNode(dbc, id, updates)
}

func (s *contentStore) UpdateNode(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	ok, err := s.repos.Nodes.UpdateFields(dbc, id, updates)
	if err != nil {
		return apierr.Persistence(err)
	}
	if !ok {
		return apierr.NotFound("node %s not found", id)
	}
	return nil
}

func (s *contentStore) DeleteNodeCascade(dbc dbctx.Context, moduleID uuid.UUID, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	err := s.inTx(dbc, func(inner dbctx.Context) error {
		if err := s.repos.Closure.DeleteTouching(inner, moduleID, ids); err != nil {
			return err
		}
		return s.repos.Nodes.DeleteByIDs(inner, ids)
	})
	return apierr.Persistence(err)
}

func (s *contentStore) ReadClosureEdges(dbc dbctx.Context, moduleID uuid.UUID) ([]tree.Edge, error) {
	rows, err := s.repos.Closure.ListByModule(dbc, moduleID)
	if err != nil {
		return nil, apierr.Persistence(err)
	}
	return toEdges(rows), nil
}

func (s *contentStore) ReadSubtreeEdges(dbc dbctx.Context, moduleID, nodeID uuid.UUID) ([]tree.Edge, error) {
	rows, err := s.repos.Closure.ListSubtree(dbc, moduleID, nodeID)
	if err != nil {
		return nil, apierr.Persistence(err)
	}
	return toEdges(rows), nil
}

func (s *contentStore) InsertClosureEdges(dbc dbctx.Context, moduleID uuid.UUID, edges []tree.Edge) error {
	if len(edges) == 0 {
		return nil
	}
	return apierr.Persistence(s.repos.Closure.Insert(dbc, toRows(moduleID, edges)))
}

func (s *contentStore) DeleteClosureEdges(dbc dbctx.Context, moduleID uuid.UUID, edges []tree.Edge) error {
	if len(edges) == 0 {
		return nil
	}
	return apierr.Persistence(s.repos.Closure.DeletePairs(dbc, moduleID, toRows(moduleID, edges)))
}

func (s *contentStore) RenumberSiblingPositions(dbc dbctx.Context, moduleID, parentID uuid.UUID, from, delta int) error {
	return apierr.Persistence(s.repos.Closure.ShiftSiblings(dbc, moduleID, parentID, from, delta))
}

func (s *contentStore) SetNodePosition(dbc dbctx.Context, moduleID, nodeID uuid.UUID, position int) error {
	return apierr.Persistence(s.repos.Closure.SetPosition(dbc, moduleID, nodeID, position))
}

func (s *contentStore) ApplyPlan(dbc dbctx.Context, p *tree.Plan) error {
	if p == nil {
		return nil
	}
	return s.inTx(dbc, func(inner dbctx.Context) error {
		if err := s.DeleteClosureEdges(inner, p.ModuleID, p.Delete); err != nil {
			return err
		}
		for _, sh := range p.Shifts {
			if err := s.RenumberSiblingPositions(inner, p.ModuleID, sh.Parent, sh.From, sh.Delta); err != nil {
				return err
			}
		}
		if err := s.InsertClosureEdges(inner, p.ModuleID, p.Insert); err != nil {
			return err
		}
		for _, np := range p.Positions {
			if err := s.SetNodePosition(inner, p.ModuleID, np.Node, np.Position); err != nil {
				return err
			}
		}
		if len(p.Removed) > 0 {
			if err := s.repos.Nodes.DeleteByIDs(inner, p.Removed); err != nil {
				return apierr.Persistence(err)
			}
		}
		return nil
	})
}

func (s *contentStore) PersistSnapshot(ctx context.Context, info streaming.SessionInfo, snap streaming.Snapshot) error {
	dbc := dbctx.New(ctx)
	if err := s.UpdateNodeContent(dbc, info.Key.EntityID, snap.Text, snap.Data); err != nil {
		s.log.Warn("persist snapshot failed", "session_id", info.ID, "node_id", info.Key.EntityID, "error", err)
		return err
	}
	s.log.Debug("snapshot persisted", "session_id", info.ID, "node_id", info.Key.EntityID, "bytes", len(snap.Text))
	return nil
}

// inTx runs fn in dbc's transaction, opening one when dbc has none.
func (s *contentStore) inTx(dbc dbctx.Context, fn func(inner dbctx.Context) error) error {
	if dbc.Tx != nil {
		return fn(dbc)
	}
	ctx := dbc.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	return s.Transaction(ctx, fn)
}

func toEdges(rows []*types.ClosureEdge) []tree.Edge {
	out := make([]tree.Edge, 0, len(rows))
	for _, r := range rows {
		if r == nil {
			continue
		}
		out = append(out, tree.Edge{
			Ancestor:   r.Ancestor,
			Descendant: r.Descendant,
			Depth:      r.Depth,
			Position:   r.Position,
		})
	}
	return out
}

func toRows(moduleID uuid.UUID, edges []tree.Edge) []*types.ClosureEdge {
	out := make([]*types.ClosureEdge, 0, len(edges))
	for _, e := range edges {
		out = append(out, &types.ClosureEdge{
			ModuleID:   moduleID,
			Ancestor:   e.Ancestor,
			Descendant: e.Descendant,
			Depth:      e.Depth,
			Position:   e.Position,
		})
	}
	return out
}
