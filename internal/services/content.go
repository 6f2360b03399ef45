package services

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/yungbote/lessonweave-backend/internal/content/tree"
	types "github.com/yungbote/lessonweave-backend/internal/domain"
	"github.com/yungbote/lessonweave-backend/internal/generation"
	"github.com/yungbote/lessonweave-backend/internal/observability"
	"github.com/yungbote/lessonweave-backend/internal/platform/apierr"
	"github.com/yungbote/lessonweave-backend/internal/platform/ctxutil"
	"github.com/yungbote/lessonweave-backend/internal/platform/dbctx"
	"github.com/yungbote/lessonweave-backend/internal/platform/logger"
	"github.com/yungbote/lessonweave-backend/internal/realtime"
	"github.com/yungbote/lessonweave-backend/internal/streaming"
)

const (
	SourceBuffer = "buffer"
	SourceStore  = "store"
)

// TreeView is a module tree plus where its content came from. Source is
// "buffer" when at least one node shows an in-flight generation.
type TreeView struct {
	Source string     `json:"source"`
	Tree   *tree.Node `json:"tree"`
}

// TreeChange is the payload of tree.changed broadcasts.
type TreeChange struct {
	ModuleID uuid.UUID   `json:"module_id"`
	Op       string      `json:"op"`
	NodeID   uuid.UUID   `json:"node_id"`
	ParentID uuid.UUID   `json:"parent_id,omitempty"`
	Removed  []uuid.UUID `json:"removed,omitempty"`
}

type CreateModuleInput struct {
	WorkspaceID uuid.UUID
	Name        string
	Description string
}

type InsertNodeInput struct {
	ModuleID uuid.UUID
	ParentID uuid.UUID
	Title    string
	Content  string
}

// NodeUpdate carries the fields to change; nil leaves a field untouched.
type NodeUpdate struct {
	Title   *string
	Content *string
}

type ContentService interface {
	CreateModule(ctx context.Context, in CreateModuleInput) (*types.Module, error)
	GetModule(ctx context.Context, id uuid.UUID) (*types.Module, error)
	ListModules(ctx context.Context, workspaceID uuid.UUID) ([]*types.Module, error)
	DeleteModule(ctx context.Context, id uuid.UUID) error

	GetTree(ctx context.Context, moduleID uuid.UUID) (*TreeView, error)
	GetSubtree(ctx context.Context, moduleID, nodeID uuid.UUID) (*tree.Node, error)
	GetNode(ctx context.Context, nodeID uuid.UUID) (*types.ModuleNode, error)
	InsertNode(ctx context.Context, in InsertNodeInput) (uuid.UUID, error)
	DeleteNode(ctx context.Context, nodeID uuid.UUID) error
	MoveNode(ctx context.Context, nodeID, newParentID uuid.UUID, position int) error
	UpdateNode(ctx context.Context, nodeID uuid.UUID, upd NodeUpdate) (*types.ModuleNode, error)
	// Verify loads a module's closure table and checks every invariant.
	Verify(ctx context.Context, moduleID uuid.UUID) error

	generation.Catalog
}

type contentService struct {
	log   *logger.Logger
	store ContentStore
	buf   *streaming.Buffer
	bc    streaming.Broadcaster
}

func NewContentService(baseLog *logger.Logger, store ContentStore, buf *streaming.Buffer, bc streaming.Broadcaster) ContentService {
	return &contentService{
		log:   baseLog.With("service", "ContentService"),
		store: store,
		buf:   buf,
		bc:    bc,
	}
}

func (s *contentService) CreateModule(ctx context.Context, in CreateModuleInput) (*types.Module, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, apierr.Validation("module name required")
	}
	if in.WorkspaceID == uuid.Nil {
		return nil, apierr.Validation("workspace id required")
	}
	m, err := s.store.CreateModule(dbctx.New(ctx), &types.Module{
		WorkspaceID: in.WorkspaceID,
		Name:        name,
		Description: strings.TrimSpace(in.Description),
	})
	observability.Current().TreeMutation("create_module", err)
	if err != nil {
		s.log.Error("create module failed", "workspace_id", in.WorkspaceID, "error", err)
		return nil, err
	}
	s.log.Info("module created", "module_id", m.ID, "workspace_id", m.WorkspaceID)
	return m, nil
}

func (s *contentService) GetModule(ctx context.Context, id uuid.UUID) (*types.Module, error) {
	return s.store.GetModule(dbctx.New(ctx), id)
}

func (s *contentService) ListModules(ctx context.Context, workspaceID uuid.UUID) ([]*types.Module, error) {
	if workspaceID == uuid.Nil {
		return nil, apierr.Validation("workspace id required")
	}
	return s.store.ListModules(dbctx.New(ctx), workspaceID)
}

func (s *contentService) DeleteModule(ctx context.Context, id uuid.UUID) error {
	m, err := s.store.GetModule(dbctx.New(ctx), id)
	if err != nil {
		return err
	}
	aborted := s.buf.AbortModule(ctx, id, nil)
	err = s.store.DeleteModule(dbctx.New(ctx), id)
	observability.Current().TreeMutation("delete_module", err)
	if err != nil {
		s.log.Error("delete module failed", "module_id", id, "error", err)
		return err
	}
	s.log.Info("module deleted", "module_id", id, "aborted_sessions", aborted)
	s.notify(ctx, m.WorkspaceID, TreeChange{ModuleID: id, Op: "module_deleted", NodeID: id})
	return nil
}

// GetTree builds the module tree from the store and overlays the snapshot of
// every buffered session, so in-flight generations win over stored content.
func (s *contentService) GetTree(ctx context.Context, moduleID uuid.UUID) (*TreeView, error) {
	start := time.Now()
	ctx, span := observability.Tracer("content").Start(ctx, "content.get_tree")
	defer span.End()
	span.SetAttributes(attribute.String("module_id", moduleID.String()))

	root, err := s.StoredTree(ctx, moduleID)
	if err != nil {
		return nil, err
	}
	source := SourceStore
	if overlayBuffered(root, s.buf.ReadModule(moduleID)) {
		source = SourceBuffer
	}
	observability.Current().ObserveTreeRead(source, tree.Count(root), time.Since(start))
	return &TreeView{Source: source, Tree: root}, nil
}

func (s *contentService) GetSubtree(ctx context.Context, moduleID, nodeID uuid.UUID) (*tree.Node, error) {
	dbc := dbctx.New(ctx)
	edges, err := s.store.ReadSubtreeEdges(dbc, moduleID, nodeID)
	if err != nil {
		return nil, err
	}
	if len(edges) == 0 {
		return nil, apierr.NotFound("node %s not found in module %s", nodeID, moduleID)
	}
	data, err := s.nodeData(dbc, moduleID)
	if err != nil {
		return nil, err
	}
	root, err := tree.Build(edges, data, nodeID)
	if err != nil {
		return nil, err
	}
	overlayBuffered(root, s.buf.ReadModule(moduleID))
	return root, nil
}

func (s *contentService) GetNode(ctx context.Context, nodeID uuid.UUID) (*types.ModuleNode, error) {
	n, err := s.store.ReadNode(dbctx.New(ctx), nodeID)
	if err != nil {
		return nil, err
	}
	if snap, ok := s.bufferedSnapshot(n.ModuleID, nodeID); ok {
		n.Content = snap.Text
	}
	return n, nil
}

func (s *contentService) InsertNode(ctx context.Context, in InsertNodeInput) (uuid.UUID, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return uuid.Nil, apierr.Validation("title required")
	}
	if in.ModuleID == uuid.Nil || in.ParentID == uuid.Nil {
		return uuid.Nil, apierr.Validation("module and parent ids required")
	}
	id := uuid.New()
	var m *types.Module
	err := s.store.Transaction(ctx, func(dbc dbctx.Context) error {
		var err error
		m, err = s.store.LockModule(dbc, in.ModuleID)
		if err != nil {
			return err
		}
		t, err := s.loadTable(dbc, in.ModuleID)
		if err != nil {
			return err
		}
		plan, err := t.InsertChild(in.ParentID, id)
		if err != nil {
			return err
		}
		if err := s.store.CreateNode(dbc, &types.ModuleNode{
			ID:       id,
			ModuleID: in.ModuleID,
			Title:    title,
			Content:  in.Content,
		}); err != nil {
			return err
		}
		return s.store.ApplyPlan(dbc, plan)
	})
	observability.Current().TreeMutation("insert", err)
	if err != nil {
		s.logMutationError("insert node failed", err, "module_id", in.ModuleID, "parent_id", in.ParentID)
		return uuid.Nil, err
	}
	s.log.Debug("node inserted", "module_id", in.ModuleID, "parent_id", in.ParentID, "node_id", id)
	s.notify(ctx, m.WorkspaceID, TreeChange{ModuleID: in.ModuleID, Op: "inserted", NodeID: id, ParentID: in.ParentID})
	return id, nil
}

// DeleteNode removes a node with its whole subtree and aborts any generation
// still streaming into the removed nodes.
func (s *contentService) DeleteNode(ctx context.Context, nodeID uuid.UUID) error {
	n, err := s.store.ReadNode(dbctx.New(ctx), nodeID)
	if err != nil {
		return err
	}
	if n.IsRoot() {
		return apierr.Validation("the module root cannot be deleted; delete the module instead")
	}
	var m *types.Module
	var removed []uuid.UUID
	err = s.store.Transaction(ctx, func(dbc dbctx.Context) error {
		var err error
		m, err = s.store.LockModule(dbc, n.ModuleID)
		if err != nil {
			return err
		}
		t, err := s.loadTable(dbc, n.ModuleID)
		if err != nil {
			return err
		}
		plan, err := t.DeleteSubtree(nodeID)
		if err != nil {
			return err
		}
		removed = plan.Removed
		return s.store.ApplyPlan(dbc, plan)
	})
	observability.Current().TreeMutation("delete", err)
	if err != nil {
		s.logMutationError("delete node failed", err, "node_id", nodeID)
		return err
	}
	aborted := s.buf.AbortEntities(ctx, removed, nil)
	s.log.Debug("node deleted", "node_id", nodeID, "removed", len(removed), "aborted_sessions", aborted)
	s.notify(ctx, m.WorkspaceID, TreeChange{ModuleID: n.ModuleID, Op: "deleted", NodeID: nodeID, Removed: removed})
	return nil
}

func (s *contentService) MoveNode(ctx context.Context, nodeID, newParentID uuid.UUID, position int) error {
	n, err := s.store.ReadNode(dbctx.New(ctx), nodeID)
	if err != nil {
		return err
	}
	var m *types.Module
	err = s.store.Transaction(ctx, func(dbc dbctx.Context) error {
		var err error
		m, err = s.store.LockModule(dbc, n.ModuleID)
		if err != nil {
			return err
		}
		t, err := s.loadTable(dbc, n.ModuleID)
		if err != nil {
			return err
		}
		plan, err := t.Move(nodeID, newParentID, position)
		if err != nil {
			return err
		}
		return s.store.ApplyPlan(dbc, plan)
	})
	observability.Current().TreeMutation("move", err)
	if err != nil {
		s.logMutationError("move node failed", err, "node_id", nodeID, "parent_id", newParentID)
		return err
	}
	s.notify(ctx, m.WorkspaceID, TreeChange{ModuleID: n.ModuleID, Op: "moved", NodeID: nodeID, ParentID: newParentID})
	return nil
}

// UpdateNode edits a node's title or content. Content edits are rejected
// while a generation is streaming into the node.
func (s *contentService) UpdateNode(ctx context.Context, nodeID uuid.UUID, upd NodeUpdate) (*types.ModuleNode, error) {
	updates := map[string]interface{}{}
	if upd.Title != nil {
		title := strings.TrimSpace(*upd.Title)
		if title == "" {
			return nil, apierr.Validation("title cannot be empty")
		}
		updates["title"] = title
	}
	if upd.Content != nil {
		updates["content"] = *upd.Content
	}
	if len(updates) == 0 {
		return nil, apierr.Validation("nothing to update")
	}
	if upd.Content != nil && s.buf.Active(nodeID) {
		return nil, apierr.Conflict("node %s is being generated", nodeID)
	}

	dbc := dbctx.New(ctx)
	err := s.store.UpdateNode(dbc, nodeID, updates)
	observability.Current().TreeMutation("update", err)
	if err != nil {
		s.logMutationError("update node failed", err, "node_id", nodeID)
		return nil, err
	}
	n, err := s.store.ReadNode(dbc, nodeID)
	if err != nil {
		return nil, err
	}
	if m, err := s.store.GetModule(dbc, n.ModuleID); err == nil {
		s.notify(ctx, m.WorkspaceID, TreeChange{ModuleID: n.ModuleID, Op: "updated", NodeID: nodeID})
	}
	return n, nil
}

func (s *contentService) Verify(ctx context.Context, moduleID uuid.UUID) error {
	dbc := dbctx.New(ctx)
	if _, err := s.store.GetModule(dbc, moduleID); err != nil {
		return err
	}
	t, err := s.loadTable(dbc, moduleID)
	if err != nil {
		return err
	}
	return t.Validate()
}

// GenerationTarget resolves a node for the generation pipeline.
func (s *contentService) GenerationTarget(ctx context.Context, nodeID uuid.UUID) (generation.Target, error) {
	n, err := s.store.ReadNode(dbctx.New(ctx), nodeID)
	if err != nil {
		return generation.Target{}, err
	}
	return generation.Target{NodeID: n.ID, ModuleID: n.ModuleID, Title: n.Title}, nil
}

// StoredTree builds a module tree from persisted rows only.
func (s *contentService) StoredTree(ctx context.Context, moduleID uuid.UUID) (*tree.Node, error) {
	dbc := dbctx.New(ctx)
	if _, err := s.store.GetModule(dbc, moduleID); err != nil {
		return nil, err
	}
	edges, err := s.store.ReadClosureEdges(dbc, moduleID)
	if err != nil {
		return nil, err
	}
	data, err := s.nodeData(dbc, moduleID)
	if err != nil {
		return nil, err
	}
	root, err := tree.Build(edges, data, moduleID)
	if err != nil {
		if apierr.Kind(err) == "corrupt" {
			s.log.Error("closure table corrupt", "module_id", moduleID, "error", err)
		}
		return nil, err
	}
	return root, nil
}

func (s *contentService) loadTable(dbc dbctx.Context, moduleID uuid.UUID) (*tree.Table, error) {
	edges, err := s.store.ReadClosureEdges(dbc, moduleID)
	if err != nil {
		return nil, err
	}
	return tree.Load(moduleID, edges)
}

func (s *contentService) nodeData(dbc dbctx.Context, moduleID uuid.UUID) (map[uuid.UUID]tree.NodeData, error) {
	nodes, err := s.store.ReadNodes(dbc, moduleID)
	if err != nil {
		return nil, err
	}
	out := make(map[uuid.UUID]tree.NodeData, len(nodes))
	for _, n := range nodes {
		out[n.ID] = tree.NodeData{Title: n.Title, Content: n.Content}
	}
	return out, nil
}

func (s *contentService) bufferedSnapshot(moduleID, nodeID uuid.UUID) (streaming.Snapshot, bool) {
	info, ok := s.buf.ReadModule(moduleID)[nodeID]
	if !ok {
		return streaming.Snapshot{}, false
	}
	return info.Snapshot, true
}

// overlayBuffered replaces stored content with buffered snapshots and reports
// whether any node was overlaid.
func overlayBuffered(root *tree.Node, buffered map[uuid.UUID]streaming.SessionInfo) bool {
	if len(buffered) == 0 {
		return false
	}
	hit := false
	tree.Walk(root, func(n *tree.Node) bool {
		if info, ok := buffered[n.ID]; ok {
			n.Content = info.Snapshot.Text
			hit = true
		}
		return true
	})
	return hit
}

func (s *contentService) notify(ctx context.Context, workspaceID uuid.UUID, change TreeChange) {
	if s.bc == nil || workspaceID == uuid.Nil {
		return
	}
	event := string(realtime.SSEEventTreeChanged)
	if err := s.bc.Publish(ctxutil.Detached(ctx), workspaceID.String(), event, change); err != nil {
		observability.Current().BroadcastFailed(event)
		s.log.Warn("broadcast failed", "event", event, "module_id", change.ModuleID, "error", err)
	}
}

// Validation, not-found and conflict failures are caller errors.
func (s *contentService) logMutationError(msg string, err error, kv ...interface{}) {
	kv = append(kv, "error", err)
	if apierr.IsClientError(err) {
		s.log.Debug(msg, kv...)
		return
	}
	s.log.Error(msg, kv...)
}
