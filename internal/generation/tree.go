package generation

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/yungbote/lessonweave-backend/internal/content/tree"
	"github.com/yungbote/lessonweave-backend/internal/platform/apierr"
	"github.com/yungbote/lessonweave-backend/internal/platform/ctxutil"
	"github.com/yungbote/lessonweave-backend/internal/streaming"
)

const (
	EventTreeStarted   = "generation.tree.started"
	EventTreeProgress  = "generation.tree.progress"
	EventTreeCompleted = "generation.tree.completed"
	EventTreeFailed    = "generation.tree.failed"
	EventTreeAborted   = "generation.tree.aborted"
)

type TreeRequest struct {
	ModuleID    uuid.UUID
	WorkspaceID uuid.UUID
	Context     string
	// SkipRoot leaves the module root untouched and generates only its
	// descendants.
	SkipRoot bool
}

// TreeEvent is the payload of every generation.tree.* broadcast.
type TreeEvent struct {
	RunID       uuid.UUID   `json:"run_id"`
	ModuleID    uuid.UUID   `json:"module_id"`
	WorkspaceID uuid.UUID   `json:"workspace_id"`
	Order       []uuid.UUID `json:"order,omitempty"`
	NodeID      uuid.UUID   `json:"node_id,omitempty"`
	Index       int         `json:"index"`
	Total       int         `json:"total"`
	Error       string      `json:"error,omitempty"`
	ErrorCode   string      `json:"error_code,omitempty"`
}

// StartTree generates every node of a module one at a time in document order
// (depth first, children by position). A node is finished, persisted or not,
// before the next one starts; the first failure stops the walk.
func (p *Pipeline) StartTree(ctx context.Context, req TreeRequest) (*Handle, error) {
	key := streaming.Key{EntityID: req.ModuleID, WorkspaceID: req.WorkspaceID}
	if err := key.Validate(); err != nil {
		return nil, err
	}
	root, err := p.catalog.StoredTree(ctx, req.ModuleID)
	if err != nil {
		return nil, err
	}
	var order []*tree.Node
	tree.Walk(root, func(n *tree.Node) bool {
		if !(req.SkipRoot && n.ID == root.ID) {
			order = append(order, n)
		}
		return true
	})
	if len(order) == 0 {
		return nil, apierr.Validation("module %s has no nodes to generate", req.ModuleID)
	}

	h := newHandle(key, req.ModuleID, true)
	if err := p.reserve(ctx, p.treeRuns, h); err != nil {
		return nil, err
	}
	runCtx, cancel := context.WithCancel(ctxutil.Detached(ctx))
	h.bind(cancel)

	ids := make([]uuid.UUID, len(order))
	for i, n := range order {
		ids[i] = n.ID
	}
	base := TreeEvent{RunID: h.ID, ModuleID: req.ModuleID, WorkspaceID: req.WorkspaceID, Total: len(order)}
	started := base
	started.Order = ids
	p.publishTree(runCtx, key.Room(), EventTreeStarted, started)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		err := p.walk(runCtx, h, req, order, base)
		cancel()
		h.err = err
		p.unreserve(p.treeRuns, h)
		close(h.done)
	}()

	p.log.Info("tree generation started", "run_id", h.ID, "module_id", req.ModuleID, "nodes", len(order))
	return h, nil
}

func (p *Pipeline) walk(ctx context.Context, h *Handle, req TreeRequest, order []*tree.Node, base TreeEvent) error {
	room := h.Key.Room()
	for i, n := range order {
		ev := base
		ev.NodeID = n.ID
		ev.Index = i

		if ctx.Err() != nil {
			p.publishTree(ctx, room, EventTreeAborted, ev)
			return context.Canceled
		}
		nodeKey := streaming.Key{EntityID: n.ID, WorkspaceID: req.WorkspaceID}
		target := Target{NodeID: n.ID, ModuleID: req.ModuleID, Title: n.Title}
		nh, err := p.launch(ctx, ctx, nodeKey, target, StartRequest{NodeID: n.ID, WorkspaceID: req.WorkspaceID, Context: req.Context})
		if err == nil {
			err = nh.Wait(context.Background())
		}
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				p.publishTree(ctx, room, EventTreeAborted, ev)
				return context.Canceled
			}
			ev.Error = err.Error()
			ev.ErrorCode = apierr.Kind(err)
			p.publishTree(ctx, room, EventTreeFailed, ev)
			p.log.Warn("tree generation stopped", "run_id", h.ID, "node_id", n.ID, "error", err)
			return err
		}
		p.publishTree(ctx, room, EventTreeProgress, ev)
	}
	done := base
	done.Index = len(order)
	p.publishTree(ctx, room, EventTreeCompleted, done)
	p.log.Info("tree generation completed", "run_id", h.ID, "module_id", req.ModuleID)
	return nil
}

// TreeRunning returns the tree run for a module in a workspace, if any.
func (p *Pipeline) TreeRunning(key streaming.Key) (*Handle, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok := p.treeRuns[key]
	return h, ok
}

func (p *Pipeline) publishTree(ctx context.Context, room, event string, payload TreeEvent) {
	if p.bc == nil {
		return
	}
	if err := p.bc.Publish(ctxutil.Detached(ctx), room, event, payload); err != nil {
		p.log.Warn("broadcast failed", "event", event, "run_id", payload.RunID, "error", err)
	}
}
