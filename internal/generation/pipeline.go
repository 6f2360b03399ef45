package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/yungbote/lessonweave-backend/internal/content/tree"
	"github.com/yungbote/lessonweave-backend/internal/observability"
	"github.com/yungbote/lessonweave-backend/internal/platform/apierr"
	"github.com/yungbote/lessonweave-backend/internal/platform/ctxutil"
	"github.com/yungbote/lessonweave-backend/internal/platform/logger"
	"github.com/yungbote/lessonweave-backend/internal/streaming"
)

// ConflictPolicy decides what Start does when the key is already generating.
type ConflictPolicy string

const (
	// PolicyReject fails the second request with Conflict.
	PolicyReject ConflictPolicy = "reject"
	// PolicyReplace cancels the running generation, waits for it to release
	// the session, then starts the new one.
	PolicyReplace ConflictPolicy = "replace"
)

func ParsePolicy(s string) (ConflictPolicy, error) {
	switch ConflictPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyReject:
		return PolicyReject, nil
	case PolicyReplace:
		return PolicyReplace, nil
	default:
		return "", apierr.Validation("unknown conflict policy %q", s)
	}
}

type Config struct {
	Policy ConflictPolicy
	// AckTimeout bounds every single-event wait: a subscriber joining the
	// room, or a replaced run releasing its session.
	AckTimeout time.Duration
	// LeaseTTL is the cross-process hold per key; used only with a Lease.
	LeaseTTL time.Duration
}

func (c Config) withDefaults() Config {
	if c.Policy == "" {
		c.Policy = PolicyReject
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = 5 * time.Second
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = 30 * time.Second
	}
	return c
}

// Target is a node resolved for generation.
type Target struct {
	NodeID   uuid.UUID
	ModuleID uuid.UUID
	Title    string
}

// Catalog resolves nodes and module trees from the persistent store.
type Catalog interface {
	GenerationTarget(ctx context.Context, nodeID uuid.UUID) (Target, error)
	StoredTree(ctx context.Context, moduleID uuid.UUID) (*tree.Node, error)
}

// SubscriberWaiter blocks until a room has a listener.
type SubscriberWaiter interface {
	WaitForSubscriber(ctx context.Context, room string) error
}

type StartRequest struct {
	NodeID            uuid.UUID
	WorkspaceID       uuid.UUID
	Context           string
	RequireSubscriber bool
}

type Pipeline struct {
	log      *logger.Logger
	buf      *streaming.Buffer
	provider Provider
	catalog  Catalog
	bc       streaming.Broadcaster
	waiter   SubscriberWaiter
	lease    streaming.Lease
	cfg      Config

	mu       sync.Mutex
	runs     map[streaming.Key]*Handle
	treeRuns map[streaming.Key]*Handle
	closed   bool
	wg       sync.WaitGroup
}

type Option func(*Pipeline)

// WithLease extends per-key exclusivity across processes.
func WithLease(l streaming.Lease) Option { return func(p *Pipeline) { p.lease = l } }

// WithSubscriberWaiter enables StartRequest.RequireSubscriber.
func WithSubscriberWaiter(w SubscriberWaiter) Option { return func(p *Pipeline) { p.waiter = w } }

// WithBroadcaster publishes tree progress events.
func WithBroadcaster(bc streaming.Broadcaster) Option { return func(p *Pipeline) { p.bc = bc } }

func NewPipeline(log *logger.Logger, buf *streaming.Buffer, provider Provider, catalog Catalog, cfg Config, opts ...Option) *Pipeline {
	p := &Pipeline{
		log:      log.With("service", "GenerationPipeline"),
		buf:      buf,
		provider: provider,
		catalog:  catalog,
		cfg:      cfg.withDefaults(),
		runs:     make(map[streaming.Key]*Handle),
		treeRuns: make(map[streaming.Key]*Handle),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *Pipeline) Policy() ConflictPolicy { return p.cfg.Policy }

// Start opens a session for the node and streams the provider's output into
// it. The run outlives ctx's cancellation; stop it with Cancel.
func (p *Pipeline) Start(ctx context.Context, req StartRequest) (*Handle, error) {
	key := streaming.Key{EntityID: req.NodeID, WorkspaceID: req.WorkspaceID}
	if err := key.Validate(); err != nil {
		return nil, err
	}
	target, err := p.catalog.GenerationTarget(ctx, req.NodeID)
	if err != nil {
		return nil, err
	}
	return p.launch(ctx, ctxutil.Detached(ctx), key, target, req)
}

// launch runs one node generation under parent. ctx bounds only the setup
// waits.
func (p *Pipeline) launch(ctx, parent context.Context, key streaming.Key, target Target, req StartRequest) (*Handle, error) {
	h := newHandle(key, target.ModuleID, false)
	if err := p.reserve(ctx, p.runs, h); err != nil {
		return nil, err
	}
	release := func() {
		p.unreserve(p.runs, h)
		close(h.done)
	}

	owner := h.ID.String()
	if p.lease != nil {
		ok, err := p.lease.Acquire(ctx, key, owner, p.cfg.LeaseTTL)
		if err != nil {
			release()
			return nil, apierr.Persistence(err)
		}
		if !ok {
			release()
			return nil, apierr.Conflict("generation for %s is running on another instance", key)
		}
	}
	// The run's context exists before any wait so Cancel interrupts setup too.
	runCtx, cancel := context.WithCancel(parent)
	h.bind(cancel)
	fail := func(err error) (*Handle, error) {
		cancel()
		p.releaseLease(key, owner)
		h.err = err
		release()
		return nil, err
	}

	if req.RequireSubscriber {
		if err := p.awaitSubscriber(ctx, runCtx, key.Room()); err != nil {
			return fail(err)
		}
	}

	info, err := p.buf.Open(ctx, key, streaming.OpenOptions{ModuleID: target.ModuleID})
	if err != nil {
		return fail(err)
	}
	h.SessionID = info.ID
	h.StartedAt = info.StartedAt

	runCtx, span := observability.Tracer("generation").Start(runCtx, "generation.run")
	span.SetAttributes(
		attribute.String("node_id", key.EntityID.String()),
		attribute.String("workspace_id", key.WorkspaceID.String()),
		attribute.String("session_id", info.ID.String()),
	)

	events, err := p.provider.Stream(runCtx, Request{
		NodeID:   target.NodeID,
		ModuleID: target.ModuleID,
		Title:    target.Title,
		Context:  req.Context,
	})
	if err != nil {
		cause := apierr.Upstream(err)
		p.buf.Abort(runCtx, key, cause)
		cancel()
		span.RecordError(cause)
		span.SetStatus(codes.Error, "provider stream failed")
		span.End()
		return fail(cause)
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer span.End()
		err := p.consume(runCtx, h, events, owner)
		if err != nil && !errors.Is(err, context.Canceled) {
			span.RecordError(err)
			span.SetStatus(codes.Error, apierr.Kind(err))
		}
		cancel()
		p.releaseLease(key, owner)
		h.err = err
		release()
	}()

	p.log.Info("generation started", "session_id", info.ID, "node_id", key.EntityID, "workspace_id", key.WorkspaceID)
	return h, nil
}

// consume maps provider events onto buffer transitions until a terminal
// state is reached.
func (p *Pipeline) consume(ctx context.Context, h *Handle, events <-chan Event, owner string) error {
	key := h.Key
	var refresh <-chan time.Time
	if p.lease != nil {
		t := time.NewTicker(p.cfg.LeaseTTL / 2)
		defer t.Stop()
		refresh = t.C
	}

	cumulative := ""
	for {
		select {
		case <-ctx.Done():
			p.buf.Abort(ctx, key, nil)
			return context.Canceled

		case <-refresh:
			ok, err := p.lease.Refresh(ctx, key, owner, p.cfg.LeaseTTL)
			if err != nil || !ok {
				cause := apierr.Conflict("lease for %s lost", key)
				p.buf.Abort(ctx, key, cause)
				return cause
			}

		case ev, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					p.buf.Abort(ctx, key, nil)
					return context.Canceled
				}
				cause := apierr.Upstream(errors.New("provider stream ended without a final result"))
				p.buf.Abort(ctx, key, cause)
				return cause
			}
			switch ev.Kind {
			case EventDelta:
				if ev.Text != "" {
					cumulative = ev.Text
				} else {
					cumulative += ev.Delta
				}
				if err := p.buf.Update(ctx, key, ev.Delta, streaming.Snapshot{Text: cumulative, Data: ev.Data}); err != nil {
					// The session was retired underneath us (node deleted, module removed).
					return err
				}
			case EventFinal:
				text := ev.Text
				if text == "" {
					text = cumulative
				}
				if err := p.buf.Finalize(ctx, key, streaming.Snapshot{Text: text, Data: ev.Data}); err != nil {
					return err
				}
				p.log.Info("generation completed", "session_id", h.SessionID, "node_id", key.EntityID)
				return nil
			case EventError:
				err := ev.Err
				if err == nil {
					err = errors.New("provider reported an error")
				}
				cause := apierr.Upstream(err)
				p.buf.Abort(ctx, key, cause)
				return cause
			default:
				p.log.Warn("ignoring unknown provider event", "kind", ev.Kind, "node_id", key.EntityID)
			}
		}
	}
}

// reserve claims h.Key in runs, applying the conflict policy.
func (p *Pipeline) reserve(ctx context.Context, runs map[streaming.Key]*Handle, h *Handle) error {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return apierr.Conflict("generation pipeline is shutting down")
		}
		existing, busy := runs[h.Key]
		if !busy {
			runs[h.Key] = h
			p.mu.Unlock()
			return nil
		}
		p.mu.Unlock()

		if p.cfg.Policy != PolicyReplace {
			return apierr.Conflict("generation already running for %s", h.Key)
		}
		existing.Cancel()
		if err := p.waitDone(ctx, existing); err != nil {
			return err
		}
	}
}

func (p *Pipeline) unreserve(runs map[streaming.Key]*Handle, h *Handle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if runs[h.Key] == h {
		delete(runs, h.Key)
	}
}

func (p *Pipeline) waitDone(ctx context.Context, h *Handle) error {
	wctx, cancel := context.WithTimeout(ctxutil.Default(ctx), p.cfg.AckTimeout)
	defer cancel()
	select {
	case <-h.Done():
		return nil
	case <-wctx.Done():
		if errors.Is(wctx.Err(), context.DeadlineExceeded) {
			return apierr.Timeout("previous generation for %s did not stop within %s", h.Key, p.cfg.AckTimeout)
		}
		return wctx.Err()
	}
}

// awaitSubscriber waits under runCtx, so canceling the run ends the wait; the
// caller's ctx ends it as well.
func (p *Pipeline) awaitSubscriber(ctx, runCtx context.Context, room string) error {
	if p.waiter == nil {
		return nil
	}
	wctx, cancel := context.WithTimeout(runCtx, p.cfg.AckTimeout)
	defer cancel()
	stop := context.AfterFunc(ctxutil.Default(ctx), cancel)
	defer stop()
	if err := p.waiter.WaitForSubscriber(wctx, room); err != nil {
		if runCtx.Err() != nil {
			return context.Canceled
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return apierr.Timeout("no subscriber joined room %s within %s", room, p.cfg.AckTimeout)
		}
		return err
	}
	return nil
}

func (p *Pipeline) releaseLease(key streaming.Key, owner string) {
	if p.lease == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.lease.Release(ctx, key, owner); err != nil {
		p.log.Warn("lease release failed", "key", key.String(), "error", err)
	}
}

// Cancel stops a run. It is safe to call more than once and after the run
// finished.
func (p *Pipeline) Cancel(h *Handle) {
	if h != nil {
		h.Cancel()
	}
}

// CancelKey cancels the node or tree run for key. A session with no run
// behind it is aborted directly. It reports whether anything was stopped.
func (p *Pipeline) CancelKey(ctx context.Context, key streaming.Key) bool {
	p.mu.Lock()
	h := p.runs[key]
	th := p.treeRuns[key]
	p.mu.Unlock()

	stopped := false
	if th != nil {
		th.Cancel()
		stopped = true
	}
	if h != nil {
		h.Cancel()
		return true
	}
	if p.buf.Abort(ctx, key, nil) {
		return true
	}
	return stopped
}

// Running returns the handle of the node run for key, if any.
func (p *Pipeline) Running(key streaming.Key) (*Handle, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok := p.runs[key]
	return h, ok
}

// Shutdown cancels every run and waits for them to release their sessions.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	handles := make([]*Handle, 0, len(p.runs)+len(p.treeRuns))
	for _, h := range p.treeRuns {
		handles = append(handles, h)
	}
	for _, h := range p.runs {
		handles = append(handles, h)
	}
	p.mu.Unlock()

	for _, h := range handles {
		h.Cancel()
	}
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("generation shutdown: %w", ctx.Err())
	}
}
