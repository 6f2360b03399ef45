package streaming

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/lessonweave-backend/internal/observability"
	"github.com/yungbote/lessonweave-backend/internal/platform/apierr"
	"github.com/yungbote/lessonweave-backend/internal/platform/ctxutil"
	"github.com/yungbote/lessonweave-backend/internal/platform/logger"
)

// Broadcaster delivers an event to every subscriber of room.
type Broadcaster interface {
	Publish(ctx context.Context, room, event string, payload any) error
}

// SnapshotStore receives the final snapshot of a completed session.
type SnapshotStore interface {
	PersistSnapshot(ctx context.Context, info SessionInfo, snap Snapshot) error
}

// session guards its state with mu and serializes its broadcasts with pubMu,
// so readers never wait on a Broadcaster. pubMu is always taken before mu.
type session struct {
	pubMu sync.Mutex
	mu    sync.Mutex
	info  SessionInfo
}

// Buffer is the registry of in-flight generation sessions. Each key holds at
// most one session; terminal sessions are removed immediately.
type Buffer struct {
	log   *logger.Logger
	bc    Broadcaster
	store SnapshotStore
	now   func() time.Time

	mu       sync.RWMutex
	sessions map[Key]*session
}

func NewBuffer(log *logger.Logger, bc Broadcaster, store SnapshotStore) *Buffer {
	return &Buffer{
		log:      log.With("service", "SessionBuffer"),
		bc:       bc,
		store:    store,
		now:      time.Now,
		sessions: make(map[Key]*session),
	}
}

func (b *Buffer) lookup(key Key) *session {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sessions[key]
}

// remove drops key only if it still maps to s.
func (b *Buffer) remove(key Key, s *session) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sessions[key] == s {
		delete(b.sessions, key)
	}
}

// Open creates an active session with an empty snapshot.
func (b *Buffer) Open(ctx context.Context, key Key, opts OpenOptions) (SessionInfo, error) {
	if err := key.Validate(); err != nil {
		return SessionInfo{}, err
	}
	now := b.now()

	b.mu.Lock()
	if _, exists := b.sessions[key]; exists {
		b.mu.Unlock()
		return SessionInfo{}, apierr.Conflict("session already open for %s", key)
	}
	s := &session{info: SessionInfo{
		ID:        uuid.New(),
		Key:       key,
		ModuleID:  opts.ModuleID,
		State:     StateActive,
		StartedAt: now,
		UpdatedAt: now,
	}}
	b.sessions[key] = s
	b.mu.Unlock()

	observability.Current().SessionOpened()
	b.log.Debug("session opened", "session_id", s.info.ID, "entity_id", key.EntityID, "workspace_id", key.WorkspaceID)
	return s.info, nil
}

// Update replaces the snapshot and broadcasts a delta event. The publish lock
// is held across both steps so subscribers see deltas in production order.
func (b *Buffer) Update(ctx context.Context, key Key, delta string, snap Snapshot) error {
	s := b.lookup(key)
	if s == nil {
		return apierr.NotFound("no active session for %s", key)
	}
	s.pubMu.Lock()
	defer s.pubMu.Unlock()

	s.mu.Lock()
	if s.info.State != StateActive {
		s.mu.Unlock()
		return apierr.NotFound("no active session for %s", key)
	}
	now := b.now()
	s.info.Snapshot = snap
	s.info.Seq++
	s.info.UpdatedAt = now
	info := s.info
	s.mu.Unlock()

	ev := newEvent(EventDelta, info, now)
	ev.Delta = delta
	ev.Snapshot = &snap
	b.publish(ctx, key.Room(), ev)
	observability.Current().SessionDelta()
	return nil
}

// Finalize completes the session: the final snapshot stays readable while it
// is persisted, then the entry is removed and the terminal event broadcast.
// A persistence failure aborts the session instead and is returned.
func (b *Buffer) Finalize(ctx context.Context, key Key, final Snapshot) error {
	s := b.lookup(key)
	if s == nil {
		return apierr.NotFound("no active session for %s", key)
	}
	s.pubMu.Lock()
	defer s.pubMu.Unlock()

	s.mu.Lock()
	if s.info.State != StateActive {
		s.mu.Unlock()
		return apierr.NotFound("no active session for %s", key)
	}
	s.info.State = StateCompleted
	s.info.Snapshot = final
	s.info.Seq++
	s.info.UpdatedAt = b.now()
	info := s.info
	s.mu.Unlock()

	var perr error
	if b.store != nil {
		perr = b.store.PersistSnapshot(ctxutil.Detached(ctx), info, final)
	}
	if perr != nil {
		s.mu.Lock()
		s.info.State = StateAborted
		info = s.info
		s.mu.Unlock()
	}
	b.remove(key, s)

	now := b.now()
	if perr != nil {
		perr = apierr.Persistence(perr)
		b.log.Error("persist snapshot failed", "session_id", info.ID, "entity_id", key.EntityID, "error", perr)
		ev := newEvent(EventError, info, now)
		ev.Error = perr.Error()
		ev.ErrorCode = "persistence_error"
		b.publish(ctx, key.Room(), ev)
		observability.Current().SessionFinished(string(StateAborted), now.Sub(info.StartedAt))
		return perr
	}

	ev := newEvent(EventCompleted, info, now)
	ev.Snapshot = &final
	b.publish(ctx, key.Room(), ev)
	observability.Current().SessionFinished(string(StateCompleted), now.Sub(info.StartedAt))
	b.log.Debug("session completed", "session_id", info.ID, "entity_id", key.EntityID, "seq", info.Seq)
	return nil
}

// Abort discards the session without persisting it. A nil cause broadcasts
// an aborted event, otherwise an error event. It reports whether an active
// session was aborted; unknown or already-terminal keys are a no-op.
func (b *Buffer) Abort(ctx context.Context, key Key, cause error) bool {
	s := b.lookup(key)
	if s == nil {
		return false
	}
	s.pubMu.Lock()
	defer s.pubMu.Unlock()

	s.mu.Lock()
	if s.info.State != StateActive {
		s.mu.Unlock()
		return false
	}
	s.info.State = StateAborted
	s.info.UpdatedAt = b.now()
	info := s.info
	s.mu.Unlock()

	b.remove(key, s)

	now := b.now()
	kind := EventAborted
	if cause != nil {
		kind = EventError
	}
	ev := newEvent(kind, info, now)
	if cause != nil {
		ev.Error = cause.Error()
		ev.ErrorCode = apierr.Kind(cause)
		if ev.ErrorCode == "" {
			ev.ErrorCode = "internal_error"
		}
		b.log.Warn("session aborted", "session_id", info.ID, "entity_id", key.EntityID, "error", cause)
	} else {
		b.log.Debug("session aborted", "session_id", info.ID, "entity_id", key.EntityID)
	}
	b.publish(ctx, key.Room(), ev)
	observability.Current().SessionFinished(string(StateAborted), now.Sub(info.StartedAt))
	return true
}

// Read returns the snapshot of an active or just-completed session. ok is
// false when the key is not buffered and the caller should read the store.
func (b *Buffer) Read(key Key) (Snapshot, bool) {
	info, ok := b.Get(key)
	if !ok {
		return Snapshot{}, false
	}
	return info.Snapshot, true
}

// Get returns a copy of the session if it is active or just completed.
func (b *Buffer) Get(key Key) (SessionInfo, bool) {
	s := b.lookup(key)
	if s == nil {
		return SessionInfo{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.info.State == StateAborted {
		return SessionInfo{}, false
	}
	return s.info, true
}

// Active reports whether entityID has an active session in any workspace.
func (b *Buffer) Active(entityID uuid.UUID) bool {
	for _, info := range b.sessionsWhere(func(k Key, _ uuid.UUID) bool { return k.EntityID == entityID }) {
		if info.State == StateActive {
			return true
		}
	}
	return false
}

// ReadModule returns the buffered sessions of a module keyed by entity. When
// an entity streams into several workspaces the most recent update wins.
func (b *Buffer) ReadModule(moduleID uuid.UUID) map[uuid.UUID]SessionInfo {
	out := make(map[uuid.UUID]SessionInfo)
	for _, info := range b.sessionsWhere(func(_ Key, m uuid.UUID) bool { return m == moduleID }) {
		if info.State == StateAborted {
			continue
		}
		if prev, ok := out[info.Key.EntityID]; ok && !info.UpdatedAt.After(prev.UpdatedAt) {
			continue
		}
		out[info.Key.EntityID] = info
	}
	return out
}

// AbortModule aborts every active session of a module.
func (b *Buffer) AbortModule(ctx context.Context, moduleID uuid.UUID, cause error) int {
	n := 0
	for _, info := range b.sessionsWhere(func(_ Key, m uuid.UUID) bool { return m == moduleID }) {
		if b.Abort(ctx, info.Key, cause) {
			n++
		}
	}
	return n
}

// AbortEntities aborts every active session whose entity is in ids.
func (b *Buffer) AbortEntities(ctx context.Context, ids []uuid.UUID, cause error) int {
	set := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	n := 0
	for _, info := range b.sessionsWhere(func(k Key, _ uuid.UUID) bool { _, ok := set[k.EntityID]; return ok }) {
		if b.Abort(ctx, info.Key, cause) {
			n++
		}
	}
	return n
}

// Keys returns the buffered keys in a stable order.
func (b *Buffer) Keys() []Key {
	b.mu.RLock()
	keys := make([]Key, 0, len(b.sessions))
	for k := range b.sessions {
		keys = append(keys, k)
	}
	b.mu.RUnlock()
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.sessions)
}

func (b *Buffer) sessionsWhere(match func(k Key, moduleID uuid.UUID) bool) []SessionInfo {
	b.mu.RLock()
	candidates := make([]*session, 0, len(b.sessions))
	for k, s := range b.sessions {
		// ModuleID is fixed at Open, so reading it without the session lock is safe.
		if match(k, s.info.ModuleID) {
			candidates = append(candidates, s)
		}
	}
	b.mu.RUnlock()

	out := make([]SessionInfo, 0, len(candidates))
	for _, s := range candidates {
		s.mu.Lock()
		out = append(out, s.info)
		s.mu.Unlock()
	}
	return out
}

// publish never fails the caller: a lost broadcast is logged and counted.
func (b *Buffer) publish(ctx context.Context, room string, ev Event) {
	if b.bc == nil {
		return
	}
	if err := b.bc.Publish(ctxutil.Detached(ctx), room, ev.Name(), ev); err != nil {
		observability.Current().BroadcastFailed(ev.Name())
		b.log.Warn("broadcast failed", "event", ev.Name(), "session_id", ev.SessionID, "error", err)
	}
}
