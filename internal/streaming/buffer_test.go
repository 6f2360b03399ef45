package streaming

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/lessonweave-backend/internal/platform/apierr"
	"github.com/yungbote/lessonweave-backend/internal/platform/logger"
)

type published struct {
	room  string
	name  string
	event Event
}

type recorder struct {
	mu     sync.Mutex
	events []published
	fail   error
}

func (r *recorder) Publish(ctx context.Context, room, event string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	r.events = append(r.events, published{room: room, name: event, event: payload.(Event)})
	return nil
}

func (r *recorder) all() []published {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]published(nil), r.events...)
}

func (r *recorder) last() published {
	all := r.all()
	if len(all) == 0 {
		return published{}
	}
	return all[len(all)-1]
}

type storeFunc func(ctx context.Context, info SessionInfo, snap Snapshot) error

func (f storeFunc) PersistSnapshot(ctx context.Context, info SessionInfo, snap Snapshot) error {
	return f(ctx, info, snap)
}

func newKey() Key { return Key{EntityID: uuid.New(), WorkspaceID: uuid.New()} }

func newTestBuffer(store SnapshotStore) (*Buffer, *recorder) {
	rec := &recorder{}
	return NewBuffer(logger.Nop(), rec, store), rec
}

func TestOpenRejectsSecondSessionUntilRetired(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBuffer(storeFunc(func(context.Context, SessionInfo, Snapshot) error { return nil }))
	key := newKey()

	_, err := b.Open(ctx, key, OpenOptions{})
	require.NoError(t, err)
	_, err = b.Open(ctx, key, OpenOptions{})
	require.ErrorIs(t, err, apierr.ErrConflict)

	require.NoError(t, b.Finalize(ctx, key, Snapshot{Text: "done"}))
	_, err = b.Open(ctx, key, OpenOptions{})
	require.NoError(t, err, "open after finalize")

	require.True(t, b.Abort(ctx, key, nil))
	_, err = b.Open(ctx, key, OpenOptions{})
	require.NoError(t, err, "open after abort")
}

func TestOpenValidatesKey(t *testing.T) {
	b, _ := newTestBuffer(nil)
	_, err := b.Open(context.Background(), Key{EntityID: uuid.New()}, OpenOptions{})
	require.ErrorIs(t, err, apierr.ErrValidation)
	assert.Equal(t, 0, b.Len())
}

func TestUpdateRequiresActiveSession(t *testing.T) {
	ctx := context.Background()
	b, rec := newTestBuffer(nil)
	key := newKey()

	require.ErrorIs(t, b.Update(ctx, key, "x", Snapshot{Text: "x"}), apierr.ErrNotFound)

	_, err := b.Open(ctx, key, OpenOptions{})
	require.NoError(t, err)
	b.Abort(ctx, key, nil)
	require.ErrorIs(t, b.Update(ctx, key, "x", Snapshot{Text: "x"}), apierr.ErrNotFound)
	for _, p := range rec.all() {
		assert.NotEqual(t, EventDelta, p.event.Kind)
	}
}

func TestDeltasAreDeliveredInOrder(t *testing.T) {
	ctx := context.Background()
	b, rec := newTestBuffer(nil)
	key := newKey()
	info, err := b.Open(ctx, key, OpenOptions{ModuleID: uuid.New()})
	require.NoError(t, err)

	text := ""
	for i := 0; i < 50; i++ {
		d := fmt.Sprintf("w%d ", i)
		text += d
		require.NoError(t, b.Update(ctx, key, d, Snapshot{Text: text}))
	}

	events := rec.all()
	require.Len(t, events, 50)
	acc := ""
	for i, p := range events {
		assert.Equal(t, key.Room(), p.room)
		assert.Equal(t, "generation.delta", p.name)
		assert.Equal(t, info.ID, p.event.SessionID)
		assert.Equal(t, int64(i+1), p.event.Seq)
		acc += p.event.Delta
		assert.Equal(t, acc, p.event.Snapshot.Text)
	}
	snap, ok := b.Read(key)
	require.True(t, ok)
	assert.Equal(t, text, snap.Text)
}

func TestFinalizePersistsThenRetires(t *testing.T) {
	ctx := context.Background()
	key := newKey()
	var b *Buffer
	var persisted Snapshot
	var readDuringPersist Snapshot
	var buffered bool
	b, rec := newTestBuffer(storeFunc(func(_ context.Context, info SessionInfo, snap Snapshot) error {
		persisted = snap
		readDuringPersist, buffered = b.Read(key)
		assert.Equal(t, StateCompleted, info.State)
		return nil
	}))

	_, err := b.Open(ctx, key, OpenOptions{})
	require.NoError(t, err)
	require.NoError(t, b.Update(ctx, key, "par", Snapshot{Text: "par"}))
	require.NoError(t, b.Finalize(ctx, key, Snapshot{Text: "partial"}))

	assert.Equal(t, "partial", persisted.Text)
	assert.True(t, buffered, "final snapshot readable while persisting")
	assert.Equal(t, "partial", readDuringPersist.Text)

	_, ok := b.Read(key)
	assert.False(t, ok, "retired after finalize")
	assert.Equal(t, 0, b.Len())

	last := rec.last()
	assert.Equal(t, "generation.completed", last.name)
	assert.Equal(t, "partial", last.event.Snapshot.Text)

	require.ErrorIs(t, b.Finalize(ctx, key, Snapshot{}), apierr.ErrNotFound)
}

func TestFinalizePersistenceFailureAborts(t *testing.T) {
	ctx := context.Background()
	b, rec := newTestBuffer(storeFunc(func(context.Context, SessionInfo, Snapshot) error {
		return errors.New("disk full")
	}))
	key := newKey()
	_, err := b.Open(ctx, key, OpenOptions{})
	require.NoError(t, err)

	err = b.Finalize(ctx, key, Snapshot{Text: "final"})
	require.ErrorIs(t, err, apierr.ErrPersistence)
	assert.Equal(t, 0, b.Len())

	last := rec.last()
	assert.Equal(t, "generation.error", last.name)
	assert.Equal(t, "persistence_error", last.event.ErrorCode)

	_, err = b.Open(ctx, key, OpenOptions{})
	require.NoError(t, err, "slot released after failed finalize")
}

func TestAbortIsIdempotentAndNeverPersists(t *testing.T) {
	ctx := context.Background()
	calls := 0
	b, rec := newTestBuffer(storeFunc(func(context.Context, SessionInfo, Snapshot) error {
		calls++
		return nil
	}))
	key := newKey()

	assert.False(t, b.Abort(ctx, key, nil), "unknown key is a no-op")
	assert.Empty(t, rec.all())

	_, err := b.Open(ctx, key, OpenOptions{})
	require.NoError(t, err)
	require.NoError(t, b.Update(ctx, key, "half", Snapshot{Text: "half"}))
	assert.True(t, b.Abort(ctx, key, nil))
	assert.False(t, b.Abort(ctx, key, nil))

	assert.Equal(t, 0, calls)
	_, ok := b.Read(key)
	assert.False(t, ok)
	events := rec.all()
	require.Len(t, events, 2)
	assert.Equal(t, "generation.aborted", events[1].name)
}

func TestAbortWithCauseEmitsErrorEvent(t *testing.T) {
	ctx := context.Background()
	b, rec := newTestBuffer(nil)
	key := newKey()
	_, err := b.Open(ctx, key, OpenOptions{})
	require.NoError(t, err)

	require.True(t, b.Abort(ctx, key, apierr.Upstream(errors.New("model overloaded"))))
	last := rec.last()
	assert.Equal(t, "generation.error", last.name)
	assert.Equal(t, "upstream_error", last.event.ErrorCode)
	assert.Contains(t, last.event.Error, "model overloaded")
}

func TestBroadcastFailureDoesNotFailUpdate(t *testing.T) {
	ctx := context.Background()
	b, rec := newTestBuffer(nil)
	rec.fail = errors.New("redis down")
	key := newKey()
	_, err := b.Open(ctx, key, OpenOptions{})
	require.NoError(t, err)
	require.NoError(t, b.Update(ctx, key, "a", Snapshot{Text: "a"}))
	snap, ok := b.Read(key)
	require.True(t, ok)
	assert.Equal(t, "a", snap.Text)
}

func TestReadModuleAndBulkAbort(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBuffer(nil)
	m1, m2 := uuid.New(), uuid.New()
	n1, n2, n3 := newKey(), newKey(), newKey()
	for key, m := range map[Key]uuid.UUID{n1: m1, n2: m1, n3: m2} {
		_, err := b.Open(ctx, key, OpenOptions{ModuleID: m})
		require.NoError(t, err)
		require.NoError(t, b.Update(ctx, key, "x", Snapshot{Text: key.EntityID.String()}))
	}

	got := b.ReadModule(m1)
	require.Len(t, got, 2)
	assert.Equal(t, n1.EntityID.String(), got[n1.EntityID].Snapshot.Text)
	assert.True(t, b.Active(n3.EntityID))

	assert.Equal(t, 1, b.AbortEntities(ctx, []uuid.UUID{n2.EntityID}, nil))
	assert.Equal(t, 1, b.AbortModule(ctx, m1, nil))
	assert.Equal(t, []Key{n3}, b.Keys())
}

func TestConcurrentSessionsAreIndependent(t *testing.T) {
	ctx := context.Background()
	b, rec := newTestBuffer(storeFunc(func(context.Context, SessionInfo, Snapshot) error { return nil }))
	const sessions, deltas = 16, 20

	var wg sync.WaitGroup
	keys := make([]Key, sessions)
	for i := range keys {
		keys[i] = newKey()
		wg.Add(1)
		go func(key Key) {
			defer wg.Done()
			_, err := b.Open(ctx, key, OpenOptions{})
			if !assert.NoError(t, err) {
				return
			}
			text := ""
			for j := 0; j < deltas; j++ {
				text += "."
				assert.NoError(t, b.Update(ctx, key, ".", Snapshot{Text: text}))
			}
			assert.NoError(t, b.Finalize(ctx, key, Snapshot{Text: text}))
		}(keys[i])
	}
	wg.Wait()

	assert.Equal(t, 0, b.Len())
	lastSeq := map[uuid.UUID]int64{}
	for _, p := range rec.all() {
		assert.Greater(t, p.event.Seq, lastSeq[p.event.SessionID], "per-session order")
		lastSeq[p.event.SessionID] = p.event.Seq
	}
	assert.Len(t, lastSeq, sessions)
}

type hookBroadcaster struct {
	fn func(event string, ev Event)
}

func (h *hookBroadcaster) Publish(ctx context.Context, room, event string, payload any) error {
	h.fn(event, payload.(Event))
	return nil
}

func TestReadersDoNotWaitOnBroadcast(t *testing.T) {
	ctx := context.Background()
	entered := make(chan struct{})
	release := make(chan struct{})
	hook := &hookBroadcaster{fn: func(event string, ev Event) {
		if ev.Kind == EventDelta {
			close(entered)
			<-release
		}
	}}
	b := NewBuffer(logger.Nop(), hook, nil)
	key := newKey()
	moduleID := uuid.New()
	_, err := b.Open(ctx, key, OpenOptions{ModuleID: moduleID})
	require.NoError(t, err)

	updated := make(chan error, 1)
	go func() { updated <- b.Update(ctx, key, "hi", Snapshot{Text: "hi"}) }()
	<-entered

	read := make(chan Snapshot, 1)
	go func() {
		snap, _ := b.Read(key)
		_, _ = b.Get(key)
		_ = b.ReadModule(moduleID)
		read <- snap
	}()
	select {
	case snap := <-read:
		assert.Equal(t, "hi", snap.Text)
	case <-time.After(time.Second):
		close(release)
		t.Fatalf("readers blocked while a delta broadcast was in flight")
	}

	close(release)
	require.NoError(t, <-updated)
}

func TestBroadcasterMayReadTheBuffer(t *testing.T) {
	ctx := context.Background()
	var b *Buffer
	var mu sync.Mutex
	seen := map[EventKind][]bool{}
	hook := &hookBroadcaster{fn: func(event string, ev Event) {
		_, ok := b.Read(Key{EntityID: ev.EntityID, WorkspaceID: ev.WorkspaceID})
		mu.Lock()
		seen[ev.Kind] = append(seen[ev.Kind], ok)
		mu.Unlock()
	}}
	b = NewBuffer(logger.Nop(), hook, storeFunc(func(context.Context, SessionInfo, Snapshot) error { return nil }))

	completed := newKey()
	_, err := b.Open(ctx, completed, OpenOptions{})
	require.NoError(t, err)
	require.NoError(t, b.Update(ctx, completed, "a", Snapshot{Text: "a"}))
	require.NoError(t, b.Finalize(ctx, completed, Snapshot{Text: "a"}))

	aborted := newKey()
	_, err = b.Open(ctx, aborted, OpenOptions{})
	require.NoError(t, err)
	require.True(t, b.Abort(ctx, aborted, nil))

	failed := newKey()
	_, err = b.Open(ctx, failed, OpenOptions{})
	require.NoError(t, err)
	require.True(t, b.Abort(ctx, failed, errors.New("boom")))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []bool{true}, seen[EventDelta], "delta is readable while it is broadcast")
	assert.Equal(t, []bool{false}, seen[EventCompleted], "completed goes out after the entry is retired")
	assert.Equal(t, []bool{false}, seen[EventAborted], "aborted goes out after the entry is retired")
	assert.Equal(t, []bool{false}, seen[EventError], "error goes out after the entry is retired")
}
