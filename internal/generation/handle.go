package generation

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/lessonweave-backend/internal/streaming"
)

// Handle tracks one node or tree run.
type Handle struct {
	ID        uuid.UUID     `json:"id"`
	Key       streaming.Key `json:"key"`
	ModuleID  uuid.UUID     `json:"module_id"`
	SessionID uuid.UUID     `json:"session_id,omitempty"`
	Tree      bool          `json:"tree"`
	StartedAt time.Time     `json:"started_at"`

	mu       sync.Mutex
	cancel   context.CancelFunc
	canceled bool
	done     chan struct{}
	err      error
}

func newHandle(key streaming.Key, moduleID uuid.UUID, isTree bool) *Handle {
	return &Handle{
		ID:        uuid.New(),
		Key:       key,
		ModuleID:  moduleID,
		Tree:      isTree,
		StartedAt: time.Now(),
		done:      make(chan struct{}),
	}
}

// Done is closed once the run reached a terminal state.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Err is the run's outcome; valid after Done is closed. nil means the
// content was persisted.
func (h *Handle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

// Wait blocks until the run ends or ctx does.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Handle) Cancel() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.canceled = true
	if h.cancel != nil {
		h.cancel()
	}
}

// bind attaches the run's cancel func; a Cancel that raced ahead of it is
// applied immediately.
func (h *Handle) bind(cancel context.CancelFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cancel = cancel
	if h.canceled {
		cancel()
	}
}
