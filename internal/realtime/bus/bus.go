package bus

import (
	"context"

	"github.com/yungbote/lessonweave-backend/internal/realtime"
)

// Bus relays SSE messages between instances so a client connected to any
// instance sees events produced on all of them.
type Bus interface {
	Publish(ctx context.Context, msg realtime.SSEMessage) error
	StartForwarder(ctx context.Context, onMsg func(m realtime.SSEMessage)) error
	Close() error
}
