package realtime

import (
	"github.com/google/uuid"

	"github.com/yungbote/lessonweave-backend/internal/platform/logger"
)

// SSEClient is one connected subscriber. The same type backs SSE and
// websocket connections; only the writer loop differs.
type SSEClient struct {
	ID       uuid.UUID
	Channels map[string]bool
	Outbound chan SSEMessage
	done     chan struct{}
	Logger   *logger.Logger
}

// Done is closed when the hub closes the client.
func (c *SSEClient) Done() <-chan struct{} { return c.done }
