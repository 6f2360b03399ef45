package realtime

// SSEEvent names an event on the wire. Session and tree-run events are
// namespaced "generation.*"; structural edits are "tree.*".
type SSEEvent string

const (
	SSEEventGenerationDelta     SSEEvent = "generation.delta"
	SSEEventGenerationCompleted SSEEvent = "generation.completed"
	SSEEventGenerationAborted   SSEEvent = "generation.aborted"
	SSEEventGenerationError     SSEEvent = "generation.error"

	SSEEventTreeStarted   SSEEvent = "generation.tree.started"
	SSEEventTreeProgress  SSEEvent = "generation.tree.progress"
	SSEEventTreeCompleted SSEEvent = "generation.tree.completed"
	SSEEventTreeFailed    SSEEvent = "generation.tree.failed"
	SSEEventTreeAborted   SSEEvent = "generation.tree.aborted"

	SSEEventTreeChanged SSEEvent = "tree.changed"
)

// SSEMessage is one broadcast to a channel (a workspace room).
type SSEMessage struct {
	Channel string   `json:"channel"`
	Event   SSEEvent `json:"event"`
	Data    any      `json:"data,omitempty"`
}
