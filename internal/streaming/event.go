package streaming

import (
	"time"

	"github.com/google/uuid"
)

type EventKind string

const (
	EventDelta     EventKind = "delta"
	EventCompleted EventKind = "completed"
	EventAborted   EventKind = "aborted"
	EventError     EventKind = "error"
)

// Event is the single payload type broadcast for every session transition.
// Delta is set for delta events, Snapshot for delta and completed events,
// Error and ErrorCode for error events.
type Event struct {
	Kind        EventKind `json:"kind"`
	SessionID   uuid.UUID `json:"session_id"`
	EntityID    uuid.UUID `json:"entity_id"`
	WorkspaceID uuid.UUID `json:"workspace_id"`
	ModuleID    uuid.UUID `json:"module_id"`
	Seq         int64     `json:"seq"`
	Delta       string    `json:"delta,omitempty"`
	Snapshot    *Snapshot `json:"snapshot,omitempty"`
	Error       string    `json:"error,omitempty"`
	ErrorCode   string    `json:"error_code,omitempty"`
	At          time.Time `json:"at"`
}

// Name is the broadcast event name, e.g. "generation.delta".
func (e Event) Name() string { return "generation." + string(e.Kind) }

func (e Event) Terminal() bool { return e.Kind != EventDelta }

func newEvent(kind EventKind, info SessionInfo, at time.Time) Event {
	return Event{
		Kind:        kind,
		SessionID:   info.ID,
		EntityID:    info.Key.EntityID,
		WorkspaceID: info.Key.WorkspaceID,
		ModuleID:    info.ModuleID,
		Seq:         info.Seq,
		At:          at,
	}
}
