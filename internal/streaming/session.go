package streaming

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/lessonweave-backend/internal/platform/apierr"
)

// Key identifies one generation session: the entity being generated and the
// workspace whose room receives its events.
type Key struct {
	EntityID    uuid.UUID `json:"entity_id"`
	WorkspaceID uuid.UUID `json:"workspace_id"`
}

func (k Key) String() string { return k.EntityID.String() + "@" + k.WorkspaceID.String() }

// Room is the broadcast room for the key's events.
func (k Key) Room() string { return k.WorkspaceID.String() }

func (k Key) Validate() error {
	if k.EntityID == uuid.Nil {
		return apierr.Validation("entity id required")
	}
	if k.WorkspaceID == uuid.Nil {
		return apierr.Validation("workspace id required")
	}
	return nil
}

type State string

const (
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateAborted   State = "aborted"
)

func (s State) Terminal() bool { return s == StateCompleted || s == StateAborted }

// Snapshot is the whole content generated so far. Data carries optional
// structured output alongside the text.
type Snapshot struct {
	Text string          `json:"text"`
	Data json.RawMessage `json:"data,omitempty"`
}

type OpenOptions struct {
	ModuleID uuid.UUID
}

// SessionInfo is a point-in-time copy of a session.
type SessionInfo struct {
	ID        uuid.UUID `json:"id"`
	Key       Key       `json:"key"`
	ModuleID  uuid.UUID `json:"module_id"`
	State     State     `json:"state"`
	Seq       int64     `json:"seq"`
	Snapshot  Snapshot  `json:"snapshot"`
	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (s SessionInfo) String() string {
	return fmt.Sprintf("session %s (%s, %s)", s.ID, s.Key, s.State)
}
