package generation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

type EventKind string

const (
	EventDelta EventKind = "delta"
	EventFinal EventKind = "final"
	EventError EventKind = "error"
)

// Event is one item of a provider stream. For deltas Text is the cumulative
// output so far; for the final event it is the complete output.
type Event struct {
	Kind  EventKind
	Delta string
	Text  string
	Data  json.RawMessage
	Err   error
}

func DeltaEvent(delta, cumulative string) Event {
	return Event{Kind: EventDelta, Delta: delta, Text: cumulative}
}

func FinalEvent(text string) Event { return Event{Kind: EventFinal, Text: text} }

func ErrorEvent(err error) Event { return Event{Kind: EventError, Err: err} }

// Request describes one node to generate. Context is produced upstream and
// passed through untouched.
type Request struct {
	NodeID   uuid.UUID
	ModuleID uuid.UUID
	Title    string
	Context  string
}

// Provider streams generated text. The channel is closed after a final or
// error event, or when ctx is canceled.
type Provider interface {
	Stream(ctx context.Context, req Request) (<-chan Event, error)
}

const systemPrompt = "You write lesson content. Reply with the body text for the requested section only."

func userPrompt(req Request) string {
	var b strings.Builder
	if t := strings.TrimSpace(req.Title); t != "" {
		fmt.Fprintf(&b, "Section: %s\n", t)
	}
	if c := strings.TrimSpace(req.Context); c != "" {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(c)
	}
	return b.String()
}

// send delivers ev unless ctx ends first.
func send(ctx context.Context, out chan<- Event, ev Event) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
