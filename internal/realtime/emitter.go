package realtime

import (
	"context"
	"fmt"
	"strings"
)

// Publisher is the cross-instance transport for SSE messages.
type Publisher interface {
	Publish(ctx context.Context, msg SSEMessage) error
}

// HubEmitter delivers events straight to the local hub.
type HubEmitter struct {
	Hub *SSEHub
}

func (e *HubEmitter) Publish(ctx context.Context, room, event string, payload any) error {
	if e == nil || e.Hub == nil {
		return fmt.Errorf("sse hub not initialized")
	}
	msg, err := newMessage(room, event, payload)
	if err != nil {
		return err
	}
	e.Hub.Broadcast(msg)
	return nil
}

// BusEmitter publishes through a bus; every instance's forwarder then
// broadcasts to its own hub.
type BusEmitter struct {
	Bus Publisher
}

func (e *BusEmitter) Publish(ctx context.Context, room, event string, payload any) error {
	if e == nil || e.Bus == nil {
		return fmt.Errorf("sse bus not initialized")
	}
	msg, err := newMessage(room, event, payload)
	if err != nil {
		return err
	}
	return e.Bus.Publish(ctx, msg)
}

func newMessage(room, event string, payload any) (SSEMessage, error) {
	room = strings.TrimSpace(room)
	if room == "" {
		return SSEMessage{}, fmt.Errorf("room required")
	}
	if strings.TrimSpace(event) == "" {
		return SSEMessage{}, fmt.Errorf("event required")
	}
	return SSEMessage{Channel: room, Event: SSEEvent(event), Data: payload}, nil
}
