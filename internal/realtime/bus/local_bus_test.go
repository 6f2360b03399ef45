package bus

import (
	"context"
	"testing"

	"github.com/yungbote/lessonweave-backend/internal/realtime"
)

func TestLocalBusForwardsToEveryHandler(t *testing.T) {
	b := NewLocalBus()
	var got []realtime.SSEEvent
	for i := 0; i < 2; i++ {
		if err := b.StartForwarder(context.Background(), func(m realtime.SSEMessage) { got = append(got, m.Event) }); err != nil {
			t.Fatalf("StartForwarder: %v", err)
		}
	}
	if err := b.Publish(context.Background(), realtime.SSEMessage{Channel: "ws", Event: realtime.SSEEventGenerationDelta}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("deliveries: want=2 got=%d", len(got))
	}
	_ = b.Close()
	if err := b.Publish(context.Background(), realtime.SSEMessage{Channel: "ws"}); err == nil {
		t.Fatalf("publish after close should fail")
	}
}
