package app

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/yungbote/lessonweave-backend/internal/data/repos"
	"github.com/yungbote/lessonweave-backend/internal/generation"
	"github.com/yungbote/lessonweave-backend/internal/platform/logger"
	"github.com/yungbote/lessonweave-backend/internal/realtime"
	"github.com/yungbote/lessonweave-backend/internal/realtime/bus"
	"github.com/yungbote/lessonweave-backend/internal/services"
	"github.com/yungbote/lessonweave-backend/internal/streaming"
)

type Services struct {
	Hub      *realtime.SSEHub
	Bus      bus.Bus
	Store    services.ContentStore
	Buffer   *streaming.Buffer
	Content  services.ContentService
	Pipeline *generation.Pipeline
}

func wireServices(ctx context.Context, log *logger.Logger, cfg Config, db *gorm.DB, clients Clients) (Services, error) {
	log.Info("Wiring services...")

	hub := realtime.NewSSEHub(log)

	var b bus.Bus
	if clients.Redis != nil {
		rb, err := bus.NewRedisBus(log, clients.Redis, cfg.SSEChannel)
		if err != nil {
			return Services{}, fmt.Errorf("init redis bus: %w", err)
		}
		b = rb
	} else {
		b = bus.NewLocalBus()
	}
	bc := &realtime.BusEmitter{Bus: b}

	store := services.NewContentStore(db, log, repos.New(db, log))
	buf := streaming.NewBuffer(log, bc, store)
	content := services.NewContentService(log, store, buf, bc)

	provider, err := wireProvider(ctx, log, cfg)
	if err != nil {
		return Services{}, err
	}

	opts := []generation.Option{
		generation.WithSubscriberWaiter(hub),
		generation.WithBroadcaster(bc),
	}
	if cfg.UseLease {
		if clients.Redis != nil {
			opts = append(opts, generation.WithLease(streaming.NewRedisLease(clients.Redis)))
		} else {
			opts = append(opts, generation.WithLease(streaming.NewMemoryLease()))
		}
	}
	pipeline := generation.NewPipeline(log, buf, provider, content, cfg.Generation, opts...)

	return Services{
		Hub:      hub,
		Bus:      b,
		Store:    store,
		Buffer:   buf,
		Content:  content,
		Pipeline: pipeline,
	}, nil
}

func wireProvider(ctx context.Context, log *logger.Logger, cfg Config) (generation.Provider, error) {
	switch cfg.Provider {
	case "eino":
		p, err := generation.NewEinoProvider(ctx, log, cfg.OpenAI)
		if err != nil {
			return nil, fmt.Errorf("init eino provider: %w", err)
		}
		return p, nil
	default:
		p, err := generation.NewOpenAIProvider(log, cfg.OpenAI)
		if err != nil {
			return nil, fmt.Errorf("init openai provider: %w", err)
		}
		return p, nil
	}
}
