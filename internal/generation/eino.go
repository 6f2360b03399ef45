package generation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	einoopenai "github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/yungbote/lessonweave-backend/internal/platform/logger"
)

type chatStreamer interface {
	Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error)
}

// EinoProvider streams through an eino chat model.
type EinoProvider struct {
	log   *logger.Logger
	model chatStreamer
}

func NewEinoProvider(ctx context.Context, log *logger.Logger, cfg OpenAIConfig) (*EinoProvider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("eino model api key required")
	}
	modelName := strings.TrimSpace(cfg.Model)
	if modelName == "" {
		modelName = "gpt-4o-mini"
	}
	cm, err := einoopenai.NewChatModel(ctx, &einoopenai.ChatModelConfig{
		APIKey:  cfg.APIKey,
		BaseURL: strings.TrimSpace(cfg.BaseURL),
		Model:   modelName,
	})
	if err != nil {
		return nil, fmt.Errorf("error creating chat model: %w", err)
	}
	return newEinoProvider(log, cm), nil
}

func newEinoProvider(log *logger.Logger, m chatStreamer) *EinoProvider {
	return &EinoProvider{log: log.With("service", "EinoProvider"), model: m}
}

func (p *EinoProvider) Stream(ctx context.Context, req Request) (<-chan Event, error) {
	sr, err := p.model.Stream(ctx, []*schema.Message{
		schema.SystemMessage(systemPrompt),
		schema.UserMessage(userPrompt(req)),
	})
	if err != nil {
		return nil, fmt.Errorf("eino stream: %w", err)
	}

	out := make(chan Event, 16)
	go func() {
		defer close(out)
		defer sr.Close()

		var full strings.Builder
		for {
			chunk, err := sr.Recv()
			if errors.Is(err, io.EOF) {
				send(ctx, out, FinalEvent(full.String()))
				return
			}
			if err != nil {
				if ctx.Err() == nil {
					p.log.Warn("eino stream failed", "node_id", req.NodeID, "error", err)
				}
				send(ctx, out, ErrorEvent(err))
				return
			}
			if chunk == nil || chunk.Content == "" {
				continue
			}
			full.WriteString(chunk.Content)
			if !send(ctx, out, DeltaEvent(chunk.Content, full.String())) {
				return
			}
		}
	}()
	return out, nil
}
