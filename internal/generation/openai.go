package generation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/yungbote/lessonweave-backend/internal/platform/logger"
)

type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// OpenAIProvider streams chat completions through go-openai.
type OpenAIProvider struct {
	log    *logger.Logger
	client *openai.Client
	model  string
}

func NewOpenAIProvider(log *logger.Logger, cfg OpenAIConfig) (*OpenAIProvider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("openai api key required")
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		oc.BaseURL = base
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAIProvider{
		log:    log.With("service", "OpenAIProvider"),
		client: openai.NewClientWithConfig(oc),
		model:  model,
	}, nil
}

func (p *OpenAIProvider) Stream(ctx context.Context, req Request) (<-chan Event, error) {
	stream, err := p.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt(req)},
		},
		Stream: true,
	})
	if err != nil {
		return nil, fmt.Errorf("openai stream: %w", err)
	}

	out := make(chan Event, 16)
	go func() {
		defer close(out)
		defer stream.Close()

		var full strings.Builder
		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				send(ctx, out, FinalEvent(full.String()))
				return
			}
			if err != nil {
				if ctx.Err() == nil {
					p.log.Warn("openai stream failed", "node_id", req.NodeID, "error", err)
				}
				send(ctx, out, ErrorEvent(err))
				return
			}
			for _, choice := range resp.Choices {
				d := choice.Delta.Content
				if d == "" {
					continue
				}
				full.WriteString(d)
				if !send(ctx, out, DeltaEvent(d, full.String())) {
					return
				}
			}
		}
	}()
	return out, nil
}
