package rag

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/nexusrag/backend-go/internal/config"
)

// OpenAIGenerator 使用OpenAI Chat Completion流式接口的生成器
type OpenAIGenerator struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
}

// NewOpenAIGenerator 创建OpenAI生成器，未配置API Key时返回占位实现
func NewOpenAIGenerator(cfg config.GenerationConfig) Generator {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return &NoopGenerator{}
	}

	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}

	clientCfg := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &OpenAIGenerator{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       model,
		maxTokens:   cfg.MaxTokens,
		temperature: float32(cfg.Temperature),
	}
}

func (g *OpenAIGenerator) Stream(ctx context.Context, messages []Message, emit StreamHandler) error {
	chatMessages := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		chatMessages = append(chatMessages, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	stream, err := g.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:       g.model,
		Messages:    chatMessages,
		MaxTokens:   g.maxTokens,
		Temperature: g.temperature,
		Stream:      true,
	})
	if err != nil {
		return fmt.Errorf("create completion stream: %w", err)
	}
	defer stream.Close()

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("receive stream chunk: %w", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		if delta := resp.Choices[0].Delta.Content; delta != "" {
			if err := emit(delta); err != nil {
				return err
			}
		}
	}
}

func (g *OpenAIGenerator) Ready() bool {
	return g.client != nil
}
