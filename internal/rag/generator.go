package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nexusrag/backend-go/internal/config"
	apperrors "github.com/nexusrag/backend-go/internal/errors"
)

// Message 发送给生成模型的单条消息
type Message struct {
	Role    string
	Content string
}

// StreamHandler 接收流式生成的文本片段，返回错误时中止生成
type StreamHandler func(fragment string) error

// Generator 流式文本生成接口
type Generator interface {
	Stream(ctx context.Context, messages []Message, emit StreamHandler) error
	Ready() bool
}

// NoopGenerator 默认占位实现
type NoopGenerator struct{}

func (n *NoopGenerator) Stream(ctx context.Context, messages []Message, emit StreamHandler) error {
	return apperrors.NewGenerationError("generation provider not configured")
}

func (n *NoopGenerator) Ready() bool {
	return false
}

const defaultSystemPrompt = "You are a helpful assistant. Answer the question using only the " +
	"provided reference passages. Cite passages by their bracketed number, like [1]. " +
	"If the passages do not contain the answer, say so."

// GeneratorOrchestrator 生成编排器。
// 负责组装提示词、调用生成器并转发流式片段。
// 瞬时失败只在第一个片段发出之前重试；一旦开始流式输出，
// 失败即以携带已生成部分文本的GenerationError终止。
type GeneratorOrchestrator struct {
	generator    Generator
	systemPrompt string
	maxRetries   int
	backoff      time.Duration
}

// NewGeneratorOrchestrator 创建生成编排器
func NewGeneratorOrchestrator(generator Generator, cfg config.GenerationConfig) *GeneratorOrchestrator {
	systemPrompt := strings.TrimSpace(cfg.SystemPrompt)
	if systemPrompt == "" {
		systemPrompt = defaultSystemPrompt
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	backoff := time.Duration(cfg.BackoffMs) * time.Millisecond
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	return &GeneratorOrchestrator{
		generator:    generator,
		systemPrompt: systemPrompt,
		maxRetries:   maxRetries,
		backoff:      backoff,
	}
}

// BuildMessages 组装提示词：系统指令、参考段落、会话历史、当前问题
func (g *GeneratorOrchestrator) BuildMessages(query string, assembled *AssembledContext, history []Turn) []Message {
	messages := []Message{{Role: "system", Content: g.systemPrompt}}

	if assembled != nil && len(assembled.Passages) > 0 {
		var sb strings.Builder
		sb.WriteString("Reference passages:\n")
		for i, passage := range assembled.Passages {
			fmt.Fprintf(&sb, "\n[%d] (%s)\n%s\n", i+1, passage.Citation.DocumentName, passage.Text)
		}
		messages = append(messages, Message{Role: "system", Content: sb.String()})
	}

	for _, turn := range history {
		role := turn.Role
		if role != "assistant" {
			role = "user"
		}
		messages = append(messages, Message{Role: role, Content: turn.Text})
	}

	messages = append(messages, Message{Role: "user", Content: query})
	return messages
}

// Generate 流式生成回答并返回完整文本。
// emit可为nil（不需要逐片段转发时）。
func (g *GeneratorOrchestrator) Generate(ctx context.Context, query string, assembled *AssembledContext, history []Turn, emit StreamHandler) (string, error) {
	if strings.TrimSpace(query) == "" {
		return "", apperrors.NewValidationError("query is empty")
	}
	messages := g.BuildMessages(query, assembled, history)

	var lastErr error
	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", apperrors.NewGenerationError("generation cancelled").WithCause(ctx.Err())
			case <-time.After(g.backoff * time.Duration(attempt)):
			}
		}

		var answer strings.Builder
		streamed := false
		err := g.generator.Stream(ctx, messages, func(fragment string) error {
			if fragment == "" {
				return nil
			}
			streamed = true
			answer.WriteString(fragment)
			if emit != nil {
				return emit(fragment)
			}
			return nil
		})
		if err == nil {
			return answer.String(), nil
		}

		// 已经向调用方流出过片段，不能重试，附带部分文本上抛
		if streamed {
			return answer.String(), apperrors.NewGenerationError("generation interrupted").
				WithCause(err).WithPartial(answer.String())
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", apperrors.NewGenerationError("generation cancelled").WithCause(err)
		}
		lastErr = err
	}

	return "", apperrors.NewGenerationError("generation failed").WithCause(lastErr)
}
