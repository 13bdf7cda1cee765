package rag

import (
	"context"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/nexusrag/backend-go/internal/config"
	apperrors "github.com/nexusrag/backend-go/internal/errors"
)

// Embedder 定义文本向量化接口
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
	Ready() bool
}

// NoopEmbedder 默认占位实现
type NoopEmbedder struct{}

func (n *NoopEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, apperrors.NewEmbeddingError("embedding provider not configured")
}

func (n *NoopEmbedder) Dimensions() int {
	return 0
}

func (n *NoopEmbedder) Ready() bool {
	return false
}

var embeddingDimensions = map[string]int{
	"text-embedding-3-large": 3072,
	"text-embedding-3-small": 1536,
	"text-embedding-ada-002": 1536,
}

// OpenAIEmbedder 使用OpenAI Embedding API。
// 瞬时失败在本地按配置有界重试，耗尽后以EmbeddingError向上传播。
type OpenAIEmbedder struct {
	client     *openai.Client
	model      string
	dimensions int
	maxRetries int
	backoff    time.Duration
}

// NewOpenAIEmbedder 创建OpenAI嵌入向量生成器
func NewOpenAIEmbedder(cfg config.EmbeddingConfig) Embedder {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return &NoopEmbedder{}
	}

	model := cfg.Model
	if model == "" {
		model = "text-embedding-3-small"
	}

	clientCfg := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	dims := cfg.Dimensions
	if dims == 0 {
		if known, ok := embeddingDimensions[model]; ok {
			dims = known
		} else {
			dims = 1536
		}
	}

	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	backoff := time.Duration(cfg.BackoffMs) * time.Millisecond
	if backoff <= 0 {
		backoff = 200 * time.Millisecond
	}

	return &OpenAIEmbedder{
		client:     openai.NewClientWithConfig(clientCfg),
		model:      model,
		dimensions: dims,
		maxRetries: maxRetries,
		backoff:    backoff,
	}
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, apperrors.NewValidationError("text is empty")
	}

	var lastErr error
	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, apperrors.NewEmbeddingError("embedding cancelled").WithCause(ctx.Err())
			case <-time.After(e.backoff * time.Duration(attempt)):
			}
		}

		resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Model: openai.EmbeddingModel(e.model),
			Input: []string{text},
		})
		if err != nil {
			lastErr = err
			continue
		}
		if len(resp.Data) == 0 {
			lastErr = apperrors.NewEmbeddingError("embedding response empty")
			continue
		}

		embedding := resp.Data[0].Embedding
		result := make([]float32, len(embedding))
		copy(result, embedding)
		return result, nil
	}

	return nil, apperrors.NewEmbeddingError("embedding request failed").WithCause(lastErr)
}

func (e *OpenAIEmbedder) Dimensions() int {
	return e.dimensions
}

func (e *OpenAIEmbedder) Ready() bool {
	return e.client != nil
}
