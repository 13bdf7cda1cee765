package rag

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/nexusrag/backend-go/internal/config"
	apperrors "github.com/nexusrag/backend-go/internal/errors"
	"github.com/nexusrag/backend-go/internal/logger"
)

// ChunkSource 按ID解析分块内容，由文档存储实现
type ChunkSource interface {
	GetChunk(ctx context.Context, chunkID string) (*Chunk, bool)
}

// Retriever 检索器：向量化查询、超额召回、阈值过滤、重排序、截取TopK。
// 文档过滤在索引检索阶段生效，过滤后的结果再截取，
// 不会出现"TopK被过滤剩一半"的情况。
type Retriever struct {
	embedder  Embedder
	index     VectorIndex
	chunks    ChunkSource
	reranker  Reranker
	topK      int
	overfetch int
	threshold float64
}

// NewRetriever 创建检索器
func NewRetriever(embedder Embedder, index VectorIndex, chunks ChunkSource, reranker Reranker, cfg config.RetrievalConfig) *Retriever {
	topK := cfg.TopK
	if topK <= 0 {
		topK = 5
	}
	overfetch := cfg.OverfetchFactor
	if overfetch <= 0 {
		overfetch = 4
	}
	return &Retriever{
		embedder:  embedder,
		index:     index,
		chunks:    chunks,
		reranker:  reranker,
		topK:      topK,
		overfetch: overfetch,
		threshold: cfg.ScoreThreshold,
	}
}

// TopK 返回单次检索的结果上限
func (r *Retriever) TopK() int {
	return r.topK
}

// Retrieve 检索与查询最相关的分块，可按文档ID过滤。
// 语料不足TopK时返回较少结果，空语料返回空切片。
func (r *Retriever) Retrieve(ctx context.Context, query string, filter *SearchFilter) ([]RetrievedChunk, error) {
	if strings.TrimSpace(query) == "" {
		return nil, apperrors.NewValidationError("query is empty")
	}

	embedding, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	// 超额召回：为阈值过滤和悬挂引用留出余量
	matches, err := r.index.Search(ctx, embedding, r.topK*r.overfetch, filter)
	if err != nil {
		return nil, err
	}

	candidates := make([]RetrievedChunk, 0, len(matches))
	for _, match := range matches {
		if r.threshold > 0 && match.Score < r.threshold {
			continue
		}
		chunk, ok := r.chunks.GetChunk(ctx, match.ChunkID)
		if !ok {
			// 索引与文档存储之间的短暂不一致（如删除进行中），跳过
			logger.Warn("chunk missing for index entry",
				zap.String("chunk_id", match.ChunkID),
				zap.String("document_id", match.DocumentID))
			continue
		}
		candidates = append(candidates, RetrievedChunk{
			Chunk: *chunk,
			Score: match.Score,
		})
	}

	if r.reranker != nil && r.reranker.Ready() && len(candidates) > 1 {
		reranked, err := r.reranker.Rerank(ctx, query, candidates)
		if err != nil {
			// 重排序失败回退到原始顺序
			logger.Warn("rerank failed", zap.Error(err))
		} else if len(reranked) == len(candidates) {
			candidates = reranked
		}
	}

	if len(candidates) > r.topK {
		candidates = candidates[:r.topK]
	}
	return candidates, nil
}
