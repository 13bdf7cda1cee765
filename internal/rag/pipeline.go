package rag

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nexusrag/backend-go/internal/config"
	apperrors "github.com/nexusrag/backend-go/internal/errors"
	"github.com/nexusrag/backend-go/internal/kafka"
	"github.com/nexusrag/backend-go/internal/logger"
	"github.com/nexusrag/backend-go/internal/metrics"
	"github.com/nexusrag/backend-go/internal/storage"
)

// QueryRequest 一次问答请求
type QueryRequest struct {
	Query   string
	Filter  *SearchFilter
	History []Turn
	// Emit 接收流式片段，可为nil
	Emit StreamHandler
}

// Pipeline 检索增强生成管线的门面。
// 摄取：解析、分块、向量化、两段提交入库；
// 问答：缓存、检索、重排、拼接、流式生成。
type Pipeline struct {
	chunker      *Chunker
	embedder     Embedder
	index        VectorIndex
	store        *DocumentStore
	retriever    *Retriever
	assembler    *ContextAssembler
	orchestrator *GeneratorOrchestrator
	cache        *QueryCache
	parser       *ParserRegistry
	counter      *TokenCounter
	archive      *storage.ObjectStorage
}

// NewPipeline 组装管线。index决定检索后端，archive可为nil。
func NewPipeline(cfg config.PipelineConfig, index VectorIndex, generator Generator, archive *storage.ObjectStorage) *Pipeline {
	counter := NewTokenCounter()
	embedder := WrapEmbedderCache(
		NewOpenAIEmbedder(cfg.Embedding),
		cfg.Embedding.CacheSize,
		time.Duration(cfg.Embedding.CacheTTLSecs)*time.Second,
	)
	store := NewDocumentStore(index)
	reranker := NewLexicalReranker(0.7, 0.3)

	return &Pipeline{
		chunker:      NewChunker(cfg.Chunking),
		embedder:     embedder,
		index:        index,
		store:        store,
		retriever:    NewRetriever(embedder, index, store, reranker, cfg.Retrieval),
		assembler:    NewContextAssembler(store, counter, cfg.Context),
		orchestrator: NewGeneratorOrchestrator(generator, cfg.Generation),
		cache:        NewQueryCache(cfg.Cache),
		parser:       NewParserRegistry(),
		counter:      counter,
		archive:      archive,
	}
}

// Store 暴露文档存储（健康检查与测试用）
func (p *Pipeline) Store() *DocumentStore {
	return p.store
}

// Embedder 暴露向量化组件
func (p *Pipeline) Embedder() Embedder {
	return p.embedder
}

// SupportedFormats 受支持的上传格式
func (p *Pipeline) SupportedFormats() []string {
	return p.parser.SupportedFormats()
}

// IngestText 摄取纯文本文档。
// 任一分块向量化失败则整个文档不可见，不留部分状态。
func (p *Pipeline) IngestText(ctx context.Context, name, contentType string, metadata map[string]string, text string) (*Document, error) {
	if strings.TrimSpace(text) == "" {
		return nil, apperrors.NewValidationError("document content is empty")
	}

	doc := Document{
		ID:          uuid.NewString(),
		Name:        name,
		ContentType: contentType,
		Metadata:    metadata,
		UploadedAt:  time.Now(),
		TokenCount:  p.counter.Count(text),
	}

	chunks := p.chunker.Split(text)
	vectors := make([][]float32, 0, len(chunks))
	for i := range chunks {
		chunks[i].TokenCount = p.counter.Count(chunks[i].Text)
		vector, err := p.embedder.Embed(ctx, chunks[i].Text)
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, vector)
	}

	if err := p.store.AddDocument(ctx, doc, chunks, vectors); err != nil {
		return nil, err
	}

	metrics.DocumentIngested(len(chunks))
	if count, err := p.index.Len(ctx); err == nil {
		metrics.SetIndexEntries(count)
	}
	kafka.PublishEvent(&kafka.PipelineEvent{
		Type:       kafka.EventDocumentIngested,
		DocumentID: doc.ID,
		ChunkCount: len(chunks),
		TokenCount: doc.TokenCount,
	})
	logger.Info("document ingested",
		zap.String("document_id", doc.ID),
		zap.String("name", doc.Name),
		zap.Int("chunks", len(chunks)))

	stored, err := p.store.GetDocument(ctx, doc.ID)
	if err != nil {
		return &doc, nil
	}
	return stored, nil
}

// IngestFile 摄取上传文件：提取文本后入库，原始文件归档到对象存储
func (p *Pipeline) IngestFile(ctx context.Context, filename, contentType string, reader io.Reader) (*Document, error) {
	if !p.parser.Supports(filename) {
		return nil, apperrors.NewValidationError(fmt.Sprintf("unsupported file format: %s", filename))
	}

	raw, err := io.ReadAll(reader)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to read upload").WithCause(err)
	}

	text, err := p.parser.Parse(bytes.NewReader(raw), filename)
	if err != nil {
		return nil, err
	}

	doc, err := p.IngestText(ctx, filename, contentType, nil, text)
	if err != nil {
		return nil, err
	}

	if p.archive.Ready() {
		if _, err := p.archive.Upload(ctx, doc.ID, filename, bytes.NewReader(raw), int64(len(raw)), contentType); err != nil {
			// 归档失败不影响已完成的摄取
			logger.Warn("failed to archive original file",
				zap.String("document_id", doc.ID), zap.Error(err))
		}
	}
	return doc, nil
}

// GetDocument 获取文档元信息
func (p *Pipeline) GetDocument(ctx context.Context, documentID string) (*Document, error) {
	return p.store.GetDocument(ctx, documentID)
}

// ListDocuments 列出全部文档
func (p *Pipeline) ListDocuments(ctx context.Context) []Document {
	return p.store.ListDocuments(ctx)
}

// DeleteDocument 删除文档及其索引条目与归档文件
func (p *Pipeline) DeleteDocument(ctx context.Context, documentID string) error {
	if err := p.store.DeleteDocument(ctx, documentID); err != nil {
		return err
	}

	if p.archive.Ready() {
		if err := p.archive.DeleteByDocument(ctx, documentID); err != nil {
			logger.Warn("failed to delete archived file",
				zap.String("document_id", documentID), zap.Error(err))
		}
	}

	metrics.DocumentDeleted()
	if count, err := p.index.Len(ctx); err == nil {
		metrics.SetIndexEntries(count)
	}
	kafka.PublishEvent(&kafka.PipelineEvent{
		Type:       kafka.EventDocumentDeleted,
		DocumentID: documentID,
	})
	logger.Info("document deleted", zap.String("document_id", documentID))
	return nil
}

// Reconcile 重试未完成的索引清理
func (p *Pipeline) Reconcile(ctx context.Context) int {
	return p.store.Reconcile(ctx)
}

// Query 执行问答。无历史的查询走缓存：缓存键含语料版本号，
// 文档增删后旧条目自然失效；相同查询的并发请求共享一次计算，
// 共享方收到完整回答作为单个片段。带历史的多轮查询绕过缓存。
func (p *Pipeline) Query(ctx context.Context, req QueryRequest) (QueryResult, error) {
	if strings.TrimSpace(req.Query) == "" {
		return QueryResult{}, apperrors.NewValidationError("query is empty")
	}

	started := time.Now()

	if len(req.History) > 0 {
		result, err := p.executeQuery(ctx, req)
		p.observeQuery(result, false, started, err)
		return result, err
	}

	key := CacheKey(req.Query, req.Filter, p.store.Version())
	result, shared, err := p.cache.GetOrCompute(ctx, key, func() (QueryResult, error) {
		return p.executeQuery(ctx, req)
	})
	if err != nil {
		p.observeQuery(result, shared, started, err)
		return result, err
	}
	if shared {
		result.FromCache = true
		if req.Emit != nil && result.Answer != "" {
			if emitErr := req.Emit(result.Answer); emitErr != nil {
				return result, emitErr
			}
		}
	}
	p.observeQuery(result, shared, started, nil)
	return result, nil
}

func (p *Pipeline) executeQuery(ctx context.Context, req QueryRequest) (QueryResult, error) {
	retrieved, err := p.retriever.Retrieve(ctx, req.Query, req.Filter)
	if err != nil {
		return QueryResult{}, err
	}

	assembled := p.assembler.Assemble(ctx, retrieved)
	answer, err := p.orchestrator.Generate(ctx, req.Query, assembled, req.History, req.Emit)
	if err != nil {
		return QueryResult{Answer: answer, Citations: assembled.Citations}, err
	}

	kafka.PublishEvent(&kafka.PipelineEvent{
		Type:       kafka.EventQueryAnswered,
		Query:      req.Query,
		TokenCount: assembled.TokenCount,
	})
	return QueryResult{
		Answer:    answer,
		Citations: assembled.Citations,
	}, nil
}

func (p *Pipeline) observeQuery(result QueryResult, cacheHit bool, started time.Time, err error) {
	if err != nil {
		metrics.QueryFailed()
		if apperrors.IsKind(err, apperrors.KindGeneration) {
			metrics.GenerationFailed()
		}
		return
	}
	metrics.QueryServed(cacheHit, time.Since(started))
}

// Ready 管线核心组件是否就绪
func (p *Pipeline) Ready() bool {
	return p.index != nil && p.index.Ready()
}
