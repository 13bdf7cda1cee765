package rag

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/nexusrag/backend-go/internal/errors"
	"github.com/nexusrag/backend-go/internal/logger"
)

// DocumentStore 文档与分块的权威存储，分块文本只保存在这里，
// 向量索引仅持有chunk_id引用。
//
// 摄取采用两段提交：先向索引原子写入全部向量，成功后才注册
// 文档与分块，任何失败都不会留下部分可见的文档。
// 版本号在每次成功变更后递增，供查询缓存做失效判断。
type DocumentStore struct {
	mu    sync.RWMutex
	index VectorIndex

	docs      map[string]*Document
	chunks    map[string]*Chunk
	docChunks map[string][]string
	docOrder  []string

	// 索引删除失败的文档，等待Reconcile重试
	pendingDeletes map[string]struct{}

	version atomic.Uint64
}

// NewDocumentStore 创建文档存储
func NewDocumentStore(index VectorIndex) *DocumentStore {
	return &DocumentStore{
		index:          index,
		docs:           make(map[string]*Document),
		chunks:         make(map[string]*Chunk),
		docChunks:      make(map[string][]string),
		pendingDeletes: make(map[string]struct{}),
	}
}

// Version 返回当前版本号，每次成功的增删后递增
func (s *DocumentStore) Version() uint64 {
	return s.version.Load()
}

// AddDocument 注册文档及其分块，并原子写入向量索引。
// chunks与vectors一一对应；文档ID已存在返回DuplicateID。
func (s *DocumentStore) AddDocument(ctx context.Context, doc Document, chunks []Chunk, vectors [][]float32) error {
	if doc.ID == "" {
		return apperrors.NewValidationError("document id is empty")
	}
	if len(chunks) != len(vectors) {
		return apperrors.NewValidationError(
			fmt.Sprintf("chunk count %d does not match vector count %d", len(chunks), len(vectors)))
	}

	s.mu.RLock()
	_, exists := s.docs[doc.ID]
	s.mu.RUnlock()
	if exists {
		return apperrors.NewDuplicateIDError(doc.ID)
	}

	entries := make([]IndexEntry, 0, len(chunks))
	chunkIDs := make([]string, 0, len(chunks))
	for i := range chunks {
		if chunks[i].ID == "" {
			chunks[i].ID = fmt.Sprintf("%s:%d", doc.ID, chunks[i].Index)
		}
		chunks[i].DocumentID = doc.ID
		chunkIDs = append(chunkIDs, chunks[i].ID)
		entries = append(entries, IndexEntry{
			ChunkID:    chunks[i].ID,
			DocumentID: doc.ID,
			Vector:     vectors[i],
		})
	}

	// 先写索引：失败时文档完全不可见
	if err := s.index.InsertBatch(ctx, entries); err != nil {
		return err
	}

	s.mu.Lock()
	if _, exists := s.docs[doc.ID]; exists {
		s.mu.Unlock()
		// 并发写入了同名文档，回收刚插入的向量
		if cleanupErr := s.index.DeleteByDocument(ctx, doc.ID); cleanupErr != nil {
			logger.Error("failed to roll back index entries",
				zap.String("document_id", doc.ID), zap.Error(cleanupErr))
		}
		return apperrors.NewDuplicateIDError(doc.ID)
	}

	if doc.UploadedAt.IsZero() {
		doc.UploadedAt = time.Now()
	}
	doc.ChunkCount = len(chunks)
	s.docs[doc.ID] = &doc
	s.docChunks[doc.ID] = chunkIDs
	for i := range chunks {
		chunk := chunks[i]
		s.chunks[chunk.ID] = &chunk
	}
	s.docOrder = append(s.docOrder, doc.ID)
	s.mu.Unlock()

	s.version.Add(1)
	return nil
}

// GetDocument 按ID获取文档
func (s *DocumentStore) GetDocument(ctx context.Context, documentID string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.docs[documentID]
	if !ok {
		return nil, apperrors.NewNotFoundError("document")
	}
	copied := *doc
	return &copied, nil
}

// ListDocuments 按上传顺序列出全部文档
func (s *DocumentStore) ListDocuments(ctx context.Context) []Document {
	s.mu.RLock()
	defer s.mu.RUnlock()

	docs := make([]Document, 0, len(s.docOrder))
	for _, id := range s.docOrder {
		if doc, ok := s.docs[id]; ok {
			docs = append(docs, *doc)
		}
	}
	return docs
}

// GetChunk 按ID解析分块，实现ChunkSource
func (s *DocumentStore) GetChunk(ctx context.Context, chunkID string) (*Chunk, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chunk, ok := s.chunks[chunkID]
	if !ok {
		return nil, false
	}
	copied := *chunk
	return &copied, true
}

// GetChunks 按序返回文档的全部分块
func (s *DocumentStore) GetChunks(ctx context.Context, documentID string) ([]Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chunkIDs, ok := s.docChunks[documentID]
	if !ok {
		return nil, apperrors.NewNotFoundError("document")
	}
	chunks := make([]Chunk, 0, len(chunkIDs))
	for _, id := range chunkIDs {
		if chunk, ok := s.chunks[id]; ok {
			chunks = append(chunks, *chunk)
		}
	}
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].Index < chunks[j].Index })
	return chunks, nil
}

// DeleteDocument 删除文档及其全部分块与向量。
// 存储先行更新，使进行中的查询立即停止解析该文档的分块；
// 索引删除失败时记录待重试并返回ConsistencyError，
// 悬挂的索引条目在检索阶段被跳过，由Reconcile最终清除。
func (s *DocumentStore) DeleteDocument(ctx context.Context, documentID string) error {
	s.mu.Lock()
	if _, ok := s.docs[documentID]; !ok {
		s.mu.Unlock()
		return apperrors.NewNotFoundError("document")
	}
	for _, chunkID := range s.docChunks[documentID] {
		delete(s.chunks, chunkID)
	}
	delete(s.docChunks, documentID)
	delete(s.docs, documentID)
	for i, id := range s.docOrder {
		if id == documentID {
			s.docOrder = append(s.docOrder[:i], s.docOrder[i+1:]...)
			break
		}
	}
	s.mu.Unlock()

	s.version.Add(1)

	if err := s.index.DeleteByDocument(ctx, documentID); err != nil {
		s.mu.Lock()
		s.pendingDeletes[documentID] = struct{}{}
		s.mu.Unlock()
		return apperrors.NewConsistencyError(
			fmt.Sprintf("index cleanup pending for document %s", documentID)).WithCause(err)
	}
	return nil
}

// Reconcile 重试失败的索引清理，返回仍未清理成功的文档数
func (s *DocumentStore) Reconcile(ctx context.Context) int {
	s.mu.Lock()
	pending := make([]string, 0, len(s.pendingDeletes))
	for id := range s.pendingDeletes {
		pending = append(pending, id)
	}
	s.mu.Unlock()

	remaining := 0
	for _, documentID := range pending {
		if err := s.index.DeleteByDocument(ctx, documentID); err != nil {
			logger.Warn("index cleanup retry failed",
				zap.String("document_id", documentID), zap.Error(err))
			remaining++
			continue
		}
		s.mu.Lock()
		delete(s.pendingDeletes, documentID)
		s.mu.Unlock()
	}
	return remaining
}

// Count 当前文档数
func (s *DocumentStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}
