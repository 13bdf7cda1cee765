package rag

import (
	"context"
	"fmt"
	"sync"

	apperrors "github.com/nexusrag/backend-go/internal/errors"
)

// memoryEntry 内存索引条目，seq记录插入顺序用于同分排序
type memoryEntry struct {
	documentID string
	vector     []float32
	seq        uint64
}

// MemoryVectorIndex 内存精确索引：余弦相似度暴力检索。
// 所有操作在单个读写锁下完成，批量插入和按文档删除天然原子。
type MemoryVectorIndex struct {
	mu         sync.RWMutex
	entries    map[string]*memoryEntry
	dimensions int
	nextSeq    uint64
}

// NewMemoryVectorIndex 创建内存索引；dimensions为0时采用首个插入向量的维度
func NewMemoryVectorIndex(dimensions int) *MemoryVectorIndex {
	return &MemoryVectorIndex{
		entries:    make(map[string]*memoryEntry),
		dimensions: dimensions,
	}
}

func (m *MemoryVectorIndex) validateEntry(entry IndexEntry) error {
	if entry.ChunkID == "" {
		return apperrors.NewValidationError("chunk id is empty")
	}
	if len(entry.Vector) == 0 {
		return apperrors.NewValidationError("vector is empty")
	}
	if m.dimensions > 0 && len(entry.Vector) != m.dimensions {
		return apperrors.NewDimensionMismatchError(m.dimensions, len(entry.Vector))
	}
	return nil
}

func (m *MemoryVectorIndex) put(entry IndexEntry) {
	if m.dimensions == 0 {
		m.dimensions = len(entry.Vector)
	}
	m.entries[entry.ChunkID] = &memoryEntry{
		documentID: entry.DocumentID,
		vector:     cloneVector(entry.Vector),
		seq:        m.nextSeq,
	}
	m.nextSeq++
}

func (m *MemoryVectorIndex) Insert(ctx context.Context, entry IndexEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.validateEntry(entry); err != nil {
		return err
	}
	if _, exists := m.entries[entry.ChunkID]; exists {
		return apperrors.NewDuplicateIDError(entry.ChunkID)
	}
	m.put(entry)
	return nil
}

func (m *MemoryVectorIndex) Upsert(ctx context.Context, entry IndexEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.validateEntry(entry); err != nil {
		return err
	}
	m.put(entry)
	return nil
}

// InsertBatch 原子批量插入：先整体校验，任一条目非法则全部拒绝
func (m *MemoryVectorIndex) InsertBatch(ctx context.Context, entries []IndexEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		if err := m.validateEntry(entry); err != nil {
			return err
		}
		if _, exists := m.entries[entry.ChunkID]; exists {
			return apperrors.NewDuplicateIDError(entry.ChunkID)
		}
		if _, dup := seen[entry.ChunkID]; dup {
			return apperrors.NewDuplicateIDError(entry.ChunkID)
		}
		seen[entry.ChunkID] = struct{}{}
	}

	for _, entry := range entries {
		m.put(entry)
	}
	return nil
}

func (m *MemoryVectorIndex) Search(ctx context.Context, vector []float32, topK int, filter *SearchFilter) ([]SearchMatch, error) {
	if topK <= 0 {
		return nil, apperrors.NewValidationError(fmt.Sprintf("invalid top_k: %d", topK))
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.dimensions > 0 && len(vector) != m.dimensions {
		return nil, apperrors.NewDimensionMismatchError(m.dimensions, len(vector))
	}

	norm := vectorNorm(vector)
	candidates := make([]rankedMatch, 0, len(m.entries))
	for chunkID, entry := range m.entries {
		if filter != nil && !filter.Matches(entry.documentID) {
			continue
		}
		candidates = append(candidates, rankedMatch{
			match: SearchMatch{
				ChunkID:    chunkID,
				DocumentID: entry.documentID,
				Score:      cosineSimilarity(vector, entry.vector, norm),
			},
			seq: entry.seq,
		})
	}

	sortRankedMatches(candidates)
	if len(candidates) > topK {
		candidates = candidates[:topK]
	}

	matches := make([]SearchMatch, 0, len(candidates))
	for _, c := range candidates {
		matches = append(matches, c.match)
	}
	return matches, nil
}

func (m *MemoryVectorIndex) Delete(ctx context.Context, chunkID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, chunkID)
	return nil
}

func (m *MemoryVectorIndex) DeleteByDocument(ctx context.Context, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for chunkID, entry := range m.entries {
		if entry.documentID == documentID {
			delete(m.entries, chunkID)
		}
	}
	return nil
}

func (m *MemoryVectorIndex) Len(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.entries), nil
}

func (m *MemoryVectorIndex) Approximate() bool {
	return false
}

func (m *MemoryVectorIndex) Ready() bool {
	return true
}
