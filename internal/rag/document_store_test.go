package rag

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/nexusrag/backend-go/internal/errors"
)

// flakyIndex 可注入故障的索引，用于验证两段提交与删除补偿
type flakyIndex struct {
	*MemoryVectorIndex
	failBatch  bool
	failDelete bool
}

func (f *flakyIndex) InsertBatch(ctx context.Context, entries []IndexEntry) error {
	if f.failBatch {
		return apperrors.NewInternalError("index unavailable")
	}
	return f.MemoryVectorIndex.InsertBatch(ctx, entries)
}

func (f *flakyIndex) DeleteByDocument(ctx context.Context, documentID string) error {
	if f.failDelete {
		return apperrors.NewInternalError("index unavailable")
	}
	return f.MemoryVectorIndex.DeleteByDocument(ctx, documentID)
}

func testChunks(docID string, texts ...string) ([]Chunk, [][]float32) {
	chunks := make([]Chunk, 0, len(texts))
	vectors := make([][]float32, 0, len(texts))
	offset := 0
	for i, text := range texts {
		chunks = append(chunks, Chunk{
			Index: i,
			Start: offset,
			End:   offset + len([]rune(text)),
			Text:  text,
		})
		offset += len([]rune(text))
		vectors = append(vectors, []float32{float32(i + 1), 1})
	}
	return chunks, vectors
}

func TestDocumentStore_AddDocument(t *testing.T) {
	ctx := context.Background()
	index := NewMemoryVectorIndex(2)
	store := NewDocumentStore(index)

	chunks, vectors := testChunks("doc-1", "first chunk", "second chunk")
	err := store.AddDocument(ctx, Document{ID: "doc-1", Name: "a.txt"}, chunks, vectors)
	require.NoError(t, err)

	assert.Equal(t, uint64(1), store.Version())
	assert.Equal(t, 1, store.Count())

	doc, err := store.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "a.txt", doc.Name)
	assert.Equal(t, 2, doc.ChunkCount)
	assert.False(t, doc.UploadedAt.IsZero())

	// 未指定的分块ID按 docID:index 生成
	stored, err := store.GetChunks(ctx, "doc-1")
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, "doc-1:0", stored[0].ID)
	assert.Equal(t, "doc-1:1", stored[1].ID)
	assert.Equal(t, "doc-1", stored[0].DocumentID)

	chunk, ok := store.GetChunk(ctx, "doc-1:1")
	require.True(t, ok)
	assert.Equal(t, "second chunk", chunk.Text)

	count, err := index.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	// 重复文档ID被拒绝
	chunks2, vectors2 := testChunks("doc-1", "again")
	err = store.AddDocument(ctx, Document{ID: "doc-1"}, chunks2, vectors2)
	assert.True(t, apperrors.IsKind(err, apperrors.KindDuplicateID))
}

func TestDocumentStore_AddDocumentValidation(t *testing.T) {
	ctx := context.Background()
	store := NewDocumentStore(NewMemoryVectorIndex(2))

	chunks, vectors := testChunks("d", "one", "two")

	err := store.AddDocument(ctx, Document{}, chunks, vectors)
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))

	err = store.AddDocument(ctx, Document{ID: "d"}, chunks, vectors[:1])
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))
}

func TestDocumentStore_StagedCommit(t *testing.T) {
	ctx := context.Background()
	index := &flakyIndex{MemoryVectorIndex: NewMemoryVectorIndex(2), failBatch: true}
	store := NewDocumentStore(index)

	chunks, vectors := testChunks("doc-1", "first", "second")
	err := store.AddDocument(ctx, Document{ID: "doc-1"}, chunks, vectors)
	require.Error(t, err)

	// 索引写入失败时文档完全不可见，版本号不变
	assert.Equal(t, uint64(0), store.Version())
	assert.Equal(t, 0, store.Count())
	_, err = store.GetDocument(ctx, "doc-1")
	assert.True(t, apperrors.IsKind(err, apperrors.KindNotFound))
	count, _ := index.Len(ctx)
	assert.Equal(t, 0, count)

	// 故障恢复后同一文档可以重新摄取
	index.failBatch = false
	require.NoError(t, store.AddDocument(ctx, Document{ID: "doc-1"}, chunks, vectors))
	assert.Equal(t, uint64(1), store.Version())
}

func TestDocumentStore_ListDocumentsOrder(t *testing.T) {
	ctx := context.Background()
	store := NewDocumentStore(NewMemoryVectorIndex(2))

	for _, id := range []string{"b", "a", "c"} {
		chunks, vectors := testChunks(id, "content of "+id)
		require.NoError(t, store.AddDocument(ctx, Document{ID: id}, chunks, vectors))
	}

	docs := store.ListDocuments(ctx)
	require.Len(t, docs, 3)
	// 按摄取顺序列出
	assert.Equal(t, "b", docs[0].ID)
	assert.Equal(t, "a", docs[1].ID)
	assert.Equal(t, "c", docs[2].ID)
}

func TestDocumentStore_DeleteDocument(t *testing.T) {
	ctx := context.Background()
	index := NewMemoryVectorIndex(2)
	store := NewDocumentStore(index)

	chunks, vectors := testChunks("doc-1", "first", "second")
	require.NoError(t, store.AddDocument(ctx, Document{ID: "doc-1"}, chunks, vectors))

	require.NoError(t, store.DeleteDocument(ctx, "doc-1"))
	assert.Equal(t, uint64(2), store.Version())
	assert.Equal(t, 0, store.Count())

	_, ok := store.GetChunk(ctx, "doc-1:0")
	assert.False(t, ok)
	count, _ := index.Len(ctx)
	assert.Equal(t, 0, count)

	// 再次删除返回NotFound
	err := store.DeleteDocument(ctx, "doc-1")
	assert.True(t, apperrors.IsKind(err, apperrors.KindNotFound))
}

func TestDocumentStore_DeleteConsistencyAndReconcile(t *testing.T) {
	ctx := context.Background()
	index := &flakyIndex{MemoryVectorIndex: NewMemoryVectorIndex(2)}
	store := NewDocumentStore(index)

	chunks, vectors := testChunks("doc-1", "first", "second")
	require.NoError(t, store.AddDocument(ctx, Document{ID: "doc-1"}, chunks, vectors))

	// 索引删除失败：文档立即不可见，索引条目悬挂，返回ConsistencyError
	index.failDelete = true
	err := store.DeleteDocument(ctx, "doc-1")
	assert.True(t, apperrors.IsKind(err, apperrors.KindConsistency))

	_, err = store.GetDocument(ctx, "doc-1")
	assert.True(t, apperrors.IsKind(err, apperrors.KindNotFound))
	count, _ := index.Len(ctx)
	assert.Equal(t, 2, count)

	// 故障未恢复时Reconcile仍有遗留
	assert.Equal(t, 1, store.Reconcile(ctx))

	// 恢复后Reconcile清除悬挂条目
	index.failDelete = false
	assert.Equal(t, 0, store.Reconcile(ctx))
	count, _ = index.Len(ctx)
	assert.Equal(t, 0, count)

	// 再次Reconcile无事可做
	assert.Equal(t, 0, store.Reconcile(ctx))
}
