package rag

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexusrag/backend-go/internal/config"
	apperrors "github.com/nexusrag/backend-go/internal/errors"
)

// stubDocs 以map实现DocumentSource
type stubDocs map[string]string

func (s stubDocs) GetDocument(ctx context.Context, documentID string) (*Document, error) {
	name, ok := s[documentID]
	if !ok {
		return nil, apperrors.NewNotFoundError("document")
	}
	return &Document{ID: documentID, Name: name}, nil
}

func TestContextAssembler_Empty(t *testing.T) {
	assembler := NewContextAssembler(stubDocs{}, NewTokenCounter(), config.ContextConfig{MaxTokens: 100})

	assembled := assembler.Assemble(context.Background(), nil)
	require.NotNil(t, assembled)
	assert.Empty(t, assembled.Text)
	assert.Zero(t, assembled.TokenCount)
	assert.Empty(t, assembled.Passages)
}

func TestContextAssembler_BudgetNeverExceeded(t *testing.T) {
	docs := stubDocs{"d1": "guide.txt"}
	assembler := NewContextAssembler(docs, NewTokenCounter(), config.ContextConfig{MaxTokens: 20})

	// 候选远超预算，只装得下一部分
	var candidates []RetrievedChunk
	for i := 0; i < 10; i++ {
		text := strings.Repeat("word ", 10)
		candidates = append(candidates, RetrievedChunk{
			Chunk: Chunk{
				ID:         "c" + string(rune('0'+i)),
				DocumentID: "d1",
				Index:      i,
				Start:      i * 100,
				End:        i*100 + 50,
				Text:       text,
			},
			Score: 1.0 - float64(i)*0.05,
		})
	}

	assembled := assembler.Assemble(context.Background(), candidates)
	assert.LessOrEqual(t, assembled.TokenCount, assembler.MaxTokens())
	assert.NotEmpty(t, assembled.Passages)
	assert.Less(t, len(assembled.Passages), 10)
}

func TestContextAssembler_StopsAtFirstOverflow(t *testing.T) {
	docs := stubDocs{"d1": "one.txt", "d2": "two.txt", "d3": "three.txt"}
	assembler := NewContextAssembler(docs, NewTokenCounter(), config.ContextConfig{MaxTokens: 20})

	// 次高分候选超出预算即停止装填，
	// 即使更低分的小候选仍放得下也不再装入
	candidates := []RetrievedChunk{
		{Chunk: Chunk{ID: "a", DocumentID: "d1", Start: 0, End: 60, Text: strings.Repeat("alpha ", 10)}, Score: 0.9},
		{Chunk: Chunk{ID: "b", DocumentID: "d2", Start: 0, End: 60, Text: strings.Repeat("bravo ", 10)}, Score: 0.8},
		{Chunk: Chunk{ID: "c", DocumentID: "d3", Start: 0, End: 4, Text: "tiny"}, Score: 0.7},
	}

	assembled := assembler.Assemble(context.Background(), candidates)
	require.Len(t, assembled.Passages, 1)
	assert.Equal(t, strings.Repeat("alpha ", 10), assembled.Passages[0].Text)
	assert.LessOrEqual(t, assembled.TokenCount, assembler.MaxTokens())
}

func TestContextAssembler_MergeOverlappingChunks(t *testing.T) {
	docs := stubDocs{"d1": "merged.txt"}
	assembler := NewContextAssembler(docs, NewTokenCounter(), config.ContextConfig{MaxTokens: 1000})

	// 同一文档内区间重叠的两块合并为一个段落，重叠文本只保留一份
	candidates := []RetrievedChunk{
		{
			Chunk: Chunk{ID: "c0", DocumentID: "d1", Index: 0, Start: 0, End: 10, Text: "abcdefghij"},
			Score: 0.9,
		},
		{
			Chunk: Chunk{ID: "c1", DocumentID: "d1", Index: 1, Start: 8, End: 18, Overlap: 2, Text: "ijklmnopqr"},
			Score: 0.8,
		},
	}

	assembled := assembler.Assemble(context.Background(), candidates)
	require.Len(t, assembled.Passages, 1)

	passage := assembled.Passages[0]
	assert.Equal(t, "abcdefghijklmnopqr", passage.Text)
	assert.Equal(t, "merged.txt", passage.Citation.DocumentName)
	assert.Equal(t, 0, passage.Citation.Start)
	assert.Equal(t, 18, passage.Citation.End)
	assert.Equal(t, 0.9, passage.Citation.Score)
	assert.Equal(t, 0, passage.Citation.ChunkIndex)
	assert.False(t, passage.Truncated)

	require.Len(t, assembled.Citations, 1)
	assert.Equal(t, passage.Citation, assembled.Citations[0])
}

func TestContextAssembler_SeparatePassages(t *testing.T) {
	docs := stubDocs{"d1": "one.txt", "d2": "two.txt"}
	assembler := NewContextAssembler(docs, NewTokenCounter(), config.ContextConfig{MaxTokens: 1000})

	// 不同文档、不相邻区间各自成段，段落按得分降序
	candidates := []RetrievedChunk{
		{Chunk: Chunk{ID: "a", DocumentID: "d1", Start: 0, End: 5, Text: "hello"}, Score: 0.6},
		{Chunk: Chunk{ID: "b", DocumentID: "d2", Start: 0, End: 5, Text: "world"}, Score: 0.9},
		{Chunk: Chunk{ID: "c", DocumentID: "d1", Start: 100, End: 105, Text: "again"}, Score: 0.7},
	}

	assembled := assembler.Assemble(context.Background(), candidates)
	require.Len(t, assembled.Passages, 3)
	assert.Equal(t, "world", assembled.Passages[0].Text)
	assert.Equal(t, "again", assembled.Passages[1].Text)
	assert.Equal(t, "hello", assembled.Passages[2].Text)

	// 段落以空行分隔
	assert.Equal(t, "world\n\nagain\n\nhello", assembled.Text)
}

func TestContextAssembler_TruncatesOversizedChunk(t *testing.T) {
	docs := stubDocs{"d1": "big.txt"}
	assembler := NewContextAssembler(docs, NewTokenCounter(), config.ContextConfig{MaxTokens: 10})

	text := strings.Repeat("token ", 100)
	candidates := []RetrievedChunk{
		{
			Chunk: Chunk{ID: "big", DocumentID: "d1", Start: 0, End: len([]rune(text)), Text: text},
			Score: 0.95,
		},
	}

	assembled := assembler.Assemble(context.Background(), candidates)
	require.Len(t, assembled.Passages, 1)
	assert.True(t, assembled.Passages[0].Truncated)
	assert.LessOrEqual(t, assembled.TokenCount, 10)
	assert.True(t, strings.HasPrefix(text, assembled.Text))
	assert.NotEmpty(t, assembled.Text)
	assert.Equal(t, 0.95, assembled.Passages[0].Citation.Score)
}

func TestContextAssembler_UnknownDocumentName(t *testing.T) {
	// 文档元信息缺失时引用回退为文档ID
	assembler := NewContextAssembler(stubDocs{}, NewTokenCounter(), config.ContextConfig{MaxTokens: 100})

	candidates := []RetrievedChunk{
		{Chunk: Chunk{ID: "c", DocumentID: "ghost", Start: 0, End: 4, Text: "text"}, Score: 0.5},
	}
	assembled := assembler.Assemble(context.Background(), candidates)
	require.Len(t, assembled.Passages, 1)
	assert.Equal(t, "ghost", assembled.Passages[0].Citation.DocumentName)
}
