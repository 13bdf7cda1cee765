package rag

import (
	"context"
	"sort"
	"strings"

	"github.com/nexusrag/backend-go/internal/config"
)

// DocumentSource 按ID解析文档元信息，由文档存储实现
type DocumentSource interface {
	GetDocument(ctx context.Context, documentID string) (*Document, error)
}

// ContextAssembler 上下文拼接器。
// 按得分降序装填token预算，遇到首个放不下的候选即停止；
// 同一文档内重叠或相邻的分块
// 合并为单个段落并去掉重复文本，每个段落附带引用信息。
// 拼接结果的token数严格不超过预算。
type ContextAssembler struct {
	docs      DocumentSource
	counter   *TokenCounter
	maxTokens int
}

// NewContextAssembler 创建上下文拼接器
func NewContextAssembler(docs DocumentSource, counter *TokenCounter, cfg config.ContextConfig) *ContextAssembler {
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 3000
	}
	return &ContextAssembler{
		docs:      docs,
		counter:   counter,
		maxTokens: maxTokens,
	}
}

// MaxTokens 返回上下文token预算
func (ca *ContextAssembler) MaxTokens() int {
	return ca.maxTokens
}

// Assemble 将检索结果拼接为受预算约束的上下文。
// 候选为空返回空上下文；首个候选单独超出预算时截断并标记。
func (ca *ContextAssembler) Assemble(ctx context.Context, candidates []RetrievedChunk) *AssembledContext {
	if len(candidates) == 0 {
		return &AssembledContext{}
	}

	ranked := make([]RetrievedChunk, len(candidates))
	copy(ranked, candidates)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})

	var accepted []RetrievedChunk
	for _, candidate := range ranked {
		trial := append(append([]RetrievedChunk{}, accepted...), candidate)
		passages := ca.mergePassages(ctx, trial)
		if ca.counter.Count(joinPassages(passages)) > ca.maxTokens {
			if len(accepted) == 0 {
				// 最相关的分块单独超出预算：截断后使用
				return ca.truncatedContext(ctx, candidate)
			}
			break
		}
		accepted = trial
	}

	passages := ca.mergePassages(ctx, accepted)
	text := joinPassages(passages)
	return &AssembledContext{
		Text:       text,
		TokenCount: ca.counter.Count(text),
		Passages:   passages,
		Citations:  citationsOf(passages),
	}
}

// mergePassages 将接受的分块合并为段落。
// 同一文档内区间重叠或首尾相接的分块拼成一个段落，
// 重叠部分只保留一份；段落得分取成员分块的最高分。
func (ca *ContextAssembler) mergePassages(ctx context.Context, chunks []RetrievedChunk) []ContextPassage {
	if len(chunks) == 0 {
		return nil
	}

	// 文档内按偏移排序以便合并
	byDoc := make(map[string][]RetrievedChunk)
	docOrder := make([]string, 0)
	for _, c := range chunks {
		if _, seen := byDoc[c.Chunk.DocumentID]; !seen {
			docOrder = append(docOrder, c.Chunk.DocumentID)
		}
		byDoc[c.Chunk.DocumentID] = append(byDoc[c.Chunk.DocumentID], c)
	}

	var passages []ContextPassage
	for _, docID := range docOrder {
		group := byDoc[docID]
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].Chunk.Start < group[j].Chunk.Start
		})

		docName := docID
		if doc, err := ca.docs.GetDocument(ctx, docID); err == nil {
			docName = doc.Name
		}

		var (
			textRunes  []rune
			start, end int
			firstIndex int
			bestScore  float64
			open       bool
		)
		flush := func() {
			if !open {
				return
			}
			passages = append(passages, ContextPassage{
				Text: string(textRunes),
				Citation: Citation{
					DocumentID:   docID,
					DocumentName: docName,
					ChunkIndex:   firstIndex,
					Start:        start,
					End:          end,
					Score:        bestScore,
				},
			})
			open = false
		}

		for _, c := range group {
			runes := []rune(c.Chunk.Text)
			if open && c.Chunk.Start <= end {
				// 重叠或相邻：只追加新增部分
				if c.Chunk.End > end {
					textRunes = append(textRunes, runes[end-c.Chunk.Start:]...)
					end = c.Chunk.End
				}
				if c.Score > bestScore {
					bestScore = c.Score
				}
				continue
			}
			flush()
			textRunes = append([]rune{}, runes...)
			start = c.Chunk.Start
			end = c.Chunk.End
			firstIndex = c.Chunk.Index
			bestScore = c.Score
			open = true
		}
		flush()
	}

	// 段落按得分降序呈现给模型
	sort.SliceStable(passages, func(i, j int) bool {
		return passages[i].Citation.Score > passages[j].Citation.Score
	})
	return passages
}

// truncatedContext 截断单个超预算分块，保证结果不超过token预算
func (ca *ContextAssembler) truncatedContext(ctx context.Context, candidate RetrievedChunk) *AssembledContext {
	runes := []rune(candidate.Chunk.Text)
	lo, hi := 0, len(runes)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if ca.counter.Count(string(runes[:mid])) <= ca.maxTokens {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	text := string(runes[:lo])

	docName := candidate.Chunk.DocumentID
	if doc, err := ca.docs.GetDocument(ctx, candidate.Chunk.DocumentID); err == nil {
		docName = doc.Name
	}

	passage := ContextPassage{
		Text: text,
		Citation: Citation{
			DocumentID:   candidate.Chunk.DocumentID,
			DocumentName: docName,
			ChunkIndex:   candidate.Chunk.Index,
			Start:        candidate.Chunk.Start,
			End:          candidate.Chunk.Start + lo,
			Score:        candidate.Score,
		},
		Truncated: true,
	}
	return &AssembledContext{
		Text:       text,
		TokenCount: ca.counter.Count(text),
		Passages:   []ContextPassage{passage},
		Citations:  []Citation{passage.Citation},
	}
}

func joinPassages(passages []ContextPassage) string {
	parts := make([]string, 0, len(passages))
	for _, p := range passages {
		parts = append(parts, p.Text)
	}
	return strings.Join(parts, "\n\n")
}

func citationsOf(passages []ContextPassage) []Citation {
	citations := make([]Citation, 0, len(passages))
	for _, p := range passages {
		citations = append(citations, p.Citation)
	}
	return citations
}
