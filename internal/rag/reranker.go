package rag

import (
	"context"
	"sort"
	"strings"
)

// Reranker 重排序接口。输入按初始得分降序的候选块，
// 输出重新打分并排序后的候选，数量不变。
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []RetrievedChunk) ([]RetrievedChunk, error)
	Ready() bool
}

// NoopReranker 默认占位实现，保持原始顺序
type NoopReranker struct{}

func (n *NoopReranker) Rerank(ctx context.Context, query string, candidates []RetrievedChunk) ([]RetrievedChunk, error) {
	return candidates, nil
}

func (n *NoopReranker) Ready() bool {
	return false
}

// LexicalReranker 确定性重排序：向量得分与词面重合度加权融合。
// 不依赖外部服务，相同输入产出相同顺序。
type LexicalReranker struct {
	vectorWeight  float64
	lexicalWeight float64
}

// NewLexicalReranker 创建词面重排序器，权重自动归一化
func NewLexicalReranker(vectorWeight, lexicalWeight float64) *LexicalReranker {
	if vectorWeight <= 0 || lexicalWeight <= 0 {
		vectorWeight = 0.7
		lexicalWeight = 0.3
	}
	total := vectorWeight + lexicalWeight
	return &LexicalReranker{
		vectorWeight:  vectorWeight / total,
		lexicalWeight: lexicalWeight / total,
	}
}

func (r *LexicalReranker) Rerank(ctx context.Context, query string, candidates []RetrievedChunk) ([]RetrievedChunk, error) {
	if len(candidates) < 2 {
		return candidates, nil
	}

	terms := queryTerms(query)
	reranked := make([]RetrievedChunk, len(candidates))
	copy(reranked, candidates)
	for i := range reranked {
		overlap := termOverlap(terms, reranked[i].Chunk.Text)
		reranked[i].Score = reranked[i].Score*r.vectorWeight + overlap*r.lexicalWeight
	}

	sort.SliceStable(reranked, func(i, j int) bool {
		if reranked[i].Score == reranked[j].Score {
			return reranked[i].Chunk.ID < reranked[j].Chunk.ID
		}
		return reranked[i].Score > reranked[j].Score
	})
	return reranked, nil
}

func (r *LexicalReranker) Ready() bool {
	return true
}

// queryTerms 提取查询词项：空格分词，CJK字符逐字成项
func queryTerms(query string) map[string]struct{} {
	terms := make(map[string]struct{})
	var word strings.Builder
	flush := func() {
		if word.Len() > 0 {
			terms[strings.ToLower(word.String())] = struct{}{}
			word.Reset()
		}
	}
	for _, r := range query {
		switch {
		case isCJK(r):
			flush()
			terms[string(r)] = struct{}{}
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			flush()
		default:
			word.WriteRune(r)
		}
	}
	flush()
	return terms
}

// termOverlap 计算查询词项在文本中的命中比例
func termOverlap(terms map[string]struct{}, text string) float64 {
	if len(terms) == 0 {
		return 0
	}
	lower := strings.ToLower(text)
	hits := 0
	for term := range terms {
		if strings.Contains(lower, term) {
			hits++
		}
	}
	return float64(hits) / float64(len(terms))
}
