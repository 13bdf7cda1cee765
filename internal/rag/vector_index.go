package rag

import (
	"context"
	"math"
	"sort"
)

// IndexEntry 向量索引条目。索引是条目的唯一持有者，
// 文档存储只保留chunk_id引用，绝不复制向量。
type IndexEntry struct {
	ChunkID    string
	DocumentID string
	Vector     []float32
}

// VectorIndex 向量索引抽象。
// Search结果按相似度降序，得分相同时按插入顺序稳定排序；
// 条目数不足top_k时返回较少结果，不报错。
type VectorIndex interface {
	// Insert 插入条目；维度不符返回DimensionMismatch，ID已存在返回DuplicateID
	Insert(ctx context.Context, entry IndexEntry) error
	// Upsert 插入或替换条目
	Upsert(ctx context.Context, entry IndexEntry) error
	// InsertBatch 原子批量插入：全部成功或全部不可见（用于摄取的staged commit）
	InsertBatch(ctx context.Context, entries []IndexEntry) error
	// Search 余弦相似度检索
	Search(ctx context.Context, vector []float32, topK int, filter *SearchFilter) ([]SearchMatch, error)
	// Delete 幂等删除，条目不存在时为no-op
	Delete(ctx context.Context, chunkID string) error
	// DeleteByDocument 原子删除文档的全部条目：
	// 并发检索要么看到删除前的完整集合，要么看到删除后的，不会看到局部子集
	DeleteByDocument(ctx context.Context, documentID string) error
	// Len 当前条目数
	Len(ctx context.Context) (int, error)
	// Approximate 检索是否为近似（无召回率保证）
	Approximate() bool
	Ready() bool
}

func vectorNorm(vec []float32) float64 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum)
}

// cosineSimilarity 计算余弦相似度，normA为查询向量的预计算范数
func cosineSimilarity(a, b []float32, normA float64) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (normA * math.Sqrt(normB))
}

// rankedMatch 附带插入序号的检索候选，用于稳定排序
type rankedMatch struct {
	match SearchMatch
	seq   uint64
}

func sortRankedMatches(matches []rankedMatch) {
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].match.Score == matches[j].match.Score {
			return matches[i].seq < matches[j].seq
		}
		return matches[i].match.Score > matches[j].match.Score
	})
}
