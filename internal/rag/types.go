package rag

import (
	"time"
)

// Document 已摄取的文档
type Document struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	ContentType string            `json:"content_type"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	UploadedAt  time.Time         `json:"uploaded_at"`
	ChunkCount  int               `json:"chunk_count"`
	TokenCount  int               `json:"token_count"`
}

// Chunk 文档分块。Start/End为文档内rune偏移，
// Overlap为与前一块共享的rune数；去掉重叠后按序拼接可精确还原原文。
type Chunk struct {
	ID         string `json:"id"`
	DocumentID string `json:"document_id"`
	Index      int    `json:"index"`
	Start      int    `json:"start"`
	End        int    `json:"end"`
	Overlap    int    `json:"overlap"`
	Text       string `json:"text"`
	TokenCount int    `json:"token_count"`
}

// SearchFilter 检索过滤条件
type SearchFilter struct {
	DocumentIDs []string `json:"document_ids,omitempty"`
}

// Matches 判断索引条目元数据是否满足过滤条件
func (f *SearchFilter) Matches(documentID string) bool {
	if f == nil || len(f.DocumentIDs) == 0 {
		return true
	}
	for _, id := range f.DocumentIDs {
		if id == documentID {
			return true
		}
	}
	return false
}

// SearchMatch 向量检索结果
type SearchMatch struct {
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	Score      float64 `json:"score"`
}

// RetrievedChunk 检索结果中的分块及其相似度得分
type RetrievedChunk struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"`
}

// Citation 引用信息，随答案返回给调用方
type Citation struct {
	DocumentID   string  `json:"document_id"`
	DocumentName string  `json:"document_name,omitempty"`
	ChunkIndex   int     `json:"chunk_index"`
	Start        int     `json:"start"`
	End          int     `json:"end"`
	Score        float64 `json:"score"`
}

// ContextPassage 进入提示词上下文的段落
type ContextPassage struct {
	Text      string   `json:"text"`
	Citation  Citation `json:"citation"`
	Truncated bool     `json:"truncated"`
}

// AssembledContext 拼接后的上下文
type AssembledContext struct {
	Text       string           `json:"text"`
	TokenCount int              `json:"token_count"`
	Passages   []ContextPassage `json:"passages"`
	Citations  []Citation       `json:"citations"`
}

// Turn 多轮对话中的一条历史记录
type Turn struct {
	Role string `json:"role"` // user | assistant
	Text string `json:"text"`
}
