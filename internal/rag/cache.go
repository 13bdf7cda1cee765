package rag

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/nexusrag/backend-go/internal/config"
)

// QueryResult 查询的最终结果
type QueryResult struct {
	Answer    string     `json:"answer"`
	Citations []Citation `json:"citations"`
	FromCache bool       `json:"from_cache"`
}

// QueryCache 查询结果缓存。
// 缓存键包含语料版本号，文档增删后旧版本的条目不再命中，
// 由TTL自然淘汰。相同键的并发计算只执行一次，其余调用等待结果。
// 只缓存完整成功的回答，失败与被取消的查询不写缓存。
type QueryCache struct {
	mu       sync.Mutex
	lru      *expirable.LRU[string, QueryResult]
	inflight map[string]*inflightQuery
}

type inflightQuery struct {
	done   chan struct{}
	result QueryResult
	err    error
}

// NewQueryCache 创建查询缓存
func NewQueryCache(cfg config.CacheConfig) *QueryCache {
	size := cfg.Size
	if size <= 0 {
		size = 512
	}
	ttl := time.Duration(cfg.TTLSecs) * time.Second
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &QueryCache{
		lru:      expirable.NewLRU[string, QueryResult](size, nil, ttl),
		inflight: make(map[string]*inflightQuery),
	}
}

// NormalizeQuery 归一化查询文本：小写并折叠空白
func NormalizeQuery(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}

// CacheKey 计算缓存键：归一化查询、文档过滤、语料版本共同决定
func CacheKey(query string, filter *SearchFilter, version uint64) string {
	var sb strings.Builder
	sb.WriteString(NormalizeQuery(query))
	if filter != nil && len(filter.DocumentIDs) > 0 {
		ids := make([]string, len(filter.DocumentIDs))
		copy(ids, filter.DocumentIDs)
		sort.Strings(ids)
		sb.WriteString("|")
		sb.WriteString(strings.Join(ids, ","))
	}
	fmt.Fprintf(&sb, "@%d", version)

	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}

// GetOrCompute 返回缓存结果或执行compute。
// 相同键的并发调用只有一个执行compute，其余等待同一份结果；
// compute失败时不缓存，各等待方收到同一错误。
// 返回值第二项表示结果是否来自缓存或共享的在途计算。
func (c *QueryCache) GetOrCompute(ctx context.Context, key string, compute func() (QueryResult, error)) (QueryResult, bool, error) {
	c.mu.Lock()
	if cached, ok := c.lru.Get(key); ok {
		c.mu.Unlock()
		return cached, true, nil
	}
	if call, ok := c.inflight[key]; ok {
		c.mu.Unlock()
		select {
		case <-ctx.Done():
			return QueryResult{}, false, ctx.Err()
		case <-call.done:
			return call.result, true, call.err
		}
	}

	call := &inflightQuery{done: make(chan struct{})}
	c.inflight[key] = call
	c.mu.Unlock()

	result, err := compute()

	c.mu.Lock()
	delete(c.inflight, key)
	if err == nil {
		c.lru.Add(key, result)
	}
	c.mu.Unlock()

	call.result = result
	call.err = err
	close(call.done)

	return result, false, err
}

// Purge 清空缓存
func (c *QueryCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
}

// Len 当前缓存条目数
func (c *QueryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}
