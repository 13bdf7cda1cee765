package rag

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// cachedEmbedder 对Embedder做LRU记忆化，相同文本不重复请求嵌入服务
type cachedEmbedder struct {
	next  Embedder
	cache *expirable.LRU[string, []float32]
}

// WrapEmbedderCache 包装LRU缓存；size或ttl非法时原样返回
func WrapEmbedderCache(e Embedder, size int, ttl time.Duration) Embedder {
	if e == nil || size <= 0 || ttl <= 0 {
		return e
	}
	return &cachedEmbedder{
		next:  e,
		cache: expirable.NewLRU[string, []float32](size, nil, ttl),
	}
}

func (c *cachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := embeddingCacheKey(text)
	if cached, ok := c.cache.Get(key); ok {
		return cloneVector(cached), nil
	}

	vec, err := c.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, cloneVector(vec))
	return vec, nil
}

func (c *cachedEmbedder) Dimensions() int {
	return c.next.Dimensions()
}

func (c *cachedEmbedder) Ready() bool {
	return c.next.Ready()
}

func embeddingCacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func cloneVector(values []float32) []float32 {
	if len(values) == 0 {
		return nil
	}
	clone := make([]float32, len(values))
	copy(clone, values)
	return clone
}
