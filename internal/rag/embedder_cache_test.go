package rag

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingEmbedder 统计调用次数
type countingEmbedder struct {
	calls int
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls++
	return []float32{float32(len(text)), 1}, nil
}

func (c *countingEmbedder) Dimensions() int { return 2 }
func (c *countingEmbedder) Ready() bool     { return true }

func TestWrapEmbedderCache(t *testing.T) {
	ctx := context.Background()
	inner := &countingEmbedder{}
	embedder := WrapEmbedderCache(inner, 16, time.Minute)

	vec1, err := embedder.Embed(ctx, "hello")
	require.NoError(t, err)
	assert.Equal(t, 1, inner.calls)

	// 相同文本命中缓存，不再请求嵌入服务
	vec2, err := embedder.Embed(ctx, "hello")
	require.NoError(t, err)
	assert.Equal(t, 1, inner.calls)
	assert.Equal(t, vec1, vec2)

	// 缓存返回副本，调用方修改不污染缓存
	vec2[0] = -1
	vec3, err := embedder.Embed(ctx, "hello")
	require.NoError(t, err)
	assert.Equal(t, vec1[0], vec3[0])

	_, err = embedder.Embed(ctx, "different")
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls)

	assert.Equal(t, 2, embedder.Dimensions())
	assert.True(t, embedder.Ready())
}

func TestWrapEmbedderCache_Passthrough(t *testing.T) {
	inner := &countingEmbedder{}

	// size或ttl非法时不包缓存
	assert.Equal(t, Embedder(inner), WrapEmbedderCache(inner, 0, time.Minute))
	assert.Equal(t, Embedder(inner), WrapEmbedderCache(inner, 16, 0))
	assert.Nil(t, WrapEmbedderCache(nil, 16, time.Minute))
}
