package rag

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexusrag/backend-go/internal/config"
)

func newTestCache() *QueryCache {
	return NewQueryCache(config.CacheConfig{Size: 16, TTLSecs: 60})
}

func TestNormalizeQuery(t *testing.T) {
	assert.Equal(t, "hello world", NormalizeQuery("  Hello   WORLD "))
	assert.Equal(t, "hello world", NormalizeQuery("hello\tworld"))
	assert.Equal(t, "", NormalizeQuery("   "))
}

func TestCacheKey(t *testing.T) {
	// 归一化后等价的查询产生相同的键
	assert.Equal(t,
		CacheKey("Hello World", nil, 1),
		CacheKey("  hello   world ", nil, 1))

	// 过滤条件与顺序无关
	assert.Equal(t,
		CacheKey("q", &SearchFilter{DocumentIDs: []string{"b", "a"}}, 1),
		CacheKey("q", &SearchFilter{DocumentIDs: []string{"a", "b"}}, 1))

	// 版本号不同键不同：文档增删后旧缓存不再命中
	assert.NotEqual(t,
		CacheKey("q", nil, 1),
		CacheKey("q", nil, 2))

	// 过滤条件不同键不同
	assert.NotEqual(t,
		CacheKey("q", nil, 1),
		CacheKey("q", &SearchFilter{DocumentIDs: []string{"a"}}, 1))
}

func TestQueryCache_GetOrCompute(t *testing.T) {
	ctx := context.Background()
	cache := newTestCache()

	computes := 0
	compute := func() (QueryResult, error) {
		computes++
		return QueryResult{Answer: "computed"}, nil
	}

	result, cached, err := cache.GetOrCompute(ctx, "k1", compute)
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, "computed", result.Answer)
	assert.Equal(t, 1, computes)

	// 第二次命中缓存，不再计算
	result, cached, err = cache.GetOrCompute(ctx, "k1", compute)
	require.NoError(t, err)
	assert.True(t, cached)
	assert.Equal(t, "computed", result.Answer)
	assert.Equal(t, 1, computes)
	assert.Equal(t, 1, cache.Len())
}

func TestQueryCache_ErrorsNotCached(t *testing.T) {
	ctx := context.Background()
	cache := newTestCache()

	computes := 0
	failing := func() (QueryResult, error) {
		computes++
		return QueryResult{}, errors.New("boom")
	}

	_, _, err := cache.GetOrCompute(ctx, "k1", failing)
	require.Error(t, err)
	assert.Equal(t, 0, cache.Len())

	// 失败不写缓存，下一次重新计算
	_, _, err = cache.GetOrCompute(ctx, "k1", failing)
	require.Error(t, err)
	assert.Equal(t, 2, computes)
}

func TestQueryCache_SingleFlight(t *testing.T) {
	ctx := context.Background()
	cache := newTestCache()

	var computes atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})

	// 领头请求在计算中阻塞，等待其余请求排队
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		result, cached, err := cache.GetOrCompute(ctx, "shared", func() (QueryResult, error) {
			computes.Add(1)
			close(started)
			<-release
			return QueryResult{Answer: "shared answer"}, nil
		})
		assert.NoError(t, err)
		assert.False(t, cached)
		assert.Equal(t, "shared answer", result.Answer)
	}()

	<-started
	const followers = 8
	var sharedHits atomic.Int32
	for i := 0; i < followers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, cached, err := cache.GetOrCompute(ctx, "shared", func() (QueryResult, error) {
				computes.Add(1)
				return QueryResult{Answer: "should not run"}, nil
			})
			assert.NoError(t, err)
			assert.Equal(t, "shared answer", result.Answer)
			if cached {
				sharedHits.Add(1)
			}
		}()
	}

	close(release)
	wg.Wait()

	// 相同键的并发计算只执行一次，跟随者共享结果
	assert.Equal(t, int32(1), computes.Load())
	assert.Equal(t, int32(followers), sharedHits.Load())
}

func TestQueryCache_WaiterCancellation(t *testing.T) {
	cache := newTestCache()

	started := make(chan struct{})
	release := make(chan struct{})
	go func() {
		cache.GetOrCompute(context.Background(), "k", func() (QueryResult, error) {
			close(started)
			<-release
			return QueryResult{}, nil
		})
	}()
	<-started

	// 等待中的请求可以被取消
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := cache.GetOrCompute(ctx, "k", func() (QueryResult, error) {
		return QueryResult{}, nil
	})
	assert.ErrorIs(t, err, context.Canceled)

	close(release)
}

func TestQueryCache_Purge(t *testing.T) {
	ctx := context.Background()
	cache := newTestCache()

	_, _, err := cache.GetOrCompute(ctx, "k1", func() (QueryResult, error) {
		return QueryResult{Answer: "a"}, nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, cache.Len())

	cache.Purge()
	assert.Equal(t, 0, cache.Len())
}
