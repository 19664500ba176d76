package cache

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMemoryCache 测试内存缓存的基本读写
func TestMemoryCache(t *testing.T) {
	cache, err := NewMemoryCache(Config{
		Type:            "memory",
		DefaultTTL:      time.Second * 2,
		CleanupInterval: time.Second,
	})
	require.NoError(t, err)
	require.NotNil(t, cache)

	answer := `{"answers":[{"answer":"stores embeddings","score":0.92}]}`
	require.NoError(t, cache.Set("qa:what is a vector database", answer, 0))

	val, found, err := cache.Get("qa:what is a vector database")
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, answer, val)

	// 未缓存的问题
	val, found, err = cache.Get("qa:never asked")
	assert.NoError(t, err)
	assert.False(t, found)
	assert.Empty(t, val)
}

// TestMemoryCacheExpiry 测试缓存过期
func TestMemoryCacheExpiry(t *testing.T) {
	cache, err := NewMemoryCache(Config{
		DefaultTTL:      time.Second,
		CleanupInterval: time.Second,
	})
	require.NoError(t, err)

	require.NoError(t, cache.Set("qa:short lived", "answer", time.Millisecond*300))
	time.Sleep(time.Millisecond * 600)

	_, found, err := cache.Get("qa:short lived")
	assert.NoError(t, err)
	assert.False(t, found)
}

// TestMemoryCacheDeleteAndClear 测试删除与清空
func TestMemoryCacheDeleteAndClear(t *testing.T) {
	cache, err := NewMemoryCache(DefaultConfig())
	require.NoError(t, err)

	require.NoError(t, cache.Set("qa:to delete", "answer", 0))
	require.NoError(t, cache.Delete("qa:to delete"))
	_, found, err := cache.Get("qa:to delete")
	assert.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, cache.Set("qa:q1", "a1", 0))
	require.NoError(t, cache.Set("qa:q2", "a2", 0))
	require.NoError(t, cache.Clear())
	_, found, _ = cache.Get("qa:q1")
	assert.False(t, found)
	_, found, _ = cache.Get("qa:q2")
	assert.False(t, found)
}

// TestRedisCache 测试Redis缓存
// 需要本地Redis服务，不可用时跳过
func TestRedisCache(t *testing.T) {
	cache, err := NewRedisCache(Config{
		Type:       "redis",
		RedisAddr:  "localhost:6379",
		DefaultTTL: time.Second * 2,
	})
	if err != nil {
		t.Skip("Redis server not available, skipping Redis cache tests")
		return
	}

	require.NoError(t, cache.Set("qa:redis question", "redis answer", 0))
	val, found, err := cache.Get("qa:redis question")
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "redis answer", val)

	_, found, err = cache.Get("qa:redis missing")
	assert.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, cache.Set("qa:redis expiring", "temp", time.Second))
	time.Sleep(time.Second * 2)
	_, found, err = cache.Get("qa:redis expiring")
	assert.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, cache.Set("qa:redis delete", "gone", 0))
	require.NoError(t, cache.Delete("qa:redis delete"))
	_, found, _ = cache.Get("qa:redis delete")
	assert.False(t, found)

	// 不测试Clear，它会清空整个Redis数据库
}

// TestCacheFactory 测试按类型创建缓存
func TestCacheFactory(t *testing.T) {
	memCache, err := NewCache(DefaultConfig())
	assert.NoError(t, err)
	assert.NotNil(t, memCache)

	// 未注册的类型回退到内存缓存
	fallback, err := NewCache(Config{Type: "unknown-type"})
	assert.NoError(t, err)
	assert.NotNil(t, fallback)
	assert.NoError(t, fallback.Set("qa:fallback", "value", 0))
	val, found, _ := fallback.Get("qa:fallback")
	assert.True(t, found)
	assert.Equal(t, "value", val)
}

// TestGenerateCacheKey 测试缓存键生成
func TestGenerateCacheKey(t *testing.T) {
	assert.Equal(t, "qa", GenerateCacheKey("qa"))
	assert.Equal(t, "qa:what is faiss", GenerateCacheKey("qa", "what is faiss"))
	assert.Equal(t, "qa_label:tech,finance:what is faiss",
		GenerateCacheKey("qa_label", "tech,finance", "what is faiss"))

	// 空白折叠后同一问题命中同一键
	assert.Equal(t,
		GenerateCacheKey("qa", "what is   faiss"),
		GenerateCacheKey("qa", "what is faiss"))

	// 过长的问题被摘要成定长键，且保持确定性
	long := strings.Repeat("a very long question ", 30)
	key1 := GenerateCacheKey("qa", long)
	key2 := GenerateCacheKey("qa", long)
	assert.Equal(t, key1, key2)
	assert.LessOrEqual(t, len(key1), maxKeyLength)
	assert.True(t, strings.HasPrefix(key1, "qa:"))
}
