package cache

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryCache 进程内缓存
// 单实例部署和测试场景下的默认选择，基于go-cache
type MemoryCache struct {
	store *gocache.Cache
}

// NewMemoryCache 创建内存缓存
func NewMemoryCache(config Config) (Cache, error) {
	ttl := config.DefaultTTL
	if ttl == 0 {
		ttl = 24 * time.Hour
	}

	cleanup := config.CleanupInterval
	if cleanup == 0 {
		cleanup = 10 * time.Minute
	}

	return &MemoryCache{
		store: gocache.New(ttl, cleanup),
	}, nil
}

// Get 读取缓存的问答结果
// 类型不符的值当作未命中处理
func (m *MemoryCache) Get(key string) (string, bool, error) {
	value, found := m.store.Get(key)
	if !found {
		return "", false, nil
	}
	str, ok := value.(string)
	if !ok {
		return "", false, nil
	}
	return str, true, nil
}

// Set 写入缓存，ttl为0时使用默认过期时间
func (m *MemoryCache) Set(key string, value string, ttl time.Duration) error {
	if ttl == 0 {
		ttl = gocache.DefaultExpiration
	}
	m.store.Set(key, value, ttl)
	return nil
}

// Delete 删除缓存项
func (m *MemoryCache) Delete(key string) error {
	m.store.Delete(key)
	return nil
}

// Clear 清空全部缓存项
func (m *MemoryCache) Clear() error {
	m.store.Flush()
	return nil
}

func init() {
	RegisterCache("memory", NewMemoryCache)
}
