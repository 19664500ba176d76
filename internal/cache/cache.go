package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Cache 问答结果缓存接口
// 问答服务用它缓存序列化后的答案，避免重复的检索和抽取调用
type Cache interface {
	Get(key string) (value string, found bool, err error)
	Set(key string, value string, ttl time.Duration) error
	Delete(key string) error
	Clear() error
}

// Factory 缓存工厂函数类型
type Factory func(config Config) (Cache, error)

// 已注册的缓存实现工厂
var factories = make(map[string]Factory)

// RegisterCache 注册缓存实现
// 各实现在init()中自注册
func RegisterCache(name string, factory Factory) {
	factories[name] = factory
}

// NewCache 按配置的类型创建缓存实例
// 未注册的类型回退到内存缓存
func NewCache(config Config) (Cache, error) {
	if factory, ok := factories[config.Type]; ok {
		return factory(config)
	}
	return NewMemoryCache(config)
}

// Config 缓存配置
type Config struct {
	// 缓存类型: "memory", "redis"
	Type string
	// Redis连接地址（仅redis类型使用）
	RedisAddr string
	// Redis密码（仅redis类型使用）
	RedisPassword string
	// Redis数据库编号（仅redis类型使用）
	RedisDB int
	// 默认缓存过期时间
	DefaultTTL time.Duration
	// 过期项清理间隔（仅内存缓存使用）
	CleanupInterval time.Duration
}

// DefaultConfig 返回默认缓存配置
// 问答结果默认保留一天
func DefaultConfig() Config {
	return Config{
		Type:            "memory",
		DefaultTTL:      time.Hour * 24,
		CleanupInterval: time.Minute * 10,
	}
}

// 超过该长度的键整体做摘要，问题文本可能很长
const maxKeyLength = 200

// GenerateCacheKey 生成标准化的缓存键
// 各部分之间用冒号连接，空白折叠后保证同一问题命中同一键；
// 过长的键替换为前缀加内容摘要
func GenerateCacheKey(prefix string, parts ...string) string {
	if len(parts) == 0 {
		return prefix
	}

	key := prefix
	for _, part := range parts {
		key += ":" + strings.Join(strings.Fields(part), " ")
	}

	if len(key) > maxKeyLength {
		sum := sha256.Sum256([]byte(key))
		return prefix + ":" + hex.EncodeToString(sum[:])
	}
	return key
}
