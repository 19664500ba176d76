package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache Redis问答结果缓存
// 多实例部署时各实例共享同一份答案缓存
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache 创建Redis缓存并验证连接
func NewRedisCache(config Config) (Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.RedisAddr,
		Password: config.RedisPassword,
		DB:       config.RedisDB,
	})

	if _, err := client.Ping(context.Background()).Result(); err != nil {
		return nil, err
	}

	return &RedisCache{client: client}, nil
}

// Get 读取缓存的问答结果
func (r *RedisCache) Get(key string) (string, bool, error) {
	value, err := r.client.Get(context.Background(), key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// Set 写入缓存
func (r *RedisCache) Set(key string, value string, ttl time.Duration) error {
	return r.client.Set(context.Background(), key, value, ttl).Err()
}

// Delete 删除缓存项
func (r *RedisCache) Delete(key string) error {
	return r.client.Del(context.Background(), key).Err()
}

// Clear 清空当前Redis数据库
// 缓存应使用独立的DB编号，避免误删其他数据
func (r *RedisCache) Clear() error {
	return r.client.FlushDB(context.Background()).Err()
}

func init() {
	RegisterCache("redis", NewRedisCache)
}
