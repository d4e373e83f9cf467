// Package cache 提供 Redis 客户端封装，供分布式锁与限流共享连接池
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/wyfcoding/loanportfolio/pkg/config"
	"github.com/wyfcoding/loanportfolio/pkg/logger"
)

// RedisCache Redis 客户端封装
type RedisCache struct {
	client *redis.Client
}

// New 创建 Redis 实例并测试连接
func New(cfg config.RedisConfig) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:            cfg.Addr(),
		Password:        cfg.Password,
		DB:              cfg.DB,
		PoolSize:        cfg.MaxPoolSize,
		DialTimeout:     time.Duration(cfg.ConnTimeout) * time.Second,
		ConnMaxIdleTime: 5 * time.Minute,
		ReadTimeout:     time.Duration(cfg.ReadTimeout) * time.Second,
		WriteTimeout:    time.Duration(cfg.WriteTimeout) * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rc := &RedisCache{client: client}
	if err := rc.Ping(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}

	logger.Info(ctx, "Redis connected successfully", "addr", cfg.Addr())
	return rc, nil
}

// NewFromClient 包装已有客户端
func NewFromClient(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Ping 检查连接
func (rc *RedisCache) Ping(ctx context.Context) error {
	if err := rc.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return nil
}

// Close 关闭 Redis 连接
func (rc *RedisCache) Close() error {
	return rc.client.Close()
}

// GetClient 获取底层 Redis 客户端（用于锁、限流等高级操作）
func (rc *RedisCache) GetClient() *redis.Client {
	return rc.client
}
