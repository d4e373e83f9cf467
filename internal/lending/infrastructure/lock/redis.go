package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/wyfcoding/loanportfolio/pkg/cache"
	"github.com/wyfcoding/loanportfolio/pkg/logger"
)

// maxLockTries 等待锁的最大尝试次数，实际等待时长由 ctx 控制
const maxLockTries = 1000

// RedisLocker 基于 RedLock 的分布式案件锁，多实例部署使用。
// 锁过期后由 SaveTransition 的乐观锁兜底。
type RedisLocker struct {
	rs         *redsync.Redsync
	ttl        time.Duration
	retryDelay time.Duration
	prefix     string
}

// NewRedisLocker 创建分布式锁
func NewRedisLocker(rc *cache.RedisCache, ttl, retryDelay time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	if retryDelay <= 0 {
		retryDelay = 50 * time.Millisecond
	}
	return &RedisLocker{
		rs:         redsync.New(goredis.NewPool(rc.GetClient())),
		ttl:        ttl,
		retryDelay: retryDelay,
		prefix:     "lending:case-lock:",
	}
}

// Lock 重试加锁直到成功或 ctx 结束
func (l *RedisLocker) Lock(ctx context.Context, caseID string) (func(), error) {
	mutex := l.rs.NewMutex(l.prefix+caseID,
		redsync.WithExpiry(l.ttl),
		redsync.WithTries(maxLockTries),
		redsync.WithRetryDelay(l.retryDelay),
	)

	if err := mutex.LockContext(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("acquire case lock %s: %w", caseID, err)
	}

	return func() {
		// 释放不受调用方取消影响
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
		defer cancel()
		ok, err := mutex.UnlockContext(releaseCtx)
		if err != nil && !errors.Is(err, redsync.ErrLockAlreadyExpired) {
			logger.Warn(releaseCtx, "failed to release case lock", "case_id", caseID, "error", err)
			return
		}
		if !ok {
			logger.Warn(releaseCtx, "case lock expired before release", "case_id", caseID)
		}
	}, nil
}
