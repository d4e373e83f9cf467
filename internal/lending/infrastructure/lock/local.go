// Package lock 单案件互斥锁：进程内实现与基于 Redis 的分布式实现
package lock

import (
	"context"
	"sync"
)

// LocalLocker 进程内按案件加锁，单实例部署使用
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	ch   chan struct{}
	refs int
}

// NewLocalLocker 创建进程内锁
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*entry)}
}

// Lock 阻塞直到获得锁或 ctx 结束
func (l *LocalLocker) Lock(ctx context.Context, caseID string) (func(), error) {
	l.mu.Lock()
	e, ok := l.locks[caseID]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		l.locks[caseID] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(caseID, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			l.release(caseID, e)
		})
	}, nil
}

func (l *LocalLocker) release(caseID string, e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.locks, caseID)
	}
}
