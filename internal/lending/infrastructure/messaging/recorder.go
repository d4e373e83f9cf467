package messaging

import (
	"context"
	"sync"

	"github.com/wyfcoding/loanportfolio/internal/lending/domain"
)

// Recorder 记录已发布的事件，供测试与本地调试注入
type Recorder struct {
	mu     sync.Mutex
	events []domain.CaseEvent
	err    error
}

// NewRecorder 创建事件记录器
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Publish 记录事件；设置了失败时返回该错误且不记录
func (r *Recorder) Publish(_ context.Context, event domain.CaseEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, event)
	return nil
}

// FailWith 之后的发布都返回 err，传 nil 恢复
func (r *Recorder) FailWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

// Events 已记录事件的副本
func (r *Recorder) Events() []domain.CaseEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.CaseEvent, len(r.events))
	copy(out, r.events)
	return out
}
