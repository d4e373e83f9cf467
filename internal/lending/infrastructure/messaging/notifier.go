// Package messaging 案件状态变更事件的发布：直接写 Kafka、写日志或经 outbox 中转
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/wyfcoding/loanportfolio/internal/lending/domain"
	"github.com/wyfcoding/loanportfolio/pkg/logger"
	"github.com/wyfcoding/loanportfolio/pkg/mq"
)

const (
	// HeaderDedupKey 订阅方去重键
	HeaderDedupKey = "dedup-key"
	// HeaderEventType 事件类型
	HeaderEventType = "event-type"

	eventTypeCaseTransition = "CaseTransitionEvent"
)

// KafkaNotifier 提交后直接发布到 Kafka，以案件 ID 作为分区键保证同一案件有序
type KafkaNotifier struct {
	producer mq.Producer
	topic    string
}

// NewKafkaNotifier 创建 Kafka 事件发布器
func NewKafkaNotifier(producer mq.Producer, topic string) *KafkaNotifier {
	return &KafkaNotifier{producer: producer, topic: topic}
}

// Publish 发布事件
func (n *KafkaNotifier) Publish(ctx context.Context, event domain.CaseEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal case event: %w", err)
	}
	return n.producer.SendRaw(ctx, n.topic, event.EntityIdentifier, payload, eventHeaders(event))
}

// LogNotifier 未配置消息队列时只记录事件
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier 创建日志事件发布器
func NewLogNotifier(l *slog.Logger) *LogNotifier {
	if l == nil {
		l = logger.Get()
	}
	return &LogNotifier{logger: l}
}

// Publish 写一条 info 日志
func (n *LogNotifier) Publish(ctx context.Context, event domain.CaseEvent) error {
	logger.Attach(ctx, n.logger).InfoContext(ctx, "case event",
		"case_id", event.EntityIdentifier,
		"product_id", event.ProductID,
		"action", event.Action,
		"state", event.ResultingState,
		"sequence", event.SequenceNumber,
	)
	return nil
}

// NoopNotifier 丢弃事件，事件已由 outbox 在事务内落库时使用
type NoopNotifier struct{}

// Publish 不做任何事
func (NoopNotifier) Publish(context.Context, domain.CaseEvent) error { return nil }

func eventHeaders(event domain.CaseEvent) map[string]string {
	return map[string]string{
		HeaderDedupKey:  event.DedupKey(),
		HeaderEventType: eventTypeCaseTransition,
	}
}
