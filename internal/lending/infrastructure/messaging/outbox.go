package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/wyfcoding/loanportfolio/internal/lending/domain"
	"github.com/wyfcoding/loanportfolio/pkg/db"
	"github.com/wyfcoding/loanportfolio/pkg/logger"
	"github.com/wyfcoding/loanportfolio/pkg/metrics"
	"github.com/wyfcoding/loanportfolio/pkg/mq"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// last_error 列保存的最大字节数
const maxLastErrorBytes = 512

// outbox 消息状态
const (
	OutboxStatusPending = "pending"
	OutboxStatusSent    = "sent"
)

// OutboxMessage 待中转的事件
type OutboxMessage struct {
	ID         string    `gorm:"column:id;type:varchar(36);primaryKey"`
	DedupKey   string    `gorm:"column:dedup_key;type:varchar(191);uniqueIndex"`
	EventType  string    `gorm:"column:event_type;type:varchar(100);index"`
	Topic      string    `gorm:"column:topic;type:varchar(191)"`
	MessageKey string    `gorm:"column:message_key;type:varchar(64)"`
	Payload    string    `gorm:"column:payload;type:text"`
	Status     string    `gorm:"column:status;type:varchar(20);index;default:'pending'"`
	Attempts   int       `gorm:"column:attempts;default:0"`
	LastError  string    `gorm:"column:last_error;type:varchar(512)"`
	CreatedAt  time.Time `gorm:"column:created_at;index"`
	UpdatedAt  time.Time `gorm:"column:updated_at"`
}

// TableName 指定表名
func (OutboxMessage) TableName() string {
	return "lending_outbox_messages"
}

// OutboxNotifier 在案件状态落库的同一事务内写入 outbox 记录
type OutboxNotifier struct {
	db    *gorm.DB
	topic string
}

// NewOutboxNotifier 创建 outbox 发布器
func NewOutboxNotifier(gdb *gorm.DB, topic string) *OutboxNotifier {
	return &OutboxNotifier{db: gdb, topic: topic}
}

// Publish 插入一条 pending 记录；同一去重键只保留一条
func (n *OutboxNotifier) Publish(ctx context.Context, event domain.CaseEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal case event: %w", err)
	}
	now := time.Now()
	msg := OutboxMessage{
		ID:         uuid.NewString(),
		DedupKey:   event.DedupKey(),
		EventType:  eventTypeCaseTransition,
		Topic:      n.topic,
		MessageKey: event.EntityIdentifier,
		Payload:    string(payload),
		Status:     OutboxStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	return db.Conn(ctx, n.db).Clauses(clause.OnConflict{DoNothing: true}).Create(&msg).Error
}

// OutboxStore outbox 表的读写
type OutboxStore interface {
	FetchPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, cause error) error
	DeleteSentBefore(ctx context.Context, before time.Time) (int64, error)
}

// GormOutboxStore 基于 GORM 的 outbox 存储
type GormOutboxStore struct {
	db *gorm.DB
}

// NewGormOutboxStore 创建 outbox 存储
func NewGormOutboxStore(gdb *gorm.DB) *GormOutboxStore {
	return &GormOutboxStore{db: gdb}
}

// FetchPending 按写入顺序取出待发送消息
func (s *GormOutboxStore) FetchPending(ctx context.Context, limit int) ([]OutboxMessage, error) {
	var messages []OutboxMessage
	err := s.db.WithContext(ctx).
		Where("status = ?", OutboxStatusPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&messages).Error
	return messages, err
}

// MarkSent 标记为已发送
func (s *GormOutboxStore) MarkSent(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Model(&OutboxMessage{}).
		Where("id = ?", id).
		Updates(map[string]any{"status": OutboxStatusSent, "updated_at": time.Now()}).Error
}

// MarkFailed 记录失败原因，消息保持 pending 等待下一轮
func (s *GormOutboxStore) MarkFailed(ctx context.Context, id string, cause error) error {
	msg := truncateUTF8(cause.Error(), maxLastErrorBytes)
	return s.db.WithContext(ctx).Model(&OutboxMessage{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"attempts":   gorm.Expr("attempts + 1"),
			"last_error": msg,
			"updated_at": time.Now(),
		}).Error
}

// truncateUTF8 截断到不超过 max 字节，不拆分多字节字符
func truncateUTF8(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// DeleteSentBefore 清理已发送的旧消息
func (s *GormOutboxStore) DeleteSentBefore(ctx context.Context, before time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", OutboxStatusSent, before).
		Delete(&OutboxMessage{})
	return res.RowsAffected, res.Error
}

// OutboxRelay 轮询 outbox 表并发送到 Kafka
type OutboxRelay struct {
	store     OutboxStore
	producer  mq.Producer
	metrics   *metrics.Metrics
	interval  time.Duration
	batchSize int
	retention time.Duration
}

// NewOutboxRelay 创建中转器
func NewOutboxRelay(store OutboxStore, producer mq.Producer, m *metrics.Metrics, interval time.Duration, batchSize int, retention time.Duration) *OutboxRelay {
	if interval <= 0 {
		interval = time.Second
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &OutboxRelay{
		store:     store,
		producer:  producer,
		metrics:   m,
		interval:  interval,
		batchSize: batchSize,
		retention: retention,
	}
}

// Run 循环中转直到 ctx 结束
func (r *OutboxRelay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	cleanupEvery := time.Hour
	lastCleanup := time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := r.ProcessOnce(ctx); err != nil && ctx.Err() == nil {
				logger.Error(ctx, "outbox relay failed", "error", err)
			}
			if r.retention > 0 && time.Since(lastCleanup) >= cleanupEvery {
				lastCleanup = time.Now()
				if err := r.Cleanup(ctx); err != nil && ctx.Err() == nil {
					logger.Warn(ctx, "outbox cleanup failed", "error", err)
				}
			}
		}
	}
}

// ProcessOnce 发送一批消息，返回成功条数。
// 某条发送失败即停止本批，保证同一案件的事件顺序。
func (r *OutboxRelay) ProcessOnce(ctx context.Context) (int, error) {
	messages, err := r.store.FetchPending(ctx, r.batchSize)
	if err != nil {
		return 0, fmt.Errorf("fetch pending outbox messages: %w", err)
	}

	sent := 0
	defer func() { r.metrics.IncOutboxRelayed(sent) }()
	for _, msg := range messages {
		headers := map[string]string{
			HeaderDedupKey:  msg.DedupKey,
			HeaderEventType: msg.EventType,
		}
		if err := r.producer.SendRaw(ctx, msg.Topic, msg.MessageKey, []byte(msg.Payload), headers); err != nil {
			r.metrics.IncPublishFailure()
			if markErr := r.store.MarkFailed(ctx, msg.ID, err); markErr != nil {
				logger.Warn(ctx, "failed to record outbox failure", "id", msg.ID, "error", markErr)
			}
			return sent, fmt.Errorf("send outbox message %s: %w", msg.ID, err)
		}
		if err := r.store.MarkSent(ctx, msg.ID); err != nil {
			return sent, fmt.Errorf("mark outbox message %s sent: %w", msg.ID, err)
		}
		sent++
	}
	return sent, nil
}

// Cleanup 删除超过保留期的已发送消息
func (r *OutboxRelay) Cleanup(ctx context.Context) error {
	n, err := r.store.DeleteSentBefore(ctx, time.Now().Add(-r.retention))
	if err != nil {
		return err
	}
	if n > 0 {
		logger.Info(ctx, "outbox messages cleaned up", "count", n)
	}
	return nil
}
