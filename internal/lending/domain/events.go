package domain

import "time"

// EntityTypeCase 事件实体类型
const EntityTypeCase = "case"

// CaseEvent 状态变更事件，订阅方按 (案件, 动作, 序号) 去重
type CaseEvent struct {
	EntityType       string    `json:"entityType"`
	EntityIdentifier string    `json:"entityIdentifier"`
	ProductID        string    `json:"productIdentifier"`
	Action           Action    `json:"action"`
	ResultingState   State     `json:"resultingState"`
	SequenceNumber   int64     `json:"sequenceNumber"`
	Timestamp        time.Time `json:"timestamp"`
}

// NewCaseEvent 根据动作记录生成事件
func NewCaseEvent(c *Case, rec *CaseActionRecord) CaseEvent {
	return CaseEvent{
		EntityType:       EntityTypeCase,
		EntityIdentifier: c.ID,
		ProductID:        c.ProductID,
		Action:           rec.Action,
		ResultingState:   rec.ResultingState,
		SequenceNumber:   rec.SequenceNumber,
		Timestamp:        rec.OccurredAt,
	}
}

// DedupKey 订阅方去重键
func (e CaseEvent) DedupKey() string {
	return IdempotencyKey(e.EntityIdentifier, e.Action, e.SequenceNumber)
}
