package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// CaseParameters 案件参数
type CaseParameters struct {
	CustomerID string `json:"customerIdentifier"`
	// 批准的最大本金
	MaximumBalance decimal.Decimal `json:"maximumBalance"`
	TermMonths     int             `json:"termMonths,omitempty"`
}

// Case 贷款案件聚合根
type Case struct {
	ID         string
	ProductID  string
	State      State
	Parameters CaseParameters
	// 已提交的动作数量，用于派生幂等键
	Sequence int64
	// 案件级账户：角色 -> 账本账户标识，按需创建后终身使用
	Accounts  map[AccountRole]string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewCase 基于已启用的产品创建案件，初始状态 CREATED
func NewCase(id string, product *Product, params CaseParameters) (*Case, error) {
	if strings.TrimSpace(id) == "" {
		return nil, &InvalidCommandError{Field: "case.id", Reason: "is required"}
	}
	if !product.Enabled {
		return nil, fmt.Errorf("create case %s on product %s: %w", id, product.ID, ErrProductDisabled)
	}
	if !params.MaximumBalance.IsPositive() {
		return nil, &InvalidCommandError{Field: "maximumBalance", Reason: "must be greater than zero"}
	}
	now := time.Now()
	return &Case{
		ID:         id,
		ProductID:  product.ID,
		State:      StateCreated,
		Parameters: params,
		Accounts:   make(map[AccountRole]string),
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// NextSequence 下一个动作的序号
func (c *Case) NextSequence() int64 {
	return c.Sequence + 1
}

// IdempotencyKey 下一个动作的幂等键
func (c *Case) IdempotencyKey(action Action) string {
	return IdempotencyKey(c.ID, action, c.NextSequence())
}

// Advance 账本提交成功后推进状态
func (c *Case) Advance(next State) {
	c.State = next
	c.Sequence++
	c.UpdatedAt = time.Now()
}

// Account 查找案件级账户
func (c *Case) Account(role AccountRole) (string, bool) {
	id, ok := c.Accounts[role]
	return id, ok && id != ""
}

// AssignAccount 记录账本创建的案件级账户
func (c *Case) AssignAccount(role AccountRole, accountID string) {
	if c.Accounts == nil {
		c.Accounts = make(map[AccountRole]string)
	}
	c.Accounts[role] = accountID
}

// Clone 深拷贝
func (c *Case) Clone() *Case {
	out := *c
	out.Accounts = copyRoles(c.Accounts)
	return &out
}

// IdempotencyKey 由案件、动作与序号确定性派生，不依赖时钟
func IdempotencyKey(caseID string, action Action, sequence int64) string {
	return fmt.Sprintf("%s:%s:%d", caseID, action, sequence)
}

// CaseActionRecord 已提交动作的记录
type CaseActionRecord struct {
	CaseID         string          `json:"caseIdentifier"`
	SequenceNumber int64           `json:"sequenceNumber"`
	Action         Action          `json:"action"`
	PreviousState  State           `json:"previousState"`
	ResultingState State           `json:"resultingState"`
	IdempotencyKey string          `json:"idempotencyKey"`
	CostComponents []CostComponent `json:"costComponents"`
	Note           string          `json:"note,omitempty"`
	OccurredAt     time.Time       `json:"occurredAt"`
}

// PendingAttempt 已发往账本但结果尚未确认的提交，按幂等键保存。
// 重试时据此确认同一幂等键下的记账指令没有变化。
type PendingAttempt struct {
	IdempotencyKey string
	CaseID         string
	Action         Action
	CostComponents []CostComponent
	// 记账指令摘要，见 Transfer.Digest
	TransferDigest string
	CreatedAt      time.Time
}

// CommandContext 随动作提交的上下文
type CommandContext struct {
	// 账户分配，例如 ENTRY -> 柜员账户
	AccountAssignments map[AccountRole]string
	// 放款、还款、核销金额；为空时按动作取默认值
	Amount *decimal.Decimal
	Note   string
	// 非零时表示调用方期望的动作序号，用于重放检测
	SequenceNumber int64
}
