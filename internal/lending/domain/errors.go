package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrDuplicateCommand 账本检测到重复的幂等键；原始效果已生效，按成功处理
	ErrDuplicateCommand = errors.New("duplicate command: idempotency key already committed")
	// ErrCaseNotFound 案件不存在
	ErrCaseNotFound = errors.New("case not found")
	// ErrProductNotFound 产品不存在
	ErrProductNotFound = errors.New("product not found")
	// ErrProductDisabled 产品未启用，不能创建新案件
	ErrProductDisabled = errors.New("product is not enabled")
	// ErrConcurrentModification 乐观锁冲突：案件已被其他事务修改
	ErrConcurrentModification = errors.New("optimistic lock failed: case modified concurrently")
)

// IllegalTransitionError 当前状态不允许该动作
type IllegalTransitionError struct {
	State  State
	Action Action
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("action %s is not allowed in state %s", e.Action, e.State)
}

// UnknownChargeError 产品未为该动作配置此费用
type UnknownChargeError struct {
	ProductID string
	Action    Action
	ChargeID  string
}

func (e *UnknownChargeError) Error() string {
	if e.Action == "" {
		return fmt.Sprintf("charge %s is not configured on product %s", e.ChargeID, e.ProductID)
	}
	return fmt.Sprintf("charge %s is not configured for action %s on product %s", e.ChargeID, e.Action, e.ProductID)
}

// InexactScaleError 金额无法在产品精度下精确表示
type InexactScaleError struct {
	Value decimal.Decimal
	Scale int32
}

func (e *InexactScaleError) Error() string {
	return fmt.Sprintf("amount %s cannot be represented with %d decimal digits without rounding", e.Value.String(), e.Scale)
}

// UnbalancedTransferInvariantError 借贷合计不相等，说明路由表有缺陷
type UnbalancedTransferInvariantError struct {
	DebtorTotal   decimal.Decimal
	CreditorTotal decimal.Decimal
}

func (e *UnbalancedTransferInvariantError) Error() string {
	return fmt.Sprintf("internal invariant violated: debtor total %s != creditor total %s",
		e.DebtorTotal.String(), e.CreditorTotal.String())
}

// UnroutableComponentError 成本组件在路由表中没有对应的账户角色
type UnroutableComponentError struct {
	Action   Action
	ChargeID string
}

func (e *UnroutableComponentError) Error() string {
	return fmt.Sprintf("no account routing for component %s on action %s", e.ChargeID, e.Action)
}

// MissingAccountAssignmentError 路由需要的账户角色未分配账户
type MissingAccountAssignmentError struct {
	Role AccountRole
}

func (e *MissingAccountAssignmentError) Error() string {
	return fmt.Sprintf("no account assigned for role %s", e.Role)
}

// InvalidCommandError 命令参数非法
type InvalidCommandError struct {
	Field  string
	Reason string
}

func (e *InvalidCommandError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ProductInUseError 产品已启用或已被案件引用，费用不可再修改
type ProductInUseError struct {
	ProductID string
	Reason    string
}

func (e *ProductInUseError) Error() string {
	return fmt.Sprintf("product %s cannot be edited: %s", e.ProductID, e.Reason)
}

// LedgerRejectError 账本明确拒绝了转账，未产生任何过账
type LedgerRejectError struct {
	Code    string
	Message string
}

func (e *LedgerRejectError) Error() string {
	return fmt.Sprintf("ledger rejected transfer (%s): %s", e.Code, e.Message)
}

// LedgerCommitError 账本提交失败或超时；案件状态未推进，可用相同幂等键重试
type LedgerCommitError struct {
	IdempotencyKey string
	Err            error
}

func (e *LedgerCommitError) Error() string {
	return fmt.Sprintf("ledger commit %s failed: %v", e.IdempotencyKey, e.Err)
}

func (e *LedgerCommitError) Unwrap() error { return e.Err }

// IsRetryable 只有账本提交失败与乐观锁冲突可由调用方原样重试
func IsRetryable(err error) bool {
	var commitErr *LedgerCommitError
	if errors.As(err, &commitErr) {
		return true
	}
	return errors.Is(err, ErrConcurrentModification)
}
