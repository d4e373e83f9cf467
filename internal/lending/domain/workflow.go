// Package domain 贷款案件生命周期的领域模型
// 生成摘要：
// 1) 定义案件状态、工作流动作与唯一的状态迁移表
// 2) 定义产品、费用定义、成本组件与记账指令（Transfer）
// 3) 所有金额使用 decimal 精确计算，禁止隐式舍入
package domain

import (
	"fmt"
	"strings"
)

// Action 工作流动作
type Action string

const (
	ActionOpen          Action = "OPEN"
	ActionDeny          Action = "DENY"
	ActionApprove       Action = "APPROVE"
	ActionDisburse      Action = "DISBURSE"
	ActionApplyInterest Action = "APPLY_INTEREST"
	ActionMarkLate      Action = "MARK_LATE"
	ActionAcceptPayment Action = "ACCEPT_PAYMENT"
	ActionWriteOff      Action = "WRITE_OFF"
	ActionClose         Action = "CLOSE"
)

// allActions 声明顺序，NextLegalActions 按此顺序输出
var allActions = []Action{
	ActionOpen,
	ActionDeny,
	ActionApprove,
	ActionDisburse,
	ActionApplyInterest,
	ActionMarkLate,
	ActionAcceptPayment,
	ActionWriteOff,
	ActionClose,
}

// Actions 返回全部动作
func Actions() []Action {
	out := make([]Action, len(allActions))
	copy(out, allActions)
	return out
}

// ParseAction 解析动作名称（大小写不敏感）
func ParseAction(s string) (Action, error) {
	a := Action(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range allActions {
		if a == known {
			return a, nil
		}
	}
	return "", &InvalidCommandError{Field: "action", Reason: fmt.Sprintf("unknown action %q", s)}
}

// State 案件状态
type State string

const (
	StateCreated    State = "CREATED"
	StatePending    State = "PENDING"
	StateApproved   State = "APPROVED"
	StateActive     State = "ACTIVE"
	StateClosed     State = "CLOSED"
	StateDenied     State = "DENIED"
	StateWrittenOff State = "WRITTEN_OFF"
)

// transitions 状态迁移表：当前状态 -> 允许的动作 -> 下一状态
// 合法性校验只查这一张表。
var transitions = map[State]map[Action]State{
	StateCreated: {
		ActionOpen: StatePending,
	},
	StatePending: {
		ActionApprove: StateApproved,
		ActionDeny:    StateDenied,
	},
	StateApproved: {
		ActionDisburse: StateActive,
		ActionClose:    StateClosed,
	},
	StateActive: {
		ActionApplyInterest: StateActive,
		ActionMarkLate:      StateActive,
		ActionAcceptPayment: StateActive,
		ActionDisburse:      StateActive,
		ActionWriteOff:      StateWrittenOff,
		ActionClose:         StateClosed,
	},
}

// NextState 返回 (state, action) 的下一状态；不合法时返回 IllegalTransitionError
func NextState(state State, action Action) (State, error) {
	next, ok := transitions[state][action]
	if !ok {
		return "", &IllegalTransitionError{State: state, Action: action}
	}
	return next, nil
}

// NextLegalActions 返回当前状态下允许的动作集合
func NextLegalActions(state State) []Action {
	allowed := transitions[state]
	out := make([]Action, 0, len(allowed))
	for _, a := range allActions {
		if _, ok := allowed[a]; ok {
			out = append(out, a)
		}
	}
	return out
}

// IsTerminal 终态不再接受任何动作
func (s State) IsTerminal() bool {
	return len(transitions[s]) == 0
}
