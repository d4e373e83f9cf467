package domain

import (
	"sort"

	"github.com/shopspring/decimal"
)

// CostComponent 某动作上某项费用（或本金流转）的精确金额
type CostComponent struct {
	ChargeID string          `json:"chargeIdentifier"`
	Amount   decimal.Decimal `json:"amount"`
}

// ComputeCostComponents 计算动作的成本组件集合，按标识排序。
// 纯函数：只读取产品费用登记表、案件参数与命令上下文。
func ComputeCostComponents(product *Product, c *Case, action Action, cmd CommandContext) ([]CostComponent, error) {
	digits := product.MinorCurrencyUnitDigits

	base, err := actionBase(c, action, cmd)
	if err != nil {
		return nil, err
	}

	components := make(map[string]decimal.Decimal)
	for _, def := range product.Charges.ForAction(action) {
		var raw decimal.Decimal
		// 固定覆盖优先于比例计算
		if def.EffectiveKind() == ChargeFixed {
			raw = def.EffectiveValue()
		} else {
			raw = base.Mul(def.Value)
		}
		amount, err := Scale(raw, digits, RoundUnnecessary)
		if err != nil {
			return nil, err
		}
		components[def.ID] = amount
	}

	if id, ok := syntheticFor(action); ok {
		amount, err := Scale(base, digits, RoundUnnecessary)
		if err != nil {
			return nil, err
		}
		components[id] = amount
	}

	out := make([]CostComponent, 0, len(components))
	for id, amount := range components {
		out = append(out, CostComponent{ChargeID: id, Amount: amount})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChargeID < out[j].ChargeID })
	return out, nil
}

// actionBase 比例费用的计算基数，同时也是合成组件的金额
func actionBase(c *Case, action Action, cmd CommandContext) (decimal.Decimal, error) {
	if cmd.Amount != nil && !cmd.Amount.IsPositive() {
		return decimal.Zero, &InvalidCommandError{Field: "amount", Reason: "must be greater than zero"}
	}

	switch action {
	case ActionAcceptPayment:
		if cmd.Amount == nil {
			return decimal.Zero, &InvalidCommandError{Field: "amount", Reason: "payment amount is required"}
		}
		return *cmd.Amount, nil
	case ActionDisburse, ActionWriteOff:
		if cmd.Amount != nil {
			return *cmd.Amount, nil
		}
		return c.Parameters.MaximumBalance, nil
	default:
		return c.Parameters.MaximumBalance, nil
	}
}

func syntheticFor(action Action) (string, bool) {
	switch action {
	case ActionApprove:
		return ComponentLoanFundsAllocation, true
	case ActionDisburse:
		return ComponentDisbursePayment, true
	case ActionAcceptPayment:
		return ComponentRepayment, true
	case ActionWriteOff:
		return ComponentLoanWriteOff, true
	}
	return "", false
}
