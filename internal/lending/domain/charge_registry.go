package domain

import (
	"sort"

	"github.com/shopspring/decimal"
)

// ChargeKind 费用类型
type ChargeKind string

const (
	ChargeFixed        ChargeKind = "FIXED"
	ChargeProportional ChargeKind = "PROPORTIONAL"
)

// 费用与合成组件标识
const (
	ChargeProcessingFee      = "PROCESSING_FEE"
	ChargeLoanOriginationFee = "LOAN_ORIGINATION_FEE"
	ChargeDisbursementFee    = "DISBURSEMENT_FEE"
	ChargeLateFee            = "LATE_FEE"

	// 合成组件：本金流转，不是费用，不能在产品上配置
	ComponentLoanFundsAllocation = "LOAN_FUNDS_ALLOCATION"
	ComponentDisbursePayment     = "DISBURSE_PAYMENT"
	ComponentRepayment           = "REPAYMENT"
	ComponentLoanWriteOff        = "LOAN_WRITE_OFF"
)

var syntheticComponents = map[string]struct{}{
	ComponentLoanFundsAllocation: {},
	ComponentDisbursePayment:     {},
	ComponentRepayment:           {},
	ComponentLoanWriteOff:        {},
}

// ChargeDefinition 挂在某个工作流动作上的费用规则
type ChargeDefinition struct {
	ID     string     `json:"id"`
	Name   string     `json:"name"`
	Action Action     `json:"action"`
	Kind   ChargeKind `json:"kind"`
	// FIXED 为金额，PROPORTIONAL 为比例
	Value decimal.Decimal `json:"value"`
	// 固定金额覆盖，非空时优先于 Value
	Override *decimal.Decimal `json:"override,omitempty"`
}

// IsFixedOverridden 是否被固定金额覆盖
func (d ChargeDefinition) IsFixedOverridden() bool {
	return d.Override != nil
}

// EffectiveKind 覆盖后的实际类型
func (d ChargeDefinition) EffectiveKind() ChargeKind {
	if d.IsFixedOverridden() {
		return ChargeFixed
	}
	return d.Kind
}

// EffectiveValue 覆盖后的实际值
func (d ChargeDefinition) EffectiveValue() decimal.Decimal {
	if d.Override != nil {
		return *d.Override
	}
	return d.Value
}

// normalize 校验并规范化动作名
func (d ChargeDefinition) normalize() (ChargeDefinition, error) {
	if d.ID == "" {
		return d, &InvalidCommandError{Field: "charge.id", Reason: "is required"}
	}
	if _, reserved := syntheticComponents[d.ID]; reserved {
		return d, &InvalidCommandError{Field: "charge.id", Reason: d.ID + " is a reserved component identifier"}
	}
	action, err := ParseAction(string(d.Action))
	if err != nil {
		return d, err
	}
	d.Action = action
	if d.Kind != ChargeFixed && d.Kind != ChargeProportional {
		return d, &InvalidCommandError{Field: "charge.kind", Reason: "must be FIXED or PROPORTIONAL"}
	}
	if d.Value.IsNegative() {
		return d, &InvalidCommandError{Field: "charge.value", Reason: "must not be negative"}
	}
	return d, nil
}

type chargeKey struct {
	action Action
	id     string
}

// ChargeRegistry 产品的费用登记表：(动作, 费用标识) -> 费用定义
// 不是并发安全的，随产品一起加载与保存。
type ChargeRegistry struct {
	productID string
	charges   map[chargeKey]ChargeDefinition
}

// NewChargeRegistry 创建费用登记表
func NewChargeRegistry(productID string, defs ...ChargeDefinition) (*ChargeRegistry, error) {
	r := &ChargeRegistry{
		productID: productID,
		charges:   make(map[chargeKey]ChargeDefinition, len(defs)),
	}
	for _, d := range defs {
		if err := r.Register(d); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register 登记或替换一条费用定义
func (r *ChargeRegistry) Register(def ChargeDefinition) error {
	def, err := def.normalize()
	if err != nil {
		return err
	}
	r.charges[chargeKey{def.Action, def.ID}] = def
	return nil
}

// Resolve 查找某动作上的费用定义
func (r *ChargeRegistry) Resolve(action Action, chargeID string) (ChargeDefinition, error) {
	def, ok := r.charges[chargeKey{action, chargeID}]
	if !ok {
		return ChargeDefinition{}, &UnknownChargeError{ProductID: r.productID, Action: action, ChargeID: chargeID}
	}
	return def, nil
}

// ForAction 列出某动作上的全部费用，按标识排序
func (r *ChargeRegistry) ForAction(action Action) []ChargeDefinition {
	var out []ChargeDefinition
	for k, d := range r.charges {
		if k.action == action {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// All 列出全部费用，按动作声明顺序、再按标识排序
func (r *ChargeRegistry) All() []ChargeDefinition {
	var out []ChargeDefinition
	for _, a := range allActions {
		out = append(out, r.ForAction(a)...)
	}
	return out
}

// SetFixedOverride 用固定金额覆盖费用；金额必须能在 digits 位小数下精确表示
func (r *ChargeRegistry) SetFixedOverride(chargeID string, amount decimal.Decimal, digits int32) error {
	if amount.IsNegative() {
		return &InvalidCommandError{Field: "amount", Reason: "must not be negative"}
	}
	scaled, err := Scale(amount, digits, RoundUnnecessary)
	if err != nil {
		return err
	}

	found := false
	for k, d := range r.charges {
		if k.id != chargeID {
			continue
		}
		v := scaled
		d.Override = &v
		r.charges[k] = d
		found = true
	}
	if !found {
		return &UnknownChargeError{ProductID: r.productID, ChargeID: chargeID}
	}
	return nil
}

// IsFixedOverridden 费用是否已被固定金额覆盖
func (r *ChargeRegistry) IsFixedOverridden(chargeID string) bool {
	for k, d := range r.charges {
		if k.id == chargeID && d.IsFixedOverridden() {
			return true
		}
	}
	return false
}

// Clone 深拷贝
func (r *ChargeRegistry) Clone() *ChargeRegistry {
	out := &ChargeRegistry{
		productID: r.productID,
		charges:   make(map[chargeKey]ChargeDefinition, len(r.charges)),
	}
	for k, d := range r.charges {
		if d.Override != nil {
			v := *d.Override
			d.Override = &v
		}
		out.charges[k] = d
	}
	return out
}

// DefaultCharges 新产品的默认费用模板
func DefaultCharges() []ChargeDefinition {
	return []ChargeDefinition{
		{ID: ChargeProcessingFee, Name: "Processing fee", Action: ActionOpen, Kind: ChargeProportional, Value: decimal.RequireFromString("0.01")},
		{ID: ChargeLoanOriginationFee, Name: "Loan origination fee", Action: ActionApprove, Kind: ChargeProportional, Value: decimal.RequireFromString("0.01")},
		{ID: ChargeDisbursementFee, Name: "Disbursement fee", Action: ActionDisburse, Kind: ChargeProportional, Value: decimal.RequireFromString("0.001")},
		{ID: ChargeLateFee, Name: "Late fee", Action: ActionMarkLate, Kind: ChargeProportional, Value: decimal.RequireFromString("0.01")},
	}
}
