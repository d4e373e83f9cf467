package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/shopspring/decimal"
)

// Debtor 付款方分录
type Debtor struct {
	AccountNumber string `json:"accountNumber"`
	Amount        string `json:"amount"`
}

// Creditor 收款方分录
type Creditor struct {
	AccountNumber string `json:"accountNumber"`
	Amount        string `json:"amount"`
}

// Transfer 平衡的多腿记账指令
type Transfer struct {
	Debtors   []Debtor   `json:"debtors"`
	Creditors []Creditor `json:"creditors"`
}

// Totals 精确计算借贷两侧合计
func (t *Transfer) Totals() (debtors, creditors decimal.Decimal, err error) {
	debtors, creditors = decimal.Zero, decimal.Zero
	for _, d := range t.Debtors {
		v, err := decimal.NewFromString(d.Amount)
		if err != nil {
			return decimal.Zero, decimal.Zero, &InvalidCommandError{Field: "debtor.amount", Reason: err.Error()}
		}
		debtors = debtors.Add(v)
	}
	for _, c := range t.Creditors {
		v, err := decimal.NewFromString(c.Amount)
		if err != nil {
			return decimal.Zero, decimal.Zero, &InvalidCommandError{Field: "creditor.amount", Reason: err.Error()}
		}
		creditors = creditors.Add(v)
	}
	return debtors, creditors, nil
}

// Validate 校验非空且借贷平衡
func (t *Transfer) Validate() error {
	if len(t.Debtors) == 0 || len(t.Creditors) == 0 {
		return &InvalidCommandError{Field: "transfer", Reason: "debtors and creditors must be non-empty"}
	}
	debtors, creditors, err := t.Totals()
	if err != nil {
		return err
	}
	if !debtors.Equal(creditors) {
		return &UnbalancedTransferInvariantError{DebtorTotal: debtors, CreditorTotal: creditors}
	}
	return nil
}

// Digest 记账指令的 SHA-256 摘要。Build 输出的分录已按账户排序，相同指令摘要相同
func (t *Transfer) Digest() string {
	raw, _ := json.Marshal(t)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// TransferBuilder 按固定路由表把成本组件转换为记账指令
type TransferBuilder struct {
	digits int32
}

// NewTransferBuilder 创建构建器，digits 为产品币种精度
func NewTransferBuilder(digits int32) *TransferBuilder {
	return &TransferBuilder{digits: digits}
}

// Build 构建记账指令。同一侧同一账户的分录合并；零金额组件跳过；
// 没有任何分录时返回 nil，表示该动作不需要记账。
func (b *TransferBuilder) Build(components []CostComponent, action Action, accounts AccountResolver) (*Transfer, error) {
	debits := make(map[string]decimal.Decimal)
	credits := make(map[string]decimal.Decimal)

	for _, cc := range components {
		if cc.Amount.IsZero() {
			continue
		}
		if cc.Amount.IsNegative() {
			return nil, &InvalidCommandError{Field: cc.ChargeID, Reason: "component amount must not be negative"}
		}
		route, err := RouteFor(action, cc.ChargeID)
		if err != nil {
			return nil, err
		}
		payer, err := accounts.Resolve(route.Payer)
		if err != nil {
			return nil, err
		}
		receiver, err := accounts.Resolve(route.Receiver)
		if err != nil {
			return nil, err
		}
		debits[payer] = debits[payer].Add(cc.Amount)
		credits[receiver] = credits[receiver].Add(cc.Amount)
	}

	if len(debits) == 0 {
		return nil, nil
	}

	t := &Transfer{
		Debtors:   make([]Debtor, 0, len(debits)),
		Creditors: make([]Creditor, 0, len(credits)),
	}
	for _, acc := range sortedKeys(debits) {
		t.Debtors = append(t.Debtors, Debtor{AccountNumber: acc, Amount: FormatAmount(debits[acc], b.digits)})
	}
	for _, acc := range sortedKeys(credits) {
		t.Creditors = append(t.Creditors, Creditor{AccountNumber: acc, Amount: FormatAmount(credits[acc], b.digits)})
	}

	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

func sortedKeys(m map[string]decimal.Decimal) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
