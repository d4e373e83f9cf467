package domain

import (
	"strings"
	"time"
)

// maxCurrencyDigits 账本金额字符串支持的最大小数位
const maxCurrencyDigits = 18

// Product 贷款产品模板，被多个案件只读共享
type Product struct {
	ID       string
	Name     string
	Currency string
	// 币种最小单位的小数位数，例如 4 表示 10.0000
	MinorCurrencyUnitDigits int32
	Enabled                 bool
	Charges                 *ChargeRegistry
	// 产品级账户分配：角色 -> 账户标识
	Accounts map[AccountRole]string
	// 案件级账户创建时所属的账本：角色 -> 账本标识
	Ledgers   map[AccountRole]string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewProduct 创建产品；charges 为空时使用默认费用模板
func NewProduct(id, name, currency string, digits int32, accounts, ledgers map[AccountRole]string, charges []ChargeDefinition) (*Product, error) {
	if strings.TrimSpace(id) == "" {
		return nil, &InvalidCommandError{Field: "product.id", Reason: "is required"}
	}
	if digits < 0 || digits > maxCurrencyDigits {
		return nil, &InvalidCommandError{Field: "product.minorCurrencyUnitDigits", Reason: "must be between 0 and 18"}
	}
	for _, role := range ProductAccountRoles() {
		if accounts[role] == "" {
			return nil, &MissingAccountAssignmentError{Role: role}
		}
	}
	for _, role := range CaseAccountRoles() {
		if ledgers[role] == "" {
			return nil, &InvalidCommandError{Field: "product.ledgers", Reason: "no ledger for case account role " + string(role)}
		}
	}

	if len(charges) == 0 {
		charges = DefaultCharges()
	}
	registry, err := NewChargeRegistry(id, charges...)
	if err != nil {
		return nil, err
	}
	for _, d := range registry.All() {
		if _, ok := lookupRoute(d.Action, d.ID); !ok {
			return nil, &UnroutableComponentError{Action: d.Action, ChargeID: d.ID}
		}
	}

	now := time.Now()
	return &Product{
		ID:                      id,
		Name:                    name,
		Currency:                strings.ToUpper(currency),
		MinorCurrencyUnitDigits: digits,
		Charges:                 registry,
		Accounts:                copyRoles(accounts),
		Ledgers:                 copyRoles(ledgers),
		CreatedAt:               now,
		UpdatedAt:               now,
	}, nil
}

// Clone 深拷贝，仓储返回副本避免共享可变状态
func (p *Product) Clone() *Product {
	out := *p
	if p.Charges != nil {
		out.Charges = p.Charges.Clone()
	}
	out.Accounts = copyRoles(p.Accounts)
	out.Ledgers = copyRoles(p.Ledgers)
	return &out
}

func copyRoles(in map[AccountRole]string) map[AccountRole]string {
	out := make(map[AccountRole]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
