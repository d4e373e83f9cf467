package mysql

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/loanportfolio/internal/lending/domain"
	"gorm.io/gorm"
)

// ProductPO 贷款产品
type ProductPO struct {
	gorm.Model
	ProductID string `gorm:"column:product_id;type:varchar(64);uniqueIndex;not null;comment:产品ID"`
	Name      string `gorm:"column:name;type:varchar(128);not null;comment:名称"`
	Currency  string `gorm:"column:currency;type:varchar(10);not null;comment:币种"`
	Digits    int32  `gorm:"column:minor_currency_unit_digits;not null;comment:最小单位小数位"`
	Enabled   bool   `gorm:"column:enabled;not null;default:false;comment:是否启用"`
	// 角色 -> 账户，JSON
	Accounts string `gorm:"column:accounts;type:text;not null;comment:产品级账户分配"`
	// 角色 -> 账本，JSON
	Ledgers string `gorm:"column:ledgers;type:text;not null;comment:案件账户所属账本"`
}

func (ProductPO) TableName() string { return "lending_products" }

// ProductChargePO 产品费用定义
type ProductChargePO struct {
	gorm.Model
	ProductID string              `gorm:"column:product_id;type:varchar(64);uniqueIndex:uk_product_charge;not null;comment:产品ID"`
	Action    string              `gorm:"column:action;type:varchar(32);uniqueIndex:uk_product_charge;not null;comment:工作流动作"`
	ChargeID  string              `gorm:"column:charge_id;type:varchar(64);uniqueIndex:uk_product_charge;not null;comment:费用标识"`
	Name      string              `gorm:"column:name;type:varchar(128);comment:名称"`
	Kind      string              `gorm:"column:kind;type:varchar(20);not null;comment:FIXED/PROPORTIONAL"`
	Value     decimal.Decimal     `gorm:"column:value;type:decimal(32,18);not null;comment:金额或比例"`
	Override  decimal.NullDecimal `gorm:"column:fixed_override;type:decimal(32,18);comment:固定金额覆盖"`
}

func (ProductChargePO) TableName() string { return "lending_product_charges" }

// CasePO 贷款案件
type CasePO struct {
	gorm.Model
	CaseID         string          `gorm:"column:case_id;type:varchar(64);uniqueIndex;not null;comment:案件ID"`
	ProductID      string          `gorm:"column:product_id;type:varchar(64);index;not null;comment:产品ID"`
	State          string          `gorm:"column:state;type:varchar(20);not null;comment:工作流状态"`
	CustomerID     string          `gorm:"column:customer_id;type:varchar(64);index;comment:客户ID"`
	MaximumBalance decimal.Decimal `gorm:"column:maximum_balance;type:decimal(32,18);not null;comment:最大本金"`
	TermMonths     int             `gorm:"column:term_months;comment:期限（月）"`
	Sequence       int64           `gorm:"column:sequence;not null;default:0;comment:已提交动作数"`
}

func (CasePO) TableName() string { return "lending_cases" }

// CaseAccountPO 案件级账户
type CaseAccountPO struct {
	gorm.Model
	CaseID    string `gorm:"column:case_id;type:varchar(64);uniqueIndex:uk_case_role;not null;comment:案件ID"`
	Role      string `gorm:"column:role;type:varchar(32);uniqueIndex:uk_case_role;not null;comment:账户角色"`
	AccountID string `gorm:"column:account_id;type:varchar(128);not null;comment:账本账户"`
}

func (CaseAccountPO) TableName() string { return "lending_case_accounts" }

// CaseActionPO 已提交动作
type CaseActionPO struct {
	gorm.Model
	CaseID         string `gorm:"column:case_id;type:varchar(64);uniqueIndex:uk_case_sequence;not null;comment:案件ID"`
	SequenceNumber int64  `gorm:"column:sequence_number;uniqueIndex:uk_case_sequence;not null;comment:动作序号"`
	Action         string `gorm:"column:action;type:varchar(32);not null;comment:动作"`
	PreviousState  string `gorm:"column:previous_state;type:varchar(20);not null"`
	ResultingState string `gorm:"column:resulting_state;type:varchar(20);not null"`
	IdempotencyKey string `gorm:"column:idempotency_key;type:varchar(191);uniqueIndex;not null;comment:账本幂等键"`
	// 成本组件，JSON
	CostComponents string `gorm:"column:cost_components;type:text;comment:成本组件"`
	Note           string `gorm:"column:note;type:varchar(512)"`
}

func (CaseActionPO) TableName() string { return "lending_case_actions" }

// PendingAttemptPO 结果未确认的账本提交
type PendingAttemptPO struct {
	gorm.Model
	IdempotencyKey string `gorm:"column:idempotency_key;type:varchar(191);uniqueIndex;not null;comment:账本幂等键"`
	CaseID         string `gorm:"column:case_id;type:varchar(64);index;not null;comment:案件ID"`
	Action         string `gorm:"column:action;type:varchar(32);not null;comment:动作"`
	// 成本组件，JSON
	CostComponents string `gorm:"column:cost_components;type:text;comment:成本组件"`
	TransferDigest string `gorm:"column:transfer_digest;type:char(64);not null;comment:记账指令摘要"`
}

func (PendingAttemptPO) TableName() string { return "lending_pending_attempts" }

// FromDomain 从领域对象转换
func (po *ProductPO) FromDomain(p *domain.Product) error {
	accounts, err := json.Marshal(p.Accounts)
	if err != nil {
		return err
	}
	ledgers, err := json.Marshal(p.Ledgers)
	if err != nil {
		return err
	}
	po.ProductID = p.ID
	po.Name = p.Name
	po.Currency = p.Currency
	po.Digits = p.MinorCurrencyUnitDigits
	po.Enabled = p.Enabled
	po.Accounts = string(accounts)
	po.Ledgers = string(ledgers)
	return nil
}

// ToDomain 转换为领域对象
func (po *ProductPO) ToDomain(charges []ProductChargePO) (*domain.Product, error) {
	defs := make([]domain.ChargeDefinition, 0, len(charges))
	for i := range charges {
		defs = append(defs, charges[i].ToDomain())
	}
	registry, err := domain.NewChargeRegistry(po.ProductID, defs...)
	if err != nil {
		return nil, fmt.Errorf("load charges of product %s: %w", po.ProductID, err)
	}
	p := &domain.Product{
		ID:                      po.ProductID,
		Name:                    po.Name,
		Currency:                po.Currency,
		MinorCurrencyUnitDigits: po.Digits,
		Enabled:                 po.Enabled,
		Charges:                 registry,
		CreatedAt:               po.CreatedAt,
		UpdatedAt:               po.UpdatedAt,
	}
	if err := json.Unmarshal([]byte(po.Accounts), &p.Accounts); err != nil {
		return nil, fmt.Errorf("decode accounts of product %s: %w", po.ProductID, err)
	}
	if err := json.Unmarshal([]byte(po.Ledgers), &p.Ledgers); err != nil {
		return nil, fmt.Errorf("decode ledgers of product %s: %w", po.ProductID, err)
	}
	return p, nil
}

func toChargePOs(p *domain.Product) []ProductChargePO {
	defs := p.Charges.All()
	out := make([]ProductChargePO, 0, len(defs))
	for _, d := range defs {
		po := ProductChargePO{
			ProductID: p.ID,
			Action:    string(d.Action),
			ChargeID:  d.ID,
			Name:      d.Name,
			Kind:      string(d.Kind),
			Value:     d.Value,
		}
		if d.Override != nil {
			po.Override = decimal.NewNullDecimal(*d.Override)
		}
		out = append(out, po)
	}
	return out
}

// ToDomain 转换为领域对象
func (po *ProductChargePO) ToDomain() domain.ChargeDefinition {
	d := domain.ChargeDefinition{
		ID:     po.ChargeID,
		Name:   po.Name,
		Action: domain.Action(po.Action),
		Kind:   domain.ChargeKind(po.Kind),
		Value:  po.Value,
	}
	if po.Override.Valid {
		v := po.Override.Decimal
		d.Override = &v
	}
	return d
}

// FromDomain 从领域对象转换
func (po *CasePO) FromDomain(c *domain.Case) {
	po.CaseID = c.ID
	po.ProductID = c.ProductID
	po.State = string(c.State)
	po.CustomerID = c.Parameters.CustomerID
	po.MaximumBalance = c.Parameters.MaximumBalance
	po.TermMonths = c.Parameters.TermMonths
	po.Sequence = c.Sequence
	po.CreatedAt = c.CreatedAt
	po.UpdatedAt = c.UpdatedAt
}

// ToDomain 转换为领域对象
func (po *CasePO) ToDomain(accounts []CaseAccountPO) *domain.Case {
	c := &domain.Case{
		ID:        po.CaseID,
		ProductID: po.ProductID,
		State:     domain.State(po.State),
		Parameters: domain.CaseParameters{
			CustomerID:     po.CustomerID,
			MaximumBalance: po.MaximumBalance,
			TermMonths:     po.TermMonths,
		},
		Sequence:  po.Sequence,
		Accounts:  make(map[domain.AccountRole]string, len(accounts)),
		CreatedAt: po.CreatedAt,
		UpdatedAt: po.UpdatedAt,
	}
	for _, a := range accounts {
		c.Accounts[domain.AccountRole(a.Role)] = a.AccountID
	}
	return c
}

// FromDomain 从领域对象转换
func (po *CaseActionPO) FromDomain(rec *domain.CaseActionRecord) error {
	components, err := json.Marshal(rec.CostComponents)
	if err != nil {
		return err
	}
	po.CaseID = rec.CaseID
	po.SequenceNumber = rec.SequenceNumber
	po.Action = string(rec.Action)
	po.PreviousState = string(rec.PreviousState)
	po.ResultingState = string(rec.ResultingState)
	po.IdempotencyKey = rec.IdempotencyKey
	po.CostComponents = string(components)
	po.Note = rec.Note
	po.CreatedAt = rec.OccurredAt
	return nil
}

// ToDomain 转换为领域对象
func (po *CaseActionPO) ToDomain() (*domain.CaseActionRecord, error) {
	rec := &domain.CaseActionRecord{
		CaseID:         po.CaseID,
		SequenceNumber: po.SequenceNumber,
		Action:         domain.Action(po.Action),
		PreviousState:  domain.State(po.PreviousState),
		ResultingState: domain.State(po.ResultingState),
		IdempotencyKey: po.IdempotencyKey,
		Note:           po.Note,
		OccurredAt:     po.CreatedAt,
	}
	if po.CostComponents != "" {
		if err := json.Unmarshal([]byte(po.CostComponents), &rec.CostComponents); err != nil {
			return nil, fmt.Errorf("decode cost components of %s: %w", po.IdempotencyKey, err)
		}
	}
	return rec, nil
}

// FromDomain 从领域对象转换
func (po *PendingAttemptPO) FromDomain(a *domain.PendingAttempt) error {
	components, err := json.Marshal(a.CostComponents)
	if err != nil {
		return err
	}
	po.IdempotencyKey = a.IdempotencyKey
	po.CaseID = a.CaseID
	po.Action = string(a.Action)
	po.CostComponents = string(components)
	po.TransferDigest = a.TransferDigest
	po.CreatedAt = a.CreatedAt
	return nil
}

// ToDomain 转换为领域对象
func (po *PendingAttemptPO) ToDomain() (*domain.PendingAttempt, error) {
	a := &domain.PendingAttempt{
		IdempotencyKey: po.IdempotencyKey,
		CaseID:         po.CaseID,
		Action:         domain.Action(po.Action),
		TransferDigest: po.TransferDigest,
		CreatedAt:      po.CreatedAt,
	}
	if po.CostComponents != "" {
		if err := json.Unmarshal([]byte(po.CostComponents), &a.CostComponents); err != nil {
			return nil, fmt.Errorf("decode cost components of %s: %w", po.IdempotencyKey, err)
		}
	}
	return a, nil
}
