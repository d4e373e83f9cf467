package http

import (
	"github.com/shopspring/decimal"
	"github.com/wyfcoding/loanportfolio/internal/lending/application"
	"github.com/wyfcoding/loanportfolio/internal/lending/domain"
)

// ChargeRequest 费用定义
type ChargeRequest struct {
	ID     string `json:"id" binding:"required"`
	Name   string `json:"name"`
	Action string `json:"action" binding:"required"`
	Kind   string `json:"kind" binding:"required"`
	Value  string `json:"value" binding:"required"`
}

// CreateProductRequest 建产品请求
type CreateProductRequest struct {
	ID                      string            `json:"identifier" binding:"required"`
	Name                    string            `json:"name" binding:"required"`
	Currency                string            `json:"currencyCode" binding:"required"`
	MinorCurrencyUnitDigits int32             `json:"minorCurrencyUnitDigits"`
	Accounts                map[string]string `json:"accountAssignments"`
	Ledgers                 map[string]string `json:"caseAccountLedgers"`
	Charges                 []ChargeRequest   `json:"charges"`
}

// FixedOverrideRequest 固定金额覆盖请求
type FixedOverrideRequest struct {
	Amount string `json:"amount" binding:"required"`
}

// EnableRequest 启用请求
type EnableRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// CreateCaseRequest 建案请求
type CreateCaseRequest struct {
	ID             string `json:"identifier"`
	CustomerID     string `json:"customerIdentifier" binding:"required"`
	MaximumBalance string `json:"maximumBalance" binding:"required"`
	TermMonths     int    `json:"termMonths"`
}

// CommandRequest 动作提交请求
type CommandRequest struct {
	AccountAssignments map[string]string `json:"accountAssignments"`
	Amount             *string           `json:"amount"`
	Note               string            `json:"note"`
	SequenceNumber     int64             `json:"sequenceNumber"`
}

// ChargeResponse 费用定义
type ChargeResponse struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Action   string  `json:"action"`
	Kind     string  `json:"kind"`
	Value    string  `json:"value"`
	Override *string `json:"fixedOverride,omitempty"`
}

// ProductResponse 产品
type ProductResponse struct {
	ID                      string            `json:"identifier"`
	Name                    string            `json:"name"`
	Currency                string            `json:"currencyCode"`
	MinorCurrencyUnitDigits int32             `json:"minorCurrencyUnitDigits"`
	Enabled                 bool              `json:"enabled"`
	Accounts                map[string]string `json:"accountAssignments"`
	Ledgers                 map[string]string `json:"caseAccountLedgers"`
	Charges                 []ChargeResponse  `json:"charges"`
}

// CaseResponse 案件
type CaseResponse struct {
	ID             string            `json:"identifier"`
	ProductID      string            `json:"productIdentifier"`
	State          string            `json:"currentState"`
	CustomerID     string            `json:"customerIdentifier"`
	MaximumBalance string            `json:"maximumBalance"`
	TermMonths     int               `json:"termMonths,omitempty"`
	SequenceNumber int64             `json:"sequenceNumber"`
	Accounts       map[string]string `json:"accounts,omitempty"`
}

// CostComponentResponse 成本组件
type CostComponentResponse struct {
	ChargeID string `json:"chargeIdentifier"`
	Amount   string `json:"amount"`
}

// TransitionResponse 动作提交结果
type TransitionResponse struct {
	CaseID         string                  `json:"caseIdentifier"`
	Action         string                  `json:"action"`
	PreviousState  string                  `json:"previousState"`
	State          string                  `json:"currentState"`
	SequenceNumber int64                   `json:"sequenceNumber"`
	IdempotencyKey string                  `json:"idempotencyKey"`
	CostComponents []CostComponentResponse `json:"costComponents"`
	Transfer       *domain.Transfer        `json:"transfer,omitempty"`
	NextActions    []domain.Action         `json:"nextActions"`
	Replayed       bool                    `json:"replayed"`
}

// ActionRecordResponse 已提交动作
type ActionRecordResponse struct {
	SequenceNumber int64  `json:"sequenceNumber"`
	Action         string `json:"action"`
	PreviousState  string `json:"previousState"`
	ResultingState string `json:"resultingState"`
	IdempotencyKey string `json:"idempotencyKey"`
	Note           string `json:"note,omitempty"`
	OccurredAt     string `json:"occurredAt"`
}

func (r CreateProductRequest) toCommand() (application.CreateProductCommand, error) {
	cmd := application.CreateProductCommand{
		ProductID:               r.ID,
		Name:                    r.Name,
		Currency:                r.Currency,
		MinorCurrencyUnitDigits: r.MinorCurrencyUnitDigits,
		Accounts:                toRoles(r.Accounts),
		Ledgers:                 toRoles(r.Ledgers),
	}
	for _, ch := range r.Charges {
		value, err := parseAmount("charges.value", ch.Value)
		if err != nil {
			return cmd, err
		}
		cmd.Charges = append(cmd.Charges, domain.ChargeDefinition{
			ID:     ch.ID,
			Name:   ch.Name,
			Action: domain.Action(ch.Action),
			Kind:   domain.ChargeKind(ch.Kind),
			Value:  value,
		})
	}
	return cmd, nil
}

func (r CommandRequest) toContext() (domain.CommandContext, error) {
	cmd := domain.CommandContext{
		AccountAssignments: toRoles(r.AccountAssignments),
		Note:               r.Note,
		SequenceNumber:     r.SequenceNumber,
	}
	if r.Amount != nil {
		amount, err := parseAmount("amount", *r.Amount)
		if err != nil {
			return cmd, err
		}
		cmd.Amount = &amount
	}
	return cmd, nil
}

func parseAmount(field, s string) (decimal.Decimal, error) {
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, &domain.InvalidCommandError{Field: field, Reason: "not a decimal number"}
	}
	return v, nil
}

func toRoles(in map[string]string) map[domain.AccountRole]string {
	out := make(map[domain.AccountRole]string, len(in))
	for k, v := range in {
		out[domain.AccountRole(k)] = v
	}
	return out
}

func fromRoles(in map[domain.AccountRole]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[string(k)] = v
	}
	return out
}

func toProductResponse(p *domain.Product) ProductResponse {
	resp := ProductResponse{
		ID:                      p.ID,
		Name:                    p.Name,
		Currency:                p.Currency,
		MinorCurrencyUnitDigits: p.MinorCurrencyUnitDigits,
		Enabled:                 p.Enabled,
		Accounts:                fromRoles(p.Accounts),
		Ledgers:                 fromRoles(p.Ledgers),
	}
	for _, d := range p.Charges.All() {
		ch := ChargeResponse{
			ID:     d.ID,
			Name:   d.Name,
			Action: string(d.Action),
			Kind:   string(d.Kind),
			Value:  d.Value.String(),
		}
		if d.Override != nil {
			v := domain.FormatAmount(*d.Override, p.MinorCurrencyUnitDigits)
			ch.Override = &v
		}
		resp.Charges = append(resp.Charges, ch)
	}
	return resp
}

func toCaseResponse(c *domain.Case) CaseResponse {
	return CaseResponse{
		ID:             c.ID,
		ProductID:      c.ProductID,
		State:          string(c.State),
		CustomerID:     c.Parameters.CustomerID,
		MaximumBalance: c.Parameters.MaximumBalance.String(),
		TermMonths:     c.Parameters.TermMonths,
		SequenceNumber: c.Sequence,
		Accounts:       fromRoles(c.Accounts),
	}
}

func toComponentResponses(components []domain.CostComponent, digits int32) []CostComponentResponse {
	out := make([]CostComponentResponse, 0, len(components))
	for _, cc := range components {
		out = append(out, CostComponentResponse{ChargeID: cc.ChargeID, Amount: domain.FormatAmount(cc.Amount, digits)})
	}
	return out
}

func toTransitionResponse(r *application.TransitionResult) TransitionResponse {
	return TransitionResponse{
		CaseID:         r.CaseID,
		Action:         string(r.Action),
		PreviousState:  string(r.PreviousState),
		State:          string(r.State),
		SequenceNumber: r.SequenceNumber,
		IdempotencyKey: r.IdempotencyKey,
		CostComponents: toComponentResponses(r.CostComponents, r.MinorCurrencyUnitDigits),
		Transfer:       r.Transfer,
		NextActions:    r.NextActions,
		Replayed:       r.Replayed,
	}
}
