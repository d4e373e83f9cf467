package application

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/loanportfolio/internal/lending/domain"
	"github.com/wyfcoding/loanportfolio/internal/lending/infrastructure/ledger"
	"github.com/wyfcoding/loanportfolio/internal/lending/infrastructure/lock"
	"github.com/wyfcoding/loanportfolio/internal/lending/infrastructure/messaging"
	"github.com/wyfcoding/loanportfolio/internal/lending/infrastructure/persistence/memory"
	"github.com/wyfcoding/loanportfolio/pkg/metrics"
)

type harness struct {
	products *memory.ProductRepository
	cases    *memory.CaseRepository
	ledger   *ledger.MemoryLedger
	events   *messaging.Recorder
	metrics  *metrics.Metrics
	product  *ProductService
	command  *CaseCommandService
	query    *CaseQueryService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		products: memory.NewProductRepository(),
		cases:    memory.NewCaseRepository(),
		ledger:   ledger.NewMemoryLedger(),
		events:   messaging.NewRecorder(),
		metrics:  metrics.New("lending-test"),
	}
	locker := lock.NewLocalLocker()
	h.product = NewProductService(h.products, h.cases, locker, nil)
	h.command = NewCaseCommandService(h.products, h.cases, h.ledger, h.events, nil,
		locker, memory.TransactionManager{}, h.metrics, nil, time.Second)
	h.query = NewCaseQueryService(h.products, h.cases)
	return h
}

func productCommand() CreateProductCommand {
	return CreateProductCommand{
		ProductID:               "p1",
		Name:                    "Personal loan",
		Currency:                "USD",
		MinorCurrencyUnitDigits: 4,
		Accounts: map[domain.AccountRole]string{
			domain.RoleLoanFundsSource:       "funds-source",
			domain.RoleProcessingFeeIncome:   "processing-fee-income",
			domain.RoleOriginationFeeIncome:  "origination-fee-income",
			domain.RoleDisbursementFeeIncome: "disbursement-fee-income",
			domain.RoleLateFeeIncome:         "late-fee-income",
			domain.RoleArrearsAllowance:      "arrears-allowance",
		},
		Ledgers: map[domain.AccountRole]string{
			domain.RolePendingDisbursal: "ledger-pending",
			domain.RoleCustomerLoan:     "ledger-customer",
		},
	}
}

// seed 创建产品 p1（处理费 10，发起费 100，放款费 1）并启用，再建案 c1
func (h *harness) seed(t *testing.T, maximum string) *domain.Case {
	t.Helper()
	ctx := context.Background()
	_, err := h.product.CreateProduct(ctx, productCommand())
	require.NoError(t, err)
	for id, amount := range map[string]string{
		domain.ChargeProcessingFee:      "10",
		domain.ChargeLoanOriginationFee: "100",
		domain.ChargeDisbursementFee:    "1",
	} {
		_, err := h.product.SetFixedOverride(ctx, "p1", id, decimal.RequireFromString(amount))
		require.NoError(t, err)
	}
	_, err = h.product.EnableProduct(ctx, "p1", true)
	require.NoError(t, err)

	c, err := h.command.CreateCase(ctx, CreateCaseCommand{
		CaseID:    "c1",
		ProductID: "p1",
		Parameters: domain.CaseParameters{
			CustomerID:     "alice",
			MaximumBalance: decimal.RequireFromString(maximum),
			TermMonths:     12,
		},
	})
	require.NoError(t, err)
	return c
}

func teller() domain.CommandContext {
	return domain.CommandContext{AccountAssignments: map[domain.AccountRole]string{domain.RoleEntry: "teller"}}
}

func (h *harness) submit(t *testing.T, action domain.Action) *TransitionResult {
	t.Helper()
	res, err := h.command.SubmitAction(context.Background(), "c1", action, teller())
	require.NoError(t, err)
	return res
}
