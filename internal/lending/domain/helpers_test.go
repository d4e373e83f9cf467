package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var testProductAccounts = map[AccountRole]string{
	RoleLoanFundsSource:       "funds-source",
	RoleProcessingFeeIncome:   "processing-fee-income",
	RoleOriginationFeeIncome:  "origination-fee-income",
	RoleDisbursementFeeIncome: "disbursement-fee-income",
	RoleLateFeeIncome:         "late-fee-income",
	RoleArrearsAllowance:      "arrears-allowance",
}

var testProductLedgers = map[AccountRole]string{
	RolePendingDisbursal: "ledger-pending",
	RoleCustomerLoan:     "ledger-customer",
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

// newTestProduct 构造带固定覆盖的已启用产品：处理费 10，发起费 100，放款费 1
func newTestProduct(t *testing.T) *Product {
	t.Helper()
	p, err := NewProduct("p1", "Personal loan", "usd", 4, testProductAccounts, testProductLedgers, nil)
	require.NoError(t, err)
	require.NoError(t, p.Charges.SetFixedOverride(ChargeProcessingFee, dec("10"), 4))
	require.NoError(t, p.Charges.SetFixedOverride(ChargeLoanOriginationFee, dec("100"), 4))
	require.NoError(t, p.Charges.SetFixedOverride(ChargeDisbursementFee, dec("1"), 4))
	p.Enabled = true
	return p
}

func newTestCase(t *testing.T, p *Product, maximum string) *Case {
	t.Helper()
	c, err := NewCase("c1", p, CaseParameters{CustomerID: "alice", MaximumBalance: dec(maximum), TermMonths: 12})
	require.NoError(t, err)
	return c
}

func tellerCommand() CommandContext {
	return CommandContext{AccountAssignments: map[AccountRole]string{RoleEntry: "teller"}}
}
