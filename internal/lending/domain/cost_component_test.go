package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func componentMap(cs []CostComponent) map[string]string {
	out := make(map[string]string, len(cs))
	for _, c := range cs {
		out[c.ChargeID] = c.Amount.StringFixed(4)
	}
	return out
}

func TestComputeCostComponents_Lifecycle(t *testing.T) {
	p := newTestProduct(t)
	c := newTestCase(t, p, "5000")

	open, err := ComputeCostComponents(p, c, ActionOpen, tellerCommand())
	require.NoError(t, err)
	assert.Equal(t, map[string]string{ChargeProcessingFee: "10.0000"}, componentMap(open))

	approve, err := ComputeCostComponents(p, c, ActionApprove, tellerCommand())
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		ChargeLoanOriginationFee:     "100.0000",
		ComponentLoanFundsAllocation: "5000.0000",
	}, componentMap(approve))
	assert.Equal(t, ComponentLoanFundsAllocation, approve[0].ChargeID)

	disburse, err := ComputeCostComponents(p, c, ActionDisburse, tellerCommand())
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		ChargeDisbursementFee:    "1.0000",
		ComponentDisbursePayment: "5000.0000",
	}, componentMap(disburse))
}

func TestComputeCostComponents_Proportional(t *testing.T) {
	p, err := NewProduct("p2", "Default", "EUR", 2, testProductAccounts, testProductLedgers, nil)
	require.NoError(t, err)
	p.Enabled = true
	c := newTestCase(t, p, "1234")

	open, err := ComputeCostComponents(p, c, ActionOpen, tellerCommand())
	require.NoError(t, err)
	assert.Equal(t, map[string]string{ChargeProcessingFee: "12.3400"}, componentMap(open))

	late, err := ComputeCostComponents(p, c, ActionMarkLate, tellerCommand())
	require.NoError(t, err)
	assert.Equal(t, map[string]string{ChargeLateFee: "12.3400"}, componentMap(late))
}

func TestComputeCostComponents_InexactFails(t *testing.T) {
	p, err := NewProduct("p2", "Default", "EUR", 2, testProductAccounts, testProductLedgers, nil)
	require.NoError(t, err)
	p.Enabled = true
	// 0.1% * 1234.5 = 1.2345，两位小数无法精确表示
	c := newTestCase(t, p, "1234.5")

	_, err = ComputeCostComponents(p, c, ActionDisburse, tellerCommand())
	var inexact *InexactScaleError
	require.ErrorAs(t, err, &inexact)
	assert.Equal(t, int32(2), inexact.Scale)
}

func TestComputeCostComponents_CommandAmount(t *testing.T) {
	p := newTestProduct(t)
	c := newTestCase(t, p, "5000")

	_, err := ComputeCostComponents(p, c, ActionAcceptPayment, tellerCommand())
	var invalid *InvalidCommandError
	require.ErrorAs(t, err, &invalid)

	cmd := tellerCommand()
	cmd.Amount = decPtr("250.5")
	payment, err := ComputeCostComponents(p, c, ActionAcceptPayment, cmd)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{ComponentRepayment: "250.5000"}, componentMap(payment))

	cmd.Amount = decPtr("2000")
	partial, err := ComputeCostComponents(p, c, ActionDisburse, cmd)
	require.NoError(t, err)
	assert.Equal(t, "2000.0000", componentMap(partial)[ComponentDisbursePayment])

	cmd.Amount = decPtr("0")
	_, err = ComputeCostComponents(p, c, ActionDisburse, cmd)
	require.ErrorAs(t, err, &invalid)
}

func TestComputeCostComponents_NoCharges(t *testing.T) {
	p := newTestProduct(t)
	c := newTestCase(t, p, "5000")

	for _, a := range []Action{ActionDeny, ActionClose, ActionApplyInterest} {
		cs, err := ComputeCostComponents(p, c, a, CommandContext{})
		require.NoError(t, err)
		assert.Empty(t, cs, a)
	}
}
