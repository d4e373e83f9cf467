package application

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/loanportfolio/internal/lending/domain"
)

func TestCaseQueryService_PreviewDoesNotCommit(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "5000")
	ctx := context.Background()

	preview, err := h.query.CostComponentsFor(ctx, "c1", domain.ActionOpen, teller())
	require.NoError(t, err)
	assert.Equal(t, int32(4), preview.MinorCurrencyUnitDigits)
	require.Len(t, preview.CostComponents, 1)
	assert.Equal(t, domain.ChargeProcessingFee, preview.CostComponents[0].ChargeID)
	assert.Equal(t, "10", preview.CostComponents[0].Amount.String())

	assert.Zero(t, h.ledger.CommitCalls())
	c, err := h.query.GetCase(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateCreated, c.State)

	_, err = h.query.CostComponentsFor(ctx, "c1", domain.ActionDisburse, teller())
	var illegal *domain.IllegalTransitionError
	assert.ErrorAs(t, err, &illegal)
}

func TestCaseQueryService_ActionsAndHistory(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "5000")
	ctx := context.Background()

	actions, err := h.query.NextLegalActions(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, []domain.Action{domain.ActionOpen}, actions)

	h.submit(t, domain.ActionOpen)
	h.submit(t, domain.ActionApprove)

	records, err := h.query.ListActions(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, domain.ActionOpen, records[0].Action)
	assert.Equal(t, "c1:APPROVE:2", records[1].IdempotencyKey)
	assert.Equal(t, domain.StateApproved, records[1].ResultingState)

	_, err = h.query.NextLegalActions(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrCaseNotFound)
}
