package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/loanportfolio/internal/lending/domain"
	"github.com/wyfcoding/loanportfolio/internal/lending/infrastructure/ledger"
	"github.com/wyfcoding/loanportfolio/internal/lending/infrastructure/lock"
	"github.com/wyfcoding/loanportfolio/internal/lending/infrastructure/messaging"
	"github.com/wyfcoding/loanportfolio/internal/lending/infrastructure/persistence/memory"
)

func TestSubmitAction_OpenPostsProcessingFee(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "5000")

	res := h.submit(t, domain.ActionOpen)
	assert.Equal(t, domain.StateCreated, res.PreviousState)
	assert.Equal(t, domain.StatePending, res.State)
	assert.Equal(t, int64(1), res.SequenceNumber)
	assert.Equal(t, "c1:OPEN:1", res.IdempotencyKey)
	require.NotNil(t, res.Transfer)
	assert.Equal(t, []domain.Debtor{{AccountNumber: "teller", Amount: "10.0000"}}, res.Transfer.Debtors)
	assert.Equal(t, []domain.Creditor{{AccountNumber: "processing-fee-income", Amount: "10.0000"}}, res.Transfer.Creditors)
	assert.Equal(t, []domain.Action{domain.ActionDeny, domain.ActionApprove}, res.NextActions)

	committed, ok := h.ledger.TransferFor("c1:OPEN:1")
	require.True(t, ok)
	assert.Equal(t, *res.Transfer, committed)

	// OPEN 不涉及案件级账户
	assert.Zero(t, h.ledger.CreateAccountCalls())

	events := h.events.Events()
	require.Len(t, events, 1)
	assert.Equal(t, domain.StatePending, events[0].ResultingState)
	assert.Equal(t, "c1:OPEN:1", events[0].DedupKey())
}

func TestSubmitAction_ApproveAllocatesFunds(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "5000")
	h.submit(t, domain.ActionOpen)

	res := h.submit(t, domain.ActionApprove)
	assert.Equal(t, domain.StateApproved, res.State)
	require.Len(t, res.CostComponents, 2)
	assert.Equal(t, domain.ComponentLoanFundsAllocation, res.CostComponents[0].ChargeID)
	assert.Equal(t, "5000", res.CostComponents[0].Amount.String())
	assert.Equal(t, domain.ChargeLoanOriginationFee, res.CostComponents[1].ChargeID)
	assert.Equal(t, "100", res.CostComponents[1].Amount.String())

	c, err := h.query.GetCase(context.Background(), "c1")
	require.NoError(t, err)
	pending, ok := c.Account(domain.RolePendingDisbursal)
	require.True(t, ok)
	_, ok = c.Account(domain.RoleCustomerLoan)
	assert.True(t, ok, "case accounts are created together")
	assert.Equal(t, 2, h.ledger.CreateAccountCalls())

	assert.Equal(t, []domain.Debtor{
		{AccountNumber: "funds-source", Amount: "5000.0000"},
		{AccountNumber: "teller", Amount: "100.0000"},
	}, res.Transfer.Debtors)
	assert.Equal(t, []domain.Creditor{
		{AccountNumber: pending, Amount: "5000.0000"},
		{AccountNumber: "origination-fee-income", Amount: "100.0000"},
	}, res.Transfer.Creditors)
	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.CaseAccountsCreated))
}

func TestSubmitAction_DisburseToCustomerLoan(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "5000")
	h.submit(t, domain.ActionOpen)
	h.submit(t, domain.ActionApprove)

	res := h.submit(t, domain.ActionDisburse)
	assert.Equal(t, domain.StateActive, res.State)
	assert.Equal(t, []domain.Action{
		domain.ActionDisburse,
		domain.ActionApplyInterest,
		domain.ActionMarkLate,
		domain.ActionAcceptPayment,
		domain.ActionWriteOff,
		domain.ActionClose,
	}, res.NextActions)

	c, err := h.query.GetCase(context.Background(), "c1")
	require.NoError(t, err)
	pending, _ := c.Account(domain.RolePendingDisbursal)
	customer, _ := c.Account(domain.RoleCustomerLoan)

	assert.Equal(t, "5000", h.ledger.Debited(pending).String())
	assert.Equal(t, "5000", h.ledger.Credited(customer).String())
	assert.Equal(t, "1", h.ledger.Credited("disbursement-fee-income").String())
	// 账户只在 APPROVE 时创建一次
	assert.Equal(t, 2, h.ledger.CreateAccountCalls())
}

func TestSubmitAction_IllegalTransitionMakesNoLedgerCall(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "5000")
	h.submit(t, domain.ActionOpen)
	calls := h.ledger.CommitCalls()

	_, err := h.command.SubmitAction(context.Background(), "c1", domain.ActionDisburse, teller())
	var illegal *domain.IllegalTransitionError
	require.ErrorAs(t, err, &illegal)
	assert.Equal(t, domain.StatePending, illegal.State)

	assert.Equal(t, calls, h.ledger.CommitCalls())
	c, err := h.query.GetCase(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatePending, c.State)
	assert.Equal(t, int64(1), c.Sequence)
	assert.Len(t, h.events.Events(), 1)
}

func TestSubmitAction_ZeroLegActionSkipsLedger(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "5000")
	h.submit(t, domain.ActionOpen)
	calls := h.ledger.CommitCalls()

	res := h.submit(t, domain.ActionDeny)
	assert.Equal(t, domain.StateDenied, res.State)
	assert.Nil(t, res.Transfer)
	assert.Empty(t, res.NextActions)
	assert.Equal(t, calls, h.ledger.CommitCalls())
	assert.Len(t, h.events.Events(), 2)
}

func TestSubmitAction_MissingEntryAccount(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "5000")

	_, err := h.command.SubmitAction(context.Background(), "c1", domain.ActionOpen, domain.CommandContext{})
	var missing *domain.MissingAccountAssignmentError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, domain.RoleEntry, missing.Role)
	assert.Zero(t, h.ledger.CommitCalls())
}

func TestSubmitAction_LedgerFailureKeepsStateAndKey(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "5000")
	h.ledger.FailNext(errors.New("i/o timeout"))

	_, err := h.command.SubmitAction(context.Background(), "c1", domain.ActionOpen, teller())
	var commitErr *domain.LedgerCommitError
	require.ErrorAs(t, err, &commitErr)
	assert.Equal(t, "c1:OPEN:1", commitErr.IdempotencyKey)
	assert.True(t, domain.IsRetryable(err))

	c, err := h.query.GetCase(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateCreated, c.State)
	assert.Zero(t, c.Sequence)
	assert.Empty(t, h.events.Events())

	res := h.submit(t, domain.ActionOpen)
	assert.Equal(t, "c1:OPEN:1", res.IdempotencyKey)
	assert.Len(t, h.ledger.Transfers(), 1)
}

func TestSubmitAction_LedgerRejectIsReported(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "5000")
	h.ledger.FailNext(&domain.LedgerRejectError{Code: "ACCOUNT_FROZEN", Message: "teller frozen"})

	_, err := h.command.SubmitAction(context.Background(), "c1", domain.ActionOpen, teller())
	var reject *domain.LedgerRejectError
	require.ErrorAs(t, err, &reject)
	assert.Equal(t, "ACCOUNT_FROZEN", reject.Code)
	assert.Empty(t, h.ledger.Transfers())
}

func TestSubmitAction_DuplicateCommandCountsAsSuccess(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "5000")

	// 上一次提交已过账但状态未落库
	preview, err := h.query.CostComponentsFor(context.Background(), "c1", domain.ActionOpen, teller())
	require.NoError(t, err)
	require.Len(t, preview.CostComponents, 1)
	require.NoError(t, h.ledger.Commit(context.Background(), domain.Transfer{
		Debtors:   []domain.Debtor{{AccountNumber: "teller", Amount: "10.0000"}},
		Creditors: []domain.Creditor{{AccountNumber: "processing-fee-income", Amount: "10.0000"}},
	}, "c1:OPEN:1"))

	res := h.submit(t, domain.ActionOpen)
	assert.Equal(t, domain.StatePending, res.State)
	assert.Len(t, h.ledger.Transfers(), 1)
	assert.Equal(t, "10", h.ledger.Debited("teller").String())
}

type flakyCaseRepo struct {
	*memory.CaseRepository
	failSaves int
}

func (r *flakyCaseRepo) SaveTransition(ctx context.Context, c *domain.Case, rec *domain.CaseActionRecord) error {
	if r.failSaves > 0 {
		r.failSaves--
		return errors.New("connection lost")
	}
	return r.CaseRepository.SaveTransition(ctx, c, rec)
}

func TestSubmitAction_RetryAfterSaveFailureDoesNotDoublePost(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "5000")
	repo := &flakyCaseRepo{CaseRepository: h.cases, failSaves: 1}
	svc := NewCaseCommandService(h.products, repo, h.ledger, h.events, nil,
		lock.NewLocalLocker(), memory.TransactionManager{}, h.metrics, nil, 0)

	_, err := svc.SubmitAction(context.Background(), "c1", domain.ActionOpen, teller())
	require.Error(t, err)
	assert.Len(t, h.ledger.Transfers(), 1)

	res, err := svc.SubmitAction(context.Background(), "c1", domain.ActionOpen, teller())
	require.NoError(t, err)
	assert.Equal(t, domain.StatePending, res.State)
	assert.Len(t, h.ledger.Transfers(), 1)
	assert.Equal(t, "10", h.ledger.Debited("teller").String())
}

func TestSubmitAction_ReplayReturnsRecordedResult(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "5000")
	first := h.submit(t, domain.ActionOpen)
	calls := h.ledger.CommitCalls()

	cmd := teller()
	cmd.SequenceNumber = 1
	res, err := h.command.SubmitAction(context.Background(), "c1", domain.ActionOpen, cmd)
	require.NoError(t, err)
	assert.True(t, res.Replayed)
	assert.Equal(t, first.IdempotencyKey, res.IdempotencyKey)
	assert.Equal(t, domain.StatePending, res.State)
	assert.Equal(t, calls, h.ledger.CommitCalls())
	assert.Len(t, h.events.Events(), 1)

	// 序号对应的动作不一致
	_, err = h.command.SubmitAction(context.Background(), "c1", domain.ActionApprove, cmd)
	var invalid *domain.InvalidCommandError
	require.ErrorAs(t, err, &invalid)

	// 跳号
	cmd.SequenceNumber = 5
	_, err = h.command.SubmitAction(context.Background(), "c1", domain.ActionApprove, cmd)
	require.ErrorAs(t, err, &invalid)

	// 期望的下一个序号正常提交
	cmd.SequenceNumber = 2
	res, err = h.command.SubmitAction(context.Background(), "c1", domain.ActionApprove, cmd)
	require.NoError(t, err)
	assert.False(t, res.Replayed)
	assert.Equal(t, int64(2), res.SequenceNumber)
}

func TestSubmitAction_ConcurrentSubmissionsApplyOnce(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "5000")

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.command.SubmitAction(context.Background(), "c1", domain.ActionOpen, teller())
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		var illegal *domain.IllegalTransitionError
		assert.ErrorAs(t, err, &illegal)
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, h.ledger.CommitCalls())
	assert.Len(t, h.events.Events(), 1)
}

func TestSubmitAction_PublishFailureDoesNotFailCommand(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "5000")
	h.events.FailWith(errors.New("bus down"))

	res := h.submit(t, domain.ActionOpen)
	assert.Equal(t, domain.StatePending, res.State)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.EventPublishFailures))
}

func TestSubmitAction_OutboxWritesInsideTransaction(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "5000")
	outbox := messaging.NewRecorder()
	svc := NewCaseCommandService(h.products, h.cases, h.ledger, messaging.NoopNotifier{}, outbox,
		lock.NewLocalLocker(), memory.TransactionManager{}, h.metrics, nil, 0)

	_, err := svc.SubmitAction(context.Background(), "c1", domain.ActionOpen, teller())
	require.NoError(t, err)
	require.Len(t, outbox.Events(), 1)
	assert.Equal(t, "c1:OPEN:1", outbox.Events()[0].DedupKey())
	assert.Empty(t, h.events.Events())
}

func TestSubmitAction_CommandAmountOverridesMaximum(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "5000")
	h.submit(t, domain.ActionOpen)
	h.submit(t, domain.ActionApprove)
	h.submit(t, domain.ActionDisburse)

	cmd := teller()
	amount := decimal.RequireFromString("250.5")
	cmd.Amount = &amount
	res, err := h.command.SubmitAction(context.Background(), "c1", domain.ActionAcceptPayment, cmd)
	require.NoError(t, err)
	require.Len(t, res.CostComponents, 1)
	assert.Equal(t, domain.ComponentRepayment, res.CostComponents[0].ChargeID)
	assert.Equal(t, []domain.Debtor{{AccountNumber: "teller", Amount: "250.5000"}}, res.Transfer.Debtors)
}

func TestSubmitAction_UnknownCase(t *testing.T) {
	h := newHarness(t)
	_, err := h.command.SubmitAction(context.Background(), "missing", domain.ActionOpen, teller())
	assert.ErrorIs(t, err, domain.ErrCaseNotFound)
}

// lostReplyLedger 过账成功后向调用方返回超时
type lostReplyLedger struct {
	*ledger.MemoryLedger
	lost int
}

func (l *lostReplyLedger) Commit(ctx context.Context, transfer domain.Transfer, key string) error {
	if err := l.MemoryLedger.Commit(ctx, transfer, key); err != nil {
		return err
	}
	if l.lost > 0 {
		l.lost--
		return context.DeadlineExceeded
	}
	return nil
}

func payment(amount string) domain.CommandContext {
	cmd := teller()
	v := decimal.RequireFromString(amount)
	cmd.Amount = &v
	return cmd
}

func repaymentOf(t *testing.T, components []domain.CostComponent) string {
	t.Helper()
	for _, cc := range components {
		if cc.ChargeID == domain.ComponentRepayment {
			return cc.Amount.String()
		}
	}
	t.Fatalf("no %s component in %v", domain.ComponentRepayment, components)
	return ""
}

func TestSubmitAction_RetryAfterLostReplyMustMatchPostedTransfer(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "5000")
	lg := &lostReplyLedger{MemoryLedger: h.ledger}
	svc := NewCaseCommandService(h.products, h.cases, lg, h.events, nil,
		lock.NewLocalLocker(), memory.TransactionManager{}, h.metrics, nil, time.Second)
	ctx := context.Background()
	for _, a := range []domain.Action{domain.ActionOpen, domain.ActionApprove, domain.ActionDisburse} {
		_, err := svc.SubmitAction(ctx, "c1", a, teller())
		require.NoError(t, err)
	}
	before, err := h.query.GetCase(ctx, "c1")
	require.NoError(t, err)

	lg.lost = 1
	_, err = svc.SubmitAction(ctx, "c1", domain.ActionAcceptPayment, payment("100"))
	require.ErrorIs(t, err, context.DeadlineExceeded)
	posted, ok := h.ledger.TransferFor("c1:ACCEPT_PAYMENT:4")
	require.True(t, ok)
	assert.Equal(t, "100.0000", posted.Debtors[0].Amount)

	_, err = svc.SubmitAction(ctx, "c1", domain.ActionAcceptPayment, payment("50"))
	var invalid *domain.InvalidCommandError
	require.ErrorAs(t, err, &invalid)
	assert.False(t, domain.IsRetryable(err))
	c, err := h.query.GetCase(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, before.State, c.State)
	assert.Equal(t, before.Sequence, c.Sequence)

	res, err := svc.SubmitAction(ctx, "c1", domain.ActionAcceptPayment, payment("100"))
	require.NoError(t, err)
	assert.Equal(t, "c1:ACCEPT_PAYMENT:4", res.IdempotencyKey)
	assert.Equal(t, "100", repaymentOf(t, res.CostComponents))
	assert.Equal(t, "100.0000", res.Transfer.Debtors[0].Amount)

	records, err := h.cases.ListActionRecords(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, records, 4)
	assert.Equal(t, "100", repaymentOf(t, records[3].CostComponents))
	assert.Len(t, h.ledger.Transfers(), 4)

	pending, err := h.cases.GetPendingAttempt(ctx, "c1:ACCEPT_PAYMENT:4")
	require.NoError(t, err)
	assert.Nil(t, pending)
}

func TestSubmitAction_LedgerRejectReleasesAttempt(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "5000")
	h.submit(t, domain.ActionOpen)
	h.submit(t, domain.ActionApprove)
	h.submit(t, domain.ActionDisburse)
	h.ledger.FailNext(&domain.LedgerRejectError{Code: "INSUFFICIENT_FUNDS", Message: "teller balance too low"})

	ctx := context.Background()
	_, err := h.command.SubmitAction(ctx, "c1", domain.ActionAcceptPayment, payment("100"))
	var reject *domain.LedgerRejectError
	require.ErrorAs(t, err, &reject)

	res, err := h.command.SubmitAction(ctx, "c1", domain.ActionAcceptPayment, payment("50"))
	require.NoError(t, err)
	assert.Equal(t, "50", repaymentOf(t, res.CostComponents))
	posted, ok := h.ledger.TransferFor("c1:ACCEPT_PAYMENT:4")
	require.True(t, ok)
	assert.Equal(t, "50.0000", posted.Debtors[0].Amount)
}
