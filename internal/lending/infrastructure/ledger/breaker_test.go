package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/loanportfolio/internal/lending/domain"
)

var _ domain.LedgerClient = (*BreakerClient)(nil)

func TestBreakerClient_OpensAfterConsecutiveFailures(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryLedger()
	b := NewBreakerClient(mem, BreakerConfig{ConsecutiveFailures: 2, OpenTimeout: time.Hour})

	boom := errors.New("connection reset")
	mem.FailNext(boom, boom)
	assert.ErrorIs(t, b.Commit(ctx, sampleTransfer(), "k"), boom)
	assert.ErrorIs(t, b.Commit(ctx, sampleTransfer(), "k"), boom)
	assert.Equal(t, gobreaker.StateOpen, b.State())

	// 打开状态下不再调用账本
	err := b.Commit(ctx, sampleTransfer(), "k")
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 2, mem.CommitCalls())
	assert.Empty(t, mem.Transfers())
}

func TestBreakerClient_RejectsDoNotTrip(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryLedger()
	b := NewBreakerClient(mem, BreakerConfig{ConsecutiveFailures: 1, OpenTimeout: time.Hour})

	mem.FailNext(&domain.LedgerRejectError{Code: "INSUFFICIENT_FUNDS"}, domain.ErrDuplicateCommand)
	var reject *domain.LedgerRejectError
	assert.ErrorAs(t, b.Commit(ctx, sampleTransfer(), "k"), &reject)
	assert.ErrorIs(t, b.Commit(ctx, sampleTransfer(), "k"), domain.ErrDuplicateCommand)
	assert.Equal(t, gobreaker.StateClosed, b.State())

	require.NoError(t, b.Commit(ctx, sampleTransfer(), "k"))
	id, err := b.CreateAccount(ctx, "ledger-pending", domain.AccountTypeLiability, "c1")
	require.NoError(t, err)
	assert.NotEmpty(t, id)
}
