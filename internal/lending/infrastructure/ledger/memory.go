// Package ledger 账本客户端实现：进程内参考账本与 HTTP 客户端
package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/loanportfolio/internal/lending/domain"
)

// Account 账本中的账户
type Account struct {
	ID       string
	LedgerID string
	Type     domain.AccountType
	Owner    string
}

// CommittedTransfer 已过账的转账
type CommittedTransfer struct {
	IdempotencyKey string
	Transfer       domain.Transfer
}

// MemoryLedger 进程内账本：提交原子、按幂等键去重，并提供检查与故障注入
type MemoryLedger struct {
	mu sync.Mutex

	accounts   map[string]Account
	accountIdx map[string]string
	seq        int

	committed map[string]struct{}
	transfers []CommittedTransfer
	debits    map[string]decimal.Decimal
	credits   map[string]decimal.Decimal

	failures    []error
	commitCalls int
	createCalls int
}

// NewMemoryLedger 创建进程内账本
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		accounts:   make(map[string]Account),
		accountIdx: make(map[string]string),
		committed:  make(map[string]struct{}),
		debits:     make(map[string]decimal.Decimal),
		credits:    make(map[string]decimal.Decimal),
	}
}

// CreateAccount 同一 (owner, ledger, type) 返回同一账户
func (l *MemoryLedger) CreateAccount(_ context.Context, ledgerID string, accountType domain.AccountType, owner string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.createCalls++

	key := owner + "|" + ledgerID + "|" + string(accountType)
	if id, ok := l.accountIdx[key]; ok {
		return id, nil
	}
	l.seq++
	id := fmt.Sprintf("%s.%s.%04d", ledgerID, owner, l.seq)
	l.accounts[id] = Account{ID: id, LedgerID: ledgerID, Type: accountType, Owner: owner}
	l.accountIdx[key] = id
	return id, nil
}

// Commit 全部分录一起过账或全部不过账
func (l *MemoryLedger) Commit(_ context.Context, transfer domain.Transfer, idempotencyKey string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.commitCalls++

	if len(l.failures) > 0 {
		err := l.failures[0]
		l.failures = l.failures[1:]
		return err
	}
	if _, dup := l.committed[idempotencyKey]; dup {
		return domain.ErrDuplicateCommand
	}
	if err := transfer.Validate(); err != nil {
		return &domain.LedgerRejectError{Code: "INVALID_TRANSFER", Message: err.Error()}
	}

	for _, d := range transfer.Debtors {
		l.debits[d.AccountNumber] = l.debits[d.AccountNumber].Add(decimal.RequireFromString(d.Amount))
	}
	for _, c := range transfer.Creditors {
		l.credits[c.AccountNumber] = l.credits[c.AccountNumber].Add(decimal.RequireFromString(c.Amount))
	}
	l.committed[idempotencyKey] = struct{}{}
	l.transfers = append(l.transfers, CommittedTransfer{IdempotencyKey: idempotencyKey, Transfer: copyTransfer(transfer)})
	return nil
}

// FailNext 后续的提交依次返回这些错误且不过账
func (l *MemoryLedger) FailNext(errs ...error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures = append(l.failures, errs...)
}

// Transfers 已过账转账，按提交顺序
func (l *MemoryLedger) Transfers() []CommittedTransfer {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]CommittedTransfer, len(l.transfers))
	copy(out, l.transfers)
	return out
}

// TransferFor 按幂等键查找转账
func (l *MemoryLedger) TransferFor(idempotencyKey string) (domain.Transfer, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, t := range l.transfers {
		if t.IdempotencyKey == idempotencyKey {
			return copyTransfer(t.Transfer), true
		}
	}
	return domain.Transfer{}, false
}

// Debited 账户借方发生额
func (l *MemoryLedger) Debited(account string) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.debits[account]
}

// Credited 账户贷方发生额
func (l *MemoryLedger) Credited(account string) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.credits[account]
}

// Account 查询账户
func (l *MemoryLedger) Account(id string) (Account, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	a, ok := l.accounts[id]
	return a, ok
}

// CommitCalls Commit 调用次数（含失败）
func (l *MemoryLedger) CommitCalls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.commitCalls
}

// CreateAccountCalls CreateAccount 调用次数
func (l *MemoryLedger) CreateAccountCalls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.createCalls
}

func copyTransfer(t domain.Transfer) domain.Transfer {
	return domain.Transfer{
		Debtors:   append([]domain.Debtor(nil), t.Debtors...),
		Creditors: append([]domain.Creditor(nil), t.Creditors...),
	}
}
