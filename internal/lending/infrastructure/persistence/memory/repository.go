// Package memory 提供进程内仓储实现，用于开发环境与测试
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/wyfcoding/loanportfolio/internal/lending/domain"
)

// ProductRepository 内存产品仓储
type ProductRepository struct {
	mu       sync.RWMutex
	products map[string]*domain.Product
}

// NewProductRepository 创建内存产品仓储
func NewProductRepository() *ProductRepository {
	return &ProductRepository{products: make(map[string]*domain.Product)}
}

// Save 保存副本
func (r *ProductRepository) Save(_ context.Context, product *domain.Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.products[product.ID] = product.Clone()
	return nil
}

// Get 返回副本
func (r *ProductRepository) Get(_ context.Context, productID string) (*domain.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.products[productID]
	if !ok {
		return nil, fmt.Errorf("product %s: %w", productID, domain.ErrProductNotFound)
	}
	return p.Clone(), nil
}

// CaseRepository 内存案件仓储
type CaseRepository struct {
	mu      sync.RWMutex
	cases   map[string]*domain.Case
	records map[string][]*domain.CaseActionRecord
	pending map[string]*domain.PendingAttempt
}

// NewCaseRepository 创建内存案件仓储
func NewCaseRepository() *CaseRepository {
	return &CaseRepository{
		cases:   make(map[string]*domain.Case),
		records: make(map[string][]*domain.CaseActionRecord),
		pending: make(map[string]*domain.PendingAttempt),
	}
}

// Create 保存新案件，标识重复时报错
func (r *CaseRepository) Create(_ context.Context, c *domain.Case) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.cases[c.ID]; exists {
		return &domain.InvalidCommandError{Field: "case.id", Reason: c.ID + " already exists"}
	}
	r.cases[c.ID] = c.Clone()
	return nil
}

// Get 返回副本
func (r *CaseRepository) Get(_ context.Context, caseID string) (*domain.Case, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.cases[caseID]
	if !ok {
		return nil, fmt.Errorf("case %s: %w", caseID, domain.ErrCaseNotFound)
	}
	return c.Clone(), nil
}

// CountByProduct 统计引用产品的案件数
func (r *CaseRepository) CountByProduct(_ context.Context, productID string) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var n int64
	for _, c := range r.cases {
		if c.ProductID == productID {
			n++
		}
	}
	return n, nil
}

// SaveAccounts 保存案件级账户
func (r *CaseRepository) SaveAccounts(_ context.Context, c *domain.Case) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.cases[c.ID]
	if !ok {
		return fmt.Errorf("case %s: %w", c.ID, domain.ErrCaseNotFound)
	}
	for role, id := range c.Accounts {
		stored.AssignAccount(role, id)
	}
	return nil
}

// SaveTransition 乐观锁保存状态推进与动作记录
func (r *CaseRepository) SaveTransition(_ context.Context, c *domain.Case, rec *domain.CaseActionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.cases[c.ID]
	if !ok {
		return fmt.Errorf("case %s: %w", c.ID, domain.ErrCaseNotFound)
	}
	if stored.Sequence != rec.SequenceNumber-1 {
		return domain.ErrConcurrentModification
	}
	r.cases[c.ID] = c.Clone()
	cp := *rec
	r.records[c.ID] = append(r.records[c.ID], &cp)
	return nil
}

// GetActionRecord 按序号查询动作记录
func (r *CaseRepository) GetActionRecord(_ context.Context, caseID string, sequence int64) (*domain.CaseActionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rec := range r.records[caseID] {
		if rec.SequenceNumber == sequence {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, nil
}

// ListActionRecords 按序号升序列出动作记录
func (r *CaseRepository) ListActionRecords(_ context.Context, caseID string) ([]*domain.CaseActionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.cases[caseID]; !ok {
		return nil, fmt.Errorf("case %s: %w", caseID, domain.ErrCaseNotFound)
	}
	out := make([]*domain.CaseActionRecord, 0, len(r.records[caseID]))
	for _, rec := range r.records[caseID] {
		cp := *rec
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SequenceNumber < out[j].SequenceNumber })
	return out, nil
}

// SavePendingAttempt 保存提交尝试，同键覆盖
func (r *CaseRepository) SavePendingAttempt(_ context.Context, attempt *domain.PendingAttempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *attempt
	r.pending[attempt.IdempotencyKey] = &cp
	return nil
}

// GetPendingAttempt 按幂等键查询提交尝试
func (r *CaseRepository) GetPendingAttempt(_ context.Context, idempotencyKey string) (*domain.PendingAttempt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	attempt, ok := r.pending[idempotencyKey]
	if !ok {
		return nil, nil
	}
	cp := *attempt
	return &cp, nil
}

// DeletePendingAttempt 删除提交尝试
func (r *CaseRepository) DeletePendingAttempt(_ context.Context, idempotencyKey string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, idempotencyKey)
	return nil
}

// TransactionManager 内存实现没有事务，直接执行
type TransactionManager struct{}

// RunInTx 直接执行 fn
func (TransactionManager) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
