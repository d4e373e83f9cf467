package domain

import "context"

// ProductRepository 产品仓储接口
type ProductRepository interface {
	// Save 保存或更新产品（含费用与账户分配）
	Save(ctx context.Context, product *Product) error
	// Get 获取产品，不存在返回 ErrProductNotFound
	Get(ctx context.Context, productID string) (*Product, error)
}

// CaseRepository 案件仓储接口
type CaseRepository interface {
	// Create 保存新案件
	Create(ctx context.Context, c *Case) error
	// Get 获取案件，不存在返回 ErrCaseNotFound
	Get(ctx context.Context, caseID string) (*Case, error)
	// CountByProduct 统计引用某产品的案件数
	CountByProduct(ctx context.Context, productID string) (int64, error)
	// SaveAccounts 保存案件级账户
	SaveAccounts(ctx context.Context, c *Case) error
	// SaveTransition 原子保存状态推进与动作记录；
	// 存储中的序号不等于 rec.SequenceNumber-1 时返回 ErrConcurrentModification
	SaveTransition(ctx context.Context, c *Case, rec *CaseActionRecord) error
	// GetActionRecord 按序号查询动作记录，不存在返回 nil, nil
	GetActionRecord(ctx context.Context, caseID string, sequence int64) (*CaseActionRecord, error)
	// ListActionRecords 按序号升序列出动作记录
	ListActionRecords(ctx context.Context, caseID string) ([]*CaseActionRecord, error)
	// SavePendingAttempt 在调用账本前保存提交尝试
	SavePendingAttempt(ctx context.Context, attempt *PendingAttempt) error
	// GetPendingAttempt 按幂等键查询提交尝试，不存在返回 nil, nil
	GetPendingAttempt(ctx context.Context, idempotencyKey string) (*PendingAttempt, error)
	// DeletePendingAttempt 删除提交尝试，不存在时不报错
	DeletePendingAttempt(ctx context.Context, idempotencyKey string) error
}

// LedgerClient 外部账本的提交契约
type LedgerClient interface {
	// CreateAccount 在账本中创建账户；同一 (owner, ledger, type) 幂等
	CreateAccount(ctx context.Context, ledgerID string, accountType AccountType, owner string) (string, error)
	// Commit 原子提交记账指令。重复的幂等键返回 ErrDuplicateCommand；
	// 被拒绝返回 *LedgerRejectError 且不产生任何过账。
	Commit(ctx context.Context, transfer Transfer, idempotencyKey string) error
}

// EventNotifier 状态变更事件发布
type EventNotifier interface {
	Publish(ctx context.Context, event CaseEvent) error
}

// TransactionManager 本地事务边界，事务句柄经 context 传递给仓储
type TransactionManager interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// CaseLocker 按键互斥：同一案件同一时刻只处理一个动作，
// 同一产品的配置修改与建案也经由它串行
type CaseLocker interface {
	// Lock 获取锁，返回的函数用于释放
	Lock(ctx context.Context, key string) (func(), error)
}
