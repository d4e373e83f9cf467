// Package mysql 贷款产品与案件的 MySQL 仓储
package mysql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wyfcoding/loanportfolio/internal/lending/domain"
	"github.com/wyfcoding/loanportfolio/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AutoMigrate 创建或更新表结构，extra 为其他组件的模型（例如 outbox）
func AutoMigrate(gdb *gorm.DB, extra ...any) error {
	models := []any{&ProductPO{}, &ProductChargePO{}, &CasePO{}, &CaseAccountPO{}, &CaseActionPO{}, &PendingAttemptPO{}}
	return gdb.AutoMigrate(append(models, extra...)...)
}

// productRepository 产品仓储实现
type productRepository struct {
	db *gorm.DB
}

// NewProductRepository 创建产品仓储
func NewProductRepository(gdb *gorm.DB) domain.ProductRepository {
	return &productRepository{db: gdb}
}

// Save 产品与费用整体覆盖写入
func (r *productRepository) Save(ctx context.Context, product *domain.Product) error {
	var po ProductPO
	if err := po.FromDomain(product); err != nil {
		return fmt.Errorf("encode product %s: %w", product.ID, err)
	}
	charges := toChargePOs(product)

	return db.Conn(ctx, r.db).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "product_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "currency", "minor_currency_unit_digits", "enabled", "accounts", "ledgers", "updated_at"}),
		}).Create(&po).Error
		if err != nil {
			return err
		}
		if err := tx.Unscoped().Where("product_id = ?", product.ID).Delete(&ProductChargePO{}).Error; err != nil {
			return err
		}
		if len(charges) == 0 {
			return nil
		}
		return tx.Create(&charges).Error
	})
}

// Get 获取产品
func (r *productRepository) Get(ctx context.Context, productID string) (*domain.Product, error) {
	conn := db.Conn(ctx, r.db)
	var po ProductPO
	if err := conn.Where("product_id = ?", productID).First(&po).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("product %s: %w", productID, domain.ErrProductNotFound)
		}
		return nil, err
	}
	var charges []ProductChargePO
	if err := conn.Where("product_id = ?", productID).Find(&charges).Error; err != nil {
		return nil, err
	}
	return po.ToDomain(charges)
}

// caseRepository 案件仓储实现
type caseRepository struct {
	db *gorm.DB
}

// NewCaseRepository 创建案件仓储
func NewCaseRepository(gdb *gorm.DB) domain.CaseRepository {
	return &caseRepository{db: gdb}
}

// Create 保存新案件；案件 ID 重复时返回 InvalidCommandError
func (r *caseRepository) Create(ctx context.Context, c *domain.Case) error {
	var po CasePO
	po.FromDomain(c)
	return db.Conn(ctx, r.db).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&po).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return &domain.InvalidCommandError{Field: "case.id", Reason: "case " + c.ID + " already exists"}
			}
			return err
		}
		return upsertAccounts(tx, c)
	})
}

// Get 获取案件及其案件级账户
func (r *caseRepository) Get(ctx context.Context, caseID string) (*domain.Case, error) {
	conn := db.Conn(ctx, r.db)
	var po CasePO
	if err := conn.Where("case_id = ?", caseID).First(&po).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("case %s: %w", caseID, domain.ErrCaseNotFound)
		}
		return nil, err
	}
	var accounts []CaseAccountPO
	if err := conn.Where("case_id = ?", caseID).Find(&accounts).Error; err != nil {
		return nil, err
	}
	return po.ToDomain(accounts), nil
}

// CountByProduct 统计引用产品的案件数
func (r *caseRepository) CountByProduct(ctx context.Context, productID string) (int64, error) {
	var n int64
	err := db.Conn(ctx, r.db).Model(&CasePO{}).Where("product_id = ?", productID).Count(&n).Error
	return n, err
}

// SaveAccounts 保存案件级账户
func (r *caseRepository) SaveAccounts(ctx context.Context, c *domain.Case) error {
	return upsertAccounts(db.Conn(ctx, r.db), c)
}

// SaveTransition 乐观锁推进状态并写入动作记录
func (r *caseRepository) SaveTransition(ctx context.Context, c *domain.Case, rec *domain.CaseActionRecord) error {
	var action CaseActionPO
	if err := action.FromDomain(rec); err != nil {
		return fmt.Errorf("encode action record %s: %w", rec.IdempotencyKey, err)
	}

	return db.Conn(ctx, r.db).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&CasePO{}).
			Where("case_id = ? AND sequence = ?", c.ID, rec.SequenceNumber-1).
			Updates(map[string]any{
				"state":      string(c.State),
				"sequence":   rec.SequenceNumber,
				"updated_at": time.Now(),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("case %s sequence %d: %w", c.ID, rec.SequenceNumber, domain.ErrConcurrentModification)
		}
		if err := tx.Create(&action).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return fmt.Errorf("action %s: %w", rec.IdempotencyKey, domain.ErrConcurrentModification)
			}
			return err
		}
		return nil
	})
}

// GetActionRecord 按序号查询动作记录
func (r *caseRepository) GetActionRecord(ctx context.Context, caseID string, sequence int64) (*domain.CaseActionRecord, error) {
	var po CaseActionPO
	err := db.Conn(ctx, r.db).Where("case_id = ? AND sequence_number = ?", caseID, sequence).First(&po).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return po.ToDomain()
}

// ListActionRecords 按序号升序列出动作记录
func (r *caseRepository) ListActionRecords(ctx context.Context, caseID string) ([]*domain.CaseActionRecord, error) {
	var pos []CaseActionPO
	if err := db.Conn(ctx, r.db).Where("case_id = ?", caseID).Order("sequence_number ASC").Find(&pos).Error; err != nil {
		return nil, err
	}
	out := make([]*domain.CaseActionRecord, 0, len(pos))
	for i := range pos {
		rec, err := pos[i].ToDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// SavePendingAttempt 按幂等键覆盖写入提交尝试
func (r *caseRepository) SavePendingAttempt(ctx context.Context, attempt *domain.PendingAttempt) error {
	var po PendingAttemptPO
	if err := po.FromDomain(attempt); err != nil {
		return fmt.Errorf("encode pending attempt %s: %w", attempt.IdempotencyKey, err)
	}
	return db.Conn(ctx, r.db).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "idempotency_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"cost_components", "transfer_digest", "updated_at"}),
	}).Create(&po).Error
}

// GetPendingAttempt 按幂等键查询提交尝试
func (r *caseRepository) GetPendingAttempt(ctx context.Context, idempotencyKey string) (*domain.PendingAttempt, error) {
	var po PendingAttemptPO
	err := db.Conn(ctx, r.db).Where("idempotency_key = ?", idempotencyKey).First(&po).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return po.ToDomain()
}

// DeletePendingAttempt 物理删除提交尝试
func (r *caseRepository) DeletePendingAttempt(ctx context.Context, idempotencyKey string) error {
	return db.Conn(ctx, r.db).Unscoped().Where("idempotency_key = ?", idempotencyKey).Delete(&PendingAttemptPO{}).Error
}

func upsertAccounts(tx *gorm.DB, c *domain.Case) error {
	if len(c.Accounts) == 0 {
		return nil
	}
	rows := make([]CaseAccountPO, 0, len(c.Accounts))
	for role, account := range c.Accounts {
		rows = append(rows, CaseAccountPO{CaseID: c.ID, Role: string(role), AccountID: account})
	}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "case_id"}, {Name: "role"}},
		DoUpdates: clause.AssignmentColumns([]string{"account_id", "updated_at"}),
	}).Create(&rows).Error
}
