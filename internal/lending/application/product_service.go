package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/loanportfolio/internal/lending/domain"
	"github.com/wyfcoding/loanportfolio/pkg/logger"
)

// CreateProductCommand 建产品命令
type CreateProductCommand struct {
	ProductID               string
	Name                    string
	Currency                string
	MinorCurrencyUnitDigits int32
	Accounts                map[domain.AccountRole]string
	Ledgers                 map[domain.AccountRole]string
	// 为空时使用默认费用模板
	Charges []domain.ChargeDefinition
}

// ProductService 产品配置：费用覆盖只允许在产品启用且未被引用之前修改。
// 产品修改与建案持有同一把产品锁，检查与写入之间不会插入启用或建案。
type ProductService struct {
	products domain.ProductRepository
	cases    domain.CaseRepository
	locker   domain.CaseLocker
	logger   *slog.Logger
}

// NewProductService 创建产品服务，locker 须与 CaseCommandService 共用
func NewProductService(products domain.ProductRepository, cases domain.CaseRepository, locker domain.CaseLocker, l *slog.Logger) *ProductService {
	if l == nil {
		l = logger.Get()
	}
	return &ProductService{products: products, cases: cases, locker: locker, logger: l.With("module", "product")}
}

func productLockKey(productID string) string {
	return "product:" + productID
}

func lockProduct(ctx context.Context, locker domain.CaseLocker, productID string) (func(), error) {
	unlock, err := locker.Lock(ctx, productLockKey(productID))
	if err != nil {
		return nil, fmt.Errorf("lock product %s: %w", productID, err)
	}
	return unlock, nil
}

// CreateProduct 创建产品，初始为未启用
func (s *ProductService) CreateProduct(ctx context.Context, cmd CreateProductCommand) (*domain.Product, error) {
	unlock, err := lockProduct(ctx, s.locker, cmd.ProductID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	_, err = s.products.Get(ctx, cmd.ProductID)
	switch {
	case err == nil:
		return nil, &domain.InvalidCommandError{Field: "product.id", Reason: cmd.ProductID + " already exists"}
	case !errors.Is(err, domain.ErrProductNotFound):
		return nil, err
	}
	p, err := domain.NewProduct(cmd.ProductID, cmd.Name, cmd.Currency, cmd.MinorCurrencyUnitDigits, cmd.Accounts, cmd.Ledgers, cmd.Charges)
	if err != nil {
		return nil, err
	}
	if err := s.products.Save(ctx, p); err != nil {
		return nil, fmt.Errorf("save product %s: %w", p.ID, err)
	}
	logger.Attach(ctx, s.logger).InfoContext(ctx, "product created", "product_id", p.ID, "charges", len(p.Charges.All()))
	return p, nil
}

// GetProduct 获取产品
func (s *ProductService) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	return s.products.Get(ctx, productID)
}

// SetFixedOverride 为费用设置固定金额覆盖
func (s *ProductService) SetFixedOverride(ctx context.Context, productID, chargeID string, amount decimal.Decimal) (*domain.Product, error) {
	unlock, err := lockProduct(ctx, s.locker, productID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	p, err := s.products.Get(ctx, productID)
	if err != nil {
		return nil, err
	}
	if err := s.ensureEditable(ctx, p); err != nil {
		return nil, err
	}
	if err := p.Charges.SetFixedOverride(chargeID, amount, p.MinorCurrencyUnitDigits); err != nil {
		return nil, err
	}
	if err := s.products.Save(ctx, p); err != nil {
		return nil, fmt.Errorf("save product %s: %w", p.ID, err)
	}
	logger.Attach(ctx, s.logger).InfoContext(ctx, "charge override set",
		"product_id", productID, "charge_id", chargeID, "amount", domain.FormatAmount(amount, p.MinorCurrencyUnitDigits))
	return p, nil
}

// EnableProduct 启用或停用产品；停用只阻止新建案件
func (s *ProductService) EnableProduct(ctx context.Context, productID string, enabled bool) (*domain.Product, error) {
	unlock, err := lockProduct(ctx, s.locker, productID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	p, err := s.products.Get(ctx, productID)
	if err != nil {
		return nil, err
	}
	if p.Enabled == enabled {
		return p, nil
	}
	p.Enabled = enabled
	if err := s.products.Save(ctx, p); err != nil {
		return nil, fmt.Errorf("save product %s: %w", p.ID, err)
	}
	logger.Attach(ctx, s.logger).InfoContext(ctx, "product enablement changed", "product_id", productID, "enabled", enabled)
	return p, nil
}

// ensureEditable 已启用或已被案件引用的产品费用不可修改
func (s *ProductService) ensureEditable(ctx context.Context, p *domain.Product) error {
	if p.Enabled {
		return &domain.ProductInUseError{ProductID: p.ID, Reason: "product is enabled"}
	}
	n, err := s.cases.CountByProduct(ctx, p.ID)
	if err != nil {
		return err
	}
	if n > 0 {
		return &domain.ProductInUseError{ProductID: p.ID, Reason: fmt.Sprintf("referenced by %d cases", n)}
	}
	return nil
}
