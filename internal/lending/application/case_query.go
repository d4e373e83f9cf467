package application

import (
	"context"

	"github.com/wyfcoding/loanportfolio/internal/lending/domain"
)

// CostPreview 动作的成本组件预览
type CostPreview struct {
	CaseID                  string
	Action                  domain.Action
	CostComponents          []domain.CostComponent
	MinorCurrencyUnitDigits int32
}

// CaseQueryService 案件只读查询
type CaseQueryService struct {
	products domain.ProductRepository
	cases    domain.CaseRepository
}

// NewCaseQueryService 创建案件查询服务
func NewCaseQueryService(products domain.ProductRepository, cases domain.CaseRepository) *CaseQueryService {
	return &CaseQueryService{products: products, cases: cases}
}

// GetCase 获取案件
func (s *CaseQueryService) GetCase(ctx context.Context, caseID string) (*domain.Case, error) {
	return s.cases.Get(ctx, caseID)
}

// NextLegalActions 当前状态下可提交的动作
func (s *CaseQueryService) NextLegalActions(ctx context.Context, caseID string) ([]domain.Action, error) {
	c, err := s.cases.Get(ctx, caseID)
	if err != nil {
		return nil, err
	}
	return domain.NextLegalActions(c.State), nil
}

// CostComponentsFor 预览动作的成本组件，不提交任何东西
func (s *CaseQueryService) CostComponentsFor(ctx context.Context, caseID string, action domain.Action, cmd domain.CommandContext) (*CostPreview, error) {
	c, err := s.cases.Get(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if _, err := domain.NextState(c.State, action); err != nil {
		return nil, err
	}
	product, err := s.products.Get(ctx, c.ProductID)
	if err != nil {
		return nil, err
	}
	components, err := domain.ComputeCostComponents(product, c, action, cmd)
	if err != nil {
		return nil, err
	}
	return &CostPreview{
		CaseID:                  c.ID,
		Action:                  action,
		CostComponents:          components,
		MinorCurrencyUnitDigits: product.MinorCurrencyUnitDigits,
	}, nil
}

// ListActions 案件的已提交动作，按序号升序
func (s *CaseQueryService) ListActions(ctx context.Context, caseID string) ([]*domain.CaseActionRecord, error) {
	return s.cases.ListActionRecords(ctx, caseID)
}
