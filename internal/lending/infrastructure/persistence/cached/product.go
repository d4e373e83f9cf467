// Package cached 仓储的进程内读缓存
package cached

import (
	"context"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/wyfcoding/loanportfolio/internal/lending/domain"
	"github.com/wyfcoding/loanportfolio/pkg/logger"
)

// ProductRepository 产品读缓存。产品被所有案件读取而极少修改，
// 本实例的 Save 会立即失效缓存，其他实例最多滞后一个 TTL。
type ProductRepository struct {
	next  domain.ProductRepository
	cache *cache.Cache

	mu sync.Mutex
	// 每次 Save 递增；读取期间发生过 Save 时不回填
	generation uint64
}

// NewProductRepository 包装产品仓储
func NewProductRepository(next domain.ProductRepository, ttl time.Duration) *ProductRepository {
	return &ProductRepository{
		next:  next,
		cache: cache.New(ttl, 2*ttl),
	}
}

// Save 写入后失效缓存
func (r *ProductRepository) Save(ctx context.Context, product *domain.Product) error {
	if err := r.next.Save(ctx, product); err != nil {
		return err
	}
	r.mu.Lock()
	r.generation++
	r.cache.Delete(product.ID)
	r.mu.Unlock()
	return nil
}

// Get 命中时返回副本，调用方修改不影响缓存
func (r *ProductRepository) Get(ctx context.Context, productID string) (*domain.Product, error) {
	if v, found := r.cache.Get(productID); found {
		logger.Debug(ctx, "product cache hit", "product_id", productID)
		return v.(*domain.Product).Clone(), nil
	}
	r.mu.Lock()
	gen := r.generation
	r.mu.Unlock()

	p, err := r.next.Get(ctx, productID)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if gen == r.generation {
		r.cache.SetDefault(productID, p.Clone())
	}
	return p, nil
}

// Flush 清空缓存
func (r *ProductRepository) Flush() {
	r.cache.Flush()
}
