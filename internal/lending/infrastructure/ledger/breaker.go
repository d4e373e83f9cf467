package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"github.com/wyfcoding/loanportfolio/internal/lending/domain"
	"github.com/wyfcoding/loanportfolio/pkg/logger"
)

// BreakerConfig 熔断配置
type BreakerConfig struct {
	Name string
	// 连续失败次数达到该值后打开
	ConsecutiveFailures uint32
	// 打开状态持续时间，之后进入半开
	OpenTimeout time.Duration
	// 半开状态允许的探测请求数
	MaxRequests uint32
}

// BreakerClient 为账本客户端加熔断。
// 明确拒绝与重复幂等键说明账本可用，不计为失败。
type BreakerClient struct {
	next    domain.LedgerClient
	breaker *gobreaker.CircuitBreaker
}

// NewBreakerClient 包装账本客户端
func NewBreakerClient(next domain.LedgerClient, cfg BreakerConfig) *BreakerClient {
	if cfg.Name == "" {
		cfg.Name = "ledger"
	}
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = 5
	}
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = 1
	}
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		IsSuccessful: isLedgerAvailable,
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn(context.Background(), "ledger circuit breaker state changed",
				"breaker", name, "from", from.String(), "to", to.String())
		},
	}
	return &BreakerClient{next: next, breaker: gobreaker.NewCircuitBreaker(settings)}
}

// CreateAccount 经熔断器创建账户
func (b *BreakerClient) CreateAccount(ctx context.Context, ledgerID string, accountType domain.AccountType, owner string) (string, error) {
	out, err := b.breaker.Execute(func() (any, error) {
		return b.next.CreateAccount(ctx, ledgerID, accountType, owner)
	})
	if err != nil {
		return "", breakerError(err)
	}
	return out.(string), nil
}

// Commit 经熔断器提交转账
func (b *BreakerClient) Commit(ctx context.Context, transfer domain.Transfer, idempotencyKey string) error {
	_, err := b.breaker.Execute(func() (any, error) {
		return nil, b.next.Commit(ctx, transfer, idempotencyKey)
	})
	return breakerError(err)
}

// State 当前熔断状态
func (b *BreakerClient) State() gobreaker.State {
	return b.breaker.State()
}

func isLedgerAvailable(err error) bool {
	if err == nil || errors.Is(err, domain.ErrDuplicateCommand) {
		return true
	}
	var reject *domain.LedgerRejectError
	return errors.As(err, &reject)
}

func breakerError(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("ledger unavailable: %w", err)
	}
	return err
}
