// Package application 贷款案件引擎的应用服务：
// 串联状态机、成本组件计算、记账指令构建、账本提交与事件发布。
package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/wyfcoding/loanportfolio/internal/lending/domain"
	"github.com/wyfcoding/loanportfolio/pkg/logger"
	"github.com/wyfcoding/loanportfolio/pkg/metrics"
)

// 迁移结果标签
const (
	resultCommitted = "committed"
	resultReplayed  = "replayed"
	resultRejected  = "rejected"
	resultFailed    = "failed"
)

// CreateCaseCommand 建案命令
type CreateCaseCommand struct {
	// 为空时自动生成
	CaseID     string
	ProductID  string
	Parameters domain.CaseParameters
}

// TransitionResult 一次动作提交的结果
type TransitionResult struct {
	CaseID         string                 `json:"caseIdentifier"`
	Action         domain.Action          `json:"action"`
	PreviousState  domain.State           `json:"previousState"`
	State          domain.State           `json:"state"`
	SequenceNumber int64                  `json:"sequenceNumber"`
	IdempotencyKey string                 `json:"idempotencyKey"`
	CostComponents []domain.CostComponent `json:"costComponents"`
	// 产品币种精度，用于格式化金额
	MinorCurrencyUnitDigits int32 `json:"minorCurrencyUnitDigits"`
	// 零分录动作与重放结果为空
	Transfer    *domain.Transfer `json:"transfer,omitempty"`
	NextActions []domain.Action  `json:"nextActions"`
	// 该序号已提交过，本次未做任何记账
	Replayed bool `json:"replayed"`
}

// CaseCommandService 处理案件的写操作
type CaseCommandService struct {
	products domain.ProductRepository
	cases    domain.CaseRepository
	ledger   domain.LedgerClient
	notifier domain.EventNotifier
	// 非空时事件在状态落库的同一事务内写入
	outbox        domain.EventNotifier
	locker        domain.CaseLocker
	txm           domain.TransactionManager
	metrics       *metrics.Metrics
	logger        *slog.Logger
	commitTimeout time.Duration
}

// NewCaseCommandService 创建案件命令服务
func NewCaseCommandService(
	products domain.ProductRepository,
	cases domain.CaseRepository,
	ledger domain.LedgerClient,
	notifier domain.EventNotifier,
	outbox domain.EventNotifier,
	locker domain.CaseLocker,
	txm domain.TransactionManager,
	m *metrics.Metrics,
	l *slog.Logger,
	commitTimeout time.Duration,
) *CaseCommandService {
	if l == nil {
		l = logger.Get()
	}
	if commitTimeout <= 0 {
		commitTimeout = 15 * time.Second
	}
	return &CaseCommandService{
		products:      products,
		cases:         cases,
		ledger:        ledger,
		notifier:      notifier,
		outbox:        outbox,
		locker:        locker,
		txm:           txm,
		metrics:       m,
		logger:        l.With("module", "case_command"),
		commitTimeout: commitTimeout,
	}
}

// CreateCase 在已启用的产品上建案
func (s *CaseCommandService) CreateCase(ctx context.Context, cmd CreateCaseCommand) (*domain.Case, error) {
	unlock, err := lockProduct(ctx, s.locker, cmd.ProductID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	product, err := s.products.Get(ctx, cmd.ProductID)
	if err != nil {
		return nil, err
	}
	caseID := cmd.CaseID
	if caseID == "" {
		caseID = uuid.NewString()
	}
	c, err := domain.NewCase(caseID, product, cmd.Parameters)
	if err != nil {
		return nil, err
	}
	if err := s.cases.Create(ctx, c); err != nil {
		return nil, err
	}
	logger.Attach(ctx, s.logger).InfoContext(ctx, "case created",
		"case_id", c.ID, "product_id", c.ProductID, "maximum_balance", c.Parameters.MaximumBalance.String())
	return c, nil
}

// SubmitAction 提交工作流动作。
// 只有账本提交成功（或确认重复）后才推进案件状态；
// 账本失败时状态不变，调用方可原样重试，幂等键保持不变。
func (s *CaseCommandService) SubmitAction(ctx context.Context, caseID string, action domain.Action, cmd domain.CommandContext) (*TransitionResult, error) {
	log := logger.Attach(ctx, s.logger).With("case_id", caseID, "action", action)

	unlock, err := s.locker.Lock(ctx, caseID)
	if err != nil {
		return nil, fmt.Errorf("lock case %s: %w", caseID, err)
	}
	defer unlock()

	c, err := s.cases.Get(ctx, caseID)
	if err != nil {
		return nil, err
	}

	if cmd.SequenceNumber > 0 {
		if cmd.SequenceNumber <= c.Sequence {
			return s.replay(ctx, c, action, cmd.SequenceNumber)
		}
		if cmd.SequenceNumber != c.NextSequence() {
			return nil, &domain.InvalidCommandError{
				Field:  "sequenceNumber",
				Reason: fmt.Sprintf("expected %d, got %d", c.NextSequence(), cmd.SequenceNumber),
			}
		}
	}

	next, err := domain.NextState(c.State, action)
	if err != nil {
		s.metrics.RecordTransition(string(action), resultRejected)
		log.WarnContext(ctx, "illegal transition", "state", c.State)
		return nil, err
	}

	product, err := s.products.Get(ctx, c.ProductID)
	if err != nil {
		return nil, err
	}
	components, err := domain.ComputeCostComponents(product, c, action, cmd)
	if err != nil {
		s.metrics.RecordTransition(string(action), resultRejected)
		return nil, err
	}
	key := c.IdempotencyKey(action)

	// 账本提交不受调用方取消影响，只受提交超时约束
	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.commitTimeout)
	defer cancel()

	if domain.RequiresCaseAccounts(action, components) {
		if err := s.ensureCaseAccounts(commitCtx, product, c, key); err != nil {
			s.metrics.RecordTransition(string(action), resultFailed)
			return nil, err
		}
	}

	transfer, err := domain.NewTransferBuilder(product.MinorCurrencyUnitDigits).
		Build(components, action, domain.NewAccountResolver(product, c, cmd))
	if err != nil {
		s.metrics.RecordTransition(string(action), resultRejected)
		var unbalanced *domain.UnbalancedTransferInvariantError
		if errors.As(err, &unbalanced) {
			log.ErrorContext(ctx, "transfer invariant violated", "error", err)
		}
		return nil, err
	}

	if transfer != nil {
		components, err = s.holdAttempt(commitCtx, c, action, key, components, transfer)
		if err != nil {
			s.metrics.RecordTransition(string(action), resultRejected)
			log.WarnContext(ctx, "ledger attempt mismatch", "idempotency_key", key, "error", err)
			return nil, err
		}
		if err := s.commit(commitCtx, action, *transfer, key); err != nil {
			var reject *domain.LedgerRejectError
			if errors.As(err, &reject) {
				// 账本拒绝未产生过账，释放该幂等键上的尝试
				if derr := s.cases.DeletePendingAttempt(commitCtx, key); derr != nil {
					log.WarnContext(ctx, "failed to drop pending attempt", "idempotency_key", key, "error", derr)
				}
			}
			s.metrics.RecordTransition(string(action), resultFailed)
			log.ErrorContext(ctx, "ledger commit failed", "idempotency_key", key, "error", err)
			return nil, err
		}
	}

	previous := c.State
	c.Advance(next)
	rec := &domain.CaseActionRecord{
		CaseID:         c.ID,
		SequenceNumber: c.Sequence,
		Action:         action,
		PreviousState:  previous,
		ResultingState: next,
		IdempotencyKey: key,
		CostComponents: components,
		Note:           cmd.Note,
		OccurredAt:     c.UpdatedAt,
	}
	event := domain.NewCaseEvent(c, rec)

	err = s.txm.RunInTx(commitCtx, func(txCtx context.Context) error {
		if err := s.cases.SaveTransition(txCtx, c, rec); err != nil {
			return err
		}
		if transfer != nil {
			if err := s.cases.DeletePendingAttempt(txCtx, key); err != nil {
				return err
			}
		}
		if s.outbox != nil {
			return s.outbox.Publish(txCtx, event)
		}
		return nil
	})
	if err != nil {
		s.metrics.RecordTransition(string(action), resultFailed)
		// 账本已过账，重试时相同幂等键会被账本识别为重复
		log.ErrorContext(ctx, "failed to save case transition after ledger commit",
			"idempotency_key", key, "error", err)
		return nil, fmt.Errorf("save transition %s: %w", key, err)
	}

	if err := s.notifier.Publish(commitCtx, event); err != nil {
		s.metrics.IncPublishFailure()
		log.WarnContext(ctx, "failed to publish case event", "dedup_key", event.DedupKey(), "error", err)
	}

	s.metrics.RecordTransition(string(action), resultCommitted)
	log.InfoContext(ctx, "case transition committed",
		"from", previous, "to", next, "sequence", rec.SequenceNumber, "idempotency_key", key)

	return &TransitionResult{
		CaseID:         c.ID,
		Action:         action,
		PreviousState:  previous,
		State:          next,
		SequenceNumber: rec.SequenceNumber,
		IdempotencyKey: key,
		CostComponents: components,
		Transfer:       transfer,
		NextActions:    domain.NextLegalActions(next),

		MinorCurrencyUnitDigits: product.MinorCurrencyUnitDigits,
	}, nil
}

// holdAttempt 在调用账本前登记提交尝试。
// 同一幂等键已有未确认的尝试时，记账指令必须一致，并沿用当时的成本组件；
// 账本可能已按那次尝试过账，不一致的重试返回 InvalidCommandError。
func (s *CaseCommandService) holdAttempt(ctx context.Context, c *domain.Case, action domain.Action, key string,
	components []domain.CostComponent, transfer *domain.Transfer) ([]domain.CostComponent, error) {
	digest := transfer.Digest()
	pending, err := s.cases.GetPendingAttempt(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load pending attempt %s: %w", key, err)
	}
	if pending != nil {
		if pending.TransferDigest != digest {
			return nil, &domain.InvalidCommandError{
				Field:  "command",
				Reason: fmt.Sprintf("differs from the unconfirmed ledger commit %s; retry it unchanged", key),
			}
		}
		return pending.CostComponents, nil
	}
	err = s.cases.SavePendingAttempt(ctx, &domain.PendingAttempt{
		IdempotencyKey: key,
		CaseID:         c.ID,
		Action:         action,
		CostComponents: components,
		TransferDigest: digest,
		CreatedAt:      time.Now(),
	})
	if err != nil {
		return nil, fmt.Errorf("save pending attempt %s: %w", key, err)
	}
	return components, nil
}

// replay 返回已提交序号的记录结果，不调用账本
func (s *CaseCommandService) replay(ctx context.Context, c *domain.Case, action domain.Action, sequence int64) (*TransitionResult, error) {
	rec, err := s.cases.GetActionRecord(ctx, c.ID, sequence)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("action record %s #%d: %w", c.ID, sequence, domain.ErrConcurrentModification)
	}
	if rec.Action != action {
		return nil, &domain.InvalidCommandError{
			Field:  "sequenceNumber",
			Reason: fmt.Sprintf("sequence %d was committed as %s", sequence, rec.Action),
		}
	}
	product, err := s.products.Get(ctx, c.ProductID)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordTransition(string(action), resultReplayed)
	logger.Attach(ctx, s.logger).InfoContext(ctx, "replayed committed action",
		"case_id", c.ID, "action", action, "sequence", sequence)

	return &TransitionResult{
		CaseID:         c.ID,
		Action:         rec.Action,
		PreviousState:  rec.PreviousState,
		State:          rec.ResultingState,
		SequenceNumber: rec.SequenceNumber,
		IdempotencyKey: rec.IdempotencyKey,
		CostComponents: rec.CostComponents,
		NextActions:    domain.NextLegalActions(rec.ResultingState),
		Replayed:       true,

		MinorCurrencyUnitDigits: product.MinorCurrencyUnitDigits,
	}, nil
}

// ensureCaseAccounts 首次需要时一次性创建全部案件级账户。
// 账本按 (owner, ledger, type) 幂等，失败后重试不会重复开户。
func (s *CaseCommandService) ensureCaseAccounts(ctx context.Context, product *domain.Product, c *domain.Case, key string) error {
	created := 0
	for _, role := range domain.CaseAccountRoles() {
		if _, ok := c.Account(role); ok {
			continue
		}
		id, err := s.ledger.CreateAccount(ctx, product.Ledgers[role], domain.CaseAccountType(role), caseAccountOwner(c.ID, role))
		if err != nil {
			return &domain.LedgerCommitError{
				IdempotencyKey: key,
				Err:            fmt.Errorf("create %s account: %w", role, err),
			}
		}
		c.AssignAccount(role, id)
		created++
	}
	if created == 0 {
		return nil
	}
	if err := s.cases.SaveAccounts(ctx, c); err != nil {
		return fmt.Errorf("save case accounts of %s: %w", c.ID, err)
	}
	s.metrics.IncCaseAccounts(created)
	logger.Attach(ctx, s.logger).InfoContext(ctx, "case accounts created", "case_id", c.ID, "count", created)
	return nil
}

// commit 提交账本；重复幂等键视为成功
func (s *CaseCommandService) commit(ctx context.Context, action domain.Action, transfer domain.Transfer, key string) error {
	start := time.Now()
	err := s.ledger.Commit(ctx, transfer, key)

	result := "ok"
	var reject *domain.LedgerRejectError
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrDuplicateCommand):
		result = "duplicate"
		logger.Attach(ctx, s.logger).InfoContext(ctx, "ledger reported duplicate command", "idempotency_key", key)
		err = nil
	case errors.As(err, &reject):
		result = "rejected"
	default:
		result = "error"
	}
	s.metrics.ObserveLedgerCommit(string(action), result, time.Since(start))

	if err != nil {
		return &domain.LedgerCommitError{IdempotencyKey: key, Err: err}
	}
	return nil
}

func caseAccountOwner(caseID string, role domain.AccountRole) string {
	return caseID + "/" + string(role)
}
