package ledger

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/wyfcoding/loanportfolio/internal/lending/domain"
)

// IdempotencyKeyHeader 幂等键请求头
const IdempotencyKeyHeader = "Idempotency-Key"

// HTTPConfig HTTP 账本客户端配置
type HTTPConfig struct {
	BaseURL    string
	Timeout    time.Duration
	RetryCount int
}

// HTTPClient 通过 REST 接口访问外部账本
type HTTPClient struct {
	client *resty.Client
}

type createAccountRequest struct {
	Type  domain.AccountType `json:"type"`
	Owner string             `json:"owner"`
}

type createAccountResponse struct {
	Identifier string `json:"identifier"`
}

type transferRequest struct {
	TransactionIdentifier string            `json:"transactionIdentifier"`
	Debtors               []domain.Debtor   `json:"debtors"`
	Creditors             []domain.Creditor `json:"creditors"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewHTTPClient 创建 HTTP 账本客户端。传输错误与 5xx 以同一幂等键重试。
func NewHTTPClient(cfg HTTPConfig) *HTTPClient {
	c := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetHeader("Content-Type", "application/json").
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(100 * time.Millisecond).
		SetRetryMaxWaitTime(time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= http.StatusInternalServerError
		})
	return &HTTPClient{client: c}
}

// CreateAccount POST /ledgers/{ledger}/accounts
func (c *HTTPClient) CreateAccount(ctx context.Context, ledgerID string, accountType domain.AccountType, owner string) (string, error) {
	var out createAccountResponse
	var failure errorResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader(IdempotencyKeyHeader, owner+":"+ledgerID+":"+string(accountType)).
		SetPathParam("ledger", ledgerID).
		SetBody(createAccountRequest{Type: accountType, Owner: owner}).
		SetResult(&out).
		SetError(&failure).
		Post("/ledgers/{ledger}/accounts")
	if err != nil {
		return "", fmt.Errorf("create ledger account: %w", err)
	}
	if resp.IsError() {
		return "", statusError(resp.StatusCode(), failure)
	}
	if out.Identifier == "" {
		return "", errors.New("create ledger account: empty identifier in response")
	}
	return out.Identifier, nil
}

// Commit POST /transfers，409 表示幂等键已提交
func (c *HTTPClient) Commit(ctx context.Context, transfer domain.Transfer, idempotencyKey string) error {
	var failure errorResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader(IdempotencyKeyHeader, idempotencyKey).
		SetBody(transferRequest{
			TransactionIdentifier: idempotencyKey,
			Debtors:               transfer.Debtors,
			Creditors:             transfer.Creditors,
		}).
		SetError(&failure).
		Post("/transfers")
	if err != nil {
		return fmt.Errorf("commit transfer: %w", err)
	}
	if resp.StatusCode() == http.StatusConflict {
		return domain.ErrDuplicateCommand
	}
	if resp.IsError() {
		return statusError(resp.StatusCode(), failure)
	}
	return nil
}

// statusError 4xx 为明确拒绝，其余为可重试失败
func statusError(status int, body errorResponse) error {
	if status >= http.StatusBadRequest && status < http.StatusInternalServerError {
		code := body.Code
		if code == "" {
			code = http.StatusText(status)
		}
		return &domain.LedgerRejectError{Code: code, Message: body.Message}
	}
	return fmt.Errorf("ledger responded with status %d: %s", status, body.Message)
}
