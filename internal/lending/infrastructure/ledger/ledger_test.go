package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/loanportfolio/internal/lending/domain"
)

func sampleTransfer() domain.Transfer {
	return domain.Transfer{
		Debtors:   []domain.Debtor{{AccountNumber: "teller", Amount: "10.0000"}},
		Creditors: []domain.Creditor{{AccountNumber: "fee-income", Amount: "10.0000"}},
	}
}

func TestMemoryLedger_CommitIsIdempotent(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()

	require.NoError(t, l.Commit(ctx, sampleTransfer(), "c1:OPEN:1"))
	assert.ErrorIs(t, l.Commit(ctx, sampleTransfer(), "c1:OPEN:1"), domain.ErrDuplicateCommand)

	assert.Len(t, l.Transfers(), 1)
	assert.Equal(t, "10", l.Debited("teller").String())
	assert.Equal(t, "10", l.Credited("fee-income").String())
	assert.Equal(t, 2, l.CommitCalls())
}

func TestMemoryLedger_RejectsUnbalanced(t *testing.T) {
	l := NewMemoryLedger()
	tr := sampleTransfer()
	tr.Creditors[0].Amount = "9.0000"

	var reject *domain.LedgerRejectError
	require.ErrorAs(t, l.Commit(context.Background(), tr, "k"), &reject)
	assert.Empty(t, l.Transfers())
	assert.True(t, l.Debited("teller").IsZero())
}

func TestMemoryLedger_FailNext(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	boom := errors.New("timeout")
	l.FailNext(boom)

	assert.ErrorIs(t, l.Commit(ctx, sampleTransfer(), "k"), boom)
	assert.Empty(t, l.Transfers())
	require.NoError(t, l.Commit(ctx, sampleTransfer(), "k"))
	_, ok := l.TransferFor("k")
	assert.True(t, ok)
}

func TestMemoryLedger_CreateAccountIdempotent(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()

	a, err := l.CreateAccount(ctx, "ledger-1", domain.AccountTypeAsset, "c1")
	require.NoError(t, err)
	b, err := l.CreateAccount(ctx, "ledger-1", domain.AccountTypeAsset, "c1")
	require.NoError(t, err)
	other, err := l.CreateAccount(ctx, "ledger-2", domain.AccountTypeAsset, "c1")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, other)
	acc, ok := l.Account(a)
	require.True(t, ok)
	assert.Equal(t, domain.AccountTypeAsset, acc.Type)
}

func newTestClient(url string) *HTTPClient {
	return NewHTTPClient(HTTPConfig{BaseURL: url, Timeout: 2 * time.Second, RetryCount: 2})
}

func TestHTTPClient_Commit(t *testing.T) {
	var gotKey string
	var gotBody transferRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transfers", r.URL.Path)
		gotKey = r.Header.Get(IdempotencyKeyHeader)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	require.NoError(t, newTestClient(srv.URL).Commit(context.Background(), sampleTransfer(), "c1:OPEN:1"))
	assert.Equal(t, "c1:OPEN:1", gotKey)
	assert.Equal(t, "c1:OPEN:1", gotBody.TransactionIdentifier)
	assert.Equal(t, sampleTransfer(), domain.Transfer{Debtors: gotBody.Debtors, Creditors: gotBody.Creditors})
}

func TestHTTPClient_CommitStatuses(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		check  func(t *testing.T, err error)
	}{
		{name: "conflict is duplicate", status: http.StatusConflict, body: `{"code":"DUPLICATE"}`, check: func(t *testing.T, err error) {
			assert.ErrorIs(t, err, domain.ErrDuplicateCommand)
		}},
		{name: "unprocessable is reject", status: http.StatusUnprocessableEntity, body: `{"code":"ACCOUNT_CLOSED","message":"closed"}`, check: func(t *testing.T, err error) {
			var reject *domain.LedgerRejectError
			require.ErrorAs(t, err, &reject)
			assert.Equal(t, "ACCOUNT_CLOSED", reject.Code)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()
			tt.check(t, newTestClient(srv.URL).Commit(context.Background(), sampleTransfer(), "k"))
		})
	}
}

func TestHTTPClient_RetriesServerErrorsWithSameKey(t *testing.T) {
	var calls atomic.Int32
	keys := make(chan string, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		keys <- r.Header.Get(IdempotencyKeyHeader)
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	require.NoError(t, newTestClient(srv.URL).Commit(context.Background(), sampleTransfer(), "c1:APPROVE:2"))
	assert.Equal(t, int32(2), calls.Load())
	close(keys)
	for k := range keys {
		assert.Equal(t, "c1:APPROVE:2", k)
	}
}

func TestHTTPClient_CreateAccount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ledgers/ledger-1/accounts", r.URL.Path)
		var req createAccountRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, domain.AccountTypeAsset, req.Type)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"identifier":"acc-` + req.Owner + `"}`))
	}))
	defer srv.Close()

	id, err := newTestClient(srv.URL).CreateAccount(context.Background(), "ledger-1", domain.AccountTypeAsset, "c1")
	require.NoError(t, err)
	assert.Equal(t, "acc-c1", id)
}
