// Package metrics 提供 Prometheus 指标集合与暴露端点
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/wyfcoding/loanportfolio/pkg/logger"
)

const namespace = "lending"

// Metrics 指标集合，每个服务实例使用独立的 Registry
type Metrics struct {
	registry *prometheus.Registry

	// HTTP 请求计数
	HTTPRequestsTotal *prometheus.CounterVec
	// HTTP 请求耗时
	HTTPRequestDuration *prometheus.HistogramVec

	// 案件动作计数，result: committed / replayed / rejected / failed
	CaseTransitionsTotal *prometheus.CounterVec
	// 账本提交耗时
	LedgerCommitDuration *prometheus.HistogramVec
	// 案件级账户创建数
	CaseAccountsCreated prometheus.Counter
	// 事件发布失败数
	EventPublishFailures prometheus.Counter
	// outbox 中转成功数
	OutboxRelayed prometheus.Counter
}

// New 创建并注册指标实例
func New(serviceName string) *Metrics {
	// 服务名常带连字符，指标名只允许下划线
	serviceName = strings.ReplaceAll(serviceName, "-", "_")
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: serviceName,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: serviceName,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
		CaseTransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: serviceName,
			Name:      "case_transitions_total",
			Help:      "Case workflow actions by action and result",
		}, []string{"action", "result"}),
		LedgerCommitDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: serviceName,
			Name:      "ledger_commit_duration_seconds",
			Help:      "Ledger transfer commit duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"action", "result"}),
		CaseAccountsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: serviceName,
			Name:      "case_accounts_created_total",
			Help:      "Case-scoped ledger accounts created",
		}),
		EventPublishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: serviceName,
			Name:      "event_publish_failures_total",
			Help:      "Case events that could not be published",
		}),
		OutboxRelayed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: serviceName,
			Name:      "outbox_relayed_total",
			Help:      "Outbox messages relayed to the broker",
		}),
	}
	m.registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.CaseTransitionsTotal,
		m.LedgerCommitDuration,
		m.CaseAccountsCreated,
		m.EventPublishFailures,
		m.OutboxRelayed,
	)
	return m
}

// Registry 返回实例的 Registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler 返回 /metrics 处理器
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordHTTPRequest 记录 HTTP 请求
func (m *Metrics) RecordHTTPRequest(method, path string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(d.Seconds())
}

// RecordTransition 记录案件动作结果
func (m *Metrics) RecordTransition(action, result string) {
	if m == nil {
		return
	}
	m.CaseTransitionsTotal.WithLabelValues(action, result).Inc()
}

// ObserveLedgerCommit 记录账本提交耗时
func (m *Metrics) ObserveLedgerCommit(action, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.LedgerCommitDuration.WithLabelValues(action, result).Observe(d.Seconds())
}

// IncCaseAccounts 记录案件级账户创建
func (m *Metrics) IncCaseAccounts(n int) {
	if m == nil {
		return
	}
	m.CaseAccountsCreated.Add(float64(n))
}

// IncPublishFailure 记录事件发布失败
func (m *Metrics) IncPublishFailure() {
	if m == nil {
		return
	}
	m.EventPublishFailures.Inc()
}

// IncOutboxRelayed 记录 outbox 中转成功
func (m *Metrics) IncOutboxRelayed(n int) {
	if m == nil {
		return
	}
	m.OutboxRelayed.Add(float64(n))
}

// StartHTTPServer 启动 Prometheus HTTP 服务器，ctx 取消时关闭
func (m *Metrics) StartHTTPServer(ctx context.Context, port int, path string) error {
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	addr := fmt.Sprintf(":%d", port)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	logger.Info(ctx, "Starting Prometheus HTTP server", "addr", addr, "path", path)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error(ctx, "Prometheus HTTP server failed", "error", err)
		return err
	}
	return nil
}
