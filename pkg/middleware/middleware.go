// Package middleware 提供 Gin 通用中间件（日志、trace、panic recover、指标、限流）
package middleware

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/wyfcoding/loanportfolio/pkg/logger"
	"github.com/wyfcoding/loanportfolio/pkg/metrics"
)

const (
	// RequestIDKey gin context 中的 request id
	RequestIDKey = "request_id"
	// TraceIDKey gin context 中的 trace id
	TraceIDKey = "trace_id"

	RequestIDHeader = "X-Request-ID"
	TraceIDHeader   = "X-Trace-ID"
)

// GinLoggingMiddleware 生成 request/trace id 写入请求 context，请求结束后按状态码分级记录
func GinLoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := headerOrNewID(c, RequestIDHeader)
		traceID := headerOrNewID(c, TraceIDHeader)

		c.Set(RequestIDKey, requestID)
		c.Set(TraceIDKey, traceID)
		c.Header(RequestIDHeader, requestID)

		ctx := logger.ContextWithIDs(c.Request.Context(), requestID, traceID, uuid.NewString())
		c.Request = c.Request.WithContext(ctx)

		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		args := []any{
			"method", c.Request.Method,
			"route", c.FullPath(),
			"status_code", status,
			"duration", time.Since(start),
			"client_ip", c.ClientIP(),
		}
		if id := c.Param("id"); id != "" {
			args = append(args, "resource_id", id)
		}
		switch {
		case status >= http.StatusInternalServerError:
			logger.Error(ctx, "HTTP request failed", args...)
		case status >= http.StatusBadRequest:
			logger.Warn(ctx, "HTTP request rejected", args...)
		default:
			logger.Info(ctx, "HTTP request completed", args...)
		}
	}
}

func headerOrNewID(c *gin.Context, header string) string {
	if v := c.GetHeader(header); v != "" {
		return v
	}
	return uuid.NewString()
}

// GinRecoveryMiddleware panic 转为 500，响应体与业务错误格式一致
func GinRecoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				ctx := c.Request.Context()
				logger.Error(ctx, "HTTP handler panicked", "panic", rec, "stack", string(debug.Stack()))
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"code":       "INTERNAL",
					"error":      "internal server error",
					"retryable":  false,
					"request_id": logger.RequestID(ctx),
				})
			}
		}()
		c.Next()
	}
}

// GinMetricsMiddleware 记录请求计数与耗时，path 使用路由模板避免高基数
func GinMetricsMiddleware(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.RecordHTTPRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}
