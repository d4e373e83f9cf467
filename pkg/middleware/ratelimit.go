package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/loanportfolio/pkg/config"
	"github.com/wyfcoding/loanportfolio/pkg/logger"
	"github.com/wyfcoding/loanportfolio/pkg/ratelimit"
)

// RateLimitMiddleware 写接口限流。配额按 客户端 IP + 路由参数 id 计算，
// 同一客户端对不同案件的提交互不挤占。
func RateLimitMiddleware(limiter ratelimit.RateLimiter, cfg config.RateLimitConfig) gin.HandlerFunc {
	if !cfg.Enabled || limiter == nil {
		return func(c *gin.Context) { c.Next() }
	}
	limit := ratelimit.Limit{
		Rate:   cfg.QPS,
		Period: time.Second,
		Burst:  cfg.Burst,
	}
	if limit.Burst < limit.Rate {
		limit.Burst = limit.Rate
	}

	return func(c *gin.Context) {
		ctx := c.Request.Context()
		res, err := limiter.Allow(ctx, rateLimitKey(c), limit)
		if err != nil {
			logger.Warn(ctx, "rate limiter unavailable, request let through", "error", err)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(limit.Burst))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		if res.Allowed {
			c.Next()
			return
		}

		retryAfter := int64(res.RetryAfter/time.Second) + 1
		c.Header("Retry-After", strconv.FormatInt(retryAfter, 10))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"code":      "RATE_LIMITED",
			"error":     "too many requests, retry after " + res.RetryAfter.Round(time.Millisecond).String(),
			"retryable": true,
		})
	}
}

func rateLimitKey(c *gin.Context) string {
	var b strings.Builder
	b.WriteString("lending:ratelimit:")
	b.WriteString(c.ClientIP())
	if id := c.Param("id"); id != "" {
		b.WriteByte(':')
		b.WriteString(id)
	}
	return b.String()
}
