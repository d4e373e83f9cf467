// Package http 贷款案件引擎的 HTTP 接口
package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/loanportfolio/internal/lending/application"
	"github.com/wyfcoding/loanportfolio/internal/lending/domain"
	"github.com/wyfcoding/loanportfolio/pkg/logger"
)

// LendingHandler HTTP 处理器
type LendingHandler struct {
	products *application.ProductService
	commands *application.CaseCommandService
	queries  *application.CaseQueryService
}

// NewLendingHandler 创建 HTTP 处理器
func NewLendingHandler(products *application.ProductService, commands *application.CaseCommandService, queries *application.CaseQueryService) *LendingHandler {
	return &LendingHandler{
		products: products,
		commands: commands,
		queries:  queries,
	}
}

// RegisterRoutes 注册路由；commandMiddleware 只作用于写接口
func (h *LendingHandler) RegisterRoutes(router *gin.Engine, commandMiddleware ...gin.HandlerFunc) {
	api := router.Group("/api/v1")
	{
		api.GET("/products/:id", h.GetProduct)
		api.GET("/cases/:id", h.GetCase)
		api.GET("/cases/:id/actions", h.NextLegalActions)
		api.GET("/cases/:id/actions/:action/costcomponents", h.CostComponents)
		api.GET("/cases/:id/history", h.ListActions)
	}

	write := api.Group("", commandMiddleware...)
	{
		write.POST("/products", h.CreateProduct)
		write.PUT("/products/:id/charges/:charge/override", h.SetFixedOverride)
		write.PUT("/products/:id/enabled", h.EnableProduct)
		write.POST("/products/:id/cases", h.CreateCase)
		write.POST("/cases/:id/commands/:action", h.SubmitAction)
	}
}

// CreateProduct 创建产品
func (h *LendingHandler) CreateProduct(c *gin.Context) {
	var req CreateProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_REQUEST", "error": err.Error()})
		return
	}
	cmd, err := req.toCommand()
	if err != nil {
		h.writeError(c, err)
		return
	}
	p, err := h.products.CreateProduct(c.Request.Context(), cmd)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toProductResponse(p))
}

// GetProduct 获取产品
func (h *LendingHandler) GetProduct(c *gin.Context) {
	p, err := h.products.GetProduct(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toProductResponse(p))
}

// SetFixedOverride 设置费用的固定金额覆盖
func (h *LendingHandler) SetFixedOverride(c *gin.Context) {
	var req FixedOverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_REQUEST", "error": err.Error()})
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		h.writeError(c, err)
		return
	}
	p, err := h.products.SetFixedOverride(c.Request.Context(), c.Param("id"), c.Param("charge"), amount)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toProductResponse(p))
}

// EnableProduct 启用或停用产品
func (h *LendingHandler) EnableProduct(c *gin.Context) {
	var req EnableRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_REQUEST", "error": err.Error()})
		return
	}
	p, err := h.products.EnableProduct(c.Request.Context(), c.Param("id"), *req.Enabled)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toProductResponse(p))
}

// CreateCase 在产品上建案
func (h *LendingHandler) CreateCase(c *gin.Context) {
	var req CreateCaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_REQUEST", "error": err.Error()})
		return
	}
	maximum, err := parseAmount("maximumBalance", req.MaximumBalance)
	if err != nil {
		h.writeError(c, err)
		return
	}
	created, err := h.commands.CreateCase(c.Request.Context(), application.CreateCaseCommand{
		CaseID:    req.ID,
		ProductID: c.Param("id"),
		Parameters: domain.CaseParameters{
			CustomerID:     req.CustomerID,
			MaximumBalance: maximum,
			TermMonths:     req.TermMonths,
		},
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toCaseResponse(created))
}

// GetCase 获取案件
func (h *LendingHandler) GetCase(c *gin.Context) {
	found, err := h.queries.GetCase(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toCaseResponse(found))
}

// NextLegalActions 当前可提交的动作
func (h *LendingHandler) NextLegalActions(c *gin.Context) {
	actions, err := h.queries.NextLegalActions(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"caseIdentifier": c.Param("id"), "actions": actions})
}

// CostComponents 预览动作的成本组件，金额参数取自 query ?amount=
func (h *LendingHandler) CostComponents(c *gin.Context) {
	action, err := domain.ParseAction(c.Param("action"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	var cmd domain.CommandContext
	if raw := c.Query("amount"); raw != "" {
		amount, err := parseAmount("amount", raw)
		if err != nil {
			h.writeError(c, err)
			return
		}
		cmd.Amount = &amount
	}
	preview, err := h.queries.CostComponentsFor(c.Request.Context(), c.Param("id"), action, cmd)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"caseIdentifier": preview.CaseID,
		"action":         preview.Action,
		"costComponents": toComponentResponses(preview.CostComponents, preview.MinorCurrencyUnitDigits),
	})
}

// ListActions 已提交动作历史
func (h *LendingHandler) ListActions(c *gin.Context) {
	records, err := h.queries.ListActions(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	out := make([]ActionRecordResponse, 0, len(records))
	for _, r := range records {
		out = append(out, ActionRecordResponse{
			SequenceNumber: r.SequenceNumber,
			Action:         string(r.Action),
			PreviousState:  string(r.PreviousState),
			ResultingState: string(r.ResultingState),
			IdempotencyKey: r.IdempotencyKey,
			Note:           r.Note,
			OccurredAt:     r.OccurredAt.UTC().Format(time.RFC3339Nano),
		})
	}
	c.JSON(http.StatusOK, out)
}

// SubmitAction 提交工作流动作
func (h *LendingHandler) SubmitAction(c *gin.Context) {
	action, err := domain.ParseAction(c.Param("action"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	var req CommandRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_REQUEST", "error": err.Error()})
			return
		}
	}
	cmd, err := req.toContext()
	if err != nil {
		h.writeError(c, err)
		return
	}
	result, err := h.commands.SubmitAction(c.Request.Context(), c.Param("id"), action, cmd)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toTransitionResponse(result))
}

// writeError 领域错误映射为 HTTP 状态码
func (h *LendingHandler) writeError(c *gin.Context, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		logger.Error(c.Request.Context(), "lending request failed", "path", c.FullPath(), "code", code, "error", err)
	}
	c.JSON(status, gin.H{
		"code":      code,
		"error":     err.Error(),
		"retryable": domain.IsRetryable(err) && code != "LEDGER_REJECTED",
	})
}

func classify(err error) (int, string) {
	var (
		illegal    *domain.IllegalTransitionError
		unknown    *domain.UnknownChargeError
		inexact    *domain.InexactScaleError
		invalid    *domain.InvalidCommandError
		missing    *domain.MissingAccountAssignmentError
		unroutable *domain.UnroutableComponentError
		inUse      *domain.ProductInUseError
		rejected   *domain.LedgerRejectError
		commitErr  *domain.LedgerCommitError
		unbalanced *domain.UnbalancedTransferInvariantError
	)
	switch {
	case errors.As(err, &illegal):
		return http.StatusConflict, "ILLEGAL_TRANSITION"
	case errors.As(err, &unknown):
		return http.StatusUnprocessableEntity, "UNKNOWN_CHARGE"
	case errors.As(err, &inexact):
		return http.StatusUnprocessableEntity, "INEXACT_SCALE"
	case errors.As(err, &invalid):
		return http.StatusBadRequest, "INVALID_COMMAND"
	case errors.As(err, &missing):
		return http.StatusBadRequest, "MISSING_ACCOUNT_ASSIGNMENT"
	case errors.As(err, &unroutable):
		return http.StatusBadRequest, "UNROUTABLE_COMPONENT"
	case errors.Is(err, domain.ErrCaseNotFound), errors.Is(err, domain.ErrProductNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.As(err, &inUse):
		return http.StatusConflict, "PRODUCT_IN_USE"
	case errors.Is(err, domain.ErrProductDisabled):
		return http.StatusConflict, "PRODUCT_DISABLED"
	case errors.Is(err, domain.ErrConcurrentModification):
		return http.StatusConflict, "CONCURRENT_MODIFICATION"
	case errors.As(err, &rejected):
		return http.StatusUnprocessableEntity, "LEDGER_REJECTED"
	case errors.As(err, &commitErr):
		return http.StatusServiceUnavailable, "LEDGER_COMMIT_FAILED"
	case errors.As(err, &unbalanced):
		return http.StatusInternalServerError, "UNBALANCED_TRANSFER"
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}
