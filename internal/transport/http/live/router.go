package livehttp

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tribune/internal/logger"
	"tribune/internal/pipeline"
	"tribune/internal/pkg/symbol"
	"tribune/internal/risk"
	"tribune/internal/store/decisionlog"
	"tribune/internal/store/model"
	"tribune/internal/types"

	"github.com/gin-gonic/gin"
)

type PipelineRunner interface {
	RunPipeline(ctx context.Context, symbol string) (pipeline.Outcome, error)
	RunMany(ctx context.Context, symbols []string) ([]pipeline.Outcome, error)
}

type OrderBook interface {
	Get(id string) (types.Order, bool)
	List() []types.Order
	CancelOrder(ctx context.Context, id string) bool
}

// OrderEvents 订单状态流转历史（持久化存储）。
type OrderEvents interface {
	ListOrderEvents(ctx context.Context, orderID string) ([]model.OrderEventModel, error)
}

type PortfolioReader interface {
	Snapshot() types.PortfolioSnapshot
}

type DecisionLog interface {
	Get(ctx context.Context, id int64) (decisionlog.Record, error)
	List(ctx context.Context, q decisionlog.Query) ([]decisionlog.Record, error)
	ListByTraceID(ctx context.Context, traceID string) ([]decisionlog.Record, error)
	Count(ctx context.Context, since time.Time) (map[string]int, error)
}

type RouterDeps struct {
	Pipeline  PipelineRunner
	Orders    OrderBook
	Events    OrderEvents
	Portfolio PortfolioReader
	Logs      DecisionLog
	// RunTimeout 限制一次手动触发的流水线耗时；0 表示不限制。
	RunTimeout time.Duration
}

// Router 暴露流水线/订单/组合/审计日志接口。
type Router struct {
	deps RouterDeps
}

func NewRouter(deps RouterDeps) *Router {
	return &Router{deps: deps}
}

// Register 将路由挂载到给定分组下。
func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	if r.deps.Pipeline != nil {
		group.POST("/pipeline/:symbol", r.handleRunPipeline)
		group.POST("/pipeline", r.handleRunMany)
	}
	if r.deps.Orders != nil {
		group.GET("/orders", r.handleListOrders)
		group.GET("/orders/:id", r.handleGetOrder)
		group.POST("/orders/:id/cancel", r.handleCancelOrder)
		if r.deps.Events != nil {
			group.GET("/orders/:id/events", r.handleOrderEvents)
		}
	}
	if r.deps.Portfolio != nil {
		group.GET("/portfolio", r.handlePortfolio)
	}
	if r.deps.Logs != nil {
		group.GET("/decisions", r.handleListDecisions)
		group.GET("/decisions/:id", r.handleDecisionByID)
		group.GET("/traces/:trace_id", r.handleTrace)
		group.GET("/stats/gates", r.handleGateStats)
	}
}

func (r *Router) runContext(c *gin.Context) (context.Context, context.CancelFunc) {
	if r.deps.RunTimeout > 0 {
		return context.WithTimeout(c.Request.Context(), r.deps.RunTimeout)
	}
	return context.WithCancel(c.Request.Context())
}

func (r *Router) handleRunPipeline(c *gin.Context) {
	sym := symbol.Key(c.Param("symbol"))
	if sym == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol is required"})
		return
	}
	ctx, cancel := r.runContext(c)
	defer cancel()
	out, err := r.deps.Pipeline.RunPipeline(ctx, sym)
	if err != nil {
		logger.Ctx(ctx).Error("api pipeline failed", "symbol", sym, "pipeline_trace", out.TraceID, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "outcome": out})
		return
	}
	logger.Ctx(ctx).Info("api pipeline done", "symbol", sym, "pipeline_trace", out.TraceID, "rejected_by", out.RejectedBy)
	c.JSON(http.StatusOK, out)
}

type runManyRequest struct {
	Symbols []string `json:"symbols"`
}

func (r *Router) handleRunMany(c *gin.Context) {
	var req runManyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	symbols := symbol.KeyList(req.Symbols)
	if len(symbols) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbols is required"})
		return
	}
	ctx, cancel := r.runContext(c)
	defer cancel()
	outs, err := r.deps.Pipeline.RunMany(ctx, symbols)
	body := gin.H{"outcomes": outs}
	if err != nil {
		logger.Ctx(ctx).Error("api pipeline batch failed", "symbols", symbols, "err", err)
		body["error"] = err.Error()
		c.JSON(http.StatusInternalServerError, body)
		return
	}
	c.JSON(http.StatusOK, body)
}

func (r *Router) handleListOrders(c *gin.Context) {
	status := types.OrderStatus(strings.ToUpper(strings.TrimSpace(c.Query("status"))))
	sym := symbol.Key(c.Query("symbol"))
	list := r.deps.Orders.List()
	out := make([]types.Order, 0, len(list))
	for _, o := range list {
		if status != "" && o.Status != status {
			continue
		}
		if sym != "" && o.Symbol != sym {
			continue
		}
		out = append(out, o)
	}
	c.JSON(http.StatusOK, gin.H{"orders": out, "total_count": len(out)})
}

func (r *Router) handleGetOrder(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	o, ok := r.deps.Orders.Get(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "order not found", "status": types.OrderStatusNotFound})
		return
	}
	c.JSON(http.StatusOK, o)
}

func (r *Router) handleCancelOrder(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if _, ok := r.deps.Orders.Get(id); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
		return
	}
	ok := r.deps.Orders.CancelOrder(c.Request.Context(), id)
	o, _ := r.deps.Orders.Get(id)
	logger.Ctx(c.Request.Context()).Info("api cancel order", "order_id", id, "cancelled", ok, "status", o.Status)
	if !ok {
		c.JSON(http.StatusConflict, gin.H{"cancelled": false, "order": o})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": true, "order": o})
}

func (r *Router) handlePortfolio(c *gin.Context) {
	snap := r.deps.Portfolio.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"snapshot": snap,
		"metrics":  risk.PortfolioMetrics(snap),
	})
}

func (r *Router) handleListDecisions(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if limit <= 0 {
		limit = 100
	}
	if limit > 500 {
		limit = 500
	}
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if offset < 0 {
		offset = 0
	}
	query := decisionlog.Query{
		Symbol:     c.Query("symbol"),
		RejectedBy: c.Query("rejected_by"),
		Limit:      limit,
		Offset:     offset,
	}
	listCtx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	logs, err := r.deps.Logs.List(listCtx, query)
	if err != nil {
		logger.Ctx(listCtx).Error("api decisions list failed", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs, "limit": limit, "offset": offset})
}

func (r *Router) handleDecisionByID(c *gin.Context) {
	id, _ := strconv.ParseInt(c.Param("id"), 10, 64)
	if id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid decision id"})
		return
	}
	rec, err := r.deps.Logs.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "decision not found"})
			return
		}
		logger.Errorf("[api] decision detail failed ip=%s id=%d err=%v", c.ClientIP(), id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"log": rec})
}

func (r *Router) handleTrace(c *gin.Context) {
	traceID := strings.TrimSpace(c.Param("trace_id"))
	steps, err := r.deps.Logs.ListByTraceID(c.Request.Context(), traceID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if len(steps) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "trace not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trace_id": traceID, "logs": steps})
}

// handleGateStats 返回窗口内各关卡拒绝次数，window 默认 24h。
func (r *Router) handleGateStats(c *gin.Context) {
	window, err := time.ParseDuration(c.DefaultQuery("window", "24h"))
	if err != nil || window <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid window"})
		return
	}
	counts, err := r.deps.Logs.Count(c.Request.Context(), time.Now().Add(-window))
	if err != nil {
		logger.Errorf("[api] gate stats failed ip=%s err=%v", c.ClientIP(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	passed := counts[""]
	delete(counts, "")
	c.JSON(http.StatusOK, gin.H{"window": window.String(), "passed": passed, "rejected": counts})
}

func (r *Router) handleOrderEvents(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if _, ok := r.deps.Orders.Get(id); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "order not found", "status": types.OrderStatusNotFound})
		return
	}
	events, err := r.deps.Events.ListOrderEvents(c.Request.Context(), id)
	if err != nil {
		logger.Errorf("[api] order events %s failed ip=%s err=%v", id, c.ClientIP(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"order_id": id, "events": events})
}
