// Package pipeline 串联 共识 → 风控 → 合规 → 下单 四道关卡。
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tribune/internal/compliance"
	"tribune/internal/logger"
	"tribune/internal/order"
	"tribune/internal/pkg/symbol"
	"tribune/internal/portfolio"
	"tribune/internal/store/decisionlog"
	"tribune/internal/types"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// 关卡名称，出现在 Outcome.RejectedBy 中。
const (
	GateConsensus  = "consensus"
	GateMarket     = "market"
	GateRisk       = "risk"
	GateCompliance = "compliance"
	GateOrder      = "order"
)

type ConsensusProvider interface {
	GetConsensus(ctx context.Context, symbol string) types.ConsensusDecision
}

type RiskAssessor interface {
	Assess(decision types.ConsensusDecision, snap types.PortfolioSnapshot, quote types.Quote) types.RiskAssessment
	AssessQuantity(decision types.ConsensusDecision, qty float64, snap types.PortfolioSnapshot, quote types.Quote) types.RiskAssessment
	Confirm(ctx context.Context, fill portfolio.Fill) error
}

type PortfolioReader interface {
	Snapshot() types.PortfolioSnapshot
}

type MarketData interface {
	Quote(ctx context.Context, symbol string) (types.Quote, error)
	Account(ctx context.Context) types.Account
}

type ComplianceChecker interface {
	Validate(trade compliance.Trade, account types.Account) types.ComplianceResult
	RecordTrade(ctx context.Context, rec types.TradeRecord)
}

type OrderExecutor interface {
	NewOrder(ctx context.Context, req order.Request) (types.Order, error)
	SubmitOrder(ctx context.Context, id string) (types.Order, error)
}

type AuditLog interface {
	Insert(ctx context.Context, rec decisionlog.Record, payload any) (int64, error)
}

type Recorder interface {
	ObserveRun(gate string, status types.OrderStatus, elapsed time.Duration)
}

// DayTradeClassifier 决定一笔成交是否计入 PDT 日内交易。
type DayTradeClassifier func(o types.Order) bool

// FlagAll 把所有成交标记为日内交易（或全部不标记）。
func FlagAll(flag bool) DayTradeClassifier {
	return func(types.Order) bool { return flag }
}

// Outcome 一次流水线运行的完整结果。RejectedBy 为空表示订单已成交。
type Outcome struct {
	TraceID         string                  `json:"trace_id"`
	Symbol          string                  `json:"symbol"`
	Decision        types.ConsensusDecision `json:"decision"`
	Quote           *types.Quote            `json:"quote,omitempty"`
	Risk            *types.RiskAssessment   `json:"risk,omitempty"`
	RiskRetried     bool                    `json:"risk_retried,omitempty"`
	Compliance      *types.ComplianceResult `json:"compliance,omitempty"`
	Order           *types.Order            `json:"order,omitempty"`
	RejectedBy      string                  `json:"rejected_by,omitempty"`
	RejectionReason string                  `json:"rejection_reason,omitempty"`
	StartedAt       time.Time               `json:"started_at"`
	FinishedAt      time.Time               `json:"finished_at"`
}

// Executed reports whether the run ended with a filled order.
func (o Outcome) Executed() bool {
	return o.RejectedBy == "" && o.Order != nil && o.Order.Status == types.OrderStatusFilled
}

type Deps struct {
	Consensus  ConsensusProvider
	Risk       RiskAssessor
	Portfolio  PortfolioReader
	Market     MarketData
	Compliance ComplianceChecker
	Orders     OrderExecutor
	Audit      AuditLog
	Recorder   Recorder
	DayTrades  DayTradeClassifier
	OrderType  types.OrderType
}

type Runner struct {
	deps Deps
	now  func() time.Time
}

func NewRunner(deps Deps) (*Runner, error) {
	switch {
	case deps.Consensus == nil:
		return nil, fmt.Errorf("pipeline: consensus provider is required")
	case deps.Risk == nil:
		return nil, fmt.Errorf("pipeline: risk assessor is required")
	case deps.Portfolio == nil:
		return nil, fmt.Errorf("pipeline: portfolio reader is required")
	case deps.Market == nil:
		return nil, fmt.Errorf("pipeline: market data is required")
	case deps.Compliance == nil:
		return nil, fmt.Errorf("pipeline: compliance checker is required")
	case deps.Orders == nil:
		return nil, fmt.Errorf("pipeline: order executor is required")
	}
	if deps.DayTrades == nil {
		deps.DayTrades = FlagAll(false)
	}
	if deps.OrderType == "" {
		deps.OrderType = types.OrderTypeMarket
	}
	return &Runner{deps: deps, now: time.Now}, nil
}

// RunPipeline 对单个标的跑一遍全部关卡。
// 被关卡拒绝是正常结果；只有不变量被破坏时返回 error（Outcome 仍然有效）。
func (r *Runner) RunPipeline(ctx context.Context, sym string) (Outcome, error) {
	out := Outcome{
		TraceID:   uuid.NewString(),
		Symbol:    symbol.Key(sym),
		StartedAt: r.now(),
	}
	ctx = logger.WithTrace(ctx, out.TraceID)
	err := r.run(ctx, &out)
	out.FinishedAt = r.now()
	r.finish(ctx, &out, err)
	return out, err
}

func (r *Runner) run(ctx context.Context, out *Outcome) error {
	// 1. consensus
	decision := r.deps.Consensus.GetConsensus(ctx, out.Symbol)
	out.Decision = decision
	if !decision.Action.Tradable() {
		reject(out, GateConsensus, fmt.Sprintf("no actionable consensus (%s %.2f from %d signals)", decision.Action, decision.Confidence, decision.SignalCount))
		return nil
	}

	// 2. risk
	quote, err := r.deps.Market.Quote(ctx, out.Symbol)
	if err != nil {
		reject(out, GateMarket, "quote unavailable: "+err.Error())
		return nil
	}
	out.Quote = &quote
	snap := r.deps.Portfolio.Snapshot()
	assessment := r.deps.Risk.Assess(decision, snap, quote)
	if !assessment.Approved && assessment.SuggestedQuantity > 0 {
		logger.Ctx(ctx).Info("risk suggested smaller size, retrying once",
			"symbol", out.Symbol, "quantity", assessment.SuggestedQuantity, "reason", assessment.Reason)
		assessment = r.deps.Risk.AssessQuantity(decision, assessment.SuggestedQuantity, snap, quote)
		out.RiskRetried = true
	}
	out.Risk = &assessment
	if !assessment.Approved {
		reject(out, GateRisk, assessment.Reason)
		return nil
	}

	// 3. compliance
	account := r.deps.Market.Account(ctx)
	result := r.deps.Compliance.Validate(compliance.Trade{
		Symbol:   out.Symbol,
		Action:   decision.Action,
		Quantity: assessment.SuggestedQuantity,
		Price:    quote.Price,
		At:       r.now(),
	}, account)
	out.Compliance = &result
	if len(result.Warnings) > 0 {
		logger.Ctx(ctx).Warn("compliance warnings", "symbol", out.Symbol, "warnings", result.Warnings)
	}
	if !result.Compliant {
		reject(out, GateCompliance, joinReasons(result.Violations))
		return nil
	}

	// 4. 下单前最后一次检查取消
	if err := ctx.Err(); err != nil {
		reject(out, GateOrder, "cancelled before order: "+err.Error())
		return nil
	}
	o, err := r.deps.Orders.NewOrder(ctx, order.Request{
		Symbol:     out.Symbol,
		Side:       decision.Action,
		Quantity:   assessment.SuggestedQuantity,
		Type:       r.deps.OrderType,
		LimitPrice: limitPrice(r.deps.OrderType, quote.Price),
		StopPrice:  stopPrice(r.deps.OrderType, assessment.StopLoss),
		TraceID:    out.TraceID,
	})
	if err != nil {
		reject(out, GateOrder, "create order: "+err.Error())
		return nil
	}
	final, err := r.deps.Orders.SubmitOrder(ctx, o.ID)
	if err != nil {
		out.Order = &o
		reject(out, GateOrder, err.Error())
		return err
	}
	out.Order = &final
	if final.Status != types.OrderStatusFilled {
		reason := final.Reason
		if reason == "" {
			reason = "order " + string(final.Status)
		}
		reject(out, GateOrder, reason)
		return nil
	}

	// 5. 成交后：组合 → 交易历史
	fillPrice := final.FillPrice
	if fillPrice <= 0 {
		fillPrice = quote.Price
	}
	execCtx := context.WithoutCancel(ctx)
	if err := r.deps.Risk.Confirm(execCtx, portfolio.Fill{
		OrderID:  final.ID,
		Symbol:   final.Symbol,
		Side:     final.Side,
		Quantity: final.Quantity,
		Price:    fillPrice,
		Sector:   quote.Sector,
		At:       final.UpdatedAt,
	}); err != nil {
		err = fmt.Errorf("confirm fill %s: %w", final.ID, err)
		if !types.IsInvariant(err) {
			err = fmt.Errorf("%w: %w", types.ErrInvariant, err)
		}
		logger.Ctx(ctx).Error("portfolio confirm failed", "symbol", out.Symbol, "err", err)
		return err
	}
	r.deps.Compliance.RecordTrade(execCtx, types.TradeRecord{
		Symbol:     final.Symbol,
		Action:     final.Side,
		Quantity:   final.Quantity,
		Price:      fillPrice,
		Timestamp:  final.UpdatedAt,
		IsDayTrade: r.deps.DayTrades(final),
		OrderID:    final.ID,
	})
	return nil
}

func (r *Runner) finish(ctx context.Context, out *Outcome, runErr error) {
	elapsed := out.FinishedAt.Sub(out.StartedAt)
	status := types.OrderStatus("")
	if out.Order != nil {
		status = out.Order.Status
	}
	if r.deps.Recorder != nil {
		r.deps.Recorder.ObserveRun(out.RejectedBy, status, elapsed)
	}
	if out.RejectedBy != "" {
		logger.Ctx(ctx).Info("pipeline rejected",
			"symbol", out.Symbol, "gate", out.RejectedBy, "reason", out.RejectionReason)
	} else if out.Order != nil {
		logger.Ctx(ctx).Info("pipeline filled",
			"symbol", out.Symbol, "side", out.Order.Side, "quantity", out.Order.Quantity, "order", out.Order.ID)
	}
	if r.deps.Audit == nil {
		return
	}
	rec := decisionlog.Record{
		TraceID:    out.TraceID,
		Timestamp:  out.StartedAt.UnixMilli(),
		Symbol:     out.Symbol,
		Action:     string(out.Decision.Action),
		Confidence: out.Decision.Confidence,
		RejectedBy: out.RejectedBy,
		Reason:     out.RejectionReason,
		DurationMs: elapsed.Milliseconds(),
	}
	if out.Order != nil {
		rec.OrderID = out.Order.ID
		rec.OrderStatus = string(out.Order.Status)
	}
	if runErr != nil {
		rec.Error = runErr.Error()
	}
	if _, err := r.deps.Audit.Insert(context.WithoutCancel(ctx), rec, out); err != nil {
		logger.Ctx(ctx).Warn("audit log write failed", "err", err)
	}
}

// RunMany 并发处理多个标的；单个标的的不变量错误不会中断其它标的。
func (r *Runner) RunMany(ctx context.Context, symbols []string) ([]Outcome, error) {
	keys := symbol.KeyList(symbols)
	outcomes := make([]Outcome, len(keys))
	errs := make([]error, len(keys))
	var g errgroup.Group
	for i, sym := range keys {
		g.Go(func() error {
			outcomes[i], errs[i] = r.RunPipeline(ctx, sym)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes, errors.Join(errs...)
}

func reject(out *Outcome, gate, reason string) {
	out.RejectedBy = gate
	out.RejectionReason = reason
}

func joinReasons(list []string) string {
	switch len(list) {
	case 0:
		return ""
	case 1:
		return list[0]
	}
	s := list[0]
	for _, v := range list[1:] {
		s += "; " + v
	}
	return s
}

func limitPrice(t types.OrderType, px float64) float64 {
	if t == types.OrderTypeLimit {
		return px
	}
	return 0
}

func stopPrice(t types.OrderType, stop float64) float64 {
	if t == types.OrderTypeStop {
		return stop
	}
	return 0
}
