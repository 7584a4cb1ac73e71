package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tribune/internal/logger"
	"tribune/internal/pkg/circuit"
	"tribune/internal/pkg/retry"
	"tribune/internal/types"
)

// Guarded 为场所调用加上熔断与传输错误重试。
// 场所明确拒单（PlaceResult.Success=false）不重试也不计入熔断。
type Guarded struct {
	inner   Broker
	breaker *circuit.CircuitBreaker
	policy  retry.Policy
}

func NewGuarded(inner Broker, breaker *circuit.CircuitBreaker, policy retry.Policy) *Guarded {
	if breaker != nil {
		// 调用方自己取消不算场所故障。
		breaker.SetFailureFilter(func(err error) bool { return !errors.Is(err, context.Canceled) })
	}
	return &Guarded{inner: inner, breaker: breaker, policy: policy}
}

func (g *Guarded) Name() string { return g.inner.Name() }

func (g *Guarded) Unwrap() Broker { return g.inner }

func (g *Guarded) PlaceOrder(ctx context.Context, order types.Order) (PlaceResult, error) {
	// 下单只在熔断层面保护，不自动重试，避免重复成交。
	var res PlaceResult
	err := g.call(func() error {
		var err error
		res, err = g.inner.PlaceOrder(ctx, order)
		return err
	})
	return res, err
}

func (g *Guarded) CancelOrder(ctx context.Context, brokerOrderID string) (bool, error) {
	return retry.Do(ctx, g.policy, isTransient, g.onRetry("cancel"), func(ctx context.Context) (bool, error) {
		var ok bool
		err := g.call(func() error {
			var err error
			ok, err = g.inner.CancelOrder(ctx, brokerOrderID)
			return err
		})
		return ok, err
	})
}

func (g *Guarded) GetPositions(ctx context.Context) ([]types.Position, error) {
	return retry.Do(ctx, g.policy, isTransient, g.onRetry("positions"), func(ctx context.Context) ([]types.Position, error) {
		var list []types.Position
		err := g.call(func() error {
			var err error
			list, err = g.inner.GetPositions(ctx)
			return err
		})
		return list, err
	})
}

func (g *Guarded) GetPrice(ctx context.Context, symbol string) (float64, error) {
	qp, ok := g.inner.(QuoteProvider)
	if !ok {
		return 0, fmt.Errorf("broker %s does not provide quotes", g.Name())
	}
	return retry.Do(ctx, g.policy, isTransient, g.onRetry("price"), func(ctx context.Context) (float64, error) {
		var px float64
		err := g.call(func() error {
			var err error
			px, err = qp.GetPrice(ctx, symbol)
			return err
		})
		return px, err
	})
}

func (g *Guarded) GetAccount(ctx context.Context) (types.Account, error) {
	ap, ok := g.inner.(AccountProvider)
	if !ok {
		return types.Account{}, fmt.Errorf("broker %s does not provide account data", g.Name())
	}
	return retry.Do(ctx, g.policy, isTransient, g.onRetry("account"), func(ctx context.Context) (types.Account, error) {
		var acct types.Account
		err := g.call(func() error {
			var err error
			acct, err = ap.GetAccount(ctx)
			return err
		})
		return acct, err
	})
}

func (g *Guarded) call(fn func() error) error {
	if g.breaker == nil {
		return fn()
	}
	err := g.breaker.Execute(fn)
	if errors.Is(err, circuit.ErrOpen) {
		return fmt.Errorf("%w: %w", types.ErrBrokerFailure, err)
	}
	return err
}

func (g *Guarded) onRetry(op string) retry.OnRetryFunc {
	return func(attempt int, err error, backoff time.Duration) {
		logger.Warnf("broker %s %s retry #%d in %s: %v", g.Name(), op, attempt, backoff, err)
	}
}

// 熔断打开时不重试，等待冷却。
func isTransient(err error) bool {
	return err != nil && !errors.Is(err, circuit.ErrOpen) && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
