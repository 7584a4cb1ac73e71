package consensus

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"tribune/internal/config"
	"tribune/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T, timeout time.Duration) *config.TunableStore {
	t.Helper()
	tun := config.TunablesFromConfig(config.Default())
	tun.SourceTimeout = timeout
	store, err := config.NewTunableStore(tun)
	require.NoError(t, err)
	return store
}

func fixed(name string, actions ...types.Action) Source {
	return SourceFunc{ID: name, Fn: func(_ context.Context, symbol string) ([]types.Signal, error) {
		out := make([]types.Signal, 0, len(actions))
		for _, a := range actions {
			out = append(out, types.Signal{Symbol: symbol, Action: a, Confidence: 0.8, Source: name})
		}
		return out, nil
	}}
}

func TestGetConsensusToleratesFailingSources(t *testing.T) {
	slow := SourceFunc{ID: "slow", Fn: func(ctx context.Context, _ string) ([]types.Signal, error) {
		time.Sleep(time.Second)
		return nil, nil
	}}
	broken := SourceFunc{ID: "broken", Fn: func(context.Context, string) ([]types.Signal, error) {
		return nil, errors.New("upstream down")
	}}
	panicky := SourceFunc{ID: "panicky", Fn: func(context.Context, string) ([]types.Signal, error) {
		panic("boom")
	}}
	reg, err := NewRegistry(fixed("a", types.ActionBuy), slow, broken, panicky, fixed("b", types.ActionBuy))
	require.NoError(t, err)

	agg := NewAggregator(reg, newStore(t, 50*time.Millisecond))
	start := time.Now()
	d := agg.GetConsensus(context.Background(), "aapl")

	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, "AAPL", d.Symbol)
	assert.Equal(t, types.ActionBuy, d.Action)
	assert.Equal(t, 2, d.SignalCount)
	assert.Equal(t, []string{"slow", "broken", "panicky"}, d.FailedSources)
}

func TestGetConsensusQueriesSourcesConcurrently(t *testing.T) {
	const (
		n     = 5
		delay = 200 * time.Millisecond
	)
	sources := make([]Source, 0, n)
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("agent-%d", i)
		sources = append(sources, SourceFunc{ID: name, Fn: func(_ context.Context, sym string) ([]types.Signal, error) {
			time.Sleep(delay)
			return []types.Signal{{Symbol: sym, Action: types.ActionBuy, Confidence: 0.8, Source: name}}, nil
		}})
	}
	reg, err := NewRegistry(sources...)
	require.NoError(t, err)
	agg := NewAggregator(reg, newStore(t, 2*time.Second))

	start := time.Now()
	d := agg.GetConsensus(context.Background(), "AAPL")
	elapsed := time.Since(start)

	assert.Equal(t, n, d.SignalCount)
	assert.Empty(t, d.FailedSources)
	// 串行需要 n×delay；并发只受最慢的来源约束
	assert.Less(t, elapsed, 2*delay, "elapsed %s", elapsed)
}

func TestGetConsensusCycleIncrements(t *testing.T) {
	reg, err := NewRegistry(fixed("a", types.ActionHold))
	require.NoError(t, err)
	agg := NewAggregator(reg, newStore(t, time.Second))

	first := agg.GetConsensus(context.Background(), "AAPL")
	second := agg.GetConsensus(context.Background(), "AAPL")
	other := agg.GetConsensus(context.Background(), "MSFT")
	assert.Equal(t, uint64(1), first.Cycle)
	assert.Equal(t, uint64(2), second.Cycle)
	assert.Equal(t, uint64(1), other.Cycle)
}

func TestSetThresholdValidates(t *testing.T) {
	reg, _ := NewRegistry()
	agg := NewAggregator(reg, newStore(t, time.Second))
	assert.Error(t, agg.SetThreshold(0))
	assert.Error(t, agg.SetThreshold(1.1))
	require.NoError(t, agg.SetThreshold(0.5))
	assert.Equal(t, 0.5, agg.Threshold())
}

func TestThresholdChangeAffectsNextDecision(t *testing.T) {
	reg, err := NewRegistry(fixed("a", types.ActionBuy, types.ActionHold))
	require.NoError(t, err)
	agg := NewAggregator(reg, newStore(t, time.Second))

	assert.Equal(t, types.ActionHold, agg.GetConsensus(context.Background(), "AAPL").Action)
	require.NoError(t, agg.SetThreshold(0.5))
	assert.Equal(t, types.ActionBuy, agg.GetConsensus(context.Background(), "AAPL").Action)
}

func TestRegistryMutations(t *testing.T) {
	reg, err := NewRegistry(fixed("a"), fixed("b"))
	require.NoError(t, err)
	assert.Error(t, reg.Register(fixed("a")))
	assert.True(t, reg.Remove("a"))
	assert.False(t, reg.Remove("a"))
	require.NoError(t, reg.Register(fixed("c")))
	assert.Equal(t, []string{"b", "c"}, reg.Names())
}
