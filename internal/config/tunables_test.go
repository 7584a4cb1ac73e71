package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTunablesFromConfigNormalizesKeys(t *testing.T) {
	cfg := Default()
	cfg.Compliance.RestrictedSymbols = []string{"gme"}
	cfg.Market.Sectors = map[string]string{"btcusdt": "Crypto"}
	tun := TunablesFromConfig(cfg)

	assert.True(t, tun.IsRestricted("GME"))
	assert.Equal(t, "Crypto", tun.SectorOf("BTC/USDT"))
	assert.Equal(t, defaultSector, tun.SectorOf("ZZZZ"))
	assert.Equal(t, 5*24*time.Hour, tun.PDTWindow)
}

func TestTunableStoreUpdate(t *testing.T) {
	store, err := NewTunableStore(TunablesFromConfig(Default()))
	require.NoError(t, err)
	require.Equal(t, int64(1), store.Get().Version)

	var seen []float64
	store.Subscribe(func(snap Tunables) { seen = append(seen, snap.ConsensusThreshold) })
	store.Subscribe(func(Tunables) { panic("listener bug") })

	require.NoError(t, store.Update(func(next *Tunables) { next.ConsensusThreshold = 0.75 }))
	assert.Equal(t, 0.75, store.Get().ConsensusThreshold)
	assert.Equal(t, int64(2), store.Get().Version)
	assert.Equal(t, []float64{0.75}, seen)

	err = store.Update(func(next *Tunables) { next.ConsensusThreshold = 1.5 })
	require.Error(t, err)
	assert.Equal(t, 0.75, store.Get().ConsensusThreshold)
	assert.Equal(t, int64(2), store.Get().Version)
}

func TestTunableStoreSnapshotsAreIsolated(t *testing.T) {
	store, err := NewTunableStore(TunablesFromConfig(Default()))
	require.NoError(t, err)
	before := store.Get()
	require.NoError(t, store.Update(func(next *Tunables) { next.Restricted["AMC"] = struct{}{} }))
	assert.False(t, before.IsRestricted("AMC"))
	assert.True(t, store.Get().IsRestricted("AMC"))
}

func TestNewTunableStoreValidates(t *testing.T) {
	tun := TunablesFromConfig(Default())
	tun.SourceTimeout = 0
	_, err := NewTunableStore(tun)
	assert.Error(t, err)
}
