package risk

import (
	"sort"

	"tribune/internal/types"
)

// Metrics 汇总组合敞口。
type Metrics struct {
	TotalExposure     float64            `json:"total_exposure"`
	ExposurePct       float64            `json:"exposure_pct"`
	PositionExposure  map[string]float64 `json:"position_exposure"`
	LargestPosition   string             `json:"largest_position,omitempty"`
	ConcentrationTop3 float64            `json:"concentration_top3"`
}

// PortfolioMetrics 计算总敞口及每个持仓占组合总值的比例。
func PortfolioMetrics(snap types.PortfolioSnapshot) Metrics {
	out := Metrics{PositionExposure: make(map[string]float64, len(snap.Positions))}
	type entry struct {
		symbol string
		value  float64
	}
	entries := make([]entry, 0, len(snap.Positions))
	for sym, pos := range snap.Positions {
		value := pos.Value()
		out.TotalExposure += value
		entries = append(entries, entry{symbol: sym, value: value})
	}
	if snap.TotalValue <= 0 {
		return out
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].value == entries[j].value {
			return entries[i].symbol < entries[j].symbol
		}
		return entries[i].value > entries[j].value
	})
	for i, e := range entries {
		share := e.value / snap.TotalValue
		out.PositionExposure[e.symbol] = share
		if i < 3 {
			out.ConcentrationTop3 += share
		}
	}
	if len(entries) > 0 {
		out.LargestPosition = entries[0].symbol
	}
	out.ExposurePct = out.TotalExposure / snap.TotalValue
	return out
}
