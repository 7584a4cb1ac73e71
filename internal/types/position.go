package types

import (
	"time"
)

// Position is a held quantity of one symbol.
type Position struct {
	Symbol   string  `json:"symbol"`
	Quantity float64 `json:"quantity"`
	AvgPrice float64 `json:"avg_price"`
	Sector   string  `json:"sector,omitempty"`
}

// Value is the position's book value at its average price.
func (p Position) Value() float64 {
	return p.Quantity * p.AvgPrice
}

// PortfolioSnapshot is a read-only copy of the portfolio book.
type PortfolioSnapshot struct {
	TotalValue     float64             `json:"total_value"`
	Positions      map[string]Position `json:"positions"`
	SectorExposure map[string]float64  `json:"sector_exposure"`
	Exposure       float64             `json:"exposure"`
	Version        uint64              `json:"version"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

// SectorValue returns the notional currently held in a sector.
func (p PortfolioSnapshot) SectorValue(sector string) float64 {
	if p.TotalValue <= 0 {
		return 0
	}
	return p.SectorExposure[sector] * p.TotalValue
}

// Account 账户资金概要（由行情/账户提供方拉取）。
type Account struct {
	Equity      float64   `json:"equity"`
	Cash        float64   `json:"cash"`
	BuyingPower float64   `json:"buying_power"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Quote 是单一标的的最新价格与行业分类。
type Quote struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Sector    string    `json:"sector"`
	UpdatedAt time.Time `json:"updated_at"`
}
