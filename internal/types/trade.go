package types

import "time"

// TradeRecord is one append-only history entry used by compliance windows.
type TradeRecord struct {
	Symbol     string    `json:"symbol"`
	Action     Action    `json:"action"`
	Quantity   float64   `json:"quantity"`
	Price      float64   `json:"price"`
	Timestamp  time.Time `json:"timestamp"`
	IsDayTrade bool      `json:"is_day_trade"`
	OrderID    string    `json:"order_id,omitempty"`
}
