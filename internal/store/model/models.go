package model

import "time"

// OrderModel maps to 'orders' table.
type OrderModel struct {
	ID         string    `gorm:"column:id;primaryKey"`
	Symbol     string    `gorm:"column:symbol;index"`
	Side       string    `gorm:"column:side"`
	Quantity   float64   `gorm:"column:quantity"`
	Type       string    `gorm:"column:type"`
	LimitPrice float64   `gorm:"column:limit_price"`
	StopPrice  float64   `gorm:"column:stop_price"`
	Status     string    `gorm:"column:status;index"`
	Broker     string    `gorm:"column:broker"`
	BrokerRef  string    `gorm:"column:broker_ref"`
	FillPrice  float64   `gorm:"column:fill_price"`
	Reason     string    `gorm:"column:reason"`
	TraceID    string    `gorm:"column:trace_id"`
	CreatedAt  time.Time `gorm:"column:created_at"`
	UpdatedAt  time.Time `gorm:"column:updated_at"`
}

func (OrderModel) TableName() string { return "orders" }

// PositionModel maps to 'positions' table.
type PositionModel struct {
	Symbol    string    `gorm:"column:symbol;primaryKey"`
	Quantity  float64   `gorm:"column:quantity"`
	AvgPrice  float64   `gorm:"column:avg_price"`
	Sector    string    `gorm:"column:sector"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (PositionModel) TableName() string { return "positions" }

// TradeModel maps to 'trade_history' table (append-only).
type TradeModel struct {
	ID         int64     `gorm:"column:id;primaryKey;autoIncrement"`
	OrderID    string    `gorm:"column:order_id"`
	Symbol     string    `gorm:"column:symbol;index"`
	Action     string    `gorm:"column:action"`
	Quantity   float64   `gorm:"column:quantity"`
	Price      float64   `gorm:"column:price"`
	IsDayTrade bool      `gorm:"column:is_day_trade"`
	Timestamp  time.Time `gorm:"column:timestamp;index"`
}

func (TradeModel) TableName() string { return "trade_history" }
