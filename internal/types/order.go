package types

import "time"

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusSubmitted OrderStatus = "SUBMITTED"
	OrderStatusFilled    OrderStatus = "FILLED"
	OrderStatusRejected  OrderStatus = "REJECTED"
	OrderStatusCancelled OrderStatus = "CANCELLED"

	// OrderStatusNotFound is returned by lookups for unknown ids.
	OrderStatusNotFound OrderStatus = "NOT_FOUND"
)

// IsTerminal reports whether no further transition is allowed.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusRejected, OrderStatusCancelled:
		return true
	default:
		return false
	}
}

type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeStop   OrderType = "STOP"
)

// ParseOrderType falls back to MARKET for unknown input.
func ParseOrderType(raw string) OrderType {
	switch OrderType(raw) {
	case OrderTypeLimit, OrderTypeStop:
		return OrderType(raw)
	default:
		return OrderTypeMarket
	}
}

// Order is owned by the order manager; every other component holds copies.
type Order struct {
	ID         string      `json:"id"`
	Symbol     string      `json:"symbol"`
	Side       Action      `json:"side"`
	Quantity   float64     `json:"quantity"`
	Type       OrderType   `json:"type"`
	LimitPrice float64     `json:"limit_price,omitempty"`
	StopPrice  float64     `json:"stop_price,omitempty"`
	Status     OrderStatus `json:"status"`
	Broker     string      `json:"broker,omitempty"`
	BrokerRef  string      `json:"broker_ref,omitempty"`
	FillPrice  float64     `json:"fill_price,omitempty"`
	Reason     string      `json:"reason,omitempty"`
	TraceID    string      `json:"trace_id,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}
