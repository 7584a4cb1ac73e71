package rest

// orderRequest 是券商网关 POST /orders 的请求体。
type orderRequest struct {
	ClientOrderID string  `json:"client_order_id"`
	Symbol        string  `json:"symbol"`
	Side          string  `json:"side"`
	Qty           float64 `json:"qty"`
	Type          string  `json:"type"`
	LimitPrice    float64 `json:"limit_price,omitempty"`
	StopPrice     float64 `json:"stop_price,omitempty"`
	TimeInForce   string  `json:"time_in_force"`
}

type orderResponse struct {
	ID             string  `json:"id"`
	Status         string  `json:"status"`
	FilledAvgPrice float64 `json:"filled_avg_price"`
	Reason         string  `json:"reason"`
}

type positionResponse struct {
	Symbol        string  `json:"symbol"`
	Qty           float64 `json:"qty"`
	AvgEntryPrice float64 `json:"avg_entry_price"`
	Sector        string  `json:"sector"`
}

type quoteResponse struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
}

type accountResponse struct {
	Equity      float64 `json:"equity"`
	Cash        float64 `json:"cash"`
	BuyingPower float64 `json:"buying_power"`
}
