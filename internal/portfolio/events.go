package portfolio

import (
	"time"

	"tribune/internal/types"
)

type EventType string

const (
	EventApplyFill     EventType = "apply_fill"
	EventSetTotalValue EventType = "set_total_value"
	EventSyncPositions EventType = "sync_positions"
)

// EventEnvelope 是发往 Book actor 的消息；ReplyCh 非空时处理结果会回写。
type EventEnvelope struct {
	ID      string
	Type    EventType
	Payload any
	ReplyCh chan error
}

// Fill 是一次已确认的成交。
type Fill struct {
	OrderID  string
	Symbol   string
	Side     types.Action
	Quantity float64
	Price    float64
	Sector   string
	At       time.Time
}

type totalValuePayload struct {
	Value float64
}

type syncPayload struct {
	Positions []types.Position
}
