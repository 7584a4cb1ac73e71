package sqlite

import (
	"context"
	"time"

	"tribune/internal/store/model"
	"tribune/internal/types"
)

func (s *Store) AppendTrade(ctx context.Context, rec types.TradeRecord) error {
	row := model.TradeModel{
		OrderID:    rec.OrderID,
		Symbol:     rec.Symbol,
		Action:     string(rec.Action),
		Quantity:   rec.Quantity,
		Price:      rec.Price,
		IsDayTrade: rec.IsDayTrade,
		Timestamp:  rec.Timestamp.UTC(),
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

// ListTradesSince 返回 Timestamp > since 的记录，按时间升序。
func (s *Store) ListTradesSince(ctx context.Context, since time.Time) ([]types.TradeRecord, error) {
	var rows []model.TradeModel
	if err := s.db.WithContext(ctx).
		Where("timestamp > ?", since.UTC()).
		Order("timestamp ASC, id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]types.TradeRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, types.TradeRecord{
			OrderID:    r.OrderID,
			Symbol:     r.Symbol,
			Action:     types.Action(r.Action),
			Quantity:   r.Quantity,
			Price:      r.Price,
			IsDayTrade: r.IsDayTrade,
			Timestamp:  r.Timestamp,
		})
	}
	return out, nil
}
