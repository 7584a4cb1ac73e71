package sqlite

import (
	"context"
	"time"

	"tribune/internal/store/model"
	"tribune/internal/types"

	"gorm.io/gorm/clause"
)

func (s *Store) ListPositions(ctx context.Context) ([]types.Position, error) {
	var recs []model.PositionModel
	if err := s.db.WithContext(ctx).Order("symbol ASC").Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]types.Position, 0, len(recs))
	for _, r := range recs {
		out = append(out, types.Position{Symbol: r.Symbol, Quantity: r.Quantity, AvgPrice: r.AvgPrice, Sector: r.Sector})
	}
	return out, nil
}

func (s *Store) SavePosition(ctx context.Context, pos types.Position) error {
	rec := model.PositionModel{
		Symbol:    pos.Symbol,
		Quantity:  pos.Quantity,
		AvgPrice:  pos.AvgPrice,
		Sector:    pos.Sector,
		UpdatedAt: time.Now(),
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "symbol"}},
		UpdateAll: true,
	}).Create(&rec).Error
}

func (s *Store) DeletePosition(ctx context.Context, symbol string) error {
	return s.db.WithContext(ctx).Where("symbol = ?", symbol).Delete(&model.PositionModel{}).Error
}
