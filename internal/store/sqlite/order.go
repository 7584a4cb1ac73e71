package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"tribune/internal/store/model"
	"tribune/internal/types"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var nonTerminal = []string{
	string(types.OrderStatusPending),
	string(types.OrderStatusSubmitted),
}

// SaveOrder upserts the order and appends a transition row in one transaction.
func (s *Store) SaveOrder(ctx context.Context, order types.Order, from types.OrderStatus) error {
	rec := toOrderModel(order)
	details, err := json.Marshal(map[string]any{
		"reason":     order.Reason,
		"broker":     order.Broker,
		"broker_ref": order.BrokerRef,
		"fill_price": order.FillPrice,
	})
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).Create(&rec).Error; err != nil {
			return err
		}
		evt := model.OrderEventModel{
			OrderID:    order.ID,
			FromStatus: string(from),
			ToStatus:   string(order.Status),
			Details:    datatypes.JSON(details),
			Timestamp:  time.Now().UnixMilli(),
		}
		return tx.Create(&evt).Error
	})
}

// FindOrder returns (nil, nil) when the id is unknown.
func (s *Store) FindOrder(ctx context.Context, id string) (*types.Order, error) {
	var rec model.OrderModel
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	out := fromOrderModel(rec)
	return &out, nil
}

// ListOpenOrders 返回 PENDING/SUBMITTED 订单，按创建时间升序。
func (s *Store) ListOpenOrders(ctx context.Context) ([]types.Order, error) {
	var recs []model.OrderModel
	if err := s.db.WithContext(ctx).
		Where("status IN ?", nonTerminal).
		Order("created_at ASC").
		Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]types.Order, 0, len(recs))
	for _, r := range recs {
		out = append(out, fromOrderModel(r))
	}
	return out, nil
}

// ListOrderEvents 按时间顺序返回订单的状态流转。
func (s *Store) ListOrderEvents(ctx context.Context, orderID string) ([]model.OrderEventModel, error) {
	var logs []model.OrderEventModel
	if err := s.db.WithContext(ctx).Where("order_id = ?", orderID).Order("id ASC").Find(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}

// PurgeOrders 删除早于 before 的终态订单及其流转记录。
func (s *Store) PurgeOrders(ctx context.Context, before time.Time) (int64, error) {
	var purged int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []string
		if err := tx.Model(&model.OrderModel{}).
			Where("status NOT IN ? AND updated_at < ?", nonTerminal, before).
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		if err := tx.Where("order_id IN ?", ids).Delete(&model.OrderEventModel{}).Error; err != nil {
			return err
		}
		res := tx.Where("id IN ?", ids).Delete(&model.OrderModel{})
		purged = res.RowsAffected
		return res.Error
	})
	return purged, err
}

func toOrderModel(o types.Order) model.OrderModel {
	return model.OrderModel{
		ID:         o.ID,
		Symbol:     o.Symbol,
		Side:       string(o.Side),
		Quantity:   o.Quantity,
		Type:       string(o.Type),
		LimitPrice: o.LimitPrice,
		StopPrice:  o.StopPrice,
		Status:     string(o.Status),
		Broker:     o.Broker,
		BrokerRef:  o.BrokerRef,
		FillPrice:  o.FillPrice,
		Reason:     o.Reason,
		TraceID:    o.TraceID,
		CreatedAt:  o.CreatedAt,
		UpdatedAt:  o.UpdatedAt,
	}
}

func fromOrderModel(m model.OrderModel) types.Order {
	return types.Order{
		ID:         m.ID,
		Symbol:     m.Symbol,
		Side:       types.Action(m.Side),
		Quantity:   m.Quantity,
		Type:       types.OrderType(m.Type),
		LimitPrice: m.LimitPrice,
		StopPrice:  m.StopPrice,
		Status:     types.OrderStatus(m.Status),
		Broker:     m.Broker,
		BrokerRef:  m.BrokerRef,
		FillPrice:  m.FillPrice,
		Reason:     m.Reason,
		TraceID:    m.TraceID,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}
