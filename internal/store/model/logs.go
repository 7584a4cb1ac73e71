package model

import "gorm.io/datatypes"

// OrderEventModel maps to 'order_event_log' table: one row per state transition.
type OrderEventModel struct {
	ID         int64          `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	OrderID    string         `gorm:"column:order_id;index" json:"order_id"`
	FromStatus string         `gorm:"column:from_status" json:"from"`
	ToStatus   string         `gorm:"column:to_status" json:"to"`
	Details    datatypes.JSON `gorm:"column:details" json:"details,omitempty"`
	Timestamp  int64          `gorm:"column:timestamp" json:"ts"`
}

func (OrderEventModel) TableName() string { return "order_event_log" }
