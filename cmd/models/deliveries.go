package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	DeliveryPending      = "pending"
	DeliveryDelivered    = "delivered"
	DeliveryAcknowledged = "acknowledged"
	DeliveryExecuted     = "executed"
	DeliveryFailed       = "failed"
	DeliverySkipped      = "skipped"
)

// Delivery tracks one signal on its way to one subscriber. Exactly one row
// exists per (signal, subscriber) pair that was eligible at fan-out time;
// skipped rows record why the preference filter turned the signal away.
type Delivery struct {
	gorm.Model
	SignalID     uint   `gorm:"column:signal_id;not null;uniqueIndex:idx_signal_subscriber" json:"signal_id"`
	SubscriberID uint   `gorm:"column:subscriber_id;not null;uniqueIndex:idx_signal_subscriber;index" json:"subscriber_id"`
	Status       string `gorm:"column:status;size:50;not null;default:pending;index" json:"status"`
	Error        string `gorm:"column:error;type:text" json:"error,omitempty"`

	// Per-subscriber copy of the trade, position-size clamp already applied.
	Payload TradePayload `gorm:"column:payload;type:jsonb" json:"payload"`

	DeliveredAt    *time.Time `gorm:"column:delivered_at" json:"delivered_at,omitempty"`
	AcknowledgedAt *time.Time `gorm:"column:acknowledged_at" json:"acknowledged_at,omitempty"`
	ExecutedAt     *time.Time `gorm:"column:executed_at" json:"executed_at,omitempty"`

	RetryCount int `gorm:"column:retry_count;default:0" json:"retry_count"`

	Signal     *Signal     `gorm:"foreignKey:SignalID" json:"signal,omitempty"`
	Subscriber *Subscriber `gorm:"foreignKey:SubscriberID" json:"subscriber,omitempty"`
}

func (Delivery) TableName() string {
	return "deliveries"
}
