package models

import "gorm.io/gorm"

const (
	BackupPending   = "pending"
	BackupDelivered = "delivered"
)

// SignalBackup is the redundant copy of a raw signal payload, written as a
// fire-and-forget side effect of ingestion. It is deliberately decoupled from
// the deliveries table so a crash mid-fan-out never loses the original trade.
type SignalBackup struct {
	gorm.Model
	HostID   uint `gorm:"column:host_id;index;not null" json:"host_id"`
	SignalID uint `gorm:"column:signal_id;uniqueIndex;not null" json:"signal_id"`

	Payload TradePayload `gorm:"column:payload;type:jsonb" json:"payload"`

	Status        string `gorm:"column:status;size:50;not null;default:pending" json:"status"`
	DeliveryCount int    `gorm:"column:delivery_count;default:0" json:"delivery_count"`
}

func (SignalBackup) TableName() string {
	return "signal_backups"
}
