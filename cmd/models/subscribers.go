package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	SubscriberActive   = "active"
	SubscriberInactive = "inactive"
)

type Subscriber struct {
	gorm.Model
	HostID uint   `gorm:"column:host_id;index;not null" json:"host_id"`
	Name   string `gorm:"column:name;size:255;not null" json:"name"`
	APIKey string `gorm:"column:api_key;size:64;uniqueIndex;not null" json:"api_key,omitempty"`
	Status string `gorm:"column:status;size:50;not null;default:active" json:"status"`

	// Nil means the subscription never expires.
	ExpiresAt *time.Time `gorm:"column:expires_at;index" json:"expires_at,omitempty"`

	Preferences Preferences `gorm:"column:preferences;type:jsonb" json:"preferences"`

	DailyTradeCount int        `gorm:"column:daily_trade_count;default:0" json:"daily_trade_count"`
	LastTradeDate   *time.Time `gorm:"column:last_trade_date" json:"last_trade_date,omitempty"`

	WebhookURL    string `gorm:"column:webhook_url;size:500" json:"webhook_url,omitempty"`
	WebhookSecret string `gorm:"column:webhook_secret;size:255" json:"-"`

	Host *Host `gorm:"foreignKey:HostID" json:"host,omitempty"`
}

func (Subscriber) TableName() string {
	return "subscribers"
}

// Eligible reports whether the subscriber should be considered during fan-out:
// active and either non-expiring or not yet expired. Soft-deleted rows are
// excluded by gorm before this is ever consulted.
func (s *Subscriber) Eligible(now time.Time) bool {
	if s.Status != SubscriberActive {
		return false
	}
	if s.ExpiresAt != nil && !s.ExpiresAt.After(now) {
		return false
	}
	return true
}
