package models

import "gorm.io/gorm"

// Device holds an Expo push token for a subscriber's phone. Mobile pushes are
// a best-effort side channel on fan-out, never a tracked delivery transport.
type Device struct {
	gorm.Model
	Token        string `gorm:"not null;uniqueIndex:idx_token_subscriber" json:"token"`
	SubscriberID uint   `gorm:"not null;index;uniqueIndex:idx_token_subscriber" json:"subscriber_id"`
	DeviceType   string `gorm:"type:varchar(50)" json:"device_type"`
	DeviceName   string `gorm:"type:varchar(100)" json:"device_name,omitempty"`
}
