package models

import (
	"time"

	"gorm.io/gorm"
)

type Host struct {
	gorm.Model
	Name         string `gorm:"column:name;size:255;not null" json:"name"`
	Email        string `gorm:"column:email;size:255;uniqueIndex;not null" json:"email"`
	PasswordHash string `gorm:"column:password_hash;size:255;not null" json:"-"`
	APIKey       string `gorm:"column:api_key;size:64;uniqueIndex;not null" json:"api_key,omitempty"`
	Active       bool   `gorm:"column:active;default:true" json:"active"`

	// Hard cap on how many subscribers the host may register. 0 means unlimited.
	SubscriberLimit int `gorm:"column:subscriber_limit;default:0" json:"subscriber_limit"`

	Refresh               string    `gorm:"column:refresh_token;size:255" json:"-"`
	RefreshTokenExpiredAt time.Time `gorm:"column:refresh_token_expired_at" json:"-"`

	Subscribers []Subscriber `gorm:"foreignKey:HostID" json:"subscribers,omitempty"`
}

func (Host) TableName() string {
	return "hosts"
}
