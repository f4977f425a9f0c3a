package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"
)

const SignalReceived = "received"

type Signal struct {
	gorm.Model
	HostID    uint   `gorm:"column:host_id;index;not null" json:"host_id"`
	Reference string `gorm:"column:reference;size:64;uniqueIndex;not null" json:"reference"`
	Status    string `gorm:"column:status;size:50;not null;default:received" json:"status"`

	Symbol     string  `gorm:"column:symbol;size:50;not null" json:"symbol"`
	Side       string  `gorm:"column:side;size:10;not null" json:"side"`
	Quantity   float64 `gorm:"column:quantity" json:"quantity,omitempty"`
	OrderType  string  `gorm:"column:order_type;size:50" json:"order_type,omitempty"`
	EntryPrice float64 `gorm:"column:entry_price" json:"entry_price,omitempty"`
	StopLoss   float64 `gorm:"column:stop_loss" json:"stop_loss,omitempty"`

	TakeProfits pq.Float64Array `gorm:"type:float[];column:take_profits" json:"take_profits,omitempty"`

	SentAt *time.Time `gorm:"column:sent_at" json:"sent_at,omitempty"`

	// Backfilled after the trade plays out; never set at ingestion time.
	Result string  `gorm:"column:result;size:50" json:"result,omitempty"`
	PnL    float64 `gorm:"column:pnl" json:"pnl,omitempty"`

	Host       *Host      `gorm:"foreignKey:HostID" json:"host,omitempty"`
	Deliveries []Delivery `gorm:"foreignKey:SignalID" json:"deliveries,omitempty"`
}

func (Signal) TableName() string {
	return "signals"
}

// TradePayload is the trade object as it travels to subscribers: the inbound
// ingestion body, the per-subscriber delivery copy, and the backup record all
// use this shape.
type TradePayload struct {
	Symbol      string     `json:"symbol"`
	Side        string     `json:"side"`
	Quantity    float64    `json:"quantity,omitempty"`
	OrderType   string     `json:"order_type,omitempty"`
	EntryPrice  float64    `json:"entry_price,omitempty"`
	StopLoss    float64    `json:"stop_loss,omitempty"`
	TakeProfits []float64  `json:"take_profits,omitempty"`
	SentAt      *time.Time `json:"sent_at,omitempty"`

	// Set by the position-size clamp so the pre-clamp request stays auditable.
	OriginalQuantity float64 `json:"original_quantity,omitempty"`
}

func (t TradePayload) Value() (driver.Value, error) {
	return json.Marshal(t)
}

func (t *TradePayload) Scan(value interface{}) error {
	if value == nil {
		*t = TradePayload{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported trade payload column type %T", value)
	}
	return json.Unmarshal(data, t)
}

// Payload reassembles the trade object from the flattened signal columns.
func (s *Signal) Payload() TradePayload {
	return TradePayload{
		Symbol:      s.Symbol,
		Side:        s.Side,
		Quantity:    s.Quantity,
		OrderType:   s.OrderType,
		EntryPrice:  s.EntryPrice,
		StopLoss:    s.StopLoss,
		TakeProfits: []float64(s.TakeProfits),
		SentAt:      s.SentAt,
	}
}
