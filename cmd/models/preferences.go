package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// TradingHours restricts delivery to a daily window in the subscriber's
// timezone. Start and End are zero-padded "HH:MM" strings; Start > End means
// the window wraps past midnight.
type TradingHours struct {
	Enabled  bool   `json:"enabled"`
	Start    string `json:"start"`
	End      string `json:"end"`
	Timezone string `json:"timezone"`
}

type RiskSettings struct {
	MaxPositionSize float64 `json:"max_position_size"`
	MaxDailyLoss    float64 `json:"max_daily_loss"`
	MaxDailyProfit  float64 `json:"max_daily_profit"`
	StopOnDailyLoss bool    `json:"stop_on_daily_loss"`
}

// Preferences is the subscriber-owned delivery configuration. It is stored as
// a single jsonb column and always normalized at the write boundary, so code
// reading it never has to deal with missing fields.
type Preferences struct {
	MaxTradesPerDay  int          `json:"max_trades_per_day"`
	Sessions         []string     `json:"sessions"`
	TradingHours     TradingHours `json:"trading_hours"`
	Risk             RiskSettings `json:"risk"`
	SymbolsWhitelist []string     `json:"symbols_whitelist"`
	SymbolsBlacklist []string     `json:"symbols_blacklist"`
	AutoExecute      bool         `json:"auto_execute"`
}

func DefaultPreferences() Preferences {
	return Preferences{
		MaxTradesPerDay: 0,
		Sessions:        []string{},
		TradingHours: TradingHours{
			Enabled:  false,
			Start:    "00:00",
			End:      "23:59",
			Timezone: "America/New_York",
		},
		Risk:             RiskSettings{},
		SymbolsWhitelist: []string{},
		SymbolsBlacklist: []string{},
		AutoExecute:      true,
	}
}

// Normalize coerces a decoded preference object into a safe shape: negative
// counters clamped to zero, nil slices replaced, unknown session names
// dropped, and an empty timezone replaced with the default.
func (p *Preferences) Normalize() {
	if p.MaxTradesPerDay < 0 {
		p.MaxTradesPerDay = 0
	}
	if p.Risk.MaxPositionSize < 0 {
		p.Risk.MaxPositionSize = 0
	}
	sessions := make([]string, 0, len(p.Sessions))
	for _, s := range p.Sessions {
		switch s {
		case SessionAsia, SessionLondon, SessionNY:
			sessions = append(sessions, s)
		}
	}
	p.Sessions = sessions
	if p.SymbolsWhitelist == nil {
		p.SymbolsWhitelist = []string{}
	}
	if p.SymbolsBlacklist == nil {
		p.SymbolsBlacklist = []string{}
	}
	if p.TradingHours.Timezone == "" {
		p.TradingHours.Timezone = "America/New_York"
	}
	if p.TradingHours.Start == "" {
		p.TradingHours.Start = "00:00"
	}
	if p.TradingHours.End == "" {
		p.TradingHours.End = "23:59"
	}
}

const (
	SessionAsia   = "asia"
	SessionLondon = "london"
	SessionNY     = "ny"
)

func (p Preferences) Value() (driver.Value, error) {
	return json.Marshal(p)
}

func (p *Preferences) Scan(value interface{}) error {
	if value == nil {
		*p = DefaultPreferences()
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported preferences column type %T", value)
	}
	*p = DefaultPreferences()
	return json.Unmarshal(data, p)
}
