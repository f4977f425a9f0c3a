package prefs

import (
	"strings"
	"time"

	"github.com/signalflowhq/SignalFlow-server/cmd/models"
)

// Deny reasons recorded on skipped deliveries.
const (
	ReasonDailyLimitReached    = "daily_limit_reached"
	ReasonAutoExecuteDisabled  = "auto_execute_disabled"
	ReasonOutsideSessionPrefix = "outside_session_"
	ReasonOutsideTradingHours  = "outside_trading_hours"
	ReasonSymbolNotWhitelisted = "symbol_not_whitelisted"
	ReasonSymbolBlacklisted    = "symbol_blacklisted"
)

// Decision is the outcome of evaluating one subscriber's preferences against
// one trade. Reason is empty when Allowed is true.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

func allow() Decision {
	return Decision{Allowed: true}
}

func deny(reason string) Decision {
	return Decision{Allowed: false, Reason: reason}
}

// ShouldDeliver decides whether a trade reaches a subscriber. Pure: no I/O,
// deterministic given now. Checks run in a fixed order and the first failing
// check wins, so the recorded reason is always the earliest violation.
func ShouldDeliver(sub *models.Subscriber, trade *models.TradePayload, now time.Time) Decision {
	p := sub.Preferences
	loc := Location(p.TradingHours.Timezone)
	local := now.In(loc)

	// 1. Daily trade cap. Dates compare as calendar days in the subscriber's
	// timezone, not as instants.
	if p.MaxTradesPerDay > 0 && sub.LastTradeDate != nil {
		last := sub.LastTradeDate.In(loc)
		if SameCalendarDay(last, local) && sub.DailyTradeCount >= p.MaxTradesPerDay {
			return deny(ReasonDailyLimitReached)
		}
	}

	// 2. Auto-execute switch.
	if !p.AutoExecute {
		return deny(ReasonAutoExecuteDisabled)
	}

	// 3. Session filter. Only active when the subscriber has restricted
	// sessions: an empty or full set means all sessions are welcome.
	if len(p.Sessions) > 0 && len(p.Sessions) < 3 {
		current := CurrentSession(local)
		if !containsFold(p.Sessions, current) {
			return deny(ReasonOutsideSessionPrefix + current)
		}
	}

	// 4. Trading hours window.
	if p.TradingHours.Enabled {
		if !withinTradingHours(p.TradingHours.Start, p.TradingHours.End, local) {
			return deny(ReasonOutsideTradingHours)
		}
	}

	symbol := strings.ToUpper(trade.Symbol)

	// 5. Symbol whitelist.
	if len(p.SymbolsWhitelist) > 0 && !containsFold(p.SymbolsWhitelist, symbol) {
		return deny(ReasonSymbolNotWhitelisted)
	}

	// 6. Symbol blacklist.
	if len(p.SymbolsBlacklist) > 0 && containsFold(p.SymbolsBlacklist, symbol) {
		return deny(ReasonSymbolBlacklisted)
	}

	return allow()
}

// ApplyPositionSizeLimit clamps the trade quantity to the subscriber's risk
// cap, keeping the requested size in OriginalQuantity for audit. This is a
// transform, not a filter: it runs after the allow decision, on the
// per-subscriber copy of the trade.
func ApplyPositionSizeLimit(trade *models.TradePayload, p models.Preferences) {
	max := p.Risk.MaxPositionSize
	if max > 0 && trade.Quantity > max {
		trade.OriginalQuantity = trade.Quantity
		trade.Quantity = max
	}
}

// CurrentSession maps a local wall-clock hour onto a market session using
// fixed windows: london [03:00,12:00), ny [08:00,17:00), asia [19:00,04:00)
// wrapping. Overlapping hours resolve london first, then ny; everything not
// covered falls to asia.
func CurrentSession(t time.Time) string {
	h := t.Hour()
	switch {
	case h >= 3 && h < 12:
		return models.SessionLondon
	case h >= 8 && h < 17:
		return models.SessionNY
	default:
		return models.SessionAsia
	}
}

// withinTradingHours compares zero-padded "HH:MM" strings. A window whose
// start is after its end wraps past midnight.
func withinTradingHours(start, end string, t time.Time) bool {
	current := t.Format("15:04")
	if start <= end {
		return current >= start && current <= end
	}
	// Overnight window, e.g. 22:00-06:00.
	return current >= start || current <= end
}

// SameCalendarDay compares two instants as calendar dates; callers convert
// both into the relevant timezone first.
func SameCalendarDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func containsFold(list []string, value string) bool {
	for _, item := range list {
		if strings.EqualFold(item, value) {
			return true
		}
	}
	return false
}

// Location resolves a preference timezone, falling back to Eastern Time when
// the name is empty or unknown.
func Location(name string) *time.Location {
	if name == "" {
		name = "America/New_York"
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		if loc, err = time.LoadLocation("America/New_York"); err != nil {
			return time.FixedZone("EST", -5*60*60)
		}
	}
	return loc
}

// ParseCalendarDate accepts either a full RFC 3339 timestamp or a bare
// calendar date, which is how expiry dates arrive from older clients.
func ParseCalendarDate(value string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", value)
}
