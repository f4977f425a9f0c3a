package prefs

import (
	"testing"
	"time"

	"github.com/signalflowhq/SignalFlow-server/cmd/models"
)

func newSubscriber() *models.Subscriber {
	return &models.Subscriber{
		Status:      models.SubscriberActive,
		Preferences: models.DefaultPreferences(),
	}
}

func etTime(t *testing.T, hour, min int) time.Time {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("load timezone: %v", err)
	}
	return time.Date(2026, 6, 15, hour, min, 0, 0, loc)
}

func TestShouldDeliverDefaultsAllow(t *testing.T) {
	sub := newSubscriber()
	trade := &models.TradePayload{Symbol: "EURUSD", Side: "BUY"}

	d := ShouldDeliver(sub, trade, etTime(t, 10, 0))
	if !d.Allowed {
		t.Fatalf("expected default preferences to allow, got reason %q", d.Reason)
	}
}

func TestDailyLimitReached(t *testing.T) {
	sub := newSubscriber()
	sub.Preferences.MaxTradesPerDay = 2
	sub.DailyTradeCount = 2
	now := etTime(t, 10, 0)
	last := now.Add(-2 * time.Hour)
	sub.LastTradeDate = &last

	d := ShouldDeliver(sub, &models.TradePayload{Symbol: "EURUSD", Side: "BUY"}, now)
	if d.Allowed || d.Reason != ReasonDailyLimitReached {
		t.Fatalf("expected daily_limit_reached, got %+v", d)
	}
}

func TestDailyLimitResetsOnNewCalendarDay(t *testing.T) {
	sub := newSubscriber()
	sub.Preferences.MaxTradesPerDay = 2
	sub.DailyTradeCount = 5
	now := etTime(t, 10, 0)
	yesterday := now.Add(-24 * time.Hour)
	sub.LastTradeDate = &yesterday

	d := ShouldDeliver(sub, &models.TradePayload{Symbol: "EURUSD", Side: "BUY"}, now)
	if !d.Allowed {
		t.Fatalf("count from a previous day must not block delivery, got %+v", d)
	}
}

func TestDailyLimitComparesCalendarDatesNotInstants(t *testing.T) {
	sub := newSubscriber()
	sub.Preferences.MaxTradesPerDay = 1
	sub.DailyTradeCount = 1
	now := etTime(t, 23, 30)
	// Same calendar day even though more than 12 hours apart.
	last := etTime(t, 0, 30)
	sub.LastTradeDate = &last

	d := ShouldDeliver(sub, &models.TradePayload{Symbol: "EURUSD", Side: "BUY"}, now)
	if d.Allowed || d.Reason != ReasonDailyLimitReached {
		t.Fatalf("expected same-day cap to apply, got %+v", d)
	}
}

func TestAutoExecuteDisabled(t *testing.T) {
	sub := newSubscriber()
	sub.Preferences.AutoExecute = false

	d := ShouldDeliver(sub, &models.TradePayload{Symbol: "EURUSD", Side: "BUY"}, etTime(t, 10, 0))
	if d.Allowed || d.Reason != ReasonAutoExecuteDisabled {
		t.Fatalf("expected auto_execute_disabled, got %+v", d)
	}
}

func TestSessionFilterDeniesOutsideSession(t *testing.T) {
	sub := newSubscriber()
	sub.Preferences.Sessions = []string{models.SessionNY}

	// 10:00 ET sits in the london window [03:00,12:00), which wins the overlap.
	d := ShouldDeliver(sub, &models.TradePayload{Symbol: "EURUSD", Side: "BUY"}, etTime(t, 10, 0))
	if d.Allowed || d.Reason != ReasonOutsideSessionPrefix+models.SessionLondon {
		t.Fatalf("expected outside_session_london, got %+v", d)
	}
}

func TestSessionFilterAllowsMatchingSession(t *testing.T) {
	sub := newSubscriber()
	sub.Preferences.Sessions = []string{models.SessionNY}

	// 13:00 ET is past the london window, so ny is current.
	d := ShouldDeliver(sub, &models.TradePayload{Symbol: "EURUSD", Side: "BUY"}, etTime(t, 13, 0))
	if !d.Allowed {
		t.Fatalf("expected ny session to pass at 13:00 ET, got %+v", d)
	}
}

func TestSessionFilterInactiveWhenAllSessionsListed(t *testing.T) {
	sub := newSubscriber()
	sub.Preferences.Sessions = []string{models.SessionAsia, models.SessionLondon, models.SessionNY}

	d := ShouldDeliver(sub, &models.TradePayload{Symbol: "EURUSD", Side: "BUY"}, etTime(t, 2, 0))
	if !d.Allowed {
		t.Fatalf("a full session set means no restriction, got %+v", d)
	}
}

func TestCurrentSessionWindows(t *testing.T) {
	cases := []struct {
		hour int
		want string
	}{
		{2, models.SessionAsia},
		{3, models.SessionLondon},
		{10, models.SessionLondon},
		{11, models.SessionLondon},
		{12, models.SessionNY},
		{16, models.SessionNY},
		{17, models.SessionAsia},
		{18, models.SessionAsia},
		{19, models.SessionAsia},
		{23, models.SessionAsia},
	}
	for _, c := range cases {
		got := CurrentSession(etTime(t, c.hour, 0))
		if got != c.want {
			t.Fatalf("hour %d: expected %s, got %s", c.hour, c.want, got)
		}
	}
}

func TestTradingHoursOvernightWindow(t *testing.T) {
	sub := newSubscriber()
	sub.Preferences.TradingHours.Enabled = true
	sub.Preferences.TradingHours.Start = "22:00"
	sub.Preferences.TradingHours.End = "06:00"

	trade := &models.TradePayload{Symbol: "EURUSD", Side: "BUY"}

	if d := ShouldDeliver(sub, trade, etTime(t, 23, 30)); !d.Allowed {
		t.Fatalf("23:30 should be inside 22:00-06:00, got %+v", d)
	}
	if d := ShouldDeliver(sub, trade, etTime(t, 2, 0)); !d.Allowed {
		t.Fatalf("02:00 should be inside 22:00-06:00, got %+v", d)
	}
	if d := ShouldDeliver(sub, trade, etTime(t, 12, 0)); d.Allowed || d.Reason != ReasonOutsideTradingHours {
		t.Fatalf("12:00 should be outside 22:00-06:00, got %+v", d)
	}
}

func TestSymbolWhitelist(t *testing.T) {
	sub := newSubscriber()
	sub.Preferences.SymbolsWhitelist = []string{"EURUSD", "GBPUSD"}

	if d := ShouldDeliver(sub, &models.TradePayload{Symbol: "eurusd", Side: "BUY"}, etTime(t, 10, 0)); !d.Allowed {
		t.Fatalf("whitelist match should be case-insensitive, got %+v", d)
	}
	d := ShouldDeliver(sub, &models.TradePayload{Symbol: "USDJPY", Side: "BUY"}, etTime(t, 10, 0))
	if d.Allowed || d.Reason != ReasonSymbolNotWhitelisted {
		t.Fatalf("expected symbol_not_whitelisted, got %+v", d)
	}
}

func TestSymbolBlacklist(t *testing.T) {
	sub := newSubscriber()
	sub.Preferences.SymbolsBlacklist = []string{"XAUUSD"}

	d := ShouldDeliver(sub, &models.TradePayload{Symbol: "XAUUSD", Side: "SELL"}, etTime(t, 10, 0))
	if d.Allowed || d.Reason != ReasonSymbolBlacklisted {
		t.Fatalf("expected symbol_blacklisted, got %+v", d)
	}
}

func TestCheckOrderFirstFailureWins(t *testing.T) {
	sub := newSubscriber()
	sub.Preferences.AutoExecute = false
	sub.Preferences.SymbolsBlacklist = []string{"EURUSD"}

	d := ShouldDeliver(sub, &models.TradePayload{Symbol: "EURUSD", Side: "BUY"}, etTime(t, 10, 0))
	if d.Reason != ReasonAutoExecuteDisabled {
		t.Fatalf("auto-execute check runs before the blacklist, got %+v", d)
	}
}

func TestApplyPositionSizeLimit(t *testing.T) {
	p := models.DefaultPreferences()
	p.Risk.MaxPositionSize = 1.5

	trade := models.TradePayload{Symbol: "EURUSD", Side: "BUY", Quantity: 4}
	ApplyPositionSizeLimit(&trade, p)
	if trade.Quantity != 1.5 {
		t.Fatalf("expected quantity clamped to 1.5, got %v", trade.Quantity)
	}
	if trade.OriginalQuantity != 4 {
		t.Fatalf("expected original quantity 4 recorded, got %v", trade.OriginalQuantity)
	}

	small := models.TradePayload{Symbol: "EURUSD", Side: "BUY", Quantity: 1}
	ApplyPositionSizeLimit(&small, p)
	if small.Quantity != 1 || small.OriginalQuantity != 0 {
		t.Fatalf("quantity under the cap must pass untouched, got %+v", small)
	}
}

func TestParseCalendarDate(t *testing.T) {
	if _, err := ParseCalendarDate("2026-06-15T10:00:00Z"); err != nil {
		t.Fatalf("RFC 3339 timestamp should parse: %v", err)
	}
	d, err := ParseCalendarDate("2026-06-15")
	if err != nil {
		t.Fatalf("bare date should parse: %v", err)
	}
	if d.Year() != 2026 || d.Month() != 6 || d.Day() != 15 {
		t.Fatalf("unexpected parsed date %v", d)
	}
}
