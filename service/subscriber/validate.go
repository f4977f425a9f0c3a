package subscriber

import (
	"fmt"
	"time"

	"github.com/signalflowhq/SignalFlow-server/cmd/models"
	"github.com/signalflowhq/SignalFlow-server/service/prefs"
)

// parseExpiry accepts an expiry as a full RFC 3339 timestamp or a bare
// calendar date (expiring at start of day). Empty means no expiry.
func parseExpiry(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := prefs.ParseCalendarDate(raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

var validSessions = map[string]bool{
	models.SessionAsia:   true,
	models.SessionLondon: true,
	models.SessionNY:     true,
}

// validatePreferences rejects values Normalize cannot sensibly coerce:
// unknown sessions, unparseable clock times and timezones, negative limits.
func validatePreferences(p *models.Preferences) error {
	for _, session := range p.Sessions {
		if !validSessions[session] {
			return fmt.Errorf("unknown session %q", session)
		}
	}
	if p.TradingHours.Start != "" {
		if _, err := time.Parse("15:04", p.TradingHours.Start); err != nil {
			return fmt.Errorf("invalid trading hours start %q", p.TradingHours.Start)
		}
	}
	if p.TradingHours.End != "" {
		if _, err := time.Parse("15:04", p.TradingHours.End); err != nil {
			return fmt.Errorf("invalid trading hours end %q", p.TradingHours.End)
		}
	}
	if p.TradingHours.Timezone != "" {
		if _, err := time.LoadLocation(p.TradingHours.Timezone); err != nil {
			return fmt.Errorf("unknown timezone %q", p.TradingHours.Timezone)
		}
	}
	if p.MaxTradesPerDay < 0 {
		return fmt.Errorf("max trades per day cannot be negative")
	}
	if p.Risk.MaxPositionSize < 0 {
		return fmt.Errorf("max position size cannot be negative")
	}
	return nil
}
