package subscriber

import (
	"testing"
	"time"

	"github.com/signalflowhq/SignalFlow-server/cmd/models"
)

func TestParseExpiryEmptyMeansNoExpiry(t *testing.T) {
	expiresAt, err := parseExpiry("")
	if err != nil {
		t.Fatalf("empty expiry rejected: %v", err)
	}
	if expiresAt != nil {
		t.Fatalf("empty expiry produced %v", expiresAt)
	}
}

func TestParseExpiryAcceptsBothFormats(t *testing.T) {
	expiresAt, err := parseExpiry("2026-12-31T23:59:59Z")
	if err != nil {
		t.Fatalf("RFC 3339 expiry rejected: %v", err)
	}
	want := time.Date(2026, 12, 31, 23, 59, 59, 0, time.UTC)
	if !expiresAt.Equal(want) {
		t.Fatalf("expected %v, got %v", want, expiresAt)
	}

	expiresAt, err = parseExpiry("2026-12-31")
	if err != nil {
		t.Fatalf("bare date expiry rejected: %v", err)
	}
	want = time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC)
	if !expiresAt.Equal(want) {
		t.Fatalf("expected %v, got %v", want, expiresAt)
	}
}

func TestParseExpiryRejectsGarbage(t *testing.T) {
	if _, err := parseExpiry("next tuesday"); err == nil {
		t.Fatal("expected error for unparseable expiry")
	}
}

func TestValidatePreferencesAcceptsDefaults(t *testing.T) {
	p := models.DefaultPreferences()
	if err := validatePreferences(&p); err != nil {
		t.Fatalf("default preferences rejected: %v", err)
	}
}

func TestValidatePreferencesRejectsUnknownSession(t *testing.T) {
	p := models.DefaultPreferences()
	p.Sessions = []string{"tokyo"}
	if err := validatePreferences(&p); err == nil {
		t.Fatal("expected error for unknown session")
	}
}

func TestValidatePreferencesRejectsBadClockTime(t *testing.T) {
	p := models.DefaultPreferences()
	p.TradingHours.Start = "25:00"
	if err := validatePreferences(&p); err == nil {
		t.Fatal("expected error for invalid start time")
	}

	p = models.DefaultPreferences()
	p.TradingHours.End = "9am"
	if err := validatePreferences(&p); err == nil {
		t.Fatal("expected error for invalid end time")
	}
}

func TestValidatePreferencesRejectsUnknownTimezone(t *testing.T) {
	p := models.DefaultPreferences()
	p.TradingHours.Timezone = "Mars/Olympus_Mons"
	if err := validatePreferences(&p); err == nil {
		t.Fatal("expected error for unknown timezone")
	}
}

func TestValidatePreferencesRejectsNegativeLimits(t *testing.T) {
	p := models.DefaultPreferences()
	p.MaxTradesPerDay = -1
	if err := validatePreferences(&p); err == nil {
		t.Fatal("expected error for negative trade limit")
	}

	p = models.DefaultPreferences()
	p.Risk.MaxPositionSize = -0.5
	if err := validatePreferences(&p); err == nil {
		t.Fatal("expected error for negative position size")
	}
}
