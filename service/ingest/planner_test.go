package ingest

import (
	"testing"
	"time"

	"github.com/signalflowhq/SignalFlow-server/cmd/models"
	"github.com/signalflowhq/SignalFlow-server/service/prefs"
)

func activeSubscriber(id uint) models.Subscriber {
	sub := models.Subscriber{
		Status:      models.SubscriberActive,
		Preferences: models.DefaultPreferences(),
	}
	sub.ID = id
	return sub
}

func planTime(t *testing.T) time.Time {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("load timezone: %v", err)
	}
	return time.Date(2026, 6, 15, 13, 0, 0, 0, loc)
}

func TestPlanProducesOneItemPerSubscriber(t *testing.T) {
	subs := []models.Subscriber{activeSubscriber(1), activeSubscriber(2), activeSubscriber(3)}
	trade := models.TradePayload{Symbol: "EURUSD", Side: "BUY", Quantity: 2}

	plan := PlanFanout(subs, trade, planTime(t))
	if len(plan) != len(subs) {
		t.Fatalf("expected exactly %d plan items, got %d", len(subs), len(plan))
	}
	for _, item := range plan {
		if item.Skip {
			t.Fatalf("no subscriber should be skipped with default preferences: %+v", item)
		}
	}
}

func TestPlanRecordsSkipReason(t *testing.T) {
	blocked := activeSubscriber(1)
	blocked.Preferences.SymbolsWhitelist = []string{"GBPUSD"}
	open := activeSubscriber(2)

	plan := PlanFanout([]models.Subscriber{blocked, open}, models.TradePayload{Symbol: "EURUSD", Side: "BUY"}, planTime(t))

	if !plan[0].Skip || plan[0].Reason != prefs.ReasonSymbolNotWhitelisted {
		t.Fatalf("expected whitelist skip with reason, got %+v", plan[0])
	}
	if plan[1].Skip {
		t.Fatalf("unrestricted subscriber must not be skipped: %+v", plan[1])
	}
}

func TestPlanClampIsolatedPerSubscriber(t *testing.T) {
	capped := activeSubscriber(1)
	capped.Preferences.Risk.MaxPositionSize = 1
	uncapped := activeSubscriber(2)

	trade := models.TradePayload{Symbol: "EURUSD", Side: "BUY", Quantity: 5}
	plan := PlanFanout([]models.Subscriber{capped, uncapped}, trade, planTime(t))

	if plan[0].Payload.Quantity != 1 || plan[0].Payload.OriginalQuantity != 5 {
		t.Fatalf("expected capped subscriber clamped to 1, got %+v", plan[0].Payload)
	}
	if plan[1].Payload.Quantity != 5 || plan[1].Payload.OriginalQuantity != 0 {
		t.Fatalf("clamp leaked into another subscriber's payload: %+v", plan[1].Payload)
	}
	if trade.Quantity != 5 || trade.OriginalQuantity != 0 {
		t.Fatalf("shared trade payload was mutated: %+v", trade)
	}
}

func TestPlanSkippedSubscriberKeepsUnclampedCopy(t *testing.T) {
	sub := activeSubscriber(1)
	sub.Preferences.AutoExecute = false
	sub.Preferences.Risk.MaxPositionSize = 1

	plan := PlanFanout([]models.Subscriber{sub}, models.TradePayload{Symbol: "EURUSD", Side: "BUY", Quantity: 5}, planTime(t))
	if !plan[0].Skip {
		t.Fatalf("expected skip, got %+v", plan[0])
	}
	// The clamp is a post-allow transform; a denied subscriber's audit row
	// keeps the trade as requested.
	if plan[0].Payload.Quantity != 5 {
		t.Fatalf("skipped payload should be unclamped, got %+v", plan[0].Payload)
	}
}
