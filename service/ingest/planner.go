package ingest

import (
	"time"

	"github.com/signalflowhq/SignalFlow-server/cmd/models"
	"github.com/signalflowhq/SignalFlow-server/service/prefs"
)

// PlanItem is the fan-out decision for one subscriber: either a skip with the
// filter reason, or a go with that subscriber's own clamped copy of the
// trade.
type PlanItem struct {
	Subscriber models.Subscriber
	Payload    models.TradePayload
	Skip       bool
	Reason     string
}

// PlanFanout evaluates the preference filter for every eligible subscriber
// and prepares per-subscriber payload copies. Pure: the shared trade is never
// mutated, so one subscriber's position-size clamp cannot leak into
// another's.
func PlanFanout(subscribers []models.Subscriber, trade models.TradePayload, now time.Time) []PlanItem {
	items := make([]PlanItem, 0, len(subscribers))
	for i := range subscribers {
		sub := subscribers[i]
		payload := trade

		decision := prefs.ShouldDeliver(&sub, &payload, now)
		if !decision.Allowed {
			items = append(items, PlanItem{
				Subscriber: sub,
				Payload:    payload,
				Skip:       true,
				Reason:     decision.Reason,
			})
			continue
		}

		prefs.ApplyPositionSizeLimit(&payload, sub.Preferences)
		items = append(items, PlanItem{
			Subscriber: sub,
			Payload:    payload,
		})
	}
	return items
}
