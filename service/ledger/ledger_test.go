package ledger

import (
	"testing"

	"github.com/signalflowhq/SignalFlow-server/cmd/models"
)

func TestLifecycleEdges(t *testing.T) {
	allowed := []struct{ from, to string }{
		{models.DeliveryPending, models.DeliveryDelivered},
		{models.DeliveryDelivered, models.DeliveryAcknowledged},
		{models.DeliveryDelivered, models.DeliveryExecuted},
		{models.DeliveryAcknowledged, models.DeliveryExecuted},
		{models.DeliveryPending, models.DeliveryFailed},
		{models.DeliveryDelivered, models.DeliveryFailed},
		{models.DeliveryAcknowledged, models.DeliveryFailed},
		{models.DeliveryFailed, models.DeliveryPending},
	}
	for _, edge := range allowed {
		if !CanTransition(edge.from, edge.to) {
			t.Fatalf("expected %s -> %s to be legal", edge.from, edge.to)
		}
	}
}

func TestForbiddenEdges(t *testing.T) {
	forbidden := []struct{ from, to string }{
		{models.DeliveryPending, models.DeliveryAcknowledged},
		{models.DeliveryPending, models.DeliveryExecuted},
		{models.DeliveryExecuted, models.DeliveryPending},
		{models.DeliveryExecuted, models.DeliveryFailed},
		{models.DeliverySkipped, models.DeliveryDelivered},
		{models.DeliverySkipped, models.DeliveryPending},
		{models.DeliveryAcknowledged, models.DeliveryDelivered},
		{models.DeliveryDelivered, models.DeliveryPending},
	}
	for _, edge := range forbidden {
		if CanTransition(edge.from, edge.to) {
			t.Fatalf("expected %s -> %s to be rejected", edge.from, edge.to)
		}
	}
}

func TestSkippedIsTerminal(t *testing.T) {
	targets := []string{
		models.DeliveryPending,
		models.DeliveryDelivered,
		models.DeliveryAcknowledged,
		models.DeliveryExecuted,
		models.DeliveryFailed,
	}
	for _, to := range targets {
		if CanTransition(models.DeliverySkipped, to) {
			t.Fatalf("skipped rows must never transition, but skipped -> %s allowed", to)
		}
	}
}

func TestRetryIsTheOnlyBackwardEdge(t *testing.T) {
	for from := range map[string]struct{}{
		models.DeliveryDelivered:    {},
		models.DeliveryAcknowledged: {},
		models.DeliveryExecuted:     {},
		models.DeliverySkipped:      {},
	} {
		if CanTransition(from, models.DeliveryPending) {
			t.Fatalf("only failed may return to pending, %s must not", from)
		}
	}
	if !CanTransition(models.DeliveryFailed, models.DeliveryPending) {
		t.Fatal("failed -> pending is the manual retry edge and must be legal")
	}
}
