package ws

import (
	"testing"

	"github.com/gorilla/websocket"
	"github.com/signalflowhq/SignalFlow-server/cmd/models"
)

func tradeFixture() models.TradePayload {
	return models.TradePayload{Symbol: "EURUSD", Side: "buy", Quantity: 1}
}

func TestHubRegisterAndLookup(t *testing.T) {
	hub := NewHub(nil)

	if _, ok := hub.GetClient(7); ok {
		t.Fatal("empty hub returned a client")
	}

	client := hub.register(7, &websocket.Conn{})
	got, ok := hub.GetClient(7)
	if !ok {
		t.Fatal("registered client not found")
	}
	if got != client {
		t.Fatal("lookup returned a different client")
	}
}

func TestHubUnregister(t *testing.T) {
	hub := NewHub(nil)
	client := hub.register(3, &websocket.Conn{})

	hub.unregister(client)
	if _, ok := hub.GetClient(3); ok {
		t.Fatal("client still present after unregister")
	}

	// Unregistering twice is harmless.
	hub.unregister(client)
}

func TestHubUnregisterIgnoresStaleClient(t *testing.T) {
	hub := NewHub(nil)
	stale := &Client{SubscriberID: 5, conn: &websocket.Conn{}}
	current := hub.register(5, &websocket.Conn{})

	// A stale handle from a previous connection must not evict the live one.
	hub.unregister(stale)
	got, ok := hub.GetClient(5)
	if !ok || got != current {
		t.Fatal("stale unregister evicted the live client")
	}
}

func TestHubConnectedIDs(t *testing.T) {
	hub := NewHub(nil)
	hub.register(1, &websocket.Conn{})
	hub.register(2, &websocket.Conn{})

	ids := hub.connectedIDs()
	if len(ids) != 2 {
		t.Fatalf("expected 2 connected ids, got %d", len(ids))
	}
	seen := map[uint]bool{}
	for _, id := range ids {
		seen[id] = true
	}
	if !seen[1] || !seen[2] {
		t.Fatalf("unexpected id set: %v", ids)
	}
}

func TestPushSignalOfflineSubscriber(t *testing.T) {
	hub := NewHub(nil)
	if hub.PushSignal(99, 1, 1, tradeFixture()) {
		t.Fatal("push to offline subscriber reported success")
	}
}
