package ws

import (
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/signalflowhq/SignalFlow-server/cmd/models"
	"github.com/signalflowhq/SignalFlow-server/service/ledger"
)

// Hub maps subscriber ids to their live connection. It is process-local
// state, rebuilt empty on restart; the delivery ledger plus drain-on-connect
// is the correctness backstop, the hub is only the fast path.
type Hub struct {
	clients map[uint]*Client
	mu      sync.RWMutex
	ledger  *ledger.Ledger
}

type Client struct {
	SubscriberID uint
	conn         *websocket.Conn
	hub          *Hub
	mu           sync.Mutex
}

func NewHub(l *ledger.Ledger) *Hub {
	return &Hub{
		clients: make(map[uint]*Client),
		ledger:  l,
	}
}

func (h *Hub) register(subscriberID uint, conn *websocket.Conn) *Client {
	client := &Client{
		SubscriberID: subscriberID,
		conn:         conn,
		hub:          h,
	}
	h.mu.Lock()
	if old, ok := h.clients[subscriberID]; ok {
		// A reconnect replaces the stale connection.
		old.conn.Close()
	}
	h.clients[subscriberID] = client
	h.mu.Unlock()
	return client
}

func (h *Hub) unregister(client *Client) {
	h.mu.Lock()
	if current, ok := h.clients[client.SubscriberID]; ok && current == client {
		delete(h.clients, client.SubscriberID)
	}
	h.mu.Unlock()
}

func (h *Hub) GetClient(subscriberID uint) (*Client, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	client, exists := h.clients[subscriberID]
	return client, exists
}

func (h *Hub) connectedIDs() []uint {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]uint, 0, len(h.clients))
	for id := range h.clients {
		ids = append(ids, id)
	}
	return ids
}

func (c *Client) writeJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteJSON(v)
}

func (c *Client) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteMessage(websocket.PingMessage, nil)
}

// PushSignal sends a single freshly fanned-out signal to a connected
// subscriber. Returns false when the subscriber is offline or the write
// fails; the delivery then stays pending for pull or a later drain.
func (h *Hub) PushSignal(subscriberID, signalID, deliveryID uint, trade models.TradePayload) bool {
	client, ok := h.GetClient(subscriberID)
	if !ok {
		return false
	}
	msg := SignalMessage{
		Type:       TypeSignal,
		SignalID:   signalID,
		DeliveryID: deliveryID,
		Trade:      trade,
	}
	if err := client.writeJSON(msg); err != nil {
		log.Printf("push to subscriber %d failed: %v", subscriberID, err)
		h.unregister(client)
		client.conn.Close()
		return false
	}
	return true
}

// Drain pushes every pending delivery for a connected subscriber as one
// batch, oldest signal first. Rows are marked delivered only after the write
// succeeds, so a send that dies on the wire leaves them pending for the next
// drain. A row that another transport claims between the send and the mark
// just no-ops the mark.
func (h *Hub) Drain(subscriberID uint) (int, error) {
	client, ok := h.GetClient(subscriberID)
	if !ok {
		return 0, nil
	}

	pending, err := h.ledger.PendingFor(subscriberID, 0)
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		return 0, nil
	}

	batch := BatchMessage{Type: TypeSignals}
	for _, delivery := range pending {
		batch.Signals = append(batch.Signals, BatchItem{
			DeliveryID: delivery.ID,
			Trade:      delivery.Payload,
		})
	}

	if err := client.writeJSON(batch); err != nil {
		log.Printf("drain to subscriber %d failed: %v", subscriberID, err)
		h.unregister(client)
		client.conn.Close()
		return 0, err
	}

	delivered := 0
	for _, delivery := range pending {
		if err := h.ledger.MarkDelivered(delivery.ID); err != nil {
			log.Printf("drain: marking delivery %d delivered: %v", delivery.ID, err)
			continue
		}
		delivered++
	}
	return delivered, nil
}

// DrainConnected re-drains every live connection. Runs periodically as the
// redundancy net for batches lost between claim and transmission.
func (h *Hub) DrainConnected() {
	for _, id := range h.connectedIDs() {
		if _, err := h.Drain(id); err != nil {
			log.Printf("periodic drain for subscriber %d: %v", id, err)
		}
	}
}
