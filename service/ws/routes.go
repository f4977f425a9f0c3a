package ws

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/signalflowhq/SignalFlow-server/cmd/models"
	"github.com/signalflowhq/SignalFlow-server/service/ledger"
	"gorm.io/gorm"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Subscribers connect from anywhere; auth is the api key.
	},
}

const (
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

type WebSocketHandler struct {
	db     *gorm.DB
	hub    *Hub
	ledger *ledger.Ledger
}

func NewWebSocketHandler(db *gorm.DB, hub *Hub, l *ledger.Ledger) *WebSocketHandler {
	return &WebSocketHandler{db: db, hub: hub, ledger: l}
}

func (h *WebSocketHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/ws", h.HandleWebSocket)
}

// HandleWebSocket upgrades a subscriber connection authenticated by an
// api_key query parameter, registers it with the hub, then drains whatever
// accumulated while the subscriber was offline.
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	apiKey := r.URL.Query().Get("api_key")
	if apiKey == "" {
		http.Error(w, "api_key query parameter required", http.StatusUnauthorized)
		return
	}

	var subscriber models.Subscriber
	if err := h.db.Where("api_key = ?", apiKey).First(&subscriber).Error; err != nil {
		http.Error(w, "Invalid subscriber key", http.StatusUnauthorized)
		return
	}
	if !subscriber.Eligible(time.Now()) {
		http.Error(w, "Subscription inactive or expired", http.StatusForbidden)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	log.Printf("WebSocket connection established for subscriber %d", subscriber.ID)

	client := h.hub.register(subscriber.ID, conn)

	if delivered, err := h.hub.Drain(subscriber.ID); err == nil && delivered > 0 {
		log.Printf("drained %d pending deliveries to subscriber %d", delivered, subscriber.ID)
	}

	go h.pingLoop(client)
	go h.readLoop(client)
}

func (h *WebSocketHandler) readLoop(client *Client) {
	defer func() {
		h.hub.unregister(client)
		client.conn.Close()
	}()

	client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		client.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("subscriber %d connection error: %v", client.SubscriberID, err)
			}
			break
		}

		msg, err := ParseClientMessage(data)
		if err != nil {
			// Malformed frames are dropped, never fatal to the connection.
			log.Printf("dropping malformed message from subscriber %d", client.SubscriberID)
			continue
		}

		if !h.ownsDelivery(client.SubscriberID, msg.DeliveryID) {
			log.Printf("subscriber %d referenced foreign delivery %d", client.SubscriberID, msg.DeliveryID)
			continue
		}

		switch msg.Type {
		case TypeAck:
			if err := h.ledger.Acknowledge(msg.DeliveryID); err != nil {
				log.Printf("ack for delivery %d: %v", msg.DeliveryID, err)
			}
		case TypeExec:
			if err := h.ledger.RecordExecution(msg.DeliveryID, msg.Executed(), msg.Error); err != nil {
				log.Printf("execution report for delivery %d: %v", msg.DeliveryID, err)
			}
		}
	}
}

func (h *WebSocketHandler) pingLoop(client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for range ticker.C {
		if err := client.ping(); err != nil {
			return
		}
	}
}

func (h *WebSocketHandler) ownsDelivery(subscriberID, deliveryID uint) bool {
	var count int64
	h.db.Model(&models.Delivery{}).
		Where("id = ? AND subscriber_id = ?", deliveryID, subscriberID).
		Count(&count)
	return count > 0
}
