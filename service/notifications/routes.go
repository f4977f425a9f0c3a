package notification

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	expo "github.com/oliveroneill/exponent-server-sdk-golang/sdk"
	"github.com/signalflowhq/SignalFlow-server/cmd/models"
	"github.com/signalflowhq/SignalFlow-server/cmd/utils"
	"gorm.io/gorm"
)

// Notifier sends best-effort Expo pushes to subscriber phones when a signal
// fans out. It is a side channel: failures are logged and swallowed, and it
// never participates in delivery tracking.
type Notifier struct {
	db         *gorm.DB
	expoClient *expo.PushClient
}

func NewNotifier(db *gorm.DB) *Notifier {
	return &Notifier{
		db:         db,
		expoClient: expo.NewPushClient(nil),
	}
}

// NotifySignalAsync fires a push for a fanned-out trade without blocking the
// caller.
func (n *Notifier) NotifySignalAsync(subscriberID uint, trade models.TradePayload) {
	go func() {
		title := fmt.Sprintf("New %s signal: %s", trade.Side, trade.Symbol)
		body := fmt.Sprintf("Entry %v, stop %v", trade.EntryPrice, trade.StopLoss)
		if err := n.notifySubscriber(subscriberID, title, body); err != nil {
			log.Printf("push notification for subscriber %d: %v", subscriberID, err)
		}
	}()
}

func (n *Notifier) notifySubscriber(subscriberID uint, title, body string) error {
	var devices []models.Device
	if err := n.db.Where("subscriber_id = ?", subscriberID).Find(&devices).Error; err != nil {
		return err
	}
	if len(devices) == 0 {
		return nil
	}

	var tokens []expo.ExponentPushToken
	var invalid []string
	for _, device := range devices {
		pushToken, err := expo.NewExponentPushToken(device.Token)
		if err != nil {
			log.Printf("invalid push token format %s: %v", device.Token, err)
			invalid = append(invalid, device.Token)
			continue
		}
		tokens = append(tokens, pushToken)
	}
	n.cleanupInvalidTokens(invalid)
	if len(tokens) == 0 {
		return nil
	}

	response, err := n.expoClient.Publish(&expo.PushMessage{
		To:       tokens,
		Title:    title,
		Body:     body,
		Sound:    "default",
		Priority: expo.DefaultPriority,
	})
	if err != nil {
		return fmt.Errorf("failed to publish notification: %v", err)
	}
	if validationErr := response.ValidateResponse(); validationErr != nil {
		return fmt.Errorf("notification validation failed: %v", validationErr)
	}
	return nil
}

func (n *Notifier) cleanupInvalidTokens(tokens []string) {
	if len(tokens) == 0 {
		return
	}
	if err := n.db.Where("token IN ?", tokens).Delete(&models.Device{}).Error; err != nil {
		log.Printf("Error cleaning up invalid tokens: %v", err)
	}
}

// NotificationHandler exposes device registration for subscribers.
type NotificationHandler struct {
	db *gorm.DB
}

func NewNotificationHandler(db *gorm.DB) *NotificationHandler {
	return &NotificationHandler{db: db}
}

func (h *NotificationHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/devices", utils.SubscriberAuthMiddleware(h.db, h.RegisterDevice)).Methods("POST")
	router.HandleFunc("/devices", utils.SubscriberAuthMiddleware(h.db, h.GetDevices)).Methods("GET")
	router.HandleFunc("/devices/{id:[0-9]+}", utils.SubscriberAuthMiddleware(h.db, h.DeleteDevice)).Methods("DELETE")
}

// RegisterDevice registers an Expo push token for the calling subscriber.
func (h *NotificationHandler) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	subscriberID, err := utils.GetSubscriberIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var device models.Device
	if err := json.NewDecoder(r.Body).Decode(&device); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if device.Token == "" {
		http.Error(w, "Token is required", http.StatusBadRequest)
		return
	}
	if _, err := expo.NewExponentPushToken(device.Token); err != nil {
		http.Error(w, "Invalid Expo push token format", http.StatusBadRequest)
		return
	}
	device.SubscriberID = subscriberID

	var existing models.Device
	result := h.db.Where("token = ? AND subscriber_id = ?", device.Token, subscriberID).First(&existing)
	if result.Error == nil {
		existing.UpdatedAt = time.Now()
		existing.DeviceType = device.DeviceType
		existing.DeviceName = device.DeviceName
		if err := h.db.Save(&existing).Error; err != nil {
			http.Error(w, "Error updating device", http.StatusInternalServerError)
			return
		}
		device = existing
	} else {
		if err := h.db.Create(&device).Error; err != nil {
			http.Error(w, "Error creating device", http.StatusInternalServerError)
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"message": "Device registered successfully",
		"device":  device,
	})
}

func (h *NotificationHandler) GetDevices(w http.ResponseWriter, r *http.Request) {
	subscriberID, err := utils.GetSubscriberIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var devices []models.Device
	if err := h.db.Where("subscriber_id = ?", subscriberID).Find(&devices).Error; err != nil {
		http.Error(w, "Error retrieving devices", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(devices)
}

func (h *NotificationHandler) DeleteDevice(w http.ResponseWriter, r *http.Request) {
	subscriberID, err := utils.GetSubscriberIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	vars := mux.Vars(r)
	id, err := strconv.Atoi(vars["id"])
	if err != nil {
		http.Error(w, "Invalid device ID", http.StatusBadRequest)
		return
	}

	result := h.db.Where("id = ? AND subscriber_id = ?", id, subscriberID).Delete(&models.Device{})
	if result.Error != nil {
		http.Error(w, "Error deleting device", http.StatusInternalServerError)
		return
	}
	if result.RowsAffected == 0 {
		http.Error(w, "Device not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"message": "Device deleted successfully",
	})
}
