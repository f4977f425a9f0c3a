package subscriber

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/signalflowhq/SignalFlow-server/cmd/models"
	"github.com/signalflowhq/SignalFlow-server/cmd/utils"
	"github.com/signalflowhq/SignalFlow-server/service/ledger"
	"github.com/signalflowhq/SignalFlow-server/service/webhook"
	"gorm.io/gorm"
)

// Response is a standardized API response structure
type Response struct {
	Data  interface{} `json:"data,omitempty"`
	Meta  interface{} `json:"meta,omitempty"`
	Error string      `json:"error,omitempty"`
}

type SubscriberHandler struct {
	db         *gorm.DB
	ledger     *ledger.Ledger
	dispatcher *webhook.Dispatcher
}

func NewSubscriberHandler(db *gorm.DB, l *ledger.Ledger, dispatcher *webhook.Dispatcher) *SubscriberHandler {
	return &SubscriberHandler{db: db, ledger: l, dispatcher: dispatcher}
}

func (h *SubscriberHandler) RegisterRoutes(router *mux.Router) {
	// Subscriber-facing surface, authenticated by the subscriber api key.
	router.HandleFunc("/poll", utils.SubscriberAuthMiddleware(h.db, h.Poll)).Methods("GET")
	router.HandleFunc("/ack", utils.SubscriberAuthMiddleware(h.db, h.Acknowledge)).Methods("POST")
	router.HandleFunc("/executions", utils.SubscriberAuthMiddleware(h.db, h.ReportExecution)).Methods("POST")
	router.HandleFunc("/preferences", utils.SubscriberAuthMiddleware(h.db, h.GetPreferences)).Methods("GET")
	router.HandleFunc("/preferences", utils.SubscriberAuthMiddleware(h.db, h.UpdatePreferences)).Methods("PUT")
	router.HandleFunc("/webhook", utils.SubscriberAuthMiddleware(h.db, h.GetWebhook)).Methods("GET")
	router.HandleFunc("/webhook", utils.SubscriberAuthMiddleware(h.db, h.UpdateWebhook)).Methods("PUT")
	router.HandleFunc("/webhook/test", utils.SubscriberAuthMiddleware(h.db, h.TestWebhook)).Methods("POST")

	// Host-facing management surface.
	subscriberRouter := router.PathPrefix("/subscribers").Subrouter()
	subscriberRouter.HandleFunc("", utils.HostAuthMiddleware(h.db, h.CreateSubscriber)).Methods("POST")
	subscriberRouter.HandleFunc("", utils.HostAuthMiddleware(h.db, h.GetSubscribers)).Methods("GET")
	subscriberRouter.HandleFunc("/{id:[0-9]+}", utils.HostAuthMiddleware(h.db, h.GetSubscriber)).Methods("GET")
	subscriberRouter.HandleFunc("/{id:[0-9]+}", utils.HostAuthMiddleware(h.db, h.UpdateSubscriber)).Methods("PUT")
	subscriberRouter.HandleFunc("/{id:[0-9]+}", utils.HostAuthMiddleware(h.db, h.DeleteSubscriber)).Methods("DELETE")
	subscriberRouter.HandleFunc("/{id:[0-9]+}/reset-daily", utils.HostAuthMiddleware(h.db, h.ResetDailyCount)).Methods("POST")
}

type polledDelivery struct {
	DeliveryID uint                `json:"delivery_id"`
	Trade      models.TradePayload `json:"trade"`
}

// Poll returns the oldest pending deliveries for the caller and atomically
// marks them delivered. A delivery claimed here can never also be claimed by
// a concurrent drain: the ledger's conditional update lets exactly one
// claimant win each row.
func (h *SubscriberHandler) Poll(w http.ResponseWriter, r *http.Request) {
	subscriberID, err := utils.GetSubscriberIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err == nil && parsed > 0 && parsed < 500 {
			limit = parsed
		}
	}

	claimed, err := h.ledger.ClaimPending(subscriberID, limit)
	if err != nil {
		http.Error(w, "Error retrieving deliveries", http.StatusInternalServerError)
		return
	}

	deliveries := make([]polledDelivery, 0, len(claimed))
	for _, delivery := range claimed {
		deliveries = append(deliveries, polledDelivery{
			DeliveryID: delivery.ID,
			Trade:      delivery.Payload,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(Response{Data: deliveries, Meta: map[string]int{"count": len(deliveries)}})
}

// Acknowledge confirms receipt of a delivery. Duplicate acks succeed
// silently.
func (h *SubscriberHandler) Acknowledge(w http.ResponseWriter, r *http.Request) {
	subscriberID, err := utils.GetSubscriberIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req struct {
		DeliveryID uint `json:"delivery_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DeliveryID == 0 {
		http.Error(w, "delivery_id is required", http.StatusBadRequest)
		return
	}

	if !h.ownsDelivery(subscriberID, req.DeliveryID) {
		http.Error(w, "Delivery not found", http.StatusNotFound)
		return
	}

	if err := h.ledger.Acknowledge(req.DeliveryID); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "Delivery acknowledged"})
}

// ReportExecution records the trade outcome for a delivery.
func (h *SubscriberHandler) ReportExecution(w http.ResponseWriter, r *http.Request) {
	subscriberID, err := utils.GetSubscriberIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req struct {
		DeliveryID uint    `json:"delivery_id"`
		Status     string  `json:"status"`
		FilledQty  float64 `json:"filled_qty,omitempty"`
		AvgPrice   float64 `json:"avg_price,omitempty"`
		Error      string  `json:"error,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DeliveryID == 0 || req.Status == "" {
		http.Error(w, "delivery_id and status are required", http.StatusBadRequest)
		return
	}

	if !h.ownsDelivery(subscriberID, req.DeliveryID) {
		http.Error(w, "Delivery not found", http.StatusNotFound)
		return
	}

	success := req.Status == "executed" || req.Status == "filled" || req.Status == "success"
	if err := h.ledger.RecordExecution(req.DeliveryID, success, req.Error); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "Execution recorded"})
}

func (h *SubscriberHandler) GetPreferences(w http.ResponseWriter, r *http.Request) {
	subscriberID, err := utils.GetSubscriberIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var sub models.Subscriber
	if err := h.db.First(&sub, subscriberID).Error; err != nil {
		http.Error(w, "Subscriber not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sub.Preferences)
}

// UpdatePreferences validates and coerces the preference object at the write
// boundary so read-side code can trust its shape.
func (h *SubscriberHandler) UpdatePreferences(w http.ResponseWriter, r *http.Request) {
	subscriberID, err := utils.GetSubscriberIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	incoming := models.DefaultPreferences()
	if err := json.NewDecoder(r.Body).Decode(&incoming); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := validatePreferences(&incoming); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	incoming.Normalize()

	if err := h.db.Model(&models.Subscriber{}).
		Where("id = ?", subscriberID).
		Update("preferences", incoming).Error; err != nil {
		http.Error(w, "Error updating preferences", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(incoming)
}

func (h *SubscriberHandler) GetWebhook(w http.ResponseWriter, r *http.Request) {
	subscriberID, err := utils.GetSubscriberIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var sub models.Subscriber
	if err := h.db.First(&sub, subscriberID).Error; err != nil {
		http.Error(w, "Subscriber not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"webhook_url":       sub.WebhookURL,
		"secret_configured": sub.WebhookSecret != "",
	})
}

func (h *SubscriberHandler) UpdateWebhook(w http.ResponseWriter, r *http.Request) {
	subscriberID, err := utils.GetSubscriberIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req struct {
		WebhookURL    string `json:"webhook_url"`
		WebhookSecret string `json:"webhook_secret"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.db.Model(&models.Subscriber{}).
		Where("id = ?", subscriberID).
		Updates(map[string]interface{}{
			"webhook_url":    req.WebhookURL,
			"webhook_secret": req.WebhookSecret,
		}).Error; err != nil {
		http.Error(w, "Error updating webhook", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "Webhook updated"})
}

// TestWebhook fires a single signed probe at the configured (or supplied)
// URL. Nothing is persisted.
func (h *SubscriberHandler) TestWebhook(w http.ResponseWriter, r *http.Request) {
	subscriberID, err := utils.GetSubscriberIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var sub models.Subscriber
	if err := h.db.First(&sub, subscriberID).Error; err != nil {
		http.Error(w, "Subscriber not found", http.StatusNotFound)
		return
	}

	var req struct {
		URL    string `json:"url,omitempty"`
		Secret string `json:"secret,omitempty"`
	}
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req)
	}
	url := req.URL
	secret := req.Secret
	if url == "" {
		url = sub.WebhookURL
		secret = sub.WebhookSecret
	}
	if url == "" {
		http.Error(w, "No webhook URL configured", http.StatusBadRequest)
		return
	}

	result := h.dispatcher.Test(r.Context(), url, secret, sub.ID)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// CreateSubscriber registers a subscriber under the calling host, minting
// its api key. The host's subscriber limit counts live rows only.
func (h *SubscriberHandler) CreateSubscriber(w http.ResponseWriter, r *http.Request) {
	hostID, err := utils.GetHostIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req struct {
		Name          string              `json:"name"`
		ExpiresAt     string              `json:"expires_at,omitempty"`
		WebhookURL    string              `json:"webhook_url,omitempty"`
		WebhookSecret string              `json:"webhook_secret,omitempty"`
		Preferences   *models.Preferences `json:"preferences,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		http.Error(w, "Name is required", http.StatusBadRequest)
		return
	}
	expiresAt, err := parseExpiry(req.ExpiresAt)
	if err != nil {
		http.Error(w, "Invalid expires_at: use RFC 3339 or YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	var host models.Host
	if err := h.db.First(&host, hostID).Error; err != nil {
		http.Error(w, "Host not found", http.StatusNotFound)
		return
	}
	if host.SubscriberLimit > 0 {
		var count int64
		h.db.Model(&models.Subscriber{}).Where("host_id = ?", hostID).Count(&count)
		if count >= int64(host.SubscriberLimit) {
			http.Error(w, "Subscriber limit reached", http.StatusForbidden)
			return
		}
	}

	preferences := models.DefaultPreferences()
	if req.Preferences != nil {
		preferences = *req.Preferences
		if err := validatePreferences(&preferences); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		preferences.Normalize()
	}

	sub := models.Subscriber{
		HostID:        hostID,
		Name:          req.Name,
		APIKey:        uuid.NewString(),
		Status:        models.SubscriberActive,
		ExpiresAt:     expiresAt,
		Preferences:   preferences,
		WebhookURL:    req.WebhookURL,
		WebhookSecret: req.WebhookSecret,
	}
	if err := h.db.Create(&sub).Error; err != nil {
		http.Error(w, "Error creating subscriber", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(sub)
}

// SubscriberFilter represents all possible filters for subscriber listings
type SubscriberFilter struct {
	Status    string
	IsExpired *bool
}

func (h *SubscriberHandler) GetSubscribers(w http.ResponseWriter, r *http.Request) {
	hostID, err := utils.GetHostIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var filter SubscriberFilter
	queryParams := r.URL.Query()
	filter.Status = queryParams.Get("status")
	if expiredStr := queryParams.Get("expired"); expiredStr != "" {
		expired := expiredStr == "true"
		filter.IsExpired = &expired
	}

	limit := 100
	if raw := queryParams.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err == nil && parsed > 0 {
			limit = parsed
		}
	}
	offset := 0
	if raw := queryParams.Get("offset"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	query := h.db.Where("host_id = ?", hostID)
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.IsExpired != nil {
		if *filter.IsExpired {
			query = query.Where("expires_at IS NOT NULL AND expires_at <= ?", time.Now())
		} else {
			query = query.Where("expires_at IS NULL OR expires_at > ?", time.Now())
		}
	}

	var subscribers []models.Subscriber
	if err := query.Limit(limit).Offset(offset).Find(&subscribers).Error; err != nil {
		http.Error(w, "Error retrieving subscribers", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(Response{Data: subscribers, Meta: map[string]int{"count": len(subscribers)}})
}

func (h *SubscriberHandler) GetSubscriber(w http.ResponseWriter, r *http.Request) {
	hostID, err := utils.GetHostIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	sub, ok := h.hostSubscriber(w, r, hostID)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sub)
}

// UpdateSubscriber lets the host change status, expiry and name. The api key
// and the subscriber's own preferences are not touched here.
func (h *SubscriberHandler) UpdateSubscriber(w http.ResponseWriter, r *http.Request) {
	hostID, err := utils.GetHostIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	sub, ok := h.hostSubscriber(w, r, hostID)
	if !ok {
		return
	}

	var req struct {
		Name      *string `json:"name,omitempty"`
		Status    *string `json:"status,omitempty"`
		ExpiresAt *string `json:"expires_at,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	updates := map[string]interface{}{}
	if req.Name != nil {
		updates["name"] = *req.Name
	}
	if req.Status != nil {
		if *req.Status != models.SubscriberActive && *req.Status != models.SubscriberInactive {
			http.Error(w, "Invalid status", http.StatusBadRequest)
			return
		}
		updates["status"] = *req.Status
	}
	if req.ExpiresAt != nil {
		expiresAt, err := parseExpiry(*req.ExpiresAt)
		if err != nil {
			http.Error(w, "Invalid expires_at: use RFC 3339 or YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		updates["expires_at"] = expiresAt
	}
	if len(updates) == 0 {
		http.Error(w, "Nothing to update", http.StatusBadRequest)
		return
	}

	if err := h.db.Model(&sub).Updates(updates).Error; err != nil {
		http.Error(w, "Error updating subscriber", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sub)
}

// DeleteSubscriber soft-deletes the row: delivery history survives, future
// eligibility does not.
func (h *SubscriberHandler) DeleteSubscriber(w http.ResponseWriter, r *http.Request) {
	hostID, err := utils.GetHostIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	sub, ok := h.hostSubscriber(w, r, hostID)
	if !ok {
		return
	}

	if err := h.db.Delete(&sub).Error; err != nil {
		http.Error(w, "Error deleting subscriber", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "Subscriber deleted"})
}

// ResetDailyCount zeroes the per-day counter, e.g. after a support request.
func (h *SubscriberHandler) ResetDailyCount(w http.ResponseWriter, r *http.Request) {
	hostID, err := utils.GetHostIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	sub, ok := h.hostSubscriber(w, r, hostID)
	if !ok {
		return
	}

	if err := h.db.Model(&sub).Updates(map[string]interface{}{
		"daily_trade_count": 0,
		"last_trade_date":   nil,
	}).Error; err != nil {
		http.Error(w, "Error resetting daily count", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "Daily count reset"})
}

func (h *SubscriberHandler) hostSubscriber(w http.ResponseWriter, r *http.Request, hostID uint) (models.Subscriber, bool) {
	vars := mux.Vars(r)
	id, err := strconv.Atoi(vars["id"])
	if err != nil {
		http.Error(w, "Invalid subscriber ID", http.StatusBadRequest)
		return models.Subscriber{}, false
	}

	var sub models.Subscriber
	if err := h.db.Where("id = ? AND host_id = ?", id, hostID).First(&sub).Error; err != nil {
		http.Error(w, "Subscriber not found", http.StatusNotFound)
		return models.Subscriber{}, false
	}
	return sub, true
}

func (h *SubscriberHandler) ownsDelivery(subscriberID, deliveryID uint) bool {
	var count int64
	h.db.Model(&models.Delivery{}).
		Where("id = ? AND subscriber_id = ?", deliveryID, subscriberID).
		Count(&count)
	return count > 0
}
