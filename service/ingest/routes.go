package ingest

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/lib/pq"
	"github.com/signalflowhq/SignalFlow-server/cmd/models"
	"github.com/signalflowhq/SignalFlow-server/cmd/utils"
	"github.com/signalflowhq/SignalFlow-server/service/backup"
	"github.com/signalflowhq/SignalFlow-server/service/ledger"
	notification "github.com/signalflowhq/SignalFlow-server/service/notifications"
	"github.com/signalflowhq/SignalFlow-server/service/prefs"
	"github.com/signalflowhq/SignalFlow-server/service/webhook"
	"github.com/signalflowhq/SignalFlow-server/service/ws"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Webhook dispatches run through a bounded worker pool so a slow third-party
// endpoint cannot pile up unbounded goroutines during a large fan-out.
const webhookWorkers = 8

type SignalHandler struct {
	db         *gorm.DB
	hub        *ws.Hub
	dispatcher *webhook.Dispatcher
	ledger     *ledger.Ledger
	backups    *backup.Store
	notifier   *notification.Notifier
	sem        chan struct{}
}

func NewSignalHandler(db *gorm.DB, hub *ws.Hub, dispatcher *webhook.Dispatcher, l *ledger.Ledger, backups *backup.Store, notifier *notification.Notifier) *SignalHandler {
	return &SignalHandler{
		db:         db,
		hub:        hub,
		dispatcher: dispatcher,
		ledger:     l,
		backups:    backups,
		notifier:   notifier,
		sem:        make(chan struct{}, webhookWorkers),
	}
}

func (h *SignalHandler) RegisterRoutes(router *mux.Router) {
	signalRouter := router.PathPrefix("/signals").Subrouter()

	signalRouter.HandleFunc("", utils.HostAuthMiddleware(h.db, h.IngestSignal)).Methods("POST")
	signalRouter.HandleFunc("", utils.HostAuthMiddleware(h.db, h.GetSignals)).Methods("GET")
	signalRouter.HandleFunc("/stats", utils.HostAuthMiddleware(h.db, h.GetSignalStats)).Methods("GET")
	signalRouter.HandleFunc("/{id:[0-9]+}", utils.HostAuthMiddleware(h.db, h.GetSignalByID)).Methods("GET")
	signalRouter.HandleFunc("/{id:[0-9]+}/result", utils.HostAuthMiddleware(h.db, h.BackfillResult)).Methods("PUT")
	signalRouter.HandleFunc("/{id:[0-9]+}/retry", utils.HostAuthMiddleware(h.db, h.RetryFailedDeliveries)).Methods("POST")
	signalRouter.HandleFunc("/{id:[0-9]+}/deliveries", utils.HostAuthMiddleware(h.db, h.GetSignalDeliveries)).Methods("GET")
}

type ingestResponse struct {
	SignalID          uint   `json:"signal_id"`
	Reference         string `json:"reference"`
	DeliveriesCreated int    `json:"deliveries_created"`
	Delivered         int    `json:"delivered"`
	Pending           int    `json:"pending"`
	Skipped           int    `json:"skipped"`
}

// IngestSignal persists a trade from a host and fans it out to every
// eligible subscriber. Auth and validation failures reject synchronously;
// everything past signal persistence is per-subscriber best effort.
func (h *SignalHandler) IngestSignal(w http.ResponseWriter, r *http.Request) {
	hostID, err := utils.GetHostIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var trade models.TradePayload
	if err := json.NewDecoder(r.Body).Decode(&trade); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if trade.Symbol == "" || trade.Side == "" {
		http.Error(w, "Trade symbol and side are required", http.StatusBadRequest)
		return
	}
	if trade.SentAt == nil {
		now := time.Now()
		trade.SentAt = &now
	}

	signal := models.Signal{
		HostID:      hostID,
		Reference:   uuid.NewString(),
		Status:      models.SignalReceived,
		Symbol:      trade.Symbol,
		Side:        trade.Side,
		Quantity:    trade.Quantity,
		OrderType:   trade.OrderType,
		EntryPrice:  trade.EntryPrice,
		StopLoss:    trade.StopLoss,
		TakeProfits: pq.Float64Array(trade.TakeProfits),
		SentAt:      trade.SentAt,
	}
	if err := h.db.Create(&signal).Error; err != nil {
		http.Error(w, "Error creating signal", http.StatusInternalServerError)
		return
	}

	// Fire-and-forget durability copy; a backup failure never fails ingestion.
	go func(hostID, signalID uint, payload models.TradePayload) {
		if err := h.backups.Upsert(hostID, signalID, payload); err != nil {
			log.Printf("backup write for signal %d: %v", signalID, err)
		}
	}(hostID, signal.ID, trade)

	counts := h.FanOut(&signal, trade)

	go func(signalID uint, created int) {
		if err := h.backups.MarkDelivered(signalID, created); err != nil {
			log.Printf("backup status update for signal %d: %v", signalID, err)
		}
	}(signal.ID, counts.Created)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(ingestResponse{
		SignalID:          signal.ID,
		Reference:         signal.Reference,
		DeliveriesCreated: counts.Created,
		Delivered:         counts.Delivered,
		Pending:           counts.Pending,
		Skipped:           counts.Skipped,
	})
}

// FanoutCounts summarizes one fan-out pass. Created includes skipped rows:
// filtered-out subscribers get an auditable row instead of silence.
type FanoutCounts struct {
	Created   int
	Delivered int
	Pending   int
	Skipped   int
}

// FanOut creates delivery rows for every eligible subscriber of the signal's
// host and dispatches them. Safe to call again for the same signal (recovery
// replay): rows that already exist are skipped by the conflict guard.
func (h *SignalHandler) FanOut(signal *models.Signal, trade models.TradePayload) FanoutCounts {
	now := time.Now()

	var subscribers []models.Subscriber
	if err := h.db.
		Where("host_id = ? AND status = ?", signal.HostID, models.SubscriberActive).
		Where("expires_at IS NULL OR expires_at > ?", now).
		Find(&subscribers).Error; err != nil {
		log.Printf("eligible subscriber query for signal %d: %v", signal.ID, err)
		return FanoutCounts{}
	}

	counts := FanoutCounts{}
	for _, item := range PlanFanout(subscribers, trade, now) {
		delivery := models.Delivery{
			SignalID:     signal.ID,
			SubscriberID: item.Subscriber.ID,
			Payload:      item.Payload,
			Status:       models.DeliveryPending,
		}
		if item.Skip {
			delivery.Status = models.DeliverySkipped
			delivery.Error = item.Reason
		}

		// One bad subscriber must not abort the batch.
		result := h.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&delivery)
		if result.Error != nil {
			log.Printf("creating delivery for subscriber %d: %v", item.Subscriber.ID, result.Error)
			continue
		}
		if result.RowsAffected == 0 {
			// Row already exists from an earlier fan-out of this signal.
			continue
		}

		counts.Created++
		if item.Skip {
			counts.Skipped++
			continue
		}

		h.bumpDailyCount(&item.Subscriber, now)
		h.notifier.NotifySignalAsync(item.Subscriber.ID, item.Payload)

		if h.hub.PushSignal(item.Subscriber.ID, signal.ID, delivery.ID, item.Payload) {
			if err := h.ledger.MarkDelivered(delivery.ID); err != nil {
				log.Printf("marking pushed delivery %d delivered: %v", delivery.ID, err)
			}
			counts.Delivered++
			continue
		}

		if item.Subscriber.WebhookURL != "" {
			h.dispatchWebhookAsync(delivery.ID, item)
			// Counted pending: the webhook outcome lands asynchronously.
			counts.Pending++
			continue
		}

		counts.Pending++
	}

	return counts
}

// ReplayForRecovery re-runs fan-out from a backup payload. Wired into the
// recovery endpoints.
func (h *SignalHandler) ReplayForRecovery(hostID, signalID uint, payload models.TradePayload) (int, error) {
	var signal models.Signal
	if err := h.db.Where("id = ? AND host_id = ?", signalID, hostID).First(&signal).Error; err != nil {
		return 0, err
	}
	counts := h.FanOut(&signal, payload)
	return counts.Created, nil
}

// dispatchWebhookAsync hands a delivery to the webhook worker pool. The
// caller returns immediately; the pool slot is acquired inside the goroutine
// so a saturated pool queues work without stalling fan-out.
func (h *SignalHandler) dispatchWebhookAsync(deliveryID uint, item PlanItem) {
	go func() {
		h.sem <- struct{}{}
		defer func() { <-h.sem }()

		result := h.dispatcher.Deliver(
			context.Background(),
			item.Subscriber.WebhookURL,
			item.Subscriber.WebhookSecret,
			item.Subscriber.ID,
			webhook.EventSignal,
			item.Payload,
		)
		if result.Success {
			if err := h.ledger.MarkDelivered(deliveryID); err != nil {
				log.Printf("marking webhook delivery %d delivered: %v", deliveryID, err)
			}
			return
		}
		if err := h.ledger.MarkFailed(deliveryID, result.Error); err != nil {
			log.Printf("marking webhook delivery %d failed: %v", deliveryID, err)
		}
	}()
}

// bumpDailyCount advances the subscriber's per-day counter, resetting it when
// the last trade fell on an earlier calendar day.
func (h *SignalHandler) bumpDailyCount(sub *models.Subscriber, now time.Time) {
	updates := map[string]interface{}{"last_trade_date": now}
	if sameTradingDay(sub, now) {
		updates["daily_trade_count"] = gorm.Expr("daily_trade_count + 1")
	} else {
		updates["daily_trade_count"] = 1
	}
	if err := h.db.Model(&models.Subscriber{}).Where("id = ?", sub.ID).Updates(updates).Error; err != nil {
		log.Printf("daily count update for subscriber %d: %v", sub.ID, err)
	}
}

// sameTradingDay compares the last trade against now as calendar days in the
// subscriber's preference timezone, the same convention the daily-cap check
// in the filter uses. Comparing in server-local time would disagree with the
// cap around the subscriber's midnight.
func sameTradingDay(sub *models.Subscriber, now time.Time) bool {
	if sub.LastTradeDate == nil {
		return false
	}
	loc := prefs.Location(sub.Preferences.TradingHours.Timezone)
	return prefs.SameCalendarDay(sub.LastTradeDate.In(loc), now.In(loc))
}

// GetSignals lists the calling host's signals, newest first.
func (h *SignalHandler) GetSignals(w http.ResponseWriter, r *http.Request) {
	hostID, err := utils.GetHostIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	query := r.URL.Query()
	limit := 100
	if query.Get("limit") != "" {
		parsed, err := strconv.Atoi(query.Get("limit"))
		if err == nil && parsed > 0 {
			limit = parsed
		}
	}
	offset := 0
	if query.Get("offset") != "" {
		parsed, err := strconv.Atoi(query.Get("offset"))
		if err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	var signals []models.Signal
	if err := h.db.
		Where("host_id = ?", hostID).
		Order("created_at desc").
		Limit(limit).Offset(offset).
		Find(&signals).Error; err != nil {
		http.Error(w, "Error retrieving signals", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(signals)
}

func (h *SignalHandler) GetSignalByID(w http.ResponseWriter, r *http.Request) {
	hostID, err := utils.GetHostIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	vars := mux.Vars(r)
	id, err := strconv.Atoi(vars["id"])
	if err != nil {
		http.Error(w, "Invalid signal ID", http.StatusBadRequest)
		return
	}

	var signal models.Signal
	if err := h.db.Where("id = ? AND host_id = ?", id, hostID).First(&signal).Error; err != nil {
		http.Error(w, "Signal not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(signal)
}

// GetSignalDeliveries returns the per-subscriber delivery rows for a signal.
func (h *SignalHandler) GetSignalDeliveries(w http.ResponseWriter, r *http.Request) {
	hostID, err := utils.GetHostIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	vars := mux.Vars(r)
	id, err := strconv.Atoi(vars["id"])
	if err != nil {
		http.Error(w, "Invalid signal ID", http.StatusBadRequest)
		return
	}

	var signal models.Signal
	if err := h.db.Where("id = ? AND host_id = ?", id, hostID).First(&signal).Error; err != nil {
		http.Error(w, "Signal not found", http.StatusNotFound)
		return
	}

	var deliveries []models.Delivery
	if err := h.db.
		Where("signal_id = ?", signal.ID).
		Order("created_at asc").
		Find(&deliveries).Error; err != nil {
		http.Error(w, "Error retrieving deliveries", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(deliveries)
}

// BackfillResult records the eventual outcome of a signal (result and pnl).
// The trade fields themselves stay immutable.
func (h *SignalHandler) BackfillResult(w http.ResponseWriter, r *http.Request) {
	hostID, err := utils.GetHostIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	vars := mux.Vars(r)
	id, err := strconv.Atoi(vars["id"])
	if err != nil {
		http.Error(w, "Invalid signal ID", http.StatusBadRequest)
		return
	}

	var update struct {
		Result string  `json:"result"`
		PnL    float64 `json:"pnl"`
	}
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	result := h.db.Model(&models.Signal{}).
		Where("id = ? AND host_id = ?", id, hostID).
		Updates(map[string]interface{}{"result": update.Result, "pnl": update.PnL})
	if result.Error != nil {
		http.Error(w, "Error updating signal", http.StatusInternalServerError)
		return
	}
	if result.RowsAffected == 0 {
		http.Error(w, "Signal not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "Signal result recorded"})
}

// RetryFailedDeliveries flips a signal's failed deliveries back to pending
// and re-dispatches them.
func (h *SignalHandler) RetryFailedDeliveries(w http.ResponseWriter, r *http.Request) {
	hostID, err := utils.GetHostIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	vars := mux.Vars(r)
	id, err := strconv.Atoi(vars["id"])
	if err != nil {
		http.Error(w, "Invalid signal ID", http.StatusBadRequest)
		return
	}

	var signal models.Signal
	if err := h.db.Where("id = ? AND host_id = ?", id, hostID).First(&signal).Error; err != nil {
		http.Error(w, "Signal not found", http.StatusNotFound)
		return
	}

	retried, err := h.ledger.RetryFailed(signal.ID)
	if err != nil {
		http.Error(w, "Error retrying deliveries", http.StatusInternalServerError)
		return
	}

	redispatched := h.redispatchPending(&signal)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"retried":      retried,
		"redispatched": redispatched,
	})
}

// redispatchPending re-attempts transport for the signal's pending rows,
// typically right after a manual retry.
func (h *SignalHandler) redispatchPending(signal *models.Signal) int {
	var deliveries []models.Delivery
	if err := h.db.
		Preload("Subscriber").
		Where("signal_id = ? AND status = ?", signal.ID, models.DeliveryPending).
		Find(&deliveries).Error; err != nil {
		log.Printf("loading pending deliveries for signal %d: %v", signal.ID, err)
		return 0
	}

	dispatched := 0
	for _, delivery := range deliveries {
		if delivery.Subscriber == nil {
			continue
		}
		sub := *delivery.Subscriber

		if h.hub.PushSignal(sub.ID, signal.ID, delivery.ID, delivery.Payload) {
			if err := h.ledger.MarkDelivered(delivery.ID); err != nil {
				log.Printf("marking retried delivery %d delivered: %v", delivery.ID, err)
			}
			dispatched++
			continue
		}
		if sub.WebhookURL != "" {
			h.dispatchWebhookAsync(delivery.ID, PlanItem{Subscriber: sub, Payload: delivery.Payload})
			dispatched++
		}
	}
	return dispatched
}

// GetSignalStats aggregates the host's delivery ledger by status and symbol.
func (h *SignalHandler) GetSignalStats(w http.ResponseWriter, r *http.Request) {
	hostID, err := utils.GetHostIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var stats struct {
		TotalSignals    int64          `json:"total_signals"`
		TotalDeliveries int64          `json:"total_deliveries"`
		StatusCounts    map[string]int `json:"status_counts"`
		SymbolCounts    map[string]int `json:"symbol_counts"`
	}
	stats.StatusCounts = make(map[string]int)
	stats.SymbolCounts = make(map[string]int)

	h.db.Model(&models.Signal{}).Where("host_id = ?", hostID).Count(&stats.TotalSignals)
	h.db.Model(&models.Delivery{}).
		Joins("JOIN signals ON signals.id = deliveries.signal_id").
		Where("signals.host_id = ?", hostID).
		Count(&stats.TotalDeliveries)

	var statusResults []struct {
		Status string
		Count  int
	}
	h.db.Model(&models.Delivery{}).
		Select("deliveries.status, count(*) as count").
		Joins("JOIN signals ON signals.id = deliveries.signal_id").
		Where("signals.host_id = ?", hostID).
		Group("deliveries.status").
		Find(&statusResults)
	for _, result := range statusResults {
		stats.StatusCounts[result.Status] = result.Count
	}

	var symbolResults []struct {
		Symbol string
		Count  int
	}
	h.db.Model(&models.Signal{}).
		Select("symbol, count(*) as count").
		Where("host_id = ?", hostID).
		Group("symbol").
		Find(&symbolResults)
	for _, result := range symbolResults {
		stats.SymbolCounts[result.Symbol] = result.Count
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}
