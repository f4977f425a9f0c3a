package backup

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/signalflowhq/SignalFlow-server/cmd/models"
	"github.com/signalflowhq/SignalFlow-server/cmd/utils"
	"gorm.io/gorm"
)

// ReplayFunc re-runs fan-out for a recovered signal payload. Injected by the
// server wiring so this package stays ignorant of the ingestion machinery.
type ReplayFunc func(hostID, signalID uint, payload models.TradePayload) (int, error)

type RecoveryHandler struct {
	db     *gorm.DB
	store  *Store
	replay ReplayFunc
}

func NewRecoveryHandler(db *gorm.DB, store *Store, replay ReplayFunc) *RecoveryHandler {
	return &RecoveryHandler{db: db, store: store, replay: replay}
}

func (h *RecoveryHandler) RegisterRoutes(router *mux.Router) {
	recoveryRouter := router.PathPrefix("/recovery").Subrouter()
	recoveryRouter.HandleFunc("/pending", utils.HostAuthMiddleware(h.db, h.GetPendingBackups)).Methods("GET")
	recoveryRouter.HandleFunc("/replay", utils.HostAuthMiddleware(h.db, h.ReplayOrphans)).Methods("POST")
	recoveryRouter.HandleFunc("/cleanup", utils.HostAuthMiddleware(h.db, h.Cleanup)).Methods("DELETE")
}

// GetPendingBackups lists backups whose fan-out never completed.
func (h *RecoveryHandler) GetPendingBackups(w http.ResponseWriter, r *http.Request) {
	hostID, err := utils.GetHostIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	backups, err := h.store.PendingForHost(hostID)
	if err != nil {
		http.Error(w, "Error retrieving backups", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(backups)
}

// ReplayOrphans re-runs fan-out for every backup whose signal has no delivery
// rows. Re-fanning an already-processed signal is harmless: existing
// (signal, subscriber) rows are left untouched by the conflict guard.
func (h *RecoveryHandler) ReplayOrphans(w http.ResponseWriter, r *http.Request) {
	hostID, err := utils.GetHostIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	orphans, err := h.store.Orphans(hostID)
	if err != nil {
		http.Error(w, "Error computing recovery set", http.StatusInternalServerError)
		return
	}

	replayed := 0
	created := 0
	for _, orphan := range orphans {
		count, err := h.replay(orphan.HostID, orphan.SignalID, orphan.Payload)
		if err != nil {
			log.Printf("replay of signal %d failed: %v", orphan.SignalID, err)
			continue
		}
		replayed++
		created += count
		if err := h.store.MarkDelivered(orphan.SignalID, count); err != nil {
			log.Printf("marking backup %d delivered: %v", orphan.SignalID, err)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"orphans":            len(orphans),
		"replayed":           replayed,
		"deliveries_created": created,
	})
}

// Cleanup removes delivered backups older than the requested number of days
// (default 30).
func (h *RecoveryHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	hostID, err := utils.GetHostIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	days := 30
	if raw := r.URL.Query().Get("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "Invalid days parameter", http.StatusBadRequest)
			return
		}
		days = parsed
	}

	removed, err := h.store.CleanupForHost(hostID, time.Duration(days)*24*time.Hour)
	if err != nil {
		http.Error(w, "Error cleaning up backups", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"removed": removed,
	})
}
