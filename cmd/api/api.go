package api

import (
	"log"
	"net/http"
	"os"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/signalflowhq/SignalFlow-server/service/backup"
	"github.com/signalflowhq/SignalFlow-server/service/host"
	"github.com/signalflowhq/SignalFlow-server/service/ingest"
	"github.com/signalflowhq/SignalFlow-server/service/ledger"
	notification "github.com/signalflowhq/SignalFlow-server/service/notifications"
	"github.com/signalflowhq/SignalFlow-server/service/subscriber"
	"github.com/signalflowhq/SignalFlow-server/service/webhook"
	"github.com/signalflowhq/SignalFlow-server/service/ws"
	"gorm.io/gorm"
)

type APIServer struct {
	address string
	db      *gorm.DB
}

func NewApiServer(address string, db *gorm.DB) *APIServer {
	return &APIServer{
		address: address,
		db:      db,
	}
}

func (s *APIServer) Run() error {
	router := mux.NewRouter()
	subrouter := router.PathPrefix("/api/v1").Subrouter()

	deliveryLedger := ledger.NewLedger(s.db)
	hub := ws.NewHub(deliveryLedger)
	dispatcher := webhook.NewDispatcher()
	backupStore := backup.NewStore(s.db)
	notifier := notification.NewNotifier(s.db)

	hostHandler := host.NewHandler(s.db)
	hostHandler.RegisterRoutes(subrouter)

	subscriberHandler := subscriber.NewSubscriberHandler(s.db, deliveryLedger, dispatcher)
	subscriberHandler.RegisterRoutes(subrouter)

	signalHandler := ingest.NewSignalHandler(s.db, hub, dispatcher, deliveryLedger, backupStore, notifier)
	signalHandler.RegisterRoutes(subrouter)

	recoveryHandler := backup.NewRecoveryHandler(s.db, backupStore, signalHandler.ReplayForRecovery)
	recoveryHandler.RegisterRoutes(subrouter)

	notificationHandler := notification.NewNotificationHandler(s.db)
	notificationHandler.RegisterRoutes(subrouter)

	wsHandler := ws.NewWebSocketHandler(s.db, hub, deliveryLedger)
	wsHandler.RegisterRoutes(router)

	// Periodic re-drain and backup retention run for the life of the server.
	sweeper := backup.NewSweeper(backupStore, hub)
	sweeper.Start()
	defer sweeper.Stop()

	corsHandler := handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization", "X-API-Key"}),
	)

	log.Println("Server running at", s.address)
	return http.ListenAndServe(s.address, handlers.LoggingHandler(os.Stdout, corsHandler(router)))
}
