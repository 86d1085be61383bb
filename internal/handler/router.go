package handler

import (
	"net/http"

	"edupulse-sync-server/internal/config"
	"edupulse-sync-server/internal/middleware"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

type Handlers struct {
	Sync      *SyncHandler
	Settings  *SettingsHandler
	Device    *DeviceHandler
	WebSocket *WebSocketHandler
	// Live and Ready come from the health checker; Metrics may be nil.
	Live    http.HandlerFunc
	Ready   http.HandlerFunc
	Metrics http.Handler
}

func NewRouter(h Handlers, jwtSecret string, cors config.CORSConfig, log *zap.SugaredLogger) *mux.Router {
	r := mux.NewRouter()

	r.Use(middleware.CORSMiddleware(
		cors.AllowedOrigins,
		cors.AllowedMethods,
		cors.AllowedHeaders,
	))

	api := r.PathPrefix("/api/v1").Subrouter()

	protected := api.PathPrefix("").Subrouter()
	protected.Use(middleware.AuthMiddleware(jwtSecret))
	protected.Use(middleware.LoggerMiddleware(log))

	protected.HandleFunc("/devices", h.Device.List).Methods("GET", "OPTIONS")
	protected.HandleFunc("/devices/register", h.Device.Register).Methods("POST", "OPTIONS")
	protected.HandleFunc("/devices/{id}", h.Device.Revoke).Methods("DELETE", "OPTIONS")

	protected.HandleFunc("/sync/", h.Sync.ProcessSync).Methods("POST", "OPTIONS")
	protected.HandleFunc("/sync/force/", h.Sync.ForceSync).Methods("POST", "OPTIONS")
	protected.HandleFunc("/sync/conflicts/", h.Sync.ListConflicts).Methods("GET", "OPTIONS")
	protected.HandleFunc("/sync/conflicts/", h.Sync.ResolveConflict).Methods("POST", "OPTIONS")
	protected.HandleFunc("/sync/status/", h.Sync.Status).Methods("GET", "OPTIONS")
	protected.HandleFunc("/sync/history/", h.Sync.History).Methods("GET", "OPTIONS")
	protected.HandleFunc("/sync/offline-data/", h.Sync.OfflineData).Methods("GET", "OPTIONS")
	protected.HandleFunc("/sync/offline-data/", h.Sync.StageOfflineData).Methods("POST", "OPTIONS")
	protected.HandleFunc("/sync/deferred/", h.Sync.Deferred).Methods("GET", "OPTIONS")
	protected.HandleFunc("/sync/settings/", h.Settings.Get).Methods("GET", "OPTIONS")
	protected.HandleFunc("/sync/settings/", h.Settings.Update).Methods("POST", "OPTIONS")

	if h.WebSocket != nil {
		r.HandleFunc("/ws", h.WebSocket.HandleConnection)
	}

	if h.Live != nil {
		r.HandleFunc("/health/live", h.Live).Methods("GET")
	}
	if h.Ready != nil {
		r.HandleFunc("/health/ready", h.Ready).Methods("GET")
	}
	if h.Metrics != nil {
		r.Handle("/metrics", h.Metrics).Methods("GET")
	}

	return r
}
