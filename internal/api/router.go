// Package api provides HTTP routing and handlers for the REST API.
package api

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/room-booking/backend/internal/api/handlers"
	"github.com/room-booking/backend/internal/api/middleware"
	"github.com/room-booking/backend/internal/notification"
	"github.com/room-booking/backend/internal/storage"
	"github.com/room-booking/backend/internal/subscription"
	"github.com/room-booking/backend/internal/websocket"
)

// Services are the components the HTTP surface exposes.
type Services struct {
	DB            *storage.DB
	Hub           *websocket.Hub
	Dispatcher    *websocket.Dispatcher
	Subscriptions *subscription.Manager
	Scheduler     *subscription.Scheduler
	Notifications *notification.Router
	Tokens        *storage.TokenRepository
	History       *storage.SubscriptionLogRepository

	// AllowedOrigin is the frontend origin for CORS and WebSocket upgrades
	AllowedOrigin string
	Logger        *slog.Logger
}

// NewRouter creates and configures the HTTP router with all API routes.
func NewRouter(s Services) *mux.Router {
	r := mux.NewRouter()

	r.Use(middleware.RequestLogger(s.Logger))
	r.Use(middleware.ErrorRecovery)
	r.Use(middleware.CORS(s.AllowedOrigin))

	// Provider webhook and token hand-off, outside /api for compatibility
	// with registered callback URLs
	r.HandleFunc("/listen", handlers.Listen(s.Notifications)).Methods(http.MethodPost)
	r.HandleFunc("/token", handlers.SaveToken(s.Tokens)).Methods(http.MethodPost, http.MethodOptions)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	// OPTIONS is listed on browser-facing routes so CORS preflights reach
	// the middleware
	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/health", handlers.HealthCheck(s.DB)).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/status", handlers.Status(handlers.StatusSources{
		Subscriptions: s.Subscriptions.Store(),
		Hub:           s.Hub,
		Sweep:         s.Scheduler,
	})).Methods(http.MethodGet, http.MethodOptions)

	api.HandleFunc("/ws", handlers.WebSocketUpgrade(s.Hub, s.Dispatcher, s.AllowedOrigin)).Methods(http.MethodGet)

	api.HandleFunc("/subscriptions", handlers.ListSubscriptions(s.Subscriptions)).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/subscriptions/{calendarId}/deactivate", handlers.DeactivateSubscription(s.Subscriptions)).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/tokens", handlers.ListTokens(s.Tokens)).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/tokens/{userId}", handlers.DeleteToken(s.Tokens)).Methods(http.MethodDelete, http.MethodOptions)
	api.HandleFunc("/subscriptions/{calendarId}/history", handlers.SubscriptionHistory(s.History)).Methods(http.MethodGet, http.MethodOptions)

	return r
}
