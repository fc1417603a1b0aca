// Package handlers provides HTTP request handlers for the API endpoints.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// Pinger checks a backing store.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status      string `json:"status"`
	DBConnected bool   `json:"db_connected"`
}

// HealthCheck returns a handler that performs a health check.
func HealthCheck(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dbConnected := db.PingContext(r.Context()) == nil

		status := "healthy"
		if !dbConnected {
			status = "degraded"
		}

		w.Header().Set("Content-Type", "application/json")
		if status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(HealthResponse{
			Status:      status,
			DBConnected: dbConnected,
		})
	}
}

// StatusSources supplies the live counters reported by Status.
type StatusSources struct {
	Subscriptions interface{ Len() int }
	Hub           interface {
		RoomCount() int
		ClientCount() int
	}
	Sweep interface {
		NextRun() *time.Time
		Interval() time.Duration
	}
}

// StatusResponse represents the system status response.
type StatusResponse struct {
	Subscriptions    int        `json:"subscriptions"`
	Rooms            int        `json:"rooms"`
	ConnectedClients int        `json:"connected_clients"`
	SweepInterval    string     `json:"sweep_interval"`
	NextSweepAt      *time.Time `json:"next_sweep_at,omitempty"`
}

// Status returns a handler that provides system status information.
func Status(src StatusSources) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response := StatusResponse{
			Subscriptions:    src.Subscriptions.Len(),
			Rooms:            src.Hub.RoomCount(),
			ConnectedClients: src.Hub.ClientCount(),
			SweepInterval:    src.Sweep.Interval().String(),
			NextSweepAt:      src.Sweep.NextRun(),
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(response)
	}
}
