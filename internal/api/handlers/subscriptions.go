package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/room-booking/backend/internal/api/middleware"
	"github.com/room-booking/backend/internal/logging"
	"github.com/room-booking/backend/internal/storage/models"
	"github.com/room-booking/backend/internal/subscription"
)

// Subscriptions is the lifecycle surface the subscription endpoints use.
type Subscriptions interface {
	Store() *subscription.Store
	State(calendarID string) subscription.State
	Deactivate(ctx context.Context, calendarID string) bool
}

// HistoryReader lists lifecycle log entries.
type HistoryReader interface {
	ListByCalendar(ctx context.Context, calendarID string, limit int) ([]models.SubscriptionLogEntry, error)
}

// SubscriptionResponse describes one held subscription.
type SubscriptionResponse struct {
	ID          string    `json:"id"`
	CalendarID  string    `json:"calendar_id"`
	Resource    string    `json:"resource"`
	OwnerUserID string    `json:"owner_user_id,omitempty"`
	State       string    `json:"state"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// ListSubscriptions returns a snapshot of the subscription store.
func ListSubscriptions(subs Subscriptions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		records := subs.Store().List()

		response := make([]SubscriptionResponse, 0, len(records))
		for _, rec := range records {
			calendarID, _ := subscription.DeriveCalendarID(rec.Resource)
			response = append(response, SubscriptionResponse{
				ID:          rec.ID,
				CalendarID:  calendarID,
				Resource:    rec.Resource,
				OwnerUserID: rec.OwnerUserID,
				State:       subs.State(calendarID).String(),
				ExpiresAt:   rec.ExpiresAt,
			})
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(response)
	}
}

// DeactivateSubscription tears down a calendar's subscription. It answers
// 304 when there is nothing to deactivate.
func DeactivateSubscription(subs Subscriptions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		calendarID := mux.Vars(r)["calendarId"]

		if !subs.Deactivate(r.Context(), calendarID) {
			w.WriteHeader(http.StatusNotModified)
			return
		}

		logging.FromContext(r.Context()).Info("subscription deactivation requested", "calendar_id", calendarID)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"calendar_id": calendarID,
			"state":       subscription.StateDeleting.String(),
		})
	}
}

// SubscriptionHistory returns the newest lifecycle log entries for a
// calendar. The optional limit query parameter caps the count.
func SubscriptionHistory(history HistoryReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		calendarID := mux.Vars(r)["calendarId"]

		limit := 50
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				middleware.WriteError(w, http.StatusBadRequest, middleware.ErrValidation, "limit must be a positive integer")
				return
			}
			limit = n
		}

		entries, err := history.ListByCalendar(r.Context(), calendarID, limit)
		if err != nil {
			logging.FromContext(r.Context()).Error("failed to list subscription history", "calendar_id", calendarID, "error", err)
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to query history")
			return
		}
		if entries == nil {
			entries = []models.SubscriptionLogEntry{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(entries)
	}
}
