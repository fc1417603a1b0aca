package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/room-booking/backend/internal/api/middleware"
	"github.com/room-booking/backend/internal/logging"
	"github.com/room-booking/backend/internal/notification"
)

// maxNotificationBody bounds a webhook delivery body.
const maxNotificationBody = 1 << 20

// NotificationHandler accepts webhook batches.
type NotificationHandler interface {
	Handle(ctx context.Context, batch notification.Batch) notification.Outcome
}

// Listen is the provider's webhook callback. A validationToken query
// parameter is echoed back as plain text; otherwise the body is handed to
// the notification router and answered without waiting on processing.
func Listen(router NotificationHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if token := r.URL.Query().Get("validationToken"); token != "" {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(token))
			return
		}

		var batch notification.Batch
		r.Body = http.MaxBytesReader(w, r.Body, maxNotificationBody)
		if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
			logging.FromContext(r.Context()).Warn("malformed notification body", "error", err)
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrBadRequest, "Invalid notification body")
			return
		}

		switch router.Handle(r.Context(), batch) {
		case notification.OutcomeNoContent:
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusAccepted)
		}
	}
}
