package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/room-booking/backend/internal/api/middleware"
	"github.com/room-booking/backend/internal/logging"
	"github.com/room-booking/backend/internal/storage"
	"github.com/room-booking/backend/internal/storage/models"
	"github.com/room-booking/backend/internal/subscription"
)

// TokenSaver persists user access tokens.
type TokenSaver interface {
	Save(ctx context.Context, userID, token string) error
}

// SaveTokenRequest is sent by the frontend after sign-in.
type SaveTokenRequest struct {
	UserID      string `json:"userId"`
	AccessToken string `json:"accessToken"`
}

// SaveToken stores a user's bearer token under the normalized user id.
func SaveToken(tokens TokenSaver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SaveTokenRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrBadRequest, "Invalid request body")
			return
		}

		userID := subscription.NormalizeUserID(req.UserID)
		if userID == "" || req.AccessToken == "" {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrValidation, "userId and accessToken are required")
			return
		}

		if err := tokens.Save(r.Context(), userID, req.AccessToken); err != nil {
			logging.FromContext(r.Context()).Error("failed to save access token", "user_id", userID, "error", err)
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to save token")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"user_id": userID})
	}
}

// TokenAdmin lists and revokes stored tokens.
type TokenAdmin interface {
	List(ctx context.Context) ([]models.AccessToken, error)
	Delete(ctx context.Context, userID string) error
}

// ListTokens returns which users have a token on file. Token values are
// never included.
func ListTokens(tokens TokenAdmin) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := tokens.List(r.Context())
		if err != nil {
			logging.FromContext(r.Context()).Error("failed to list access tokens", "error", err)
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to list tokens")
			return
		}
		if list == nil {
			list = []models.AccessToken{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(list)
	}
}

// DeleteToken revokes a user's stored token.
func DeleteToken(tokens TokenAdmin) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := subscription.NormalizeUserID(mux.Vars(r)["userId"])
		if userID == "" {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrValidation, "userId is required")
			return
		}

		err := tokens.Delete(r.Context(), userID)
		switch {
		case errors.Is(err, storage.ErrTokenNotFound):
			middleware.WriteError(w, http.StatusNotFound, middleware.ErrNotFound, "No token stored for user")
			return
		case err != nil:
			logging.FromContext(r.Context()).Error("failed to delete access token", "user_id", userID, "error", err)
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to delete token")
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}
