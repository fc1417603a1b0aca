// Package models contains the persisted models for the application.
package models

import (
	"time"
)

// AccessToken is a user's bearer token for the calendar provider.
type AccessToken struct {
	UserID    string    `json:"user_id"`
	Token     string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SubscriptionLogEntry records one subscription lifecycle operation.
type SubscriptionLogEntry struct {
	ID             int64     `json:"id"`
	CalendarID     string    `json:"calendar_id"`
	SubscriptionID string    `json:"subscription_id,omitempty"`
	Operation      string    `json:"operation"`
	Result         string    `json:"result"`
	Detail         *string   `json:"detail,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Subscription log operations
const (
	OperationCreate = "create"
	OperationRenew  = "renew"
	OperationDelete = "delete"
)
