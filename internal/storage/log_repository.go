package storage

import (
	"context"
	"fmt"

	"github.com/room-booking/backend/internal/storage/models"
)

// SubscriptionLogRepository stores the subscription lifecycle history.
type SubscriptionLogRepository struct {
	BaseRepository
}

// NewSubscriptionLogRepository creates a new subscription log repository.
func NewSubscriptionLogRepository(db *DB) *SubscriptionLogRepository {
	return &SubscriptionLogRepository{
		BaseRepository: NewBaseRepository(db),
	}
}

// Append records one lifecycle operation.
func (r *SubscriptionLogRepository) Append(ctx context.Context, entry *models.SubscriptionLogEntry) error {
	entry.CreatedAt = r.Now()

	result, err := r.DB().ExecContext(ctx, `
		INSERT INTO subscription_log (
			calendar_id, subscription_id, operation, result, detail, created_at
		) VALUES (?, ?, ?, ?, ?, ?)
	`,
		entry.CalendarID, entry.SubscriptionID, entry.Operation,
		entry.Result, entry.Detail, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting log entry: %w", err)
	}

	entry.ID, _ = result.LastInsertId()
	return nil
}

// Record appends an entry built from its parts.
func (r *SubscriptionLogRepository) Record(ctx context.Context, calendarID, subscriptionID, operation, result, detail string) error {
	entry := &models.SubscriptionLogEntry{
		CalendarID:     calendarID,
		SubscriptionID: subscriptionID,
		Operation:      operation,
		Result:         result,
	}
	if detail != "" {
		entry.Detail = &detail
	}
	return r.Append(ctx, entry)
}

// ListByCalendar returns the most recent entries for a calendar, newest first.
func (r *SubscriptionLogRepository) ListByCalendar(ctx context.Context, calendarID string, limit int) ([]models.SubscriptionLogEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.DB().QueryContext(ctx, `
		SELECT id, calendar_id, subscription_id, operation, result, detail, created_at
		FROM subscription_log
		WHERE calendar_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, calendarID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying log entries: %w", err)
	}
	defer rows.Close()

	var entries []models.SubscriptionLogEntry
	for rows.Next() {
		var e models.SubscriptionLogEntry
		if err := rows.Scan(
			&e.ID, &e.CalendarID, &e.SubscriptionID, &e.Operation,
			&e.Result, &e.Detail, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning log entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Prune deletes all but the newest keep entries per calendar.
func (r *SubscriptionLogRepository) Prune(ctx context.Context, keep int) (int64, error) {
	result, err := r.DB().ExecContext(ctx, `
		DELETE FROM subscription_log WHERE id IN (
			SELECT id FROM (
				SELECT id, ROW_NUMBER() OVER (
					PARTITION BY calendar_id ORDER BY created_at DESC, id DESC
				) AS rn
				FROM subscription_log
			) WHERE rn > ?
		)
	`, keep)
	if err != nil {
		return 0, fmt.Errorf("pruning log entries: %w", err)
	}
	return result.RowsAffected()
}
