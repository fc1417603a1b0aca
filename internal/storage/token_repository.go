package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/room-booking/backend/internal/storage/models"
)

// ErrTokenNotFound is returned when no token is stored for a user.
var ErrTokenNotFound = errors.New("access token not found")

// TokenRepository provides data access for user access tokens.
type TokenRepository struct {
	BaseRepository
}

// NewTokenRepository creates a new token repository.
func NewTokenRepository(db *DB) *TokenRepository {
	return &TokenRepository{
		BaseRepository: NewBaseRepository(db),
	}
}

// Save stores or replaces a user's token.
func (r *TokenRepository) Save(ctx context.Context, userID, token string) error {
	if userID == "" || token == "" {
		return fmt.Errorf("user id and token are required")
	}

	now := r.Now()
	_, err := r.DB().ExecContext(ctx, `
		INSERT INTO access_tokens (user_id, token, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			token = excluded.token, updated_at = excluded.updated_at
	`, userID, token, now, now)
	if err != nil {
		return fmt.Errorf("saving token: %w", err)
	}
	return nil
}

// Token returns a user's token, or ErrTokenNotFound.
func (r *TokenRepository) Token(ctx context.Context, userID string) (string, error) {
	var token string
	err := r.DB().QueryRowContext(ctx,
		"SELECT token FROM access_tokens WHERE user_id = ?", userID,
	).Scan(&token)

	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: user %q", ErrTokenNotFound, userID)
	}
	if err != nil {
		return "", fmt.Errorf("querying token: %w", err)
	}
	return token, nil
}

// List returns token metadata for every user, without token values.
func (r *TokenRepository) List(ctx context.Context) ([]models.AccessToken, error) {
	rows, err := r.DB().QueryContext(ctx, `
		SELECT user_id, created_at, updated_at
		FROM access_tokens ORDER BY user_id
	`)
	if err != nil {
		return nil, fmt.Errorf("querying tokens: %w", err)
	}
	defer rows.Close()

	var tokens []models.AccessToken
	for rows.Next() {
		var t models.AccessToken
		if err := rows.Scan(&t.UserID, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning token: %w", err)
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}

// Delete removes a user's token.
func (r *TokenRepository) Delete(ctx context.Context, userID string) error {
	result, err := r.DB().ExecContext(ctx, "DELETE FROM access_tokens WHERE user_id = ?", userID)
	if err != nil {
		return fmt.Errorf("deleting token: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return fmt.Errorf("%w: user %q", ErrTokenNotFound, userID)
	}
	return nil
}
