package repository

import (
	"context"

	"reminderd/internal/database"
)

type DeviceTokenRepository struct {
	db *database.DB
}

func NewDeviceTokenRepository(db *database.DB) *DeviceTokenRepository {
	return &DeviceTokenRepository{db: db}
}

// Register adds a token to the user's set. Registering a token that is
// already present is a no-op.
func (r *DeviceTokenRepository) Register(ctx context.Context, userID, token string) error {
	_, err := r.db.Pool.Exec(ctx,
		`INSERT INTO device_tokens (user_id, token) VALUES ($1, $2)
		 ON CONFLICT (user_id, token) DO NOTHING`,
		userID, token,
	)
	return err
}

func (r *DeviceTokenRepository) Unregister(ctx context.Context, userID, token string) error {
	_, err := r.db.Pool.Exec(ctx,
		`DELETE FROM device_tokens WHERE user_id = $1 AND token = $2`,
		userID, token,
	)
	return err
}

func (r *DeviceTokenRepository) Tokens(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT token FROM device_tokens WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tokens []string
	for rows.Next() {
		var token string
		if err := rows.Scan(&token); err != nil {
			return nil, err
		}
		tokens = append(tokens, token)
	}
	return tokens, rows.Err()
}

// Remove deletes a batch of tokens from the user's set in one statement.
func (r *DeviceTokenRepository) Remove(ctx context.Context, userID string, tokens []string) error {
	if len(tokens) == 0 {
		return nil
	}
	_, err := r.db.Pool.Exec(ctx,
		`DELETE FROM device_tokens WHERE user_id = $1 AND token = ANY($2)`,
		userID, tokens,
	)
	return err
}
