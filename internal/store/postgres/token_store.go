package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/sgupta-algo/tickrunner/internal/domain"
)

// TokenStore persists broker session tokens so a restart can reuse a
// still-valid session instead of forcing a fresh login.
type TokenStore struct {
	client *Client
}

// NewTokenStore creates a TokenStore backed by the given client.
func NewTokenStore(client *Client) *TokenStore {
	return &TokenStore{client: client}
}

var _ domain.TokenStore = (*TokenStore)(nil)

// ReplaceToken upserts the session token for a broker credential.
func (s *TokenStore) ReplaceToken(ctx context.Context, broker, credentialID, token string, expiry time.Time) error {
	query := `
		INSERT INTO session_tokens (broker, credential_id, token, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (broker, credential_id)
		DO UPDATE SET token = EXCLUDED.token,
		              expires_at = EXCLUDED.expires_at,
		              created_at = NOW()`

	if _, err := s.client.pool.Exec(ctx, query, broker, credentialID, token, expiry); err != nil {
		return fmt.Errorf("postgres: replace token: %w", err)
	}
	return nil
}

// Latest returns the stored token and its expiry for a broker credential.
func (s *TokenStore) Latest(ctx context.Context, broker, credentialID string) (string, time.Time, error) {
	query := `
		SELECT token, expires_at
		FROM session_tokens
		WHERE broker = $1 AND credential_id = $2`

	var (
		token  string
		expiry time.Time
	)
	err := s.client.pool.QueryRow(ctx, query, broker, credentialID).Scan(&token, &expiry)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", time.Time{}, domain.ErrNoToken
		}
		return "", time.Time{}, fmt.Errorf("postgres: latest token: %w", err)
	}
	return token, expiry, nil
}
