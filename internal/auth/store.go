// Package auth manages broker session tokens: an in-memory store with expiry
// safety margin, persistence across restarts, and a background refresher.
package auth

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sgupta-algo/tickrunner/internal/domain"
)

type tokenEntry struct {
	token  string
	expiry time.Time
	broker string
}

// SessionTokenStore caches one session token per credential. A token is
// considered expired safetyMargin before its real expiry so requests never
// ride a token that dies mid-flight. Tokens are mirrored to the durable store
// so a restart inside trading hours reuses the live session.
type SessionTokenStore struct {
	mu      sync.RWMutex
	tokens  map[string]tokenEntry
	margin  time.Duration
	persist domain.TokenStore
	logger  *slog.Logger
}

// NewSessionTokenStore creates a SessionTokenStore. persist may be nil to
// disable durable mirroring.
func NewSessionTokenStore(safetyMargin time.Duration, persist domain.TokenStore, logger *slog.Logger) *SessionTokenStore {
	return &SessionTokenStore{
		tokens:  make(map[string]tokenEntry),
		margin:  safetyMargin,
		persist: persist,
		logger:  logger.With(slog.String("component", "token_store")),
	}
}

// SetToken records a freshly issued session token for the credential.
func (s *SessionTokenStore) SetToken(ctx context.Context, cred domain.Credential, st domain.SessionToken) {
	expiry := time.Now().Add(st.ExpiresIn - s.margin)

	s.mu.Lock()
	s.tokens[cred.ID] = tokenEntry{token: st.Token, expiry: expiry, broker: cred.Broker}
	s.mu.Unlock()

	s.logger.Info("session token set",
		slog.String("credential_id", cred.ID),
		slog.Time("expiry", expiry),
	)

	if s.persist != nil {
		if err := s.persist.ReplaceToken(ctx, cred.Broker, cred.ID, st.Token, expiry); err != nil {
			s.logger.Warn("persist session token failed",
				slog.String("credential_id", cred.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Token returns the credential's session token, failing fast with ErrNoToken
// when none is held or the held one has passed its safety expiry.
func (s *SessionTokenStore) Token(_ context.Context, credentialID string) (string, error) {
	s.mu.RLock()
	entry, ok := s.tokens[credentialID]
	s.mu.RUnlock()

	if !ok || time.Now().After(entry.expiry) {
		return "", domain.ErrNoToken
	}
	return entry.token, nil
}

// Valid reports whether the credential currently holds a usable token.
func (s *SessionTokenStore) Valid(credentialID string) bool {
	s.mu.RLock()
	entry, ok := s.tokens[credentialID]
	s.mu.RUnlock()
	return ok && time.Now().Before(entry.expiry)
}

// LoadPersisted restores a still-valid token from the durable store into
// memory. Missing or expired persisted tokens are not an error.
func (s *SessionTokenStore) LoadPersisted(ctx context.Context, cred domain.Credential) error {
	if s.persist == nil {
		return nil
	}

	token, expiry, err := s.persist.Latest(ctx, cred.Broker, cred.ID)
	if err != nil {
		if errors.Is(err, domain.ErrNoToken) {
			return nil
		}
		return err
	}
	if !time.Now().Before(expiry) {
		return nil
	}

	s.mu.Lock()
	s.tokens[cred.ID] = tokenEntry{token: token, expiry: expiry, broker: cred.Broker}
	s.mu.Unlock()

	s.logger.Info("session token restored",
		slog.String("credential_id", cred.ID),
		slog.Time("expiry", expiry),
	)
	return nil
}
