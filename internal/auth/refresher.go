package auth

import (
	"context"
	"log/slog"
	"time"

	"github.com/sgupta-algo/tickrunner/internal/domain"
)

// TokenRefresher keeps session tokens fresh: on a fixed interval it re-logs
// in every credential whose token is missing or past its safety expiry.
type TokenRefresher struct {
	store    *SessionTokenStore
	login    domain.LoginProvider
	creds    []domain.Credential
	interval time.Duration
	logger   *slog.Logger
}

// NewTokenRefresher creates a TokenRefresher over the given credentials.
func NewTokenRefresher(store *SessionTokenStore, login domain.LoginProvider, creds []domain.Credential, interval time.Duration, logger *slog.Logger) *TokenRefresher {
	return &TokenRefresher{
		store:    store,
		login:    login,
		creds:    creds,
		interval: interval,
		logger:   logger.With(slog.String("component", "token_refresher")),
	}
}

// Run performs an immediate refresh pass, then repeats every interval until
// ctx is cancelled.
func (r *TokenRefresher) Run(ctx context.Context) error {
	r.logger.Info("token refresher started")
	defer r.logger.Info("token refresher stopped")

	r.refreshAll(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.refreshAll(ctx)
		}
	}
}

func (r *TokenRefresher) refreshAll(ctx context.Context) {
	for _, cred := range r.creds {
		if r.store.Valid(cred.ID) {
			continue
		}

		st, err := r.login.Login(ctx, cred)
		if err != nil {
			r.logger.Warn("login failed",
				slog.String("credential_id", cred.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		r.store.SetToken(ctx, cred, st)
	}
}
