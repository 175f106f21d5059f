package domain

import (
	"context"
	"time"
)

// PendingEntryStore persists entry requests awaiting their trigger price.
type PendingEntryStore interface {
	Create(ctx context.Context, pe PendingEntry) error
	GetByID(ctx context.Context, id string) (PendingEntry, error)
	// ListAwaiting returns entries in awaiting_entry status for one scrip.
	ListAwaiting(ctx context.Context, scripCode int) ([]PendingEntry, error)
	// ListAllAwaiting returns every awaiting entry (subscription sync).
	ListAllAwaiting(ctx context.Context) ([]PendingEntry, error)
	Delete(ctx context.Context, id string) error
	// DeleteAll clears remaining entry requests (end-of-day sweep).
	DeleteAll(ctx context.Context) error
}

// PositionStore persists positions. It is the single source of truth for
// trade state: every status transition round-trips through it, and the
// conditional ClaimStatus primitive is what serializes racing writers.
type PositionStore interface {
	Create(ctx context.Context, p Position) error
	GetByID(ctx context.Context, id string) (Position, error)
	// GetByOrderID resolves a position from either its entry or exit broker
	// order id.
	GetByOrderID(ctx context.Context, orderID string) (Position, error)
	ListByScripAndStatus(ctx context.Context, scripCode int, status TradeStatus) ([]Position, error)
	ListByStatus(ctx context.Context, status TradeStatus) ([]Position, error)
	// ListIntradayOpen returns open intraday positions (end-of-day close).
	ListIntradayOpen(ctx context.Context) ([]Position, error)

	// ClaimStatus atomically moves the position from one status to another
	// ("UPDATE ... WHERE id = $1 AND status = $2"). It returns true iff this
	// caller performed the transition; false means another caller got there
	// first or the position is no longer in the expected status. A non-empty
	// exitReason is recorded alongside the transition.
	ClaimStatus(ctx context.Context, id string, from, to TradeStatus, exitReason string) (bool, error)

	UpdateStatus(ctx context.Context, id string, status TradeStatus) error
	SetStopLoss(ctx context.Context, id string, stop float64) error
	SetExitOrder(ctx context.Context, id, exitOrderID string) error
	MarkEntryFilled(ctx context.Context, id string, avgPrice float64, at time.Time) error
	MarkExited(ctx context.Context, id string, exitPrice, pnl float64, at time.Time) error
}

// TokenStore persists broker session tokens so a restart inside trading
// hours does not force a fresh login.
type TokenStore interface {
	ReplaceToken(ctx context.Context, broker, credentialID, token string, expiry time.Time) error
	Latest(ctx context.Context, broker, credentialID string) (token string, expiry time.Time, err error)
}
