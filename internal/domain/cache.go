package domain

import (
	"context"
	"time"
)

// PriceCache holds the latest LTP per scrip code. Last write wins; readers
// must tolerate staleness up to one tick interval and there is no
// cross-instrument consistency guarantee.
type PriceCache interface {
	SetLTP(ctx context.Context, scripCode int, ltp float64, ts time.Time) error
	GetLTP(ctx context.Context, scripCode int) (float64, time.Time, error)
	RemoveLTP(ctx context.Context, scripCode int) error
}
