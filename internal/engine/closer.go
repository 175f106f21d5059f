package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/sgupta-algo/tickrunner/internal/domain"
)

// IntradayCloser squares off intraday positions at a fixed local time on
// weekdays and sweeps out whatever pending entries never fired.
type IntradayCloser struct {
	positions domain.PositionStore
	entries   domain.PendingEntryStore
	cache     domain.PriceCache
	lifecycle *LifecycleManager
	logger    *slog.Logger

	closeHour, closeMin int
	loc                 *time.Location
}

// NewIntradayCloser creates an IntradayCloser firing at the given hour and
// minute in loc.
func NewIntradayCloser(
	positions domain.PositionStore,
	entries domain.PendingEntryStore,
	cache domain.PriceCache,
	lifecycle *LifecycleManager,
	closeHour, closeMin int,
	loc *time.Location,
	logger *slog.Logger,
) *IntradayCloser {
	return &IntradayCloser{
		positions: positions,
		entries:   entries,
		cache:     cache,
		lifecycle: lifecycle,
		closeHour: closeHour,
		closeMin:  closeMin,
		loc:       loc,
		logger:    logger.With(slog.String("component", "intraday_closer")),
	}
}

// Run sleeps until the next weekday close time, performs the square-off, and
// repeats until ctx is cancelled.
func (c *IntradayCloser) Run(ctx context.Context) error {
	c.logger.Info("intraday closer started")
	defer c.logger.Info("intraday closer stopped")

	for {
		next := c.nextClose(time.Now().In(c.loc))
		c.logger.Debug("next intraday close scheduled", slog.Time("at", next))

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		c.squareOff(ctx)
	}
}

// nextClose returns the next weekday occurrence of the close time after now.
func (c *IntradayCloser) nextClose(now time.Time) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), c.closeHour, c.closeMin, 0, 0, c.loc)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	for next.Weekday() == time.Saturday || next.Weekday() == time.Sunday {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// squareOff exits every open intraday position at the cached LTP and clears
// remaining pending entries.
func (c *IntradayCloser) squareOff(ctx context.Context) {
	open, err := c.positions.ListIntradayOpen(ctx)
	if err != nil {
		c.logger.Error("list intraday positions failed", slog.String("error", err.Error()))
		return
	}

	c.logger.Info("intraday square-off", slog.Int("positions", len(open)))

	for _, p := range open {
		price, _, err := c.cache.GetLTP(ctx, p.Instrument.ScripCode)
		if err != nil {
			// No tick today for this scrip; fall back to the entry price so
			// the position still gets squared off.
			c.logger.Warn("no cached ltp for square-off, using entry price",
				slog.String("position_id", p.ID),
				slog.String("symbol", p.Symbol),
			)
			price = p.EntryPrice
		}

		if err := c.lifecycle.ClaimAndExit(ctx, p, price, domain.ExitReasonIntradayClose); err != nil {
			c.logger.Error("intraday close failed",
				slog.String("position_id", p.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	if err := c.entries.DeleteAll(ctx); err != nil {
		c.logger.Error("clear pending entries failed", slog.String("error", err.Error()))
	}
}
