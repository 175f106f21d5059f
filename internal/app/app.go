// Package app wires the engine together and owns its lifecycle: dependency
// construction, startup recovery, the long-running loops, and teardown.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/sgupta-algo/tickrunner/internal/config"
	"github.com/sgupta-algo/tickrunner/internal/domain"
)

// App is the root application object.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires all dependencies, recovers state from the store, starts the
// long-running loops, and blocks until the context is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting engine",
		slog.String("broker", a.cfg.Broker.Name),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	if err := a.bootstrap(ctx, deps); err != nil {
		return fmt.Errorf("app: bootstrap: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return deps.Feed.Run(gctx) })
	g.Go(func() error { return deps.Refresher.Run(gctx) })
	g.Go(func() error { return deps.Closer.Run(gctx) })
	g.Go(func() error { return deps.EntrySync.Run(gctx) })

	return g.Wait()
}

// bootstrap restores runtime state after a restart: persisted session tokens,
// feed interest for every live trade, and status polls for orders that were
// in flight when the process died.
func (a *App) bootstrap(ctx context.Context, deps *Dependencies) error {
	if err := deps.TokenStore.LoadPersisted(ctx, deps.Credential); err != nil {
		a.logger.Warn("restore session token failed", slog.String("error", err.Error()))
	}

	// Awaiting entries are handled by EntrySync's first pass; bootstrap only
	// restores positions, whose subscriptions the lifecycle manager owns.
	live := 0
	for _, status := range []domain.TradeStatus{
		domain.StatusEntrySubmitted,
		domain.StatusOpen,
		domain.StatusExitTriggered,
		domain.StatusExitSubmitted,
	} {
		positions, err := deps.Positions.ListByStatus(ctx, status)
		if err != nil {
			return fmt.Errorf("list %s positions: %w", status, err)
		}
		for _, p := range positions {
			live++
			if err := deps.Feed.Subscribe(p.Instrument); err != nil {
				return fmt.Errorf("resubscribe position %s: %w", p.ID, err)
			}

			// Orders that were in flight need their outcome resolved, and a
			// claimed exit that never reached the broker must be re-placed.
			switch status {
			case domain.StatusEntrySubmitted:
				deps.Reconciler.Monitor(ctx, p.ID, p.OrderID)
			case domain.StatusExitSubmitted:
				deps.Reconciler.Monitor(ctx, p.ID, p.ExitOrderID)
			case domain.StatusExitTriggered:
				price, _, perr := deps.PriceCache.GetLTP(ctx, p.Instrument.ScripCode)
				if perr != nil {
					price = p.EntryPrice
				}
				if err := deps.Lifecycle.ResumeExit(ctx, p, price); err != nil {
					a.logger.Error("resume exit failed",
						slog.String("position_id", p.ID),
						slog.String("error", err.Error()),
					)
				}
			}
		}
	}

	a.logger.Info("state restored", slog.Int("live_positions", live))
	return nil
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
