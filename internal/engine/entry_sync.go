package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/sgupta-algo/tickrunner/internal/domain"
)

// EntrySync keeps feed subscriptions aligned with the pending-entry table.
// Entry rows are written by the external intake, so the engine cannot hook
// their creation; instead this loop rescans the awaiting set and subscribes
// scrips that appeared since the last pass. It also owns the release: when a
// row disappears (consumed by the trigger, swept at end of day, or cancelled
// by the intake) its feed reference is dropped on the next pass.
type EntrySync struct {
	entries  domain.PendingEntryStore
	feed     FeedControl
	interval time.Duration
	logger   *slog.Logger

	// held maps entry id to the instrument whose feed reference this
	// component holds. Touched only by the sync pass.
	held map[string]domain.InstrumentKey
}

// NewEntrySync creates an EntrySync rescanning every interval.
func NewEntrySync(entries domain.PendingEntryStore, feed FeedControl, interval time.Duration, logger *slog.Logger) *EntrySync {
	return &EntrySync{
		entries:  entries,
		feed:     feed,
		interval: interval,
		held:     make(map[string]domain.InstrumentKey),
		logger:   logger.With(slog.String("component", "entry_sync")),
	}
}

// Run performs an immediate pass, then repeats every interval until ctx is
// cancelled.
func (s *EntrySync) Run(ctx context.Context) error {
	s.logger.Info("entry subscription sync started")
	defer s.logger.Info("entry subscription sync stopped")

	s.sync(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.sync(ctx)
		}
	}
}

// sync reconciles held feed references against the current awaiting set.
func (s *EntrySync) sync(ctx context.Context) {
	awaiting, err := s.entries.ListAllAwaiting(ctx)
	if err != nil {
		s.logger.Warn("list awaiting entries failed", slog.String("error", err.Error()))
		return
	}

	present := make(map[string]struct{}, len(awaiting))
	for _, pe := range awaiting {
		present[pe.ID] = struct{}{}
		if _, ok := s.held[pe.ID]; ok {
			continue
		}
		if err := s.feed.Subscribe(pe.Instrument); err != nil {
			s.logger.Warn("subscribe entry failed",
				slog.String("entry_id", pe.ID),
				slog.String("instrument", pe.Instrument.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		s.held[pe.ID] = pe.Instrument
		s.logger.Debug("entry subscribed",
			slog.String("entry_id", pe.ID),
			slog.String("instrument", pe.Instrument.String()),
		)
	}

	for id, key := range s.held {
		if _, ok := present[id]; ok {
			continue
		}
		if err := s.feed.Unsubscribe(ctx, key); err != nil {
			s.logger.Warn("release entry subscription failed",
				slog.String("entry_id", id),
				slog.String("instrument", key.String()),
				slog.String("error", err.Error()),
			)
		}
		delete(s.held, id)
	}
}
