package engine

import (
	"context"
	"log/slog"

	"github.com/sgupta-algo/tickrunner/internal/domain"
)

// TriggerEvaluator watches awaiting pending entries and fires them when the
// market reaches the entry price. It runs on the per-instrument scheduler, so
// evaluations for one scrip never overlap.
type TriggerEvaluator struct {
	entries   domain.PendingEntryStore
	lifecycle *LifecycleManager
	logger    *slog.Logger
}

// NewTriggerEvaluator creates a TriggerEvaluator.
func NewTriggerEvaluator(entries domain.PendingEntryStore, lifecycle *LifecycleManager, logger *slog.Logger) *TriggerEvaluator {
	return &TriggerEvaluator{
		entries:   entries,
		lifecycle: lifecycle,
		logger:    logger.With(slog.String("component", "trigger")),
	}
}

// OnTick fires every awaiting entry whose entry price the tick has reached.
// The pending row is deleted only after submission succeeds; a failed
// submission leaves it in place so the next tick retries. A tick that arrives
// between submission and deletion can therefore double-submit; the operator
// alert on every placement makes that visible.
func (t *TriggerEvaluator) OnTick(ctx context.Context, tick domain.Tick) {
	pending, err := t.entries.ListAwaiting(ctx, tick.ScripCode)
	if err != nil {
		t.logger.Error("list awaiting entries failed",
			slog.Int("scrip_code", tick.ScripCode),
			slog.String("error", err.Error()),
		)
		return
	}

	for _, pe := range pending {
		if tick.LTP < pe.EntryPrice {
			continue
		}

		t.logger.Info("entry triggered",
			slog.String("entry_id", pe.ID),
			slog.String("symbol", pe.Symbol),
			slog.Float64("entry_price", pe.EntryPrice),
			slog.Float64("ltp", tick.LTP),
		)

		if err := t.lifecycle.SubmitEntry(ctx, pe, tick.LTP); err != nil {
			t.logger.Error("entry submission failed, will retry on next tick",
				slog.String("entry_id", pe.ID),
				slog.String("error", err.Error()),
			)
			continue
		}

		if err := t.entries.Delete(ctx, pe.ID); err != nil {
			t.logger.Error("delete fired entry failed",
				slog.String("entry_id", pe.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}
