package engine

import (
	"context"
	"log/slog"

	"github.com/sgupta-algo/tickrunner/internal/domain"
)

// PositionMonitor watches open positions and claims an exit when the stop or
// a target is hit. Stop-loss wins when a tick crosses both levels; either way
// the store claim guarantees a single exit.
type PositionMonitor struct {
	positions domain.PositionStore
	lifecycle *LifecycleManager
	logger    *slog.Logger
}

// NewPositionMonitor creates a PositionMonitor.
func NewPositionMonitor(positions domain.PositionStore, lifecycle *LifecycleManager, logger *slog.Logger) *PositionMonitor {
	return &PositionMonitor{
		positions: positions,
		lifecycle: lifecycle,
		logger:    logger.With(slog.String("component", "monitor")),
	}
}

// OnTick checks every open position on the tick's scrip against its stop and
// targets.
func (m *PositionMonitor) OnTick(ctx context.Context, tick domain.Tick) {
	open, err := m.positions.ListByScripAndStatus(ctx, tick.ScripCode, domain.StatusOpen)
	if err != nil {
		m.logger.Error("list open positions failed",
			slog.Int("scrip_code", tick.ScripCode),
			slog.String("error", err.Error()),
		)
		return
	}

	for _, p := range open {
		var reason string
		switch {
		case p.StopHit(tick.LTP):
			reason = domain.ExitReasonStopLoss
		case p.TargetHit(tick.LTP):
			reason = domain.ExitReasonTarget
		default:
			continue
		}

		if err := m.lifecycle.ClaimAndExit(ctx, p, tick.LTP, reason); err != nil {
			m.logger.Error("exit failed",
				slog.String("position_id", p.ID),
				slog.String("reason", reason),
				slog.String("error", err.Error()),
			)
		}
	}
}
