package engine

import (
	"context"

	"github.com/sgupta-algo/tickrunner/internal/domain"
)

// TickDispatcher fans one tick into trigger evaluation and then position
// monitoring. Trigger first: an entry fired by this tick should not also be
// exited by it.
type TickDispatcher struct {
	trigger *TriggerEvaluator
	monitor *PositionMonitor
}

// NewTickDispatcher creates a TickDispatcher.
func NewTickDispatcher(trigger *TriggerEvaluator, monitor *PositionMonitor) *TickDispatcher {
	return &TickDispatcher{trigger: trigger, monitor: monitor}
}

// OnTick runs trigger evaluation then position monitoring for the tick.
func (d *TickDispatcher) OnTick(ctx context.Context, tick domain.Tick) {
	d.trigger.OnTick(ctx, tick)
	d.monitor.OnTick(ctx, tick)
}
