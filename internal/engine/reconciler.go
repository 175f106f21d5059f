package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sgupta-algo/tickrunner/internal/domain"
	"github.com/sgupta-algo/tickrunner/internal/notify"
)

// orderClass is the reconciler's reading of a broker order-history lookup.
type orderClass int

const (
	classNoRecords orderClass = iota
	classExecuted
	classRejected
	classPending
)

// classifyRecords folds the order-history rows into a single verdict. A
// fully-executed row wins over everything; a rejection wins over pending.
// Partial fills count as pending until the broker reports full execution.
func classifyRecords(records []domain.OrderRecord) (orderClass, domain.OrderRecord) {
	class := classNoRecords
	var verdict domain.OrderRecord

	for _, rec := range records {
		s := strings.ToLower(rec.OrderStatus)
		switch {
		case strings.Contains(s, "fully") || strings.Contains(s, "executed"):
			return classExecuted, rec
		case strings.Contains(s, "reject"):
			if class != classRejected {
				class = classRejected
				verdict = rec
			}
		case strings.Contains(s, "pending") || strings.Contains(s, "process") || strings.Contains(s, "partially"):
			if class == classNoRecords {
				class = classPending
				verdict = rec
			}
		}
	}
	return class, verdict
}

// Reconciler resolves the true outcome of submitted orders by polling broker
// order history. The ack channel is best-effort; the poll is what guarantees
// every order eventually fills, rejects, or gets flagged stale.
type Reconciler struct {
	positions domain.PositionStore
	broker    domain.BrokerGateway
	creds     CredentialResolver
	cache     domain.PriceCache
	notifier  *notify.Notifier
	logger    *slog.Logger

	pollInterval time.Duration
	pollTimeout  time.Duration

	lifecycle *LifecycleManager

	mu     sync.Mutex
	active map[string]struct{} // keyed by broker order id
}

// NewReconciler creates a Reconciler. The lifecycle manager binds itself via
// attach during its own construction.
func NewReconciler(
	positions domain.PositionStore,
	broker domain.BrokerGateway,
	creds CredentialResolver,
	cache domain.PriceCache,
	notifier *notify.Notifier,
	pollInterval, pollTimeout time.Duration,
	logger *slog.Logger,
) *Reconciler {
	return &Reconciler{
		positions:    positions,
		broker:       broker,
		creds:        creds,
		cache:        cache,
		notifier:     notifier,
		pollInterval: pollInterval,
		pollTimeout:  pollTimeout,
		active:       make(map[string]struct{}),
		logger:       logger.With(slog.String("component", "reconciler")),
	}
}

func (r *Reconciler) attach(lm *LifecycleManager) {
	r.lifecycle = lm
}

// Monitor starts polling the order until it resolves or the timeout window
// closes. At most one poll runs per broker order id; duplicate calls (ack
// plus placement, reconnect replays) are no-ops.
func (r *Reconciler) Monitor(ctx context.Context, positionID, orderID string) {
	if orderID == "" {
		return
	}

	r.mu.Lock()
	if _, running := r.active[orderID]; running {
		r.mu.Unlock()
		return
	}
	r.active[orderID] = struct{}{}
	r.mu.Unlock()

	go r.poll(ctx, positionID, orderID)
}

func (r *Reconciler) poll(ctx context.Context, positionID, orderID string) {
	defer func() {
		r.mu.Lock()
		delete(r.active, orderID)
		r.mu.Unlock()
	}()

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()
	deadline := time.NewTimer(r.pollTimeout)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-deadline.C:
			r.logger.Warn("order status poll timed out",
				slog.String("position_id", positionID),
				slog.String("order_id", orderID),
			)
			r.notify(ctx, notify.EventOrderStale, "Order status unresolved",
				fmt.Sprintf("order %s (position %s) did not resolve within %s; check the broker terminal",
					orderID, positionID, r.pollTimeout))
			return

		case <-ticker.C:
			done, err := r.pollOnce(ctx, positionID, orderID)
			if err != nil {
				r.logger.Warn("order status poll failed",
					slog.String("order_id", orderID),
					slog.String("error", err.Error()),
				)
				continue
			}
			if done {
				return
			}
		}
	}
}

// pollOnce performs a single history lookup and applies its verdict. It
// returns true when the poll should stop.
func (r *Reconciler) pollOnce(ctx context.Context, positionID, orderID string) (bool, error) {
	p, err := r.positions.GetByID(ctx, positionID)
	if err != nil {
		return true, err
	}

	entrySide := p.OrderID == orderID

	// Stop when the position has already moved past the polled order's state:
	// an ack handler or a concurrent path resolved it first.
	if entrySide && p.Status != domain.StatusEntrySubmitted {
		return true, nil
	}
	if !entrySide && p.Status != domain.StatusExitSubmitted {
		return true, nil
	}

	cred, err := r.creds.Credential(ctx, p.CredentialID)
	if err != nil {
		return false, err
	}

	records, err := r.broker.OrderHistory(ctx, cred, p.Instrument.Exchange, orderID)
	if err != nil {
		return false, err
	}

	class, verdict := classifyRecords(records)
	switch class {
	case classExecuted:
		price := verdict.AvgPrice
		if price <= 0 {
			price = verdict.OrderPrice
		}
		if entrySide {
			return true, r.lifecycle.OnEntryFilled(ctx, positionID, price)
		}
		return true, r.lifecycle.OnExitFilled(ctx, positionID, price)

	case classRejected:
		if entrySide {
			return true, r.lifecycle.OnEntryRejected(ctx, positionID)
		}
		return true, r.lifecycle.OnExitRejected(ctx, positionID)

	case classPending:
		side := domain.SideSell
		if entrySide {
			side = domain.SideBuy
		}
		r.chasePending(ctx, cred, p, orderID, side, verdict.OrderPrice)
		return false, nil

	default:
		// NO_RECORDS: the order has not reached the books yet, keep polling.
		return false, nil
	}
}

// chasePending re-prices a resting order to the current LTP when the market
// has run past it: a buy sitting below the market is raised, a sell sitting
// above the market is lowered. orderPrice comes from the broker's history
// record; when the history omits it the entry side falls back to the trigger
// price and the exit side is left alone.
func (r *Reconciler) chasePending(ctx context.Context, cred domain.Credential, p domain.Position, orderID string, side domain.OrderSide, orderPrice float64) {
	ltp, _, err := r.cache.GetLTP(ctx, p.Instrument.ScripCode)
	if err != nil {
		return
	}

	ref := orderPrice
	if ref <= 0 && side == domain.SideBuy {
		ref = p.EntryPrice
	}
	if ref <= 0 {
		return
	}
	if side == domain.SideBuy && ltp <= ref {
		return
	}
	if side == domain.SideSell && ltp >= ref {
		return
	}

	req := domain.OrderRequest{
		CustomerID:     cred.CustomerID,
		Instrument:     p.Instrument,
		Symbol:         p.Symbol,
		Side:           side,
		Quantity:       p.Quantity,
		Price:          ltp,
		InstrumentType: p.InstrumentType,
		StrikePrice:    p.StrikePrice,
		OptionType:     p.OptionType,
		Expiry:         p.Expiry,
		OrderID:        orderID,
	}

	if _, err := r.broker.ModifyOrder(ctx, cred, req); err != nil {
		r.logger.Warn("chase order price failed",
			slog.String("order_id", orderID),
			slog.Float64("ltp", ltp),
			slog.String("error", err.Error()),
		)
		return
	}

	r.logger.Info("resting order re-priced",
		slog.String("order_id", orderID),
		slog.String("symbol", p.Symbol),
		slog.String("side", string(side)),
		slog.Float64("price", ltp),
	)
}

func (r *Reconciler) notify(ctx context.Context, event, title, message string) {
	if r.notifier == nil {
		return
	}
	if err := r.notifier.Notify(ctx, event, title, message); err != nil {
		r.logger.Warn("notification failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
