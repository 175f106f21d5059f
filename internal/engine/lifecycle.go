// Package engine implements the trading logic: trigger evaluation, position
// monitoring, the order lifecycle state machine, order-status reconciliation
// and the intraday closer.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sgupta-algo/tickrunner/internal/domain"
	"github.com/sgupta-algo/tickrunner/internal/notify"
)

const placeOrderAttempts = 3

// FeedControl is the subscription surface of the market data feed.
type FeedControl interface {
	Subscribe(key domain.InstrumentKey) error
	Unsubscribe(ctx context.Context, key domain.InstrumentKey) error
}

// CredentialResolver resolves a credential reference to the full credential.
type CredentialResolver interface {
	Credential(ctx context.Context, id string) (domain.Credential, error)
}

// transitions is the single allowed-transition table. Every status change in
// the engine goes through LifecycleManager.claim, which consults this table
// before touching the store.
var transitions = map[domain.TradeStatus][]domain.TradeStatus{
	domain.StatusAwaitingEntry:  {domain.StatusEntrySubmitted},
	domain.StatusEntrySubmitted: {domain.StatusOpen, domain.StatusEntryRejected},
	domain.StatusOpen:           {domain.StatusExitTriggered},
	domain.StatusExitTriggered:  {domain.StatusExitSubmitted, domain.StatusExitFailed},
	domain.StatusExitSubmitted:  {domain.StatusExitFilled, domain.StatusExitFailed},
}

func allowedTransition(from, to domain.TradeStatus) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// LifecycleManager owns every position status transition. The store's
// conditional update is the concurrency primitive: a transition either wins
// the row or observes that someone else already moved it, so each edge of the
// state machine executes exactly once no matter how many tick handlers, ack
// handlers and pollers race.
type LifecycleManager struct {
	positions  domain.PositionStore
	broker     domain.BrokerGateway
	creds      CredentialResolver
	feed       FeedControl
	cache      domain.PriceCache
	reconciler *Reconciler
	notifier   *notify.Notifier
	logger     *slog.Logger
}

// NewLifecycleManager creates a LifecycleManager and binds it to the
// reconciler so fill/rejection outcomes flow back in.
func NewLifecycleManager(
	positions domain.PositionStore,
	broker domain.BrokerGateway,
	creds CredentialResolver,
	feed FeedControl,
	cache domain.PriceCache,
	reconciler *Reconciler,
	notifier *notify.Notifier,
	logger *slog.Logger,
) *LifecycleManager {
	lm := &LifecycleManager{
		positions:  positions,
		broker:     broker,
		creds:      creds,
		feed:       feed,
		cache:      cache,
		reconciler: reconciler,
		notifier:   notifier,
		logger:     logger.With(slog.String("component", "lifecycle")),
	}
	reconciler.attach(lm)
	return lm
}

// SetFeed binds the feed's subscription surface. The feed and the lifecycle
// manager reference each other, so whichever is built first is bound late;
// it must be set before any order flows.
func (lm *LifecycleManager) SetFeed(feed FeedControl) {
	lm.feed = feed
}

// claim performs a table-validated conditional status transition. It returns
// true iff this caller performed the transition.
func (lm *LifecycleManager) claim(ctx context.Context, id string, from, to domain.TradeStatus, exitReason string) (bool, error) {
	if !allowedTransition(from, to) {
		return false, fmt.Errorf("engine: %s -> %s: %w", from, to, domain.ErrInvalidTransition)
	}
	return lm.positions.ClaimStatus(ctx, id, from, to, exitReason)
}

// SubmitEntry places the entry order for a triggered pending entry and
// creates the position in entry_submitted status. The caller deletes the
// pending row only after this returns nil; an error leaves the row for a
// retry on the next tick.
func (lm *LifecycleManager) SubmitEntry(ctx context.Context, pe domain.PendingEntry, ltp float64) error {
	cred, err := lm.creds.Credential(ctx, pe.CredentialID)
	if err != nil {
		return fmt.Errorf("engine: resolve credential %s: %w", pe.CredentialID, err)
	}

	req := domain.OrderRequest{
		CustomerID:     cred.CustomerID,
		Instrument:     pe.Instrument,
		Symbol:         pe.Symbol,
		Side:           domain.SideBuy,
		Quantity:       pe.Quantity,
		Price:          ltp,
		InstrumentType: pe.InstrumentType,
		StrikePrice:    pe.StrikePrice,
		OptionType:     pe.OptionType,
		Expiry:         pe.Expiry,
	}

	receipt, err := lm.placeWithRetry(ctx, cred, req)
	if err != nil {
		return fmt.Errorf("engine: place entry order %s: %w", pe.Symbol, err)
	}

	now := time.Now()
	pos := domain.Position{
		ID:             uuid.New().String(),
		Symbol:         pe.Symbol,
		Instrument:     pe.Instrument,
		InstrumentType: pe.InstrumentType,
		StrikePrice:    pe.StrikePrice,
		OptionType:     pe.OptionType,
		Expiry:         pe.Expiry,
		Quantity:       pe.Quantity,
		EntryPrice:     ltp,
		StopLoss:       pe.StopLoss,
		Target1:        pe.Target1,
		Target2:        pe.Target2,
		Target3:        pe.Target3,
		TrailingStop:   pe.TrailingStop,
		Intraday:       pe.Intraday,
		CredentialID:   pe.CredentialID,
		CustomerID:     cred.CustomerID,
		OrderID:        receipt.OrderID,
		Status:         domain.StatusEntrySubmitted,
		TriggeredAt:    now,
	}

	if err := lm.positions.Create(ctx, pos); err != nil {
		return fmt.Errorf("engine: persist position for order %s: %w", receipt.OrderID, err)
	}

	if err := lm.subscribe(pe.Instrument); err != nil {
		lm.logger.Warn("subscribe after entry failed",
			slog.String("instrument", pe.Instrument.String()),
			slog.String("error", err.Error()),
		)
	}

	lm.logger.Info("entry order placed",
		slog.String("position_id", pos.ID),
		slog.String("symbol", pos.Symbol),
		slog.String("order_id", receipt.OrderID),
		slog.Float64("price", ltp),
	)
	lm.notify(ctx, notify.EventOrderPlaced, "Entry order placed",
		fmt.Sprintf("%s qty %d @ %.2f (order %s)", pos.Symbol, pos.Quantity, ltp, receipt.OrderID))

	lm.reconciler.Monitor(ctx, pos.ID, receipt.OrderID)
	return nil
}

// ClaimAndExit attempts the open → exit_triggered claim for the position and,
// if this caller wins, executes the exit at the given price. Losing the claim
// is a normal outcome and returns nil.
func (lm *LifecycleManager) ClaimAndExit(ctx context.Context, p domain.Position, exitPrice float64, reason string) error {
	won, err := lm.claim(ctx, p.ID, domain.StatusOpen, domain.StatusExitTriggered, reason)
	if err != nil {
		return fmt.Errorf("engine: exit claim %s: %w", p.ID, err)
	}
	if !won {
		return nil
	}

	lm.logger.Info("exit claimed",
		slog.String("position_id", p.ID),
		slog.String("symbol", p.Symbol),
		slog.String("reason", reason),
		slog.Float64("price", exitPrice),
	)
	return lm.executeExit(ctx, p, exitPrice, reason)
}

// ResumeExit finishes the exit of a position that was claimed but never made
// it to exit_submitted (a crash between the claim and the order placement).
// The claim was already won, so the exit proceeds directly.
func (lm *LifecycleManager) ResumeExit(ctx context.Context, p domain.Position, exitPrice float64) error {
	if p.Status != domain.StatusExitTriggered {
		return nil
	}
	return lm.executeExit(ctx, p, exitPrice, p.ExitReason)
}

// executeExit places the sell order for a position this caller has already
// claimed. A broker failure after retries is terminal: the position becomes
// exit_failed and an operator is alerted; nothing retries automatically.
func (lm *LifecycleManager) executeExit(ctx context.Context, p domain.Position, exitPrice float64, reason string) error {
	cred, err := lm.creds.Credential(ctx, p.CredentialID)
	if err != nil {
		return lm.failExit(ctx, p, fmt.Errorf("resolve credential %s: %w", p.CredentialID, err))
	}

	req := domain.OrderRequest{
		CustomerID:     cred.CustomerID,
		Instrument:     p.Instrument,
		Symbol:         p.Symbol,
		Side:           domain.SideSell,
		Quantity:       p.Quantity,
		Price:          exitPrice,
		InstrumentType: p.InstrumentType,
		StrikePrice:    p.StrikePrice,
		OptionType:     p.OptionType,
		Expiry:         p.Expiry,
	}

	receipt, err := lm.placeWithRetry(ctx, cred, req)
	if err != nil {
		return lm.failExit(ctx, p, fmt.Errorf("place exit order: %w", err))
	}

	if err := lm.positions.SetExitOrder(ctx, p.ID, receipt.OrderID); err != nil {
		lm.logger.Error("persist exit order id failed",
			slog.String("position_id", p.ID),
			slog.String("order_id", receipt.OrderID),
			slog.String("error", err.Error()),
		)
	}

	if _, err := lm.claim(ctx, p.ID, domain.StatusExitTriggered, domain.StatusExitSubmitted, ""); err != nil {
		return fmt.Errorf("engine: mark exit submitted %s: %w", p.ID, err)
	}

	lm.logger.Info("exit order placed",
		slog.String("position_id", p.ID),
		slog.String("symbol", p.Symbol),
		slog.String("order_id", receipt.OrderID),
		slog.String("reason", reason),
	)
	lm.notify(ctx, notify.EventOrderPlaced, "Exit order placed",
		fmt.Sprintf("%s qty %d @ %.2f, reason %s (order %s)", p.Symbol, p.Quantity, exitPrice, reason, receipt.OrderID))

	// The placement response sometimes already reports the fill; settle
	// directly instead of waiting a poll cycle.
	if isExecutedStatus(receipt.OrderStatus) && receipt.AvgPrice > 0 {
		return lm.OnExitFilled(ctx, p.ID, receipt.AvgPrice)
	}

	lm.reconciler.Monitor(ctx, p.ID, receipt.OrderID)
	return nil
}

// failExit moves a claimed position to exit_failed and alerts the operator.
func (lm *LifecycleManager) failExit(ctx context.Context, p domain.Position, cause error) error {
	if _, err := lm.claim(ctx, p.ID, domain.StatusExitTriggered, domain.StatusExitFailed, ""); err != nil {
		lm.logger.Error("mark exit failed",
			slog.String("position_id", p.ID),
			slog.String("error", err.Error()),
		)
	}

	lm.logger.Error("exit failed",
		slog.String("position_id", p.ID),
		slog.String("symbol", p.Symbol),
		slog.String("error", cause.Error()),
	)
	lm.notify(ctx, notify.EventExitFailed, "Exit FAILED — manual intervention required",
		fmt.Sprintf("%s qty %d position %s: %v", p.Symbol, p.Quantity, p.ID, cause))

	lm.releaseSubscription(ctx, p.Instrument)
	return fmt.Errorf("engine: exit %s: %w", p.ID, cause)
}

// OnEntryFilled confirms the entry fill: entry_submitted → open with the
// actual average fill price.
func (lm *LifecycleManager) OnEntryFilled(ctx context.Context, positionID string, avgPrice float64) error {
	won, err := lm.claim(ctx, positionID, domain.StatusEntrySubmitted, domain.StatusOpen, "")
	if err != nil {
		return fmt.Errorf("engine: entry fill %s: %w", positionID, err)
	}
	if !won {
		return nil
	}

	if err := lm.positions.MarkEntryFilled(ctx, positionID, avgPrice, time.Now()); err != nil {
		return fmt.Errorf("engine: record entry fill %s: %w", positionID, err)
	}

	lm.logger.Info("entry filled",
		slog.String("position_id", positionID),
		slog.Float64("avg_price", avgPrice),
	)
	lm.notify(ctx, notify.EventOrderFilled, "Entry filled",
		fmt.Sprintf("position %s @ %.2f", positionID, avgPrice))
	return nil
}

// OnEntryRejected handles a broker rejection of the entry order. The position
// is terminal and its feed interest is released.
func (lm *LifecycleManager) OnEntryRejected(ctx context.Context, positionID string) error {
	won, err := lm.claim(ctx, positionID, domain.StatusEntrySubmitted, domain.StatusEntryRejected, "")
	if err != nil {
		return fmt.Errorf("engine: entry rejection %s: %w", positionID, err)
	}
	if !won {
		return nil
	}

	p, err := lm.positions.GetByID(ctx, positionID)
	if err == nil {
		lm.releaseSubscription(ctx, p.Instrument)
	}

	lm.logger.Warn("entry rejected", slog.String("position_id", positionID))
	lm.notify(ctx, notify.EventOrderRejected, "Entry rejected",
		fmt.Sprintf("position %s entry order was rejected by the broker", positionID))
	return nil
}

// OnExitFilled settles the position: exit_submitted → exit_filled with the
// exit price and realized P&L.
func (lm *LifecycleManager) OnExitFilled(ctx context.Context, positionID string, exitPrice float64) error {
	won, err := lm.claim(ctx, positionID, domain.StatusExitSubmitted, domain.StatusExitFilled, "")
	if err != nil {
		return fmt.Errorf("engine: exit fill %s: %w", positionID, err)
	}
	if !won {
		return nil
	}

	p, err := lm.positions.GetByID(ctx, positionID)
	if err != nil {
		return fmt.Errorf("engine: load position %s: %w", positionID, err)
	}

	pnl := RealizedPnL(p.EntryPrice, exitPrice, p.Quantity)
	if err := lm.positions.MarkExited(ctx, positionID, exitPrice, pnl, time.Now()); err != nil {
		return fmt.Errorf("engine: record exit fill %s: %w", positionID, err)
	}

	lm.releaseSubscription(ctx, p.Instrument)

	lm.logger.Info("position closed",
		slog.String("position_id", positionID),
		slog.String("symbol", p.Symbol),
		slog.Float64("exit_price", exitPrice),
		slog.Float64("pnl", pnl),
	)
	lm.notify(ctx, notify.EventOrderFilled, "Position closed",
		fmt.Sprintf("%s exited @ %.2f, P&L %.2f (%s)", p.Symbol, exitPrice, pnl, p.ExitReason))
	return nil
}

// OnExitRejected handles a broker rejection of the exit order. Terminal;
// operators must square off manually.
func (lm *LifecycleManager) OnExitRejected(ctx context.Context, positionID string) error {
	won, err := lm.claim(ctx, positionID, domain.StatusExitSubmitted, domain.StatusExitFailed, "")
	if err != nil {
		return fmt.Errorf("engine: exit rejection %s: %w", positionID, err)
	}
	if !won {
		return nil
	}

	p, err := lm.positions.GetByID(ctx, positionID)
	if err == nil {
		lm.releaseSubscription(ctx, p.Instrument)
	}

	lm.logger.Error("exit order rejected", slog.String("position_id", positionID))
	lm.notify(ctx, notify.EventExitFailed, "Exit rejected — manual intervention required",
		fmt.Sprintf("position %s exit order was rejected by the broker", positionID))
	return nil
}

// HandleAck routes a feed order acknowledgement to the matching position.
// Confirmations start (or kick) the reconciler poll, which carries the fill
// price; rejections are applied directly.
func (lm *LifecycleManager) HandleAck(ctx context.Context, ack domain.OrderAck) {
	p, err := lm.positions.GetByOrderID(ctx, ack.OrderID)
	if err != nil {
		lm.logger.Debug("ack for unknown order",
			slog.String("order_id", ack.OrderID),
			slog.String("state", string(ack.State)),
		)
		return
	}

	entrySide := p.OrderID == ack.OrderID

	switch ack.State {
	case domain.AckTradeConfirmation:
		lm.reconciler.Monitor(ctx, p.ID, ack.OrderID)

	case domain.AckNewOrderRejection:
		if entrySide {
			err = lm.OnEntryRejected(ctx, p.ID)
		} else {
			err = lm.OnExitRejected(ctx, p.ID)
		}
		if err != nil {
			lm.logger.Error("apply rejection ack failed",
				slog.String("position_id", p.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// ForceClose exits every open position on an instrument at the cached LTP
// with reason FORCE_CLOSED. It is the manual square-off operation.
func (lm *LifecycleManager) ForceClose(ctx context.Context, key domain.InstrumentKey) error {
	open, err := lm.positions.ListByScripAndStatus(ctx, key.ScripCode, domain.StatusOpen)
	if err != nil {
		return fmt.Errorf("engine: force close %s: %w", key, err)
	}
	if len(open) == 0 {
		return domain.ErrNotFound
	}

	ltp, _, err := lm.cache.GetLTP(ctx, key.ScripCode)
	if err != nil {
		return fmt.Errorf("engine: force close %s: no cached price: %w", key, err)
	}

	for _, p := range open {
		if err := lm.ClaimAndExit(ctx, p, ltp, domain.ExitReasonForceClose); err != nil {
			return err
		}
	}
	return nil
}

// MoveStopToCost raises an open position's stop-loss to its entry price so
// the trade can no longer lose money.
func (lm *LifecycleManager) MoveStopToCost(ctx context.Context, positionID string) error {
	p, err := lm.positions.GetByID(ctx, positionID)
	if err != nil {
		return fmt.Errorf("engine: move stop to cost %s: %w", positionID, err)
	}
	if p.Status != domain.StatusOpen {
		return fmt.Errorf("engine: move stop to cost %s: status %s: %w", positionID, p.Status, domain.ErrInvalidTransition)
	}

	if err := lm.positions.SetStopLoss(ctx, positionID, p.EntryPrice); err != nil {
		return fmt.Errorf("engine: move stop to cost %s: %w", positionID, err)
	}

	lm.logger.Info("stop moved to cost",
		slog.String("position_id", positionID),
		slog.Float64("stop", p.EntryPrice),
	)
	return nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// placeWithRetry calls PlaceOrder up to placeOrderAttempts times with growing
// delays between attempts.
func (lm *LifecycleManager) placeWithRetry(ctx context.Context, cred domain.Credential, req domain.OrderRequest) (domain.OrderReceipt, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 300 * time.Millisecond
	bo.Multiplier = 2.2
	bo.RandomizationFactor = 0

	var lastErr error
	for attempt := 1; attempt <= placeOrderAttempts; attempt++ {
		receipt, err := lm.broker.PlaceOrder(ctx, cred, req)
		if err == nil {
			return receipt, nil
		}
		lastErr = err

		lm.logger.Warn("place order attempt failed",
			slog.String("symbol", req.Symbol),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)

		if attempt == placeOrderAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return domain.OrderReceipt{}, ctx.Err()
		case <-time.After(bo.NextBackOff()):
		}
	}
	return domain.OrderReceipt{}, fmt.Errorf("after %d attempts: %w", placeOrderAttempts, lastErr)
}

func (lm *LifecycleManager) subscribe(key domain.InstrumentKey) error {
	if lm.feed == nil {
		return nil
	}
	return lm.feed.Subscribe(key)
}

func (lm *LifecycleManager) releaseSubscription(ctx context.Context, key domain.InstrumentKey) {
	if lm.feed == nil {
		return
	}
	if err := lm.feed.Unsubscribe(ctx, key); err != nil {
		lm.logger.Warn("unsubscribe failed",
			slog.String("instrument", key.String()),
			slog.String("error", err.Error()),
		)
	}
}

func (lm *LifecycleManager) notify(ctx context.Context, event, title, message string) {
	if lm.notifier == nil {
		return
	}
	if err := lm.notifier.Notify(ctx, event, title, message); err != nil {
		lm.logger.Warn("notification failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// RealizedPnL computes (exit − entry) × qty rounded half-up to two places.
func RealizedPnL(entry, exit float64, qty int64) float64 {
	pnl := decimal.NewFromFloat(exit).
		Sub(decimal.NewFromFloat(entry)).
		Mul(decimal.NewFromInt(qty)).
		Round(2)
	f, _ := pnl.Float64()
	return f
}

// isExecutedStatus reports whether a broker order status string means the
// order is fully executed.
func isExecutedStatus(status string) bool {
	s := strings.ToLower(status)
	return strings.Contains(s, "fully") || strings.Contains(s, "executed")
}
