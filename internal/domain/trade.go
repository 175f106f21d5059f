package domain

import "time"

// TradeStatus is the single lifecycle enum shared by pending entries and
// positions. Transitions move strictly forward except for the rejection
// branches; valid transitions are enforced by the lifecycle manager's
// transition table.
type TradeStatus string

const (
	StatusAwaitingEntry  TradeStatus = "awaiting_entry"
	StatusEntrySubmitted TradeStatus = "entry_submitted"
	StatusEntryRejected  TradeStatus = "entry_rejected"
	StatusOpen           TradeStatus = "open"
	StatusExitTriggered  TradeStatus = "exit_triggered"
	StatusExitSubmitted  TradeStatus = "exit_submitted"
	StatusExitFilled     TradeStatus = "exit_filled"
	StatusExitFailed     TradeStatus = "exit_failed"
)

// Terminal reports whether the status is an end state; a position in a
// terminal status is immutable.
func (s TradeStatus) Terminal() bool {
	switch s {
	case StatusEntryRejected, StatusExitFilled, StatusExitFailed:
		return true
	}
	return false
}

// Exit reasons recorded when a position leaves the open state.
const (
	ExitReasonStopLoss      = "STOP_LOSS_HIT"
	ExitReasonTarget        = "TARGET_HIT"
	ExitReasonForceClose    = "FORCE_CLOSED"
	ExitReasonIntradayClose = "INTRADAY_CLOSE"
)

// PendingEntry is an entry request waiting for the market to reach its entry
// price. It is created by the order-intake layer, consumed by the trigger
// evaluator (converted into a Position and deleted) and never mutated
// otherwise.
type PendingEntry struct {
	ID             string
	Symbol         string
	Instrument     InstrumentKey
	InstrumentType string // e.g. "OI", "OS", "FS"; empty for cash equity
	StrikePrice    *float64
	OptionType     string // "CE" / "PE"; empty for non-options
	Expiry         string
	Quantity       int64 // pre-expanded units (lots x lot size)
	EntryPrice     float64
	StopLoss       float64
	Target1        float64
	Target2        float64
	Target3        float64
	TrailingStop   float64
	Intraday       bool
	CredentialID   string
	Status         TradeStatus
	CreatedAt      time.Time
}

// Position is a live (or historical) trade created when a pending entry's
// order is placed with the broker. Status and the exit fields are owned by
// the lifecycle manager; entry/exit prices may also be written by the status
// reconciler when a fill is confirmed.
type Position struct {
	ID             string
	Symbol         string
	Instrument     InstrumentKey
	InstrumentType string
	StrikePrice    *float64
	OptionType     string
	Expiry         string
	Quantity       int64
	EntryPrice     float64
	StopLoss       float64
	Target1        float64
	Target2        float64
	Target3        float64
	TrailingStop   float64
	Intraday       bool
	CredentialID   string
	CustomerID     string
	OrderID        string
	ExitOrderID    string
	ExitReason     string
	ExitPrice      *float64
	PnL            *float64
	Status         TradeStatus
	TriggeredAt    time.Time
	EntryAt        *time.Time
	ExitedAt       *time.Time
}

// TargetHit reports whether ltp has reached any configured target. Targets
// set to zero are treated as unset.
func (p Position) TargetHit(ltp float64) bool {
	for _, t := range []float64{p.Target1, p.Target2, p.Target3} {
		if t > 0 && ltp >= t {
			return true
		}
	}
	return false
}

// StopHit reports whether ltp has breached the stop-loss. A zero stop is
// unarmed.
func (p Position) StopHit(ltp float64) bool {
	return p.StopLoss > 0 && ltp <= p.StopLoss
}
