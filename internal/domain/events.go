package domain

import "time"

// Tick is a last-traded-price update for a single instrument. Ticks carry no
// ordering guarantee across instruments; per instrument they are dispatched
// in arrival order.
type Tick struct {
	ScripCode int
	LTP       float64
	At        time.Time
}

// AckState classifies order acknowledgment messages pushed on the feed's ack
// channel.
type AckState string

const (
	AckTradeConfirmation AckState = "TradeConfirmation"
	AckNewOrderRejection AckState = "NewOrderRejection"
)

// OrderAck is an order acknowledgment event from the feed's ack channel.
type OrderAck struct {
	OrderID string
	State   AckState
	At      time.Time
}
