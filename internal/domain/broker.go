package domain

import (
	"context"
	"time"
)

// Credential identifies one broker login used to place orders. Credential
// administration lives outside this engine; the engine only carries the
// reference around.
type Credential struct {
	ID         string
	Broker     string
	CustomerID string
	APIKey     string
	Secret     string
	ClientCode string
}

// OrderSide is the broker transaction type.
type OrderSide string

const (
	SideBuy  OrderSide = "B"
	SideSell OrderSide = "S"
)

// OrderRequest carries the parameters for a new or modified broker order.
// Price zero means a market order.
type OrderRequest struct {
	CustomerID     string
	Instrument     InstrumentKey
	Symbol         string
	Side           OrderSide
	Quantity       int64
	Price          float64
	InstrumentType string
	StrikePrice    *float64
	OptionType     string
	Expiry         string
	// OrderID is set only for modify requests.
	OrderID string
}

// OrderReceipt is the broker's synchronous answer to a place/modify call.
type OrderReceipt struct {
	OrderID     string
	OrderStatus string
	AvgPrice    float64
}

// OrderRecord is one row of a broker order-history lookup. A single order id
// typically yields several records as the order moves through the venue.
type OrderRecord struct {
	OrderStatus string
	AvgPrice    float64
	OrderPrice  float64
	ExecQty     int64
}

// SessionToken is a broker session issued by GenerateSession.
type SessionToken struct {
	Token     string
	ExpiresIn time.Duration
}

// BrokerGateway is the consumed broker capability set. All calls are blocking
// I/O and must run only on per-instrument workers or the reconciler's own
// goroutines, never on the feed receive path.
type BrokerGateway interface {
	PlaceOrder(ctx context.Context, cred Credential, req OrderRequest) (OrderReceipt, error)
	ModifyOrder(ctx context.Context, cred Credential, req OrderRequest) (OrderReceipt, error)
	OrderHistory(ctx context.Context, cred Credential, exchange, orderID string) ([]OrderRecord, error)
	GenerateSession(ctx context.Context, apiKey, requestToken, secret string) (SessionToken, error)
}

// LoginProvider obtains a fresh session token for a credential. The concrete
// login flow (interactive/browser automation) is an external collaborator.
type LoginProvider interface {
	Login(ctx context.Context, cred Credential) (SessionToken, error)
}
