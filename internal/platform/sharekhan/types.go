package sharekhan

import (
	"encoding/json"
	"strings"

	"github.com/sgupta-algo/tickrunner/internal/domain"
)

// StreamEnvelope is the outer frame of every JSON message on the streaming
// socket. The "message" field discriminates feed ticks from order acks; the
// payload shape depends on it.
type StreamEnvelope struct {
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// FeedData is the payload of a "feed" message: one last-traded-price tick.
type FeedData struct {
	ScripCode int     `json:"scripCode"`
	LTP       float64 `json:"ltp"`
}

// AckData is the payload of an "ack" message reporting an order event.
type AckData struct {
	OrderID  json.Number `json:"SharekhanOrderID"`
	AckState string      `json:"AckState"`
}

// State maps the wire ack state to the domain representation. Unknown states
// map to the empty AckState and are ignored by callers.
func (a AckData) State() domain.AckState {
	switch a.AckState {
	case "TradeConfirmation":
		return domain.AckTradeConfirmation
	case "NewOrderRejection":
		return domain.AckNewOrderRejection
	}
	return ""
}

// ControlMessage is the client-to-server command frame: channel subscription,
// per-scrip feed requests, and ack registration all share this shape.
type ControlMessage struct {
	Action string   `json:"action"`
	Key    []string `json:"key"`
	Value  []string `json:"value"`
}

// ChannelSubscribe opens the feed and ack channels after connecting.
func ChannelSubscribe() ControlMessage {
	return ControlMessage{Action: "subscribe", Key: []string{"feed", "ack"}, Value: []string{""}}
}

// FeedSubscribe requests LTP ticks for the given feed keys (e.g. "NF52771").
func FeedSubscribe(feedKeys []string) ControlMessage {
	return ControlMessage{Action: "feed", Key: []string{"ltp"}, Value: feedKeys}
}

// FeedUnsubscribe stops LTP ticks for the given feed keys.
func FeedUnsubscribe(feedKeys []string) ControlMessage {
	return ControlMessage{Action: "unsubscribe", Key: []string{"ltp"}, Value: feedKeys}
}

// AckRegister routes order acknowledgements for a customer onto this socket.
func AckRegister(customerID string) ControlMessage {
	return ControlMessage{Action: "ack", Key: []string{""}, Value: []string{customerID}}
}

// orderPayload is the request body for order placement and modification.
type orderPayload struct {
	CustomerID      string  `json:"customerId"`
	ScripCode       int     `json:"scripCode"`
	TradingSymbol   string  `json:"tradingSymbol"`
	Exchange        string  `json:"exchange"`
	TransactionType string  `json:"transactionType"`
	Quantity        int64   `json:"quantity"`
	Price           string  `json:"price"`
	OrderType       string  `json:"orderType"`
	ProductType     string  `json:"productType"`
	InstrumentType  string  `json:"instrumentType,omitempty"`
	StrikePrice     string  `json:"strikePrice,omitempty"`
	OptionType      string  `json:"optionType,omitempty"`
	ExpiryDate      string  `json:"expiryDate,omitempty"`
	OrderID         string  `json:"orderId,omitempty"`
	Validity        string  `json:"validity"`
	DisclosedQty    int64   `json:"disclosedQty"`
	TriggerPrice    float64 `json:"triggerPrice"`
	AfterHour       string  `json:"afterHour"`
	ChannelUser     string  `json:"channelUser"`
	RequestType     string  `json:"requestType"`
}

// apiResponse is the envelope every REST endpoint returns. Data is either a
// JSON object/array or the literal string "no_records".
type apiResponse struct {
	Status  int             `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// noRecords reports whether the response data is the "no_records" marker the
// API returns for unknown order ids.
func (r apiResponse) noRecords() bool {
	return strings.Trim(string(r.Data), `"`) == "no_records"
}

type orderResponseData struct {
	OrderID     json.Number `json:"orderId"`
	OrderStatus string      `json:"orderStatus"`
	AvgPrice    json.Number `json:"avgPrice"`
}

type orderHistoryRecord struct {
	OrderID     json.Number `json:"orderId"`
	OrderStatus string      `json:"orderStatus"`
	AvgPrice    json.Number `json:"avgPrice"`
	OrderPrice  json.Number `json:"orderPrice"`
	ExecQty     json.Number `json:"execQty"`
}

type sessionResponseData struct {
	AccessToken string `json:"accessToken"`
	TokenType   string `json:"tokenType"`
	ExpiresIn   int64  `json:"expiresIn"`
}
