// Package sharekhan implements the broker gateway and streaming feed for the
// Sharekhan trading API.
package sharekhan

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/sgupta-algo/tickrunner/internal/domain"
)

// TokenSource supplies a valid session token for a credential. Requests fail
// fast when no token is available rather than attempting an inline login.
type TokenSource interface {
	Token(ctx context.Context, credentialID string) (string, error)
}

// Client is the REST client for the Sharekhan order API.
type Client struct {
	baseURL    string
	apiKey     string
	tokens     TokenSource
	httpClient *http.Client
}

// NewClient creates a new Sharekhan REST client.
//
// baseURL is the API root, e.g. "https://api.sharekhan.com".
func NewClient(baseURL, apiKey string, tokens TokenSource) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		tokens:  tokens,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

var _ domain.BrokerGateway = (*Client)(nil)

// PlaceOrder submits a new order for the given credential.
func (c *Client) PlaceOrder(ctx context.Context, cred domain.Credential, req domain.OrderRequest) (domain.OrderReceipt, error) {
	body, err := c.doOrderRequest(ctx, cred, "/skapi/services/orders", buildOrderPayload(cred, req, "NEW"))
	if err != nil {
		return domain.OrderReceipt{}, fmt.Errorf("sharekhan: place order %s: %w", req.Symbol, err)
	}
	return body, nil
}

// ModifyOrder amends the price of an existing order. req.OrderID must carry
// the broker order id being modified.
func (c *Client) ModifyOrder(ctx context.Context, cred domain.Credential, req domain.OrderRequest) (domain.OrderReceipt, error) {
	if req.OrderID == "" {
		return domain.OrderReceipt{}, domain.ErrNoOrderID
	}
	body, err := c.doOrderRequest(ctx, cred, "/skapi/services/orders", buildOrderPayload(cred, req, "MODIFY"))
	if err != nil {
		return domain.OrderReceipt{}, fmt.Errorf("sharekhan: modify order %s: %w", req.OrderID, err)
	}
	return body, nil
}

// OrderHistory returns the execution trail of an order. An empty slice with a
// nil error means the broker has no record of the order id yet.
func (c *Client) OrderHistory(ctx context.Context, cred domain.Credential, exchange, orderID string) ([]domain.OrderRecord, error) {
	path := fmt.Sprintf("/skapi/services/reports/%s/%s/%s", cred.CustomerID, exchange, orderID)

	resp, err := c.doRequest(ctx, cred.ID, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("sharekhan: order history %s: %w", orderID, err)
	}

	if resp.noRecords() {
		return nil, nil
	}

	var records []orderHistoryRecord
	if err := json.Unmarshal(resp.Data, &records); err != nil {
		return nil, fmt.Errorf("sharekhan: decode order history %s: %w", orderID, err)
	}

	out := make([]domain.OrderRecord, 0, len(records))
	for _, rec := range records {
		out = append(out, domain.OrderRecord{
			OrderStatus: rec.OrderStatus,
			AvgPrice:    numberToFloat(rec.AvgPrice),
			OrderPrice:  numberToFloat(rec.OrderPrice),
			ExecQty:     numberToInt(rec.ExecQty),
		})
	}
	return out, nil
}

// GenerateSession exchanges a login request token for a session access token.
func (c *Client) GenerateSession(ctx context.Context, apiKey, requestToken, secret string) (domain.SessionToken, error) {
	payload := map[string]string{
		"apiKey":       apiKey,
		"requestToken": requestToken,
		"secretKey":    secret,
	}

	resp, err := c.doRequest(ctx, "", http.MethodPost, "/skapi/auth/access/token", payload)
	if err != nil {
		return domain.SessionToken{}, fmt.Errorf("sharekhan: generate session: %w", err)
	}

	var data sessionResponseData
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return domain.SessionToken{}, fmt.Errorf("sharekhan: decode session: %w", err)
	}
	if data.AccessToken == "" {
		return domain.SessionToken{}, fmt.Errorf("sharekhan: session response missing access token")
	}

	return domain.SessionToken{
		Token:     data.AccessToken,
		ExpiresIn: time.Duration(data.ExpiresIn) * time.Second,
	}, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

func buildOrderPayload(cred domain.Credential, req domain.OrderRequest, requestType string) orderPayload {
	p := orderPayload{
		CustomerID:      cred.CustomerID,
		ScripCode:       req.Instrument.ScripCode,
		TradingSymbol:   req.Symbol,
		Exchange:        req.Instrument.Exchange,
		TransactionType: string(req.Side),
		Quantity:        req.Quantity,
		Price:           strconv.FormatFloat(req.Price, 'f', 2, 64),
		OrderType:       "NORMAL",
		ProductType:     "INVESTMENT",
		InstrumentType:  req.InstrumentType,
		OptionType:      req.OptionType,
		ExpiryDate:      req.Expiry,
		OrderID:         req.OrderID,
		Validity:        "GFD",
		AfterHour:       "N",
		ChannelUser:     cred.ClientCode,
		RequestType:     requestType,
	}
	if req.StrikePrice != nil {
		p.StrikePrice = strconv.FormatFloat(*req.StrikePrice, 'f', 2, 64)
	}
	return p
}

func (c *Client) doOrderRequest(ctx context.Context, cred domain.Credential, path string, payload orderPayload) (domain.OrderReceipt, error) {
	resp, err := c.doRequest(ctx, cred.ID, http.MethodPost, path, payload)
	if err != nil {
		return domain.OrderReceipt{}, err
	}

	var data orderResponseData
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return domain.OrderReceipt{}, fmt.Errorf("decode order response: %w", err)
	}
	if data.OrderID.String() == "" {
		return domain.OrderReceipt{}, domain.ErrNoOrderID
	}

	return domain.OrderReceipt{
		OrderID:     data.OrderID.String(),
		OrderStatus: data.OrderStatus,
		AvgPrice:    numberToFloat(data.AvgPrice),
	}, nil
}

// doRequest builds, authenticates, sends, and reads an HTTP request against
// the Sharekhan API. credentialID may be empty for unauthenticated endpoints.
func (c *Client) doRequest(ctx context.Context, credentialID, method, path string, reqBody any) (apiResponse, error) {
	var bodyReader io.Reader
	if reqBody != nil {
		jsonBody, err := json.Marshal(reqBody)
		if err != nil {
			return apiResponse{}, fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return apiResponse{}, fmt.Errorf("create request: %w", err)
	}

	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("api-key", c.apiKey)

	if credentialID != "" {
		token, err := c.tokens.Token(ctx, credentialID)
		if err != nil {
			return apiResponse{}, fmt.Errorf("resolve token: %w", err)
		}
		req.Header.Set("access-token", token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apiResponse{}, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return apiResponse{}, fmt.Errorf("read response: %w", err)
	}

	var envelope apiResponse
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return apiResponse{}, fmt.Errorf("decode response (HTTP %d): %w", resp.StatusCode, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apiResponse{}, fmt.Errorf("HTTP %d: %s", resp.StatusCode, envelope.Message)
	}

	return envelope, nil
}

func numberToFloat(n json.Number) float64 {
	f, err := n.Float64()
	if err != nil {
		return 0
	}
	return f
}

func numberToInt(n json.Number) int64 {
	i, err := n.Int64()
	if err != nil {
		return 0
	}
	return i
}
