package sharekhan

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sgupta-algo/tickrunner/internal/domain"
)

func TestDecodeFeedEnvelope(t *testing.T) {
	raw := []byte(`{"message":"feed","data":{"scripCode":52771,"ltp":142.35}}`)

	var env StreamEnvelope
	require.NoError(t, json.Unmarshal(raw, &env))
	assert.Equal(t, "feed", env.Message)

	var feed FeedData
	require.NoError(t, json.Unmarshal(env.Data, &feed))
	assert.Equal(t, 52771, feed.ScripCode)
	assert.InDelta(t, 142.35, feed.LTP, 1e-9)
}

func TestDecodeAckEnvelope(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		orderID string
		state   domain.AckState
	}{
		{
			"trade confirmation with numeric order id",
			`{"message":"ack","data":{"SharekhanOrderID":2250901000123,"AckState":"TradeConfirmation"}}`,
			"2250901000123",
			domain.AckTradeConfirmation,
		},
		{
			"rejection with string order id",
			`{"message":"ack","data":{"SharekhanOrderID":"2250901000456","AckState":"NewOrderRejection"}}`,
			"2250901000456",
			domain.AckNewOrderRejection,
		},
		{
			"unknown state is dropped",
			`{"message":"ack","data":{"SharekhanOrderID":1,"AckState":"SomethingElse"}}`,
			"1",
			domain.AckState(""),
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var env StreamEnvelope
			require.NoError(t, json.Unmarshal([]byte(tc.raw), &env))
			require.Equal(t, "ack", env.Message)

			var ack AckData
			require.NoError(t, json.Unmarshal(env.Data, &ack))
			assert.Equal(t, tc.orderID, ack.OrderID.String())
			assert.Equal(t, tc.state, ack.State())
		})
	}
}

func TestControlMessageShapes(t *testing.T) {
	tests := []struct {
		name string
		msg  ControlMessage
		want string
	}{
		{
			"channel subscribe",
			ChannelSubscribe(),
			`{"action":"subscribe","key":["feed","ack"],"value":[""]}`,
		},
		{
			"feed subscribe",
			FeedSubscribe([]string{"NF52771", "NF43125"}),
			`{"action":"feed","key":["ltp"],"value":["NF52771","NF43125"]}`,
		},
		{
			"feed unsubscribe",
			FeedUnsubscribe([]string{"NF52771"}),
			`{"action":"unsubscribe","key":["ltp"],"value":["NF52771"]}`,
		},
		{
			"ack register",
			AckRegister("CUST1"),
			`{"action":"ack","key":[""],"value":["CUST1"]}`,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := json.Marshal(tc.msg)
			require.NoError(t, err)
			assert.JSONEq(t, tc.want, string(got))
		})
	}
}

func TestAPIResponseNoRecords(t *testing.T) {
	var resp apiResponse
	require.NoError(t, json.Unmarshal([]byte(`{"status":200,"message":"ok","data":"no_records"}`), &resp))
	assert.True(t, resp.noRecords())

	require.NoError(t, json.Unmarshal([]byte(`{"status":200,"message":"ok","data":[{"orderId":1}]}`), &resp))
	assert.False(t, resp.noRecords())
}

func TestDecodeOrderHistoryRecord(t *testing.T) {
	raw := []byte(`{"orderId":2250901000123,"orderStatus":"Fully Executed","avgPrice":"142.35","orderPrice":141.9,"execQty":"75"}`)

	var rec orderHistoryRecord
	require.NoError(t, json.Unmarshal(raw, &rec))

	assert.Equal(t, "Fully Executed", rec.OrderStatus)
	avg, err := rec.AvgPrice.Float64()
	require.NoError(t, err)
	assert.InDelta(t, 142.35, avg, 1e-9)
	qty, err := rec.ExecQty.Int64()
	require.NoError(t, err)
	assert.Equal(t, int64(75), qty)
}
