package core

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/cockroachdb/apd/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderSide_String(t *testing.T) {
	tests := []struct {
		name string
		side OrderSide
		want string
	}{
		{"buy", SideBuy, "BUY"},
		{"sell", SideSell, "SELL"},
		{"out_of_range", OrderSide(7), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.side.String())
		})
	}
}

func TestOrderType_String(t *testing.T) {
	tests := []struct {
		name      string
		orderType OrderType
		want      string
	}{
		{"market", TypeMarket, "MARKET"},
		{"limit", TypeLimit, "LIMIT"},
		{"stop_loss", TypeStopLoss, "STOP_LOSS"},
		{"stop_loss_limit", TypeStopLossLimit, "STOP_LOSS_LIMIT"},
		{"take_profit", TypeTakeProfit, "TAKE_PROFIT"},
		{"take_profit_limit", TypeTakeProfitLimit, "TAKE_PROFIT_LIMIT"},
		{"limit_maker", TypeLimitMaker, "LIMIT_MAKER"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.orderType.String())
		})
	}
}

func TestOrderType_Requirements(t *testing.T) {
	assert.False(t, TypeMarket.RequiresPrice())
	assert.True(t, TypeLimit.RequiresPrice())
	assert.True(t, TypeLimitMaker.RequiresPrice())
	assert.False(t, TypeLimit.RequiresStopPrice())
	assert.True(t, TypeStopLoss.RequiresStopPrice())
	assert.True(t, TypeTakeProfitLimit.RequiresPrice())
	assert.True(t, TypeTakeProfitLimit.RequiresStopPrice())
}

func TestOrderStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		name     string
		status   OrderStatus
		expected bool
	}{
		{"new", StatusNew, false},
		{"partially_filled", StatusPartiallyFilled, false},
		{"canceling", StatusCanceling, false},
		{"filled", StatusFilled, true},
		{"canceled", StatusCanceled, true},
		{"rejected", StatusRejected, true},
		{"expired", StatusExpired, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.status.IsTerminal())
		})
	}
}

func TestParseOrderStatus(t *testing.T) {
	tests := []struct {
		in      string
		want    OrderStatus
		wantErr bool
	}{
		{"NEW", StatusNew, false},
		{"partially_filled", StatusPartiallyFilled, false},
		{"PENDING_CANCEL", StatusCanceling, false},
		{"EXPIRED_IN_MATCH", StatusExpired, false},
		{"bogus", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseOrderStatus(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEnums_JSONRoundTrip(t *testing.T) {
	type payload struct {
		Side   OrderSide   `json:"side"`
		Type   OrderType   `json:"type"`
		Status OrderStatus `json:"status"`
		TIF    TimeInForce `json:"tif"`
	}

	in := payload{Side: SideSell, Type: TypeLimit, Status: StatusPartiallyFilled, TIF: IOC}
	data, err := json.Marshal(in)
	require.NoError(t, err)
	assert.JSONEq(t, `{"side":"SELL","type":"LIMIT","status":"PARTIALLY_FILLED","tif":"IOC"}`, string(data))

	var out payload
	require.NoError(t, json.Unmarshal([]byte(`{"side":"sell","type":"limit","status":"partially_filled","tif":"ioc"}`), &out))
	assert.Equal(t, in, out)

	assert.Error(t, json.Unmarshal([]byte(`{"side":"HOLD"}`), &out))
}

func TestAccountInfo_Balance(t *testing.T) {
	var free apd.Decimal
	free.SetString("1.5")

	acct := &AccountInfo{Balances: []Balance{{Asset: "BTC", Free: free}}}

	b := acct.Balance("btc")
	assert.Equal(t, "BTC", b.Asset)
	assert.Equal(t, "1.5", b.Free.String())

	missing := acct.Balance("ETH")
	assert.Equal(t, "ETH", missing.Asset)
	assert.True(t, missing.Free.IsZero())
}

func TestExchangeRateLimit_Duration(t *testing.T) {
	tests := []struct {
		limit ExchangeRateLimit
		want  time.Duration
	}{
		{ExchangeRateLimit{Interval: "MINUTE", IntervalNum: 1}, time.Minute},
		{ExchangeRateLimit{Interval: "SECOND", IntervalNum: 10}, 10 * time.Second},
		{ExchangeRateLimit{Interval: "DAY", IntervalNum: 1}, 24 * time.Hour},
		{ExchangeRateLimit{Interval: "MINUTE", IntervalNum: 5}, 5 * time.Minute},
		{ExchangeRateLimit{Interval: "HOUR"}, time.Hour},
		{ExchangeRateLimit{Interval: "WEEK", IntervalNum: 1}, 0},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.limit.Duration())
	}
}

func TestOrderBook(t *testing.T) {
	var price1, qty1, price2, qty2 apd.Decimal
	price1.SetString("50000.00")
	qty1.SetString("1.0")
	price2.SetString("50001.00")
	qty2.SetString("2.0")

	ob := &OrderBook{
		Symbol:       "BTC/USDT",
		LastUpdateID: 42,
		Bids:         []OrderBookLevel{{Price: price1, Quantity: qty1}},
		Asks:         []OrderBookLevel{{Price: price2, Quantity: qty2}},
	}

	assert.Equal(t, "BTC/USDT", ob.Symbol)
	assert.Len(t, ob.Bids, 1)
	assert.Len(t, ob.Asks, 1)
	assert.Equal(t, -1, ob.Bids[0].Price.Cmp(&ob.Asks[0].Price))
}
