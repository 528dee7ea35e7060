package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"resty.dev/v3"

	"tollgate/pkg/core"
)

func TestProtocol_Metadata(t *testing.T) {
	p := NewProtocol()
	assert.Equal(t, "binance", p.Name())
	assert.Equal(t, "3", p.Version())
	assert.Equal(t, ProductionURL, p.BaseURL(false))
	assert.Equal(t, SandboxURL, p.BaseURL(true))
	assert.ElementsMatch(t, core.Operations(), p.SupportedOperations())
}

func TestProtocol_BuildRequest(t *testing.T) {
	p := NewProtocol()

	tests := []struct {
		name   string
		op     core.Operation
		params core.Params
		method string
		path   string
		query  map[string]string
		signed bool
	}{
		{"price", core.OpGetPrice, core.Params{"symbol": "BTC/USDT"}, http.MethodGet, "/api/v3/ticker/price",
			map[string]string{"symbol": "BTCUSDT"}, false},
		{"ticker", core.OpGet24hTicker, core.Params{"symbol": "ethusdt"}, http.MethodGet, "/api/v3/ticker/24hr",
			map[string]string{"symbol": "ETHUSDT"}, false},
		{"all tickers", core.OpGet24hTickerAll, nil, http.MethodGet, "/api/v3/ticker/24hr", map[string]string{}, false},
		{"klines", core.OpGetKlines, core.Params{"symbol": "BTCUSDT", "interval": "1h", "limit": 5000}, http.MethodGet, "/api/v3/klines",
			map[string]string{"symbol": "BTCUSDT", "interval": "1h", "limit": "1000"}, false},
		{"klines default interval", core.OpGetKlines, core.Params{"symbol": "BTCUSDT"}, http.MethodGet, "/api/v3/klines",
			map[string]string{"symbol": "BTCUSDT", "interval": "1m"}, false},
		{"depth", core.OpGetOrderBook, core.Params{"symbol": "BTCUSDT", "limit": 500}, http.MethodGet, "/api/v3/depth",
			map[string]string{"symbol": "BTCUSDT", "limit": "100"}, false},
		{"exchange info", core.OpGetExchangeInfo, nil, http.MethodGet, "/api/v3/exchangeInfo", map[string]string{}, false},
		{"time", core.OpGetServerTime, nil, http.MethodGet, "/api/v3/time", map[string]string{}, false},
		{"account", core.OpGetAccountInfo, nil, http.MethodGet, "/api/v3/account",
			map[string]string{"omitZeroBalances": "true"}, true},
		{"open orders", core.OpGetOpenOrders, core.Params{"symbol": "BTCUSDT"}, http.MethodGet, "/api/v3/openOrders",
			map[string]string{"symbol": "BTCUSDT"}, true},
		{"all open orders", core.OpGetOpenOrdersAll, nil, http.MethodGet, "/api/v3/openOrders", map[string]string{}, true},
		{"trades", core.OpGetTradeHistory, core.Params{"symbol": "BTCUSDT", "limit": "50", "start_time": 1700000000000}, http.MethodGet, "/api/v3/myTrades",
			map[string]string{"symbol": "BTCUSDT", "limit": "50", "startTime": "1700000000000"}, true},
		{"place", core.OpPlaceOrder, core.Params{
			"symbol": "BTC/USDT", "side": "buy", "type": "limit", "quantity": "0.01", "price": "42000",
			"time_in_force": "gtc", "client_order_id": "tg-1",
		}, http.MethodPost, "/api/v3/order", map[string]string{
			"symbol": "BTCUSDT", "side": "BUY", "type": "LIMIT", "quantity": "0.01", "price": "42000",
			"timeInForce": "GTC", "newClientOrderId": "tg-1", "newOrderRespType": "RESULT",
		}, true},
		{"cancel by id", core.OpCancelOrder, core.Params{"symbol": "BTCUSDT", "order_id": "12345"}, http.MethodDelete, "/api/v3/order",
			map[string]string{"symbol": "BTCUSDT", "orderId": "12345"}, true},
		{"cancel by client id", core.OpCancelOrder, core.Params{"symbol": "BTCUSDT", "client_order_id": "tg-1"}, http.MethodDelete, "/api/v3/order",
			map[string]string{"symbol": "BTCUSDT", "origClientOrderId": "tg-1"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := p.BuildRequest(context.Background(), tt.op, tt.params)
			require.NoError(t, err)
			assert.Equal(t, tt.method, req.Method)
			assert.Equal(t, tt.path, req.Path)
			assert.Equal(t, tt.query, req.QueryStrings())
			assert.Equal(t, tt.signed, req.Signed)
		})
	}
}

func TestProtocol_BuildRequestMatchesRegistry(t *testing.T) {
	p := NewProtocol()
	registry := core.DefaultRegistry()
	params := core.Params{"symbol": "BTCUSDT", "side": "BUY", "type": "MARKET", "quantity": "1", "order_id": "1"}

	for _, op := range p.SupportedOperations() {
		profile := registry.MustCostOf(op)
		req, err := p.BuildRequest(context.Background(), op, params)
		require.NoError(t, err, op.String())
		assert.Equal(t, profile.Method, req.Method, op.String())
		assert.Equal(t, profile.Path, req.Path, op.String())
		assert.Equal(t, profile.Signed, req.Signed, op.String())
	}
}

func TestProtocol_BuildRequestErrors(t *testing.T) {
	p := NewProtocol()

	tests := []struct {
		name   string
		op     core.Operation
		params core.Params
		want   string
	}{
		{"price without symbol", core.OpGetPrice, nil, "symbol"},
		{"order without side", core.OpPlaceOrder, core.Params{"symbol": "BTCUSDT", "type": "MARKET", "quantity": "1"}, "side"},
		{"order without quantity", core.OpPlaceOrder, core.Params{"symbol": "BTCUSDT", "side": "BUY", "type": "MARKET"}, "quantity"},
		{"cancel without id", core.OpCancelOrder, core.Params{"symbol": "BTCUSDT"}, "order_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.BuildRequest(context.Background(), tt.op, tt.params)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	_, err := p.BuildRequest(context.Background(), core.Operation(99), nil)
	assert.True(t, core.IsUnknownOperation(err))
}

func TestProtocol_SignRequest(t *testing.T) {
	p := NewProtocol()
	req := resty.New().R().SetQueryParam("symbol", "BTCUSDT")
	ts := time.UnixMilli(1_700_000_000_000)

	require.NoError(t, p.SignRequest(req, core.Credentials{APIKey: "pub", SecretKey: "secret"}, ts, 5*time.Second))

	assert.Equal(t, "1700000000000", req.QueryParams.Get("timestamp"))
	assert.Equal(t, "5000", req.QueryParams.Get("recvWindow"))
	assert.Equal(t, "pub", req.Header.Get("X-MBX-APIKEY"))

	mac := hmac.New(sha256.New, []byte("secret"))
	mac.Write([]byte("recvWindow=5000&symbol=BTCUSDT&timestamp=1700000000000"))
	assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), req.QueryParams.Get("signature"))

	assert.ErrorIs(t, p.SignRequest(resty.New().R(), core.Credentials{APIKey: "pub"}, ts, 0), core.ErrNoCredentials)
}

func TestProtocol_ParseUsage(t *testing.T) {
	p := NewProtocol()
	header := http.Header{}
	header.Set("X-MBX-USED-WEIGHT-1M", "1200")
	header.Set("X-MBX-ORDER-COUNT-10S", "3")
	header.Set("X-MBX-ORDER-COUNT-1D", "42")
	header.Set("X-MBX-USED-WEIGHT-XX", "5")
	header.Set("X-MBX-USED-WEIGHT-5M", "nope")
	header.Set("Content-Type", "application/json")

	assert.ElementsMatch(t, []core.UsageReport{
		{Kind: core.WindowKindWeight, Interval: time.Minute, Used: 1200},
		{Kind: core.WindowKindOrders, Interval: 10 * time.Second, Used: 3},
		{Kind: core.WindowKindOrders, Interval: 24 * time.Hour, Used: 42},
	}, p.ParseUsage(header))
}

func respond(t *testing.T, status int, header map[string]string, body string, query map[string]string) *resty.Response {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for k, v := range header {
			w.Header().Set(k, v)
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)

	client := resty.New()
	t.Cleanup(func() { _ = client.Close() })
	resp, err := client.R().SetQueryParams(query).Get(server.URL)
	require.NoError(t, err)
	return resp
}

func TestProtocol_ParseResponseErrors(t *testing.T) {
	p := NewProtocol()

	tests := []struct {
		name       string
		status     int
		header     map[string]string
		body       string
		wantType   core.ErrorType
		wantCode   string
		retryAfter time.Duration
	}{
		{"banned", http.StatusTeapot, map[string]string{"Retry-After": "300"}, `{"code":-1003,"msg":"banned"}`, core.ErrorTypeBanned, string(core.ErrCodeBanned), 300 * time.Second},
		{"too many requests", http.StatusTooManyRequests, map[string]string{"Retry-After": "5"}, ``, core.ErrorTypeRateLimit, string(core.ErrCodeRateLimit), 5 * time.Second},
		{"gateway", http.StatusServiceUnavailable, nil, `<html></html>`, core.ErrorTypeServerError, string(core.ErrCodeServerError), 0},
		{"clock skew", http.StatusBadRequest, nil, `{"code":-1021,"msg":"Timestamp outside recvWindow"}`, core.ErrorTypeClockSkew, "-1021", 0},
		{"weight ban code", http.StatusBadRequest, nil, `{"code":-1015,"msg":"Too many new orders"}`, core.ErrorTypeRateLimit, "-1015", 0},
		{"bad key", http.StatusUnauthorized, nil, `{"code":-2015,"msg":"Invalid API-key"}`, core.ErrorTypeAuthentication, "-2015", 0},
		{"rejected order", http.StatusBadRequest, nil, `{"code":-2010,"msg":"Account has insufficient balance"}`, core.ErrorTypeInvalidOrder, "-2010", 0},
		{"unknown order", http.StatusBadRequest, nil, `{"code":-2013,"msg":"Order does not exist."}`, core.ErrorTypeNotFound, "-2013", 0},
		{"bad symbol", http.StatusBadRequest, nil, `{"code":-1121,"msg":"Invalid symbol."}`, core.ErrorTypeBadRequest, "-1121", 0},
		{"other 1xxx", http.StatusBadRequest, nil, `{"code":-1102,"msg":"Mandatory parameter missing"}`, core.ErrorTypeBadRequest, "-1102", 0},
		{"plain 404", http.StatusNotFound, nil, ``, core.ErrorTypeNotFound, string(core.ErrCodeNotFound), 0},
		{"plain 403", http.StatusForbidden, nil, ``, core.ErrorTypeAuthentication, string(core.ErrCodeAuth), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := respond(t, tt.status, tt.header, tt.body, nil)
			_, err := p.ParseResponse(core.OpGetPrice, resp)
			ee, ok := core.AsExchangeError(err)
			require.True(t, ok, "got %v", err)
			assert.Equal(t, tt.wantType, ee.Type)
			assert.Equal(t, tt.wantCode, ee.Code)
			assert.Equal(t, tt.status, ee.StatusCode)
			assert.Equal(t, tt.retryAfter, ee.RetryAfter)
			assert.Equal(t, "binance", ee.Exchange)
		})
	}
}

func TestProtocol_ParseResponseBodies(t *testing.T) {
	p := NewProtocol()

	resp := respond(t, http.StatusOK, nil, `[[1700000000000,"1.0","2.0","0.5","1.5","100",1700000059999,"150",10,"50","75","0"]]`,
		map[string]string{"symbol": "BTCUSDT", "interval": "1m"})
	v, err := p.ParseResponse(core.OpGetKlines, resp)
	require.NoError(t, err)
	klines := v.([]core.Kline)
	require.Len(t, klines, 1)
	assert.Equal(t, "BTCUSDT", klines[0].Symbol)
	assert.Equal(t, "1m", klines[0].Interval)
	assert.Equal(t, "1.5", klines[0].Close.String())

	resp = respond(t, http.StatusOK, nil, `{"lastUpdateId":9,"bids":[["1.0","2"]],"asks":[["1.1","3"]]}`,
		map[string]string{"symbol": "BTCUSDT", "limit": "5"})
	v, err = p.ParseResponse(core.OpGetOrderBook, resp)
	require.NoError(t, err)
	book := v.(*core.OrderBook)
	assert.Equal(t, "BTCUSDT", book.Symbol)
	assert.Equal(t, int64(9), book.LastUpdateID)

	resp = respond(t, http.StatusOK, nil, `{"serverTime":1700000000000}`, nil)
	v, err = p.ParseResponse(core.OpGetServerTime, resp)
	require.NoError(t, err)
	assert.Equal(t, time.UnixMilli(1700000000000), v.(*core.ServerTime).Time)

	resp = respond(t, http.StatusOK, nil, `{}`, nil)
	_, err = p.ParseResponse(core.OpGetServerTime, resp)
	assert.Error(t, err)

	resp = respond(t, http.StatusOK, nil, `{"symbol":"BTCUSDT","orderId":77,"clientOrderId":"tg-1","price":"42000","origQty":"0.01",`+
		`"executedQty":"0","status":"NEW","type":"LIMIT","side":"BUY","timeInForce":"GTC","transactTime":1700000000000}`, nil)
	v, err = p.ParseResponse(core.OpPlaceOrder, resp)
	require.NoError(t, err)
	order := v.(*core.Order)
	assert.Equal(t, "77", order.ID)
	assert.Equal(t, "tg-1", order.ClientOrderID)
	assert.Equal(t, core.StatusNew, order.Status)

	_, err = p.ParseResponse(core.OpGetPrice, nil)
	assert.Error(t, err)
}
