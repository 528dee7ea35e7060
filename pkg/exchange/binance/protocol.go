package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"resty.dev/v3"

	httpclient "tollgate/internal/http"
	"tollgate/pkg/core"
)

const (
	ProductionURL = "https://api.binance.com"
	SandboxURL    = "https://testnet.binance.vision"
)

const (
	headerUsedWeight = "X-Mbx-Used-Weight-"
	headerOrderCount = "X-Mbx-Order-Count-"
	headerAPIKey     = "X-MBX-APIKEY"
)

// Protocol implements core.Protocol for the Binance spot REST API.
type Protocol struct {
	normalizer *Normalizer
}

// NewProtocol creates a new Binance protocol instance.
func NewProtocol() *Protocol {
	return &Protocol{normalizer: NewNormalizer()}
}

// Name returns the protocol identifier "binance".
func (p *Protocol) Name() string {
	return "binance"
}

// Version returns the Binance API version string.
func (p *Protocol) Version() string {
	return "3"
}

// BaseURL returns the testnet URL when sandbox is set, the production URL otherwise.
func (p *Protocol) BaseURL(sandbox bool) string {
	if sandbox {
		return SandboxURL
	}
	return ProductionURL
}

// SupportedOperations returns every operation this protocol can build.
func (p *Protocol) SupportedOperations() []core.Operation {
	return core.Operations()
}

// BuildRequest constructs the REST call for op. Required parameters are checked
// here so a malformed call never reaches the network or the quota windows.
func (p *Protocol) BuildRequest(_ context.Context, op core.Operation, params core.Params) (*core.Request, error) {
	switch op {
	case core.OpGetPrice:
		return p.buildSymbolRequest("/api/v3/ticker/price", params)
	case core.OpGet24hTicker:
		return p.buildSymbolRequest("/api/v3/ticker/24hr", params)
	case core.OpGet24hTickerAll:
		return core.NewRequest(http.MethodGet, "/api/v3/ticker/24hr"), nil
	case core.OpGetKlines:
		return p.buildGetKlinesRequest(params)
	case core.OpGetOrderBook:
		return p.buildGetOrderBookRequest(params)
	case core.OpGetExchangeInfo:
		req := core.NewRequest(http.MethodGet, "/api/v3/exchangeInfo")
		if symbol := getStringParamWithDefault(params, "symbol", ""); symbol != "" {
			req.SetQuery("symbol", formatSymbol(symbol))
		}
		return req, nil
	case core.OpGetServerTime:
		return core.NewRequest(http.MethodGet, "/api/v3/time"), nil
	case core.OpGetAccountInfo:
		req := core.NewRequest(http.MethodGet, "/api/v3/account").SetSigned(true)
		req.SetQuery("omitZeroBalances", "true")
		return req, nil
	case core.OpGetOpenOrders:
		req, err := p.buildSymbolRequest("/api/v3/openOrders", params)
		if err != nil {
			return nil, err
		}
		return req.SetSigned(true), nil
	case core.OpGetOpenOrdersAll:
		return core.NewRequest(http.MethodGet, "/api/v3/openOrders").SetSigned(true), nil
	case core.OpGetTradeHistory:
		return p.buildGetTradeHistoryRequest(params)
	case core.OpPlaceOrder:
		return p.buildPlaceOrderRequest(params)
	case core.OpCancelOrder:
		return p.buildCancelOrderRequest(params)
	default:
		return nil, core.NewUnknownOperationError(op)
	}
}

// ParseResponse maps Binance error payloads to *core.ExchangeError and
// normalizes successful bodies to canonical types.
func (p *Protocol) ParseResponse(op core.Operation, resp *resty.Response) (any, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil response")
	}

	if resp.StatusCode() >= 400 {
		return nil, p.mapError(resp.StatusCode(), resp.Header(), resp.Bytes())
	}

	body := resp.Bytes()
	var query url.Values
	if resp.Request != nil {
		query = resp.Request.QueryParams
	}
	n := p.normalizer

	switch op {
	case core.OpGetPrice:
		var data binancePrice
		if err := sonic.Unmarshal(body, &data); err != nil {
			return nil, fmt.Errorf("unmarshal price: %w", err)
		}
		return n.NormalizePrice(&data), nil

	case core.OpGet24hTicker:
		var data binanceTicker
		if err := sonic.Unmarshal(body, &data); err != nil {
			return nil, fmt.Errorf("unmarshal ticker: %w", err)
		}
		return n.NormalizeTicker(&data), nil

	case core.OpGet24hTickerAll:
		var data []binanceTicker
		if err := sonic.Unmarshal(body, &data); err != nil {
			return nil, fmt.Errorf("unmarshal tickers: %w", err)
		}
		return n.NormalizeTickers(data), nil

	case core.OpGetKlines:
		var data []binanceKline
		if err := sonic.Unmarshal(body, &data); err != nil {
			return nil, fmt.Errorf("unmarshal klines: %w", err)
		}
		return n.NormalizeKlines(data, query.Get("symbol"), query.Get("interval"))

	case core.OpGetOrderBook:
		var data binanceOrderBook
		if err := sonic.Unmarshal(body, &data); err != nil {
			return nil, fmt.Errorf("unmarshal order book: %w", err)
		}
		return n.NormalizeOrderBook(&data, query.Get("symbol"))

	case core.OpGetExchangeInfo:
		var data binanceExchangeInfo
		if err := sonic.Unmarshal(body, &data); err != nil {
			return nil, fmt.Errorf("unmarshal exchange info: %w", err)
		}
		return n.NormalizeExchangeInfo(&data), nil

	case core.OpGetServerTime:
		var data binanceServerTime
		if err := sonic.Unmarshal(body, &data); err != nil {
			return nil, fmt.Errorf("unmarshal server time: %w", err)
		}
		if data.ServerTime <= 0 {
			return nil, fmt.Errorf("server time missing from response")
		}
		return &core.ServerTime{Time: time.UnixMilli(data.ServerTime)}, nil

	case core.OpGetAccountInfo:
		var data binanceAccount
		if err := sonic.Unmarshal(body, &data); err != nil {
			return nil, fmt.Errorf("unmarshal account: %w", err)
		}
		return n.NormalizeAccount(&data), nil

	case core.OpPlaceOrder, core.OpCancelOrder:
		var data binanceOrder
		if err := sonic.Unmarshal(body, &data); err != nil {
			return nil, fmt.Errorf("unmarshal order: %w", err)
		}
		return n.NormalizeOrder(&data)

	case core.OpGetOpenOrders, core.OpGetOpenOrdersAll:
		var data []binanceOrder
		if err := sonic.Unmarshal(body, &data); err != nil {
			return nil, fmt.Errorf("unmarshal orders: %w", err)
		}
		return n.NormalizeOrders(data)

	case core.OpGetTradeHistory:
		var data []binanceMyTrade
		if err := sonic.Unmarshal(body, &data); err != nil {
			return nil, fmt.Errorf("unmarshal trades: %w", err)
		}
		return n.NormalizeMyTrades(data), nil

	default:
		return nil, core.NewUnknownOperationError(op)
	}
}

// SignRequest adds timestamp, recvWindow and the HMAC-SHA256 signature to the
// query and the API key header.
func (p *Protocol) SignRequest(req *resty.Request, creds core.Credentials, timestamp time.Time, recvWindow time.Duration) error {
	if creds.APIKey == "" || creds.SecretKey == "" {
		return core.ErrNoCredentials
	}

	queryParams := req.QueryParams
	if queryParams == nil {
		queryParams = url.Values{}
	}
	queryParams.Set("timestamp", strconv.FormatInt(timestamp.UnixMilli(), 10))
	if recvWindow > 0 {
		queryParams.Set("recvWindow", strconv.FormatInt(recvWindow.Milliseconds(), 10))
	}
	queryParams.Del("signature")

	signature := signHMAC(queryParams.Encode(), creds.SecretKey)
	queryParams.Set("signature", signature)

	req.SetQueryParamsFromValues(queryParams)
	req.SetHeader(headerAPIKey, creds.APIKey)

	return nil
}

// ParseUsage reads X-MBX-USED-WEIGHT-<interval> and X-MBX-ORDER-COUNT-<interval>.
func (p *Protocol) ParseUsage(header http.Header) []core.UsageReport {
	var reports []core.UsageReport
	for name, values := range header {
		if len(values) == 0 {
			continue
		}
		canonical := http.CanonicalHeaderKey(name)

		var kind core.WindowKind
		var suffix string
		switch {
		case strings.HasPrefix(canonical, headerUsedWeight):
			kind, suffix = core.WindowKindWeight, canonical[len(headerUsedWeight):]
		case strings.HasPrefix(canonical, headerOrderCount):
			kind, suffix = core.WindowKindOrders, canonical[len(headerOrderCount):]
		default:
			continue
		}

		interval, ok := parseIntervalSuffix(suffix)
		if !ok {
			continue
		}
		used, err := strconv.Atoi(strings.TrimSpace(values[0]))
		if err != nil || used < 0 {
			continue
		}
		reports = append(reports, core.UsageReport{Kind: kind, Interval: interval, Used: used})
	}
	return reports
}

// parseIntervalSuffix parses header interval suffixes such as "1m", "10s", "1d".
func parseIntervalSuffix(s string) (time.Duration, bool) {
	if len(s) < 2 {
		return 0, false
	}
	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || n <= 0 {
		return 0, false
	}

	var unit time.Duration
	switch s[len(s)-1] {
	case 's', 'S':
		unit = time.Second
	case 'm', 'M':
		unit = time.Minute
	case 'h', 'H':
		unit = time.Hour
	case 'd', 'D':
		unit = 24 * time.Hour
	default:
		return 0, false
	}
	return time.Duration(n) * unit, true
}

func (p *Protocol) mapError(status int, header http.Header, body []byte) *core.ExchangeError {
	var apiErr binanceAPIError
	hasCode := sonic.Unmarshal(body, &apiErr) == nil && apiErr.Code != 0

	msg := http.StatusText(status)
	if hasCode && apiErr.Msg != "" {
		msg = apiErr.Msg
	}

	var e *core.ExchangeError
	switch {
	case status == http.StatusTeapot:
		e = core.NewExchangeError(p.Name(), core.ErrorTypeBanned, status, msg).
			WithCode(core.ErrCodeBanned).
			WithRetryAfter(httpclient.RetryAfter(header))
	case status == http.StatusTooManyRequests:
		e = core.NewExchangeError(p.Name(), core.ErrorTypeRateLimit, status, msg).
			WithCode(core.ErrCodeRateLimit).
			WithRetryAfter(httpclient.RetryAfter(header))
	case status >= 500:
		e = core.NewExchangeError(p.Name(), core.ErrorTypeServerError, status, msg).
			WithCode(core.ErrCodeServerError)
	case hasCode:
		e = core.NewExchangeErrorWithCode(p.Name(), mapBinanceErrorCode(apiErr.Code), status,
			strconv.Itoa(apiErr.Code), msg)
	case status == http.StatusNotFound:
		e = core.NewExchangeError(p.Name(), core.ErrorTypeNotFound, status, msg).
			WithCode(core.ErrCodeNotFound)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		e = core.NewExchangeError(p.Name(), core.ErrorTypeAuthentication, status, msg).
			WithCode(core.ErrCodeAuth)
	default:
		e = core.NewExchangeError(p.Name(), core.ErrorTypeBadRequest, status, msg).
			WithCode(core.ErrCodeBadRequest)
	}

	if hasCode {
		e.RawError = apiErr
	}
	return e
}

func (p *Protocol) buildSymbolRequest(path string, params core.Params) (*core.Request, error) {
	symbol, err := getRequiredStringParam(params, "symbol")
	if err != nil {
		return nil, err
	}

	req := core.NewRequest(http.MethodGet, path)
	req.SetQuery("symbol", formatSymbol(symbol))
	return req, nil
}

func (p *Protocol) buildGetKlinesRequest(params core.Params) (*core.Request, error) {
	req, err := p.buildSymbolRequest("/api/v3/klines", params)
	if err != nil {
		return nil, err
	}

	req.SetQuery("interval", getStringParamWithDefault(params, "interval", "1m"))
	if limit := getIntParamWithDefault(params, "limit", 0); limit > 0 {
		req.SetQuery("limit", strconv.Itoa(min(limit, 1000)))
	}
	return req, nil
}

func (p *Protocol) buildGetOrderBookRequest(params core.Params) (*core.Request, error) {
	req, err := p.buildSymbolRequest("/api/v3/depth", params)
	if err != nil {
		return nil, err
	}

	limit := getIntParamWithDefault(params, "limit", 100)
	req.SetQuery("limit", strconv.Itoa(min(limit, 100)))
	return req, nil
}

func (p *Protocol) buildGetTradeHistoryRequest(params core.Params) (*core.Request, error) {
	req, err := p.buildSymbolRequest("/api/v3/myTrades", params)
	if err != nil {
		return nil, err
	}
	req.SetSigned(true)

	if limit := getIntParamWithDefault(params, "limit", 0); limit > 0 {
		req.SetQuery("limit", strconv.Itoa(min(limit, 1000)))
	}
	if startTime := getIntParamWithDefault(params, "start_time", 0); startTime > 0 {
		req.SetQuery("startTime", strconv.Itoa(startTime))
	}
	if endTime := getIntParamWithDefault(params, "end_time", 0); endTime > 0 {
		req.SetQuery("endTime", strconv.Itoa(endTime))
	}
	return req, nil
}

func (p *Protocol) buildPlaceOrderRequest(params core.Params) (*core.Request, error) {
	symbol, err := getRequiredStringParam(params, "symbol")
	if err != nil {
		return nil, err
	}

	side, err := getRequiredStringParam(params, "side")
	if err != nil {
		return nil, err
	}

	orderType, err := getRequiredStringParam(params, "type")
	if err != nil {
		return nil, err
	}

	quantity, err := getRequiredStringParam(params, "quantity")
	if err != nil {
		return nil, err
	}

	req := core.NewRequest(http.MethodPost, "/api/v3/order").SetSigned(true)
	req.SetQuery("symbol", formatSymbol(symbol))
	req.SetQuery("side", strings.ToUpper(side))
	req.SetQuery("type", strings.ToUpper(orderType))
	req.SetQuery("quantity", quantity)
	req.SetQuery("newOrderRespType", "RESULT")

	if price := getStringParamWithDefault(params, "price", ""); price != "" {
		req.SetQuery("price", price)
	}

	if stopPrice := getStringParamWithDefault(params, "stop_price", ""); stopPrice != "" {
		req.SetQuery("stopPrice", stopPrice)
	}

	if timeInForce := getStringParamWithDefault(params, "time_in_force", ""); timeInForce != "" {
		req.SetQuery("timeInForce", strings.ToUpper(timeInForce))
	}

	if clientOrderID := getStringParamWithDefault(params, "client_order_id", ""); clientOrderID != "" {
		req.SetQuery("newClientOrderId", clientOrderID)
	}

	return req, nil
}

func (p *Protocol) buildCancelOrderRequest(params core.Params) (*core.Request, error) {
	symbol, err := getRequiredStringParam(params, "symbol")
	if err != nil {
		return nil, err
	}

	req := core.NewRequest(http.MethodDelete, "/api/v3/order").SetSigned(true)
	req.SetQuery("symbol", formatSymbol(symbol))

	orderID := getStringParamWithDefault(params, "order_id", "")
	clientOrderID := getStringParamWithDefault(params, "client_order_id", "")
	if orderID == "" && clientOrderID == "" {
		return nil, fmt.Errorf("cancel order requires order_id or client_order_id")
	}

	if orderID != "" {
		req.SetQuery("orderId", orderID)
	}

	if clientOrderID != "" {
		req.SetQuery("origClientOrderId", clientOrderID)
	}

	return req, nil
}

// formatSymbol accepts "BTC/USDT" or "btcusdt" and returns "BTCUSDT".
func formatSymbol(symbol string) string {
	return strings.ToUpper(strings.ReplaceAll(symbol, "/", ""))
}

func signHMAC(message, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(message))
	return hex.EncodeToString(h.Sum(nil))
}

func getRequiredStringParam(params core.Params, key string) (string, error) {
	val, ok := params[key]
	if !ok {
		return "", fmt.Errorf("missing required parameter: %s", key)
	}

	str, ok := val.(string)
	if !ok {
		return "", fmt.Errorf("parameter %s must be a string", key)
	}

	if str == "" {
		return "", fmt.Errorf("parameter %s cannot be empty", key)
	}

	return str, nil
}

func getStringParamWithDefault(params core.Params, key, def string) string {
	if str := params.String(key); str != "" {
		return str
	}
	return def
}

func getIntParamWithDefault(params core.Params, key string, def int) int {
	return params.Int(key, def)
}

type binanceAPIError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func mapBinanceErrorCode(code int) core.ErrorType {
	switch code {
	case -1021:
		return core.ErrorTypeClockSkew
	case -1003, -1015:
		return core.ErrorTypeRateLimit
	case -1022, -2014, -2015:
		return core.ErrorTypeAuthentication
	case -1001, -1006, -1007:
		return core.ErrorTypeServerError
	case -2010:
		return core.ErrorTypeInvalidOrder
	case -2011, -2013:
		return core.ErrorTypeNotFound
	case -1121:
		return core.ErrorTypeBadRequest
	default:
		if code <= -1000 && code > -2000 {
			return core.ErrorTypeBadRequest
		}
		if code <= -2000 && code > -3000 {
			return core.ErrorTypeInvalidOrder
		}
		return core.ErrorTypeUnknown
	}
}
