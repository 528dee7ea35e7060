package binance

import (
	"fmt"
	"strconv"
	"time"

	"github.com/cockroachdb/apd/v3"

	"tollgate/pkg/core"
)

type binancePrice struct {
	Symbol string      `json:"symbol"`
	Price  apd.Decimal `json:"price"`
}

// binanceTicker represents the raw 24h ticker response from Binance API.
type binanceTicker struct {
	Symbol             string      `json:"symbol"`
	PriceChange        apd.Decimal `json:"priceChange"`
	PriceChangePercent apd.Decimal `json:"priceChangePercent"`
	WeightedAvgPrice   apd.Decimal `json:"weightedAvgPrice"`
	LastPrice          apd.Decimal `json:"lastPrice"`
	BidPrice           apd.Decimal `json:"bidPrice"`
	AskPrice           apd.Decimal `json:"askPrice"`
	OpenPrice          apd.Decimal `json:"openPrice"`
	HighPrice          apd.Decimal `json:"highPrice"`
	LowPrice           apd.Decimal `json:"lowPrice"`
	Volume             apd.Decimal `json:"volume"`
	QuoteVolume        apd.Decimal `json:"quoteVolume"`
	CloseTime          int64       `json:"closeTime"`
	Count              int64       `json:"count"`
}

// binanceOrder represents the raw order response from Binance API.
type binanceOrder struct {
	Symbol        string      `json:"symbol"`
	OrderID       int64       `json:"orderId"`
	ClientOrderID string      `json:"clientOrderId"`
	Price         apd.Decimal `json:"price"`
	StopPrice     apd.Decimal `json:"stopPrice"`
	OrigQty       apd.Decimal `json:"origQty"`
	ExecutedQty   apd.Decimal `json:"executedQty"`
	Status        string      `json:"status"`
	Type          string      `json:"type"`
	Side          string      `json:"side"`
	TimeInForce   string      `json:"timeInForce"`
	Time          int64       `json:"time"`
	TransactTime  int64       `json:"transactTime"`
	UpdateTime    int64       `json:"updateTime"`
}

// binanceBalance represents a single asset balance from Binance API.
type binanceBalance struct {
	Asset  string      `json:"asset"`
	Free   apd.Decimal `json:"free"`
	Locked apd.Decimal `json:"locked"`
}

// binanceAccount represents the account information response from Binance API.
type binanceAccount struct {
	MakerCommission int64            `json:"makerCommission"`
	TakerCommission int64            `json:"takerCommission"`
	CanTrade        bool             `json:"canTrade"`
	CanWithdraw     bool             `json:"canWithdraw"`
	CanDeposit      bool             `json:"canDeposit"`
	UpdateTime      int64            `json:"updateTime"`
	AccountType     string           `json:"accountType"`
	Balances        []binanceBalance `json:"balances"`
}

// binanceMyTrade represents a user's trade from Binance API.
type binanceMyTrade struct {
	ID              int64       `json:"id"`
	OrderID         int64       `json:"orderId"`
	Symbol          string      `json:"symbol"`
	Price           apd.Decimal `json:"price"`
	Qty             apd.Decimal `json:"qty"`
	Commission      apd.Decimal `json:"commission"`
	CommissionAsset string      `json:"commissionAsset"`
	Time            int64       `json:"time"`
	IsBuyer         bool        `json:"isBuyer"`
	IsMaker         bool        `json:"isMaker"`
}

// binanceOrderBook represents the order book response from Binance API.
type binanceOrderBook struct {
	LastUpdateID int64      `json:"lastUpdateId"`
	Bids         [][]string `json:"bids"`
	Asks         [][]string `json:"asks"`
}

// binanceKline represents a kline/candlestick data array from Binance API.
type binanceKline []any

type binanceRateLimit struct {
	RateLimitType string `json:"rateLimitType"`
	Interval      string `json:"interval"`
	IntervalNum   int    `json:"intervalNum"`
	Limit         int    `json:"limit"`
}

type binanceSymbol struct {
	Symbol     string `json:"symbol"`
	Status     string `json:"status"`
	BaseAsset  string `json:"baseAsset"`
	QuoteAsset string `json:"quoteAsset"`
}

type binanceExchangeInfo struct {
	Timezone   string             `json:"timezone"`
	ServerTime int64              `json:"serverTime"`
	RateLimits []binanceRateLimit `json:"rateLimits"`
	Symbols    []binanceSymbol    `json:"symbols"`
}

type binanceServerTime struct {
	ServerTime int64 `json:"serverTime"`
}

// Normalizer converts Binance-specific data structures to canonical core types.
type Normalizer struct {
	now func() time.Time
}

// NewNormalizer creates a new Normalizer instance.
func NewNormalizer() *Normalizer {
	return &Normalizer{now: time.Now}
}

func (n *Normalizer) NormalizePrice(data *binancePrice) *core.Price {
	return &core.Price{
		Symbol:    data.Symbol,
		Price:     data.Price,
		Timestamp: n.now(),
	}
}

// NormalizeTicker converts a Binance 24h ticker response to a canonical Ticker.
func (n *Normalizer) NormalizeTicker(data *binanceTicker) *core.Ticker {
	ts := n.now()
	if data.CloseTime > 0 {
		ts = time.UnixMilli(data.CloseTime)
	}
	return &core.Ticker{
		Symbol:             data.Symbol,
		Bid:                data.BidPrice,
		Ask:                data.AskPrice,
		Last:               data.LastPrice,
		Open:               data.OpenPrice,
		High:               data.HighPrice,
		Low:                data.LowPrice,
		PriceChange:        data.PriceChange,
		PriceChangePercent: data.PriceChangePercent,
		WeightedAvgPrice:   data.WeightedAvgPrice,
		Volume:             data.Volume,
		QuoteVolume:        data.QuoteVolume,
		NumTrades:          data.Count,
		Timestamp:          ts,
	}
}

func (n *Normalizer) NormalizeTickers(data []binanceTicker) []core.Ticker {
	tickers := make([]core.Ticker, 0, len(data))
	for i := range data {
		tickers = append(tickers, *n.NormalizeTicker(&data[i]))
	}
	return tickers
}

// NormalizeOrder converts a Binance order response to a canonical Order.
// It calculates the remaining quantity from total and filled quantities.
func (n *Normalizer) NormalizeOrder(data *binanceOrder) (*core.Order, error) {
	order := &core.Order{
		ID:             strconv.FormatInt(data.OrderID, 10),
		ClientOrderID:  data.ClientOrderID,
		Symbol:         data.Symbol,
		Side:           parseOrderSide(data.Side),
		Type:           parseOrderType(data.Type),
		Status:         parseOrderStatus(data.Status),
		TimeInForce:    parseTimeInForce(data.TimeInForce),
		Price:          data.Price,
		StopPrice:      data.StopPrice,
		Quantity:       data.OrigQty,
		FilledQuantity: data.ExecutedQty,
	}

	switch {
	case data.TransactTime > 0:
		order.CreatedAt = time.UnixMilli(data.TransactTime)
	case data.Time > 0:
		order.CreatedAt = time.UnixMilli(data.Time)
	}

	if data.UpdateTime > 0 {
		order.UpdatedAt = time.UnixMilli(data.UpdateTime)
	} else {
		order.UpdatedAt = order.CreatedAt
	}

	var remaining apd.Decimal
	_, err := apd.BaseContext.Sub(&remaining, &order.Quantity, &order.FilledQuantity)
	if err != nil {
		return nil, fmt.Errorf("calculate remaining: %w", err)
	}
	order.RemainingQty = remaining

	return order, nil
}

// NormalizeOrders converts multiple Binance orders to canonical Orders.
func (n *Normalizer) NormalizeOrders(data []binanceOrder) ([]core.Order, error) {
	orders := make([]core.Order, 0, len(data))
	for i := range data {
		order, err := n.NormalizeOrder(&data[i])
		if err != nil {
			return nil, fmt.Errorf("normalize order: %w", err)
		}
		orders = append(orders, *order)
	}
	return orders, nil
}

// NormalizeAccount converts the account endpoint response, dropping empty balances.
func (n *Normalizer) NormalizeAccount(data *binanceAccount) *core.AccountInfo {
	info := &core.AccountInfo{
		AccountType:     data.AccountType,
		CanTrade:        data.CanTrade,
		CanWithdraw:     data.CanWithdraw,
		CanDeposit:      data.CanDeposit,
		MakerCommission: data.MakerCommission,
		TakerCommission: data.TakerCommission,
		Balances:        make([]core.Balance, 0, len(data.Balances)),
	}
	if data.UpdateTime > 0 {
		info.UpdatedAt = time.UnixMilli(data.UpdateTime)
	}

	for _, b := range data.Balances {
		if b.Free.IsZero() && b.Locked.IsZero() {
			continue
		}
		info.Balances = append(info.Balances, core.Balance{
			Asset:  b.Asset,
			Free:   b.Free,
			Locked: b.Locked,
		})
	}
	return info
}

// NormalizeMyTrades converts the account trade list.
func (n *Normalizer) NormalizeMyTrades(data []binanceMyTrade) []core.Trade {
	trades := make([]core.Trade, 0, len(data))
	for _, t := range data {
		side := core.SideSell
		if t.IsBuyer {
			side = core.SideBuy
		}
		trade := core.Trade{
			ID:       strconv.FormatInt(t.ID, 10),
			OrderID:  strconv.FormatInt(t.OrderID, 10),
			Symbol:   t.Symbol,
			Side:     side,
			Price:    t.Price,
			Quantity: t.Qty,
			Fee:      t.Commission,
			FeeAsset: t.CommissionAsset,
			IsMaker:  t.IsMaker,
		}
		if t.Time > 0 {
			trade.Timestamp = time.UnixMilli(t.Time)
		}
		trades = append(trades, trade)
	}
	return trades
}

// NormalizeKline converts a Binance kline array to a canonical Kline.
// Returns an error if the kline data has insufficient elements.
func (n *Normalizer) NormalizeKline(data binanceKline, symbol, interval string) (*core.Kline, error) {
	if len(data) < 9 {
		return nil, fmt.Errorf("insufficient kline data elements: %d", len(data))
	}

	kline := &core.Kline{
		Symbol:   symbol,
		Interval: interval,
	}

	if openTime, ok := data[0].(float64); ok {
		kline.OpenTime = time.UnixMilli(int64(openTime))
	}

	if err := parseDecimalFromAny(&kline.Open, data[1]); err != nil {
		return nil, fmt.Errorf("parse open: %w", err)
	}

	if err := parseDecimalFromAny(&kline.High, data[2]); err != nil {
		return nil, fmt.Errorf("parse high: %w", err)
	}

	if err := parseDecimalFromAny(&kline.Low, data[3]); err != nil {
		return nil, fmt.Errorf("parse low: %w", err)
	}

	if err := parseDecimalFromAny(&kline.Close, data[4]); err != nil {
		return nil, fmt.Errorf("parse close: %w", err)
	}

	if err := parseDecimalFromAny(&kline.Volume, data[5]); err != nil {
		return nil, fmt.Errorf("parse volume: %w", err)
	}

	if closeTime, ok := data[6].(float64); ok {
		kline.CloseTime = time.UnixMilli(int64(closeTime))
	}

	if err := parseDecimalFromAny(&kline.QuoteVolume, data[7]); err != nil {
		kline.QuoteVolume = apd.Decimal{}
	}

	if numTrades, ok := data[8].(float64); ok {
		kline.NumTrades = int64(numTrades)
	}

	// REST candles whose close time has passed are final.
	kline.Closed = !kline.CloseTime.IsZero() && n.now().After(kline.CloseTime)

	return kline, nil
}

// NormalizeKlines converts multiple Binance klines to canonical Klines.
func (n *Normalizer) NormalizeKlines(data []binanceKline, symbol, interval string) ([]core.Kline, error) {
	klines := make([]core.Kline, 0, len(data))
	for _, k := range data {
		kline, err := n.NormalizeKline(k, symbol, interval)
		if err != nil {
			return nil, fmt.Errorf("normalize kline: %w", err)
		}
		klines = append(klines, *kline)
	}
	return klines, nil
}

// NormalizeOrderBook converts a Binance order book to a canonical OrderBook.
func (n *Normalizer) NormalizeOrderBook(data *binanceOrderBook, symbol string) (*core.OrderBook, error) {
	orderBook := &core.OrderBook{
		Symbol:       symbol,
		LastUpdateID: data.LastUpdateID,
		Timestamp:    n.now(),
	}

	bids, err := n.normalizeOrderBookLevels(data.Bids)
	if err != nil {
		return nil, fmt.Errorf("normalize bids: %w", err)
	}
	orderBook.Bids = bids

	asks, err := n.normalizeOrderBookLevels(data.Asks)
	if err != nil {
		return nil, fmt.Errorf("normalize asks: %w", err)
	}
	orderBook.Asks = asks

	return orderBook, nil
}

func (n *Normalizer) normalizeOrderBookLevels(levels [][]string) ([]core.OrderBookLevel, error) {
	result := make([]core.OrderBookLevel, 0, len(levels))

	for _, level := range levels {
		if len(level) < 2 {
			continue
		}

		var obl core.OrderBookLevel
		if err := parseDecimal(&obl.Price, level[0]); err != nil {
			return nil, fmt.Errorf("parse price: %w", err)
		}

		if err := parseDecimal(&obl.Quantity, level[1]); err != nil {
			return nil, fmt.Errorf("parse quantity: %w", err)
		}

		result = append(result, obl)
	}

	return result, nil
}

func (n *Normalizer) NormalizeExchangeInfo(data *binanceExchangeInfo) *core.ExchangeInfo {
	info := &core.ExchangeInfo{
		Timezone:   data.Timezone,
		RateLimits: make([]core.ExchangeRateLimit, 0, len(data.RateLimits)),
		Symbols:    make([]core.SymbolInfo, 0, len(data.Symbols)),
	}
	if data.ServerTime > 0 {
		info.ServerTime = time.UnixMilli(data.ServerTime)
	}
	for _, l := range data.RateLimits {
		info.RateLimits = append(info.RateLimits, core.ExchangeRateLimit{
			RateLimitType: l.RateLimitType,
			Interval:      l.Interval,
			IntervalNum:   l.IntervalNum,
			Limit:         l.Limit,
		})
	}
	for _, s := range data.Symbols {
		info.Symbols = append(info.Symbols, core.SymbolInfo{
			Symbol:     s.Symbol,
			Status:     s.Status,
			BaseAsset:  s.BaseAsset,
			QuoteAsset: s.QuoteAsset,
		})
	}
	return info
}

func parseDecimal(dest *apd.Decimal, s string) error {
	if s == "" {
		*dest = apd.Decimal{}
		return nil
	}

	_, _, err := apd.BaseContext.SetString(dest, s)
	if err != nil {
		return fmt.Errorf("set decimal from string: %w", err)
	}

	return nil
}

func parseDecimalFromAny(dest *apd.Decimal, val any) error {
	switch v := val.(type) {
	case string:
		return parseDecimal(dest, v)
	case float64:
		_, _, err := apd.BaseContext.SetString(dest, strconv.FormatFloat(v, 'f', -1, 64))
		return err
	default:
		return fmt.Errorf("unsupported type for decimal: %T", val)
	}
}

func parseOrderSide(s string) core.OrderSide {
	side, err := core.ParseOrderSide(s)
	if err != nil {
		return core.SideBuy
	}
	return side
}

func parseOrderType(s string) core.OrderType {
	t, err := core.ParseOrderType(s)
	if err != nil {
		return core.TypeMarket
	}
	return t
}

func parseOrderStatus(s string) core.OrderStatus {
	status, err := core.ParseOrderStatus(s)
	if err != nil {
		return core.StatusNew
	}
	return status
}

func parseTimeInForce(s string) core.TimeInForce {
	tif, err := core.ParseTimeInForce(s)
	if err != nil {
		return core.GTC
	}
	return tif
}
