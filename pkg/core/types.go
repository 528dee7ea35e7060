package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/apd/v3"
)

// OrderSide represents the direction of an order (buy or sell).
type OrderSide int

const (
	SideBuy OrderSide = iota
	SideSell
)

var orderSideNames = [...]string{"BUY", "SELL"}

func (s OrderSide) String() string {
	return enumName(orderSideNames[:], int(s))
}

func (s OrderSide) MarshalJSON() ([]byte, error) {
	return quote(s.String()), nil
}

func (s *OrderSide) UnmarshalJSON(data []byte) error {
	v, err := ParseOrderSide(unquote(data))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ParseOrderSide parses "BUY" or "SELL" in any case.
func ParseOrderSide(s string) (OrderSide, error) {
	i, err := enumIndex(orderSideNames[:], "order side", s)
	return OrderSide(i), err
}

// OrderType represents the type of order to place on an exchange.
type OrderType int

const (
	// TypeMarket executes immediately at the best available price.
	TypeMarket OrderType = iota
	// TypeLimit executes at a specified price or better.
	TypeLimit
	// TypeStopLoss triggers a market order when price reaches stop price.
	TypeStopLoss
	// TypeStopLossLimit triggers a limit order when price reaches stop price.
	TypeStopLossLimit
	// TypeTakeProfit triggers a market order when price reaches target.
	TypeTakeProfit
	// TypeTakeProfitLimit triggers a limit order when price reaches target.
	TypeTakeProfitLimit
	// TypeLimitMaker is a post-only limit order.
	TypeLimitMaker
)

var orderTypeNames = [...]string{"MARKET", "LIMIT", "STOP_LOSS", "STOP_LOSS_LIMIT", "TAKE_PROFIT", "TAKE_PROFIT_LIMIT", "LIMIT_MAKER"}

func (t OrderType) String() string {
	return enumName(orderTypeNames[:], int(t))
}

// RequiresPrice reports whether the order type carries a limit price.
func (t OrderType) RequiresPrice() bool {
	return t == TypeLimit || t == TypeStopLossLimit || t == TypeTakeProfitLimit || t == TypeLimitMaker
}

// RequiresStopPrice reports whether the order type carries a trigger price.
func (t OrderType) RequiresStopPrice() bool {
	return t == TypeStopLoss || t == TypeStopLossLimit || t == TypeTakeProfit || t == TypeTakeProfitLimit
}

func (t OrderType) MarshalJSON() ([]byte, error) {
	return quote(t.String()), nil
}

func (t *OrderType) UnmarshalJSON(data []byte) error {
	v, err := ParseOrderType(unquote(data))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

func ParseOrderType(s string) (OrderType, error) {
	i, err := enumIndex(orderTypeNames[:], "order type", s)
	return OrderType(i), err
}

// OrderStatus represents the current state of an order.
type OrderStatus int

const (
	StatusNew OrderStatus = iota
	StatusPartiallyFilled
	StatusFilled
	StatusCanceling
	StatusCanceled
	StatusRejected
	StatusExpired
)

var orderStatusNames = [...]string{"NEW", "PARTIALLY_FILLED", "FILLED", "CANCELING", "CANCELED", "REJECTED", "EXPIRED"}

func (s OrderStatus) String() string {
	return enumName(orderStatusNames[:], int(s))
}

// IsTerminal returns true if the order is in a terminal state (no further changes possible).
func (s OrderStatus) IsTerminal() bool {
	return s == StatusFilled || s == StatusCanceled || s == StatusRejected || s == StatusExpired
}

func (s OrderStatus) MarshalJSON() ([]byte, error) {
	return quote(s.String()), nil
}

func (s *OrderStatus) UnmarshalJSON(data []byte) error {
	v, err := ParseOrderStatus(unquote(data))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ParseOrderStatus parses an exchange status. "PENDING_CANCEL" maps to StatusCanceling.
func ParseOrderStatus(s string) (OrderStatus, error) {
	if strings.EqualFold(s, "PENDING_CANCEL") {
		return StatusCanceling, nil
	}
	if strings.EqualFold(s, "EXPIRED_IN_MATCH") {
		return StatusExpired, nil
	}
	i, err := enumIndex(orderStatusNames[:], "order status", s)
	return OrderStatus(i), err
}

// TimeInForce defines how long an order remains active.
type TimeInForce int

const (
	// GTC (Good Till Canceled) keeps the order active until filled or canceled.
	GTC TimeInForce = iota
	// IOC (Immediate Or Cancel) cancels any unfilled portion immediately.
	IOC
	// FOK (Fill Or Kill) requires complete immediate execution or cancellation.
	FOK
)

var timeInForceNames = [...]string{"GTC", "IOC", "FOK"}

func (t TimeInForce) String() string {
	return enumName(timeInForceNames[:], int(t))
}

func (t TimeInForce) MarshalJSON() ([]byte, error) {
	return quote(t.String()), nil
}

func (t *TimeInForce) UnmarshalJSON(data []byte) error {
	v, err := ParseTimeInForce(unquote(data))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

func ParseTimeInForce(s string) (TimeInForce, error) {
	i, err := enumIndex(timeInForceNames[:], "time in force", s)
	return TimeInForce(i), err
}

func enumName(names []string, i int) string {
	if i < 0 || i >= len(names) {
		return "UNKNOWN"
	}
	return names[i]
}

func enumIndex(names []string, kind, s string) (int, error) {
	for i, n := range names {
		if strings.EqualFold(n, s) {
			return i, nil
		}
	}
	return 0, fmt.Errorf("unknown %s %q", kind, s)
}

func quote(s string) []byte {
	return []byte(`"` + s + `"`)
}

func unquote(data []byte) string {
	return strings.Trim(string(data), `"`)
}

// Price is the latest trade price for a symbol.
type Price struct {
	Symbol    string      `json:"symbol"`
	Price     apd.Decimal `json:"price"`
	Timestamp time.Time   `json:"timestamp"`
}

// Ticker represents 24 hour rolling statistics for a trading pair.
type Ticker struct {
	// Symbol is the trading pair identifier (e.g., "BTC/USDT").
	Symbol string `json:"symbol"`
	// Bid is the highest price a buyer is willing to pay.
	Bid apd.Decimal `json:"bid"`
	// Ask is the lowest price a seller is willing to accept.
	Ask apd.Decimal `json:"ask"`
	// Last is the price of the most recent trade.
	Last apd.Decimal `json:"last"`
	Open apd.Decimal `json:"open"`
	High apd.Decimal `json:"high"`
	Low  apd.Decimal `json:"low"`
	// PriceChange is Last minus Open.
	PriceChange        apd.Decimal `json:"price_change"`
	PriceChangePercent apd.Decimal `json:"price_change_percent"`
	WeightedAvgPrice   apd.Decimal `json:"weighted_avg_price"`
	// Volume is base asset volume over the window.
	Volume apd.Decimal `json:"volume"`
	// QuoteVolume is quote asset volume over the window.
	QuoteVolume apd.Decimal `json:"quote_volume"`
	NumTrades   int64       `json:"num_trades"`
	// Timestamp is when this ticker data was generated.
	Timestamp time.Time `json:"timestamp"`
}

// Order represents an exchange order with all its details.
// It tracks the order from submission through execution to completion.
type Order struct {
	// ID is the exchange-assigned order identifier.
	ID string `json:"id"`
	// ClientOrderID is the client-assigned order identifier, used to reconcile
	// ambiguous outcomes.
	ClientOrderID string    `json:"client_order_id"`
	Symbol        string    `json:"symbol"`
	Side          OrderSide `json:"side"`
	Type          OrderType `json:"type"`
	// Price is the limit price for limit orders.
	Price apd.Decimal `json:"price"`
	// StopPrice triggers stop and take-profit orders.
	StopPrice      apd.Decimal `json:"stop_price"`
	Quantity       apd.Decimal `json:"quantity"`
	FilledQuantity apd.Decimal `json:"filled_quantity"`
	RemainingQty   apd.Decimal `json:"remaining_quantity"`
	Status         OrderStatus `json:"status"`
	TimeInForce    TimeInForce `json:"time_in_force"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// Balance represents account balance for a single asset.
type Balance struct {
	// Asset is the currency or token symbol (e.g., "BTC", "USDT").
	Asset string `json:"asset"`
	// Free is the available balance for trading.
	Free apd.Decimal `json:"free"`
	// Locked is the balance locked in open orders.
	Locked apd.Decimal `json:"locked"`
}

// AccountInfo is the account snapshot returned by the signed account endpoint.
type AccountInfo struct {
	AccountType     string    `json:"account_type"`
	CanTrade        bool      `json:"can_trade"`
	CanWithdraw     bool      `json:"can_withdraw"`
	CanDeposit      bool      `json:"can_deposit"`
	MakerCommission int64     `json:"maker_commission"`
	TakerCommission int64     `json:"taker_commission"`
	Balances        []Balance `json:"balances"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Balance returns the balance for asset, or a zero balance.
func (a *AccountInfo) Balance(asset string) Balance {
	for _, b := range a.Balances {
		if strings.EqualFold(b.Asset, asset) {
			return b
		}
	}
	return Balance{Asset: asset}
}

// Trade represents a single executed trade from an order.
type Trade struct {
	ID       string      `json:"id"`
	OrderID  string      `json:"order_id"`
	Symbol   string      `json:"symbol"`
	Side     OrderSide   `json:"side"`
	Price    apd.Decimal `json:"price"`
	Quantity apd.Decimal `json:"quantity"`
	// Fee is the trading fee charged, in FeeAsset.
	Fee       apd.Decimal `json:"fee"`
	FeeAsset  string      `json:"fee_asset"`
	IsMaker   bool        `json:"is_maker"`
	Timestamp time.Time   `json:"timestamp"`
}

// Kline represents a candlestick/OHLCV data point for a time period.
type Kline struct {
	Symbol      string      `json:"symbol"`
	Interval    string      `json:"interval"`
	OpenTime    time.Time   `json:"open_time"`
	Open        apd.Decimal `json:"open"`
	High        apd.Decimal `json:"high"`
	Low         apd.Decimal `json:"low"`
	Close       apd.Decimal `json:"close"`
	Volume      apd.Decimal `json:"volume"`
	CloseTime   time.Time   `json:"close_time"`
	QuoteVolume apd.Decimal `json:"quote_volume"`
	NumTrades   int64       `json:"num_trades"`
	// Closed is false for the still-forming candle.
	Closed bool `json:"closed"`
}

// OrderBookLevel represents a single price level in the order book.
type OrderBookLevel struct {
	Price    apd.Decimal `json:"price"`
	Quantity apd.Decimal `json:"quantity"`
}

// OrderBook represents the current state of the order book for a trading pair.
// It contains sorted lists of bids (buy orders) and asks (sell orders).
type OrderBook struct {
	Symbol string `json:"symbol"`
	// LastUpdateID is the exchange sequence number of the snapshot.
	LastUpdateID int64 `json:"last_update_id"`
	// Bids are buy orders sorted by price descending.
	Bids []OrderBookLevel `json:"bids"`
	// Asks are sell orders sorted by price ascending.
	Asks      []OrderBookLevel `json:"asks"`
	Timestamp time.Time        `json:"timestamp"`
}

// ExchangeRateLimit is one quota the exchange advertises in its metadata.
type ExchangeRateLimit struct {
	RateLimitType string `json:"rate_limit_type"`
	Interval      string `json:"interval"`
	IntervalNum   int    `json:"interval_num"`
	Limit         int    `json:"limit"`
}

// Duration converts Interval and IntervalNum to a time.Duration.
func (l ExchangeRateLimit) Duration() time.Duration {
	var unit time.Duration
	switch strings.ToUpper(l.Interval) {
	case "SECOND":
		unit = time.Second
	case "MINUTE":
		unit = time.Minute
	case "HOUR":
		unit = time.Hour
	case "DAY":
		unit = 24 * time.Hour
	default:
		return 0
	}
	n := l.IntervalNum
	if n <= 0 {
		n = 1
	}
	return time.Duration(n) * unit
}

// SymbolInfo describes one tradable pair.
type SymbolInfo struct {
	Symbol     string `json:"symbol"`
	Status     string `json:"status"`
	BaseAsset  string `json:"base_asset"`
	QuoteAsset string `json:"quote_asset"`
}

// ExchangeInfo is exchange metadata: advertised quotas and symbols.
type ExchangeInfo struct {
	Timezone   string              `json:"timezone"`
	ServerTime time.Time           `json:"server_time"`
	RateLimits []ExchangeRateLimit `json:"rate_limits"`
	Symbols    []SymbolInfo        `json:"symbols"`
}

// ServerTime is the exchange clock as returned by the time endpoint.
type ServerTime struct {
	Time time.Time `json:"time"`
}
