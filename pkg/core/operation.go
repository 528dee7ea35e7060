package core

// Operation identifies a logical call a strategy makes through the gateway.
type Operation int

// Operation constants define every call the gateway knows how to price and route.
const (
	// OpGetPrice retrieves the latest trade price for a symbol.
	OpGetPrice Operation = iota
	// OpGetKlines retrieves candlestick/OHLCV data.
	OpGetKlines
	// OpGetAccountInfo retrieves account permissions and balances.
	OpGetAccountInfo
	// OpGet24hTicker retrieves 24 hour rolling statistics for one symbol.
	OpGet24hTicker
	// OpGet24hTickerAll retrieves 24 hour rolling statistics for every symbol.
	OpGet24hTickerAll
	// OpPlaceOrder submits a new order.
	OpPlaceOrder
	// OpCancelOrder cancels an existing order.
	OpCancelOrder
	// OpGetOpenOrders retrieves open orders for one symbol.
	OpGetOpenOrders
	// OpGetOpenOrdersAll retrieves open orders across every symbol.
	OpGetOpenOrdersAll
	// OpGetTradeHistory retrieves the account's own trades for a symbol.
	OpGetTradeHistory
	// OpGetOrderBook retrieves order book depth.
	OpGetOrderBook
	// OpGetExchangeInfo retrieves static exchange and symbol metadata.
	OpGetExchangeInfo
	// OpGetServerTime retrieves the exchange clock, used for skew recovery.
	OpGetServerTime
)

var operationNames = [...]string{
	"GET_PRICE",
	"GET_KLINES",
	"GET_ACCOUNT_INFO",
	"GET_24H_TICKER",
	"GET_24H_TICKER_ALL",
	"PLACE_ORDER",
	"CANCEL_ORDER",
	"GET_OPEN_ORDERS",
	"GET_OPEN_ORDERS_ALL",
	"GET_TRADE_HISTORY",
	"GET_ORDER_BOOK",
	"GET_EXCHANGE_INFO",
	"GET_SERVER_TIME",
}

// String returns the string representation of the operation.
func (o Operation) String() string {
	if o < 0 || int(o) >= len(operationNames) {
		return "UNKNOWN"
	}
	return operationNames[o]
}

// IsWrite reports whether the operation changes exchange state.
func (o Operation) IsWrite() bool {
	return o == OpPlaceOrder || o == OpCancelOrder
}

// Operations returns every known operation in declaration order.
func Operations() []Operation {
	ops := make([]Operation, len(operationNames))
	for i := range operationNames {
		ops[i] = Operation(i)
	}
	return ops
}
