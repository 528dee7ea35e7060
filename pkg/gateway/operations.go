package gateway

import (
	"context"
	"fmt"
	"time"

	"tollgate/pkg/core"
	"tollgate/pkg/order"
)

// Values returned by read operations may be shared with other callers and
// with the cache. Treat them as read-only.

func (g *Gateway) GetPrice(ctx context.Context, symbol string) (*core.Price, error) {
	return as[*core.Price](g.read(ctx, core.OpGetPrice, core.Params{"symbol": normalizeSymbol(symbol)}))
}

// GetKlines returns candles for symbol and interval. A zero limit leaves the
// exchange default of 500.
func (g *Gateway) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]core.Kline, error) {
	params := core.Params{"symbol": normalizeSymbol(symbol), "interval": interval}
	if limit > 0 {
		params["limit"] = limit
	}
	return as[[]core.Kline](g.read(ctx, core.OpGetKlines, params))
}

func (g *Gateway) GetAccountInfo(ctx context.Context) (*core.AccountInfo, error) {
	return as[*core.AccountInfo](g.read(ctx, core.OpGetAccountInfo, nil))
}

// Get24hTicker returns rolling statistics for symbol, or for every symbol
// when symbol is empty.
func (g *Gateway) Get24hTicker(ctx context.Context, symbol string) ([]core.Ticker, error) {
	if symbol == "" {
		return as[[]core.Ticker](g.read(ctx, core.OpGet24hTickerAll, nil))
	}
	t, err := as[*core.Ticker](g.read(ctx, core.OpGet24hTicker, core.Params{"symbol": normalizeSymbol(symbol)}))
	if err != nil {
		return nil, err
	}
	return []core.Ticker{*t}, nil
}

// PlaceOrder sends o exactly once. A client order id is assigned when o has
// none, so an AmbiguousOrder outcome can be looked up with GetOpenOrders.
// Identical concurrent orders are never merged.
func (g *Gateway) PlaceOrder(ctx context.Context, o *core.Order) (*core.Order, error) {
	if o == nil {
		return nil, fmt.Errorf("order is required")
	}
	if o.ClientOrderID == "" {
		o.ClientOrderID = order.NewClientOrderID()
	}
	if err := order.Validate(o); err != nil {
		return nil, err
	}
	return as[*core.Order](g.write(ctx, core.OpPlaceOrder, order.ToParams(o)))
}

func (g *Gateway) CancelOrder(ctx context.Context, symbol, orderID string) (*core.Order, error) {
	if orderID == "" {
		return nil, fmt.Errorf("order ID is required")
	}
	return as[*core.Order](g.write(ctx, core.OpCancelOrder, order.CancelParams(symbol, orderID, "")))
}

// GetOpenOrders lists open orders for symbol, or for the whole account when
// symbol is empty.
func (g *Gateway) GetOpenOrders(ctx context.Context, symbol string) ([]core.Order, error) {
	if symbol == "" {
		return as[[]core.Order](g.read(ctx, core.OpGetOpenOrdersAll, nil))
	}
	return as[[]core.Order](g.read(ctx, core.OpGetOpenOrders, core.Params{"symbol": normalizeSymbol(symbol)}))
}

func (g *Gateway) GetTradeHistory(ctx context.Context, symbol string, limit int) ([]core.Trade, error) {
	params := core.Params{"symbol": normalizeSymbol(symbol)}
	if limit > 0 {
		params["limit"] = limit
	}
	return as[[]core.Trade](g.read(ctx, core.OpGetTradeHistory, params))
}

// GetOrderBook returns up to limit levels per side, 100 when limit is zero.
func (g *Gateway) GetOrderBook(ctx context.Context, symbol string, limit int) (*core.OrderBook, error) {
	params := core.Params{"symbol": normalizeSymbol(symbol)}
	if limit > 0 {
		params["limit"] = limit
	}
	return as[*core.OrderBook](g.read(ctx, core.OpGetOrderBook, params))
}

func (g *Gateway) GetExchangeInfo(ctx context.Context) (*core.ExchangeInfo, error) {
	return as[*core.ExchangeInfo](g.read(ctx, core.OpGetExchangeInfo, nil))
}

// GetQuotaSnapshot returns the current usage of every window.
func (g *Gateway) GetQuotaSnapshot() []WindowStatus {
	return g.tracker.Snapshot()
}

// ClearCache drops every cached read. Calls in flight finish but are not
// stored.
func (g *Gateway) ClearCache() {
	g.cache.Clear()
}

func (g *Gateway) TransportState() TransportState {
	return g.orch.State()
}

// SubscribeDanger calls fn whenever a window is in danger, once immediately
// if one already is. The returned func unsubscribes.
func (g *Gateway) SubscribeDanger(fn func(DangerEvent)) (unsubscribe func()) {
	return g.tracker.Subscribe(fn)
}

// ResetBreaker closes the pull breaker after an operator intervention.
func (g *Gateway) ResetBreaker() {
	g.orch.ResetBreaker()
}

// SyncClock samples the exchange clock now.
func (g *Gateway) SyncClock(ctx context.Context) error {
	if g.closed.Load() {
		return core.ErrGatewayClosed
	}
	return g.orch.Resync(ctx)
}

func (g *Gateway) EmergencyStatus(ctx context.Context) (EmergencyState, error) {
	return g.emergency.Status(ctx)
}

// ActivateEmergency raises emergency mode for d, or until deactivated when
// d <= 0.
func (g *Gateway) ActivateEmergency(ctx context.Context, reason string, d time.Duration) error {
	return g.emergency.Activate(ctx, reason, d)
}

func (g *Gateway) DeactivateEmergency(ctx context.Context) error {
	if err := g.emergency.Deactivate(ctx); err != nil {
		return err
	}
	g.raised.Store(false)
	return nil
}

// Status is a point-in-time view of everything the gateway tracks.
type Status struct {
	Windows   []WindowStatus `json:"windows"`
	Transport TransportState `json:"transport"`
	Cache     CacheStats     `json:"cache"`
	Emergency EmergencyState `json:"emergency"`
	Push      *PushStats     `json:"push,omitempty"`
}

// Status collects the quota, transport, cache and emergency views. An
// unreadable emergency control is reported as an error alongside the rest.
func (g *Gateway) Status(ctx context.Context) (Status, error) {
	s := Status{
		Windows:   g.tracker.Snapshot(),
		Transport: g.orch.State(),
		Cache:     g.cache.Stats(),
	}
	if g.store != nil {
		ps := g.store.Stats()
		s.Push = &ps
	}

	var err error
	s.Emergency, err = g.emergency.Status(ctx)
	if err != nil {
		return s, fmt.Errorf("emergency status: %w", err)
	}
	return s, nil
}
