package order

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tollgate/pkg/core"
)

type mockExecutor struct {
	mu                sync.Mutex
	placeOrderFunc    func(ctx context.Context, o *core.Order) (*core.Order, error)
	cancelOrderFunc   func(ctx context.Context, symbol, orderID string) (*core.Order, error)
	getOpenOrdersFunc func(ctx context.Context, symbol string) ([]core.Order, error)
	placed            int
}

func (m *mockExecutor) PlaceOrder(ctx context.Context, o *core.Order) (*core.Order, error) {
	m.mu.Lock()
	m.placed++
	m.mu.Unlock()
	if m.placeOrderFunc != nil {
		return m.placeOrderFunc(ctx, o)
	}
	return &core.Order{ID: "1", ClientOrderID: o.ClientOrderID, Status: core.StatusNew}, nil
}

func (m *mockExecutor) CancelOrder(ctx context.Context, symbol, orderID string) (*core.Order, error) {
	if m.cancelOrderFunc != nil {
		return m.cancelOrderFunc(ctx, symbol, orderID)
	}
	return &core.Order{ID: orderID, Status: core.StatusCanceled}, nil
}

func (m *mockExecutor) GetOpenOrders(ctx context.Context, symbol string) ([]core.Order, error) {
	if m.getOpenOrdersFunc != nil {
		return m.getOpenOrdersFunc(ctx, symbol)
	}
	return nil, nil
}

func limitOrder(t *testing.T, cid string) *core.Order {
	t.Helper()
	o, err := NewBuilder("BTCUSDT").Buy().Limit().Price("50000").Quantity("0.1").ClientOrderID(cid).Build()
	require.NoError(t, err)
	return o
}

func TestManager_PlaceOrder(t *testing.T) {
	exec := &mockExecutor{
		placeOrderFunc: func(_ context.Context, o *core.Order) (*core.Order, error) {
			placed := &core.Order{ID: "1001", ClientOrderID: o.ClientOrderID, Status: core.StatusPartiallyFilled}
			placed.FilledQuantity.SetString("0.04")
			placed.RemainingQty.SetString("0.06")
			return placed, nil
		},
	}
	m := NewManager(exec, ManagerConfig{})

	o := limitOrder(t, "c-1")
	require.NoError(t, m.PlaceOrder(context.Background(), o))

	got, ok := m.GetOrder("1001")
	require.True(t, ok)
	assert.Same(t, o, got)
	assert.Equal(t, core.StatusPartiallyFilled, got.Status)
	assert.Equal(t, "0.06", got.RemainingQty.String())

	byCID, ok := m.GetOrderByClientID("c-1")
	require.True(t, ok)
	assert.Same(t, o, byCID)
	assert.Empty(t, m.Pending())
}

func TestManager_PlaceOrderValidation(t *testing.T) {
	exec := &mockExecutor{}
	m := NewManager(exec, ManagerConfig{})

	assert.Error(t, m.PlaceOrder(context.Background(), nil))

	bad := &core.Order{Symbol: "BTCUSDT", Type: core.TypeLimit}
	bad.Quantity.SetString("1")
	err := m.PlaceOrder(context.Background(), bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "order validation")
	assert.Zero(t, exec.placed)
}

func TestManager_RejectedOrderNotTracked(t *testing.T) {
	exec := &mockExecutor{
		placeOrderFunc: func(context.Context, *core.Order) (*core.Order, error) {
			return nil, core.NewExchangeErrorWithCode("binance", core.ErrorTypeInsufficientFunds, 400, "-2010", "insufficient balance")
		},
	}
	m := NewManager(exec, ManagerConfig{})

	err := m.PlaceOrder(context.Background(), limitOrder(t, "c-2"))
	require.Error(t, err)
	_, ok := m.GetOrderByClientID("c-2")
	assert.False(t, ok)
}

func TestManager_ReconcileAmbiguous(t *testing.T) {
	exec := &mockExecutor{
		placeOrderFunc: func(_ context.Context, o *core.Order) (*core.Order, error) {
			return nil, core.NewAmbiguousOrderError(o.ClientOrderID, errors.New("read timeout"))
		},
		getOpenOrdersFunc: func(_ context.Context, symbol string) ([]core.Order, error) {
			assert.Equal(t, "BTCUSDT", symbol)
			return []core.Order{
				{ID: "7", ClientOrderID: "other", Status: core.StatusNew},
				{ID: "8", ClientOrderID: "landed", Status: core.StatusNew},
			}, nil
		},
	}
	m := NewManager(exec, ManagerConfig{})
	ctx := context.Background()

	err := m.PlaceOrder(ctx, limitOrder(t, "landed"))
	require.True(t, core.IsAmbiguousOrder(err))
	err = m.PlaceOrder(ctx, limitOrder(t, "lost"))
	require.True(t, core.IsAmbiguousOrder(err))
	assert.Len(t, m.Pending(), 2)

	res, err := m.Reconcile(ctx)
	require.NoError(t, err)
	require.Len(t, res.Found, 1)
	require.Len(t, res.Missing, 1)
	assert.Equal(t, "8", res.Found[0].ID)
	assert.Equal(t, "lost", res.Missing[0].ClientOrderID)

	assert.Empty(t, m.Pending())
	_, ok := m.GetOrder("8")
	assert.True(t, ok)
	_, ok = m.GetOrderByClientID("lost")
	assert.False(t, ok)
}

func TestManager_ReconcileError(t *testing.T) {
	exec := &mockExecutor{
		placeOrderFunc: func(_ context.Context, o *core.Order) (*core.Order, error) {
			return nil, core.NewAmbiguousOrderError(o.ClientOrderID, nil)
		},
		getOpenOrdersFunc: func(context.Context, string) ([]core.Order, error) {
			return nil, core.NewEmergencyError(core.OpGetOpenOrders, "banned")
		},
	}
	m := NewManager(exec, ManagerConfig{})

	_ = m.PlaceOrder(context.Background(), limitOrder(t, "c-3"))
	_, err := m.Reconcile(context.Background())
	require.Error(t, err)
	assert.Len(t, m.Pending(), 1, "still pending after a failed lookup")
}

func TestManager_CancelOrder(t *testing.T) {
	exec := &mockExecutor{}
	m := NewManager(exec, ManagerConfig{})
	ctx := context.Background()

	assert.Error(t, m.CancelOrder(ctx, ""))
	assert.Error(t, m.CancelOrder(ctx, "missing"))

	require.NoError(t, m.PlaceOrder(ctx, limitOrder(t, "c-4")))
	require.NoError(t, m.CancelOrder(ctx, "1"))

	o, _ := m.GetOrder("1")
	assert.Equal(t, core.StatusCanceled, o.Status)

	err := m.CancelOrder(ctx, "1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "terminal state")
}

func TestManager_CancelAll(t *testing.T) {
	next := 0
	var canceled []string
	exec := &mockExecutor{
		placeOrderFunc: func(_ context.Context, o *core.Order) (*core.Order, error) {
			next++
			return &core.Order{ID: string(rune('a' + next)), Status: core.StatusNew}, nil
		},
		cancelOrderFunc: func(_ context.Context, _, id string) (*core.Order, error) {
			canceled = append(canceled, id)
			return &core.Order{ID: id, Status: core.StatusCanceled}, nil
		},
	}
	m := NewManager(exec, ManagerConfig{})
	ctx := context.Background()

	require.NoError(t, m.PlaceOrder(ctx, limitOrder(t, "x1")))
	require.NoError(t, m.PlaceOrder(ctx, limitOrder(t, "x2")))
	eth, err := NewBuilder("ETHUSDT").Buy().Market().Quantity("1").Build()
	require.NoError(t, err)
	require.NoError(t, m.PlaceOrder(ctx, eth))

	require.NoError(t, m.CancelAll(ctx, "BTCUSDT"))
	assert.ElementsMatch(t, []string{"b", "c"}, canceled)
}

func TestManager_UpdateOrderStatus(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewManager(&mockExecutor{}, ManagerConfig{}, WithManagerClock(func() time.Time { return now }))
	require.NoError(t, m.PlaceOrder(context.Background(), limitOrder(t, "c-5")))

	now = now.Add(time.Minute)
	require.NoError(t, m.UpdateOrderStatus("1", core.StatusFilled))
	o, _ := m.GetOrder("1")
	assert.Equal(t, now, o.UpdatedAt)

	assert.Error(t, m.UpdateOrderStatus("1", core.StatusNew))
	assert.Error(t, m.UpdateOrderStatus("nope", core.StatusFilled))
}

func TestManager_Subscribe(t *testing.T) {
	m := NewManager(&mockExecutor{}, ManagerConfig{})
	ctx, cancel := context.WithCancel(context.Background())

	updates := m.Subscribe(ctx)
	require.NoError(t, m.PlaceOrder(context.Background(), limitOrder(t, "c-6")))

	select {
	case o := <-updates:
		assert.Equal(t, "c-6", o.ClientOrderID)
	case <-time.After(time.Second):
		t.Fatal("no update")
	}

	cancel()
	assert.Eventually(t, func() bool {
		select {
		case _, open := <-updates:
			return !open
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)
}

func TestFilter_Matches(t *testing.T) {
	o := &core.Order{Symbol: "BTCUSDT", Side: core.SideSell, Status: core.StatusPartiallyFilled, Type: core.TypeLimit}
	sell, buy := core.SideSell, core.SideBuy
	partial, filled := core.StatusPartiallyFilled, core.StatusFilled
	limit, market := core.TypeLimit, core.TypeMarket

	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"empty matches all", Filter{}, true},
		{"symbol", Filter{Symbol: "BTCUSDT"}, true},
		{"other symbol", Filter{Symbol: "ETHUSDT"}, false},
		{"side", Filter{Side: &sell}, true},
		{"other side", Filter{Side: &buy}, false},
		{"status", Filter{Status: &partial}, true},
		{"other status", Filter{Status: &filled}, false},
		{"type", Filter{Type: &limit}, true},
		{"other type", Filter{Type: &market}, false},
		{"all", Filter{Symbol: "BTCUSDT", Side: &sell, Status: &partial, Type: &limit}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Matches(o))
		})
	}
}

func TestIsValidTransition(t *testing.T) {
	tests := []struct {
		from, to core.OrderStatus
		want     bool
	}{
		{core.StatusNew, core.StatusFilled, true},
		{core.StatusNew, core.StatusCanceled, true},
		{core.StatusPartiallyFilled, core.StatusFilled, true},
		{core.StatusCanceling, core.StatusCanceled, true},
		{core.StatusFilled, core.StatusCanceled, false},
		{core.StatusCanceled, core.StatusNew, false},
		{core.StatusFilled, core.StatusFilled, true},
	}

	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, isValidTransition(tt.from, tt.to))
		})
	}
}
