package order

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tollgate/pkg/core"
)

// Executor is the subset of the gateway the manager drives.
type Executor interface {
	PlaceOrder(ctx context.Context, o *core.Order) (*core.Order, error)
	CancelOrder(ctx context.Context, symbol, orderID string) (*core.Order, error)
	GetOpenOrders(ctx context.Context, symbol string) ([]core.Order, error)
}

// ManagerConfig holds configuration options for the order manager.
type ManagerConfig struct {
	// MaxOrders bounds the number of tracked orders. Defaults to 10000.
	MaxOrders int `json:"max_orders"`
}

// Manager tracks the orders a process placed and reconciles the ones whose
// outcome the exchange never confirmed.
type Manager struct {
	exec   Executor
	config ManagerConfig
	logger zerolog.Logger
	now    func() time.Time

	mu      sync.RWMutex
	orders  map[string]*core.Order // by client order id
	byID    map[string]string      // exchange id -> client order id
	pending map[string]struct{}    // ambiguous, awaiting Reconcile
	subs    []chan *core.Order
	subsMu  sync.RWMutex
}

type ManagerOption func(*Manager)

func WithManagerLogger(logger zerolog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = logger }
}

func WithManagerClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a manager that submits through exec.
func NewManager(exec Executor, config ManagerConfig, opts ...ManagerOption) *Manager {
	if config.MaxOrders <= 0 {
		config.MaxOrders = 10000
	}
	m := &Manager{
		exec:    exec,
		config:  config,
		logger:  zerolog.Nop(),
		now:     time.Now,
		orders:  make(map[string]*core.Order),
		byID:    make(map[string]string),
		pending: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// PlaceOrder validates and submits o. An AmbiguousOrder failure keeps the
// order tracked as pending so Reconcile can settle it later; the error is
// still returned.
func (m *Manager) PlaceOrder(ctx context.Context, o *core.Order) error {
	if o == nil {
		return fmt.Errorf("order is required")
	}
	if o.ClientOrderID == "" {
		o.ClientOrderID = NewClientOrderID()
	}
	if err := Validate(o); err != nil {
		return fmt.Errorf("order validation: %w", err)
	}

	m.mu.RLock()
	full := len(m.orders) >= m.config.MaxOrders
	m.mu.RUnlock()
	if full {
		m.prune()
	}

	now := m.now()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.UpdatedAt = now
	o.Status = core.StatusNew

	placed, err := m.exec.PlaceOrder(ctx, o)
	if err != nil {
		if core.IsAmbiguousOrder(err) {
			m.track(o, true)
			m.logger.Warn().
				Err(err).
				Str("client_order_id", o.ClientOrderID).
				Msg("order outcome unknown, pending reconcile")
		}
		return fmt.Errorf("place order: %w", err)
	}

	m.merge(o, placed)
	m.track(o, false)
	m.notify(o)
	return nil
}

// CancelOrder cancels a tracked order by its exchange id.
func (m *Manager) CancelOrder(ctx context.Context, orderID string) error {
	if orderID == "" {
		return fmt.Errorf("order ID is required")
	}

	o, ok := m.GetOrder(orderID)
	if !ok {
		return fmt.Errorf("order not found: %s", orderID)
	}
	if o.Status.IsTerminal() {
		return fmt.Errorf("cannot cancel order in terminal state: %s", o.Status)
	}

	canceled, err := m.exec.CancelOrder(ctx, o.Symbol, orderID)
	if err != nil {
		return fmt.Errorf("cancel order: %w", err)
	}

	status := core.StatusCanceling
	if canceled != nil && canceled.Status != core.StatusNew {
		status = canceled.Status
	}
	return m.UpdateOrderStatus(orderID, status)
}

// CancelAll cancels every live tracked order, optionally for one symbol.
// Failures are logged and the first one is returned.
func (m *Manager) CancelAll(ctx context.Context, symbol string) error {
	var first error
	for _, o := range m.GetOrders(Filter{Symbol: symbol}) {
		if o.ID == "" || o.Status.IsTerminal() || o.Status == core.StatusCanceling {
			continue
		}
		if err := m.CancelOrder(ctx, o.ID); err != nil {
			m.logger.Warn().Err(err).Str("order_id", o.ID).Msg("failed to cancel order")
			if first == nil {
				first = err
			}
		}
	}
	return first
}

// ReconcileResult lists what Reconcile learned about pending orders.
type ReconcileResult struct {
	// Found were located among the exchange's open orders.
	Found []*core.Order
	// Missing were not open on the exchange: never accepted, or already
	// filled or canceled. They are no longer tracked.
	Missing []*core.Order
}

// Reconcile looks up every pending order among the exchange's open orders
// for its symbol, matching on client order id.
func (m *Manager) Reconcile(ctx context.Context) (ReconcileResult, error) {
	bySymbol := make(map[string][]*core.Order)
	m.mu.RLock()
	for cid := range m.pending {
		o := m.orders[cid]
		bySymbol[o.Symbol] = append(bySymbol[o.Symbol], o)
	}
	m.mu.RUnlock()

	var result ReconcileResult
	for symbol, orders := range bySymbol {
		open, err := m.exec.GetOpenOrders(ctx, symbol)
		if err != nil {
			return result, fmt.Errorf("reconcile %s: %w", symbol, err)
		}

		for _, o := range orders {
			i := slices.IndexFunc(open, func(x core.Order) bool {
				return x.ClientOrderID == o.ClientOrderID
			})

			m.mu.Lock()
			delete(m.pending, o.ClientOrderID)
			if i >= 0 {
				m.merge(o, &open[i])
				if o.ID != "" {
					m.byID[o.ID] = o.ClientOrderID
				}
			} else {
				delete(m.orders, o.ClientOrderID)
			}
			m.mu.Unlock()

			if i >= 0 {
				result.Found = append(result.Found, o)
				m.notify(o)
			} else {
				result.Missing = append(result.Missing, o)
			}
		}
	}
	return result, nil
}

// Pending returns the orders awaiting Reconcile.
func (m *Manager) Pending() []*core.Order {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*core.Order, 0, len(m.pending))
	for cid := range m.pending {
		out = append(out, m.orders[cid])
	}
	return out
}

// GetOrder returns a tracked order by exchange id.
func (m *Manager) GetOrder(orderID string) (*core.Order, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cid, ok := m.byID[orderID]
	if !ok {
		return nil, false
	}
	o, ok := m.orders[cid]
	return o, ok
}

// GetOrderByClientID returns a tracked order by client order id.
func (m *Manager) GetOrderByClientID(clientOrderID string) (*core.Order, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	o, ok := m.orders[clientOrderID]
	return o, ok
}

// UpdateOrderStatus moves a tracked order to status, rejecting transitions
// out of terminal states.
func (m *Manager) UpdateOrderStatus(orderID string, status core.OrderStatus) error {
	m.mu.Lock()
	cid, ok := m.byID[orderID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("order not found: %s", orderID)
	}
	o := m.orders[cid]
	if !isValidTransition(o.Status, status) {
		m.mu.Unlock()
		return fmt.Errorf("invalid status transition: %s -> %s", o.Status, status)
	}
	o.Status = status
	o.UpdatedAt = m.now()
	m.mu.Unlock()

	m.notify(o)
	return nil
}

// GetOrders returns tracked orders matching filter.
func (m *Manager) GetOrders(filter Filter) []*core.Order {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*core.Order
	for _, o := range m.orders {
		if filter.Matches(o) {
			out = append(out, o)
		}
	}
	return out
}

// Subscribe returns a channel of order updates that is closed when ctx ends.
func (m *Manager) Subscribe(ctx context.Context) <-chan *core.Order {
	ch := make(chan *core.Order, 100)

	m.subsMu.Lock()
	m.subs = append(m.subs, ch)
	m.subsMu.Unlock()

	go func() {
		<-ctx.Done()
		m.subsMu.Lock()
		defer m.subsMu.Unlock()
		if i := slices.Index(m.subs, ch); i >= 0 {
			m.subs = slices.Delete(m.subs, i, i+1)
			close(ch)
		}
	}()
	return ch
}

func (m *Manager) notify(o *core.Order) {
	m.subsMu.RLock()
	defer m.subsMu.RUnlock()

	for _, ch := range m.subs {
		select {
		case ch <- o:
		default:
			m.logger.Warn().Str("client_order_id", o.ClientOrderID).Msg("order subscriber channel full, update dropped")
		}
	}
}

func (m *Manager) track(o *core.Order, ambiguous bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.orders[o.ClientOrderID] = o
	if o.ID != "" {
		m.byID[o.ID] = o.ClientOrderID
	}
	if ambiguous {
		m.pending[o.ClientOrderID] = struct{}{}
	}
}

// prune drops terminal orders once the manager is full.
func (m *Manager) prune() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for cid, o := range m.orders {
		if o.Status.IsTerminal() {
			delete(m.orders, cid)
			delete(m.byID, o.ID)
		}
	}
}

// merge copies the exchange's view of an order onto the tracked copy.
func (m *Manager) merge(dst, src *core.Order) {
	if src == nil {
		return
	}
	if src.ID != "" {
		dst.ID = src.ID
	}
	dst.Status = src.Status
	dst.FilledQuantity.Set(&src.FilledQuantity)
	dst.RemainingQty.Set(&src.RemainingQty)
	if !src.Price.IsZero() {
		dst.Price.Set(&src.Price)
	}
	dst.UpdatedAt = m.now()
}

// Filter selects tracked orders. Zero fields match anything; Status and
// Type are pointers since their zero values are real states.
type Filter struct {
	Symbol string
	Side   *core.OrderSide
	Status *core.OrderStatus
	Type   *core.OrderType
}

func (f Filter) Matches(o *core.Order) bool {
	switch {
	case f.Symbol != "" && o.Symbol != f.Symbol:
		return false
	case f.Side != nil && o.Side != *f.Side:
		return false
	case f.Status != nil && o.Status != *f.Status:
		return false
	case f.Type != nil && o.Type != *f.Type:
		return false
	}
	return true
}

var transitions = map[core.OrderStatus][]core.OrderStatus{
	core.StatusNew: {
		core.StatusPartiallyFilled,
		core.StatusFilled,
		core.StatusCanceling,
		core.StatusCanceled,
		core.StatusRejected,
		core.StatusExpired,
	},
	core.StatusPartiallyFilled: {
		core.StatusFilled,
		core.StatusCanceling,
		core.StatusCanceled,
		core.StatusExpired,
	},
	core.StatusCanceling: {
		core.StatusCanceled,
		core.StatusFilled,
		core.StatusPartiallyFilled,
	},
}

func isValidTransition(from, to core.OrderStatus) bool {
	return from == to || slices.Contains(transitions[from], to)
}
