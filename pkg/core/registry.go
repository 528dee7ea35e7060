package core

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/go-playground/validator/v10"
)

// DataClass groups operations that share a cache TTL and a push freshness bound.
type DataClass string

const (
	DataClassPrice    DataClass = "price"
	DataClassCandles  DataClass = "candles"
	DataClassTicker   DataClass = "ticker"
	DataClassDepth    DataClass = "depth"
	DataClassAccount  DataClass = "account"
	DataClassOrders   DataClass = "orders"
	DataClassTrades   DataClass = "trades"
	DataClassMetadata DataClass = "metadata"
	DataClassSystem   DataClass = "system"
)

// EndpointProfile describes what one operation costs against the exchange quotas.
type EndpointProfile struct {
	Operation Operation `json:"operation"`
	Method    string    `json:"method" validate:"required,oneof=GET POST PUT DELETE"`
	Path      string    `json:"path" validate:"required,startswith=/"`
	// WeightCost is debited from every weight window.
	WeightCost int `json:"weight_cost" validate:"min=1"`
	// IsOrderAction debits one unit from every order window.
	IsOrderAction bool `json:"is_order_action"`
	// CountsAsRawRequest debits one unit from every raw-request window.
	CountsAsRawRequest bool `json:"counts_as_raw_request"`
	// Signed requests carry a timestamp and HMAC signature.
	Signed bool `json:"signed"`
	// Critical calls still run while emergency mode is active.
	Critical  bool      `json:"critical"`
	DataClass DataClass `json:"data_class" validate:"required"`
}

var validate = validator.New()

// Validate checks the profile's invariants.
func (p EndpointProfile) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("endpoint profile %s: %w", p.Operation, err)
	}
	return nil
}

// Registry maps operations to their endpoint profiles. Profiles are immutable
// once registered; the registry is safe for concurrent reads.
type Registry struct {
	mu       sync.RWMutex
	profiles map[Operation]EndpointProfile
}

// NewRegistry builds a registry from the given profiles.
func NewRegistry(profiles ...EndpointProfile) (*Registry, error) {
	r := &Registry{profiles: make(map[Operation]EndpointProfile, len(profiles))}
	for _, p := range profiles {
		if err := r.Register(p); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a profile. Registering the same operation twice is an error.
func (r *Registry) Register(p EndpointProfile) error {
	if err := p.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.profiles[p.Operation]; exists {
		return fmt.Errorf("endpoint profile %s already registered", p.Operation)
	}
	r.profiles[p.Operation] = p
	return nil
}

// CostOf returns the profile registered for op.
func (r *Registry) CostOf(op Operation) (EndpointProfile, error) {
	r.mu.RLock()
	p, ok := r.profiles[op]
	r.mu.RUnlock()

	if !ok {
		return EndpointProfile{}, NewUnknownOperationError(op)
	}
	return p, nil
}

// MustCostOf is CostOf for operations known at compile time. It panics on an
// unregistered operation.
func (r *Registry) MustCostOf(op Operation) EndpointProfile {
	p, err := r.CostOf(op)
	if err != nil {
		panic(err)
	}
	return p
}

// Profiles returns every registered profile in operation order.
func (r *Registry) Profiles() []EndpointProfile {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]EndpointProfile, 0, len(r.profiles))
	for _, op := range Operations() {
		if p, ok := r.profiles[op]; ok {
			out = append(out, p)
		}
	}
	return out
}

// DefaultProfiles returns Binance spot endpoint weights.
func DefaultProfiles() []EndpointProfile {
	return []EndpointProfile{
		{Operation: OpGetPrice, Method: http.MethodGet, Path: "/api/v3/ticker/price", WeightCost: 2, CountsAsRawRequest: true, DataClass: DataClassPrice},
		{Operation: OpGetKlines, Method: http.MethodGet, Path: "/api/v3/klines", WeightCost: 2, CountsAsRawRequest: true, DataClass: DataClassCandles},
		{Operation: OpGetAccountInfo, Method: http.MethodGet, Path: "/api/v3/account", WeightCost: 20, CountsAsRawRequest: true, Signed: true, Critical: true, DataClass: DataClassAccount},
		{Operation: OpGet24hTicker, Method: http.MethodGet, Path: "/api/v3/ticker/24hr", WeightCost: 2, CountsAsRawRequest: true, DataClass: DataClassTicker},
		{Operation: OpGet24hTickerAll, Method: http.MethodGet, Path: "/api/v3/ticker/24hr", WeightCost: 80, CountsAsRawRequest: true, DataClass: DataClassTicker},
		{Operation: OpPlaceOrder, Method: http.MethodPost, Path: "/api/v3/order", WeightCost: 1, IsOrderAction: true, CountsAsRawRequest: true, Signed: true, Critical: true, DataClass: DataClassOrders},
		{Operation: OpCancelOrder, Method: http.MethodDelete, Path: "/api/v3/order", WeightCost: 1, IsOrderAction: true, CountsAsRawRequest: true, Signed: true, Critical: true, DataClass: DataClassOrders},
		{Operation: OpGetOpenOrders, Method: http.MethodGet, Path: "/api/v3/openOrders", WeightCost: 6, CountsAsRawRequest: true, Signed: true, Critical: true, DataClass: DataClassOrders},
		{Operation: OpGetOpenOrdersAll, Method: http.MethodGet, Path: "/api/v3/openOrders", WeightCost: 80, CountsAsRawRequest: true, Signed: true, Critical: true, DataClass: DataClassOrders},
		{Operation: OpGetTradeHistory, Method: http.MethodGet, Path: "/api/v3/myTrades", WeightCost: 20, CountsAsRawRequest: true, Signed: true, DataClass: DataClassTrades},
		{Operation: OpGetOrderBook, Method: http.MethodGet, Path: "/api/v3/depth", WeightCost: 5, CountsAsRawRequest: true, DataClass: DataClassDepth},
		{Operation: OpGetExchangeInfo, Method: http.MethodGet, Path: "/api/v3/exchangeInfo", WeightCost: 20, CountsAsRawRequest: true, DataClass: DataClassMetadata},
		{Operation: OpGetServerTime, Method: http.MethodGet, Path: "/api/v3/time", WeightCost: 1, CountsAsRawRequest: true, Critical: true, DataClass: DataClassSystem},
	}
}

// DefaultRegistry returns a registry populated with DefaultProfiles.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(DefaultProfiles()...)
	if err != nil {
		panic(err)
	}
	return r
}
