package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRegistry_CoversEveryOperation(t *testing.T) {
	r := DefaultRegistry()

	for _, op := range Operations() {
		p, err := r.CostOf(op)
		require.NoError(t, err, op.String())
		assert.Equal(t, op, p.Operation)
		assert.GreaterOrEqual(t, p.WeightCost, 1)
		assert.True(t, p.CountsAsRawRequest)
	}
}

func TestDefaultRegistry_Weights(t *testing.T) {
	tests := []struct {
		op     Operation
		weight int
		order  bool
		signed bool
		class  DataClass
	}{
		{OpGetPrice, 2, false, false, DataClassPrice},
		{OpGetKlines, 2, false, false, DataClassCandles},
		{OpGetAccountInfo, 20, false, true, DataClassAccount},
		{OpGet24hTicker, 2, false, false, DataClassTicker},
		{OpGet24hTickerAll, 80, false, false, DataClassTicker},
		{OpPlaceOrder, 1, true, true, DataClassOrders},
		{OpCancelOrder, 1, true, true, DataClassOrders},
		{OpGetOpenOrders, 6, false, true, DataClassOrders},
		{OpGetOpenOrdersAll, 80, false, true, DataClassOrders},
		{OpGetTradeHistory, 20, false, true, DataClassTrades},
		{OpGetOrderBook, 5, false, false, DataClassDepth},
		{OpGetExchangeInfo, 20, false, false, DataClassMetadata},
		{OpGetServerTime, 1, false, false, DataClassSystem},
	}

	r := DefaultRegistry()
	for _, tt := range tests {
		t.Run(tt.op.String(), func(t *testing.T) {
			p := r.MustCostOf(tt.op)
			assert.Equal(t, tt.weight, p.WeightCost)
			assert.Equal(t, tt.order, p.IsOrderAction)
			assert.Equal(t, tt.signed, p.Signed)
			assert.Equal(t, tt.class, p.DataClass)
		})
	}
}

func TestRegistry_CriticalProfiles(t *testing.T) {
	r := DefaultRegistry()

	assert.True(t, r.MustCostOf(OpPlaceOrder).Critical)
	assert.True(t, r.MustCostOf(OpGetAccountInfo).Critical)
	assert.True(t, r.MustCostOf(OpGetOpenOrders).Critical)
	assert.False(t, r.MustCostOf(OpGetKlines).Critical)
	assert.False(t, r.MustCostOf(OpGetPrice).Critical)
}

func TestRegistry_CostOfUnknown(t *testing.T) {
	r := DefaultRegistry()

	_, err := r.CostOf(Operation(99))
	require.Error(t, err)
	assert.True(t, IsUnknownOperation(err))

	assert.Panics(t, func() { r.MustCostOf(Operation(99)) })
}

func TestRegistry_Register(t *testing.T) {
	r, err := NewRegistry()
	require.NoError(t, err)

	p := EndpointProfile{Operation: OpGetPrice, Method: "GET", Path: "/api/v3/ticker/price", WeightCost: 1, DataClass: DataClassPrice}
	require.NoError(t, r.Register(p))
	assert.Error(t, r.Register(p), "duplicate registration")

	got, err := r.CostOf(OpGetPrice)
	require.NoError(t, err)
	assert.Equal(t, p, got)
	assert.Len(t, r.Profiles(), 1)
}

func TestEndpointProfile_Validate(t *testing.T) {
	tests := []struct {
		name    string
		profile EndpointProfile
		wantErr bool
	}{
		{"valid", EndpointProfile{Method: "GET", Path: "/x", WeightCost: 1, DataClass: DataClassPrice}, false},
		{"zero weight", EndpointProfile{Method: "GET", Path: "/x", WeightCost: 0, DataClass: DataClassPrice}, true},
		{"missing path", EndpointProfile{Method: "GET", WeightCost: 1, DataClass: DataClassPrice}, true},
		{"relative path", EndpointProfile{Method: "GET", Path: "x", WeightCost: 1, DataClass: DataClassPrice}, true},
		{"bad method", EndpointProfile{Method: "FETCH", Path: "/x", WeightCost: 1, DataClass: DataClassPrice}, true},
		{"missing class", EndpointProfile{Method: "GET", Path: "/x", WeightCost: 1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.profile.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
