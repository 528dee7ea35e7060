package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewRequest(t *testing.T) {
	req := NewRequest("GET", "/api/v3/ticker/price")

	assert.Equal(t, "GET", req.Method)
	assert.Equal(t, "/api/v3/ticker/price", req.Path)
	assert.NotNil(t, req.Query)
	assert.NotNil(t, req.Headers)
	assert.False(t, req.Signed)
}

func TestRequest_SetQuery(t *testing.T) {
	req := NewRequest("GET", "/api/v3/ticker/price")
	result := req.SetQuery("symbol", "BTCUSDT")

	assert.Equal(t, req, result)
	assert.Equal(t, "BTCUSDT", req.Query["symbol"])
}

func TestRequest_SetHeader(t *testing.T) {
	req := NewRequest("GET", "/api/v3/ticker/price")
	result := req.SetHeader("X-Custom", "value")

	assert.Equal(t, req, result)
	assert.Equal(t, "value", req.Headers["X-Custom"])
}

func TestRequest_SetSigned(t *testing.T) {
	req := NewRequest("POST", "/api/v3/order").SetSigned(true)
	assert.True(t, req.Signed)
}

func TestRequest_QueryStrings(t *testing.T) {
	req := NewRequest("GET", "/api/v3/klines").
		SetQuery("symbol", "BTCUSDT").
		SetQuery("limit", 100)

	assert.Equal(t, map[string]string{"symbol": "BTCUSDT", "limit": "100"}, req.QueryStrings())
}

func TestParams_Canonical(t *testing.T) {
	tests := []struct {
		name   string
		params Params
		want   string
	}{
		{"nil", nil, ""},
		{"single", Params{"symbol": "BTCUSDT"}, "symbol=BTCUSDT"},
		{"sorted", Params{"symbol": "BTCUSDT", "limit": 100, "interval": "1m"}, "interval=1m&limit=100&symbol=BTCUSDT"},
		{"drops empty", Params{"symbol": "", "limit": 5, "x": nil}, "limit=5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.params.Canonical())
		})
	}
}

func TestCacheKey(t *testing.T) {
	a := CacheKey(OpGetKlines, Params{"symbol": "BTCUSDT", "interval": "1m", "limit": 100})
	b := CacheKey(OpGetKlines, Params{"limit": 100, "interval": "1m", "symbol": "BTCUSDT"})

	assert.Equal(t, a, b)
	assert.Equal(t, "GET_KLINES?interval=1m&limit=100&symbol=BTCUSDT", a)
	assert.Equal(t, "GET_ACCOUNT_INFO", CacheKey(OpGetAccountInfo, nil))
	assert.NotEqual(t, CacheKey(OpGetPrice, Params{"symbol": "BTCUSDT"}), CacheKey(OpGet24hTicker, Params{"symbol": "BTCUSDT"}))
}

func TestParams_Clone(t *testing.T) {
	p := Params{"symbol": "BTCUSDT"}
	c := p.Clone()
	c["symbol"] = "ETHUSDT"

	assert.Equal(t, "BTCUSDT", p["symbol"])
	assert.NotNil(t, Params(nil).Clone())
}

func TestParams_Accessors(t *testing.T) {
	p := Params{"symbol": "BTCUSDT", "limit": "50", "depth": 20, "bad": "x", "ratio": float64(3)}

	assert.Equal(t, "BTCUSDT", p.String("symbol"))
	assert.Empty(t, p.String("depth"))
	assert.Equal(t, 50, p.Int("limit", 0))
	assert.Equal(t, 20, p.Int("depth", 0))
	assert.Equal(t, 3, p.Int("ratio", 0))
	assert.Equal(t, 7, p.Int("bad", 7))
	assert.Equal(t, 7, p.Int("missing", 7))
}
