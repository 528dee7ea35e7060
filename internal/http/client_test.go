package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"resty.dev/v3"

	"tollgate/pkg/core"
)

func newTestClient(t *testing.T, url string, timeout time.Duration) *Client {
	t.Helper()
	client, err := NewClient(&Config{
		BaseURL: url,
		Timeout: timeout,
		Headers: map[string]string{"User-Agent": "tollgate-test"},
		Logger:  zerolog.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestNewClient_InvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		config *Config
	}{
		{"missing url", &Config{Timeout: time.Second}},
		{"bad url", &Config{BaseURL: "not a url", Timeout: time.Second}},
		{"zero timeout", &Config{BaseURL: "https://api.binance.com"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewClient(tt.config)
			assert.Error(t, err)
		})
	}
}

func TestClient_DoSendsQueryAndHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/v3/klines", r.URL.Path)
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		assert.Equal(t, "500", r.URL.Query().Get("limit"))
		assert.Equal(t, "tollgate-test", r.Header.Get("User-Agent"))
		assert.Equal(t, "abc", r.Header.Get("X-Trace"))
		w.Header().Set("X-MBX-USED-WEIGHT-1M", "12")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`[]`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, time.Second)

	req := core.NewRequest(http.MethodGet, "/api/v3/klines").
		SetQuery("symbol", "BTCUSDT").
		SetQuery("limit", 500).
		SetHeader("X-Trace", "abc")

	resp, err := client.Do(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode())
	assert.Equal(t, "12", resp.Header().Get("X-MBX-USED-WEIGHT-1M"))
	assert.Equal(t, "[]", string(resp.Bytes()))
}

func TestClient_DoAppliesOptionsLast(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "signed", r.URL.Query().Get("signature"))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, time.Second)

	_, err := client.Do(context.Background(), core.NewRequest(http.MethodGet, "/x"), func(r *resty.Request) error {
		r.SetQueryParam("signature", "signed")
		return nil
	})
	require.NoError(t, err)

	optErr := errors.New("sign failed")
	_, err = client.Do(context.Background(), core.NewRequest(http.MethodGet, "/x"), func(*resty.Request) error {
		return optErr
	})
	assert.ErrorIs(t, err, optErr)
}

func TestClient_NonSuccessStatusIsNotAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":-1021,"msg":"Timestamp for this request is outside of the recvWindow."}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, time.Second)

	resp, err := client.Do(context.Background(), core.NewRequest(http.MethodGet, "/api/v3/account"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode())
	assert.Contains(t, string(resp.Bytes()), "-1021")
}

func TestClient_TimeoutIsClassified(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	client := newTestClient(t, server.URL, 50*time.Millisecond)

	_, err := client.Do(context.Background(), core.NewRequest(http.MethodGet, "/slow"))
	require.Error(t, err)
	assert.True(t, core.IsTimeoutError(err), "got %v", err)
	assert.True(t, core.IsRetryable(err))
}

func TestClient_ConnectionRefusedIsNetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	client := newTestClient(t, url, time.Second)

	_, err := client.Do(context.Background(), core.NewRequest(http.MethodGet, "/"))
	require.Error(t, err)
	assert.True(t, core.IsNetworkError(err), "got %v", err)
}

func TestClient_Closed(t *testing.T) {
	client := newTestClient(t, "https://api.binance.com", time.Second)
	require.NoError(t, client.Close())
	require.NoError(t, client.Close())

	_, err := client.Do(context.Background(), core.NewRequest(http.MethodGet, "/"))
	assert.ErrorIs(t, err, core.ErrClientClosed)
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		check   func(error) bool
		passRaw bool
	}{
		{"nil", nil, func(err error) bool { return err == nil }, false},
		{"canceled passes through", context.Canceled, func(err error) bool { return errors.Is(err, context.Canceled) }, true},
		{"deadline", context.DeadlineExceeded, core.IsTimeoutError, false},
		{"other", errors.New("connection reset by peer"), core.IsNetworkError, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyError(tt.err)
			assert.True(t, tt.check(got))
			_, isExchange := core.AsExchangeError(got)
			assert.Equal(t, !tt.passRaw && tt.err != nil, isExchange)
		})
	}
}

func TestRetryAfter(t *testing.T) {
	tests := []struct {
		value string
		want  time.Duration
	}{
		{"", 0},
		{"30", 30 * time.Second},
		{"-1", 0},
		{"soon", 0},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			h := http.Header{}
			if tt.value != "" {
				h.Set("Retry-After", tt.value)
			}
			assert.Equal(t, tt.want, RetryAfter(h))
		})
	}
}

func TestParamsToStringMap(t *testing.T) {
	got := ParamsToStringMap(core.Params{
		"symbol":   "BTCUSDT",
		"limit":    100,
		"start":    int64(1700000000000),
		"price":    42000.5,
		"reduce":   true,
		"interval": time.Minute,
	})

	assert.Equal(t, map[string]string{
		"symbol":   "BTCUSDT",
		"limit":    "100",
		"start":    "1700000000000",
		"price":    "42000.5",
		"reduce":   "true",
		"interval": "1m0s",
	}, got)
}
