package binance

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/lxzan/gws"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tollgate/pkg/core"
)

type recordingSink struct {
	mu        sync.Mutex
	connected []bool
	tickers   []core.Ticker
	books     []core.OrderBook
	klines    []core.Kline
}

func (s *recordingSink) SetConnected(c bool) {
	s.mu.Lock()
	s.connected = append(s.connected, c)
	s.mu.Unlock()
}

func (s *recordingSink) UpdateTicker(t core.Ticker) {
	s.mu.Lock()
	s.tickers = append(s.tickers, t)
	s.mu.Unlock()
}

func (s *recordingSink) UpdateOrderBook(b core.OrderBook) {
	s.mu.Lock()
	s.books = append(s.books, b)
	s.mu.Unlock()
}

func (s *recordingSink) UpdateKline(k core.Kline) {
	s.mu.Lock()
	s.klines = append(s.klines, k)
	s.mu.Unlock()
}

func (s *recordingSink) Tickers() []core.Ticker {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.Ticker(nil), s.tickers...)
}

func (s *recordingSink) Connected() []bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]bool(nil), s.connected...)
}

const tickerFrame = `{"stream":"btcusdt@ticker","data":{"e":"24hrTicker","E":1700000000123,"s":"BTCUSDT",` +
	`"p":"100.00","P":"0.24","w":"42010.5","x":"41900.00","c":"42000.10","Q":"0.01","b":"42000.00","B":"1.5",` +
	`"a":"42000.20","A":"2.0","o":"41900.10","h":"42500.00","l":"41500.00","v":"1234.5","q":"51840000.0",` +
	`"O":1699913600000,"C":1700000000000,"F":1,"L":900,"n":900}}`

const depthFrame = `{"stream":"ethusdt@depth20@100ms","data":{"lastUpdateId":160,` +
	`"bids":[["2500.10","3.5"],["2500.00","1"]],"asks":[["2500.20","0.7"]]}}`

const klineFrame = `{"stream":"btcusdt@kline_1m","data":{"e":"kline","E":1700000000123,"s":"BTCUSDT",` +
	`"k":{"t":1699999980000,"T":1700000039999,"s":"BTCUSDT","i":"1m","f":100,"L":200,"o":"41990.00",` +
	`"c":"42000.10","h":"42010.00","l":"41980.00","v":"12.5","n":100,"x":true,"q":"525000.0","V":"6.0",` +
	`"Q":"252000.0","B":"0"}}}`

func TestFeed_HandleMessage(t *testing.T) {
	sink := &recordingSink{}
	f := NewFeed(FeedConfig{}, sink, zerolog.Nop())

	require.NoError(t, f.handleMessage([]byte(tickerFrame)))
	require.Len(t, sink.tickers, 1)
	ticker := sink.tickers[0]
	assert.Equal(t, "BTCUSDT", ticker.Symbol)
	assert.Equal(t, "42000.10", ticker.Last.String())
	assert.Equal(t, "42000.00", ticker.Bid.String())
	assert.Equal(t, "41500.00", ticker.Low.String())
	assert.Equal(t, "0.24", ticker.PriceChangePercent.String())
	assert.Equal(t, int64(900), ticker.NumTrades)
	assert.Equal(t, time.UnixMilli(1700000000123), ticker.Timestamp)

	require.NoError(t, f.handleMessage([]byte(depthFrame)))
	require.Len(t, sink.books, 1)
	book := sink.books[0]
	assert.Equal(t, "ETHUSDT", book.Symbol)
	assert.Equal(t, int64(160), book.LastUpdateID)
	assert.Len(t, book.Bids, 2)
	assert.Equal(t, "2500.20", book.Asks[0].Price.String())

	require.NoError(t, f.handleMessage([]byte(klineFrame)))
	require.Len(t, sink.klines, 1)
	kline := sink.klines[0]
	assert.Equal(t, "1m", kline.Interval)
	assert.Equal(t, "41980.00", kline.Low.String())
	assert.Equal(t, "12.5", kline.Volume.String())
	assert.True(t, kline.Closed)
	assert.Equal(t, time.UnixMilli(1699999980000), kline.OpenTime)
}

func TestFeed_HandleControlFrames(t *testing.T) {
	sink := &recordingSink{}
	f := NewFeed(FeedConfig{}, sink, zerolog.Nop())

	assert.NoError(t, f.handleMessage([]byte(`{"result":null,"id":1}`)))
	assert.NoError(t, f.handleMessage([]byte(`{"stream":"btcusdt@aggTrade","data":{}}`)))

	err := f.handleMessage([]byte(`{"error":{"code":2,"msg":"Invalid request"},"id":3}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid request")

	assert.Error(t, f.handleMessage([]byte(`not json`)))
	assert.Error(t, f.handleMessage([]byte(`{"stream":"btcusdt@ticker","data":"oops"}`)))
	assert.Empty(t, sink.tickers)
}

func TestFeed_Streams(t *testing.T) {
	f := NewFeed(FeedConfig{
		Symbols:   []string{"BTC/USDT", "ethusdt"},
		Intervals: []string{"1m", "1h"},
		BookDepth: 10,
	}, &recordingSink{}, zerolog.Nop())

	assert.Equal(t, []string{
		"btcusdt@depth10@100ms",
		"btcusdt@kline_1h",
		"btcusdt@kline_1m",
		"btcusdt@ticker",
		"ethusdt@depth10@100ms",
		"ethusdt@kline_1h",
		"ethusdt@kline_1m",
		"ethusdt@ticker",
	}, f.Streams())

	require.NoError(t, f.Subscribe("SOL/USDT"))
	assert.Contains(t, f.Streams(), "solusdt@ticker")
	require.NoError(t, f.Unsubscribe("BTC/USDT"))
	assert.NotContains(t, f.Streams(), "btcusdt@ticker")
}

type streamServer struct {
	gws.BuiltinEventHandler
	mu       sync.Mutex
	requests []wsRequest
}

func (s *streamServer) OnMessage(socket *gws.Conn, message *gws.Message) {
	defer message.Close()
	var req wsRequest
	if err := sonic.Unmarshal(message.Bytes(), &req); err != nil {
		return
	}
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()

	_ = socket.WriteMessage(gws.OpcodeText, []byte(`{"result":null,"id":1}`))
	_ = socket.WriteMessage(gws.OpcodeText, []byte(tickerFrame))
}

func (s *streamServer) Requests() []wsRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]wsRequest(nil), s.requests...)
}

func TestFeed_SubscribesOnConnect(t *testing.T) {
	handler := &streamServer{}
	upgrader := gws.NewUpgrader(handler, &gws.ServerOption{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		socket, err := upgrader.Upgrade(w, r)
		if err != nil {
			return
		}
		go socket.ReadLoop()
	}))
	defer server.Close()

	sink := &recordingSink{}
	f := NewFeed(FeedConfig{
		URL:     "ws" + strings.TrimPrefix(server.URL, "http"),
		Symbols: []string{"BTC/USDT"},
	}, sink, zerolog.Nop())

	require.NoError(t, f.Connect(context.Background()))
	assert.True(t, f.IsConnected())

	assert.Eventually(t, func() bool { return len(sink.Tickers()) == 1 }, 2*time.Second, 10*time.Millisecond)

	reqs := handler.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "SUBSCRIBE", reqs[0].Method)
	assert.Equal(t, []string{"btcusdt@depth20@100ms", "btcusdt@ticker"}, reqs[0].Params)

	require.NoError(t, f.Close())
	assert.Equal(t, []bool{true, false}, sink.Connected())
}
