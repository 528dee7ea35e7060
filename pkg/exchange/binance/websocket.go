package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cockroachdb/apd/v3"
	"github.com/rs/zerolog"

	"tollgate/internal/ws"
	"tollgate/pkg/core"
)

const (
	StreamURL        = "wss://stream.binance.com:9443/stream"
	SandboxStreamURL = "wss://stream.testnet.binance.vision/stream"
)

// Sink receives normalized push updates and connection changes.
type Sink interface {
	SetConnected(connected bool)
	UpdateTicker(t core.Ticker)
	UpdateOrderBook(b core.OrderBook)
	UpdateKline(k core.Kline)
}

type FeedConfig struct {
	URL       string
	Symbols   []string
	Intervals []string
	// BookDepth is the partial book depth subscribed per symbol: 5, 10 or 20.
	BookDepth int
}

// Feed subscribes to Binance combined market streams and writes every update
// into a Sink. Subscriptions are replayed after each reconnect.
type Feed struct {
	client    *ws.Client
	sink      Sink
	depth     int
	logger    zerolog.Logger
	requestID atomic.Int64

	mu      sync.RWMutex
	symbols map[string][]string
}

// NewFeed builds a feed for the configured symbols. URL defaults to StreamURL.
func NewFeed(config FeedConfig, sink Sink, logger zerolog.Logger) *Feed {
	if config.URL == "" {
		config.URL = StreamURL
	}
	if config.BookDepth == 0 {
		config.BookDepth = 20
	}

	f := &Feed{
		sink:    sink,
		depth:   config.BookDepth,
		logger:  logger,
		symbols: make(map[string][]string),
	}
	for _, symbol := range config.Symbols {
		f.symbols[streamSymbol(symbol)] = slices.Clone(config.Intervals)
	}

	f.client = ws.NewClient(ws.Config{
		URL:               config.URL,
		ReconnectEnabled:  true,
		ReconnectBaseWait: 1 * time.Second,
		ReconnectMaxWait:  30 * time.Second,
		PingInterval:      3 * time.Minute,
	}, f.route)
	f.client.SetLogger(logger)
	f.client.OnStateChange(f.stateChanged)
	return f
}

func (f *Feed) Connect(ctx context.Context) error {
	if err := f.client.Connect(ctx); err != nil {
		return fmt.Errorf("connect feed: %w", err)
	}
	return nil
}

func (f *Feed) Close() error {
	return f.client.Close()
}

func (f *Feed) IsConnected() bool {
	return f.client.IsConnected()
}

// Subscribe adds a symbol with its kline intervals.
func (f *Feed) Subscribe(symbol string, intervals ...string) error {
	sym := streamSymbol(symbol)

	f.mu.Lock()
	f.symbols[sym] = slices.Clone(intervals)
	f.mu.Unlock()

	if !f.client.IsConnected() {
		return nil
	}
	return f.send("SUBSCRIBE", f.streamsFor(sym, intervals))
}

func (f *Feed) Unsubscribe(symbol string) error {
	sym := streamSymbol(symbol)

	f.mu.Lock()
	intervals, ok := f.symbols[sym]
	delete(f.symbols, sym)
	f.mu.Unlock()

	if !ok || !f.client.IsConnected() {
		return nil
	}
	return f.send("UNSUBSCRIBE", f.streamsFor(sym, intervals))
}

// Streams lists every stream name the feed subscribes to, sorted.
func (f *Feed) Streams() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	var streams []string
	for sym, intervals := range f.symbols {
		streams = append(streams, f.streamsFor(sym, intervals)...)
	}
	slices.Sort(streams)
	return streams
}

func (f *Feed) streamsFor(sym string, intervals []string) []string {
	streams := []string{
		sym + "@ticker",
		fmt.Sprintf("%s@depth%d@100ms", sym, f.depth),
	}
	for _, iv := range intervals {
		streams = append(streams, sym+"@kline_"+iv)
	}
	return streams
}

func (f *Feed) stateChanged(state ws.ConnState) {
	switch state {
	case ws.StateConnected:
		f.sink.SetConnected(true)
		if streams := f.Streams(); len(streams) > 0 {
			if err := f.send("SUBSCRIBE", streams); err != nil {
				f.logger.Error().Err(err).Strs("streams", streams).Msg("failed to send subscribe")
			}
		}
	default:
		f.sink.SetConnected(false)
	}
}

func (f *Feed) send(method string, streams []string) error {
	req := wsRequest{
		Method: method,
		Params: streams,
		ID:     f.requestID.Add(1),
	}
	if err := f.client.SendJSON(req); err != nil {
		return fmt.Errorf("%s: %w", strings.ToLower(method), err)
	}
	f.logger.Debug().Str("method", method).Strs("streams", streams).Msg("sent stream request")
	return nil
}

func (f *Feed) route(data []byte) {
	if err := f.handleMessage(data); err != nil {
		f.logger.Warn().Err(err).Msg("dropping push message")
	}
}

func (f *Feed) handleMessage(data []byte) error {
	var env wsEnvelope
	if err := sonic.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("parse envelope: %w", err)
	}
	if env.Stream == "" {
		if env.Error != nil {
			return fmt.Errorf("stream request %d failed: %d %s", env.ID, env.Error.Code, env.Error.Msg)
		}
		return nil
	}

	sym, kind, _ := strings.Cut(env.Stream, "@")
	switch {
	case kind == "ticker":
		return f.handleTicker(env.Data)
	case strings.HasPrefix(kind, "depth"):
		return f.handleDepth(strings.ToUpper(sym), env.Data)
	case strings.HasPrefix(kind, "kline_"):
		return f.handleKline(env.Data)
	default:
		f.logger.Debug().Str("stream", env.Stream).Msg("unhandled stream")
		return nil
	}
}

func (f *Feed) handleTicker(data []byte) error {
	var msg wsTickerMessage
	if err := sonic.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("parse ticker: %w", err)
	}
	f.sink.UpdateTicker(core.Ticker{
		Symbol:             msg.Symbol,
		Bid:                msg.BidPrice,
		Ask:                msg.AskPrice,
		Last:               msg.LastPrice,
		Open:               msg.OpenPrice,
		High:               msg.HighPrice,
		Low:                msg.LowPrice,
		PriceChange:        msg.PriceChange,
		PriceChangePercent: msg.PriceChangePercent,
		WeightedAvgPrice:   msg.WeightedAvgPrice,
		Volume:             msg.Volume,
		QuoteVolume:        msg.QuoteVolume,
		NumTrades:          msg.NumTrades,
		Timestamp:          time.UnixMilli(msg.EventTime),
	})
	return nil
}

// Partial book payloads carry no symbol; it comes from the stream name.
func (f *Feed) handleDepth(symbol string, data []byte) error {
	var msg binanceOrderBook
	if err := sonic.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("parse depth: %w", err)
	}
	book, err := NewNormalizer().NormalizeOrderBook(&msg, symbol)
	if err != nil {
		return fmt.Errorf("normalize depth: %w", err)
	}
	f.sink.UpdateOrderBook(*book)
	return nil
}

func (f *Feed) handleKline(data []byte) error {
	var msg wsKlineMessage
	if err := sonic.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("parse kline: %w", err)
	}
	k := msg.Kline
	f.sink.UpdateKline(core.Kline{
		Symbol:      msg.Symbol,
		Interval:    k.Interval,
		OpenTime:    time.UnixMilli(k.StartTime),
		CloseTime:   time.UnixMilli(k.EndTime),
		Open:        k.Open,
		High:        k.High,
		Low:         k.Low,
		Close:       k.Close,
		Volume:      k.Volume,
		QuoteVolume: k.QuoteVolume,
		NumTrades:   k.NumTrades,
		Closed:      k.Closed,
	})
	return nil
}

func streamSymbol(symbol string) string {
	return strings.ToLower(formatSymbol(symbol))
}

type wsRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

type wsEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
	ID     int64           `json:"id"`
	Error  *struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	} `json:"error"`
}

// Binance reuses letters in both cases for different fields. Every key whose
// other-case twin is decoded is declared so the decoder's case-insensitive
// fallback never writes one into the other.
type wsTickerMessage struct {
	Event              string      `json:"e"`
	EventTime          int64       `json:"E"`
	Symbol             string      `json:"s"`
	PriceChange        apd.Decimal `json:"p"`
	PriceChangePercent apd.Decimal `json:"P"`
	WeightedAvgPrice   apd.Decimal `json:"w"`
	LastPrice          apd.Decimal `json:"c"`
	LastQty            apd.Decimal `json:"Q"`
	BidPrice           apd.Decimal `json:"b"`
	BidQty             apd.Decimal `json:"B"`
	AskPrice           apd.Decimal `json:"a"`
	AskQty             apd.Decimal `json:"A"`
	OpenPrice          apd.Decimal `json:"o"`
	HighPrice          apd.Decimal `json:"h"`
	LowPrice           apd.Decimal `json:"l"`
	Volume             apd.Decimal `json:"v"`
	QuoteVolume        apd.Decimal `json:"q"`
	OpenTime           int64       `json:"O"`
	CloseTime          int64       `json:"C"`
	LastTradeID        int64       `json:"L"`
	NumTrades          int64       `json:"n"`
}

type wsKlineMessage struct {
	Event     string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	Kline     struct {
		StartTime        int64       `json:"t"`
		EndTime          int64       `json:"T"`
		Interval         string      `json:"i"`
		LastTradeID      int64       `json:"L"`
		Open             apd.Decimal `json:"o"`
		Close            apd.Decimal `json:"c"`
		High             apd.Decimal `json:"h"`
		Low              apd.Decimal `json:"l"`
		Volume           apd.Decimal `json:"v"`
		TakerBuyVolume   apd.Decimal `json:"V"`
		QuoteVolume      apd.Decimal `json:"q"`
		TakerBuyQuoteVol apd.Decimal `json:"Q"`
		NumTrades        int64       `json:"n"`
		Closed           bool        `json:"x"`
	} `json:"k"`
}
