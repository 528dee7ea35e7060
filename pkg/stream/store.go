package stream

import (
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"tollgate/pkg/core"
)

const (
	defaultBookDepth  = 100
	defaultKlines     = 500
	defaultMaxCandles = 1000
)

type entry[T any] struct {
	value T
	at    time.Time
}

type seriesKey struct {
	symbol   string
	interval string
}

type series struct {
	candles []core.Kline
	at      time.Time
}

// Store holds the latest push data per symbol and serves it to the pull
// fallback while it is younger than the configured staleness of its class.
// It is safe for concurrent use by the feed writer and gateway readers.
type Store struct {
	staleness  core.StalenessConfig
	maxCandles int
	now        func() time.Time
	logger     zerolog.Logger

	connected atomic.Bool
	hits      atomic.Int64
	misses    atomic.Int64

	mu      sync.RWMutex
	prices  map[string]entry[core.Price]
	tickers map[string]entry[core.Ticker]
	books   map[string]entry[core.OrderBook]
	klines  map[seriesKey]*series
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithMaxCandles bounds the candles kept per symbol and interval.
func WithMaxCandles(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxCandles = n
		}
	}
}

func NewStore(staleness core.StalenessConfig, opts ...Option) *Store {
	s := &Store{
		staleness:  staleness,
		maxCandles: defaultMaxCandles,
		now:        time.Now,
		logger:     zerolog.Nop(),
		prices:     make(map[string]entry[core.Price]),
		tickers:    make(map[string]entry[core.Ticker]),
		books:      make(map[string]entry[core.OrderBook]),
		klines:     make(map[seriesKey]*series),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetConnected is called by the feed on connection changes. Losing the
// connection drops candle history, since candles missed while disconnected
// would leave gaps in the series.
func (s *Store) SetConnected(connected bool) {
	if s.connected.Swap(connected) == connected {
		return
	}
	if !connected {
		s.mu.Lock()
		clear(s.klines)
		s.mu.Unlock()
	}
	s.logger.Info().Bool("connected", connected).Msg("push feed state changed")
}

func (s *Store) Available() bool {
	return s.connected.Load()
}

func (s *Store) UpdatePrice(p core.Price) {
	sym := symbolKey(p.Symbol)
	s.mu.Lock()
	s.prices[sym] = entry[core.Price]{value: p, at: s.now()}
	s.mu.Unlock()
}

// UpdateTicker stores a 24h ticker and refreshes the symbol's last price.
func (s *Store) UpdateTicker(t core.Ticker) {
	sym := symbolKey(t.Symbol)
	now := s.now()
	s.mu.Lock()
	s.tickers[sym] = entry[core.Ticker]{value: t, at: now}
	s.prices[sym] = entry[core.Price]{
		value: core.Price{Symbol: t.Symbol, Price: t.Last, Timestamp: t.Timestamp},
		at:    now,
	}
	s.mu.Unlock()
}

func (s *Store) UpdateOrderBook(b core.OrderBook) {
	sym := symbolKey(b.Symbol)
	s.mu.Lock()
	s.books[sym] = entry[core.OrderBook]{value: b, at: s.now()}
	s.mu.Unlock()
}

// UpdateKline replaces the forming candle when OpenTime matches the newest
// one, appends otherwise, and ignores candles older than the newest.
func (s *Store) UpdateKline(k core.Kline) {
	key := seriesKey{symbol: symbolKey(k.Symbol), interval: k.Interval}

	s.mu.Lock()
	defer s.mu.Unlock()

	sr, ok := s.klines[key]
	if !ok {
		sr = &series{}
		s.klines[key] = sr
	}
	sr.at = s.now()

	n := len(sr.candles)
	switch {
	case n > 0 && sr.candles[n-1].OpenTime.Equal(k.OpenTime):
		sr.candles[n-1] = k
	case n > 0 && k.OpenTime.Before(sr.candles[n-1].OpenTime):
		return
	default:
		sr.candles = append(sr.candles, k)
		if over := len(sr.candles) - s.maxCandles; over > 0 {
			sr.candles = slices.Delete(sr.candles, 0, over)
		}
	}
}

// Lookup returns fresh push data for op, or false when the feed is down, the
// op is not served by push, or what is held is too old or too short.
func (s *Store) Lookup(op core.Operation, params core.Params) (any, bool) {
	v, ok := s.lookup(op, params)
	if ok {
		s.hits.Add(1)
	} else {
		s.misses.Add(1)
	}
	return v, ok
}

func (s *Store) lookup(op core.Operation, params core.Params) (any, bool) {
	if !s.Available() {
		return nil, false
	}
	bound := s.staleness.For(classOf(op))
	if bound <= 0 {
		return nil, false
	}
	sym := symbolKey(params.String("symbol"))
	if sym == "" {
		return nil, false
	}
	now := s.now()

	s.mu.RLock()
	defer s.mu.RUnlock()

	switch op {
	case core.OpGetPrice:
		e, ok := s.prices[sym]
		if !ok || now.Sub(e.at) > bound {
			return nil, false
		}
		p := e.value
		return &p, true

	case core.OpGet24hTicker:
		e, ok := s.tickers[sym]
		if !ok || now.Sub(e.at) > bound {
			return nil, false
		}
		t := e.value
		return &t, true

	case core.OpGetOrderBook:
		e, ok := s.books[sym]
		if !ok || now.Sub(e.at) > bound {
			return nil, false
		}
		depth := params.Int("limit", defaultBookDepth)
		if len(e.value.Bids) < depth || len(e.value.Asks) < depth {
			return nil, false
		}
		b := e.value
		b.Bids = slices.Clone(b.Bids[:depth])
		b.Asks = slices.Clone(b.Asks[:depth])
		return &b, true

	case core.OpGetKlines:
		if _, ok := params["start_time"]; ok {
			return nil, false
		}
		if _, ok := params["end_time"]; ok {
			return nil, false
		}
		sr, ok := s.klines[seriesKey{symbol: sym, interval: params.String("interval")}]
		if !ok || now.Sub(sr.at) > bound {
			return nil, false
		}
		n := params.Int("limit", defaultKlines)
		if n <= 0 || len(sr.candles) < n {
			return nil, false
		}
		return slices.Clone(sr.candles[len(sr.candles)-n:]), true
	}
	return nil, false
}

// Stats reports what the store holds and how often it served a lookup.
type Stats struct {
	Connected bool  `json:"connected"`
	Prices    int   `json:"prices"`
	Tickers   int   `json:"tickers"`
	Books     int   `json:"books"`
	Series    int   `json:"series"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
}

func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		Connected: s.connected.Load(),
		Prices:    len(s.prices),
		Tickers:   len(s.tickers),
		Books:     len(s.books),
		Series:    len(s.klines),
		Hits:      s.hits.Load(),
		Misses:    s.misses.Load(),
	}
}

func classOf(op core.Operation) core.DataClass {
	switch op {
	case core.OpGetPrice:
		return core.DataClassPrice
	case core.OpGetKlines:
		return core.DataClassCandles
	case core.OpGet24hTicker:
		return core.DataClassTicker
	case core.OpGetOrderBook:
		return core.DataClassDepth
	default:
		return core.DataClassSystem
	}
}

func symbolKey(symbol string) string {
	return strings.ToUpper(strings.ReplaceAll(symbol, "/", ""))
}
