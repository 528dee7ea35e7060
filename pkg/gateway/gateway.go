// Package gateway is the single entry point a trading process uses to reach
// the exchange. Every call is priced against the quota windows, reads are
// coalesced and cached, pushable reads come from the websocket feed while it
// is fresh, and an emergency flag narrows traffic to critical calls.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"tollgate/internal/coalesce"
	"tollgate/internal/emergency"
	"tollgate/internal/fallback"
	httpclient "tollgate/internal/http"
	"tollgate/internal/keyring"
	"tollgate/internal/ratelimit"
	"tollgate/internal/transport"
	"tollgate/pkg/core"
	"tollgate/pkg/exchange/binance"
	"tollgate/pkg/stream"
)

type (
	WindowStatus   = ratelimit.WindowStatus
	DangerEvent    = ratelimit.DangerEvent
	TransportState = fallback.TransportState
	EmergencyState = emergency.State
	CacheStats     = coalesce.Stats
	PushStats      = stream.Stats
)

// invalidatedByWrites are the cache key prefixes an order write makes stale.
var invalidatedByWrites = []string{
	core.OpGetAccountInfo.String(),
	core.OpGetOpenOrders.String(),
	core.OpGetTradeHistory.String(),
}

// Gateway is safe for concurrent use. Each Gateway owns its windows, cache
// and emergency control, so several can serve different accounts in one
// process.
type Gateway struct {
	config    *core.Config
	registry  *core.Registry
	tracker   *ratelimit.Tracker
	cache     *coalesce.Coalescer
	orch      *fallback.Orchestrator
	client    *httpclient.Client
	store     *stream.Store
	feed      *binance.Feed
	emergency emergency.Control
	logger    zerolog.Logger
	now       func() time.Time

	// raised is set once this gateway raised emergency mode on danger and
	// cleared when it sees the flag down again.
	raised      atomic.Bool
	closed      atomic.Bool
	unsubscribe func()
	startOnce   sync.Once
	stopCh      chan struct{}
	// bgMu orders background goroutine starts against Close so that no
	// wg.Go runs concurrently with or after wg.Wait.
	bgMu sync.Mutex
	wg   sync.WaitGroup
}

type options struct {
	logger    zerolog.Logger
	now       func() time.Time
	emergency emergency.Control
	registry  *core.Registry
	sleep     func(ctx context.Context, d time.Duration) error
}

type Option func(*options)

func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithEmergency replaces the control built from Config.Emergency.
func WithEmergency(c emergency.Control) Option {
	return func(o *options) { o.emergency = c }
}

// WithRegistry replaces the default Binance endpoint weights.
func WithRegistry(r *core.Registry) Option {
	return func(o *options) { o.registry = r }
}

// WithSleep replaces the retry backoff wait.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(o *options) { o.sleep = fn }
}

// New assembles a gateway from config. A nil config means
// core.DefaultConfig("binance"). Nothing touches the network until Start or
// the first call.
func New(config *core.Config, opts ...Option) (*Gateway, error) {
	if config == nil {
		config = core.DefaultConfig("binance")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if !strings.EqualFold(config.Exchange, "binance") {
		return nil, fmt.Errorf("unsupported exchange %q", config.Exchange)
	}

	o := options{logger: zerolog.Nop(), now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger.With().Str("component", "gateway").Logger()

	registry := o.registry
	if registry == nil {
		registry = core.DefaultRegistry()
	}

	tracker, err := ratelimit.NewTracker(config.Windows,
		ratelimit.WithThresholds(min(ratelimit.DefaultWarningThreshold, config.DangerThreshold), config.DangerThreshold),
		ratelimit.WithClock(o.now),
		ratelimit.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("create tracker: %w", err)
	}

	protocol := binance.NewProtocol()
	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = protocol.BaseURL(config.Sandbox)
	}
	client, err := httpclient.NewClient(&httpclient.Config{
		BaseURL: baseURL,
		Timeout: config.Timeout,
		Logger:  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create http client: %w", err)
	}

	keys := keyring.New(config.Keys, keyring.WithLogger(logger), keyring.WithClock(o.now))
	puller := transport.NewPuller(protocol, client,
		transport.WithKeyRing(keys),
		transport.WithTimeSync(config.TimeSync.RecvWindow, config.TimeSync.SafetyMargin),
		transport.WithClock(o.now),
		transport.WithLogger(logger))

	control := o.emergency
	if control == nil {
		control, err = emergency.New(config.Emergency, logger)
		if err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("create emergency control: %w", err)
		}
	}

	g := &Gateway{
		config:    config,
		registry:  registry,
		tracker:   tracker,
		cache:     coalesce.New(coalesce.WithClock(o.now), coalesce.WithLogger(logger)),
		client:    client,
		emergency: control,
		logger:    logger,
		now:       o.now,
		stopCh:    make(chan struct{}),
	}

	orchOpts := []fallback.Option{
		fallback.WithHysteresis(config.TimeSync.Hysteresis),
		fallback.OnThrottle(g.onThrottle),
		fallback.WithClock(o.now),
		fallback.WithLogger(logger),
	}
	if o.sleep != nil {
		orchOpts = append(orchOpts, fallback.WithSleep(o.sleep))
	}
	if config.Pacer.Enabled {
		orchOpts = append(orchOpts, fallback.WithPacer(ratelimit.NewPacer(config.Pacer.RequestsPerSecond, config.Pacer.Burst)))
	}
	if config.Push.Enabled {
		g.store = stream.NewStore(config.Push.Staleness, stream.WithClock(o.now), stream.WithLogger(logger))
		streamURL := config.StreamURL
		if streamURL == "" && config.Sandbox {
			streamURL = binance.SandboxStreamURL
		}
		g.feed = binance.NewFeed(binance.FeedConfig{
			URL:       streamURL,
			Symbols:   config.Push.Symbols,
			Intervals: config.Push.Intervals,
		}, g.store, logger)
		orchOpts = append(orchOpts, fallback.WithPushSource(g.store))
	}
	g.orch = fallback.New(registry, tracker, puller, config.Retry, orchOpts...)

	if config.Emergency.ActivateOnDanger {
		g.unsubscribe = tracker.Subscribe(g.onDanger)
	}
	return g, nil
}

// Start syncs the clock, connects the push feed and starts the background
// sweep. Failures of the first two are logged: pull keeps working without
// either. Start is idempotent.
func (g *Gateway) Start(ctx context.Context) error {
	if g.closed.Load() {
		return core.ErrGatewayClosed
	}

	g.startOnce.Do(func() {
		if g.config.TimeSync.SyncOnStart {
			if err := g.orch.Resync(ctx); err != nil {
				g.logger.Warn().Err(err).Msg("initial clock sync failed")
			}
		}
		if g.feed != nil {
			if err := g.feed.Connect(ctx); err != nil {
				g.logger.Warn().Err(err).Msg("push feed unavailable, serving from pull")
			}
		}
		if g.config.SweepInterval > 0 {
			g.background(g.sweep)
		}
		g.logger.Info().
			Bool("push", g.feed != nil).
			Int("windows", len(g.config.Windows)).
			Msg("gateway started")
	})
	return nil
}

func (g *Gateway) sweep() {
	ticker := time.NewTicker(g.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-g.stopCh:
			return
		case <-ticker.C:
			n := g.cache.Sweep()
			g.tracker.Sweep()
			if n > 0 {
				g.logger.Debug().Int("purged", n).Msg("cache swept")
			}
		}
	}
}

// Close stops background work and releases connections. Calls made after
// Close fail with core.ErrGatewayClosed.
func (g *Gateway) Close() error {
	g.bgMu.Lock()
	first := g.closed.CompareAndSwap(false, true)
	g.bgMu.Unlock()
	if !first {
		return nil
	}
	close(g.stopCh)
	if g.unsubscribe != nil {
		g.unsubscribe()
	}

	var errs []error
	if g.feed != nil {
		if err := g.feed.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close feed: %w", err))
		}
	}
	g.wg.Wait()

	if err := g.client.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close http client: %w", err))
	}
	if c, ok := g.emergency.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close emergency control: %w", err))
		}
	}
	return errors.Join(errs...)
}

// read runs the read pipeline for op: cache, then push, then quota-gated
// pull. While emergency mode is active non-critical reads never pull.
func (g *Gateway) read(ctx context.Context, op core.Operation, params core.Params) (any, error) {
	if g.closed.Load() {
		return nil, core.ErrGatewayClosed
	}
	profile, err := g.registry.CostOf(op)
	if err != nil {
		return nil, err
	}

	key := core.CacheKey(op, params)
	ttl := g.config.Cache.TTLFor(profile.DataClass)

	if !profile.Critical {
		if state, active := g.emergencyState(ctx); active {
			return g.cache.Execute(ctx, key, ttl, func(context.Context) (any, error) {
				v, err := g.orch.ResolvePushOnly(op, params)
				if errors.Is(err, core.ErrNoPushData) {
					return nil, core.NewEmergencyError(op, state.Reason)
				}
				return v, err
			})
		}
	}

	return g.cache.Execute(ctx, key, ttl, func(ctx context.Context) (any, error) {
		return g.orch.Resolve(ctx, op, params)
	})
}

// write dispatches op once and drops cached account state on success.
func (g *Gateway) write(ctx context.Context, op core.Operation, params core.Params) (any, error) {
	if g.closed.Load() {
		return nil, core.ErrGatewayClosed
	}

	v, err := g.orch.Dispatch(ctx, op, params)
	if err != nil {
		return nil, err
	}
	for _, prefix := range invalidatedByWrites {
		g.cache.InvalidatePrefix(prefix)
	}
	return v, nil
}

// emergencyState reports whether emergency mode is active. A control that
// cannot be read counts as inactive.
func (g *Gateway) emergencyState(ctx context.Context) (emergency.State, bool) {
	s, err := g.emergency.Status(ctx)
	if err != nil {
		g.logger.Warn().Err(err).Msg("emergency status unavailable, assuming inactive")
		return emergency.State{}, false
	}
	if !s.Enabled {
		g.raised.Store(false)
		return s, false
	}
	return s, true
}

func (g *Gateway) onDanger(ev ratelimit.DangerEvent) {
	if g.closed.Load() || len(ev.Windows) == 0 || !g.raised.CompareAndSwap(false, true) {
		return
	}
	w := ev.Windows[0]
	reason := fmt.Sprintf("quota danger: %s at %.1f%%", w.Name, w.Percentage)
	started := g.background(func() {
		g.activate(reason, g.config.Emergency.AutoReset)
	})
	if !started {
		g.raised.Store(false)
	}
}

// background runs fn on the gateway's wait group unless Close has begun.
func (g *Gateway) background(fn func()) bool {
	g.bgMu.Lock()
	defer g.bgMu.Unlock()

	if g.closed.Load() {
		return false
	}
	g.wg.Go(fn)
	return true
}

func (g *Gateway) onThrottle(e *core.ExchangeError) {
	d := e.RetryAfter
	if d <= 0 {
		d = g.config.Emergency.AutoReset
	}
	reason := fmt.Sprintf("exchange responded %d (%s)", e.StatusCode, e.Type)
	g.activate(reason, d)
}

func (g *Gateway) activate(reason string, d time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := g.emergency.Activate(ctx, reason, d); err != nil {
		g.logger.Error().Err(err).Str("reason", reason).Msg("failed to activate emergency mode")
		return
	}
	g.logger.Warn().Str("reason", reason).Dur("duration", d).Msg("emergency mode active")
}

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(symbol), "/", ""))
}

func as[T any](v any, err error) (T, error) {
	var zero T
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("unexpected response type: %T", v)
	}
	return t, nil
}
