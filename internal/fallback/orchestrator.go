// Package fallback resolves a logical call by trying the push feed first and
// then the quota-gated pull transport, retrying transient failures and
// recovering from clock skew.
package fallback

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"tollgate/internal/circuitbreaker"
	"tollgate/internal/ratelimit"
	"tollgate/internal/transport"
	"tollgate/pkg/core"
)

// Puller performs one REST attempt.
type Puller interface {
	Pull(ctx context.Context, call transport.Call) (transport.Result, error)
}

// Orchestrator is safe for concurrent use.
type Orchestrator struct {
	registry *core.Registry
	tracker  *ratelimit.Tracker
	puller   Puller
	push     transport.PushSource
	pacer    *ratelimit.Pacer
	breaker  *circuitbreaker.Breaker
	retry    core.RetryConfig

	hysteresis  time.Duration
	clockOffset atomic.Int64
	syncMu      sync.Mutex
	lastSync    atomic.Int64

	pushHits   atomic.Int64
	pushMisses atomic.Int64

	onThrottle func(*core.ExchangeError)
	sleep      func(ctx context.Context, d time.Duration) error
	now        func() time.Time
	logger     zerolog.Logger
}

type Option func(*Orchestrator)

// WithPushSource enables the push-first path for pushable reads.
func WithPushSource(src transport.PushSource) Option {
	return func(o *Orchestrator) {
		o.push = src
	}
}

func WithPacer(p *ratelimit.Pacer) Option {
	return func(o *Orchestrator) {
		o.pacer = p
	}
}

// WithHysteresis sets the smallest clock offset change a clock sync applies.
func WithHysteresis(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.hysteresis = d
	}
}

// OnThrottle registers fn to run when the exchange answers with a ban (418)
// or a rate limit rejection (429, -1003).
func OnThrottle(fn func(*core.ExchangeError)) Option {
	return func(o *Orchestrator) {
		o.onThrottle = fn
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// WithSleep replaces the backoff wait.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(o *Orchestrator) {
		o.sleep = fn
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

func New(registry *core.Registry, tracker *ratelimit.Tracker, puller Puller, retry core.RetryConfig, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		registry:   registry,
		tracker:    tracker,
		puller:     puller,
		retry:      retry,
		hysteresis: 500 * time.Millisecond,
		sleep:      sleepCtx,
		now:        time.Now,
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.retry.MaxAttempts = max(o.retry.MaxAttempts, 1)

	logger := o.logger
	o.breaker = circuitbreaker.New(circuitbreaker.Config{
		FailThreshold:    retry.TripThreshold,
		SuccessThreshold: retry.SuccessThreshold,
		Timeout:          retry.BreakerTimeout,
	}, circuitbreaker.WithClock(o.now), circuitbreaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Warn().
			Str("from", from.String()).
			Str("to", to.String()).
			Msg("pull breaker state changed")
	}))
	return o
}

// Resolve serves a read: push when fresh data is there, pull otherwise.
func (o *Orchestrator) Resolve(ctx context.Context, op core.Operation, params core.Params) (any, error) {
	profile, err := o.registry.CostOf(op)
	if err != nil {
		return nil, err
	}

	if v, ok := o.tryPush(op, params); ok {
		return v, nil
	}
	return o.pull(ctx, profile, params)
}

// ResolvePushOnly serves a read from the push feed and never touches the
// network. It returns core.ErrNoPushData when the feed has nothing fresh.
func (o *Orchestrator) ResolvePushOnly(op core.Operation, params core.Params) (any, error) {
	if _, err := o.registry.CostOf(op); err != nil {
		return nil, err
	}
	if v, ok := o.tryPush(op, params); ok {
		return v, nil
	}
	return nil, core.ErrNoPushData
}

func (o *Orchestrator) tryPush(op core.Operation, params core.Params) (any, bool) {
	if o.push == nil || !transport.Pushable(op) {
		return nil, false
	}
	if !o.push.Available() {
		o.pushMisses.Add(1)
		return nil, false
	}
	v, ok := o.push.Lookup(op, params)
	if !ok {
		o.pushMisses.Add(1)
		return nil, false
	}
	o.pushHits.Add(1)
	return v, true
}

func (o *Orchestrator) pull(ctx context.Context, profile core.EndpointProfile, params core.Params) (any, error) {
	var last error
	attempt := 0
	for attempt < o.retry.MaxAttempts {
		attempt++

		if !o.breaker.Allow() {
			cause := last
			if cause == nil {
				cause = core.ErrCircuitBreakerOpen
			}
			return nil, core.NewTransportExhaustedError(attempt-1, cause).
				WithRetryAfter(o.breaker.RetryIn())
		}

		res, err := o.attempt(ctx, profile, params)
		if err == nil {
			o.breaker.Record(true)
			return res.Value, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		last = err

		log := o.logger.With().
			Str("op", profile.Operation.String()).
			Int("attempt", attempt).
			Logger()

		switch {
		case core.IsQuotaExceeded(err):
			return nil, err

		case core.IsClockSkew(err):
			o.breaker.Record(true)
			if attempt >= o.retry.MaxAttempts {
				break
			}
			log.Warn().Err(err).Msg("clock skew rejected, resyncing")
			if syncErr := o.Resync(ctx); syncErr != nil {
				log.Warn().Err(syncErr).Msg("clock resync failed")
			}
			if err := o.sleep(ctx, o.retry.SkewBackoff*time.Duration(attempt)); err != nil {
				return nil, err
			}

		case core.IsRetryable(err):
			o.breaker.Record(false)
			if attempt >= o.retry.MaxAttempts || o.breaker.State() == circuitbreaker.StateOpen {
				attempt = o.retry.MaxAttempts
				break
			}
			wait := max(o.backoff(attempt), core.RetryAfterOf(err))
			log.Warn().Err(err).Dur("backoff", wait).Msg("pull failed, retrying")
			if err := o.sleep(ctx, wait); err != nil {
				return nil, err
			}

		default:
			if res.StatusCode > 0 {
				o.breaker.Record(true)
			}
			o.throttled(err)
			return nil, err
		}
	}

	o.logger.Error().
		Err(last).
		Str("op", profile.Operation.String()).
		Int("attempts", attempt).
		Msg("pull transport exhausted")
	return nil, core.NewTransportExhaustedError(attempt, last)
}

// Dispatch sends a write exactly once. It never serves from push and never
// retries: a timeout or transport failure after the request left becomes an
// AmbiguousOrder error, because the exchange may have executed it.
func (o *Orchestrator) Dispatch(ctx context.Context, op core.Operation, params core.Params) (any, error) {
	profile, err := o.registry.CostOf(op)
	if err != nil {
		return nil, err
	}

	if !o.breaker.Allow() {
		return nil, core.NewTransportExhaustedError(0, core.ErrCircuitBreakerOpen).
			WithRetryAfter(o.breaker.RetryIn())
	}

	if err := o.gate(ctx, profile); err != nil {
		return nil, err
	}

	// A write in flight ends on its attempt timeout, never on caller cancellation.
	res, err := o.send(context.WithoutCancel(ctx), profile, params)
	if err == nil {
		o.breaker.Record(true)
		return res.Value, nil
	}
	if errors.Is(err, core.ErrNoCredentials) || errors.Is(err, core.ErrNoAPIKey) {
		return nil, err
	}

	clientOrderID, _ := params["client_order_id"].(string)
	switch {
	case core.IsNetworkError(err), core.IsTimeoutError(err), core.IsServerError(err):
		o.breaker.Record(false)
		o.logger.Error().
			Err(err).
			Str("op", op.String()).
			Str("client_order_id", clientOrderID).
			Msg("write outcome unknown")
		return nil, core.NewAmbiguousOrderError(clientOrderID, err)
	case core.IsClockSkew(err):
		o.breaker.Record(true)
		if syncErr := o.Resync(context.WithoutCancel(ctx)); syncErr != nil {
			o.logger.Warn().Err(syncErr).Msg("clock resync after rejected write failed")
		}
		return nil, err
	default:
		if res.StatusCode > 0 {
			o.breaker.Record(true)
		}
		o.throttled(err)
		return nil, err
	}
}

// attempt runs one quota-gated pull.
func (o *Orchestrator) attempt(ctx context.Context, profile core.EndpointProfile, params core.Params) (transport.Result, error) {
	if err := o.gate(ctx, profile); err != nil {
		return transport.Result{}, err
	}
	return o.send(ctx, profile, params)
}

// gate refuses calls that would overflow a window, then waits on the pacer.
func (o *Orchestrator) gate(ctx context.Context, profile core.EndpointProfile) error {
	if d := o.tracker.Check(profile); !d.Allowed {
		o.logger.Warn().
			Str("op", profile.Operation.String()).
			Str("window", d.Window).
			Dur("retry_after", d.RetryAfter).
			Msg("quota would be exceeded")
		return d.Err()
	}
	return o.pacer.Wait(ctx)
}

// send performs the pull and records it when the exchange may have charged
// for it.
func (o *Orchestrator) send(ctx context.Context, profile core.EndpointProfile, params core.Params) (transport.Result, error) {
	callCtx := ctx
	if o.retry.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, o.retry.AttemptTimeout)
		defer cancel()
	}

	res, err := o.puller.Pull(callCtx, transport.Call{
		Op:          profile.Operation,
		Params:      params,
		ClockOffset: o.ClockOffset(),
	})
	if res.Reached {
		o.tracker.RecordNow(profile)
	}
	if len(res.Usage) > 0 {
		o.tracker.Reconcile(res.Usage)
	}
	return res, err
}

// Resync samples the exchange clock and updates the offset applied to signed
// timestamps. Changes smaller than the hysteresis are ignored.
func (o *Orchestrator) Resync(ctx context.Context) error {
	o.syncMu.Lock()
	defer o.syncMu.Unlock()

	profile, err := o.registry.CostOf(core.OpGetServerTime)
	if err != nil {
		return err
	}

	sent := o.now()
	res, err := o.attempt(ctx, profile, nil)
	if err != nil {
		return err
	}
	received := o.now()

	st, ok := res.Value.(*core.ServerTime)
	if !ok || st.Time.IsZero() {
		return errors.New("clock sync returned no server time")
	}

	local := sent.Add(received.Sub(sent) / 2)
	offset := st.Time.Sub(local)
	current := o.ClockOffset()
	o.lastSync.Store(received.UnixNano())

	delta := offset - current
	if delta < 0 {
		delta = -delta
	}
	if delta < o.hysteresis {
		return nil
	}

	o.clockOffset.Store(int64(offset))
	o.logger.Info().
		Int64("offset_ms", offset.Milliseconds()).
		Int64("previous_ms", current.Milliseconds()).
		Dur("rtt", received.Sub(sent)).
		Msg("clock offset updated")
	return nil
}

// ClockOffset returns serverTime - localTime as last measured.
func (o *Orchestrator) ClockOffset() time.Duration {
	return time.Duration(o.clockOffset.Load())
}

func (o *Orchestrator) throttled(err error) {
	if o.onThrottle == nil {
		return
	}
	e, ok := core.AsExchangeError(err)
	if !ok || (e.Type != core.ErrorTypeBanned && e.Type != core.ErrorTypeRateLimit) {
		return
	}
	o.onThrottle(e)
}

func (o *Orchestrator) backoff(attempt int) time.Duration {
	d := o.retry.NetworkBackoff << (attempt - 1)
	if d < 0 || (o.retry.MaxBackoff > 0 && d > o.retry.MaxBackoff) {
		d = o.retry.MaxBackoff
	}
	return d
}

// ResetBreaker closes the pull breaker, e.g. after an operator intervention.
func (o *Orchestrator) ResetBreaker() {
	o.breaker.Reset()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
