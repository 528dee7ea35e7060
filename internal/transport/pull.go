// Package transport carries one logical call to the exchange: pull over REST,
// or a lookup in the push feed.
package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"resty.dev/v3"

	httpclient "tollgate/internal/http"
	"tollgate/internal/keyring"
	"tollgate/pkg/core"
)

// Call is one pull attempt.
type Call struct {
	Op     core.Operation
	Params core.Params
	// ClockOffset is serverTime - localTime, applied to signed timestamps.
	ClockOffset time.Duration
}

// Result is the outcome of a pull attempt that produced a response or timed out.
type Result struct {
	Value      any
	Usage      []core.UsageReport
	StatusCode int
	// Reached is set when the exchange may have processed the call and
	// charged its weight: a response arrived, or the call timed out in flight.
	Reached bool
}

// Puller performs REST calls through a Protocol.
type Puller struct {
	protocol     core.Protocol
	client       *httpclient.Client
	keys         *keyring.KeyRing
	recvWindow   time.Duration
	safetyMargin time.Duration
	now          func() time.Time
	logger       zerolog.Logger
}

type PullerOption func(*Puller)

func WithKeyRing(keys *keyring.KeyRing) PullerOption {
	return func(p *Puller) {
		p.keys = keys
	}
}

// WithTimeSync sets the recvWindow sent with signed calls and the margin
// subtracted from their timestamps.
func WithTimeSync(recvWindow, safetyMargin time.Duration) PullerOption {
	return func(p *Puller) {
		p.recvWindow = recvWindow
		p.safetyMargin = safetyMargin
	}
}

func WithClock(now func() time.Time) PullerOption {
	return func(p *Puller) {
		p.now = now
	}
}

func WithLogger(logger zerolog.Logger) PullerOption {
	return func(p *Puller) {
		p.logger = logger
	}
}

func NewPuller(protocol core.Protocol, client *httpclient.Client, opts ...PullerOption) *Puller {
	p := &Puller{
		protocol:     protocol,
		client:       client,
		recvWindow:   5 * time.Second,
		safetyMargin: time.Second,
		now:          time.Now,
		logger:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Pull builds, signs and sends call, then parses the response. Transport
// failures come back as NETWORK or TIMEOUT errors, exchange rejections as
// whatever the protocol maps them to.
func (p *Puller) Pull(ctx context.Context, call Call) (Result, error) {
	req, err := p.protocol.BuildRequest(ctx, call.Op, call.Params)
	if err != nil {
		return Result{}, fmt.Errorf("build %s request: %w", call.Op, err)
	}

	var (
		opts  []httpclient.RequestOption
		keyID string
	)
	if req.Signed {
		if p.keys == nil {
			return Result{}, core.ErrNoCredentials
		}
		creds, err := p.keys.Acquire()
		if err != nil {
			return Result{}, err
		}
		keyID = creds.ID

		ts := p.now().Add(call.ClockOffset).Add(-p.safetyMargin)
		opts = append(opts, func(r *resty.Request) error {
			return p.protocol.SignRequest(r, creds, ts, p.recvWindow)
		})
	}

	resp, err := p.client.Do(ctx, req, opts...)
	if err != nil {
		return Result{Reached: core.IsTimeoutError(err)}, err
	}

	result := Result{
		Usage:      p.protocol.ParseUsage(resp.Header()),
		StatusCode: resp.StatusCode(),
		Reached:    true,
	}

	value, err := p.protocol.ParseResponse(call.Op, resp)
	if err != nil {
		if keyID != "" && core.IsAuthenticationError(err) {
			p.keys.OnError(keyID, err)
		}
		p.logger.Debug().
			Err(err).
			Str("op", call.Op.String()).
			Int("status", result.StatusCode).
			Msg("pull rejected")
		return result, err
	}

	result.Value = value
	return result, nil
}

// Name returns the exchange the puller talks to.
func (p *Puller) Name() string {
	return p.protocol.Name()
}
