package ratelimit

import (
	"context"
	"sync/atomic"

	"golang.org/x/time/rate"
)

// Pacer smooths pull calls to a steady rate. It complements the Tracker: the
// tracker refuses calls that would overflow a window, the pacer spreads the
// calls that are allowed.
type Pacer struct {
	limiter *rate.Limiter
	metrics *PacerMetrics
}

// PacerMetrics tracks statistics about pacer usage.
type PacerMetrics struct {
	totalWaits     atomic.Int64
	cancelledWaits atomic.Int64
	delayedWaits   atomic.Int64
}

// NewPacer creates a pacer allowing rps calls per second with the given burst.
func NewPacer(rps float64, burst int) *Pacer {
	if burst < 1 {
		burst = 1
	}
	return &Pacer{
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		metrics: &PacerMetrics{},
	}
}

// Wait blocks until the pacer allows a call or the context is cancelled.
// A nil Pacer never blocks.
func (p *Pacer) Wait(ctx context.Context) error {
	if p == nil {
		return nil
	}
	p.metrics.totalWaits.Add(1)

	if !p.limiter.Allow() {
		p.metrics.delayedWaits.Add(1)
		if err := p.limiter.Wait(ctx); err != nil {
			p.metrics.cancelledWaits.Add(1)
			return err
		}
	}
	return nil
}

// Allow returns true if a call may proceed immediately.
func (p *Pacer) Allow() bool {
	if p == nil {
		return true
	}
	return p.limiter.Allow()
}

// SetRate updates the steady rate.
func (p *Pacer) SetRate(rps float64) {
	p.limiter.SetLimit(rate.Limit(rps))
}

// Metrics returns a snapshot of the current pacer statistics.
func (p *Pacer) Metrics() PacerMetricsSnapshot {
	if p == nil {
		return PacerMetricsSnapshot{}
	}
	return PacerMetricsSnapshot{
		TotalWaits:     p.metrics.totalWaits.Load(),
		DelayedWaits:   p.metrics.delayedWaits.Load(),
		CancelledWaits: p.metrics.cancelledWaits.Load(),
	}
}

// PacerMetricsSnapshot is a point-in-time capture of pacer statistics.
type PacerMetricsSnapshot struct {
	TotalWaits int64 `json:"total_waits"`
	// DelayedWaits counts calls that had to wait for a token.
	DelayedWaits   int64 `json:"delayed_waits"`
	CancelledWaits int64 `json:"cancelled_waits"`
}
