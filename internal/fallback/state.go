package fallback

import (
	"time"

	"tollgate/internal/circuitbreaker"
)

// TransportState reports push and pull health independently.
type TransportState struct {
	PushAvailable bool          `json:"push_available"`
	ClockOffset   time.Duration `json:"clock_offset"`
	LastClockSync time.Time     `json:"last_clock_sync,omitzero"`
	// ConsecutivePullFailures is the current run of NETWORK, TIMEOUT and
	// SERVER_ERROR pull failures.
	ConsecutivePullFailures int                            `json:"consecutive_pull_failures"`
	BreakerState            circuitbreaker.State           `json:"breaker_state"`
	BreakerRetryIn          time.Duration                  `json:"breaker_retry_in"`
	PushHits                int64                          `json:"push_hits"`
	PushMisses              int64                          `json:"push_misses"`
	Breaker                 circuitbreaker.MetricsSnapshot `json:"breaker"`
}

func (o *Orchestrator) State() TransportState {
	s := TransportState{
		ClockOffset:             o.ClockOffset(),
		ConsecutivePullFailures: o.breaker.Failures(),
		BreakerState:            o.breaker.State(),
		BreakerRetryIn:          o.breaker.RetryIn(),
		PushHits:                o.pushHits.Load(),
		PushMisses:              o.pushMisses.Load(),
		Breaker:                 o.breaker.Metrics(),
	}
	if o.push != nil {
		s.PushAvailable = o.push.Available()
	}
	if ns := o.lastSync.Load(); ns > 0 {
		s.LastClockSync = time.Unix(0, ns)
	}
	return s
}
