// Package circuitbreaker counts consecutive pull transport failures and refuses
// pull calls for a cool-down period once a threshold is reached.
package circuitbreaker

import (
	"sync"
	"sync/atomic"
	"time"
)

type State int32

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

type Config struct {
	// FailThreshold consecutive failures open the breaker.
	FailThreshold int `json:"fail_threshold"`
	// SuccessThreshold successes while half-open close it again.
	SuccessThreshold int           `json:"success_threshold"`
	Timeout          time.Duration `json:"timeout"`
}

// Breaker is safe for concurrent use.
type Breaker struct {
	mu               sync.Mutex
	state            State
	failures         int
	successes        int
	openedAt         time.Time
	failThreshold    int
	successThreshold int
	timeout          time.Duration

	now      func() time.Time
	onChange func(from, to State)
	metrics  *Metrics
}

type Metrics struct {
	totalRequests   atomic.Int64
	rejected        atomic.Int64
	successRequests atomic.Int64
	failedRequests  atomic.Int64
	stateChanges    atomic.Int32
}

type Option func(*Breaker)

// WithClock injects the time source used for the open timeout.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) {
		b.now = now
	}
}

// OnStateChange registers fn to run after every transition, outside the lock.
func OnStateChange(fn func(from, to State)) Option {
	return func(b *Breaker) {
		b.onChange = fn
	}
}

func New(config Config, opts ...Option) *Breaker {
	b := &Breaker{
		state:            StateClosed,
		failThreshold:    max(config.FailThreshold, 1),
		successThreshold: max(config.SuccessThreshold, 1),
		timeout:          config.Timeout,
		now:              time.Now,
		metrics:          &Metrics{},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Allow reports whether a call may go out. An open breaker moves to half-open
// once its timeout has elapsed.
func (b *Breaker) Allow() bool {
	b.metrics.totalRequests.Add(1)

	b.mu.Lock()
	var from State
	changed := false
	allowed := true
	if b.state == StateOpen {
		if b.now().Sub(b.openedAt) >= b.timeout {
			from, changed = b.transitionLocked(StateHalfOpen)
		} else {
			allowed = false
		}
	}
	b.mu.Unlock()

	if !allowed {
		b.metrics.rejected.Add(1)
	}
	if changed {
		b.notify(from, StateHalfOpen)
	}
	return allowed
}

// Record reports the outcome of an allowed call.
func (b *Breaker) Record(success bool) {
	if success {
		b.metrics.successRequests.Add(1)
	} else {
		b.metrics.failedRequests.Add(1)
	}

	b.mu.Lock()
	var (
		from, to State
		changed  bool
	)
	switch b.state {
	case StateClosed:
		if success {
			b.failures = 0
			break
		}
		b.failures++
		if b.failures >= b.failThreshold {
			b.openedAt = b.now()
			to = StateOpen
			from, changed = b.transitionLocked(to)
		}
	case StateHalfOpen:
		if success {
			b.successes++
			if b.successes >= b.successThreshold {
				b.failures = 0
				to = StateClosed
				from, changed = b.transitionLocked(to)
			}
			break
		}
		b.failures++
		b.openedAt = b.now()
		to = StateOpen
		from, changed = b.transitionLocked(to)
	case StateOpen:
		// Late results from calls admitted before the breaker opened.
		if !success {
			b.failures++
		}
	}
	b.mu.Unlock()

	if changed {
		b.notify(from, to)
	}
}

// transitionLocked must be called with b.mu held.
func (b *Breaker) transitionLocked(to State) (State, bool) {
	from := b.state
	if from == to {
		return from, false
	}
	b.state = to
	b.successes = 0
	b.metrics.stateChanges.Add(1)
	return from, true
}

func (b *Breaker) notify(from, to State) {
	if b.onChange != nil {
		b.onChange(from, to)
	}
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset closes the breaker and clears its counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	from, changed := b.transitionLocked(StateClosed)
	b.failures = 0
	b.successes = 0
	b.mu.Unlock()

	if changed {
		b.notify(from, StateClosed)
	}
}

// Failures returns the current run of consecutive failures.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

func (b *Breaker) Successes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.successes
}

// FailThreshold returns the number of consecutive failures that opens the breaker.
func (b *Breaker) FailThreshold() int {
	return b.failThreshold
}

// RetryIn returns how long an open breaker keeps refusing calls.
func (b *Breaker) RetryIn() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateOpen {
		return 0
	}
	if d := b.timeout - b.now().Sub(b.openedAt); d > 0 {
		return d
	}
	return 0
}

func (b *Breaker) Metrics() MetricsSnapshot {
	return MetricsSnapshot{
		TotalRequests:   b.metrics.totalRequests.Load(),
		Rejected:        b.metrics.rejected.Load(),
		SuccessRequests: b.metrics.successRequests.Load(),
		FailedRequests:  b.metrics.failedRequests.Load(),
		StateChanges:    b.metrics.stateChanges.Load(),
		CurrentState:    b.State().String(),
	}
}

type MetricsSnapshot struct {
	TotalRequests   int64  `json:"total_requests"`
	Rejected        int64  `json:"rejected"`
	SuccessRequests int64  `json:"success_requests"`
	FailedRequests  int64  `json:"failed_requests"`
	StateChanges    int32  `json:"state_changes"`
	CurrentState    string `json:"current_state"`
}
