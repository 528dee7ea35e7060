// Package emergency holds the process-wide emergency flag a gateway consults
// before each call. While it is active only critical calls reach the exchange.
package emergency

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tollgate/pkg/core"
)

const (
	DefaultPath     = "emergency-mode.json"
	DefaultRedisKey = "tollgate:emergency"
)

// State is the persisted emergency record. A zero AutoResetTime means the
// flag stays up until it is cleared by hand.
type State struct {
	Enabled       bool      `json:"enabled"`
	Reason        string    `json:"reason"`
	Timestamp     time.Time `json:"timestamp"`
	AutoResetTime time.Time `json:"autoResetTime,omitzero"`
}

// ActiveAt reports whether the flag is up at now.
func (s State) ActiveAt(now time.Time) bool {
	if !s.Enabled {
		return false
	}
	return s.AutoResetTime.IsZero() || now.Before(s.AutoResetTime)
}

// Remaining is the time left before auto-reset, zero when inactive or manual.
func (s State) Remaining(now time.Time) time.Duration {
	if !s.ActiveAt(now) || s.AutoResetTime.IsZero() {
		return 0
	}
	return s.AutoResetTime.Sub(now)
}

// Control reads and writes the emergency flag.
type Control interface {
	// Status returns the stored state with auto-reset applied.
	Status(ctx context.Context) (State, error)
	// Activate raises the flag for d, or until Deactivate when d <= 0. An
	// active flag that already outlasts d is kept.
	Activate(ctx context.Context, reason string, d time.Duration) error
	Deactivate(ctx context.Context) error
}

// New builds the control selected by cfg.Backend.
func New(cfg core.EmergencyConfig, logger zerolog.Logger) (Control, error) {
	switch cfg.Backend {
	case "", "none":
		return NewMemory(), nil
	case "file":
		path := cfg.Path
		if path == "" {
			path = DefaultPath
		}
		return NewFile(path, WithLogger(logger)), nil
	case "redis":
		return NewRedis(cfg.RedisAddr, cfg.RedisKey, WithLogger(logger))
	default:
		return nil, fmt.Errorf("unknown emergency backend %q", cfg.Backend)
	}
}

type options struct {
	now    func() time.Time
	logger zerolog.Logger
}

type Option func(*options)

func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// merge computes the state after an activation on top of current.
func merge(current State, reason string, d time.Duration, now time.Time) State {
	next := State{Enabled: true, Reason: reason, Timestamp: now}
	if d > 0 {
		next.AutoResetTime = now.Add(d)
	}
	if !current.ActiveAt(now) {
		return next
	}
	if current.AutoResetTime.IsZero() || (!next.AutoResetTime.IsZero() && current.AutoResetTime.After(next.AutoResetTime)) {
		return current
	}
	return next
}

func resolve(s State, now time.Time) State {
	if s.Enabled && !s.ActiveAt(now) {
		s.Enabled = false
	}
	return s
}

// Memory is a process-local Control.
type Memory struct {
	mu    sync.Mutex
	state State
	now   func() time.Time
}

func NewMemory(opts ...Option) *Memory {
	return &Memory{now: buildOptions(opts).now}
}

func (m *Memory) Status(context.Context) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return resolve(m.state, m.now()), nil
}

func (m *Memory) Activate(_ context.Context, reason string, d time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = merge(m.state, reason, d, m.now())
	return nil
}

func (m *Memory) Deactivate(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = State{Timestamp: m.now()}
	return nil
}
