package ratelimit

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"tollgate/pkg/core"
)

// DefaultGranularity is the bucket coalescing interval.
const DefaultGranularity = time.Second

// Tracker accounts request consumption against several overlapping sliding
// windows. It never blocks callers: WouldExceed and Check answer, Record debits.
type Tracker struct {
	mu      sync.Mutex
	windows []*window
	byName  map[string]*window

	now         func() time.Time
	granularity time.Duration
	warning     float64
	danger      float64

	obsMu     sync.Mutex
	observers map[uint64]func(DangerEvent)
	nextObsID uint64

	metrics *Metrics
	logger  zerolog.Logger
}

// Metrics tracks statistics about tracker usage.
type Metrics struct {
	records           atomic.Int64
	checks            atomic.Int64
	rejections        atomic.Int64
	dangerSignals     atomic.Int64
	serverCorrections atomic.Int64
}

// MetricsSnapshot is a point-in-time capture of tracker statistics.
type MetricsSnapshot struct {
	Records int64 `json:"records"`
	Checks  int64 `json:"checks"`
	// Rejections counts checks that found a window would overflow.
	Rejections    int64 `json:"rejections"`
	DangerSignals int64 `json:"danger_signals"`
	// ServerCorrections counts usage headers that raised local usage.
	ServerCorrections int64 `json:"server_corrections"`
}

type Option func(*Tracker)

// WithClock injects the time source, for synthetic-time tests.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		t.now = now
	}
}

// WithGranularity sets the bucket coalescing interval. Zero coalesces only
// records with identical timestamps.
func WithGranularity(d time.Duration) Option {
	return func(t *Tracker) {
		t.granularity = d
	}
}

// WithThresholds sets the warning and danger tiers in percent.
func WithThresholds(warning, danger float64) Option {
	return func(t *Tracker) {
		t.warning = warning
		t.danger = danger
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(t *Tracker) {
		t.logger = logger
	}
}

// NewTracker creates a tracker over the given windows.
func NewTracker(windows []core.WindowConfig, opts ...Option) (*Tracker, error) {
	t := &Tracker{
		byName:      make(map[string]*window, len(windows)),
		now:         time.Now,
		granularity: DefaultGranularity,
		warning:     DefaultWarningThreshold,
		danger:      DefaultDangerThreshold,
		observers:   make(map[uint64]func(DangerEvent)),
		metrics:     &Metrics{},
		logger:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(t)
	}

	if len(windows) == 0 {
		return nil, fmt.Errorf("ratelimit: at least one window is required")
	}
	for _, cfg := range windows {
		if cfg.Limit <= 0 || cfg.Duration <= 0 {
			return nil, fmt.Errorf("ratelimit: window %q needs a positive limit and duration", cfg.Name)
		}
		if _, dup := t.byName[cfg.Name]; dup {
			return nil, fmt.Errorf("ratelimit: duplicate window %q", cfg.Name)
		}
		w := newWindow(cfg, t.granularity)
		t.windows = append(t.windows, w)
		t.byName[cfg.Name] = w
	}
	return t, nil
}

// Record debits profile from every window it affects at ts and emits a danger
// event when any window is at or above the danger tier afterwards.
func (t *Tracker) Record(p core.EndpointProfile, ts time.Time) {
	t.metrics.records.Add(1)

	t.mu.Lock()
	for _, w := range t.windows {
		c := w.cost(p)
		if c == 0 {
			continue
		}
		w.purge(ts)
		w.add(ts, c)
	}
	// Any window still in danger is reported, not only the debited ones.
	var danger []WindowStatus
	for _, w := range t.windows {
		w.purge(ts)
		if st := t.statusOf(w, ts); st.Status == StatusDanger {
			danger = append(danger, st)
		}
	}
	t.mu.Unlock()

	if len(danger) > 0 {
		t.notify(DangerEvent{Windows: danger, At: ts})
	}
}

// RecordNow records profile at the tracker's current time.
func (t *Tracker) RecordNow(p core.EndpointProfile) {
	t.Record(p, t.now())
}

// WouldExceed reports whether debiting profile now would push any affected
// window above its capacity. Landing exactly on capacity is allowed.
func (t *Tracker) WouldExceed(p core.EndpointProfile) bool {
	return !t.Check(p).Allowed
}

// Check is WouldExceed with the blocking window and an estimated wait.
func (t *Tracker) Check(p core.EndpointProfile) Decision {
	t.metrics.checks.Add(1)
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	for _, w := range t.windows {
		c := w.cost(p)
		if c == 0 {
			continue
		}
		w.purge(now)
		if w.wouldExceed(c) {
			t.metrics.rejections.Add(1)
			return Decision{
				Allowed:    false,
				Window:     w.name,
				Usage:      w.usage,
				Limit:      w.capacity,
				RetryAfter: w.waitFor(now, c),
			}
		}
	}
	return Decision{Allowed: true}
}

// Snapshot returns the status of every window in configuration order.
func (t *Tracker) Snapshot() []WindowStatus {
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]WindowStatus, 0, len(t.windows))
	for _, w := range t.windows {
		w.purge(now)
		out = append(out, t.statusOf(w, now))
	}
	return out
}

// Sweep purges expired buckets from every window.
func (t *Tracker) Sweep() {
	now := t.now()

	t.mu.Lock()
	for _, w := range t.windows {
		w.purge(now)
	}
	t.mu.Unlock()
}

// ObserveServerUsage raises a window's usage to what the exchange reports.
// Server usage lower than local usage is ignored. It reports whether the
// window exists and matches kind.
func (t *Tracker) ObserveServerUsage(kind core.WindowKind, windowName string, used int) bool {
	now := t.now()

	t.mu.Lock()
	w, ok := t.byName[windowName]
	if !ok || w.kind != kind {
		t.mu.Unlock()
		return false
	}
	w.purge(now)
	diff := used - w.usage
	if diff > 0 {
		w.add(now, diff)
	}
	var danger []WindowStatus
	if st := t.statusOf(w, now); diff > 0 && st.Status == StatusDanger {
		danger = append(danger, st)
	}
	t.mu.Unlock()

	if diff > 0 {
		t.metrics.serverCorrections.Add(1)
		t.logger.Debug().
			Str("window", windowName).
			Int("server_used", used).
			Int("added", diff).
			Msg("local usage raised to server report")
	}
	if len(danger) > 0 {
		t.notify(DangerEvent{Windows: danger, At: now})
	}
	return true
}

// Reconcile applies server usage reports to the windows matching their kind
// and interval.
func (t *Tracker) Reconcile(reports []core.UsageReport) {
	for _, r := range reports {
		if name, ok := t.windowFor(r.Kind, r.Interval); ok {
			t.ObserveServerUsage(r.Kind, name, r.Used)
		}
	}
}

func (t *Tracker) windowFor(kind core.WindowKind, interval time.Duration) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, w := range t.windows {
		if w.kind == kind && w.duration == interval {
			return w.name, true
		}
	}
	return "", false
}

// Subscribe registers fn for danger events. If a window is already in danger fn
// is called once before Subscribe returns. The returned func unsubscribes.
func (t *Tracker) Subscribe(fn func(DangerEvent)) (unsubscribe func()) {
	t.obsMu.Lock()
	id := t.nextObsID
	t.nextObsID++
	t.observers[id] = fn
	t.obsMu.Unlock()

	var danger []WindowStatus
	for _, st := range t.Snapshot() {
		if st.Status == StatusDanger {
			danger = append(danger, st)
		}
	}
	if len(danger) > 0 {
		t.metrics.dangerSignals.Add(1)
		fn(DangerEvent{Windows: danger, At: t.now()})
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			t.obsMu.Lock()
			delete(t.observers, id)
			t.obsMu.Unlock()
		})
	}
}

func (t *Tracker) notify(ev DangerEvent) {
	t.metrics.dangerSignals.Add(1)

	t.obsMu.Lock()
	fns := make([]func(DangerEvent), 0, len(t.observers))
	for _, fn := range t.observers {
		fns = append(fns, fn)
	}
	t.obsMu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// statusOf must be called with t.mu held.
func (t *Tracker) statusOf(w *window, now time.Time) WindowStatus {
	pct := w.percentage()
	return WindowStatus{
		Name:          w.name,
		Kind:          w.kind,
		Current:       w.usage,
		Limit:         w.capacity,
		Percentage:    pct,
		ResetEstimate: w.resetEstimate(now),
		Status:        statusFor(pct, t.warning, t.danger),
	}
}

// Metrics returns a snapshot of the current tracker statistics.
func (t *Tracker) Metrics() MetricsSnapshot {
	return MetricsSnapshot{
		Records:           t.metrics.records.Load(),
		Checks:            t.metrics.checks.Load(),
		Rejections:        t.metrics.rejections.Load(),
		DangerSignals:     t.metrics.dangerSignals.Load(),
		ServerCorrections: t.metrics.serverCorrections.Load(),
	}
}
