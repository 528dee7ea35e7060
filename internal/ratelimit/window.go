package ratelimit

import (
	"time"

	"tollgate/pkg/core"
)

type bucket struct {
	ts    time.Time
	count int
}

// window is one sliding quota window. Buckets are kept in timestamp order and
// usage always equals the sum of bucket counts. Not safe for concurrent use; the
// tracker serializes access.
type window struct {
	name        string
	kind        core.WindowKind
	capacity    int
	duration    time.Duration
	granularity time.Duration

	buckets []bucket
	usage   int
}

func newWindow(cfg core.WindowConfig, granularity time.Duration) *window {
	return &window{
		name:        cfg.Name,
		kind:        cfg.Kind,
		capacity:    cfg.Limit,
		duration:    cfg.Duration,
		granularity: granularity,
	}
}

// cost is what profile debits from this window.
func (w *window) cost(p core.EndpointProfile) int {
	switch w.kind {
	case core.WindowKindWeight:
		return p.WeightCost
	case core.WindowKindOrders:
		if p.IsOrderAction {
			return 1
		}
	case core.WindowKindRaw:
		if p.CountsAsRawRequest {
			return 1
		}
	}
	return 0
}

// purge drops buckets older than the window. A bucket stamped exactly at
// now-duration still counts.
func (w *window) purge(now time.Time) {
	cutoff := now.Add(-w.duration)

	i := 0
	for i < len(w.buckets) && w.buckets[i].ts.Before(cutoff) {
		w.usage -= w.buckets[i].count
		i++
	}
	if i == 0 {
		return
	}
	if i == len(w.buckets) {
		w.buckets = w.buckets[:0]
		w.usage = 0
		return
	}
	w.buckets = append(w.buckets[:0], w.buckets[i:]...)
}

// add debits n units at ts. A record in the same granule as the newest bucket
// joins it and moves its timestamp forward; a record older than the newest
// bucket joins the newest bucket too, so order is kept and nothing expires early.
func (w *window) add(ts time.Time, n int) {
	if n <= 0 {
		return
	}
	w.usage += n

	if last := len(w.buckets) - 1; last >= 0 {
		b := &w.buckets[last]
		if !ts.After(b.ts) {
			b.count += n
			return
		}
		if w.sameGranule(b.ts, ts) {
			b.count += n
			b.ts = ts
			return
		}
	}
	w.buckets = append(w.buckets, bucket{ts: ts, count: n})
}

func (w *window) sameGranule(a, b time.Time) bool {
	if w.granularity <= 0 {
		return a.Equal(b)
	}
	return a.Truncate(w.granularity).Equal(b.Truncate(w.granularity))
}

func (w *window) wouldExceed(n int) bool {
	return w.usage+n > w.capacity
}

// waitFor estimates how long until n more units fit. Zero means they fit now.
func (w *window) waitFor(now time.Time, n int) time.Duration {
	if !w.wouldExceed(n) {
		return 0
	}
	if n > w.capacity {
		return w.duration
	}

	excess := w.usage + n - w.capacity
	freed := 0
	for _, b := range w.buckets {
		freed += b.count
		if freed >= excess {
			return expiresIn(b.ts, w.duration, now)
		}
	}
	return w.duration
}

// resetEstimate is the time until the oldest bucket leaves the window.
func (w *window) resetEstimate(now time.Time) time.Duration {
	if len(w.buckets) == 0 {
		return 0
	}
	return expiresIn(w.buckets[0].ts, w.duration, now)
}

func expiresIn(ts time.Time, d time.Duration, now time.Time) time.Duration {
	// purge keeps a bucket while ts >= now-d, so it is gone one tick after ts+d.
	wait := ts.Add(d).Sub(now) + time.Millisecond
	if wait < 0 {
		return 0
	}
	return wait
}

func (w *window) percentage() float64 {
	if w.capacity <= 0 {
		return 0
	}
	return float64(w.usage) / float64(w.capacity) * 100
}
