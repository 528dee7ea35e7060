package ratelimit

import (
	"time"

	"tollgate/pkg/core"
)

// Status is the utilization tier of a window.
type Status string

const (
	StatusSafe    Status = "safe"
	StatusWarning Status = "warning"
	StatusDanger  Status = "danger"
)

// Default utilization tiers in percent.
const (
	DefaultWarningThreshold = 70.0
	DefaultDangerThreshold  = 90.0
)

// WindowStatus is a point-in-time view of one window.
type WindowStatus struct {
	Name    string          `json:"name"`
	Kind    core.WindowKind `json:"kind"`
	Current int             `json:"current"`
	Limit   int             `json:"limit"`
	// Percentage is Current/Limit*100.
	Percentage float64 `json:"percentage"`
	// ResetEstimate is when the oldest recorded usage leaves the window.
	ResetEstimate time.Duration `json:"reset_estimate"`
	Status        Status        `json:"status"`
}

// Remaining returns the capacity still available in the window.
func (s WindowStatus) Remaining() int {
	if s.Current >= s.Limit {
		return 0
	}
	return s.Limit - s.Current
}

// DangerEvent is delivered to observers while at least one window is in danger.
type DangerEvent struct {
	Windows []WindowStatus `json:"windows"`
	At      time.Time      `json:"at"`
}

// Decision is the outcome of a pre-flight quota check.
type Decision struct {
	Allowed bool `json:"allowed"`
	// Window names the first window that would overflow.
	Window     string        `json:"window,omitempty"`
	Usage      int           `json:"usage,omitempty"`
	Limit      int           `json:"limit,omitempty"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
}

// Err converts a refused decision into a QuotaExceeded error.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return core.NewQuotaExceededError(d.Window, d.RetryAfter)
}

func statusFor(pct, warning, danger float64) Status {
	switch {
	case pct >= danger:
		return StatusDanger
	case pct >= warning:
		return StatusWarning
	default:
		return StatusSafe
	}
}
