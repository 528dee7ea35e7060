package transport

import "tollgate/pkg/core"

// PushSource serves reads from a websocket feed. Lookup returns false when the
// source has nothing for op or what it has is older than its freshness bound.
type PushSource interface {
	Available() bool
	Lookup(op core.Operation, params core.Params) (any, bool)
}

// Pushable reports whether op may be served from a push feed at all.
// Account state, orders and trades always go to the exchange.
func Pushable(op core.Operation) bool {
	switch op {
	case core.OpGetPrice, core.OpGetKlines, core.OpGet24hTicker, core.OpGetOrderBook:
		return true
	default:
		return false
	}
}
