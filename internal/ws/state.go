package ws

import "sync/atomic"

// ConnState is the lifecycle position of a Client's connection.
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	// StateReconnecting is entered after an unexpected drop and left when a
	// dial succeeds or Close is called.
	StateReconnecting
	// StateClosed is terminal.
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

func (s ConnState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// atomicState guards transitions so only one goroutine wins a given edge,
// e.g. only one reconnect loop starts after a drop.
type atomicState struct {
	v atomic.Int32
}

func (a *atomicState) load() ConnState { return ConnState(a.v.Load()) }

func (a *atomicState) store(s ConnState) { a.v.Store(int32(s)) }

func (a *atomicState) transition(from, to ConnState) bool {
	return a.v.CompareAndSwap(int32(from), int32(to))
}
