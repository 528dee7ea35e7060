// Package keyring holds the API keys used to sign pull calls and rotates
// between them when the exchange rejects one.
package keyring

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tollgate/pkg/core"
)

type KeyRing struct {
	mu       sync.RWMutex
	keys     []*APIKey
	current  int
	strategy RotationStrategy
	now      func() time.Time
	logger   zerolog.Logger
}

type APIKey struct {
	Credentials core.Credentials
	Disabled    bool
	LastUsed    time.Time
	ErrorCount  int
}

type RotationStrategy int

const (
	// RotationOnError moves to the next key after any reported failure.
	RotationOnError RotationStrategy = iota
	// RotationRoundRobin moves to the next key after every use.
	RotationRoundRobin
	// RotationNone keeps the current key until it is disabled.
	RotationNone
)

type Option func(*KeyRing)

func WithStrategy(s RotationStrategy) Option {
	return func(k *KeyRing) {
		k.strategy = s
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(k *KeyRing) {
		k.logger = logger
	}
}

func WithClock(now func() time.Time) Option {
	return func(k *KeyRing) {
		k.now = now
	}
}

// New builds a key ring from creds. Keys without an ID are named by position.
func New(creds []core.Credentials, opts ...Option) *KeyRing {
	k := &KeyRing{
		keys:     make([]*APIKey, 0, len(creds)),
		strategy: RotationOnError,
		now:      time.Now,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(k)
	}
	for i, c := range creds {
		if c.ID == "" {
			c.ID = fmt.Sprintf("key-%d", i)
		}
		k.keys = append(k.keys, &APIKey{Credentials: c})
	}
	return k
}

// Len returns the number of keys, enabled or not.
func (k *KeyRing) Len() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.keys)
}

// Acquire returns the credentials to sign the next call with and marks them used.
func (k *KeyRing) Acquire() (core.Credentials, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if len(k.keys) == 0 {
		return core.Credentials{}, core.ErrNoCredentials
	}

	idx, ok := k.nextEnabledLocked(k.current)
	if !ok {
		return core.Credentials{}, core.ErrNoAPIKey
	}
	k.current = idx
	key := k.keys[idx]
	key.LastUsed = k.now()

	if k.strategy == RotationRoundRobin {
		k.rotateLocked()
	}
	return key.Credentials, nil
}

// Current returns the key the next call would use, or nil.
func (k *KeyRing) Current() *APIKey {
	k.mu.RLock()
	defer k.mu.RUnlock()

	idx, ok := k.nextEnabledLocked(k.current)
	if !ok {
		return nil
	}
	cp := *k.keys[idx]
	return &cp
}

func (k *KeyRing) Rotate() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.rotateLocked()
}

// OnError records a failure against the key with id and rotates away from it
// when the strategy says so.
func (k *KeyRing) OnError(id string, err error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	for i, key := range k.keys {
		if key.Credentials.ID != id {
			continue
		}
		key.ErrorCount++
		k.logger.Warn().
			Err(err).
			Str("key", key.String()).
			Int("errors", key.ErrorCount).
			Msg("api key failure")
		if k.strategy == RotationOnError && k.current == i {
			k.rotateLocked()
		}
		return
	}
}

func (k *KeyRing) Disable(id string) {
	k.mu.Lock()
	defer k.mu.Unlock()

	for _, key := range k.keys {
		if key.Credentials.ID == id {
			key.Disabled = true
			return
		}
	}
}

func (k *KeyRing) Enable(id string) {
	k.mu.Lock()
	defer k.mu.Unlock()

	for _, key := range k.keys {
		if key.Credentials.ID == id {
			key.Disabled = false
			key.ErrorCount = 0
			return
		}
	}
}

func (k *KeyRing) Add(creds core.Credentials) {
	k.mu.Lock()
	defer k.mu.Unlock()

	for _, existing := range k.keys {
		if existing.Credentials.ID == creds.ID {
			return
		}
	}
	k.keys = append(k.keys, &APIKey{Credentials: creds})
}

func (k *KeyRing) Remove(id string) {
	k.mu.Lock()
	defer k.mu.Unlock()

	for i, key := range k.keys {
		if key.Credentials.ID == id {
			k.keys = append(k.keys[:i], k.keys[i+1:]...)
			if k.current >= len(k.keys) {
				k.current = 0
			}
			return
		}
	}
}

// nextEnabledLocked returns the first enabled key at or after from.
func (k *KeyRing) nextEnabledLocked(from int) (int, bool) {
	n := len(k.keys)
	for i := range n {
		idx := (from + i) % n
		if !k.keys[idx].Disabled {
			return idx, true
		}
	}
	return 0, false
}

func (k *KeyRing) rotateLocked() {
	if len(k.keys) < 2 {
		return
	}
	if idx, ok := k.nextEnabledLocked((k.current + 1) % len(k.keys)); ok {
		k.current = idx
	}
}

func (k *APIKey) String() string {
	return fmt.Sprintf("APIKey{ID:%s, Key:%s}", k.Credentials.ID, maskKey(k.Credentials.APIKey))
}

func maskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "****" + key[len(key)-4:]
}
