package emergency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Redis shares the flag between every process pointed at the same key. A
// timed activation is stored with a matching TTL, so the key itself expires
// at auto-reset.
type Redis struct {
	key     string
	client  redis.UniversalClient
	now     func() time.Time
	logger  zerolog.Logger
	timeout time.Duration

	get func(ctx context.Context, key string) ([]byte, error)
	set func(ctx context.Context, key string, value []byte, ttl time.Duration) error
	del func(ctx context.Context, key string) error
}

// NewRedis connects to addr and pings it before returning.
func NewRedis(addr, key string, opts ...Option) (*Redis, error) {
	if addr == "" {
		return nil, errors.New("no redis address configured")
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connect failed: %w", err)
	}
	return newRedis(client, key, opts...), nil
}

func newRedis(client redis.UniversalClient, key string, opts ...Option) *Redis {
	if key == "" {
		key = DefaultRedisKey
	}
	o := buildOptions(opts)
	r := &Redis{
		key:     key,
		client:  client,
		now:     o.now,
		logger:  o.logger,
		timeout: 500 * time.Millisecond,
	}
	r.get = func(ctx context.Context, key string) ([]byte, error) {
		return r.client.Get(ctx, key).Bytes()
	}
	r.set = func(ctx context.Context, key string, value []byte, ttl time.Duration) error {
		return r.client.Set(ctx, key, value, ttl).Err()
	}
	r.del = func(ctx context.Context, key string) error {
		return r.client.Del(ctx, key).Err()
	}
	return r
}

func (r *Redis) Status(ctx context.Context) (State, error) {
	s, err := r.load(ctx)
	if err != nil {
		return State{}, err
	}
	return resolve(s, r.now()), nil
}

func (r *Redis) Activate(ctx context.Context, reason string, d time.Duration) error {
	current, err := r.load(ctx)
	if err != nil {
		return err
	}
	now := r.now()
	next := merge(current, reason, d, now)

	data, err := sonic.Marshal(next)
	if err != nil {
		return fmt.Errorf("marshal emergency state: %w", err)
	}
	var ttl time.Duration
	if !next.AutoResetTime.IsZero() {
		ttl = next.AutoResetTime.Sub(now)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := r.set(ctx, r.key, data, ttl); err != nil {
		return fmt.Errorf("store emergency state: %w", err)
	}
	r.logger.Warn().Str("key", r.key).Str("reason", next.Reason).Dur("ttl", ttl).Msg("emergency mode activated")
	return nil
}

func (r *Redis) Deactivate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := r.del(ctx, r.key); err != nil {
		return fmt.Errorf("clear emergency state: %w", err)
	}
	r.logger.Info().Str("key", r.key).Msg("emergency mode deactivated")
	return nil
}

func (r *Redis) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}

func (r *Redis) load(ctx context.Context) (State, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	data, err := r.get(ctx, r.key)
	if errors.Is(err, redis.Nil) {
		return State{}, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("load emergency state: %w", err)
	}
	var s State
	if err := sonic.Unmarshal(data, &s); err != nil {
		return State{}, fmt.Errorf("parse emergency state: %w", err)
	}
	return s, nil
}
