package core

import (
	"errors"
	"fmt"
	"time"
)

// WindowKind selects which EndpointProfile field a window debits.
type WindowKind string

const (
	WindowKindWeight WindowKind = "weight"
	WindowKindOrders WindowKind = "orders"
	WindowKindRaw    WindowKind = "raw"
)

// Credentials holds API authentication credentials for an exchange.
type Credentials struct {
	// ID names the key in logs; the key itself is never logged.
	ID string `json:"id" mapstructure:"id" yaml:"id"`
	// APIKey is the public API key identifier.
	APIKey string `json:"api_key" mapstructure:"api_key" yaml:"api_key" validate:"required"`
	// SecretKey is the private API key used for signing requests.
	SecretKey string `json:"secret_key" mapstructure:"secret_key" yaml:"-" validate:"required"`
	// Passphrase is an optional additional credential required by some exchanges.
	Passphrase string `json:"passphrase,omitempty" mapstructure:"passphrase" yaml:"-"`
}

// WindowConfig is one sliding quota window.
type WindowConfig struct {
	Name     string        `json:"name" mapstructure:"name" yaml:"name" validate:"required"`
	Kind     WindowKind    `json:"kind" mapstructure:"kind" yaml:"kind" validate:"required,oneof=weight orders raw"`
	Limit    int           `json:"limit" mapstructure:"limit" yaml:"limit" validate:"min=1"`
	Duration time.Duration `json:"duration" mapstructure:"duration" yaml:"duration" validate:"min=1ms"`
}

// CacheConfig holds coalescer TTLs per data class.
type CacheConfig struct {
	Price      time.Duration `json:"price" mapstructure:"price" yaml:"price" validate:"min=0"`
	Candles    time.Duration `json:"candles" mapstructure:"candles" yaml:"candles" validate:"min=0"`
	Ticker     time.Duration `json:"ticker" mapstructure:"ticker" yaml:"ticker" validate:"min=0"`
	Depth      time.Duration `json:"depth" mapstructure:"depth" yaml:"depth" validate:"min=0"`
	Account    time.Duration `json:"account" mapstructure:"account" yaml:"account" validate:"min=0"`
	OpenOrders time.Duration `json:"open_orders" mapstructure:"open_orders" yaml:"open_orders" validate:"min=0"`
	Trades     time.Duration `json:"trades" mapstructure:"trades" yaml:"trades" validate:"min=0"`
	Metadata   time.Duration `json:"metadata" mapstructure:"metadata" yaml:"metadata" validate:"min=0"`
}

// TTLFor returns the cache TTL for a data class. System calls are never cached.
func (c CacheConfig) TTLFor(class DataClass) time.Duration {
	switch class {
	case DataClassPrice:
		return c.Price
	case DataClassCandles:
		return c.Candles
	case DataClassTicker:
		return c.Ticker
	case DataClassDepth:
		return c.Depth
	case DataClassAccount:
		return c.Account
	case DataClassOrders:
		return c.OpenOrders
	case DataClassTrades:
		return c.Trades
	case DataClassMetadata:
		return c.Metadata
	default:
		return 0
	}
}

// RetryConfig drives the pull retry loop and the consecutive failure breaker.
type RetryConfig struct {
	MaxAttempts int `json:"max_attempts" mapstructure:"max_attempts" yaml:"max_attempts" validate:"min=1,max=10"`
	// SkewBackoff is multiplied by the attempt number after a clock skew rejection.
	SkewBackoff time.Duration `json:"skew_backoff" mapstructure:"skew_backoff" yaml:"skew_backoff" validate:"min=0"`
	// NetworkBackoff is the base of the exponential backoff after transport failures.
	NetworkBackoff time.Duration `json:"network_backoff" mapstructure:"network_backoff" yaml:"network_backoff" validate:"min=0"`
	MaxBackoff     time.Duration `json:"max_backoff" mapstructure:"max_backoff" yaml:"max_backoff" validate:"min=0"`
	AttemptTimeout time.Duration `json:"attempt_timeout" mapstructure:"attempt_timeout" yaml:"attempt_timeout" validate:"min=0"`
	// TripThreshold consecutive pull failures open the breaker.
	TripThreshold    int           `json:"trip_threshold" mapstructure:"trip_threshold" yaml:"trip_threshold" validate:"min=1"`
	SuccessThreshold int           `json:"success_threshold" mapstructure:"success_threshold" yaml:"success_threshold" validate:"min=1"`
	BreakerTimeout   time.Duration `json:"breaker_timeout" mapstructure:"breaker_timeout" yaml:"breaker_timeout" validate:"min=1ms"`
}

// StalenessConfig bounds how old push data may be and still be served.
type StalenessConfig struct {
	Price   time.Duration `json:"price" mapstructure:"price" yaml:"price" validate:"min=0"`
	Candles time.Duration `json:"candles" mapstructure:"candles" yaml:"candles" validate:"min=0"`
	Ticker  time.Duration `json:"ticker" mapstructure:"ticker" yaml:"ticker" validate:"min=0"`
	Depth   time.Duration `json:"depth" mapstructure:"depth" yaml:"depth" validate:"min=0"`
}

// For returns the freshness bound of a data class, zero when push never serves it.
func (s StalenessConfig) For(class DataClass) time.Duration {
	switch class {
	case DataClassPrice:
		return s.Price
	case DataClassCandles:
		return s.Candles
	case DataClassTicker:
		return s.Ticker
	case DataClassDepth:
		return s.Depth
	default:
		return 0
	}
}

// PushConfig controls the websocket push feed.
type PushConfig struct {
	Enabled bool     `json:"enabled" mapstructure:"enabled" yaml:"enabled"`
	Symbols []string `json:"symbols" mapstructure:"symbols" yaml:"symbols"`
	// Intervals are the kline intervals subscribed per symbol.
	Intervals []string        `json:"intervals" mapstructure:"intervals" yaml:"intervals"`
	Staleness StalenessConfig `json:"staleness" mapstructure:"staleness" yaml:"staleness"`
}

// PacerConfig smooths pull calls to a steady rate on top of the quota windows.
type PacerConfig struct {
	Enabled           bool    `json:"enabled" mapstructure:"enabled" yaml:"enabled"`
	RequestsPerSecond float64 `json:"requests_per_second" mapstructure:"requests_per_second" yaml:"requests_per_second" validate:"min=0"`
	Burst             int     `json:"burst" mapstructure:"burst" yaml:"burst" validate:"min=0"`
}

// TimeSyncConfig controls request timestamps for signed calls.
type TimeSyncConfig struct {
	RecvWindow time.Duration `json:"recv_window" mapstructure:"recv_window" yaml:"recv_window" validate:"min=1ms,max=60s"`
	// SafetyMargin is subtracted from the corrected clock when signing.
	SafetyMargin time.Duration `json:"safety_margin" mapstructure:"safety_margin" yaml:"safety_margin" validate:"min=0"`
	// Hysteresis is the smallest offset change applied after a clock sync.
	Hysteresis  time.Duration `json:"hysteresis" mapstructure:"hysteresis" yaml:"hysteresis" validate:"min=0"`
	SyncOnStart bool          `json:"sync_on_start" mapstructure:"sync_on_start" yaml:"sync_on_start"`
}

// EmergencyConfig selects where the emergency flag lives and how it is raised.
type EmergencyConfig struct {
	Backend   string        `json:"backend" mapstructure:"backend" yaml:"backend" validate:"oneof=none file redis"`
	Path      string        `json:"path" mapstructure:"path" yaml:"path"`
	RedisAddr string        `json:"redis_addr" mapstructure:"redis_addr" yaml:"redis_addr"`
	RedisKey  string        `json:"redis_key" mapstructure:"redis_key" yaml:"redis_key"`
	AutoReset time.Duration `json:"auto_reset" mapstructure:"auto_reset" yaml:"auto_reset" validate:"min=0"`
	// ActivateOnDanger raises emergency mode when any window enters danger.
	ActivateOnDanger bool `json:"activate_on_danger" mapstructure:"activate_on_danger" yaml:"activate_on_danger"`
}

// ServerConfig configures the HTTP status surface.
type ServerConfig struct {
	Addr string `json:"addr" mapstructure:"addr" yaml:"addr"`
}

// Config contains all configuration options for a gateway.
type Config struct {
	Exchange  string        `json:"exchange" mapstructure:"exchange" yaml:"exchange" validate:"required"`
	Sandbox   bool          `json:"sandbox" mapstructure:"sandbox" yaml:"sandbox"`
	BaseURL   string        `json:"base_url,omitempty" mapstructure:"base_url" yaml:"base_url,omitempty" validate:"omitempty,url"`
	StreamURL string        `json:"stream_url,omitempty" mapstructure:"stream_url" yaml:"stream_url,omitempty" validate:"omitempty,url"`
	Keys      []Credentials `json:"keys,omitempty" mapstructure:"keys" yaml:"keys,omitempty" validate:"dive"`

	// Timeout is the maximum duration for HTTP requests.
	Timeout time.Duration `json:"timeout" mapstructure:"timeout" yaml:"timeout" validate:"min=1ms"`

	Windows       []WindowConfig `json:"windows" mapstructure:"windows" yaml:"windows" validate:"min=1,dive"`
	Cache         CacheConfig    `json:"cache" mapstructure:"cache" yaml:"cache"`
	Retry         RetryConfig    `json:"retry" mapstructure:"retry" yaml:"retry"`
	Push          PushConfig     `json:"push" mapstructure:"push" yaml:"push"`
	Pacer         PacerConfig    `json:"pacer" mapstructure:"pacer" yaml:"pacer"`
	SweepInterval time.Duration  `json:"sweep_interval" mapstructure:"sweep_interval" yaml:"sweep_interval" validate:"min=0"`
	TimeSync      TimeSyncConfig `json:"time_sync" mapstructure:"time_sync" yaml:"time_sync"`
	// DangerThreshold is the usage percentage that fires danger events.
	DangerThreshold float64         `json:"danger_threshold" mapstructure:"danger_threshold" yaml:"danger_threshold" validate:"gt=0,lte=100"`
	Emergency       EmergencyConfig `json:"emergency" mapstructure:"emergency" yaml:"emergency"`
	Server          ServerConfig    `json:"server" mapstructure:"server" yaml:"server"`

	LogLevel  string `json:"log_level" mapstructure:"log_level" yaml:"log_level" validate:"omitempty,oneof=debug info warn error"`
	LogFormat string `json:"log_format" mapstructure:"log_format" yaml:"log_format" validate:"omitempty,oneof=console json"`
}

// DefaultWindows returns Binance spot quota windows.
func DefaultWindows() []WindowConfig {
	return []WindowConfig{
		{Name: "weight-1m", Kind: WindowKindWeight, Limit: 6000, Duration: time.Minute},
		{Name: "orders-10s", Kind: WindowKindOrders, Limit: 50, Duration: 10 * time.Second},
		{Name: "orders-1d", Kind: WindowKindOrders, Limit: 160000, Duration: 24 * time.Hour},
		{Name: "raw-requests-5m", Kind: WindowKindRaw, Limit: 61000, Duration: 5 * time.Minute},
	}
}

// DefaultConfig returns a Config initialized with sensible defaults for the specified exchange.
func DefaultConfig(exchange string) *Config {
	return &Config{
		Exchange: exchange,
		Timeout:  10 * time.Second,
		Windows:  DefaultWindows(),
		Cache: CacheConfig{
			Price:      1 * time.Second,
			Candles:    3 * time.Second,
			Ticker:     2 * time.Second,
			Depth:      1 * time.Second,
			Account:    60 * time.Second,
			OpenOrders: 2 * time.Second,
			Trades:     5 * time.Second,
			Metadata:   30 * time.Minute,
		},
		Retry: RetryConfig{
			MaxAttempts:      3,
			SkewBackoff:      500 * time.Millisecond,
			NetworkBackoff:   200 * time.Millisecond,
			MaxBackoff:       5 * time.Second,
			AttemptTimeout:   10 * time.Second,
			TripThreshold:    5,
			SuccessThreshold: 2,
			BreakerTimeout:   30 * time.Second,
		},
		Push: PushConfig{
			Enabled:   false,
			Intervals: []string{"1m"},
			Staleness: StalenessConfig{
				Price:   5 * time.Second,
				Candles: 60 * time.Second,
				Ticker:  5 * time.Second,
				Depth:   2 * time.Second,
			},
		},
		Pacer: PacerConfig{
			Enabled:           false,
			RequestsPerSecond: 20,
			Burst:             10,
		},
		SweepInterval: 5 * time.Second,
		TimeSync: TimeSyncConfig{
			RecvWindow:   5 * time.Second,
			SafetyMargin: 1 * time.Second,
			Hysteresis:   500 * time.Millisecond,
			SyncOnStart:  true,
		},
		DangerThreshold: 90,
		Emergency: EmergencyConfig{
			Backend:   "file",
			Path:      "emergency-mode.json",
			RedisKey:  "tollgate:emergency",
			AutoReset: 10 * time.Minute,
		},
		Server: ServerConfig{
			Addr: ":8089",
		},
		LogLevel:  "info",
		LogFormat: "console",
	}
}

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}

	seen := make(map[string]struct{}, len(c.Windows))
	for _, w := range c.Windows {
		if _, dup := seen[w.Name]; dup {
			return fmt.Errorf("Windows: duplicate window name %q", w.Name)
		}
		seen[w.Name] = struct{}{}
	}

	if c.Retry.MaxBackoff > 0 && c.Retry.NetworkBackoff > c.Retry.MaxBackoff {
		return errors.New("Retry.NetworkBackoff must not exceed Retry.MaxBackoff")
	}
	if c.Pacer.Enabled && c.Pacer.RequestsPerSecond <= 0 {
		return errors.New("Pacer.RequestsPerSecond must be positive when enabled")
	}
	if c.Push.Enabled && len(c.Push.Symbols) == 0 {
		return errors.New("Push.Symbols must not be empty when push is enabled")
	}

	switch c.Emergency.Backend {
	case "file":
		if c.Emergency.Path == "" {
			return errors.New("Emergency.Path is required for the file backend")
		}
	case "redis":
		if c.Emergency.RedisAddr == "" || c.Emergency.RedisKey == "" {
			return errors.New("Emergency.RedisAddr and Emergency.RedisKey are required for the redis backend")
		}
	}
	return nil
}

// WithCredentials appends API keys to the key ring and returns the config for chaining.
func (c *Config) WithCredentials(creds ...Credentials) *Config {
	c.Keys = append(c.Keys, creds...)
	return c
}

// WithSandbox enables or disables sandbox mode and returns the config for chaining.
func (c *Config) WithSandbox(sandbox bool) *Config {
	c.Sandbox = sandbox
	return c
}

// WithTimeout sets the request timeout and returns the config for chaining.
func (c *Config) WithTimeout(timeout time.Duration) *Config {
	c.Timeout = timeout
	return c
}

// WithWindows replaces the quota windows and returns the config for chaining.
func (c *Config) WithWindows(windows ...WindowConfig) *Config {
	c.Windows = windows
	return c
}

// WithCache replaces the cache TTL table and returns the config for chaining.
func (c *Config) WithCache(cache CacheConfig) *Config {
	c.Cache = cache
	return c
}

// WithRetry replaces the retry policy and returns the config for chaining.
func (c *Config) WithRetry(retry RetryConfig) *Config {
	c.Retry = retry
	return c
}

// WithPush enables the websocket feed for the given symbols.
func (c *Config) WithPush(symbols ...string) *Config {
	c.Push.Enabled = len(symbols) > 0
	c.Push.Symbols = symbols
	return c
}

// WithEmergency replaces the emergency settings and returns the config for chaining.
func (c *Config) WithEmergency(e EmergencyConfig) *Config {
	c.Emergency = e
	return c
}
