package core

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variables that override file settings.
const EnvPrefix = "TOLLGATE"

// LoadConfig reads config from a YAML, JSON or TOML file with env var overrides
// (TOLLGATE_LOG_LEVEL, TOLLGATE_EMERGENCY_BACKEND, ...). An empty path loads
// defaults and environment only. Credentials may come from TOLLGATE_API_KEY and
// TOLLGATE_SECRET_KEY, which add a key named "env" to the ring.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig("binance")

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, cfg)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	key := os.Getenv(EnvPrefix + "_API_KEY")
	secret := os.Getenv(EnvPrefix + "_SECRET_KEY")
	if key != "" && secret != "" {
		cfg.WithCredentials(Credentials{ID: "env", APIKey: key, SecretKey: secret})
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// setDefaults registers scalar keys so AutomaticEnv can override them even when
// the file omits them.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("exchange", cfg.Exchange)
	v.SetDefault("sandbox", cfg.Sandbox)
	v.SetDefault("base_url", cfg.BaseURL)
	v.SetDefault("stream_url", cfg.StreamURL)
	v.SetDefault("timeout", cfg.Timeout)
	v.SetDefault("sweep_interval", cfg.SweepInterval)
	v.SetDefault("danger_threshold", cfg.DangerThreshold)

	v.SetDefault("cache.price", cfg.Cache.Price)
	v.SetDefault("cache.candles", cfg.Cache.Candles)
	v.SetDefault("cache.ticker", cfg.Cache.Ticker)
	v.SetDefault("cache.depth", cfg.Cache.Depth)
	v.SetDefault("cache.account", cfg.Cache.Account)
	v.SetDefault("cache.open_orders", cfg.Cache.OpenOrders)
	v.SetDefault("cache.trades", cfg.Cache.Trades)
	v.SetDefault("cache.metadata", cfg.Cache.Metadata)

	v.SetDefault("retry.max_attempts", cfg.Retry.MaxAttempts)
	v.SetDefault("retry.skew_backoff", cfg.Retry.SkewBackoff)
	v.SetDefault("retry.network_backoff", cfg.Retry.NetworkBackoff)
	v.SetDefault("retry.max_backoff", cfg.Retry.MaxBackoff)
	v.SetDefault("retry.attempt_timeout", cfg.Retry.AttemptTimeout)
	v.SetDefault("retry.trip_threshold", cfg.Retry.TripThreshold)
	v.SetDefault("retry.success_threshold", cfg.Retry.SuccessThreshold)
	v.SetDefault("retry.breaker_timeout", cfg.Retry.BreakerTimeout)

	v.SetDefault("push.enabled", cfg.Push.Enabled)
	v.SetDefault("push.symbols", cfg.Push.Symbols)
	v.SetDefault("push.intervals", cfg.Push.Intervals)

	v.SetDefault("pacer.enabled", cfg.Pacer.Enabled)
	v.SetDefault("pacer.requests_per_second", cfg.Pacer.RequestsPerSecond)
	v.SetDefault("pacer.burst", cfg.Pacer.Burst)

	v.SetDefault("time_sync.recv_window", cfg.TimeSync.RecvWindow)
	v.SetDefault("time_sync.safety_margin", cfg.TimeSync.SafetyMargin)
	v.SetDefault("time_sync.hysteresis", cfg.TimeSync.Hysteresis)
	v.SetDefault("time_sync.sync_on_start", cfg.TimeSync.SyncOnStart)

	v.SetDefault("emergency.backend", cfg.Emergency.Backend)
	v.SetDefault("emergency.path", cfg.Emergency.Path)
	v.SetDefault("emergency.redis_addr", cfg.Emergency.RedisAddr)
	v.SetDefault("emergency.redis_key", cfg.Emergency.RedisKey)
	v.SetDefault("emergency.auto_reset", cfg.Emergency.AutoReset)
	v.SetDefault("emergency.activate_on_danger", cfg.Emergency.ActivateOnDanger)

	v.SetDefault("server.addr", cfg.Server.Addr)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("log_format", cfg.LogFormat)
}
