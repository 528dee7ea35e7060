// Package cli implements the tollgate command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"tollgate/pkg/core"
	"tollgate/pkg/gateway"
)

// options holds the persistent flags and what PersistentPreRunE derives from them.
type options struct {
	configPath string
	logLevel   string
	logFormat  string

	cfg    *core.Config
	logger zerolog.Logger
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "tollgate",
		Short: "Rate-limit governor and caching gateway for the Binance API",
		Long: `tollgate tracks Binance request quotas locally, caches and coalesces reads,
falls back between the websocket feed and REST, and exposes an emergency switch
that stops non-critical traffic.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load(cmd.ErrOrStderr())
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "config file (yaml, json or toml)")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level: debug|info|warn|error (overrides config)")
	flags.StringVar(&opts.logFormat, "log-format", "", "log format: console|json (overrides config)")

	cmd.AddCommand(
		newQuotaCmd(opts),
		newPriceCmd(opts),
		newKlinesCmd(opts),
		newTickerCmd(opts),
		newConfigCmd(opts),
		newServeCmd(opts),
		newEmergencyCmd(opts),
	)
	return cmd
}

// Execute runs the root command with ctx.
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}

func (o *options) load(stderr io.Writer) error {
	cfg, err := core.LoadConfig(o.configPath)
	if err != nil {
		return err
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	if o.logFormat != "" {
		cfg.LogFormat = o.logFormat
	}

	logger, err := NewLogger(cfg.LogLevel, cfg.LogFormat, stderr)
	if err != nil {
		return err
	}
	o.cfg = cfg
	o.logger = logger
	return nil
}

// newGateway builds a gateway from the loaded config. One-shot commands leave
// the push feed off.
func (o *options) newGateway(push bool) (*gateway.Gateway, error) {
	cfg := *o.cfg
	if !push {
		cfg.Push.Enabled = false
	}
	return gateway.New(&cfg, gateway.WithLogger(o.logger))
}

// NewLogger builds a zerolog logger writing to w.
func NewLogger(level, format string, w io.Writer) (zerolog.Logger, error) {
	lvl := zerolog.InfoLevel
	if level != "" {
		var err error
		if lvl, err = zerolog.ParseLevel(strings.ToLower(level)); err != nil {
			return zerolog.Nop(), fmt.Errorf("invalid log level %q: %w", level, err)
		}
	}

	switch format {
	case "", "console":
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}
	case "json":
	default:
		return zerolog.Nop(), fmt.Errorf("invalid log format %q", format)
	}

	return zerolog.New(w).Level(lvl).With().Timestamp().Logger(), nil
}
