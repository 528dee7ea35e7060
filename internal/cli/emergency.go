package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"tollgate/internal/emergency"
)

func newEmergencyCmd(opts *options) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "emergency",
		Short: "Inspect or flip the emergency switch shared with running gateways",
		Long: `While emergency mode is active, gateways refuse non-critical reads that
would reach the exchange. The flag lives in the backend named by
emergency.backend (file or redis), so every process sharing it sees the change.`,
	}
	cmd.PersistentFlags().StringVarP(&output, "output", "o", string(formatTable), "output format: table|json")

	status := &cobra.Command{
		Use:   "status",
		Short: "Show the emergency flag",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withControl(opts, func(ctrl emergency.Control) error {
				st, err := ctrl.Status(cmd.Context())
				if err != nil {
					return err
				}
				return printEmergency(cmd.OutOrStdout(), output, st)
			})
		},
	}

	var (
		reason   string
		duration time.Duration
	)
	on := &cobra.Command{
		Use:   "on",
		Short: "Activate emergency mode",
		RunE: func(cmd *cobra.Command, args []string) error {
			if duration < 0 {
				return fmt.Errorf("duration must not be negative")
			}
			return withControl(opts, func(ctrl emergency.Control) error {
				if err := ctrl.Activate(cmd.Context(), reason, duration); err != nil {
					return err
				}
				opts.logger.Warn().Str("reason", reason).Dur("duration", duration).Msg("emergency mode activated")
				st, err := ctrl.Status(cmd.Context())
				if err != nil {
					return err
				}
				return printEmergency(cmd.OutOrStdout(), output, st)
			})
		},
	}
	on.Flags().StringVarP(&reason, "reason", "r", "manual", "reason recorded with the flag")
	on.Flags().DurationVarP(&duration, "duration", "d", 0, "auto-reset after this long (0 keeps it until turned off)")

	off := &cobra.Command{
		Use:   "off",
		Short: "Deactivate emergency mode",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withControl(opts, func(ctrl emergency.Control) error {
				if err := ctrl.Deactivate(cmd.Context()); err != nil {
					return err
				}
				opts.logger.Info().Msg("emergency mode deactivated")
				st, err := ctrl.Status(cmd.Context())
				if err != nil {
					return err
				}
				return printEmergency(cmd.OutOrStdout(), output, st)
			})
		},
	}

	cmd.AddCommand(status, on, off)
	return cmd
}

func withControl(opts *options, fn func(emergency.Control) error) error {
	if opts.cfg.Emergency.Backend == "none" || opts.cfg.Emergency.Backend == "" {
		return fmt.Errorf("emergency backend is %q; configure file or redis to share the flag", opts.cfg.Emergency.Backend)
	}
	ctrl, err := emergency.New(opts.cfg.Emergency, opts.logger)
	if err != nil {
		return err
	}
	if c, ok := ctrl.(io.Closer); ok {
		defer func() { _ = c.Close() }()
	}
	return fn(ctrl)
}

func printEmergency(w io.Writer, output string, st emergency.State) error {
	format, err := parseFormat(output)
	if err != nil {
		return err
	}
	if format == formatJSON {
		return writeJSON(w, st)
	}

	if !st.Enabled {
		_, err := fmt.Fprintln(w, "emergency mode: OFF")
		return err
	}
	fmt.Fprintf(w, "emergency mode: ON\nreason: %s\nsince: %s\n", st.Reason, st.Timestamp.Format(time.RFC3339))
	if st.AutoResetTime.IsZero() {
		_, err = fmt.Fprintln(w, "auto reset: never")
	} else {
		_, err = fmt.Fprintf(w, "auto reset: %s (in %s)\n", st.AutoResetTime.Format(time.RFC3339), st.Remaining(time.Now()).Round(time.Second))
	}
	return err
}
