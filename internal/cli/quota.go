package cli

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	httpclient "tollgate/internal/http"
	"tollgate/internal/ratelimit"
	"tollgate/pkg/core"
	"tollgate/pkg/gateway"
)

func newQuotaCmd(opts *options) *cobra.Command {
	var (
		output string
		server string
	)

	cmd := &cobra.Command{
		Use:   "quota",
		Short: "Show quota window usage",
		Long: `Show usage of every quota window. With --server the snapshot comes from a
running "tollgate serve"; otherwise a server-time request is sent and the
exchange's usage headers are reported.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := parseFormat(output)
			if err != nil {
				return err
			}

			var windows []gateway.WindowStatus
			if server != "" {
				windows, err = fetchServerQuota(cmd.Context(), server, opts)
			} else {
				windows, err = fetchQuota(cmd.Context(), opts)
			}
			if err != nil {
				return err
			}

			if format == formatJSON {
				return writeJSON(cmd.OutOrStdout(), map[string]any{"windows": windows})
			}
			renderQuota(cmd.OutOrStdout(), windows)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", string(formatTable), "output format: table|json")
	cmd.Flags().StringVar(&server, "server", "", "read the snapshot from a running server, e.g. http://localhost:8089")
	return cmd
}

func fetchQuota(ctx context.Context, opts *options) ([]gateway.WindowStatus, error) {
	gw, err := opts.newGateway(false)
	if err != nil {
		return nil, err
	}
	defer func() { _ = gw.Close() }()

	if err := gw.SyncClock(ctx); err != nil {
		return nil, fmt.Errorf("query exchange: %w", err)
	}
	return gw.GetQuotaSnapshot(), nil
}

func fetchServerQuota(ctx context.Context, server string, opts *options) ([]gateway.WindowStatus, error) {
	client, err := httpclient.NewClient(&httpclient.Config{
		BaseURL: strings.TrimRight(server, "/"),
		Timeout: opts.cfg.Timeout,
		Logger:  opts.logger,
	})
	if err != nil {
		return nil, err
	}
	defer func() { _ = client.Close() }()

	resp, err := client.Do(ctx, core.NewRequest(http.MethodGet, "/quota"))
	if err != nil {
		return nil, fmt.Errorf("fetch quota: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("fetch quota: unexpected status %d", resp.StatusCode())
	}

	var body struct {
		Windows []gateway.WindowStatus `json:"windows"`
	}
	if err := sonic.Unmarshal(resp.Bytes(), &body); err != nil {
		return nil, fmt.Errorf("decode quota: %w", err)
	}
	return body.Windows, nil
}

func renderQuota(w io.Writer, windows []gateway.WindowStatus) {
	t := newTable(w, table.Row{"Window", "Kind", "Used", "Limit", "Usage", "Resets In", "Status"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
	})

	for _, s := range windows {
		reset := "-"
		if s.ResetEstimate > 0 {
			reset = s.ResetEstimate.Round(time.Second).String()
		}
		t.AppendRow(table.Row{
			s.Name,
			string(s.Kind),
			s.Current,
			s.Limit,
			fmt.Sprintf("%.1f%%", s.Percentage),
			reset,
			statusLabel(s.Status),
		})
	}
	if len(windows) == 0 {
		t.AppendRow(table.Row{"(no windows)", "", "", "", "", "", ""})
	}
	t.Render()
}

func statusLabel(s ratelimit.Status) string {
	switch s {
	case ratelimit.StatusDanger:
		return text.FgRed.Sprint(strings.ToUpper(string(s)))
	case ratelimit.StatusWarning:
		return text.FgYellow.Sprint(strings.ToUpper(string(s)))
	default:
		return strings.ToUpper(string(s))
	}
}
