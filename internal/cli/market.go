package cli

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func newPriceCmd(opts *options) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "price SYMBOL...",
		Short: "Show the latest price of one or more symbols",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := parseFormat(output)
			if err != nil {
				return err
			}
			gw, err := opts.newGateway(false)
			if err != nil {
				return err
			}
			defer func() { _ = gw.Close() }()

			rows := make([]map[string]string, 0, len(args))
			for _, symbol := range args {
				p, err := gw.GetPrice(cmd.Context(), symbol)
				if err != nil {
					return fmt.Errorf("price %s: %w", symbol, err)
				}
				rows = append(rows, map[string]string{"symbol": p.Symbol, "price": p.Price.String()})
			}

			if format == formatJSON {
				return writeJSON(cmd.OutOrStdout(), rows)
			}
			t := newTable(cmd.OutOrStdout(), table.Row{"Symbol", "Price"})
			for _, r := range rows {
				t.AppendRow(table.Row{r["symbol"], r["price"]})
			}
			t.Render()
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", string(formatTable), "output format: table|json")
	return cmd
}

func newKlinesCmd(opts *options) *cobra.Command {
	var (
		output   string
		interval string
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "klines SYMBOL",
		Short: "Show recent candles",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := parseFormat(output)
			if err != nil {
				return err
			}
			if limit < 1 || limit > 1000 {
				return fmt.Errorf("limit must be between 1 and 1000, got %d", limit)
			}
			gw, err := opts.newGateway(false)
			if err != nil {
				return err
			}
			defer func() { _ = gw.Close() }()

			klines, err := gw.GetKlines(cmd.Context(), args[0], interval, limit)
			if err != nil {
				return err
			}

			if format == formatJSON {
				return writeJSON(cmd.OutOrStdout(), klines)
			}
			t := newTable(cmd.OutOrStdout(), table.Row{"Open Time", "Open", "High", "Low", "Close", "Volume", "Trades"})
			for i := range klines {
				k := &klines[i]
				t.AppendRow(table.Row{
					k.OpenTime.UTC().Format("2006-01-02 15:04:05"),
					k.Open.String(),
					k.High.String(),
					k.Low.String(),
					k.Close.String(),
					k.Volume.String(),
					k.NumTrades,
				})
			}
			t.Render()
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", string(formatTable), "output format: table|json")
	cmd.Flags().StringVarP(&interval, "interval", "i", "1m", "candle interval, e.g. 1m, 15m, 1h, 1d")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of candles")
	return cmd
}

func newTickerCmd(opts *options) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "ticker [SYMBOL]",
		Short: "Show 24h statistics for a symbol, or every symbol when none is given",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := parseFormat(output)
			if err != nil {
				return err
			}
			gw, err := opts.newGateway(false)
			if err != nil {
				return err
			}
			defer func() { _ = gw.Close() }()

			var symbol string
			if len(args) == 1 {
				symbol = args[0]
			}
			tickers, err := gw.Get24hTicker(cmd.Context(), symbol)
			if err != nil {
				return err
			}

			if format == formatJSON {
				return writeJSON(cmd.OutOrStdout(), tickers)
			}
			t := newTable(cmd.OutOrStdout(), table.Row{"Symbol", "Last", "Change %", "High", "Low", "Volume"})
			for i := range tickers {
				tk := &tickers[i]
				t.AppendRow(table.Row{
					strings.ToUpper(tk.Symbol),
					tk.Last.String(),
					tk.PriceChangePercent.String(),
					tk.High.String(),
					tk.Low.String(),
					tk.Volume.String(),
				})
			}
			t.Render()
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", string(formatTable), "output format: table|json")
	return cmd
}
