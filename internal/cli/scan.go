package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"breakout-failures/internal/app"
)

var (
	scanInterval string
	scanRange    string
	scanSave     bool
)

var scanCmd = &cobra.Command{
	Use:   "scan [ticker...]",
	Short: "Analyze tickers once for breakout failures",
	RunE: func(cmd *cobra.Command, args []string) error {
		tickers := args
		if len(tickers) == 0 {
			tickers = getApp().Config.Scanner.Symbols
		}
		if len(tickers) == 0 {
			return fmt.Errorf("provide tickers as arguments or configure scanner.symbols")
		}

		opts := app.ScanOptions{
			Tickers:  tickers,
			Interval: scanInterval,
			Range:    scanRange,
			Save:     scanSave,
		}

		return getApp().Scan(cmd.Context(), opts)
	},
}

func init() {
	scanCmd.Flags().StringVar(&scanInterval, "interval", "", "Candle interval (defaults to config)")
	scanCmd.Flags().StringVar(&scanRange, "range", "", "Candle range, e.g. 1d or 5d (defaults to config)")
	scanCmd.Flags().BoolVar(&scanSave, "save", false, "Persist detected failures to the database")
}
