package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"tradelab/internal/config"
	"tradelab/internal/domain"
	"tradelab/internal/ingest"
	"tradelab/internal/notify"
	"tradelab/internal/store"
	"tradelab/internal/util"
)

var (
	importFile     string
	importSymbol   string
	importSymbols  []string
	importAlpaca   bool
	importInterval string
	importStart    string
	importEnd      string
	importWorkers  int
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Load bars into the configured store and announce them",
	Long: `Import writes bars into the store named by the config file (parquet,
sqlite or postgres) and, when nats.url is set, publishes an ingest notice per
instrument so running servers drop stale cached results.

Examples:
  # Load a CSV export for one symbol
  tradelab-cli import --file aapl.csv --symbol AAPL

  # Pull two years of daily bars from Alpaca
  tradelab-cli import --alpaca --symbols AAPL,MSFT --start 2023-01-01 --end 2025-01-01`,
	RunE: runImport,
}

func init() {
	importCmd.Flags().StringVar(&importFile, "file", "", "CSV file with a header row")
	importCmd.Flags().StringVar(&importSymbol, "symbol", "", "symbol for CSV rows without a symbol column")
	importCmd.Flags().BoolVar(&importAlpaca, "alpaca", false, "pull bars from the Alpaca market-data API")
	importCmd.Flags().StringSliceVar(&importSymbols, "symbols", nil, "symbols to pull from Alpaca, comma separated")
	importCmd.Flags().StringVar(&importInterval, "interval", string(domain.Interval1d), "bar interval")
	importCmd.Flags().StringVar(&importStart, "start", defaultStart(), "start date for --alpaca (YYYY-MM-DD)")
	importCmd.Flags().StringVar(&importEnd, "end", defaultEnd(), "end date for --alpaca (YYYY-MM-DD)")
	importCmd.Flags().IntVar(&importWorkers, "workers", 4, "concurrent Alpaca requests")
	rootCmd.AddCommand(importCmd)
}

func runImport(cmd *cobra.Command, _ []string) error {
	if (importFile == "") == !importAlpaca {
		return errors.New("exactly one of --file or --alpaca must be given")
	}
	iv, err := domain.ParseInterval(importInterval)
	if err != nil {
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)

	backend, err := store.Open(cfg.StoreOptions())
	if err != nil {
		return err
	}
	defer backend.Close()
	dst, ok := backend.(store.BarWriter)
	if !ok {
		return fmt.Errorf("storage driver %q is read-only", cfg.Storage.Driver)
	}

	var pub ingest.Publisher
	if cfg.NATS.URL != "" {
		p, err := notify.NewPublisher(cfg.NotifyOptions(), logger)
		if err != nil {
			return err
		}
		defer p.Close()
		pub = p
	}
	im := ingest.NewImporter(dst, pub, logger)

	var sums []ingest.Summary
	if importAlpaca {
		sums, err = pullAlpaca(cmd, cfg, im, iv, logger)
	} else {
		sums, err = importCSV(cmd, im, iv)
	}
	if err != nil {
		return err
	}

	for _, s := range sums {
		cmd.Printf("%-8s %6d bars  %s .. %s\n", s.InstrumentID, s.Bars, s.Start.Format(time.DateOnly), s.End.Format(time.DateOnly))
	}
	return nil
}

func importCSV(cmd *cobra.Command, im *ingest.Importer, iv domain.Interval) ([]ingest.Summary, error) {
	f, err := os.Open(importFile)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	bars, err := ingest.ReadCSV(f, importSymbol)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", importFile, err)
	}
	return im.Write(cmd.Context(), iv, bars)
}

func pullAlpaca(cmd *cobra.Command, cfg *config.Config, im *ingest.Importer, iv domain.Interval, logger *slog.Logger) ([]ingest.Summary, error) {
	ids := splitIDs(importSymbols)
	if len(ids) == 0 {
		return nil, errors.New("--symbols is required with --alpaca")
	}
	start, err := time.Parse(time.DateOnly, importStart)
	if err != nil {
		return nil, fmt.Errorf("--start: %w", err)
	}
	end, err := time.Parse(time.DateOnly, importEnd)
	if err != nil {
		return nil, fmt.Errorf("--end: %w", err)
	}
	src := store.NewAlpacaStore(cfg.StoreOptions().Alpaca)
	logger.Info("pulling bars from alpaca", "symbols", len(ids), "interval", iv, "start", importStart, "end", importEnd)
	return im.Pull(cmd.Context(), src, ids, iv, start, end, importWorkers)
}
