package main

import (
	"encoding/json"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"tradelab/pkg/tradelab"
)

const version = "0.1.0"

var (
	serverURL  string
	grpcAddr   string
	configPath string
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "tradelab-cli",
	Short: "Run strategy backtests against a tradelab-server",
	Long: `tradelab-cli submits backtests to a running tradelab-server and
imports bar data into the configured store.

Examples:
  tradelab-cli strategies
  tradelab-cli run --instrument AAPL --strategy rsi --start 2023-01-01 --end 2024-01-01
  tradelab-cli stream --instruments AAPL,MSFT,NVDA --strategy bollinger --start 2023-01-01 --end 2024-01-01
  tradelab-cli batch --all --strategy momentum --start 2023-01-01 --end 2024-01-01
  tradelab-cli import --file aapl.csv --symbol AAPL`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the CLI version",
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Printf("tradelab-cli %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("TRADELAB_SERVER", "http://localhost:8080"), "tradelab-server HTTP base URL")
	rootCmd.PersistentFlags().StringVar(&grpcAddr, "grpc-addr", envOr("TRADELAB_GRPC", "localhost:9090"), "tradelab-server gRPC address")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (defaults to $TRADELAB_CONFIG)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print raw JSON")
	rootCmd.AddCommand(versionCmd)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func client() *tradelab.Client { return tradelab.NewClient(serverURL) }

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// splitIDs accepts comma-separated and repeated values alike.
func splitIDs(values []string) []string {
	var out []string
	for _, v := range values {
		for _, id := range strings.Split(v, ",") {
			if id = strings.TrimSpace(id); id != "" {
				out = append(out, id)
			}
		}
	}
	return out
}

func defaultStart() string { return time.Now().AddDate(-1, 0, 0).Format(time.DateOnly) }
func defaultEnd() string   { return time.Now().Format(time.DateOnly) }
