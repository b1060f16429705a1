package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"tradelab/internal/domain"
	"tradelab/internal/stream"
	"tradelab/pkg/tradelab"
)

var (
	instrument  string
	instruments []string
	strategyID  string
	params      string
	startDate   string
	endDate     string
	interval    string
	bypassCache bool
	useGRPC     bool
	useWS       bool
	allStored   bool
)

var strategiesCmd = &cobra.Command{
	Use:   "strategies",
	Short: "List available strategies with their defaults",
	RunE: func(cmd *cobra.Command, _ []string) error {
		list, err := client().Strategies(cmd.Context())
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), list)
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tWARM-UP\tDEFAULTS")
		for _, s := range list {
			fmt.Fprintf(tw, "%s\t%d\t%s\n", s.ID, s.WarmUp, s.Defaults)
		}
		return tw.Flush()
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Backtest one instrument",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if instrument == "" {
			return errors.New("--instrument is required")
		}
		req := request()
		req.InstrumentID = instrument
		res, err := client().Run(cmd.Context(), req)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), res)
		}
		printResult(cmd.OutOrStdout(), res)
		return nil
	},
}

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Backtest many instruments and wait for the summary",
	RunE: func(cmd *cobra.Command, _ []string) error {
		req, err := batchRequest(cmd.Context())
		if err != nil {
			return err
		}
		res, err := client().RunBatch(cmd.Context(), req)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), res)
		}
		w := cmd.OutOrStdout()
		ids := make([]string, 0, len(res.Results))
		for id := range res.Results {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			printResult(w, res.Results[id])
		}
		for id, msg := range res.Errors {
			fmt.Fprintf(w, "%-8s error: %s\n", id, msg)
		}
		printSummary(w, res.Summary, res.ElapsedSeconds)
		return nil
	},
}

var streamCmd = &cobra.Command{
	Use:   "stream",
	Short: "Backtest many instruments, printing results as they complete",
	RunE: func(cmd *cobra.Command, _ []string) error {
		req, err := batchRequest(cmd.Context())
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		handle := func(ev tradelab.Event) error {
			if jsonOutput {
				data, err := json.Marshal(ev)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(w, string(data))
				return err
			}
			printEvent(w, ev)
			return nil
		}
		switch {
		case useGRPC:
			return tradelab.StreamGRPC(cmd.Context(), grpcAddr, req, handle)
		case useWS:
			return client().StreamWebSocket(cmd.Context(), req, handle)
		}
		return client().Stream(cmd.Context(), req, handle)
	},
}

var instrumentsCmd = &cobra.Command{
	Use:   "instruments",
	Short: "List the instruments the server has bars for",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ids, err := client().Instruments(cmd.Context(), interval)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), ids)
		}
		for _, id := range ids {
			fmt.Fprintln(cmd.OutOrStdout(), id)
		}
		return nil
	},
}

var invalidateCmd = &cobra.Command{
	Use:   "invalidate <instrument>",
	Short: "Drop cached results for an instrument",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := client().Invalidate(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		cmd.Printf("removed %d cached results for %s\n", n, args[0])
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{runCmd, batchCmd, streamCmd} {
		c.Flags().StringVar(&strategyID, "strategy", "rsi", "strategy id")
		c.Flags().StringVar(&params, "params", "", `strategy parameters as JSON, e.g. '{"period":10}'`)
		c.Flags().StringVar(&startDate, "start", defaultStart(), "start date (YYYY-MM-DD)")
		c.Flags().StringVar(&endDate, "end", defaultEnd(), "end date (YYYY-MM-DD)")
		c.Flags().StringVar(&interval, "interval", "", "bar interval (1m, 5m, 15m, 1h, 4h, 1d); server default when empty")
		c.Flags().BoolVar(&bypassCache, "bypass-cache", false, "skip the result cache")
	}
	runCmd.Flags().StringVar(&instrument, "instrument", "", "instrument id")
	batchCmd.Flags().StringSliceVar(&instruments, "instruments", nil, "instrument ids, comma separated")
	streamCmd.Flags().StringSliceVar(&instruments, "instruments", nil, "instrument ids, comma separated")
	for _, c := range []*cobra.Command{batchCmd, streamCmd} {
		c.Flags().BoolVar(&allStored, "all", false, "backtest every instrument the server has bars for")
		c.MarkFlagsMutuallyExclusive("all", "instruments")
	}
	instrumentsCmd.Flags().StringVar(&interval, "interval", "", "bar interval; server default when empty")
	streamCmd.Flags().BoolVar(&useGRPC, "grpc", false, "stream over gRPC instead of Server-Sent Events")
	streamCmd.Flags().BoolVar(&useWS, "ws", false, "stream over WebSocket instead of Server-Sent Events")
	streamCmd.MarkFlagsMutuallyExclusive("grpc", "ws")

	rootCmd.AddCommand(strategiesCmd, instrumentsCmd, runCmd, batchCmd, streamCmd, invalidateCmd)
}

func request() tradelab.Request {
	req := tradelab.Request{
		StrategyID:  strategyID,
		StartDate:   startDate,
		EndDate:     endDate,
		Interval:    interval,
		BypassCache: bypassCache,
	}
	if params != "" {
		req.Parameters = json.RawMessage(params)
	}
	return req
}

func batchRequest(ctx context.Context) (tradelab.Request, error) {
	ids := splitIDs(instruments)
	if allStored {
		stored, err := client().Instruments(ctx, interval)
		if err != nil {
			return tradelab.Request{}, err
		}
		if len(stored) == 0 {
			return tradelab.Request{}, errors.New("the server holds no instruments at this interval")
		}
		ids = stored
	}
	if len(ids) == 0 {
		return tradelab.Request{}, errors.New("--instruments or --all is required")
	}
	req := request()
	req.InstrumentIDs = ids
	return req, nil
}

func printResult(w io.Writer, r *domain.BacktestResult) {
	fmt.Fprintf(w, "%-8s return %7.2f%%  buy&hold %7.2f%%  trades %3d  win %5.1f%%  maxDD %6.2f%%  sharpe %5.2f  pf %6.2f\n",
		r.InstrumentID, r.TotalReturnPct, r.BuyHoldReturnPct, r.TradeCount, r.WinRatePct, r.MaxDrawdownPct, r.SharpeRatio, r.ProfitFactor)
}

func printSummary(w io.Writer, s stream.Summary, elapsed float64) {
	fmt.Fprintf(w, "\n%d/%d succeeded, %d failed, %d trades, avg return %.2f%% (%.1fs)\n",
		s.Successful, s.Total, s.Failed, s.TotalTrades, s.AvgReturn, elapsed)
	if s.Best != nil && s.Worst != nil {
		fmt.Fprintf(w, "best %s %.2f%%, worst %s %.2f%%\n", s.Best.InstrumentID, s.Best.TotalReturnPct, s.Worst.InstrumentID, s.Worst.TotalReturnPct)
	}
}

func printEvent(w io.Writer, ev stream.Event) {
	switch ev.Type {
	case stream.EventStart:
		fmt.Fprintf(w, "running %s on %d instruments (%s to %s)\n", ev.Start.StrategyID, ev.Start.Total, ev.Start.StartDate, ev.Start.EndDate)
	case stream.EventResult:
		printResult(w, ev.Result)
	case stream.EventError:
		fmt.Fprintf(w, "%-8s error: %s\n", ev.Error.InstrumentID, ev.Error.Error)
	case stream.EventProgress:
		// Results already show progress line by line.
	case stream.EventComplete:
		printSummary(w, ev.Complete.Summary, ev.Complete.ElapsedSeconds)
	}
}
