package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"autoclose-bot/internal/monitor"
	"autoclose-bot/internal/settings"

	"github.com/spf13/cobra"
)

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify connectivity: print balance, position mode and open positions",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runCheck(ctx, cmd)
		},
	}
}

func runCheck(ctx context.Context, cmd *cobra.Command) error {
	a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	hedge, err := a.detectHedgeMode(ctx)
	if err != nil {
		return err
	}

	mon := monitor.New(a.exc, a.quoteAsset(), a.log)
	th := a.thresholds()
	snap, err := retry(ctx, func() (*monitor.Snapshot, error) {
		return mon.Fetch(ctx, th)
	})
	if err != nil {
		return fmt.Errorf("connectivity check failed: %w", err)
	}

	printSnapshot(cmd, a.exc.Name(), hedge, snap, th)
	return nil
}

func printSnapshot(cmd *cobra.Command, venue string, hedge bool, snap *monitor.Snapshot, th settings.Thresholds) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "venue:          %s\n", venue)
	fmt.Fprintf(out, "hedge mode:     %v\n", hedge)
	fmt.Fprintf(out, "balance:        %s\n", snap.Balance.StringFixed(2))
	fmt.Fprintf(out, "take profit:    %s\n", th.TakeProfit)
	fmt.Fprintf(out, "stop loss:      %s\n", th.StopLoss)
	fmt.Fprintf(out, "open positions: %d\n", len(snap.Positions))
	fmt.Fprintf(out, "total pnl:      %s\n", snap.TotalPnL.StringFixed(4))
	if len(snap.Positions) == 0 {
		return
	}

	fmt.Fprintln(out)
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SYMBOL\tSIDE\tQTY\tENTRY\tMARK\tPNL")
	for _, p := range snap.Positions {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			p.Symbol, p.Side(), p.CloseQuantity(), p.EntryPrice, p.MarkPrice, p.UnrealizedPnL.StringFixed(4))
	}
	tw.Flush()
}
