package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"autoclose-bot/internal/executor"
	"autoclose-bot/internal/journal"
	"autoclose-bot/internal/monitor"
	"autoclose-bot/internal/settings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const reasonManualCloseAll = "manual_close_all"

func newCloseAllCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "close-all",
		Short: "Close every open position with market orders",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runCloseAll(ctx, cmd, yes)
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	return cmd
}

func runCloseAll(ctx context.Context, cmd *cobra.Command, yes bool) error {
	a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	hedge, err := a.detectHedgeMode(ctx)
	if err != nil {
		return err
	}

	// every position, whitelist or not
	all := settings.New(a.thresholds().TakeProfit, a.thresholds().StopLoss, a.cfg.Guard.CheckInterval, nil)
	mon := monitor.New(a.exc, a.quoteAsset(), a.log)
	snap, err := retry(ctx, func() (*monitor.Snapshot, error) {
		return mon.Fetch(ctx, all)
	})
	if err != nil {
		return err
	}

	printSnapshot(cmd, a.exc.Name(), hedge, snap, all)
	if len(snap.Positions) == 0 {
		return nil
	}
	if a.cfg.Guard.DryRun {
		fmt.Fprintln(cmd.OutOrStdout(), "\ndry run: no orders sent")
		return nil
	}
	if !yes && !confirm(cmd.InOrStdin(), cmd.OutOrStdout(), fmt.Sprintf("\nClose %d positions now? Type 'yes' to confirm: ", len(snap.Positions))) {
		fmt.Fprintln(cmd.OutOrStdout(), "aborted")
		return nil
	}

	exec := executor.New(a.exc, hedge, a.log)
	results := exec.CloseAll(ctx, snap.Positions, a.cfg.Guard.CloseAllPause)

	var j *journal.SQLiteJournal
	if a.cfg.Journal.Path != "" {
		if j, err = journal.NewSQLite(a.cfg.Journal.Path); err != nil {
			a.log.Warn("journal unavailable", zap.Error(err))
		} else {
			defer j.Close()
		}
	}

	failed := 0
	for _, res := range results {
		if j != nil {
			if err := j.Record(ctx, reasonManualCloseAll, res); err != nil {
				a.log.Warn("failed to journal close", zap.Error(err))
			}
		}
		status := "ok"
		if !res.Success {
			status = "FAILED"
			failed++
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%-6s %s %s %s via %s\n", status, res.Symbol, res.Side, res.Quantity, res.Method)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d positions could not be closed", failed, len(results))
	}
	return nil
}

func confirm(in io.Reader, out io.Writer, prompt string) bool {
	fmt.Fprint(out, prompt)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(line), "yes")
}
