package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"autoclose-bot/internal/config"
	"autoclose-bot/internal/dashboard"
	"autoclose-bot/internal/executor"
	"autoclose-bot/internal/journal"
	"autoclose-bot/internal/monitor"
	"autoclose-bot/internal/notify"
	"autoclose-bot/internal/settings"
	"autoclose-bot/internal/strategy"
	"autoclose-bot/pkg/ws"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the guard loop (and the dashboard when enabled)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runGuard(ctx)
		},
	}
}

func runGuard(ctx context.Context) error {
	a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer a.close()
	log := a.log
	cfg := a.cfg

	hedge, err := a.detectHedgeMode(ctx)
	if err != nil {
		log.Warn("position mode unknown, assuming one-way", zap.Error(err))
	}

	holder := settings.NewHolder(a.thresholds())
	mon := monitor.New(a.exc, a.quoteAsset(), log)
	exec := executor.New(a.exc, hedge, log)

	// the loop retries on its own after error_pause
	if _, err := retry(ctx, func() (*monitor.Snapshot, error) {
		return mon.Fetch(ctx, holder.Load())
	}); err != nil {
		log.Warn("startup probe failed, starting anyway", zap.Error(err))
	}

	var opts []strategy.Option

	var j *journal.SQLiteJournal
	if cfg.Journal.Path != "" {
		if j, err = journal.NewSQLite(cfg.Journal.Path); err != nil {
			return err
		}
		defer j.Close()
		opts = append(opts, strategy.WithRecorder(j))
	}

	if cfg.Telegram.BotToken != "" {
		tg, err := notify.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID, log)
		if err != nil {
			// notifications are optional; keep guarding without them
			log.Warn("telegram disabled", zap.Error(err))
		} else {
			defer tg.Close()
			opts = append(opts, strategy.WithNotifier(tg))
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	var stream *ws.MarkPriceStream
	if cfg.MarkStream.Enabled && cfg.Exchange.Venue == config.VenueBinance {
		url := cfg.MarkStream.URL
		if cfg.Exchanges.Binance.Testnet && url == ws.DefaultMarkPriceURL {
			url = ws.TestnetMarkPriceURL
		}
		stream = ws.NewMarkPriceStream(url, log)
		g.Go(func() error { return stream.Run(gctx) })
	}

	if cfg.Dashboard.Enabled {
		var dashOpts []dashboard.Option
		if stream != nil {
			dashOpts = append(dashOpts, dashboard.WithPriceSource(stream))
		}
		if j != nil {
			dashOpts = append(dashOpts, dashboard.WithCloseLog(j))
		}
		srv := dashboard.NewServer(dashboard.Config{
			Addr:       cfg.Dashboard.Addr,
			StaleAfter: cfg.Dashboard.StaleAfter,
		}, holder, mon, a.exc, log, dashOpts...)
		opts = append(opts, strategy.WithObserver(srv.PublishSnapshot))
		g.Go(func() error { return srv.Run(gctx) })
	}

	guard := strategy.NewAutoCloseStrategy(strategy.Config{
		Mode:       strategy.Mode(cfg.Guard.Mode),
		ErrorPause: cfg.Guard.ErrorPause,
		ClosePause: cfg.Guard.ClosePause,
		DryRun:     cfg.Guard.DryRun,
	}, mon, exec, holder, log, opts...)
	g.Go(func() error { return guard.Start(gctx) })

	err = g.Wait()
	log.Info("shutdown complete")
	return err
}
