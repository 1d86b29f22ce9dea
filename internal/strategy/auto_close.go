package strategy

import (
	"context"
	"time"

	"autoclose-bot/internal/executor"
	"autoclose-bot/internal/monitor"
	"autoclose-bot/internal/settings"

	"go.uber.org/zap"
)

// Recorder persists close attempts.
type Recorder interface {
	Record(ctx context.Context, reason string, res executor.CloseResult) error
}

// Notifier tells an operator about close attempts.
type Notifier interface {
	NotifyClose(ctx context.Context, reason string, res executor.CloseResult) error
}

type Config struct {
	Mode       Mode
	ErrorPause time.Duration
	ClosePause time.Duration
	DryRun     bool
}

// Report summarises one cycle.
type Report struct {
	Snapshot  *monitor.Snapshot
	Decisions []Decision
	Results   []executor.CloseResult
	Err       error
}

// Closed counts the successful closes of the cycle.
func (r Report) Closed() int {
	n := 0
	for _, res := range r.Results {
		if res.Success {
			n++
		}
	}
	return n
}

type Option func(*AutoCloseStrategy)

func WithRecorder(r Recorder) Option {
	return func(s *AutoCloseStrategy) { s.recorder = r }
}

func WithNotifier(n Notifier) Option {
	return func(s *AutoCloseStrategy) { s.notifier = n }
}

// WithObserver registers a callback run with every successful snapshot.
func WithObserver(fn func(*monitor.Snapshot)) Option {
	return func(s *AutoCloseStrategy) { s.observers = append(s.observers, fn) }
}

// AutoCloseStrategy polls the account and closes positions that cross the
// thresholds. It is the only component that sends orders.
type AutoCloseStrategy struct {
	cfg       Config
	mon       *monitor.Monitor
	exec      *executor.Executor
	holder    *settings.Holder
	log       *zap.Logger
	recorder  Recorder
	notifier  Notifier
	observers []func(*monitor.Snapshot)
}

func NewAutoCloseStrategy(cfg Config, mon *monitor.Monitor, exec *executor.Executor, holder *settings.Holder, log *zap.Logger, opts ...Option) *AutoCloseStrategy {
	s := &AutoCloseStrategy{
		cfg:    cfg,
		mon:    mon,
		exec:   exec,
		holder: holder,
		log:    log.Named("autoclose"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start runs cycles until ctx is cancelled. The delay is recomputed after
// every cycle so interval changes apply without a restart.
func (s *AutoCloseStrategy) Start(ctx context.Context) error {
	t := s.holder.Load()
	s.log.Info("starting auto close",
		zap.String("mode", string(s.cfg.Mode)),
		zap.String("take_profit", t.TakeProfit.String()),
		zap.String("stop_loss", t.StopLoss.String()),
		zap.Duration("interval", t.Interval()),
		zap.Bool("hedge_mode", s.exec.Hedged()),
		zap.Bool("dry_run", s.cfg.DryRun),
	)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("stopping auto close")
			return nil
		case <-timer.C:
			report := s.RunCycle(ctx)
			timer.Reset(s.nextDelay(report))
		}
	}
}

func (s *AutoCloseStrategy) nextDelay(r Report) time.Duration {
	if r.Err != nil {
		return s.cfg.ErrorPause
	}
	return s.holder.Load().Interval()
}

// RunCycle performs one fetch, evaluate and close pass.
func (s *AutoCloseStrategy) RunCycle(ctx context.Context) Report {
	t := s.holder.Load()

	snap, err := s.mon.Fetch(ctx, t)
	if err != nil {
		s.log.Error("cycle skipped", zap.Error(err), zap.Duration("pause", s.cfg.ErrorPause))
		return Report{Err: err}
	}
	for _, fn := range s.observers {
		fn(snap)
	}

	report := Report{Snapshot: snap, Decisions: Evaluate(s.cfg.Mode, snap, t)}

	for _, dec := range report.Decisions {
		if ctx.Err() != nil {
			break
		}
		p := dec.Position
		fields := []zap.Field{
			zap.String("symbol", p.Symbol),
			zap.String("side", string(p.Side())),
			zap.String("pnl", p.UnrealizedPnL.String()),
			zap.String("reason", string(dec.Reason)),
		}
		if s.cfg.DryRun {
			s.log.Info("dry run: would close position", fields...)
			continue
		}

		s.log.Info("threshold reached, closing position", fields...)
		res := s.exec.Close(ctx, p)
		report.Results = append(report.Results, res)
		s.record(ctx, dec.Reason, res)

		if res.Success {
			sleepCtx(ctx, s.cfg.ClosePause)
		}
	}

	s.log.Info("cycle complete",
		zap.String("balance", snap.Balance.StringFixed(2)),
		zap.String("total_pnl", snap.TotalPnL.StringFixed(4)),
		zap.Int("open_positions", len(snap.Positions)),
		zap.Int("triggered", len(report.Decisions)),
		zap.Int("closed", report.Closed()),
	)
	return report
}

func (s *AutoCloseStrategy) record(ctx context.Context, reason Reason, res executor.CloseResult) {
	if s.recorder != nil {
		if err := s.recorder.Record(ctx, string(reason), res); err != nil {
			s.log.Warn("failed to journal close", zap.Error(err))
		}
	}
	if s.notifier != nil {
		if err := s.notifier.NotifyClose(ctx, string(reason), res); err != nil {
			s.log.Warn("failed to send notification", zap.Error(err))
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
