package main

import (
	"context"
	"fmt"
	"time"

	"autoclose-bot/internal/config"
	"autoclose-bot/internal/exchange"
	"autoclose-bot/internal/exchange/binance"
	"autoclose-bot/internal/exchange/hyperliquid"
	"autoclose-bot/internal/logger"
	"autoclose-bot/internal/settings"

	"github.com/cenkalti/backoff/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const probeTries = 3

// app bundles what every command builds at startup.
type app struct {
	cfg *config.Config
	log *zap.Logger
	exc exchange.Exchange
}

func setup(ctx context.Context) (*app, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := cfg.RequireCredentials(); err != nil {
		return nil, err
	}

	logCfg := logger.DefaultConfig()
	logCfg.Level = cfg.App.LogLevel
	logCfg.File = cfg.App.LogFile
	log, err := logger.New(logCfg)
	if err != nil {
		return nil, err
	}
	for _, w := range cfg.ThresholdWarnings() {
		log.Warn("suspicious threshold configuration", zap.String("detail", w))
	}

	exc, err := newExchange(ctx, cfg, log)
	if err != nil {
		_ = logger.Sync(log)
		return nil, fmt.Errorf("init %s: %w", cfg.Exchange.Venue, err)
	}

	return &app{cfg: cfg, log: log, exc: exc}, nil
}

func newExchange(ctx context.Context, cfg *config.Config, log *zap.Logger) (exchange.Exchange, error) {
	switch cfg.Exchange.Venue {
	case config.VenueBinance:
		return binance.NewClient(cfg.Exchanges.Binance, log)
	case config.VenueHyperliquid:
		return hyperliquid.NewClient(ctx, cfg.Exchanges.Hyperliquid, log)
	}
	return nil, fmt.Errorf("unknown venue %q", cfg.Exchange.Venue)
}

func (a *app) close() {
	_ = logger.Sync(a.log)
}

// quoteAsset is the balance currency reported by the monitor.
func (a *app) quoteAsset() string {
	if a.cfg.Exchange.Venue == config.VenueHyperliquid {
		return "USDC"
	}
	return a.cfg.Exchanges.Binance.QuoteAsset
}

func (a *app) thresholds() settings.Thresholds {
	g := a.cfg.Guard
	return settings.New(
		decimal.NewFromFloat(g.TakeProfit),
		decimal.NewFromFloat(g.StopLoss),
		g.CheckInterval,
		g.SymbolsWhitelist,
	)
}

// retry runs op a few times with exponential backoff. It is used for
// startup probes only; the guard loop never retries within a cycle.
func retry[T any](ctx context.Context, op backoff.Operation[T]) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	return backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(probeTries),
	)
}

// detectHedgeMode asks the venue for its position mode once.
func (a *app) detectHedgeMode(ctx context.Context) (bool, error) {
	hedge, err := retry(ctx, func() (bool, error) {
		return a.exc.IsHedgeMode(ctx)
	})
	if err != nil {
		return false, fmt.Errorf("detect position mode: %w", err)
	}
	mode := "one-way"
	if hedge {
		mode = "hedge"
	}
	a.log.Info("position mode detected", zap.String("venue", a.exc.Name()), zap.String("mode", mode))
	return hedge, nil
}
