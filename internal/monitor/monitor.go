package monitor

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"autoclose-bot/internal/exchange"
	"autoclose-bot/internal/settings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Snapshot is one cycle's view of the account.
type Snapshot struct {
	Time      time.Time
	Balance   decimal.Decimal
	Positions []exchange.Position
	TotalPnL  decimal.Decimal
}

// Age is how long ago the snapshot was taken.
func (s *Snapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.Time)
}

type Monitor struct {
	exc        exchange.Exchange
	quoteAsset string
	log        *zap.Logger
	now        func() time.Time
	latest     atomic.Pointer[Snapshot]
}

func New(exc exchange.Exchange, quoteAsset string, log *zap.Logger) *Monitor {
	return &Monitor{
		exc:        exc,
		quoteAsset: quoteAsset,
		log:        log.Named("monitor"),
		now:        time.Now,
	}
}

// Fetch reads balance and positions once and keeps the open, whitelisted
// ones. It does not retry; the caller decides what a failure means.
func (m *Monitor) Fetch(ctx context.Context, t settings.Thresholds) (*Snapshot, error) {
	balance, err := m.exc.GetBalance(ctx, m.quoteAsset)
	if err != nil {
		return nil, fmt.Errorf("fetch balance: %w", err)
	}

	raw, err := m.exc.GetPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch positions: %w", err)
	}

	snap := &Snapshot{
		Time:      m.now(),
		Balance:   balance,
		Positions: make([]exchange.Position, 0, len(raw)),
		TotalPnL:  decimal.Zero,
	}
	for _, p := range raw {
		if !p.IsOpen() {
			continue
		}
		if !t.Allows(p.Symbol) {
			m.log.Debug("skipping position outside whitelist", zap.String("symbol", p.Symbol))
			continue
		}
		snap.Positions = append(snap.Positions, p)
		snap.TotalPnL = snap.TotalPnL.Add(p.UnrealizedPnL)
	}

	m.latest.Store(snap)
	return snap, nil
}

// Latest returns the last successful snapshot, or nil before the first one.
func (m *Monitor) Latest() *Snapshot {
	return m.latest.Load()
}

// Current returns Latest when it is younger than maxAge and fetches a fresh
// snapshot otherwise.
func (m *Monitor) Current(ctx context.Context, t settings.Thresholds, maxAge time.Duration) (*Snapshot, error) {
	if snap := m.Latest(); snap != nil && snap.Age(m.now()) <= maxAge {
		return snap, nil
	}
	return m.Fetch(ctx, t)
}
