package strategy

import (
	"testing"
	"time"

	"autoclose-bot/internal/exchange"
	"autoclose-bot/internal/monitor"
	"autoclose-bot/internal/settings"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func pos(symbol, qty, pnl string) exchange.Position {
	return exchange.Position{Symbol: symbol, Quantity: d(qty), UnrealizedPnL: d(pnl)}
}

func limits(tp, sl string) settings.Thresholds {
	return settings.New(d(tp), d(sl), 3*time.Second, nil)
}

func snapshot(positions ...exchange.Position) *monitor.Snapshot {
	snap := &monitor.Snapshot{Time: time.Now(), Positions: positions, TotalPnL: decimal.Zero}
	for _, p := range positions {
		snap.TotalPnL = snap.TotalPnL.Add(p.UnrealizedPnL)
	}
	return snap
}

func TestEvaluatePositionBoundaries(t *testing.T) {
	th := limits("1.0", "-1.0")

	tests := []struct {
		name   string
		pnl    string
		reason Reason
		hit    bool
	}{
		{"above take profit", "1.5", ReasonTakeProfit, true},
		{"exactly take profit", "1.0", ReasonTakeProfit, true},
		{"between", "0.99", "", false},
		{"zero", "0", "", false},
		{"exactly stop loss", "-1.0", ReasonStopLoss, true},
		{"below stop loss", "-1.2", ReasonStopLoss, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reason, hit := EvaluatePosition(pos("BTCUSDT", "1", tt.pnl), th)
			assert.Equal(t, tt.hit, hit)
			assert.Equal(t, tt.reason, reason)
		})
	}
}

func TestEvaluatePositionSkipsFlat(t *testing.T) {
	_, hit := EvaluatePosition(pos("BTCUSDT", "0", "50"), limits("1", "-1"))
	assert.False(t, hit)
}

func TestOverlappingThresholdsPreferTakeProfit(t *testing.T) {
	reason, hit := EvaluatePosition(pos("BTCUSDT", "1", "0.5"), limits("0.2", "1"))
	require.True(t, hit)
	assert.Equal(t, ReasonTakeProfit, reason)
}

func TestEvaluatePerPosition(t *testing.T) {
	snap := snapshot(
		pos("BTCUSDT", "0.01", "1.5"),
		pos("ETHUSDT", "-0.5", "-1.2"),
		pos("SOLUSDT", "3", "0.3"),
	)

	decisions := Evaluate(ModePerPosition, snap, limits("1.0", "-1.0"))

	require.Len(t, decisions, 2)
	assert.Equal(t, "BTCUSDT", decisions[0].Position.Symbol)
	assert.Equal(t, ReasonTakeProfit, decisions[0].Reason)
	assert.Equal(t, "ETHUSDT", decisions[1].Position.Symbol)
	assert.Equal(t, ReasonStopLoss, decisions[1].Reason)
}

func TestEvaluateAggregate(t *testing.T) {
	th := limits("1.0", "-1.0")

	winners := snapshot(pos("BTCUSDT", "1", "0.7"), pos("ETHUSDT", "-1", "0.3"))
	decisions := Evaluate(ModeAggregate, winners, th)
	require.Len(t, decisions, 2)
	for _, dec := range decisions {
		assert.Equal(t, ReasonAggregateTakeProfit, dec.Reason)
	}

	losers := snapshot(pos("BTCUSDT", "1", "-2"), pos("ETHUSDT", "-1", "0.5"))
	decisions = Evaluate(ModeAggregate, losers, th)
	require.Len(t, decisions, 2)
	assert.Equal(t, ReasonAggregateStopLoss, decisions[0].Reason)

	flat := snapshot(pos("BTCUSDT", "1", "0.5"), pos("ETHUSDT", "-1", "-0.4"))
	assert.Empty(t, Evaluate(ModeAggregate, flat, th))
}

func TestEvaluateNilSnapshot(t *testing.T) {
	assert.Nil(t, Evaluate(ModePerPosition, nil, limits("1", "-1")))
}
