package strategy

import (
	"autoclose-bot/internal/exchange"
	"autoclose-bot/internal/monitor"
	"autoclose-bot/internal/settings"
)

type Mode string

const (
	ModePerPosition Mode = "per_position"
	ModeAggregate   Mode = "aggregate"
)

type Reason string

const (
	ReasonTakeProfit          Reason = "take_profit"
	ReasonStopLoss            Reason = "stop_loss"
	ReasonAggregateTakeProfit Reason = "aggregate_take_profit"
	ReasonAggregateStopLoss   Reason = "aggregate_stop_loss"
)

// Decision marks one position for closing.
type Decision struct {
	Position exchange.Position
	Reason   Reason
}

// EvaluatePosition compares one position's P&L to the thresholds. Both
// bounds are inclusive and take-profit is checked first.
func EvaluatePosition(p exchange.Position, t settings.Thresholds) (Reason, bool) {
	if !p.IsOpen() {
		return "", false
	}
	switch {
	case p.UnrealizedPnL.GreaterThanOrEqual(t.TakeProfit):
		return ReasonTakeProfit, true
	case p.UnrealizedPnL.LessThanOrEqual(t.StopLoss):
		return ReasonStopLoss, true
	}
	return "", false
}

// Evaluate returns the positions of snap that should be closed.
func Evaluate(mode Mode, snap *monitor.Snapshot, t settings.Thresholds) []Decision {
	if snap == nil {
		return nil
	}

	if mode == ModeAggregate {
		var reason Reason
		switch {
		case snap.TotalPnL.GreaterThanOrEqual(t.TakeProfit):
			reason = ReasonAggregateTakeProfit
		case snap.TotalPnL.LessThanOrEqual(t.StopLoss):
			reason = ReasonAggregateStopLoss
		default:
			return nil
		}
		var out []Decision
		for _, p := range snap.Positions {
			if p.IsOpen() {
				out = append(out, Decision{Position: p, Reason: reason})
			}
		}
		return out
	}

	var out []Decision
	for _, p := range snap.Positions {
		if reason, ok := EvaluatePosition(p, t); ok {
			out = append(out, Decision{Position: p, Reason: reason})
		}
	}
	return out
}
