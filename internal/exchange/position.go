package exchange

import (
	"strings"

	"github.com/shopspring/decimal"
)

// PositionSide is the venue's position tag. BOTH is used by one-way accounts,
// LONG/SHORT by hedge (dual-position) accounts.
type PositionSide string

const (
	PositionSideBoth  PositionSide = "BOTH"
	PositionSideLong  PositionSide = "LONG"
	PositionSideShort PositionSide = "SHORT"
)

// Position is one open position as reported by the venue. Quantity is signed:
// positive for long exposure, negative for short.
type Position struct {
	Symbol        string
	PositionSide  PositionSide
	Quantity      decimal.Decimal
	EntryPrice    decimal.Decimal
	MarkPrice     decimal.Decimal
	UnrealizedPnL decimal.Decimal
}

// Side reports LONG or SHORT. A hedge tag wins over the quantity sign.
func (p Position) Side() PositionSide {
	switch p.PositionSide {
	case PositionSideLong, PositionSideShort:
		return p.PositionSide
	}
	if p.Quantity.IsNegative() {
		return PositionSideShort
	}
	return PositionSideLong
}

// IsOpen reports whether the position carries a nonzero quantity.
func (p Position) IsOpen() bool {
	return !p.Quantity.IsZero()
}

// CloseSide is the order side that reduces the position.
func (p Position) CloseSide() OrderSide {
	if p.Quantity.IsNegative() {
		return SideBuy
	}
	return SideSell
}

// CloseQuantity is the unsigned amount needed to flatten the position.
func (p Position) CloseQuantity() decimal.Decimal {
	return p.Quantity.Abs()
}

// Key identifies a position within one snapshot.
func (p Position) Key() string {
	return p.Symbol + "_" + strings.ToLower(string(p.Side()))
}

// CleanSymbol turns unified symbols such as "BTC/USDT:USDT" or "ETH-USDT"
// into the venue-native "BTCUSDT" form.
func CleanSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if i := strings.Index(s, ":"); i >= 0 {
		s = s[:i]
	}
	s = strings.ReplaceAll(s, "/", "")
	s = strings.ReplaceAll(s, "-", "")
	return s
}

// FormatQuantity truncates qty to precision decimals and trims trailing zeros.
// A quantity that rounds away entirely is reported as "0".
func FormatQuantity(qty decimal.Decimal, precision int) string {
	if precision < 0 {
		precision = 0
	}
	out := qty.Abs().Truncate(int32(precision)).String()
	if strings.Contains(out, ".") {
		out = strings.TrimRight(strings.TrimRight(out, "0"), ".")
	}
	if out == "" || out == "-0" {
		return "0"
	}
	return out
}
