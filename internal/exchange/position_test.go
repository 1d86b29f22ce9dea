package exchange

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestCloseSideFollowsQuantitySign(t *testing.T) {
	long := Position{Symbol: "BTCUSDT", Quantity: decimal.RequireFromString("0.01")}
	short := Position{Symbol: "ETHUSDT", Quantity: decimal.RequireFromString("-0.5")}

	assert.Equal(t, SideSell, long.CloseSide())
	assert.Equal(t, SideBuy, short.CloseSide())
	assert.Equal(t, PositionSideLong, long.Side())
	assert.Equal(t, PositionSideShort, short.Side())
}

func TestCloseQuantityIsUnsigned(t *testing.T) {
	p := Position{Quantity: decimal.RequireFromString("-0.5")}
	assert.True(t, p.CloseQuantity().Equal(decimal.RequireFromString("0.5")))
}

func TestHedgeTagWinsOverSign(t *testing.T) {
	p := Position{Symbol: "BTCUSDT", PositionSide: PositionSideShort, Quantity: decimal.RequireFromString("-1")}
	assert.Equal(t, PositionSideShort, p.Side())
	assert.Equal(t, "BTCUSDT_short", p.Key())

	oneWay := Position{Symbol: "BTCUSDT", PositionSide: PositionSideBoth, Quantity: decimal.RequireFromString("2")}
	assert.Equal(t, "BTCUSDT_long", oneWay.Key())
}

func TestIsOpen(t *testing.T) {
	assert.False(t, Position{Quantity: decimal.Zero}.IsOpen())
	assert.True(t, Position{Quantity: decimal.RequireFromString("-0.001")}.IsOpen())
}

func TestCleanSymbol(t *testing.T) {
	tests := map[string]string{
		"BTC/USDT:USDT": "BTCUSDT",
		"BTC/USDT":      "BTCUSDT",
		"ethusdt":       "ETHUSDT",
		"ETH-USDT":      "ETHUSDT",
		" SOLUSDT ":     "SOLUSDT",
	}
	for in, want := range tests {
		assert.Equal(t, want, CleanSymbol(in), in)
	}
}

func TestFormatQuantity(t *testing.T) {
	tests := []struct {
		qty       string
		precision int
		want      string
	}{
		{"0.0100", 3, "0.01"},
		{"-0.5", 3, "0.5"},
		{"1.23456", 2, "1.23"},
		{"12.000", 0, "12"},
		{"0.0004", 3, "0"},
		{"3", -1, "3"},
	}
	for _, tt := range tests {
		got := FormatQuantity(decimal.RequireFromString(tt.qty), tt.precision)
		assert.Equal(t, tt.want, got, "%s@%d", tt.qty, tt.precision)
	}
}
