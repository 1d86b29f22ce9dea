package exchange

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var (
	ErrUnknownSymbol = errors.New("unknown symbol")
	ErrNotSupported  = errors.New("not supported by venue")
	ErrNoCredentials = errors.New("exchange credentials not configured")
)

// Exchange defines what the guard needs from a derivatives venue.
type Exchange interface {
	Name() string

	// Account
	GetBalance(ctx context.Context, asset string) (decimal.Decimal, error)
	GetPositions(ctx context.Context) ([]Position, error)
	IsHedgeMode(ctx context.Context) (bool, error)

	// Market Data
	GetMarkPrices(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error)
	QuantityPrecision(ctx context.Context, symbol string) (int, error)

	// Trading
	PlaceOrder(ctx context.Context, req *OrderRequest) (*OrderResponse, error)
}

// RawOrderPlacer is implemented by venues that expose a lower-level order
// endpoint besides the SDK call. The request symbol is sent cleaned and the
// quantity formatted with the symbol's precision.
type RawOrderPlacer interface {
	PlaceRawOrder(ctx context.Context, req *OrderRequest) (*OrderResponse, error)
}

type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

type OrderType string

const OrderTypeMarket OrderType = "MARKET"

type OrderRequest struct {
	Symbol        string
	Side          OrderSide
	Type          OrderType
	Quantity      decimal.Decimal
	ReduceOnly    bool
	PositionSide  PositionSide // empty in one-way accounts
	ClientOrderID string
}

type OrderResponse struct {
	OrderID string
	Status  string
}
