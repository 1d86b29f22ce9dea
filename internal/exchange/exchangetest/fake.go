// Package exchangetest provides an in-memory exchange.Exchange for tests.
package exchangetest

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"autoclose-bot/internal/exchange"

	"github.com/shopspring/decimal"
)

var ErrRejected = errors.New("order rejected")

// Fake is a scriptable venue. Reject decides, per submitted request, whether
// the order fails; nil accepts everything.
type Fake struct {
	mu sync.Mutex

	Balance    decimal.Decimal
	Positions  []exchange.Position
	Marks      map[string]decimal.Decimal
	Precision  map[string]int
	Hedge      bool
	FetchErr   error
	Reject     func(req exchange.OrderRequest) error
	RawReject  func(req exchange.OrderRequest) error
	Orders     []exchange.OrderRequest
	RawOrders  []exchange.OrderRequest
	FetchCalls int
	nextID     int
}

var _ exchange.Exchange = (*Fake)(nil)

func New() *Fake {
	return &Fake{
		Marks:     make(map[string]decimal.Decimal),
		Precision: make(map[string]int),
	}
}

func (f *Fake) Name() string { return "fake" }

func (f *Fake) GetBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FetchErr != nil {
		return decimal.Zero, f.FetchErr
	}
	return f.Balance, nil
}

func (f *Fake) GetPositions(ctx context.Context) ([]exchange.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.FetchCalls++
	if f.FetchErr != nil {
		return nil, f.FetchErr
	}
	out := make([]exchange.Position, len(f.Positions))
	copy(out, f.Positions)
	return out, nil
}

func (f *Fake) IsHedgeMode(ctx context.Context) (bool, error) {
	return f.Hedge, nil
}

func (f *Fake) GetMarkPrices(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]decimal.Decimal, len(symbols))
	for _, s := range symbols {
		if p, ok := f.Marks[s]; ok {
			out[s] = p
		}
	}
	return out, nil
}

func (f *Fake) QuantityPrecision(ctx context.Context, symbol string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.Precision[symbol]
	if !ok {
		return 0, exchange.ErrUnknownSymbol
	}
	return p, nil
}

func (f *Fake) PlaceOrder(ctx context.Context, req *exchange.OrderRequest) (*exchange.OrderResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Orders = append(f.Orders, *req)
	if f.Reject != nil {
		if err := f.Reject(*req); err != nil {
			return nil, err
		}
	}
	f.nextID++
	return &exchange.OrderResponse{OrderID: strconv.Itoa(f.nextID), Status: "FILLED"}, nil
}

// SetPositions replaces the open positions under the lock.
func (f *Fake) SetPositions(positions ...exchange.Position) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Positions = positions
}

// PlacedOrders returns a copy of every SDK order submitted so far.
func (f *Fake) PlacedOrders() []exchange.OrderRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]exchange.OrderRequest, len(f.Orders))
	copy(out, f.Orders)
	return out
}

// RawFake adds the lower-level order endpoint to Fake.
type RawFake struct {
	*Fake
}

var _ exchange.RawOrderPlacer = RawFake{}

func NewRaw() RawFake {
	return RawFake{Fake: New()}
}

func (f RawFake) PlaceRawOrder(ctx context.Context, req *exchange.OrderRequest) (*exchange.OrderResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.RawOrders = append(f.RawOrders, *req)
	if f.RawReject != nil {
		if err := f.RawReject(*req); err != nil {
			return nil, err
		}
	}
	f.nextID++
	return &exchange.OrderResponse{OrderID: "raw-" + strconv.Itoa(f.nextID), Status: "NEW"}, nil
}
