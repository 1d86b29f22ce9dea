package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"autoclose-bot/internal/exchange"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Method string

const (
	MethodReduceOnly   Method = "reduce_only"
	MethodPositionSide Method = "position_side"
	MethodPlain        Method = "plain"
	MethodRawEndpoint  Method = "raw_endpoint"
	MethodNone         Method = "none"
)

var ErrZeroQuantity = errors.New("close quantity is zero")

// Strategy is one way of submitting a closing order.
type Strategy struct {
	Method Method
	Submit func(ctx context.Context, p exchange.Position) (*exchange.OrderResponse, error)
}

type Attempt struct {
	Method Method
	Err    error
}

type CloseResult struct {
	Symbol   string
	Side     exchange.PositionSide
	Quantity decimal.Decimal
	PnL      decimal.Decimal
	Success  bool
	Method   Method
	OrderID  string
	Attempts []Attempt
	Err      error
}

// Executor closes positions by walking its strategies in order until one
// is accepted.
type Executor struct {
	exc   exchange.Exchange
	hedge bool
	chain []Strategy
	log   *zap.Logger
	newID func() string
}

func New(exc exchange.Exchange, hedge bool, log *zap.Logger) *Executor {
	e := &Executor{
		exc:   exc,
		hedge: hedge,
		log:   log.Named("executor"),
		newID: newClientOrderID,
	}
	e.chain = e.buildChain()
	return e
}

// Methods lists the chain in the order it is tried.
func (e *Executor) Methods() []Method {
	out := make([]Method, len(e.chain))
	for i, s := range e.chain {
		out[i] = s.Method
	}
	return out
}

// Hedged reports whether orders carry the position-side tag.
func (e *Executor) Hedged() bool {
	return e.hedge
}

func (e *Executor) buildChain() []Strategy {
	var chain []Strategy
	if e.hedge {
		// The venue rejects reduceOnly together with a hedge positionSide.
		chain = append(chain, Strategy{Method: MethodPositionSide, Submit: e.submitPositionSide})
	} else {
		chain = append(chain,
			Strategy{Method: MethodReduceOnly, Submit: e.submitReduceOnly},
			Strategy{Method: MethodPlain, Submit: e.submitPlain},
		)
	}
	if raw, ok := e.exc.(exchange.RawOrderPlacer); ok {
		chain = append(chain, Strategy{Method: MethodRawEndpoint, Submit: func(ctx context.Context, p exchange.Position) (*exchange.OrderResponse, error) {
			return e.submitRaw(ctx, raw, p)
		}})
	}
	return chain
}

// Close submits a market order that flattens p. A failure is reported in
// the result, never returned, so the caller can move on to the next position.
func (e *Executor) Close(ctx context.Context, p exchange.Position) CloseResult {
	res := CloseResult{
		Symbol:   p.Symbol,
		Side:     p.Side(),
		Quantity: p.CloseQuantity(),
		PnL:      p.UnrealizedPnL,
		Method:   MethodNone,
	}
	if !p.IsOpen() {
		res.Err = ErrZeroQuantity
		return res
	}

	log := e.log.With(
		zap.String("symbol", p.Symbol),
		zap.String("side", string(res.Side)),
		zap.String("qty", res.Quantity.String()),
	)

	for _, s := range e.chain {
		if err := ctx.Err(); err != nil {
			res.Err = err
			return res
		}
		out, err := s.Submit(ctx, p)
		res.Attempts = append(res.Attempts, Attempt{Method: s.Method, Err: err})
		if err != nil {
			log.Warn("close attempt rejected", zap.String("method", string(s.Method)), zap.Error(err))
			res.Err = err
			continue
		}
		res.Success = true
		res.Method = s.Method
		res.OrderID = out.OrderID
		res.Err = nil
		log.Info("position closed", zap.String("method", string(s.Method)), zap.String("order_id", out.OrderID))
		return res
	}

	res.Err = fmt.Errorf("all %d close methods failed: %w", len(res.Attempts), res.Err)
	log.Error("failed to close position", zap.Error(res.Err))
	return res
}

// CloseAll closes every position in order, sleeping pause between them.
func (e *Executor) CloseAll(ctx context.Context, positions []exchange.Position, pause time.Duration) []CloseResult {
	results := make([]CloseResult, 0, len(positions))
	for i, p := range positions {
		if i > 0 && pause > 0 {
			select {
			case <-ctx.Done():
				return results
			case <-time.After(pause):
			}
		}
		results = append(results, e.Close(ctx, p))
	}
	return results
}

func (e *Executor) baseRequest(p exchange.Position) *exchange.OrderRequest {
	return &exchange.OrderRequest{
		Symbol:        p.Symbol,
		Side:          p.CloseSide(),
		Type:          exchange.OrderTypeMarket,
		Quantity:      p.CloseQuantity(),
		ClientOrderID: e.newID(),
	}
}

func (e *Executor) submitReduceOnly(ctx context.Context, p exchange.Position) (*exchange.OrderResponse, error) {
	req := e.baseRequest(p)
	req.ReduceOnly = true
	return e.exc.PlaceOrder(ctx, req)
}

func (e *Executor) submitPlain(ctx context.Context, p exchange.Position) (*exchange.OrderResponse, error) {
	return e.exc.PlaceOrder(ctx, e.baseRequest(p))
}

func (e *Executor) submitPositionSide(ctx context.Context, p exchange.Position) (*exchange.OrderResponse, error) {
	req := e.baseRequest(p)
	req.PositionSide = p.Side()
	return e.exc.PlaceOrder(ctx, req)
}

func (e *Executor) submitRaw(ctx context.Context, raw exchange.RawOrderPlacer, p exchange.Position) (*exchange.OrderResponse, error) {
	req := e.baseRequest(p)
	req.Symbol = exchange.CleanSymbol(p.Symbol)

	precision, err := e.exc.QuantityPrecision(ctx, req.Symbol)
	if err != nil {
		e.log.Warn("quantity precision unavailable, sending unrounded quantity",
			zap.String("symbol", req.Symbol), zap.Error(err))
	} else {
		req.Quantity = req.Quantity.Truncate(int32(precision))
	}
	if req.Quantity.IsZero() {
		return nil, ErrZeroQuantity
	}

	if e.hedge {
		req.PositionSide = p.Side()
	} else {
		req.ReduceOnly = true
	}
	return raw.PlaceRawOrder(ctx, req)
}

func newClientOrderID() string {
	return "ac-" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
