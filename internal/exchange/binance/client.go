package binance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"autoclose-bot/internal/config"
	"autoclose-bot/internal/exchange"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Client adapts the USD-M futures API to exchange.Exchange.
type Client struct {
	cfg        config.BinanceConfig
	client     *futures.Client
	httpClient *http.Client
	log        *zap.Logger
	now        func() time.Time

	mu         sync.RWMutex
	precision  map[string]int
	infoLoaded time.Time
}

// exchangeInfoRefresh limits how often a symbol missing from the cache
// triggers a new exchangeInfo load.
const exchangeInfoRefresh = time.Minute

var (
	_ exchange.Exchange       = (*Client)(nil)
	_ exchange.RawOrderPlacer = (*Client)(nil)
)

func NewClient(cfg config.BinanceConfig, log *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		return nil, exchange.ErrNoCredentials
	}
	if cfg.Testnet {
		// package level switch read by NewClient
		futures.UseTestnet = true
	}

	client := futures.NewClient(cfg.APIKey, cfg.SecretKey)
	if cfg.BaseURL != "" {
		client.BaseURL = cfg.BaseURL
	}
	if cfg.RecvWindow <= 0 {
		cfg.RecvWindow = 5000
	}

	log = log.Named("binance")
	log.Info("binance futures client ready",
		zap.String("base_url", client.BaseURL),
		zap.Bool("testnet", cfg.Testnet),
	)

	return &Client{
		cfg:        cfg,
		client:     client,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		log:        log,
		now:        time.Now,
		precision:  make(map[string]int),
	}, nil
}

func (c *Client) Name() string {
	return config.VenueBinance
}

func (c *Client) recvWindow() futures.RequestOption {
	return futures.WithRecvWindow(c.cfg.RecvWindow)
}

func (c *Client) GetBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	balances, err := c.client.NewGetBalanceService().Do(ctx, c.recvWindow())
	if err != nil {
		return decimal.Zero, c.apiError("get balance", err)
	}
	for _, b := range balances {
		if b.Asset == asset {
			v, err := decimal.NewFromString(b.Balance)
			if err != nil {
				return decimal.Zero, fmt.Errorf("parse %s balance %q: %w", asset, b.Balance, err)
			}
			return v, nil
		}
	}
	return decimal.Zero, nil
}

func (c *Client) GetPositions(ctx context.Context) ([]exchange.Position, error) {
	risks, err := c.client.NewGetPositionRiskService().Do(ctx, c.recvWindow())
	if err != nil {
		return nil, c.apiError("get positions", err)
	}

	positions := make([]exchange.Position, 0, len(risks))
	for _, r := range risks {
		p, err := toPosition(r)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, nil
}

func toPosition(r *futures.PositionRisk) (exchange.Position, error) {
	p := exchange.Position{
		Symbol:       r.Symbol,
		PositionSide: exchange.PositionSide(r.PositionSide),
	}
	if p.PositionSide == "" {
		p.PositionSide = exchange.PositionSideBoth
	}

	var err error
	if p.Quantity, err = parseDecimal(r.PositionAmt); err != nil {
		return p, fmt.Errorf("parse %s positionAmt: %w", r.Symbol, err)
	}
	if p.EntryPrice, err = parseDecimal(r.EntryPrice); err != nil {
		return p, fmt.Errorf("parse %s entryPrice: %w", r.Symbol, err)
	}
	if p.MarkPrice, err = parseDecimal(r.MarkPrice); err != nil {
		return p, fmt.Errorf("parse %s markPrice: %w", r.Symbol, err)
	}
	if p.UnrealizedPnL, err = parseDecimal(r.UnRealizedProfit); err != nil {
		return p, fmt.Errorf("parse %s unRealizedProfit: %w", r.Symbol, err)
	}
	return p, nil
}

// parseDecimal treats an empty field as zero.
func parseDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

func (c *Client) IsHedgeMode(ctx context.Context) (bool, error) {
	mode, err := c.client.NewGetPositionModeService().Do(ctx, c.recvWindow())
	if err != nil {
		return false, c.apiError("get position mode", err)
	}
	return mode.DualSidePosition, nil
}

func (c *Client) GetMarkPrices(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	svc := c.client.NewPremiumIndexService()
	if len(symbols) == 1 {
		svc = svc.Symbol(symbols[0])
	}
	indexes, err := svc.Do(ctx)
	if err != nil {
		return nil, c.apiError("get mark prices", err)
	}

	want := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		want[s] = true
	}
	out := make(map[string]decimal.Decimal, len(symbols))
	for _, idx := range indexes {
		if !want[idx.Symbol] {
			continue
		}
		px, err := decimal.NewFromString(idx.MarkPrice)
		if err != nil {
			c.log.Warn("bad mark price", zap.String("symbol", idx.Symbol), zap.String("value", idx.MarkPrice))
			continue
		}
		out[idx.Symbol] = px
	}
	return out, nil
}

// QuantityPrecision loads exchangeInfo on first use and caches every symbol.
// A symbol missing from the cache reloads exchangeInfo, at most once per
// exchangeInfoRefresh, so newly listed contracts are picked up.
func (c *Client) QuantityPrecision(ctx context.Context, symbol string) (int, error) {
	c.mu.RLock()
	p, ok := c.precision[symbol]
	loadedAt := c.infoLoaded
	c.mu.RUnlock()
	if ok {
		return p, nil
	}
	if !loadedAt.IsZero() && c.now().Sub(loadedAt) < exchangeInfoRefresh {
		return 0, fmt.Errorf("%w: %s", exchange.ErrUnknownSymbol, symbol)
	}

	if err := c.loadExchangeInfo(ctx); err != nil {
		return 0, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok = c.precision[symbol]
	if !ok {
		return 0, fmt.Errorf("%w: %s", exchange.ErrUnknownSymbol, symbol)
	}
	return p, nil
}

func (c *Client) loadExchangeInfo(ctx context.Context) error {
	info, err := c.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return c.apiError("get exchange info", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range info.Symbols {
		c.precision[s.Symbol] = s.QuantityPrecision
	}
	c.infoLoaded = c.now()
	c.log.Debug("exchange info loaded", zap.Int("symbols", len(info.Symbols)))
	return nil
}

func (c *Client) formatQuantity(ctx context.Context, symbol string, qty decimal.Decimal) string {
	precision, err := c.QuantityPrecision(ctx, symbol)
	if err != nil {
		return qty.Abs().String()
	}
	return exchange.FormatQuantity(qty, precision)
}

func (c *Client) PlaceOrder(ctx context.Context, req *exchange.OrderRequest) (*exchange.OrderResponse, error) {
	svc := c.client.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(futures.SideType(req.Side)).
		Type(futures.OrderType(req.Type)).
		Quantity(c.formatQuantity(ctx, req.Symbol, req.Quantity))
	if req.ReduceOnly {
		svc = svc.ReduceOnly(true)
	}
	if req.PositionSide != "" {
		svc = svc.PositionSide(futures.PositionSideType(req.PositionSide))
	}
	if req.ClientOrderID != "" {
		svc = svc.NewClientOrderID(req.ClientOrderID)
	}

	res, err := svc.Do(ctx, c.recvWindow())
	if err != nil {
		return nil, c.apiError("create order "+req.Symbol, err)
	}
	return &exchange.OrderResponse{
		OrderID: strconv.FormatInt(res.OrderID, 10),
		Status:  string(res.Status),
	}, nil
}

// apiError logs the exchange's error code and wraps err.
func (c *Client) apiError(op string, err error) error {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		c.log.Warn("binance rejected request",
			zap.String("op", op),
			zap.Int64("code", apiErr.Code),
			zap.String("message", apiErr.Message),
		)
	}
	return fmt.Errorf("%s: %w", op, err)
}
