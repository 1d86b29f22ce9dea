package hyperliquid

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"autoclose-bot/internal/config"
	"autoclose-bot/internal/exchange"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/sonirico/go-hyperliquid"
	"go.uber.org/zap"
)

const defaultSlippage = 0.05

// Client adapts Hyperliquid perpetuals to exchange.Exchange. Hyperliquid
// has no hedge mode and no market order type; closes are sent as
// aggressive IOC limit orders around the mid price.
type Client struct {
	cfg      config.HyperliquidConfig
	info     *hyperliquid.Info
	exchange *hyperliquid.Exchange
	meta     *hyperliquid.Meta
	address  string
	log      *zap.Logger
}

var _ exchange.Exchange = (*Client)(nil)

func NewClient(ctx context.Context, cfg config.HyperliquidConfig, log *zap.Logger) (*Client, error) {
	if cfg.PrivateKey == "" {
		return nil, exchange.ErrNoCredentials
	}
	if cfg.Slippage <= 0 {
		cfg.Slippage = defaultSlippage
	}
	log = log.Named("hyperliquid")

	// NewInfo(ctx, baseURL, skipWS, meta, spotMeta, opts...)
	info := hyperliquid.NewInfo(ctx, cfg.BaseURL, true, nil, nil)

	// meta maps coins to asset ids and size decimals
	meta, err := info.Meta(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch hyperliquid meta: %w", err)
	}

	pk, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse hyperliquid private key: %w", err)
	}

	// Derive address if not provided
	walletAddr := cfg.WalletAddress
	if walletAddr == "" {
		walletAddr = crypto.PubkeyToAddress(pk.PublicKey).Hex()
	}

	// NewExchange(ctx, pk, baseURL, meta, vaultAddress, accountAddress, spotMeta, opts...)
	exc := hyperliquid.NewExchange(ctx, pk, cfg.BaseURL, meta, "", walletAddr, nil)

	log.Info("hyperliquid client ready", zap.String("wallet", walletAddr), zap.Int("assets", len(meta.Universe)))

	return &Client{
		cfg:      cfg,
		info:     info,
		exchange: exc,
		meta:     meta,
		address:  walletAddr,
		log:      log,
	}, nil
}

func (c *Client) Name() string {
	return config.VenueHyperliquid
}

// GetBalance returns the account value. Hyperliquid margins in USDC only,
// so asset is ignored.
func (c *Client) GetBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	state, err := c.info.UserState(ctx, c.address)
	if err != nil {
		return decimal.Zero, fmt.Errorf("get user state: %w", err)
	}
	v, err := decimal.NewFromString(state.MarginSummary.AccountValue)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse account value %q: %w", state.MarginSummary.AccountValue, err)
	}
	return v, nil
}

func (c *Client) GetPositions(ctx context.Context) ([]exchange.Position, error) {
	state, err := c.info.UserState(ctx, c.address)
	if err != nil {
		return nil, fmt.Errorf("get user state: %w", err)
	}
	mids, err := c.mids(ctx)
	if err != nil {
		return nil, err
	}

	positions := make([]exchange.Position, 0, len(state.AssetPositions))
	for _, ap := range state.AssetPositions {
		p, err := toPosition(ap.Position.Coin, ap.Position.Szi, ap.Position.UnrealizedPnl, mids[ap.Position.Coin])
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, nil
}

// toPosition builds a Position from the user state strings. The entry price
// is derived from the mark and the unrealized P&L.
func toPosition(coin, szi, upnl string, mark decimal.Decimal) (exchange.Position, error) {
	qty, err := decimal.NewFromString(szi)
	if err != nil {
		return exchange.Position{}, fmt.Errorf("parse %s size %q: %w", coin, szi, err)
	}
	pnl, err := decimal.NewFromString(upnl)
	if err != nil {
		return exchange.Position{}, fmt.Errorf("parse %s pnl %q: %w", coin, upnl, err)
	}

	p := exchange.Position{
		Symbol:        coin,
		PositionSide:  exchange.PositionSideBoth,
		Quantity:      qty,
		MarkPrice:     mark,
		UnrealizedPnL: pnl,
	}
	if !qty.IsZero() && !mark.IsZero() {
		p.EntryPrice = mark.Sub(pnl.Div(qty))
	}
	return p, nil
}

func (c *Client) IsHedgeMode(ctx context.Context) (bool, error) {
	return false, nil
}

func (c *Client) GetMarkPrices(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	mids, err := c.mids(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]decimal.Decimal, len(symbols))
	for _, s := range symbols {
		if px, ok := mids[normalizeCoin(s)]; ok {
			out[s] = px
		}
	}
	return out, nil
}

// mids reads the mid price of every perp from the asset contexts.
func (c *Client) mids(ctx context.Context) (map[string]decimal.Decimal, error) {
	state, err := c.info.MetaAndAssetCtxs(ctx)
	if err != nil {
		return nil, fmt.Errorf("get asset contexts: %w", err)
	}

	out := make(map[string]decimal.Decimal, len(state.Universe))
	for i, asset := range state.Universe {
		if i >= len(state.Ctxs) {
			break
		}
		px, err := decimal.NewFromString(state.Ctxs[i].MidPx)
		if err != nil {
			continue
		}
		out[asset.Name] = px
	}
	return out, nil
}

func (c *Client) QuantityPrecision(ctx context.Context, symbol string) (int, error) {
	coin := normalizeCoin(symbol)
	for _, asset := range c.meta.Universe {
		if asset.Name == coin {
			return asset.SzDecimals, nil
		}
	}
	return 0, fmt.Errorf("%w: %s", exchange.ErrUnknownSymbol, coin)
}

func (c *Client) PlaceOrder(ctx context.Context, req *exchange.OrderRequest) (*exchange.OrderResponse, error) {
	if req.PositionSide != "" && req.PositionSide != exchange.PositionSideBoth {
		return nil, fmt.Errorf("position side %s: %w", req.PositionSide, exchange.ErrNotSupported)
	}
	coin := normalizeCoin(req.Symbol)

	szDecimals, err := c.QuantityPrecision(ctx, coin)
	if err != nil {
		return nil, err
	}
	marks, err := c.GetMarkPrices(ctx, []string{coin})
	if err != nil {
		return nil, err
	}
	mid, ok := marks[coin]
	if !ok {
		return nil, fmt.Errorf("%w: no mid price for %s", exchange.ErrUnknownSymbol, coin)
	}

	isBuy := req.Side == exchange.SideBuy
	size := req.Quantity.Abs().Truncate(int32(szDecimals)).InexactFloat64()
	if size == 0 {
		return nil, fmt.Errorf("order size for %s rounds to zero", coin)
	}

	orderReq := hyperliquid.CreateOrderRequest{
		Coin:  coin,
		IsBuy: isBuy,
		Size:  size,
		Price: slippagePrice(mid.InexactFloat64(), isBuy, c.cfg.Slippage, szDecimals),
		OrderType: hyperliquid.OrderType{
			Limit: &hyperliquid.LimitOrderType{
				Tif: hyperliquid.TifIoc,
			},
		},
		ReduceOnly: req.ReduceOnly,
	}

	// Pass nil for builder info
	res, err := c.exchange.Order(ctx, orderReq, nil)
	if err != nil {
		return nil, fmt.Errorf("place order %s: %w", coin, err)
	}
	if res.Error != nil {
		return nil, fmt.Errorf("order failed: %s", *res.Error)
	}

	status := "unknown"
	var orderID string
	if res.Resting != nil {
		status = "open"
		orderID = strconv.FormatInt(res.Resting.Oid, 10)
	} else if res.Filled != nil {
		status = "filled"
		orderID = strconv.Itoa(res.Filled.Oid)
	}

	return &exchange.OrderResponse{
		Status:  status,
		OrderID: orderID,
	}, nil
}

// normalizeCoin turns "ETH-USD", "ETH/USDC:USDC" or "ETHUSDT" into "ETH".
func normalizeCoin(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if i := strings.IndexAny(s, "/-:"); i >= 0 {
		return s[:i]
	}
	for _, quote := range []string{"USDC", "USDT", "USD"} {
		if strings.HasSuffix(s, quote) && len(s) > len(quote) {
			return strings.TrimSuffix(s, quote)
		}
	}
	return s
}

// slippagePrice moves px against the taker by slippage and rounds it to
// what the venue accepts: five significant figures and at most
// 6-szDecimals decimals.
func slippagePrice(px float64, isBuy bool, slippage float64, szDecimals int) float64 {
	if isBuy {
		px *= 1 + slippage
	} else {
		px *= 1 - slippage
	}
	if px <= 0 {
		return 0
	}

	sig, err := strconv.ParseFloat(strconv.FormatFloat(px, 'g', 5, 64), 64)
	if err != nil {
		sig = px
	}
	decimals := 6 - szDecimals
	if decimals < 0 {
		decimals = 0
	}
	scale := math.Pow(10, float64(decimals))
	return math.Round(sig*scale) / scale
}
