package dashboard

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"autoclose-bot/internal/exchange"
	"autoclose-bot/internal/journal"
	"autoclose-bot/internal/monitor"
	"autoclose-bot/internal/settings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PriceSource is a cache of recent mark prices, such as the websocket stream.
type PriceSource interface {
	Prices(symbols []string) map[string]decimal.Decimal
}

// CloseLog lists recent close attempts.
type CloseLog interface {
	Recent(ctx context.Context, limit int) ([]journal.Entry, error)
}

type Config struct {
	Addr       string
	StaleAfter time.Duration
}

type Option func(*Server)

func WithPriceSource(p PriceSource) Option {
	return func(s *Server) { s.prices = p }
}

func WithCloseLog(l CloseLog) Option {
	return func(s *Server) { s.closes = l }
}

type Server struct {
	cfg    Config
	holder *settings.Holder
	mon    *monitor.Monitor
	exc    exchange.Exchange
	prices PriceSource
	closes CloseLog
	hub    *Hub
	log    *zap.Logger
	router *gin.Engine
}

func NewServer(cfg Config, holder *settings.Holder, mon *monitor.Monitor, exc exchange.Exchange, log *zap.Logger, opts ...Option) *Server {
	s := &Server{
		cfg:    cfg,
		holder: holder,
		mon:    mon,
		exc:    exc,
		log:    log.Named("dashboard"),
	}
	s.hub = NewHub(s.log)
	for _, opt := range opts {
		opt(s)
	}

	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/healthz", s.handleHealth)
	api := r.Group("/api")
	{
		api.GET("/config", s.handleGetConfig)
		api.POST("/config", s.handlePostConfig)
		api.GET("/positions", s.handlePositions)
		api.GET("/closes", s.handleCloses)
	}
	r.GET("/ws", s.handleWS)

	s.router = r
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Hub() *Hub {
	return s.hub
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("dashboard listening", zap.String("addr", s.cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("dashboard server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("dashboard shutdown: %w", err)
	}
	s.log.Info("dashboard stopped")
	return nil
}

// PublishSnapshot pushes snap to the websocket clients.
func (s *Server) PublishSnapshot(snap *monitor.Snapshot) {
	if s.hub.ClientCount() == 0 {
		return
	}
	s.hub.Broadcast(s.snapshotMessage(snap, s.cachedMarks(snap)))
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

type configResponse struct {
	TakeProfit       float64  `json:"take_profit"`
	StopLoss         float64  `json:"stop_loss"`
	CheckInterval    float64  `json:"check_interval"`
	SymbolsWhitelist []string `json:"symbols_whitelist"`
}

type statusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// Quantity is signed, negative for shorts.
type positionView struct {
	Key           string  `json:"key"`
	Symbol        string  `json:"symbol"`
	Side          string  `json:"side"`
	Quantity      float64 `json:"quantity"`
	EntryPrice    float64 `json:"entry_price"`
	MarkPrice     float64 `json:"mark_price"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
}

type snapshotMessage struct {
	Type      string         `json:"type"`
	Time      int64          `json:"time"`
	Balance   float64        `json:"balance"`
	TotalPnL  float64        `json:"total_pnl"`
	Positions []positionView `json:"positions"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

func (s *Server) handleGetConfig(c *gin.Context) {
	t := s.holder.Load()
	c.JSON(http.StatusOK, configResponse{
		TakeProfit:       t.TakeProfit.InexactFloat64(),
		StopLoss:         t.StopLoss.InexactFloat64(),
		CheckInterval:    t.CheckInterval.Seconds(),
		SymbolsWhitelist: t.Whitelist(),
	})
}

func (s *Server) handlePostConfig(c *gin.Context) {
	var body map[string]json.RawMessage
	if err := json.NewDecoder(c.Request.Body).Decode(&body); err != nil || body == nil {
		c.JSON(http.StatusBadRequest, statusResponse{Status: "error", Message: "invalid JSON body"})
		return
	}

	tp, err := numberField(body, "take_profit")
	if err != nil {
		c.JSON(http.StatusBadRequest, statusResponse{Status: "error", Message: err.Error()})
		return
	}
	sl, err := numberField(body, "stop_loss")
	if err != nil {
		c.JSON(http.StatusBadRequest, statusResponse{Status: "error", Message: err.Error()})
		return
	}
	secs, err := numberField(body, "check_interval")
	if err != nil {
		c.JSON(http.StatusBadRequest, statusResponse{Status: "error", Message: err.Error()})
		return
	}
	interval := time.Duration(secs.Mul(decimal.NewFromInt(int64(time.Second))).IntPart())

	next := s.holder.Update(func(cur settings.Thresholds) settings.Thresholds {
		return cur.WithLimits(tp, sl, interval)
	})
	s.log.Info("thresholds updated",
		zap.String("take_profit", next.TakeProfit.String()),
		zap.String("stop_loss", next.StopLoss.String()),
		zap.Duration("check_interval", next.CheckInterval),
	)
	c.JSON(http.StatusOK, statusResponse{Status: "success"})
}

// numberField reads a JSON number or a numeric string.
func numberField(body map[string]json.RawMessage, name string) (decimal.Decimal, error) {
	raw, ok := body[name]
	if !ok || len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return decimal.Zero, fmt.Errorf("missing field %s", name)
	}
	text := string(raw)
	if raw[0] == '"' {
		unquoted, err := strconv.Unquote(text)
		if err != nil {
			return decimal.Zero, fmt.Errorf("%s must be a number", name)
		}
		text = unquoted
	}
	v, err := decimal.NewFromString(text)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s must be a number", name)
	}
	return v, nil
}

func (s *Server) handlePositions(c *gin.Context) {
	ctx := c.Request.Context()
	snap, err := s.mon.Current(ctx, s.holder.Load(), s.cfg.StaleAfter)
	if err != nil {
		s.log.Warn("positions unavailable", zap.Error(err))
		c.JSON(http.StatusBadGateway, statusResponse{Status: "error", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, s.positionViews(snap, s.markPrices(ctx, snap)))
}

func (s *Server) handleCloses(c *gin.Context) {
	if s.closes == nil {
		c.JSON(http.StatusOK, []journal.Entry{})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, statusResponse{Status: "error", Message: "limit must be a positive integer"})
		return
	}
	entries, err := s.closes.Recent(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, statusResponse{Status: "error", Message: err.Error()})
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	c.JSON(http.StatusOK, entries)
}

func (s *Server) handleWS(c *gin.Context) {
	var initial any
	if snap := s.mon.Latest(); snap != nil {
		initial = s.snapshotMessage(snap, s.cachedMarks(snap))
	}
	s.hub.HandleWebSocket(c.Writer, c.Request, initial)
}

func (s *Server) cachedMarks(snap *monitor.Snapshot) map[string]decimal.Decimal {
	if s.prices == nil {
		return nil
	}
	symbols := make([]string, 0, len(snap.Positions))
	for _, p := range snap.Positions {
		symbols = append(symbols, p.Symbol)
	}
	return s.prices.Prices(symbols)
}

// markPrices prefers the streamed cache and asks the exchange for the rest.
func (s *Server) markPrices(ctx context.Context, snap *monitor.Snapshot) map[string]decimal.Decimal {
	symbols := make([]string, 0, len(snap.Positions))
	for _, p := range snap.Positions {
		symbols = append(symbols, p.Symbol)
	}

	marks := make(map[string]decimal.Decimal, len(symbols))
	if s.prices != nil {
		for sym, px := range s.prices.Prices(symbols) {
			marks[sym] = px
		}
	}

	var missing []string
	for _, sym := range symbols {
		if _, ok := marks[sym]; !ok {
			missing = append(missing, sym)
		}
	}
	if len(missing) == 0 || s.exc == nil {
		return marks
	}

	fetched, err := s.exc.GetMarkPrices(ctx, missing)
	if err != nil {
		s.log.Warn("mark price lookup failed", zap.Error(err))
		return marks
	}
	for sym, px := range fetched {
		marks[sym] = px
	}
	return marks
}

func (s *Server) positionViews(snap *monitor.Snapshot, marks map[string]decimal.Decimal) []positionView {
	out := make([]positionView, 0, len(snap.Positions))
	for _, p := range snap.Positions {
		mark := p.MarkPrice
		if px, ok := marks[p.Symbol]; ok {
			mark = px
		}
		out = append(out, positionView{
			Key:           p.Key(),
			Symbol:        p.Symbol,
			Side:          string(p.Side()),
			Quantity:      p.Quantity.InexactFloat64(),
			EntryPrice:    p.EntryPrice.InexactFloat64(),
			MarkPrice:     mark.InexactFloat64(),
			UnrealizedPnL: p.UnrealizedPnL.InexactFloat64(),
		})
	}
	return out
}

func (s *Server) snapshotMessage(snap *monitor.Snapshot, marks map[string]decimal.Decimal) snapshotMessage {
	return snapshotMessage{
		Type:      "snapshot",
		Time:      snap.Time.UnixMilli(),
		Balance:   snap.Balance.InexactFloat64(),
		TotalPnL:  snap.TotalPnL.InexactFloat64(),
		Positions: s.positionViews(snap, marks),
	}
}
