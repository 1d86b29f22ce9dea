package ws

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	DefaultMarkPriceURL = "wss://fstream.binance.com/ws/!markPrice@arr@1s"
	TestnetMarkPriceURL = "wss://stream.binancefuture.com/ws/!markPrice@arr@1s"
	readTimeout         = 60 * time.Second
)

type MarkPrice struct {
	Symbol string
	Price  decimal.Decimal
	Time   time.Time
}

// markPriceEvent is one entry of the markPriceUpdate stream.
type markPriceEvent struct {
	Event       string `json:"e"`
	EventTime   int64  `json:"E"`
	Symbol      string `json:"s"`
	MarkPrice   string `json:"p"`
	IndexPrice  string `json:"i"`
	FundingRate string `json:"r"`
}

// MarkPriceStream keeps the latest mark price per symbol from the Binance
// futures websocket and reconnects until its context is cancelled.
type MarkPriceStream struct {
	url      string
	log      *zap.Logger
	mu       sync.RWMutex
	prices   map[string]MarkPrice
	handlers []func([]MarkPrice)
}

func NewMarkPriceStream(url string, log *zap.Logger) *MarkPriceStream {
	if url == "" {
		url = DefaultMarkPriceURL
	}
	return &MarkPriceStream{
		url:    url,
		log:    log.Named("markprice"),
		prices: make(map[string]MarkPrice),
	}
}

// Subscribe registers a handler called with every batch of updates.
func (c *MarkPriceStream) Subscribe(handler func([]MarkPrice)) {
	c.mu.Lock()
	c.handlers = append(c.handlers, handler)
	c.mu.Unlock()
}

func (c *MarkPriceStream) Price(symbol string) (decimal.Decimal, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	mp, ok := c.prices[symbol]
	return mp.Price, ok
}

// Prices returns the cached prices for symbols, skipping unknown ones.
func (c *MarkPriceStream) Prices(symbols []string) map[string]decimal.Decimal {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]decimal.Decimal, len(symbols))
	for _, s := range symbols {
		if mp, ok := c.prices[s]; ok {
			out[s] = mp.Price
		}
	}
	return out
}

// Run connects and reads until ctx is done, reconnecting with exponential
// backoff after failures.
func (c *MarkPriceStream) Run(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 30 * time.Second

	for {
		received, err := c.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if received {
			b.Reset()
		}
		wait := b.NextBackOff()
		c.log.Warn("mark price stream disconnected", zap.Error(err), zap.Duration("retry_in", wait))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

func (c *MarkPriceStream) session(ctx context.Context) (received bool, err error) {
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second

	conn, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return false, fmt.Errorf("failed to connect to mark price stream: %w", err)
	}
	c.log.Info("mark price stream connected", zap.String("url", c.url))

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()
	defer conn.Close()

	for {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return received, fmt.Errorf("read mark price stream: %w", err)
		}
		updates, err := parseMarkPrices(data)
		if err != nil {
			c.log.Debug("ignoring mark price message", zap.Error(err))
			continue
		}
		received = true
		c.apply(updates)
	}
}

func (c *MarkPriceStream) apply(updates []MarkPrice) {
	c.mu.Lock()
	for _, u := range updates {
		c.prices[u.Symbol] = u
	}
	handlers := slices.Clone(c.handlers)
	c.mu.Unlock()

	for _, h := range handlers {
		h(updates)
	}
}

// parseMarkPrices accepts both the all-market array and single-symbol events.
func parseMarkPrices(data []byte) ([]MarkPrice, error) {
	data = bytes.TrimSpace(data)
	var events []markPriceEvent
	if len(data) > 0 && data[0] == '[' {
		if err := json.Unmarshal(data, &events); err != nil {
			return nil, err
		}
	} else {
		var ev markPriceEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}

	out := make([]MarkPrice, 0, len(events))
	for _, ev := range events {
		if ev.Event != "markPriceUpdate" || ev.Symbol == "" {
			continue
		}
		price, err := decimal.NewFromString(ev.MarkPrice)
		if err != nil {
			continue
		}
		out = append(out, MarkPrice{
			Symbol: strings.ToUpper(ev.Symbol),
			Price:  price,
			Time:   time.UnixMilli(ev.EventTime),
		})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no mark price updates in message")
	}
	return out, nil
}
