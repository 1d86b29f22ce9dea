package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"autoclose-bot/internal/exchange"
	"autoclose-bot/internal/exchange/exchangetest"
	"autoclose-bot/internal/executor"
	"autoclose-bot/internal/journal"
	"autoclose-bot/internal/monitor"
	"autoclose-bot/internal/settings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type staticPrices map[string]decimal.Decimal

func (p staticPrices) Prices(symbols []string) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal)
	for _, s := range symbols {
		if px, ok := p[s]; ok {
			out[s] = px
		}
	}
	return out
}

type fixture struct {
	fake   *exchangetest.Fake
	holder *settings.Holder
	mon    *monitor.Monitor
	srv    *Server
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	log := zaptest.NewLogger(t)
	fake := exchangetest.New()
	holder := settings.NewHolder(settings.New(d("1"), d("-1"), 3*time.Second, []string{"BTCUSDT", "ETHUSDT"}))
	mon := monitor.New(fake, "USDT", log)
	srv := NewServer(Config{Addr: "127.0.0.1:0", StaleAfter: time.Minute}, holder, mon, fake, log, opts...)
	return &fixture{fake: fake, holder: holder, mon: mon, srv: srv}
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(w, req)
	return w
}

func TestGetConfig(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodGet, "/api/config", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"take_profit":1,"stop_loss":-1,"check_interval":3,"symbols_whitelist":["BTCUSDT","ETHUSDT"]}`, w.Body.String())
}

func TestPostConfigThenGet(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodPost, "/api/config", `{"take_profit": 2.0, "stop_loss": -2.0, "check_interval": 5}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"success"}`, w.Body.String())

	w = f.do(http.MethodGet, "/api/config", "")
	require.Equal(t, http.StatusOK, w.Code)

	var got configResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, 2.0, got.TakeProfit)
	assert.Equal(t, -2.0, got.StopLoss)
	assert.Equal(t, 5.0, got.CheckInterval)

	th := f.holder.Load()
	assert.Equal(t, 5*time.Second, th.CheckInterval)
	assert.True(t, th.Allows("BTCUSDT"))
	assert.False(t, th.Allows("SOLUSDT"))
}

func TestPostConfigAcceptsNumericStrings(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodPost, "/api/config", `{"take_profit": "0.5", "stop_loss": "-0.25", "check_interval": "1.5"}`)
	require.Equal(t, http.StatusOK, w.Code)

	th := f.holder.Load()
	assert.True(t, th.TakeProfit.Equal(d("0.5")))
	assert.True(t, th.StopLoss.Equal(d("-0.25")))
	assert.Equal(t, 1500*time.Millisecond, th.CheckInterval)
}

func TestPostConfigRejectsBadInput(t *testing.T) {
	tests := map[string]string{
		"not json":         `take_profit=2`,
		"empty":            ``,
		"non numeric":      `{"take_profit": "abc", "stop_loss": -1, "check_interval": 3}`,
		"missing interval": `{"take_profit": 2, "stop_loss": -1}`,
		"null":             `{"take_profit": null, "stop_loss": -1, "check_interval": 3}`,
		"bool":             `{"take_profit": true, "stop_loss": -1, "check_interval": 3}`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			w := f.do(http.MethodPost, "/api/config", body)
			require.Equal(t, http.StatusBadRequest, w.Code)

			var resp statusResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, "error", resp.Status)
			assert.NotEmpty(t, resp.Message)

			// thresholds untouched
			assert.True(t, f.holder.Load().TakeProfit.Equal(d("1")))
		})
	}
}

func TestPositionsEnrichedWithMarkPrices(t *testing.T) {
	f := newFixture(t, WithPriceSource(staticPrices{"BTCUSDT": d("43000")}))
	f.fake.Marks["ETHUSDT"] = d("2250")
	f.fake.SetPositions(
		exchange.Position{Symbol: "BTCUSDT", Quantity: d("0.01"), EntryPrice: d("42000"), MarkPrice: d("1"), UnrealizedPnL: d("10")},
		exchange.Position{Symbol: "ETHUSDT", Quantity: d("-0.5"), EntryPrice: d("2300"), MarkPrice: d("1"), UnrealizedPnL: d("25")},
		exchange.Position{Symbol: "SOLUSDT", Quantity: d("3"), UnrealizedPnL: d("1")},
	)

	w := f.do(http.MethodGet, "/api/positions", "")
	require.Equal(t, http.StatusOK, w.Code)

	var got []positionView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got, 2)

	assert.Equal(t, positionView{Key: "BTCUSDT_long", Symbol: "BTCUSDT", Side: "LONG", Quantity: 0.01, EntryPrice: 42000, MarkPrice: 43000, UnrealizedPnL: 10}, got[0])
	assert.Equal(t, positionView{Key: "ETHUSDT_short", Symbol: "ETHUSDT", Side: "SHORT", Quantity: -0.5, EntryPrice: 2300, MarkPrice: 2250, UnrealizedPnL: 25}, got[1])
}

func TestPositionsUsesFreshSnapshot(t *testing.T) {
	f := newFixture(t)
	f.fake.SetPositions(exchange.Position{Symbol: "BTCUSDT", Quantity: d("1"), UnrealizedPnL: d("1")})

	_, err := f.mon.Fetch(context.Background(), f.holder.Load())
	require.NoError(t, err)
	require.Equal(t, 1, f.fake.FetchCalls)

	w := f.do(http.MethodGet, "/api/positions", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, f.fake.FetchCalls)
}

func TestPositionsFetchError(t *testing.T) {
	f := newFixture(t)
	f.fake.FetchErr = exchangetest.ErrRejected

	w := f.do(http.MethodGet, "/api/positions", "")
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestCloses(t *testing.T) {
	j, err := journal.NewSQLite(filepath.Join(t.TempDir(), "closes.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	require.NoError(t, j.Record(context.Background(), "take_profit", executor.CloseResult{
		Symbol: "BTCUSDT", Side: exchange.PositionSideLong, Success: true, Method: executor.MethodReduceOnly,
	}))

	f := newFixture(t, WithCloseLog(j))

	w := f.do(http.MethodGet, "/api/closes?limit=5", "")
	require.Equal(t, http.StatusOK, w.Code)
	var entries []journal.Entry
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "BTCUSDT", entries[0].Symbol)

	w = f.do(http.MethodGet, "/api/closes?limit=x", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestClosesWithoutJournal(t *testing.T) {
	f := newFixture(t)
	w := f.do(http.MethodGet, "/api/closes", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	w := f.do(http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"healthy"`)
}

func TestWebSocketReceivesSnapshots(t *testing.T) {
	f := newFixture(t)
	f.fake.SetPositions(exchange.Position{Symbol: "BTCUSDT", Quantity: d("1"), UnrealizedPnL: d("2")})

	ts := httptest.NewServer(f.srv.Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return f.srv.Hub().ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	snap, err := f.mon.Fetch(context.Background(), f.holder.Load())
	require.NoError(t, err)
	f.srv.PublishSnapshot(snap)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg snapshotMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "snapshot", msg.Type)
	assert.Equal(t, 2.0, msg.TotalPnL)
	require.Len(t, msg.Positions, 1)
	assert.Equal(t, "BTCUSDT", msg.Positions[0].Symbol)

	conn.Close()
	require.Eventually(t, func() bool { return f.srv.Hub().ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestPublishSnapshotDoesNotWaitForStalledClient(t *testing.T) {
	f := newFixture(t)

	ts := httptest.NewServer(f.srv.Handler())
	defer ts.Close()

	// connected but never reads
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return f.srv.Hub().ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	positions := make([]exchange.Position, 2000)
	for i := range positions {
		positions[i] = exchange.Position{
			Symbol:        fmt.Sprintf("SYM%dUSDT", i),
			Quantity:      d("1.2345"),
			EntryPrice:    d("100.5"),
			MarkPrice:     d("101.25"),
			UnrealizedPnL: d("0.75"),
		}
	}
	snap := &monitor.Snapshot{Time: time.Now(), Balance: d("1000"), TotalPnL: d("1500"), Positions: positions}

	var worst time.Duration
	for i := 0; i < 200 && f.srv.Hub().ClientCount() > 0; i++ {
		start := time.Now()
		f.srv.PublishSnapshot(snap)
		if el := time.Since(start); el > worst {
			worst = el
		}
	}
	assert.Less(t, worst, time.Second)
	assert.Eventually(t, func() bool { return f.srv.Hub().ClientCount() == 0 }, 5*time.Second, 10*time.Millisecond)
}
