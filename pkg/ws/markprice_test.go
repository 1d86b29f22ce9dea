package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestParseMarkPrices(t *testing.T) {
	arr := `[{"e":"markPriceUpdate","E":1700000000000,"s":"BTCUSDT","p":"43000.10","i":"42990","r":"0.0001"},
	         {"e":"markPriceUpdate","E":1700000000000,"s":"ETHUSDT","p":"2250.5"}]`
	updates, err := parseMarkPrices([]byte(arr))
	require.NoError(t, err)
	require.Len(t, updates, 2)
	assert.Equal(t, "BTCUSDT", updates[0].Symbol)
	assert.True(t, updates[0].Price.Equal(decimal.RequireFromString("43000.1")))

	single := `{"e":"markPriceUpdate","E":1700000000000,"s":"solusdt","p":"101.2"}`
	updates, err = parseMarkPrices([]byte(single))
	require.NoError(t, err)
	require.Len(t, updates, 1)
	assert.Equal(t, "SOLUSDT", updates[0].Symbol)

	_, err = parseMarkPrices([]byte(`{"result":null,"id":1}`))
	assert.Error(t, err)
}

func TestMarkPriceStreamCachesPrices(t *testing.T) {
	upgrader := websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage,
			[]byte(`[{"e":"markPriceUpdate","E":1700000000000,"s":"BTCUSDT","p":"43000.5"}]`))
		// hold the connection open until the client leaves
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer ts.Close()

	stream := NewMarkPriceStream("ws"+strings.TrimPrefix(ts.URL, "http"), zaptest.NewLogger(t))
	var batches atomic.Int32
	stream.Subscribe(func(updates []MarkPrice) { batches.Add(1) })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- stream.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, ok := stream.Price("BTCUSDT")
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	price, _ := stream.Price("BTCUSDT")
	assert.True(t, price.Equal(decimal.RequireFromString("43000.5")))
	assert.Equal(t, int32(1), batches.Load())

	prices := stream.Prices([]string{"BTCUSDT", "ETHUSDT"})
	assert.Len(t, prices, 1)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not stop")
	}
}

func TestApplyFansOutToHandlers(t *testing.T) {
	stream := NewMarkPriceStream("", zaptest.NewLogger(t))

	var first, second atomic.Int32
	stream.Subscribe(func(updates []MarkPrice) {
		first.Add(int32(len(updates)))
		// subscribing from a handler must not deadlock or join the running dispatch
		stream.Subscribe(func([]MarkPrice) { second.Add(1) })
	})

	stream.apply([]MarkPrice{
		{Symbol: "BTCUSDT", Price: decimal.RequireFromString("43000")},
		{Symbol: "ETHUSDT", Price: decimal.RequireFromString("2250")},
	})
	assert.Equal(t, int32(2), first.Load())
	assert.Equal(t, int32(0), second.Load())

	stream.apply([]MarkPrice{{Symbol: "BTCUSDT", Price: decimal.RequireFromString("43100")}})
	assert.Equal(t, int32(1), second.Load())

	price, ok := stream.Price("BTCUSDT")
	require.True(t, ok)
	assert.True(t, price.Equal(decimal.RequireFromString("43100")))
}
