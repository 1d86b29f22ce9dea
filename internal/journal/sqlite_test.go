package journal

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"autoclose-bot/internal/exchange"
	"autoclose-bot/internal/executor"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLite(t *testing.T) (*SQLiteJournal, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	j, err := NewSQLite(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })

	return j, path
}

func TestSQLiteSchemaCreated(t *testing.T) {
	t.Parallel()

	j, path := newTestSQLite(t)
	require.NoError(t, j.Close())

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	var name string
	err = db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name='closes'`).Scan(&name)
	require.NoError(t, err)
	assert.Equal(t, "closes", name)
}

func TestRecordAndRecent(t *testing.T) {
	t.Parallel()

	j, _ := newTestSQLite(t)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	j.now = func() time.Time { return now }

	ok := executor.CloseResult{
		Symbol:   "BTCUSDT",
		Side:     exchange.PositionSideLong,
		Quantity: decimal.RequireFromString("0.01"),
		PnL:      decimal.RequireFromString("1.5"),
		Success:  true,
		Method:   executor.MethodPlain,
		OrderID:  "42",
		Attempts: []executor.Attempt{
			{Method: executor.MethodReduceOnly, Err: errors.New("rejected")},
			{Method: executor.MethodPlain},
		},
	}
	require.NoError(t, j.Record(context.Background(), "take_profit", ok))

	now = now.Add(time.Minute)
	failed := executor.CloseResult{
		Symbol:   "ETHUSDT",
		Side:     exchange.PositionSideShort,
		Quantity: decimal.RequireFromString("0.5"),
		PnL:      decimal.RequireFromString("-1.2"),
		Method:   executor.MethodNone,
		Err:      errors.New("all 2 close methods failed"),
		Attempts: []executor.Attempt{
			{Method: executor.MethodReduceOnly, Err: errors.New("rejected")},
			{Method: executor.MethodPlain, Err: errors.New("rejected")},
		},
	}
	require.NoError(t, j.Record(context.Background(), "stop_loss", failed))

	entries, err := j.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "ETHUSDT", entries[0].Symbol)
	assert.False(t, entries[0].Success)
	assert.Equal(t, "stop_loss", entries[0].Reason)
	assert.Equal(t, "all 2 close methods failed", entries[0].Error)
	assert.Equal(t, []string{"reduce_only:failed", "plain:failed"}, entries[0].Attempts)

	assert.Equal(t, "BTCUSDT", entries[1].Symbol)
	assert.True(t, entries[1].Success)
	assert.Equal(t, "plain", entries[1].Method)
	assert.Equal(t, "0.01", entries[1].Quantity)
	assert.Equal(t, "LONG", entries[1].Side)
	assert.Equal(t, []string{"reduce_only:failed", "plain:ok"}, entries[1].Attempts)
	assert.True(t, entries[1].Time.Equal(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)))
}

func TestRecentLimit(t *testing.T) {
	t.Parallel()

	j, _ := newTestSQLite(t)
	for i := 0; i < 5; i++ {
		require.NoError(t, j.Record(context.Background(), "take_profit", executor.CloseResult{Symbol: "BTCUSDT"}))
	}

	entries, err := j.Recent(context.Background(), 3)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}
