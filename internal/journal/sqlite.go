package journal

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"autoclose-bot/internal/executor"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Entry is one close attempt as stored in the journal.
type Entry struct {
	ID       string    `json:"id"`
	Time     time.Time `json:"time"`
	Reason   string    `json:"reason"`
	Symbol   string    `json:"symbol"`
	Side     string    `json:"side"`
	Quantity string    `json:"quantity"`
	PnL      string    `json:"pnl"`
	Success  bool      `json:"success"`
	Method   string    `json:"method"`
	OrderID  string    `json:"order_id"`
	Attempts []string  `json:"attempts"`
	Error    string    `json:"error,omitempty"`
}

type SQLiteJournal struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLite(path string) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	// one writer keeps sqlite from returning SQLITE_BUSY
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create journal schema: %w", err)
	}

	return &SQLiteJournal{db: db, now: time.Now}, nil
}

// Record stores one close attempt.
func (j *SQLiteJournal) Record(ctx context.Context, reason string, res executor.CloseResult) error {
	attempts := make([]string, 0, len(res.Attempts))
	for _, a := range res.Attempts {
		if a.Err != nil {
			attempts = append(attempts, string(a.Method)+":failed")
		} else {
			attempts = append(attempts, string(a.Method)+":ok")
		}
	}
	errText := ""
	if res.Err != nil {
		errText = res.Err.Error()
	}
	success := 0
	if res.Success {
		success = 1
	}

	_, err := j.db.ExecContext(ctx, `
		INSERT INTO closes
		(id, time_ms, reason, symbol, side, quantity, pnl, success, method, order_id, attempts, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), j.now().UnixMilli(), reason, res.Symbol, string(res.Side),
		res.Quantity.String(), res.PnL.String(), success, string(res.Method), res.OrderID,
		strings.Join(attempts, ","), errText,
	)
	if err != nil {
		return fmt.Errorf("insert close: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (j *SQLiteJournal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, time_ms, reason, symbol, side, quantity, pnl, success, method, order_id, attempts, error
		FROM closes ORDER BY time_ms DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query closes: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e        Entry
			timeMs   int64
			success  int
			attempts string
		)
		if err := rows.Scan(&e.ID, &timeMs, &e.Reason, &e.Symbol, &e.Side, &e.Quantity, &e.PnL,
			&success, &e.Method, &e.OrderID, &attempts, &e.Error); err != nil {
			return nil, fmt.Errorf("scan close: %w", err)
		}
		e.Time = time.UnixMilli(timeMs).UTC()
		e.Success = success == 1
		if attempts != "" {
			e.Attempts = strings.Split(attempts, ",")
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}
