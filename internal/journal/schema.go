package journal

const Schema = `
CREATE TABLE IF NOT EXISTS closes (
	id TEXT PRIMARY KEY,
	time_ms INTEGER NOT NULL,
	reason TEXT NOT NULL,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	quantity TEXT NOT NULL,
	pnl TEXT NOT NULL,
	success INTEGER NOT NULL,
	method TEXT NOT NULL,
	order_id TEXT NOT NULL,
	attempts TEXT NOT NULL,
	error TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_closes_time ON closes(time_ms);
`
