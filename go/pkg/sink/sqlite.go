package sink

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/glebarez/go-sqlite"

	"indicator-pipeline/go/pkg/pipeline"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS indicator_snapshots (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	symbol TEXT NOT NULL,
	current_price REAL,
	ts TEXT NOT NULL,
	trend TEXT,
	buy_score INTEGER,
	sell_score INTEGER,
	hold_score INTEGER,
	ma5 REAL, ma10 REAL, ma15 REAL, ma30 REAL,
	macd REAL, macd_signal REAL, macd_diff REAL,
	volume REAL, rsi REAL,
	bb_upper REAL, bb_middle REAL, bb_lower REAL,
	stoch_k REAL, stoch_d REAL,
	vwap REAL, spread REAL, imbalance REAL,
	processing_time REAL
);
CREATE INDEX IF NOT EXISTS indicator_snapshots_symbol_ts ON indicator_snapshots (symbol, ts);
`

// SQLite writes snapshots to a local file, one row per Accept.
type SQLite struct {
	db     *sql.DB
	insert string
}

// OpenSQLite opens (or creates) the database at path in WAL mode.
func OpenSQLite(path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection serializes writers.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("pragma %s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create sqlite schema: %w", err)
	}
	return &SQLite{
		db:     db,
		insert: insertSQL("indicator_snapshots", func(int) string { return "?" }),
	}, nil
}

func (s *SQLite) Accept(ctx context.Context, snap pipeline.Snapshot) error {
	vals := rowValues(snap)
	// The driver stores time.Time as text; keep it sortable and explicit.
	vals[2] = snap.Timestamp
	if _, err := s.db.ExecContext(ctx, s.insert, vals...); err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// Count returns the number of stored rows for symbol.
func (s *SQLite) Count(ctx context.Context, symbol string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM indicator_snapshots WHERE symbol = ?", symbol).Scan(&n)
	return n, err
}

func (s *SQLite) Close() error { return s.db.Close() }
