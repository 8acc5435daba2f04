// Package store persists engine state so a restart resumes with the
// same open positions and daily loss accounting.
package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"tradebot/internal/core"
)

const schema = `
CREATE TABLE IF NOT EXISTS engine_state (
	id         INTEGER PRIMARY KEY CHECK (id = 1),
	version    INTEGER NOT NULL,
	payload    TEXT    NOT NULL,
	checksum   TEXT    NOT NULL,
	saved_at   TEXT    NOT NULL
);

CREATE TABLE IF NOT EXISTS trades (
	position_id  TEXT    PRIMARY KEY,
	symbol       TEXT    NOT NULL,
	side         TEXT    NOT NULL,
	entry_price  TEXT    NOT NULL,
	exit_price   TEXT    NOT NULL,
	quantity     TEXT    NOT NULL,
	realized_pnl TEXT    NOT NULL,
	close_reason TEXT    NOT NULL,
	opened_at    TEXT    NOT NULL,
	closed_at    TEXT    NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol);
`

// SQLiteStore implements core.StateStore on a local SQLite file. State
// snapshots are stored as a single checksummed JSON row; closed trades
// are journaled append-only for later analysis.
type SQLiteStore struct {
	db     *sql.DB
	logger core.ILogger
}

// NewSQLiteStore opens (or creates) the database at path and applies
// the schema. WAL mode keeps the frequent snapshot writes from blocking
// reads.
func NewSQLiteStore(path string, logger core.ILogger) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}
	// A single writer avoids SQLITE_BUSY under concurrent ticks.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		logger: logger.WithField("component", "state_store"),
	}, nil
}

// SaveState replaces the single snapshot row with the given state.
func (s *SQLiteStore) SaveState(ctx context.Context, state *core.EngineState) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}
	sum := sha256.Sum256(payload)

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO engine_state (id, version, payload, checksum, saved_at)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			version  = excluded.version,
			payload  = excluded.payload,
			checksum = excluded.checksum,
			saved_at = excluded.saved_at`,
		state.Version, string(payload), hex.EncodeToString(sum[:]), state.SavedAt.UTC().Format("2006-01-02T15:04:05.000Z"))
	if err != nil {
		return fmt.Errorf("failed to save state: %w", err)
	}
	return nil
}

// LoadState returns the persisted snapshot, or (nil, nil) when none
// exists yet. A checksum mismatch means the row was corrupted and is
// reported as an error rather than silently restoring bad state.
func (s *SQLiteStore) LoadState(ctx context.Context) (*core.EngineState, error) {
	var payload, checksum string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload, checksum FROM engine_state WHERE id = 1`).Scan(&payload, &checksum)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load state: %w", err)
	}

	sum := sha256.Sum256([]byte(payload))
	if hex.EncodeToString(sum[:]) != checksum {
		return nil, fmt.Errorf("state checksum mismatch, refusing to restore")
	}

	var state core.EngineState
	if err := json.Unmarshal([]byte(payload), &state); err != nil {
		return nil, fmt.Errorf("failed to decode state: %w", err)
	}
	return &state, nil
}

// RecordTrade journals a closed position. Re-recording the same id is
// an upsert so a retried close never duplicates a row.
func (s *SQLiteStore) RecordTrade(ctx context.Context, pos *core.Position) error {
	if pos.Status != core.PositionClosed {
		return fmt.Errorf("cannot journal %s position %s", pos.Status, pos.ID)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trades
			(position_id, symbol, side, entry_price, exit_price, quantity, realized_pnl, close_reason, opened_at, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(position_id) DO UPDATE SET
			exit_price   = excluded.exit_price,
			realized_pnl = excluded.realized_pnl,
			close_reason = excluded.close_reason,
			closed_at    = excluded.closed_at`,
		pos.ID, pos.Symbol, string(pos.Side),
		pos.EntryPrice.String(), pos.ExitPrice.String(), pos.Quantity.String(),
		pos.RealizedPnL.String(), string(pos.CloseReason),
		pos.OpenedAt.UTC().Format("2006-01-02T15:04:05.000Z"),
		pos.ClosedAt.UTC().Format("2006-01-02T15:04:05.000Z"))
	if err != nil {
		return fmt.Errorf("failed to record trade: %w", err)
	}
	return nil
}

// TradeCount returns the number of journaled trades, optionally
// filtered by symbol.
func (s *SQLiteStore) TradeCount(ctx context.Context, symbol string) (int, error) {
	var n int
	var err error
	if symbol == "" {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM trades`).Scan(&n)
	} else {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM trades WHERE symbol = ?`, symbol).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to count trades: %w", err)
	}
	return n, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
