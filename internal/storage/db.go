package storage

import (
	"database/sql"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// DB wraps SQLite database
type DB struct {
	db *sql.DB
}

// NewDB opens (creating if needed) the database at path
func NewDB(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." && path != ":memory:" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, err
		}
	}

	// _pragma=journal_mode(WAL) & _pragma=synchronous(NORMAL)
	dsn := path
	if !strings.Contains(path, "?") {
		dsn += "?"
	} else {
		dsn += "&"
	}
	dsn += "_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}

	log.Info().Str("path", path).Msg("database initialized")
	return &DB{db: db}, nil
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS wallets (
		user_id INTEGER PRIMARY KEY,
		chain TEXT NOT NULL DEFAULT 'solana',
		public_key TEXT NOT NULL,
		private_key TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS trades (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		side TEXT NOT NULL,
		mint TEXT NOT NULL,
		amount INTEGER NOT NULL DEFAULT 0,
		amount_out INTEGER NOT NULL DEFAULT 0,
		signature TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		timestamp INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS settings (
		user_id INTEGER PRIMARY KEY,
		slippage_bps INTEGER NOT NULL,
		priority_fee INTEGER NOT NULL,
		jito_tip INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS transfer_attempts (
		idempotency_key TEXT NOT NULL,
		signature TEXT NOT NULL,
		source TEXT NOT NULL,
		destination TEXT NOT NULL,
		asset TEXT NOT NULL,
		amount INTEGER NOT NULL,
		destination_pre_balance INTEGER NOT NULL,
		last_valid_height INTEGER NOT NULL,
		status TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (idempotency_key, signature)
	);

	CREATE INDEX IF NOT EXISTS idx_trades_user_timestamp ON trades(user_id, timestamp);
	`

	_, err := db.Exec(schema)
	return err
}

// Ping checks the connection (used by the health checker)
func (d *DB) Ping() error {
	return d.db.Ping()
}

// Close closes the database
func (d *DB) Close() error {
	return d.db.Close()
}
