package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"

	// SQLite driver using pure Go implementation
	_ "modernc.org/sqlite"
)

// SQLiteConfig configures the SQLite ledger.
type SQLiteConfig struct {
	// Path to the database file
	Path string `yaml:"path"`

	// JournalMode sets the SQLite journal mode (WAL, DELETE, TRUNCATE, etc.)
	JournalMode string `yaml:"journal_mode"`

	// Synchronous sets the synchronous flag (OFF, NORMAL, FULL, EXTRA)
	Synchronous string `yaml:"synchronous"`

	// BusyTimeout is the timeout for acquiring locks in milliseconds
	BusyTimeout int `yaml:"busy_timeout_ms"`

	// MaxConnections is the max number of database connections
	MaxConnections int `yaml:"max_connections"`
}

// DefaultSQLiteConfig returns default configuration.
func DefaultSQLiteConfig() SQLiteConfig {
	return SQLiteConfig{
		Path:           "fedledger.db",
		JournalMode:    "WAL",
		Synchronous:    "NORMAL",
		BusyTimeout:    5000,
		MaxConnections: 4,
	}
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS rounds (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	status TEXT NOT NULL,
	started_at INTEGER NOT NULL,
	completed_at INTEGER
);

CREATE TABLE IF NOT EXISTS clients (
	client_id TEXT PRIMARY KEY,
	public_key BLOB NOT NULL,
	registered_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS update_records (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	round_id INTEGER NOT NULL REFERENCES rounds(id),
	client_id TEXT NOT NULL, -- not a foreign key: unregistered submissions are kept and discarded at aggregation
	ciphertext BLOB,
	nonce BLOB,
	tag BLOB,
	signature BLOB,
	digest BLOB NOT NULL,
	received_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_update_records_round ON update_records(round_id);

CREATE TABLE IF NOT EXISTS checkpoints (
	id TEXT PRIMARY KEY,
	round_id INTEGER NOT NULL UNIQUE REFERENCES rounds(id),
	parameters BLOB NOT NULL,
	metric REAL NOT NULL,
	created_at INTEGER NOT NULL
);
`

// SQLiteLedger implements protocol.Ledger on a SQLite database file.
type SQLiteLedger struct {
	*sqlLedger
	config SQLiteConfig
}

// NewSQLiteLedger opens (creating if needed) the database at config.Path.
func NewSQLiteLedger(config SQLiteConfig) (*SQLiteLedger, error) {
	defaults := DefaultSQLiteConfig()
	if config.Path == "" {
		config.Path = defaults.Path
	}
	if config.JournalMode == "" {
		config.JournalMode = defaults.JournalMode
	}
	if config.Synchronous == "" {
		config.Synchronous = defaults.Synchronous
	}
	if config.BusyTimeout <= 0 {
		config.BusyTimeout = defaults.BusyTimeout
	}
	if config.MaxConnections <= 0 {
		config.MaxConnections = defaults.MaxConnections
	}

	// Writers take the lock when their transaction begins, so concurrent
	// appends queue on busy_timeout instead of failing a lock upgrade.
	params := url.Values{}
	params.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", config.BusyTimeout))
	params.Add("_pragma", fmt.Sprintf("journal_mode(%s)", config.JournalMode))
	params.Add("_pragma", fmt.Sprintf("synchronous(%s)", config.Synchronous))
	params.Add("_pragma", "foreign_keys(1)")
	params.Set("_txlock", "immediate")
	dsn := "file:" + config.Path + "?" + params.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxConnections)
	db.SetMaxIdleConns(config.MaxConnections)

	ledger := &SQLiteLedger{
		sqlLedger: &sqlLedger{
			db: db,
			dialect: dialect{
				name:   DriverSQLite,
				schema: sqliteSchema,
			},
		},
		config: config,
	}

	if err := ledger.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return ledger, nil
}

// Path returns the database file location.
func (l *SQLiteLedger) Path() string {
	return l.config.Path
}
