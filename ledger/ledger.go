// Package ledger provides the append-only stores behind protocol.Ledger.
//
// Three implementations share one contract: MemoryLedger for tests and
// single-process demos, SQLiteLedger for a durable single-node deployment,
// and PostgresLedger for a shared database. Both SQL ledgers run the same
// queries through sqlLedger and differ only in dialect and connection setup.
package ledger

import (
	"fmt"

	"github.com/flashbots/fedledger/protocol"
)

// Driver names a ledger implementation.
type Driver string

// Supported drivers.
const (
	DriverMemory   Driver = "memory"
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// Config selects and configures a ledger implementation.
type Config struct {
	Driver   Driver         `yaml:"driver"`
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// DefaultConfig returns an in-memory ledger configuration.
func DefaultConfig() Config {
	return Config{
		Driver: DriverMemory,
		SQLite: DefaultSQLiteConfig(),
		Postgres: PostgresConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "fedledger",
			Database: "fedledger",
			SSLMode:  "disable",
		},
	}
}

// Open creates the ledger selected by config.Driver.
func Open(config Config) (protocol.Ledger, error) {
	switch config.Driver {
	case "", DriverMemory:
		return NewMemoryLedger(), nil
	case DriverSQLite:
		return NewSQLiteLedger(config.SQLite)
	case DriverPostgres:
		return NewPostgresLedger(&config.Postgres)
	}
	return nil, fmt.Errorf("unknown ledger driver %q", config.Driver)
}

func persistErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", protocol.ErrPersistence, op, err)
}
