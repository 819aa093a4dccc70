package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
}

// ConnectionString returns the PostgreSQL connection string.
func (c *PostgresConfig) ConnectionString() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, sslMode)
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS rounds (
	id BIGSERIAL PRIMARY KEY,
	status VARCHAR(16) NOT NULL,
	started_at BIGINT NOT NULL,
	completed_at BIGINT
);

CREATE TABLE IF NOT EXISTS clients (
	client_id VARCHAR(256) PRIMARY KEY,
	public_key BYTEA NOT NULL,
	registered_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS update_records (
	id BIGSERIAL PRIMARY KEY,
	round_id BIGINT NOT NULL REFERENCES rounds(id),
	client_id VARCHAR(256) NOT NULL, -- not a foreign key: unregistered submissions are kept and discarded at aggregation
	ciphertext BYTEA,
	nonce BYTEA,
	tag BYTEA,
	signature BYTEA,
	digest BYTEA NOT NULL,
	received_at BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_update_records_round ON update_records(round_id);

CREATE TABLE IF NOT EXISTS checkpoints (
	id VARCHAR(64) PRIMARY KEY,
	round_id BIGINT NOT NULL UNIQUE REFERENCES rounds(id),
	parameters BYTEA NOT NULL,
	metric DOUBLE PRECISION NOT NULL,
	created_at BIGINT NOT NULL
);
`

// PostgresLedger implements protocol.Ledger with PostgreSQL persistence.
type PostgresLedger struct {
	*sqlLedger
}

// NewPostgresLedger connects, verifies the connection and runs migrations.
func NewPostgresLedger(config *PostgresConfig) (*PostgresLedger, error) {
	db, err := sql.Open("postgres", config.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	ledger := &PostgresLedger{
		sqlLedger: &sqlLedger{
			db: db,
			dialect: dialect{
				name:     DriverPostgres,
				schema:   postgresSchema,
				numbered: true,
				// Appends share the round row; completion needs it exclusively.
				lockRound: " FOR SHARE",
			},
		},
	}
	if err := ledger.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return ledger, nil
}
