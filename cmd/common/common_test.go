package common

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/flashbots/fedledger/crypto"
	"github.com/flashbots/fedledger/ledger"
	"github.com/stretchr/testify/require"
)

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
http_addr: ":9090"
metrics_addr: ":9091"
schedule: "@every 30s"
ledger:
  driver: sqlite
  sqlite:
    path: /tmp/fed.db
model:
  input_dim: 8
  output_dim: 2
  learning_rate: 0.1
  local_epochs: 3
  seed: 9
`))
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.HTTPAddr)
	require.Equal(t, ":9091", cfg.MetricsAddr)
	require.Equal(t, "@every 30s", cfg.Schedule)
	require.Equal(t, ledger.DriverSQLite, cfg.Ledger.Driver)
	require.Equal(t, "/tmp/fed.db", cfg.Ledger.SQLite.Path)
	// Unset nested fields keep their defaults.
	require.Equal(t, "WAL", cfg.Ledger.SQLite.JournalMode)
	require.Equal(t, 8, cfg.Model.InputDim)
	require.Equal(t, uint64(9), cfg.Model.Seed)
	require.Equal(t, 200, cfg.HeldOutSamples)
}

func TestParseConfigRejectsInvalid(t *testing.T) {
	_, err := ParseConfig([]byte("ledger:\n  driver: mongo\n"))
	require.Error(t, err)

	_, err = ParseConfig([]byte("model:\n  input_dim: 0\n"))
	require.Error(t, err)

	_, err = ParseConfig([]byte("http_addr: \":9090\"\nmetrics_addr: \":9090\"\n"))
	require.Error(t, err)

	_, err = ParseConfig([]byte("http_addr: [1, 2"))
	require.Error(t, err)
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("http_addr: \":7070\"\n"), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, ":7070", cfg.HTTPAddr)
	require.Equal(t, ledger.DriverMemory, cfg.Ledger.Driver)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestLoadOrGenerateKeys(t *testing.T) {
	generated, err := LoadOrGenerateSessionKey("")
	require.NoError(t, err)
	require.Len(t, generated, crypto.SessionKeySize)

	loaded, err := LoadOrGenerateSessionKey(generated.String())
	require.NoError(t, err)
	require.Equal(t, generated, loaded)

	_, err = LoadOrGenerateSessionKey("abcd")
	require.ErrorIs(t, err, crypto.ErrMalformedKey)

	sk, err := LoadOrGenerateSigningKey("")
	require.NoError(t, err)
	again, err := LoadOrGenerateSigningKey(sk.String())
	require.NoError(t, err)
	require.Equal(t, sk.Bytes(), again.Bytes())
}

func TestNewLogger(t *testing.T) {
	_, err := NewLogger(LogConfig{Level: "debug", JSON: true})
	require.NoError(t, err)
	_, err = NewLogger(LogConfig{Level: "loud"})
	require.Error(t, err)
}
