// Package common provides shared utilities for fedledger commands.
//
// It holds the helpers the server, simulate and fedctl binaries share:
//
//   - YAML configuration loading with defaults
//   - Key loading and generation for signing and session keys
//   - Logger construction
package common

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/flashbots/fedledger/crypto"
)

// LoadOrGenerateSessionKey loads the shared AES-256 key from a hex string,
// or generates a new one if hexKey is empty.
func LoadOrGenerateSessionKey(hexKey string) (crypto.SessionKey, error) {
	if hexKey != "" {
		return crypto.NewSessionKeyFromString(hexKey)
	}
	return crypto.GenerateSessionKey()
}

// LoadOrGenerateSigningKey loads a PKCS#8 private key from a hex string,
// or generates a new key pair if hexKey is empty.
func LoadOrGenerateSigningKey(hexKey string) (crypto.PrivateKey, error) {
	if hexKey != "" {
		return crypto.NewPrivateKeyFromString(hexKey)
	}
	_, privKey, err := crypto.GenerateKeyPair()
	return privKey, err
}

// NewLogger builds the process logger.
func NewLogger(cfg LogConfig) (*slog.Logger, error) {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "", "info":
		level = slog.LevelInfo
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level %q", cfg.Level)
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.JSON {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
}
