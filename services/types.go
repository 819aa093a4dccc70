package services

import (
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/flashbots/fedledger/aggregator"
	"github.com/flashbots/fedledger/protocol"
)

// RegisterClientRequest registers a client's verification key.
type RegisterClientRequest struct {
	ClientID string `json:"client_id"`
	// PublicKey is the PEM encoded SubjectPublicKeyInfo.
	PublicKey string `json:"public_key"`
}

// ClientResponse describes a registered client.
type ClientResponse struct {
	ClientID     string    `json:"client_id"`
	PublicKey    string    `json:"public_key"`
	RegisteredAt time.Time `json:"registered_at"`
}

// ClientListResponse lists registered clients.
type ClientListResponse struct {
	Clients []*ClientResponse `json:"clients"`
}

// OpenRoundResponse is returned when a round is opened.
type OpenRoundResponse struct {
	RoundID protocol.RoundID `json:"round_id"`
}

// RoundResponse describes a round as seen by the ledger and the aggregator.
type RoundResponse struct {
	*protocol.Round
	Phase   string `json:"phase,omitempty"`
	Records int    `json:"records"`
}

// RoundListResponse lists rounds, newest first.
type RoundListResponse struct {
	Rounds []*protocol.Round `json:"rounds"`
}

// SubmitUpdateResponse acknowledges an appended record.
type SubmitUpdateResponse struct {
	RecordID int64            `json:"record_id"`
	RoundID  protocol.RoundID `json:"round_id"`
	Digest   string           `json:"digest"`
}

// AggregateResponse wraps the aggregation result. Error is set when the run
// ended without a checkpoint.
type AggregateResponse struct {
	*aggregator.Result
	Error string `json:"error,omitempty"`
}

// LedgerEntry is the public view of an update record: who wrote what, when,
// and its digest. Ciphertexts are not exposed.
type LedgerEntry struct {
	RecordID   int64            `json:"record_id"`
	RoundID    protocol.RoundID `json:"round_id"`
	ClientID   string           `json:"client_id"`
	Digest     string           `json:"digest"`
	Size       int              `json:"size"`
	ReceivedAt time.Time        `json:"received_at"`
}

// NewLedgerEntry summarizes a record.
func NewLedgerEntry(r *protocol.UpdateRecord) *LedgerEntry {
	return &LedgerEntry{
		RecordID:   r.ID,
		RoundID:    r.RoundID,
		ClientID:   r.ClientID,
		Digest:     hex.EncodeToString(r.Digest),
		Size:       len(r.Ciphertext),
		ReceivedAt: r.ReceivedAt,
	}
}

// LedgerResponse lists recent ledger entries, newest first.
type LedgerResponse struct {
	Entries []*LedgerEntry `json:"entries"`
}

// CheckpointResponse is a checkpoint with its parameters inlined as JSON.
type CheckpointResponse struct {
	ID         string           `json:"checkpoint_id"`
	RoundID    protocol.RoundID `json:"round_id"`
	Metric     float64          `json:"metric"`
	CreatedAt  time.Time        `json:"created_at"`
	Parameters json.RawMessage  `json:"parameters"`
}

// CheckpointListResponse lists checkpoints by round, descending.
type CheckpointListResponse struct {
	Checkpoints []*CheckpointResponse `json:"checkpoints"`
}

// StatusResponse reports aggregator counters.
type StatusResponse struct {
	aggregator.Stats
	Clients int `json:"clients"`
	Rounds  int `json:"rounds"`
}
