package protocol

import (
	"bytes"
	"time"

	"github.com/flashbots/fedledger/crypto"
)

// RoundID is the ledger-assigned, monotonically increasing round identifier.
type RoundID int64

// RoundStatus is the persisted status of a round.
type RoundStatus string

const (
	RoundOpen     RoundStatus = "OPEN"
	RoundComplete RoundStatus = "COMPLETE"
)

// Valid returns true if the status is recognized.
func (s RoundStatus) Valid() bool {
	switch s {
	case RoundOpen, RoundComplete:
		return true
	}
	return false
}

// RoundPhase is the aggregator-side view of a round's lifecycle. Only the
// terminal phase is persisted (as RoundComplete); the others live in memory.
type RoundPhase int

const (
	PhaseOpen RoundPhase = iota
	PhaseCollecting
	PhaseAggregating
	PhaseClosed
)

// Advance returns the next phase. PhaseClosed is terminal.
func (p RoundPhase) Advance() RoundPhase {
	if p == PhaseClosed {
		return PhaseClosed
	}
	return p + 1
}

func (p RoundPhase) String() string {
	switch p {
	case PhaseOpen:
		return "open"
	case PhaseCollecting:
		return "collecting"
	case PhaseAggregating:
		return "aggregating"
	case PhaseClosed:
		return "closed"
	}
	return "unknown"
}

// Round is one cycle of distribution, local training, submission and
// aggregation. Rounds are never deleted.
type Round struct {
	ID          RoundID     `json:"round_id"`
	Status      RoundStatus `json:"status"`
	StartedAt   time.Time   `json:"started_at"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
}

// ClientIdentity is a registered client and its verification key.
type ClientIdentity struct {
	ClientID     string           `json:"client_id"`
	PublicKey    crypto.PublicKey `json:"-"`
	RegisteredAt time.Time        `json:"registered_at"`
}

// UpdateRecord is an immutable ledger row holding one submitted package.
// A client may have several records in the same round.
type UpdateRecord struct {
	ID         int64            `json:"id"`
	RoundID    RoundID          `json:"round_id"`
	ClientID   string           `json:"client_id"`
	Ciphertext []byte           `json:"ciphertext"`
	Nonce      []byte           `json:"nonce"`
	Tag        []byte           `json:"tag"`
	Signature  crypto.Signature `json:"signature"`
	Digest     []byte           `json:"digest"`
	ReceivedAt time.Time        `json:"received_at"`
}

// NewUpdateRecord builds the record for a package submitted to round.
// ID, Digest and ReceivedAt are assigned by the ledger.
func NewUpdateRecord(round RoundID, pkg *UpdatePackage) *UpdateRecord {
	return &UpdateRecord{
		RoundID:    round,
		ClientID:   pkg.ClientID,
		Ciphertext: pkg.Ciphertext,
		Nonce:      pkg.Nonce,
		Tag:        pkg.Tag,
		Signature:  pkg.Signature,
	}
}

// Sealed returns the encrypted part of the record.
func (r *UpdateRecord) Sealed() *crypto.Sealed {
	return &crypto.Sealed{Ciphertext: r.Ciphertext, Nonce: r.Nonce, Tag: r.Tag}
}

// ComputeDigest returns the fingerprint of the record's content.
func (r *UpdateRecord) ComputeDigest() []byte {
	return crypto.RecordDigest(int64(r.RoundID), r.ClientID, r.Ciphertext, r.Nonce, r.Tag, r.Signature)
}

// DigestValid reports whether the stored digest matches the record content.
func (r *UpdateRecord) DigestValid() bool {
	return bytes.Equal(r.Digest, r.ComputeDigest())
}

// Checkpoint is a persisted snapshot of the global model after a round.
type Checkpoint struct {
	ID         string    `json:"checkpoint_id"`
	RoundID    RoundID   `json:"round_id"`
	Parameters []byte    `json:"parameters"`
	Metric     float64   `json:"metric"`
	CreatedAt  time.Time `json:"created_at"`
}
