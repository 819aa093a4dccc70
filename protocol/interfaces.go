package protocol

import (
	"context"

	"github.com/flashbots/fedledger/crypto"
)

// Ledger is the append-only persisted store that doubles as the transport
// between clients and the aggregator.
// Implementations must accept concurrent AppendUpdateRecord calls for the
// same round without losing records. Failures are reported wrapped in
// ErrPersistence unless a more specific sentinel applies.
type Ledger interface {
	// CreateRound opens a new round and returns its id.
	CreateRound(ctx context.Context) (RoundID, error)

	// GetRound returns a round, or ErrRoundNotFound.
	GetRound(ctx context.Context, id RoundID) (*Round, error)

	// ListRounds returns all rounds, newest first.
	ListRounds(ctx context.Context) ([]*Round, error)

	// RegisterClient records a client's verification key. Registering an
	// existing client id is a no-op; the first key stays in force.
	RegisterClient(ctx context.Context, clientID string, publicKey crypto.PublicKey) error

	// GetClientPublicKey returns the registered key, and false if the client
	// is unknown.
	GetClientPublicKey(ctx context.Context, clientID string) (crypto.PublicKey, bool, error)

	// ListClients returns all registered clients in registration order.
	ListClients(ctx context.Context) ([]*ClientIdentity, error)

	// AppendUpdateRecord stores a record and fills in its ID, Digest and
	// ReceivedAt. Writes to a COMPLETE round fail with ErrRoundClosed.
	AppendUpdateRecord(ctx context.Context, record *UpdateRecord) error

	// ListUpdateRecords returns the records of a round in insertion order.
	ListUpdateRecords(ctx context.Context, round RoundID) ([]*UpdateRecord, error)

	// ListRecentUpdateRecords returns up to limit records across all rounds,
	// newest first.
	ListRecentUpdateRecords(ctx context.Context, limit int) ([]*UpdateRecord, error)

	// AppendCheckpoint stores a checkpoint for an OPEN round. A round holds at
	// most one checkpoint.
	AppendCheckpoint(ctx context.Context, round RoundID, params []byte, metric float64) (*Checkpoint, error)

	// MarkRoundComplete moves an OPEN round to COMPLETE.
	MarkRoundComplete(ctx context.Context, round RoundID) error

	// CompleteRound appends the checkpoint and marks the round COMPLETE as a
	// single atomic operation.
	CompleteRound(ctx context.Context, round RoundID, params []byte, metric float64) (*Checkpoint, error)

	// ListCheckpoints returns all checkpoints ordered by round, descending.
	ListCheckpoints(ctx context.Context) ([]*Checkpoint, error)

	// Close releases underlying resources.
	Close() error
}

// Dataset is an opaque local or held-out dataset.
type Dataset interface {
	// Len returns the number of samples.
	Len() int
}

// Trainer produces new local parameters from the current global ones.
// It must be deterministic for identical inputs and return the input
// unchanged for an empty dataset.
type Trainer interface {
	Train(ctx context.Context, params *Parameters, data Dataset) (*Parameters, error)
}

// Evaluator scores parameters against a held-out set; lower is better.
type Evaluator interface {
	Evaluate(ctx context.Context, params *Parameters, data Dataset) (float64, error)
}
