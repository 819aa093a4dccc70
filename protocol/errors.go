package protocol

import (
	"errors"

	"github.com/flashbots/fedledger/crypto"
)

var (
	// ErrRegistration is returned when a client registration carries a
	// malformed key. Duplicate registrations are not an error.
	ErrRegistration = errors.New("registration error")

	// ErrAuthenticationFailure marks a record whose AEAD tag did not verify.
	ErrAuthenticationFailure = crypto.ErrAuthenticationFailure

	// ErrInvalidSignature marks a record whose signature does not cover its
	// decrypted payload under the registered key.
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrUnknownClient marks a record from a client without a registered key.
	ErrUnknownClient = errors.New("unknown client")

	// ErrMalformedPayload marks a decrypted payload that does not decode into
	// parameters of the expected shape.
	ErrMalformedPayload = errors.New("malformed payload")

	// ErrNoValidUpdates is returned when no record of a round survived
	// verification. The round stays open and aggregation may be retried.
	ErrNoValidUpdates = errors.New("no valid updates")

	// ErrPersistence wraps ledger failures.
	ErrPersistence = errors.New("persistence error")

	// ErrRoundNotFound is returned for round ids the ledger never issued.
	ErrRoundNotFound = errors.New("round not found")

	// ErrRoundClosed is returned when writing to, or aggregating, a round that
	// is already COMPLETE.
	ErrRoundClosed = errors.New("round closed")

	// ErrAggregationInProgress is returned when aggregation of a round is
	// requested while another aggregation of it is running.
	ErrAggregationInProgress = errors.New("aggregation already in progress")
)

// RejectReason classifies why a record was left out of the averaging set.
type RejectReason string

const (
	RejectUnknownClient     RejectReason = "unknown_client"
	RejectTamperedOrCorrupt RejectReason = "tampered_or_corrupt"
	RejectInvalidSignature  RejectReason = "invalid_signature"
	RejectMalformedPayload  RejectReason = "malformed_payload"
)

// Err returns the sentinel error corresponding to the reason.
func (r RejectReason) Err() error {
	switch r {
	case RejectUnknownClient:
		return ErrUnknownClient
	case RejectTamperedOrCorrupt:
		return ErrAuthenticationFailure
	case RejectInvalidSignature:
		return ErrInvalidSignature
	case RejectMalformedPayload:
		return ErrMalformedPayload
	}
	return errors.New(string(r))
}
