// Package protocol defines the data model and collaborator contracts of the
// fedledger secure aggregation protocol.
//
// # Workflow
//
//  1. The aggregator opens a round in the Ledger and snapshots the current
//     global Parameters.
//  2. Each client trains locally (Trainer), encodes an UpdatePayload, signs
//     it, encrypts it under the run-wide session key and appends the
//     resulting UpdatePackage to the Ledger as an UpdateRecord.
//  3. The aggregator reads every record of the round, drops each one that
//     fails a check (RejectReason), averages the rest and commits a
//     Checkpoint together with the COMPLETE round status.
//
// # Persisted state
//
// The Ledger holds ClientIdentity, Round, UpdateRecord and Checkpoint rows.
// Rows are append-only; the only mutation is a round moving from RoundOpen to
// RoundComplete, which happens at most once.
//
// # Errors
//
// Per-record failures (ErrUnknownClient, ErrAuthenticationFailure,
// ErrInvalidSignature, ErrMalformedPayload) never abort a round. Round level
// failures are ErrNoValidUpdates, ErrRoundClosed and ErrPersistence.
package protocol
