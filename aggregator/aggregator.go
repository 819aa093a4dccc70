// Package aggregator runs the round protocol on the server side of fedledger.
//
// A round moves through four phases:
//  1. Open: the round is minted in the ledger and the current global
//     parameters are snapshotted for it
//  2. Collecting: clients append update records independently
//  3. Aggregating: every record is read once and passed through the
//     verification pipeline
//  4. Closed: the mean of the accepted updates is checkpointed and the round
//     is marked COMPLETE
//
// Verification discards records individually. A forged, tampered, malformed
// or unregistered submission never aborts the round for the other clients.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/flashbots/fedledger/crypto"
	"github.com/flashbots/fedledger/metrics"
	"github.com/flashbots/fedledger/protocol"
	"go.uber.org/atomic"
)

// Config carries the aggregator's collaborators. The session key and the
// initial parameters are passed in here rather than held globally.
type Config struct {
	Ledger     protocol.Ledger
	SessionKey crypto.SessionKey
	Evaluator  protocol.Evaluator
	HeldOut    protocol.Dataset
	Initial    *protocol.Parameters
	Logger     *slog.Logger

	// Metrics is optional.
	Metrics *metrics.Metrics
}

// Rejection describes one discarded record.
type Rejection struct {
	RecordID int64                 `json:"record_id"`
	ClientID string                `json:"client_id"`
	Reason   protocol.RejectReason `json:"reason"`
}

// Result summarizes one aggregation run.
type Result struct {
	RoundID      protocol.RoundID `json:"round_id"`
	Accepted     int              `json:"accepted"`
	Rejected     int              `json:"rejected"`
	Duplicates   int              `json:"duplicates"`
	Rejections   []Rejection      `json:"rejections"`
	CheckpointID string           `json:"checkpoint_id,omitempty"`
	Metric       float64          `json:"metric"`
}

// Stats are cumulative counters over the rounds this aggregator completed.
type Stats struct {
	RoundsCompleted  uint64 `json:"rounds_completed"`
	RecordsAccepted  uint64 `json:"records_accepted"`
	RecordsDiscarded uint64 `json:"records_discarded"`
}

type roundState struct {
	snapshot *protocol.Parameters
	phase    protocol.RoundPhase
}

// AggregatorImpl owns the global parameters and drives rounds against a
// ledger. It is safe for concurrent use.
type AggregatorImpl struct {
	ledger     protocol.Ledger
	sessionKey crypto.SessionKey
	evaluator  protocol.Evaluator
	heldOut    protocol.Dataset
	log        *slog.Logger
	metrics    *metrics.Metrics

	mutex    sync.RWMutex
	params   *protocol.Parameters
	rounds   map[protocol.RoundID]*roundState
	inFlight map[protocol.RoundID]struct{}

	roundsCompleted  atomic.Uint64
	recordsAccepted  atomic.Uint64
	recordsDiscarded atomic.Uint64
}

// NewAggregator validates the configuration.
func NewAggregator(config *Config) (*AggregatorImpl, error) {
	if config == nil {
		return nil, errors.New("config cannot be nil")
	}
	if config.Ledger == nil {
		return nil, errors.New("ledger cannot be nil")
	}
	if config.Initial == nil {
		return nil, errors.New("initial parameters cannot be nil")
	}
	if len(config.SessionKey) != crypto.SessionKeySize {
		return nil, fmt.Errorf("session key must be %d bytes", crypto.SessionKeySize)
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &AggregatorImpl{
		ledger:     config.Ledger,
		sessionKey: config.SessionKey,
		evaluator:  config.Evaluator,
		heldOut:    config.HeldOut,
		log:        logger.With("component", "aggregator"),
		metrics:    config.Metrics,
		params:     config.Initial.Clone(),
		rounds:     make(map[protocol.RoundID]*roundState),
		inFlight:   make(map[protocol.RoundID]struct{}),
	}, nil
}

// Restore replaces the global parameters with the latest checkpoint in the
// ledger, if any. It returns the round the checkpoint belongs to, or zero.
func (a *AggregatorImpl) Restore(ctx context.Context) (protocol.RoundID, error) {
	checkpoints, err := a.ledger.ListCheckpoints(ctx)
	if err != nil {
		return 0, err
	}
	if len(checkpoints) == 0 {
		return 0, nil
	}

	latest := checkpoints[0]
	params, err := protocol.UnmarshalMessage[protocol.Parameters](latest.Parameters)
	if err != nil {
		return 0, fmt.Errorf("could not decode checkpoint %s: %w", latest.ID, err)
	}

	a.mutex.Lock()
	defer a.mutex.Unlock()
	if !a.params.SameShape(params) {
		return 0, fmt.Errorf("checkpoint %s does not match the configured model shape", latest.ID)
	}
	a.params = params
	a.log.Info("restored global parameters", "round", latest.RoundID, "checkpoint", latest.ID)
	return latest.RoundID, nil
}

// GlobalParameters returns a copy of the current global parameters.
func (a *AggregatorImpl) GlobalParameters() *protocol.Parameters {
	a.mutex.RLock()
	defer a.mutex.RUnlock()
	return a.params.Clone()
}

// Stats returns the cumulative counters.
func (a *AggregatorImpl) Stats() Stats {
	return Stats{
		RoundsCompleted:  a.roundsCompleted.Load(),
		RecordsAccepted:  a.recordsAccepted.Load(),
		RecordsDiscarded: a.recordsDiscarded.Load(),
	}
}

// Phase returns the in-memory phase of a round this aggregator has seen.
func (a *AggregatorImpl) Phase(round protocol.RoundID) (protocol.RoundPhase, bool) {
	a.mutex.RLock()
	defer a.mutex.RUnlock()
	state, ok := a.rounds[round]
	if !ok {
		return protocol.PhaseOpen, false
	}
	return state.phase, true
}

// OpenRound mints a new round and snapshots the current global parameters
// for it.
func (a *AggregatorImpl) OpenRound(ctx context.Context) (protocol.RoundID, error) {
	id, err := a.ledger.CreateRound(ctx)
	if err != nil {
		return 0, err
	}

	a.mutex.Lock()
	a.rounds[id] = &roundState{snapshot: a.params.Clone(), phase: protocol.PhaseOpen}
	a.mutex.Unlock()

	a.log.Info("opened round", "round", id)
	return id, nil
}

// SubmitPackage appends a client's package to the ledger. Nothing is
// verified here; verification happens once, at aggregation.
func (a *AggregatorImpl) SubmitPackage(ctx context.Context, round protocol.RoundID, pkg *protocol.UpdatePackage) (*protocol.UpdateRecord, error) {
	if pkg == nil {
		return nil, errors.New("package cannot be nil")
	}

	record := protocol.NewUpdateRecord(round, pkg)
	if err := a.ledger.AppendUpdateRecord(ctx, record); err != nil {
		return nil, err
	}

	a.mutex.Lock()
	if state, ok := a.rounds[round]; ok && state.phase == protocol.PhaseOpen {
		state.phase = state.phase.Advance()
	}
	a.mutex.Unlock()

	return record, nil
}

// RunAggregation verifies every record of the round, averages the accepted
// ones, and commits the checkpoint together with the round's completion.
//
// It fails with ErrRoundClosed for a COMPLETE round, ErrNoValidUpdates when
// nothing survived verification (the round stays open), and
// ErrAggregationInProgress if the same round is already being aggregated.
func (a *AggregatorImpl) RunAggregation(ctx context.Context, round protocol.RoundID) (*Result, error) {
	if err := a.acquire(round); err != nil {
		return nil, err
	}
	defer a.release(round)

	info, err := a.ledger.GetRound(ctx, round)
	if err != nil {
		return nil, err
	}
	if info.Status == protocol.RoundComplete {
		return nil, fmt.Errorf("round %d: %w", round, protocol.ErrRoundClosed)
	}

	snapshot := a.beginAggregating(round)

	records, err := a.ledger.ListUpdateRecords(ctx, round)
	if err != nil {
		a.abortAggregating(round)
		return nil, err
	}

	result := &Result{RoundID: round, Rejections: []Rejection{}}
	accepted := make([]*protocol.Parameters, 0, len(records))
	seen := make(map[string]int, len(records))

	for _, record := range records {
		params, reason, err := a.verify(ctx, record, snapshot)
		if err != nil {
			a.abortAggregating(round)
			return nil, err
		}
		if reason != "" {
			result.Rejections = append(result.Rejections, Rejection{RecordID: record.ID, ClientID: record.ClientID, Reason: reason})
			a.log.Warn("discarded update", "round", round, "record", record.ID, "client", record.ClientID, "reason", reason)
			continue
		}

		seen[record.ClientID]++
		if seen[record.ClientID] > 1 {
			result.Duplicates++
			a.log.Warn("client submitted more than once", "round", round, "client", record.ClientID, "count", seen[record.ClientID])
		}
		accepted = append(accepted, params)
	}

	result.Accepted = len(accepted)
	result.Rejected = len(result.Rejections)

	if len(accepted) == 0 {
		a.abortAggregating(round)
		a.log.Warn("no valid updates", "round", round, "rejected", result.Rejected)
		return result, fmt.Errorf("round %d: %w", round, protocol.ErrNoValidUpdates)
	}

	mean, err := FedAvg(accepted)
	if err != nil {
		a.abortAggregating(round)
		return nil, err
	}

	metric := 0.0
	if a.evaluator != nil {
		metric, err = a.evaluator.Evaluate(ctx, mean, a.heldOut)
		if err != nil {
			a.abortAggregating(round)
			return nil, fmt.Errorf("evaluation failed: %w", err)
		}
	}
	result.Metric = metric

	serialized, err := protocol.SerializeMessage(mean)
	if err != nil {
		a.abortAggregating(round)
		return nil, fmt.Errorf("could not serialize parameters: %w", err)
	}

	checkpoint, err := a.ledger.CompleteRound(ctx, round, serialized, metric)
	if err != nil {
		a.abortAggregating(round)
		return nil, err
	}
	result.CheckpointID = checkpoint.ID

	a.mutex.Lock()
	a.params = mean
	if state, ok := a.rounds[round]; ok {
		state.phase = state.phase.Advance()
	} else {
		a.rounds[round] = &roundState{snapshot: snapshot, phase: protocol.PhaseClosed}
	}
	a.mutex.Unlock()

	a.roundsCompleted.Inc()
	a.recordsAccepted.Add(uint64(result.Accepted))
	a.recordsDiscarded.Add(uint64(result.Rejected))
	a.metrics.RoundCompleted(result.Accepted, rejectReasons(result.Rejections))

	a.log.Info("round complete",
		"round", round,
		"accepted", result.Accepted,
		"rejected", result.Rejected,
		"duplicates", result.Duplicates,
		"metric", metric,
		"checkpoint", checkpoint.ID,
	)
	return result, nil
}

func rejectReasons(rejections []Rejection) []protocol.RejectReason {
	out := make([]protocol.RejectReason, len(rejections))
	for i, r := range rejections {
		out[i] = r.Reason
	}
	return out
}

// verify runs the pipeline for a single record. A non-empty reason means the
// record is discarded; an error means the ledger failed and the whole run
// must stop.
func (a *AggregatorImpl) verify(ctx context.Context, record *protocol.UpdateRecord, snapshot *protocol.Parameters) (*protocol.Parameters, protocol.RejectReason, error) {
	publicKey, found, err := a.ledger.GetClientPublicKey(ctx, record.ClientID)
	if err != nil {
		return nil, "", err
	}
	if !found {
		return nil, protocol.RejectUnknownClient, nil
	}

	// A row altered after insertion no longer matches its digest.
	if len(record.Digest) != 0 && !record.DigestValid() {
		return nil, protocol.RejectTamperedOrCorrupt, nil
	}

	plaintext, err := crypto.Decrypt(a.sessionKey, record.Sealed())
	if err != nil {
		if errors.Is(err, crypto.ErrAuthenticationFailure) {
			return nil, protocol.RejectTamperedOrCorrupt, nil
		}
		return nil, "", err
	}

	if !crypto.Verify(publicKey, plaintext, record.Signature) {
		return nil, protocol.RejectInvalidSignature, nil
	}

	payload, err := protocol.DecodeUpdatePayload(plaintext)
	if err != nil {
		return nil, protocol.RejectMalformedPayload, nil
	}
	if payload.ClientID != record.ClientID {
		return nil, protocol.RejectMalformedPayload, nil
	}
	params, err := payload.Parameters()
	if err != nil {
		return nil, protocol.RejectMalformedPayload, nil
	}
	if !params.SameShape(snapshot) || !params.Finite() {
		return nil, protocol.RejectMalformedPayload, nil
	}

	return params, "", nil
}

func (a *AggregatorImpl) acquire(round protocol.RoundID) error {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	if _, busy := a.inFlight[round]; busy {
		return fmt.Errorf("round %d: %w", round, protocol.ErrAggregationInProgress)
	}
	a.inFlight[round] = struct{}{}
	return nil
}

func (a *AggregatorImpl) release(round protocol.RoundID) {
	a.mutex.Lock()
	delete(a.inFlight, round)
	a.mutex.Unlock()
}

// beginAggregating moves the round to the aggregating phase and returns its
// snapshot. Rounds opened elsewhere are snapshotted now.
func (a *AggregatorImpl) beginAggregating(round protocol.RoundID) *protocol.Parameters {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	state, ok := a.rounds[round]
	if !ok {
		state = &roundState{snapshot: a.params.Clone()}
		a.rounds[round] = state
	}
	for state.phase < protocol.PhaseAggregating {
		state.phase = state.phase.Advance()
	}
	return state.snapshot
}

// abortAggregating returns the round to collecting so it can be retried.
func (a *AggregatorImpl) abortAggregating(round protocol.RoundID) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	if state, ok := a.rounds[round]; ok && state.phase == protocol.PhaseAggregating {
		state.phase = protocol.PhaseCollecting
	}
}
