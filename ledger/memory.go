package ledger

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/flashbots/fedledger/crypto"
	"github.com/flashbots/fedledger/protocol"
	"github.com/google/uuid"
)

// MemoryLedger implements protocol.Ledger in process memory. Stored values
// are copied in and out, so callers can never mutate ledger contents.
type MemoryLedger struct {
	mutex       sync.RWMutex
	rounds      []*protocol.Round
	clients     []*protocol.ClientIdentity
	clientIndex map[string]*protocol.ClientIdentity
	records     []*protocol.UpdateRecord
	checkpoints map[protocol.RoundID]*protocol.Checkpoint
	closed      bool
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		clientIndex: make(map[string]*protocol.ClientIdentity),
		checkpoints: make(map[protocol.RoundID]*protocol.Checkpoint),
	}
}

func (l *MemoryLedger) checkOpen() error {
	if l.closed {
		return fmt.Errorf("%w: ledger is closed", protocol.ErrPersistence)
	}
	return nil
}

// round must be called with the mutex held. Round ids start at 1.
func (l *MemoryLedger) round(id protocol.RoundID) (*protocol.Round, error) {
	if id < 1 || int(id) > len(l.rounds) {
		return nil, fmt.Errorf("round %d: %w", id, protocol.ErrRoundNotFound)
	}
	return l.rounds[id-1], nil
}

func (l *MemoryLedger) CreateRound(ctx context.Context) (protocol.RoundID, error) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	if err := l.checkOpen(); err != nil {
		return 0, err
	}

	id := protocol.RoundID(len(l.rounds) + 1)
	l.rounds = append(l.rounds, &protocol.Round{
		ID:        id,
		Status:    protocol.RoundOpen,
		StartedAt: time.Now().UTC(),
	})
	return id, nil
}

func (l *MemoryLedger) GetRound(ctx context.Context, id protocol.RoundID) (*protocol.Round, error) {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	if err := l.checkOpen(); err != nil {
		return nil, err
	}

	round, err := l.round(id)
	if err != nil {
		return nil, err
	}
	return copyRound(round), nil
}

func (l *MemoryLedger) ListRounds(ctx context.Context) ([]*protocol.Round, error) {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	if err := l.checkOpen(); err != nil {
		return nil, err
	}

	out := make([]*protocol.Round, 0, len(l.rounds))
	for i := len(l.rounds) - 1; i >= 0; i-- {
		out = append(out, copyRound(l.rounds[i]))
	}
	return out, nil
}

func (l *MemoryLedger) RegisterClient(ctx context.Context, clientID string, publicKey crypto.PublicKey) error {
	if clientID == "" {
		return fmt.Errorf("%w: empty client id", protocol.ErrRegistration)
	}
	if _, err := crypto.NewPublicKeyFromBytes(publicKey); err != nil {
		return fmt.Errorf("%w: %w", protocol.ErrRegistration, err)
	}

	l.mutex.Lock()
	defer l.mutex.Unlock()
	if err := l.checkOpen(); err != nil {
		return err
	}

	if _, exists := l.clientIndex[clientID]; exists {
		return nil
	}
	identity := &protocol.ClientIdentity{
		ClientID:     clientID,
		PublicKey:    slices.Clone(publicKey),
		RegisteredAt: time.Now().UTC(),
	}
	l.clients = append(l.clients, identity)
	l.clientIndex[clientID] = identity
	return nil
}

func (l *MemoryLedger) GetClientPublicKey(ctx context.Context, clientID string) (crypto.PublicKey, bool, error) {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	if err := l.checkOpen(); err != nil {
		return nil, false, err
	}

	identity, ok := l.clientIndex[clientID]
	if !ok {
		return nil, false, nil
	}
	return slices.Clone(identity.PublicKey), true, nil
}

func (l *MemoryLedger) ListClients(ctx context.Context) ([]*protocol.ClientIdentity, error) {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	if err := l.checkOpen(); err != nil {
		return nil, err
	}

	out := make([]*protocol.ClientIdentity, len(l.clients))
	for i, c := range l.clients {
		identity := *c
		identity.PublicKey = slices.Clone(c.PublicKey)
		out[i] = &identity
	}
	return out, nil
}

func (l *MemoryLedger) AppendUpdateRecord(ctx context.Context, record *protocol.UpdateRecord) error {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	if err := l.checkOpen(); err != nil {
		return err
	}

	round, err := l.round(record.RoundID)
	if err != nil {
		return err
	}
	if round.Status == protocol.RoundComplete {
		return fmt.Errorf("round %d: %w", record.RoundID, protocol.ErrRoundClosed)
	}

	record.ID = int64(len(l.records) + 1)
	record.ReceivedAt = time.Now().UTC()
	record.Digest = record.ComputeDigest()
	l.records = append(l.records, copyRecord(record))
	return nil
}

func (l *MemoryLedger) ListUpdateRecords(ctx context.Context, round protocol.RoundID) ([]*protocol.UpdateRecord, error) {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	if err := l.checkOpen(); err != nil {
		return nil, err
	}

	out := []*protocol.UpdateRecord{}
	for _, r := range l.records {
		if r.RoundID == round {
			out = append(out, copyRecord(r))
		}
	}
	return out, nil
}

func (l *MemoryLedger) ListRecentUpdateRecords(ctx context.Context, limit int) ([]*protocol.UpdateRecord, error) {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	if err := l.checkOpen(); err != nil {
		return nil, err
	}

	out := []*protocol.UpdateRecord{}
	for i := len(l.records) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, copyRecord(l.records[i]))
	}
	return out, nil
}

func (l *MemoryLedger) AppendCheckpoint(ctx context.Context, round protocol.RoundID, params []byte, metric float64) (*protocol.Checkpoint, error) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	if err := l.checkOpen(); err != nil {
		return nil, err
	}
	return l.appendCheckpoint(round, params, metric)
}

func (l *MemoryLedger) appendCheckpoint(round protocol.RoundID, params []byte, metric float64) (*protocol.Checkpoint, error) {
	r, err := l.round(round)
	if err != nil {
		return nil, err
	}
	if r.Status == protocol.RoundComplete {
		return nil, fmt.Errorf("round %d: %w", round, protocol.ErrRoundClosed)
	}
	if _, exists := l.checkpoints[round]; exists {
		return nil, fmt.Errorf("%w: round %d already has a checkpoint", protocol.ErrPersistence, round)
	}

	checkpoint := &protocol.Checkpoint{
		ID:         uuid.NewString(),
		RoundID:    round,
		Parameters: slices.Clone(params),
		Metric:     metric,
		CreatedAt:  time.Now().UTC(),
	}
	l.checkpoints[round] = checkpoint
	return copyCheckpoint(checkpoint), nil
}

func (l *MemoryLedger) MarkRoundComplete(ctx context.Context, round protocol.RoundID) error {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	if err := l.checkOpen(); err != nil {
		return err
	}
	return l.markComplete(round)
}

func (l *MemoryLedger) markComplete(round protocol.RoundID) error {
	r, err := l.round(round)
	if err != nil {
		return err
	}
	if r.Status == protocol.RoundComplete {
		return fmt.Errorf("round %d: %w", round, protocol.ErrRoundClosed)
	}
	now := time.Now().UTC()
	r.Status = protocol.RoundComplete
	r.CompletedAt = &now
	return nil
}

// CompleteRound holds the write lock across both steps, so no reader sees a
// checkpoint without a COMPLETE round or the reverse.
func (l *MemoryLedger) CompleteRound(ctx context.Context, round protocol.RoundID, params []byte, metric float64) (*protocol.Checkpoint, error) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	if err := l.checkOpen(); err != nil {
		return nil, err
	}

	checkpoint, err := l.appendCheckpoint(round, params, metric)
	if err != nil {
		return nil, err
	}
	if err := l.markComplete(round); err != nil {
		delete(l.checkpoints, round)
		return nil, err
	}
	return checkpoint, nil
}

func (l *MemoryLedger) ListCheckpoints(ctx context.Context) ([]*protocol.Checkpoint, error) {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	if err := l.checkOpen(); err != nil {
		return nil, err
	}

	out := make([]*protocol.Checkpoint, 0, len(l.checkpoints))
	for _, c := range l.checkpoints {
		out = append(out, copyCheckpoint(c))
	}
	slices.SortFunc(out, func(a, b *protocol.Checkpoint) int {
		return int(b.RoundID - a.RoundID)
	})
	return out, nil
}

func (l *MemoryLedger) Close() error {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.closed = true
	return nil
}

func copyRound(r *protocol.Round) *protocol.Round {
	out := *r
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		out.CompletedAt = &t
	}
	return &out
}

func copyRecord(r *protocol.UpdateRecord) *protocol.UpdateRecord {
	out := *r
	out.Ciphertext = slices.Clone(r.Ciphertext)
	out.Nonce = slices.Clone(r.Nonce)
	out.Tag = slices.Clone(r.Tag)
	out.Signature = slices.Clone(r.Signature)
	out.Digest = slices.Clone(r.Digest)
	return &out
}

func copyCheckpoint(c *protocol.Checkpoint) *protocol.Checkpoint {
	out := *c
	out.Parameters = slices.Clone(c.Parameters)
	return &out
}
