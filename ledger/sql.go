package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/flashbots/fedledger/crypto"
	"github.com/flashbots/fedledger/protocol"
	"github.com/google/uuid"
)

// dialect captures what differs between the SQL backends.
type dialect struct {
	name Driver
	// schema creates all tables; it must be idempotent.
	schema string
	// numbered placeholders ($1, $2, ...) instead of ?.
	numbered bool
	// lockRound is appended to the round status read inside an append
	// transaction so a concurrent completion waits for in-flight appends.
	lockRound string
}

// sqlLedger implements protocol.Ledger on database/sql. Timestamps are
// stored as Unix nanoseconds so both dialects agree on their encoding.
type sqlLedger struct {
	db      *sql.DB
	dialect dialect
}

func (l *sqlLedger) q(query string) string {
	if !l.dialect.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (l *sqlLedger) migrate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	_, err := l.db.ExecContext(ctx, l.dialect.schema)
	return err
}

func (l *sqlLedger) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return persistErr(op, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return persistErr(op, err)
	}
	return nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// roundStatus reads a round's status, mapping a missing row to
// ErrRoundNotFound.
func (l *sqlLedger) roundStatus(ctx context.Context, db queryer, id protocol.RoundID, lock string) (protocol.RoundStatus, error) {
	var status string
	err := db.QueryRowContext(ctx, l.q("SELECT status FROM rounds WHERE id = ?"+lock), int64(id)).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("round %d: %w", id, protocol.ErrRoundNotFound)
	}
	if err != nil {
		return "", persistErr("reading round", err)
	}
	return protocol.RoundStatus(status), nil
}

func (l *sqlLedger) CreateRound(ctx context.Context) (protocol.RoundID, error) {
	var id int64
	err := l.db.QueryRowContext(ctx,
		l.q("INSERT INTO rounds (status, started_at) VALUES (?, ?) RETURNING id"),
		string(protocol.RoundOpen), time.Now().UTC().UnixNano(),
	).Scan(&id)
	if err != nil {
		return 0, persistErr("creating round", err)
	}
	return protocol.RoundID(id), nil
}

const roundColumns = "id, status, started_at, completed_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRound(row rowScanner) (*protocol.Round, error) {
	var (
		id          int64
		status      string
		startedAt   int64
		completedAt sql.NullInt64
	)
	if err := row.Scan(&id, &status, &startedAt, &completedAt); err != nil {
		return nil, err
	}
	round := &protocol.Round{
		ID:        protocol.RoundID(id),
		Status:    protocol.RoundStatus(status),
		StartedAt: time.Unix(0, startedAt).UTC(),
	}
	if completedAt.Valid {
		t := time.Unix(0, completedAt.Int64).UTC()
		round.CompletedAt = &t
	}
	return round, nil
}

func (l *sqlLedger) GetRound(ctx context.Context, id protocol.RoundID) (*protocol.Round, error) {
	row := l.db.QueryRowContext(ctx, l.q("SELECT "+roundColumns+" FROM rounds WHERE id = ?"), int64(id))
	round, err := scanRound(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("round %d: %w", id, protocol.ErrRoundNotFound)
	}
	if err != nil {
		return nil, persistErr("reading round", err)
	}
	return round, nil
}

func (l *sqlLedger) ListRounds(ctx context.Context) ([]*protocol.Round, error) {
	rows, err := l.db.QueryContext(ctx, "SELECT "+roundColumns+" FROM rounds ORDER BY id DESC")
	if err != nil {
		return nil, persistErr("listing rounds", err)
	}
	defer rows.Close()

	out := []*protocol.Round{}
	for rows.Next() {
		round, err := scanRound(rows)
		if err != nil {
			return nil, persistErr("scanning round", err)
		}
		out = append(out, round)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("listing rounds", err)
	}
	return out, nil
}

func (l *sqlLedger) RegisterClient(ctx context.Context, clientID string, publicKey crypto.PublicKey) error {
	if clientID == "" {
		return fmt.Errorf("%w: empty client id", protocol.ErrRegistration)
	}
	if _, err := crypto.NewPublicKeyFromBytes(publicKey); err != nil {
		return fmt.Errorf("%w: %w", protocol.ErrRegistration, err)
	}

	_, err := l.db.ExecContext(ctx,
		l.q("INSERT INTO clients (client_id, public_key, registered_at) VALUES (?, ?, ?) ON CONFLICT (client_id) DO NOTHING"),
		clientID, publicKey.Bytes(), time.Now().UTC().UnixNano(),
	)
	if err != nil {
		return persistErr("registering client", err)
	}
	return nil
}

func (l *sqlLedger) GetClientPublicKey(ctx context.Context, clientID string) (crypto.PublicKey, bool, error) {
	var key []byte
	err := l.db.QueryRowContext(ctx, l.q("SELECT public_key FROM clients WHERE client_id = ?"), clientID).Scan(&key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, persistErr("reading client", err)
	}
	return crypto.PublicKey(key), true, nil
}

func (l *sqlLedger) ListClients(ctx context.Context) ([]*protocol.ClientIdentity, error) {
	rows, err := l.db.QueryContext(ctx, "SELECT client_id, public_key, registered_at FROM clients ORDER BY registered_at, client_id")
	if err != nil {
		return nil, persistErr("listing clients", err)
	}
	defer rows.Close()

	out := []*protocol.ClientIdentity{}
	for rows.Next() {
		var (
			clientID     string
			key          []byte
			registeredAt int64
		)
		if err := rows.Scan(&clientID, &key, &registeredAt); err != nil {
			return nil, persistErr("scanning client", err)
		}
		out = append(out, &protocol.ClientIdentity{
			ClientID:     clientID,
			PublicKey:    crypto.PublicKey(key),
			RegisteredAt: time.Unix(0, registeredAt).UTC(),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("listing clients", err)
	}
	return out, nil
}

func (l *sqlLedger) AppendUpdateRecord(ctx context.Context, record *protocol.UpdateRecord) error {
	receivedAt := time.Now().UTC()
	digest := record.ComputeDigest()

	var id int64
	err := l.withTx(ctx, "appending record", func(tx *sql.Tx) error {
		status, err := l.roundStatus(ctx, tx, record.RoundID, l.dialect.lockRound)
		if err != nil {
			return err
		}
		if status == protocol.RoundComplete {
			return fmt.Errorf("round %d: %w", record.RoundID, protocol.ErrRoundClosed)
		}

		err = tx.QueryRowContext(ctx, l.q(`
			INSERT INTO update_records
				(round_id, client_id, ciphertext, nonce, tag, signature, digest, received_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			RETURNING id`),
			int64(record.RoundID), record.ClientID,
			record.Ciphertext, record.Nonce, record.Tag, record.Signature.Bytes(),
			digest, receivedAt.UnixNano(),
		).Scan(&id)
		if err != nil {
			return persistErr("inserting record", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	record.ID = id
	record.Digest = digest
	record.ReceivedAt = receivedAt
	return nil
}

const recordColumns = "id, round_id, client_id, ciphertext, nonce, tag, signature, digest, received_at"

func (l *sqlLedger) listRecords(ctx context.Context, query string, args ...any) ([]*protocol.UpdateRecord, error) {
	rows, err := l.db.QueryContext(ctx, l.q(query), args...)
	if err != nil {
		return nil, persistErr("listing records", err)
	}
	defer rows.Close()

	out := []*protocol.UpdateRecord{}
	for rows.Next() {
		var (
			r          protocol.UpdateRecord
			roundID    int64
			signature  []byte
			receivedAt int64
		)
		if err := rows.Scan(&r.ID, &roundID, &r.ClientID, &r.Ciphertext, &r.Nonce, &r.Tag, &signature, &r.Digest, &receivedAt); err != nil {
			return nil, persistErr("scanning record", err)
		}
		r.RoundID = protocol.RoundID(roundID)
		r.Signature = crypto.NewSignature(signature)
		r.ReceivedAt = time.Unix(0, receivedAt).UTC()
		out = append(out, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("listing records", err)
	}
	return out, nil
}

func (l *sqlLedger) ListUpdateRecords(ctx context.Context, round protocol.RoundID) ([]*protocol.UpdateRecord, error) {
	return l.listRecords(ctx, "SELECT "+recordColumns+" FROM update_records WHERE round_id = ? ORDER BY id", int64(round))
}

func (l *sqlLedger) ListRecentUpdateRecords(ctx context.Context, limit int) ([]*protocol.UpdateRecord, error) {
	if limit <= 0 {
		return l.listRecords(ctx, "SELECT "+recordColumns+" FROM update_records ORDER BY id DESC")
	}
	return l.listRecords(ctx, "SELECT "+recordColumns+" FROM update_records ORDER BY id DESC LIMIT ?", limit)
}

func (l *sqlLedger) insertCheckpoint(ctx context.Context, tx *sql.Tx, round protocol.RoundID, params []byte, metric float64) (*protocol.Checkpoint, error) {
	checkpoint := &protocol.Checkpoint{
		ID:         uuid.NewString(),
		RoundID:    round,
		Parameters: params,
		Metric:     metric,
		CreatedAt:  time.Now().UTC(),
	}
	_, err := tx.ExecContext(ctx,
		l.q("INSERT INTO checkpoints (id, round_id, parameters, metric, created_at) VALUES (?, ?, ?, ?, ?)"),
		checkpoint.ID, int64(round), params, metric, checkpoint.CreatedAt.UnixNano(),
	)
	if err != nil {
		return nil, persistErr("inserting checkpoint", err)
	}
	return checkpoint, nil
}

// completeRoundTx flips an OPEN round to COMPLETE. The status condition
// makes a second completer fail instead of overwriting the first.
func (l *sqlLedger) completeRoundTx(ctx context.Context, tx *sql.Tx, round protocol.RoundID) error {
	res, err := tx.ExecContext(ctx,
		l.q("UPDATE rounds SET status = ?, completed_at = ? WHERE id = ? AND status = ?"),
		string(protocol.RoundComplete), time.Now().UTC().UnixNano(), int64(round), string(protocol.RoundOpen),
	)
	if err != nil {
		return persistErr("completing round", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return persistErr("completing round", err)
	}
	if n == 1 {
		return nil
	}

	if _, err := l.roundStatus(ctx, tx, round, ""); err != nil {
		return err
	}
	return fmt.Errorf("round %d: %w", round, protocol.ErrRoundClosed)
}

func (l *sqlLedger) AppendCheckpoint(ctx context.Context, round protocol.RoundID, params []byte, metric float64) (*protocol.Checkpoint, error) {
	var checkpoint *protocol.Checkpoint
	err := l.withTx(ctx, "appending checkpoint", func(tx *sql.Tx) error {
		status, err := l.roundStatus(ctx, tx, round, l.dialect.lockRound)
		if err != nil {
			return err
		}
		if status == protocol.RoundComplete {
			return fmt.Errorf("round %d: %w", round, protocol.ErrRoundClosed)
		}
		checkpoint, err = l.insertCheckpoint(ctx, tx, round, params, metric)
		return err
	})
	return checkpoint, err
}

func (l *sqlLedger) MarkRoundComplete(ctx context.Context, round protocol.RoundID) error {
	return l.withTx(ctx, "completing round", func(tx *sql.Tx) error {
		return l.completeRoundTx(ctx, tx, round)
	})
}

func (l *sqlLedger) CompleteRound(ctx context.Context, round protocol.RoundID, params []byte, metric float64) (*protocol.Checkpoint, error) {
	var checkpoint *protocol.Checkpoint
	err := l.withTx(ctx, "completing round", func(tx *sql.Tx) error {
		if err := l.completeRoundTx(ctx, tx, round); err != nil {
			return err
		}
		var err error
		checkpoint, err = l.insertCheckpoint(ctx, tx, round, params, metric)
		return err
	})
	if err != nil {
		return nil, err
	}
	return checkpoint, nil
}

func (l *sqlLedger) ListCheckpoints(ctx context.Context) ([]*protocol.Checkpoint, error) {
	rows, err := l.db.QueryContext(ctx, "SELECT id, round_id, parameters, metric, created_at FROM checkpoints ORDER BY round_id DESC")
	if err != nil {
		return nil, persistErr("listing checkpoints", err)
	}
	defer rows.Close()

	out := []*protocol.Checkpoint{}
	for rows.Next() {
		var (
			c         protocol.Checkpoint
			roundID   int64
			createdAt int64
		)
		if err := rows.Scan(&c.ID, &roundID, &c.Parameters, &c.Metric, &createdAt); err != nil {
			return nil, persistErr("scanning checkpoint", err)
		}
		c.RoundID = protocol.RoundID(roundID)
		c.CreatedAt = time.Unix(0, createdAt).UTC()
		out = append(out, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("listing checkpoints", err)
	}
	return out, nil
}

// Close closes the database connection.
func (l *sqlLedger) Close() error {
	return l.db.Close()
}
