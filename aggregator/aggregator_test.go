package aggregator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/flashbots/fedledger/crypto"
	"github.com/flashbots/fedledger/ledger"
	"github.com/flashbots/fedledger/protocol"
	"github.com/flashbots/fedledger/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClient struct {
	id  string
	key crypto.PrivateKey
}

type testEnv struct {
	agg        *AggregatorImpl
	ledger     protocol.Ledger
	sessionKey crypto.SessionKey
}

func setupTestAggregator(t *testing.T, l protocol.Ledger, initial *protocol.Parameters) *testEnv {
	t.Helper()
	if l == nil {
		l = ledger.NewMemoryLedger()
	}
	sessionKey := testutil.MustSessionKey()
	agg, err := NewAggregator(&Config{
		Ledger:     l,
		SessionKey: sessionKey,
		Evaluator:  &testutil.ConstantEvaluator{Metric: 1.5},
		Initial:    initial,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	return &testEnv{agg: agg, ledger: l, sessionKey: sessionKey}
}

func (e *testEnv) register(t *testing.T, id string) *testClient {
	t.Helper()
	pk, sk, err := testutil.GenerateTestKeyPair()
	require.NoError(t, err)
	require.NoError(t, e.ledger.RegisterClient(context.Background(), id, pk))
	return &testClient{id: id, key: sk}
}

func (e *testEnv) unregistered(t *testing.T, id string) *testClient {
	t.Helper()
	_, sk, err := testutil.GenerateTestKeyPair()
	require.NoError(t, err)
	return &testClient{id: id, key: sk}
}

func (e *testEnv) seal(t *testing.T, c *testClient, params *protocol.Parameters) *protocol.UpdatePackage {
	t.Helper()
	pkg, err := testutil.SealUpdate(c.id, c.key, e.sessionKey, params)
	require.NoError(t, err)
	return pkg
}

func (e *testEnv) submit(t *testing.T, round protocol.RoundID, pkg *protocol.UpdatePackage) {
	t.Helper()
	_, err := e.agg.SubmitPackage(context.Background(), round, pkg)
	require.NoError(t, err)
}

func reasons(result *Result) []protocol.RejectReason {
	out := make([]protocol.RejectReason, len(result.Rejections))
	for i, r := range result.Rejections {
		out[i] = r.Reason
	}
	return out
}

// TestThreeClientMean is the canonical 1x1 example: [[1]], [[3]], [[5]]
// average to [[3]].
func TestThreeClientMean(t *testing.T) {
	env := setupTestAggregator(t, nil, testutil.Scalar(0))
	ctx := context.Background()

	round, err := env.agg.OpenRound(ctx)
	require.NoError(t, err)
	for i, w := range []float64{1, 3, 5} {
		c := env.register(t, fmt.Sprintf("client_%d", i+1))
		env.submit(t, round, env.seal(t, c, testutil.Scalar(w)))
	}

	result, err := env.agg.RunAggregation(ctx, round)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Accepted)
	assert.Equal(t, 0, result.Rejected)
	assert.NotEmpty(t, result.CheckpointID)
	assert.Equal(t, 1.5, result.Metric)

	global := env.agg.GlobalParameters()
	assert.Equal(t, [][]float64{{3}}, global.WeightRows())
	assert.Equal(t, []float64{0}, global.BiasValues())

	info, err := env.ledger.GetRound(ctx, round)
	require.NoError(t, err)
	assert.Equal(t, protocol.RoundComplete, info.Status)

	phase, ok := env.agg.Phase(round)
	require.True(t, ok)
	assert.Equal(t, protocol.PhaseClosed, phase)
}

func TestMeanIsOrderIndependent(t *testing.T) {
	weights := []*protocol.Parameters{
		testutil.Filled(2, 3, 0.5),
		testutil.Filled(2, 3, -1.25),
		testutil.Filled(2, 3, 4),
		testutil.Filled(2, 3, 10),
	}

	run := func(order []int) *protocol.Parameters {
		env := setupTestAggregator(t, nil, testutil.Filled(2, 3, 0))
		ctx := context.Background()
		round, err := env.agg.OpenRound(ctx)
		require.NoError(t, err)
		for _, i := range order {
			c := env.register(t, fmt.Sprintf("client_%d", i))
			env.submit(t, round, env.seal(t, c, weights[i]))
		}
		_, err = env.agg.RunAggregation(ctx, round)
		require.NoError(t, err)
		return env.agg.GlobalParameters()
	}

	a := run([]int{0, 1, 2, 3})
	b := run([]int{3, 1, 0, 2})
	expected := (0.5 - 1.25 + 4 + 10) / 4

	for _, row := range a.WeightRows() {
		for _, v := range row {
			assert.InDelta(t, expected, v, 1e-12)
		}
	}
	assert.InDeltaSlice(t, a.BiasValues(), b.BiasValues(), 1e-12)
	for i, row := range a.WeightRows() {
		assert.InDeltaSlice(t, row, b.WeightRows()[i], 1e-12)
	}
}

// TestAllInvalidLeavesStateUntouched checks that a round where every
// submission is tampered or unregistered writes nothing and can be retried.
func TestAllInvalidLeavesStateUntouched(t *testing.T) {
	env := setupTestAggregator(t, nil, testutil.Scalar(2))
	ctx := context.Background()

	round, err := env.agg.OpenRound(ctx)
	require.NoError(t, err)

	c := env.register(t, "client_1")
	tampered := env.seal(t, c, testutil.Scalar(100))
	tampered.Tag = testutil.FlipBit(tampered.Tag, 3)
	env.submit(t, round, tampered)

	stranger := env.unregistered(t, "stranger")
	env.submit(t, round, env.seal(t, stranger, testutil.Scalar(100)))

	result, err := env.agg.RunAggregation(ctx, round)
	require.ErrorIs(t, err, protocol.ErrNoValidUpdates)
	require.NotNil(t, result)
	assert.Equal(t, 0, result.Accepted)
	assert.ElementsMatch(t, []protocol.RejectReason{protocol.RejectTamperedOrCorrupt, protocol.RejectUnknownClient}, reasons(result))
	assert.Empty(t, result.CheckpointID)

	assert.Equal(t, [][]float64{{2}}, env.agg.GlobalParameters().WeightRows())
	checkpoints, err := env.ledger.ListCheckpoints(ctx)
	require.NoError(t, err)
	assert.Empty(t, checkpoints)

	info, err := env.ledger.GetRound(ctx, round)
	require.NoError(t, err)
	assert.Equal(t, protocol.RoundOpen, info.Status)

	// A valid late submission makes the retry succeed.
	env.submit(t, round, env.seal(t, c, testutil.Scalar(4)))
	result, err = env.agg.RunAggregation(ctx, round)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Accepted)
	assert.Equal(t, [][]float64{{4}}, env.agg.GlobalParameters().WeightRows())
}

func TestUnregisteredClientIsSkipped(t *testing.T) {
	env := setupTestAggregator(t, nil, testutil.Scalar(0))
	ctx := context.Background()

	round, err := env.agg.OpenRound(ctx)
	require.NoError(t, err)

	env.submit(t, round, env.seal(t, env.unregistered(t, "stranger"), testutil.Scalar(1000)))
	env.submit(t, round, env.seal(t, env.register(t, "client_1"), testutil.Scalar(2)))
	env.submit(t, round, env.seal(t, env.register(t, "client_2"), testutil.Scalar(4)))

	result, err := env.agg.RunAggregation(ctx, round)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Accepted)
	require.Len(t, result.Rejections, 1)
	assert.Equal(t, "stranger", result.Rejections[0].ClientID)
	assert.Equal(t, protocol.RejectUnknownClient, result.Rejections[0].Reason)
	assert.Equal(t, [][]float64{{3}}, env.agg.GlobalParameters().WeightRows())
}

func TestClosedRoundIsRejected(t *testing.T) {
	env := setupTestAggregator(t, nil, testutil.Scalar(0))
	ctx := context.Background()

	round, err := env.agg.OpenRound(ctx)
	require.NoError(t, err)
	c := env.register(t, "client_1")
	env.submit(t, round, env.seal(t, c, testutil.Scalar(6)))

	_, err = env.agg.RunAggregation(ctx, round)
	require.NoError(t, err)

	_, err = env.agg.RunAggregation(ctx, round)
	require.ErrorIs(t, err, protocol.ErrRoundClosed)

	_, err = env.agg.SubmitPackage(ctx, round, env.seal(t, c, testutil.Scalar(100)))
	require.ErrorIs(t, err, protocol.ErrRoundClosed)

	assert.Equal(t, [][]float64{{6}}, env.agg.GlobalParameters().WeightRows())
	checkpoints, err := env.ledger.ListCheckpoints(ctx)
	require.NoError(t, err)
	assert.Len(t, checkpoints, 1)
	assert.Equal(t, uint64(1), env.agg.Stats().RoundsCompleted)
}

func TestUnknownRound(t *testing.T) {
	env := setupTestAggregator(t, nil, testutil.Scalar(0))
	_, err := env.agg.RunAggregation(context.Background(), 99)
	require.ErrorIs(t, err, protocol.ErrRoundNotFound)
}

func TestDiscardReasons(t *testing.T) {
	env := setupTestAggregator(t, nil, testutil.Scalar(0))
	ctx := context.Background()

	round, err := env.agg.OpenRound(ctx)
	require.NoError(t, err)
	good := env.register(t, "good")
	env.submit(t, round, env.seal(t, good, testutil.Scalar(8)))

	// Ciphertext altered after sealing.
	c1 := env.register(t, "tampered")
	pkg := env.seal(t, c1, testutil.Scalar(1))
	pkg.Ciphertext = testutil.FlipBit(pkg.Ciphertext, 0)
	env.submit(t, round, pkg)

	// Signed by a key other than the registered one.
	c2 := env.register(t, "forged")
	_, otherKey, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	env.submit(t, round, env.seal(t, &testClient{id: c2.id, key: otherKey}, testutil.Scalar(1)))

	// Valid signature over a payload that is not an update.
	c3 := env.register(t, "garbage")
	raw, err := testutil.SealRaw(c3.id, c3.key, env.sessionKey, []byte(`{"W":[[1]],"b":[0]}`))
	require.NoError(t, err)
	env.submit(t, round, raw)

	// Well-formed payload with the wrong shape.
	c4 := env.register(t, "wide")
	env.submit(t, round, env.seal(t, c4, testutil.Filled(2, 2, 1)))

	// Payload claims to come from someone else.
	c5 := env.register(t, "impostor")
	payload, err := protocol.NewUpdatePayload("good", testutil.Scalar(1)).Encode()
	require.NoError(t, err)
	raw, err = testutil.SealRaw(c5.id, c5.key, env.sessionKey, payload)
	require.NoError(t, err)
	env.submit(t, round, raw)

	result, err := env.agg.RunAggregation(ctx, round)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Accepted)
	assert.Equal(t, 5, result.Rejected)

	byClient := map[string]protocol.RejectReason{}
	for _, r := range result.Rejections {
		byClient[r.ClientID] = r.Reason
	}
	assert.Equal(t, map[string]protocol.RejectReason{
		"tampered": protocol.RejectTamperedOrCorrupt,
		"forged":   protocol.RejectInvalidSignature,
		"garbage":  protocol.RejectMalformedPayload,
		"wide":     protocol.RejectMalformedPayload,
		"impostor": protocol.RejectMalformedPayload,
	}, byClient)
	assert.Equal(t, [][]float64{{8}}, env.agg.GlobalParameters().WeightRows())
	assert.Equal(t, uint64(5), env.agg.Stats().RecordsDiscarded)
}

func TestDuplicateSubmissionsEachCount(t *testing.T) {
	env := setupTestAggregator(t, nil, testutil.Scalar(0))
	ctx := context.Background()

	round, err := env.agg.OpenRound(ctx)
	require.NoError(t, err)
	a := env.register(t, "a")
	b := env.register(t, "b")
	env.submit(t, round, env.seal(t, a, testutil.Scalar(0)))
	env.submit(t, round, env.seal(t, a, testutil.Scalar(0)))
	env.submit(t, round, env.seal(t, b, testutil.Scalar(9)))

	result, err := env.agg.RunAggregation(ctx, round)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Accepted)
	assert.Equal(t, 1, result.Duplicates)
	assert.Equal(t, [][]float64{{3}}, env.agg.GlobalParameters().WeightRows())
}

// TestLargeUpdatesKeepMeanFinite checks that values near the float64 limit
// average to a finite model that can still be checkpointed.
func TestLargeUpdatesKeepMeanFinite(t *testing.T) {
	env := setupTestAggregator(t, nil, testutil.Scalar(0))
	ctx := context.Background()

	round, err := env.agg.OpenRound(ctx)
	require.NoError(t, err)
	honest := env.register(t, "honest")
	loud := env.register(t, "loud")
	env.submit(t, round, env.seal(t, honest, testutil.Scalar(1)))
	env.submit(t, round, env.seal(t, loud, testutil.Scalar(1.7e308)))
	env.submit(t, round, env.seal(t, loud, testutil.Scalar(1.7e308)))

	result, err := env.agg.RunAggregation(ctx, round)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Accepted)

	global := env.agg.GlobalParameters()
	require.True(t, global.Finite())
	assert.InDelta(t, 1.7e308*2/3, global.WeightRows()[0][0], 1e295)

	_, err = json.Marshal(global)
	require.NoError(t, err)

	next, err := env.agg.OpenRound(ctx)
	require.NoError(t, err)
	assert.Greater(t, next, round)
}

func TestOutOfRangePayloadIsMalformed(t *testing.T) {
	env := setupTestAggregator(t, nil, testutil.Scalar(0))
	ctx := context.Background()

	round, err := env.agg.OpenRound(ctx)
	require.NoError(t, err)
	env.submit(t, round, env.seal(t, env.register(t, "honest"), testutil.Scalar(4)))

	huge := env.register(t, "huge")
	raw, err := testutil.SealRaw(huge.id, huge.key, env.sessionKey,
		[]byte(`{"version":1,"client_id":"huge","weights":[[1e400]],"bias":[0]}`))
	require.NoError(t, err)
	env.submit(t, round, raw)

	noise := env.register(t, "noise")
	junk, err := testutil.GenerateRandomBytes(64)
	require.NoError(t, err)
	raw, err = testutil.SealRaw(noise.id, noise.key, env.sessionKey, junk)
	require.NoError(t, err)
	env.submit(t, round, raw)

	result, err := env.agg.RunAggregation(ctx, round)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Accepted)
	assert.Equal(t, []protocol.RejectReason{protocol.RejectMalformedPayload, protocol.RejectMalformedPayload}, reasons(result))
	assert.Equal(t, [][]float64{{4}}, env.agg.GlobalParameters().WeightRows())
}

func TestPhaseProgression(t *testing.T) {
	l := ledger.NewMemoryLedger()
	sessionKey := testutil.MustSessionKey()
	failing := true
	agg, err := NewAggregator(&Config{
		Ledger:     l,
		SessionKey: sessionKey,
		Evaluator: evaluatorFunc(func() (float64, error) {
			if failing {
				return 0, errors.New("evaluator offline")
			}
			return 0.25, nil
		}),
		Initial: testutil.Scalar(0),
	})
	require.NoError(t, err)
	env := &testEnv{agg: agg, ledger: l, sessionKey: sessionKey}
	ctx := context.Background()

	round, err := agg.OpenRound(ctx)
	require.NoError(t, err)
	phase, ok := agg.Phase(round)
	require.True(t, ok)
	assert.Equal(t, protocol.PhaseOpen, phase)

	env.submit(t, round, env.seal(t, env.register(t, "a"), testutil.Scalar(2)))
	phase, _ = agg.Phase(round)
	assert.Equal(t, protocol.PhaseCollecting, phase)

	_, err = agg.RunAggregation(ctx, round)
	require.Error(t, err)
	phase, _ = agg.Phase(round)
	assert.Equal(t, protocol.PhaseCollecting, phase)

	failing = false
	_, err = agg.RunAggregation(ctx, round)
	require.NoError(t, err)
	phase, _ = agg.Phase(round)
	assert.Equal(t, protocol.PhaseClosed, phase)
}

// tamperingLedger rewrites stored ciphertexts on read, simulating a row
// edited after insertion.
type tamperingLedger struct {
	protocol.Ledger
}

func (l *tamperingLedger) ListUpdateRecords(ctx context.Context, round protocol.RoundID) ([]*protocol.UpdateRecord, error) {
	records, err := l.Ledger.ListUpdateRecords(ctx, round)
	for _, r := range records {
		r.Nonce = testutil.FlipBit(r.Nonce, 1)
	}
	return records, err
}

func TestStoredDigestMismatchIsTampered(t *testing.T) {
	env := setupTestAggregator(t, &tamperingLedger{Ledger: ledger.NewMemoryLedger()}, testutil.Scalar(0))
	ctx := context.Background()

	round, err := env.agg.OpenRound(ctx)
	require.NoError(t, err)
	env.submit(t, round, env.seal(t, env.register(t, "a"), testutil.Scalar(1)))

	result, err := env.agg.RunAggregation(ctx, round)
	require.ErrorIs(t, err, protocol.ErrNoValidUpdates)
	assert.Equal(t, []protocol.RejectReason{protocol.RejectTamperedOrCorrupt}, reasons(result))
}

// failingLedger fails the commit to check that nothing changes in memory.
type failingLedger struct {
	protocol.Ledger
}

func (l *failingLedger) CompleteRound(context.Context, protocol.RoundID, []byte, float64) (*protocol.Checkpoint, error) {
	return nil, fmt.Errorf("%w: disk full", protocol.ErrPersistence)
}

func TestCommitFailureKeepsParameters(t *testing.T) {
	env := setupTestAggregator(t, &failingLedger{Ledger: ledger.NewMemoryLedger()}, testutil.Scalar(1))
	ctx := context.Background()

	round, err := env.agg.OpenRound(ctx)
	require.NoError(t, err)
	env.submit(t, round, env.seal(t, env.register(t, "a"), testutil.Scalar(5)))

	_, err = env.agg.RunAggregation(ctx, round)
	require.ErrorIs(t, err, protocol.ErrPersistence)
	assert.Equal(t, [][]float64{{1}}, env.agg.GlobalParameters().WeightRows())

	phase, _ := env.agg.Phase(round)
	assert.Equal(t, protocol.PhaseCollecting, phase)
}

// blockingLedger holds ListUpdateRecords until released.
type blockingLedger struct {
	protocol.Ledger
	entered chan struct{}
	release chan struct{}
}

func (l *blockingLedger) ListUpdateRecords(ctx context.Context, round protocol.RoundID) ([]*protocol.UpdateRecord, error) {
	l.entered <- struct{}{}
	<-l.release
	return l.Ledger.ListUpdateRecords(ctx, round)
}

func TestConcurrentAggregationOfSameRound(t *testing.T) {
	bl := &blockingLedger{Ledger: ledger.NewMemoryLedger(), entered: make(chan struct{}, 1), release: make(chan struct{})}
	env := setupTestAggregator(t, bl, testutil.Scalar(0))
	ctx := context.Background()

	round, err := env.agg.OpenRound(ctx)
	require.NoError(t, err)
	env.submit(t, round, env.seal(t, env.register(t, "a"), testutil.Scalar(1)))

	done := make(chan error, 1)
	go func() {
		_, err := env.agg.RunAggregation(ctx, round)
		done <- err
	}()
	<-bl.entered

	_, err = env.agg.RunAggregation(ctx, round)
	require.ErrorIs(t, err, protocol.ErrAggregationInProgress)

	close(bl.release)
	require.NoError(t, <-done)
}

func TestConcurrentSubmissions(t *testing.T) {
	env := setupTestAggregator(t, nil, testutil.Scalar(0))
	ctx := context.Background()

	round, err := env.agg.OpenRound(ctx)
	require.NoError(t, err)

	const n = 16
	clients := make([]*testClient, n)
	for i := range clients {
		clients[i] = env.register(t, fmt.Sprintf("client_%d", i))
	}

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i, c := range clients {
		wg.Add(1)
		go func(c *testClient, w float64) {
			defer wg.Done()
			pkg, err := testutil.SealUpdate(c.id, c.key, env.sessionKey, testutil.Scalar(w))
			if err != nil {
				errs <- err
				return
			}
			_, err = env.agg.SubmitPackage(ctx, round, pkg)
			errs <- err
		}(c, float64(i))
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	result, err := env.agg.RunAggregation(ctx, round)
	require.NoError(t, err)
	assert.Equal(t, n, result.Accepted)
	assert.InDelta(t, float64(n-1)/2, env.agg.GlobalParameters().Weights.At(0, 0), 1e-12)
}

func TestRestoreFromCheckpoint(t *testing.T) {
	l := ledger.NewMemoryLedger()
	env := setupTestAggregator(t, l, testutil.Scalar(0))
	ctx := context.Background()

	round, err := env.agg.OpenRound(ctx)
	require.NoError(t, err)
	c := env.register(t, "a")
	env.submit(t, round, env.seal(t, c, testutil.Scalar(7)))
	_, err = env.agg.RunAggregation(ctx, round)
	require.NoError(t, err)

	restarted, err := NewAggregator(&Config{Ledger: l, SessionKey: env.sessionKey, Initial: testutil.Scalar(0)})
	require.NoError(t, err)
	restoredRound, err := restarted.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, round, restoredRound)
	assert.Equal(t, [][]float64{{7}}, restarted.GlobalParameters().WeightRows())

	mismatched, err := NewAggregator(&Config{Ledger: l, SessionKey: env.sessionKey, Initial: testutil.Filled(2, 2, 0)})
	require.NoError(t, err)
	_, err = mismatched.Restore(ctx)
	require.Error(t, err)
}

func TestEvaluatorFailureAborts(t *testing.T) {
	l := ledger.NewMemoryLedger()
	sessionKey := testutil.MustSessionKey()
	agg, err := NewAggregator(&Config{
		Ledger:     l,
		SessionKey: sessionKey,
		Evaluator:  evaluatorFunc(func() (float64, error) { return 0, errors.New("no held-out data") }),
		Initial:    testutil.Scalar(0),
	})
	require.NoError(t, err)
	env := &testEnv{agg: agg, ledger: l, sessionKey: sessionKey}
	ctx := context.Background()

	round, err := agg.OpenRound(ctx)
	require.NoError(t, err)
	env.submit(t, round, env.seal(t, env.register(t, "a"), testutil.Scalar(1)))

	_, err = agg.RunAggregation(ctx, round)
	require.Error(t, err)
	info, err := l.GetRound(ctx, round)
	require.NoError(t, err)
	assert.Equal(t, protocol.RoundOpen, info.Status)
}

type evaluatorFunc func() (float64, error)

func (f evaluatorFunc) Evaluate(context.Context, *protocol.Parameters, protocol.Dataset) (float64, error) {
	return f()
}

func TestNewAggregatorValidation(t *testing.T) {
	_, err := NewAggregator(nil)
	require.Error(t, err)
	_, err = NewAggregator(&Config{Ledger: ledger.NewMemoryLedger(), SessionKey: testutil.MustSessionKey()})
	require.Error(t, err)
	_, err = NewAggregator(&Config{Ledger: ledger.NewMemoryLedger(), SessionKey: make(crypto.SessionKey, 8), Initial: testutil.Scalar(0)})
	require.Error(t, err)
}

func TestFedAvg(t *testing.T) {
	_, err := FedAvg(nil)
	require.ErrorIs(t, err, protocol.ErrNoValidUpdates)

	_, err = FedAvg([]*protocol.Parameters{testutil.Scalar(1), testutil.Filled(2, 1, 1)})
	require.Error(t, err)

	mean, err := FedAvg([]*protocol.Parameters{testutil.Filled(1, 2, 1), testutil.Filled(1, 2, 2)})
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{1.5, 1.5}}, mean.WeightRows())
	assert.Equal(t, []float64{1.5, 1.5}, mean.BiasValues())
}

func TestFedAvgNearFloatLimit(t *testing.T) {
	mean, err := FedAvg([]*protocol.Parameters{
		testutil.Filled(1, 2, 1.7e308),
		testutil.Filled(1, 2, 1.7e308),
	})
	require.NoError(t, err)
	assert.True(t, mean.Finite())
	assert.InDelta(t, 1.7e308, mean.WeightRows()[0][0], 1e295)
	assert.InDelta(t, 1.7e308, mean.BiasValues()[0], 1e295)
}
