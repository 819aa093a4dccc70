package model

import (
	"context"
	"testing"

	"github.com/flashbots/fedledger/protocol"
	"github.com/flashbots/fedledger/testutil"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func testConfig() *protocol.FLConfig {
	return testutil.NewTestConfig(testutil.WithLocalEpochs(5), testutil.WithSeed(42))
}

func TestTrainIsDeterministic(t *testing.T) {
	cfg := testConfig()
	trainer := NewLogisticRegression(cfg)
	params, err := InitParameters(cfg)
	require.NoError(t, err)
	data := Synthetic(cfg, 60, 7)

	a, err := trainer.Train(context.Background(), params, data)
	require.NoError(t, err)
	b, err := trainer.Train(context.Background(), params, data)
	require.NoError(t, err)

	require.True(t, mat.Equal(a.Weights, b.Weights))
	require.True(t, mat.Equal(a.Bias, b.Bias))
	require.False(t, mat.Equal(a.Weights, params.Weights), "training should move the weights")
}

func TestTrainEmptyDatasetIsNoop(t *testing.T) {
	cfg := testConfig()
	trainer := NewLogisticRegression(cfg)
	params, err := InitParameters(cfg)
	require.NoError(t, err)

	out, err := trainer.Train(context.Background(), params, &Dataset{})
	require.NoError(t, err)
	require.True(t, mat.Equal(out.Weights, params.Weights))
	require.True(t, mat.Equal(out.Bias, params.Bias))

	// The result is a copy, not an alias.
	out.Weights.Set(0, 0, 99)
	require.NotEqual(t, 99.0, params.Weights.At(0, 0))
}

func TestTrainingReducesLoss(t *testing.T) {
	cfg := testConfig()
	trainer := NewLogisticRegression(cfg)
	params, err := InitParameters(cfg)
	require.NoError(t, err)
	data := Synthetic(cfg, 200, 3)

	before, err := trainer.Evaluate(context.Background(), params, data)
	require.NoError(t, err)

	trained, err := trainer.Train(context.Background(), params, data)
	require.NoError(t, err)
	after, err := trainer.Evaluate(context.Background(), trained, data)
	require.NoError(t, err)

	require.Less(t, after, before)
}

func TestTrainRejectsDimensionMismatch(t *testing.T) {
	cfg := testutil.NewTestConfig(testutil.WithDims(4, 3), testutil.WithLearningRate(0.1))
	trainer := NewLogisticRegression(cfg)
	params, err := protocol.ZeroParameters(5, 3)
	require.NoError(t, err)

	_, err = trainer.Train(context.Background(), params, Synthetic(cfg, 10, 1))
	require.Error(t, err)
}

func TestPartition(t *testing.T) {
	cfg := testConfig()
	data := Synthetic(cfg, 10, 1)

	shards := Partition(data, 3)
	require.Len(t, shards, 3)
	sizes := make([]int, len(shards))
	for i, s := range shards {
		sizes[i] = s.Len()
	}
	require.Equal(t, []int{4, 3, 3}, sizes)

	// Shards are contiguous and in order.
	require.Equal(t, data.Y[:4], shards[0].Y)
	require.Equal(t, data.Y[4:7], shards[1].Y)
	require.Equal(t, data.Y[7:], shards[2].Y)

	many := Partition(Synthetic(cfg, 2, 1), 4)
	require.Len(t, many, 4)
	require.Equal(t, 1, many[0].Len())
	require.Equal(t, 1, many[1].Len())
	require.Equal(t, 0, many[2].Len())
	require.Equal(t, 0, many[3].Len())

	empty := Partition(&Dataset{}, 2)
	require.Len(t, empty, 2)
	require.Equal(t, 0, empty[1].Len())
}

func TestPartitionNonPositive(t *testing.T) {
	data := Synthetic(testConfig(), 5, 1)
	require.Nil(t, Partition(data, 0))
	require.Nil(t, Partition(data, -2))
}

func TestPartitionSpreadsRemainder(t *testing.T) {
	data := Synthetic(testConfig(), 103, 9)
	shards := Partition(data, 10)
	total := 0
	for _, s := range shards {
		require.GreaterOrEqual(t, s.Len(), 10)
		require.LessOrEqual(t, s.Len(), 11)
		total += s.Len()
	}
	require.Equal(t, 103, total)
}

func TestNewDataset(t *testing.T) {
	_, err := NewDataset(mat.NewDense(2, 2, nil), []int{0})
	require.Error(t, err)

	ds, err := NewDataset(nil, nil)
	require.NoError(t, err)
	require.Equal(t, 0, ds.Len())
}
