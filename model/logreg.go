// Package model provides a softmax logistic regression that serves as the
// local trainer and held-out evaluator for fedledger simulations.
package model

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/flashbots/fedledger/protocol"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Dataset is a dense feature matrix with one integer class label per row.
type Dataset struct {
	X *mat.Dense
	Y []int
}

// NewDataset validates that features and labels agree in length.
func NewDataset(x *mat.Dense, y []int) (*Dataset, error) {
	if x == nil {
		if len(y) != 0 {
			return nil, fmt.Errorf("got %d labels without features", len(y))
		}
		return &Dataset{}, nil
	}
	rows, _ := x.Dims()
	if rows != len(y) {
		return nil, fmt.Errorf("feature rows %d do not match labels %d", rows, len(y))
	}
	return &Dataset{X: x, Y: y}, nil
}

// Len returns the number of samples.
func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.Y)
}

// LogisticRegression trains with full-batch gradient descent on the softmax
// cross-entropy loss. It is deterministic and safe for concurrent use.
type LogisticRegression struct {
	LearningRate float64
	Epochs       int
}

// NewLogisticRegression builds a trainer from the shared model config.
func NewLogisticRegression(cfg *protocol.FLConfig) *LogisticRegression {
	epochs := cfg.LocalEpochs
	if epochs <= 0 {
		epochs = 1
	}
	return &LogisticRegression{LearningRate: cfg.LearningRate, Epochs: epochs}
}

// Train runs local epochs starting from params. An empty dataset returns an
// unchanged copy.
func (m *LogisticRegression) Train(ctx context.Context, params *protocol.Parameters, data protocol.Dataset) (*protocol.Parameters, error) {
	out := params.Clone()
	if data == nil || data.Len() == 0 {
		return out, nil
	}

	ds, ok := data.(*Dataset)
	if !ok {
		return nil, fmt.Errorf("unsupported dataset type %T", data)
	}
	if err := checkDims(out, ds); err != nil {
		return nil, err
	}

	for epoch := 0; epoch < m.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		dW, db := gradients(out, ds)
		dW.Scale(m.LearningRate, dW)
		out.Weights.Sub(out.Weights, dW)
		db.ScaleVec(m.LearningRate, db)
		out.Bias.SubVec(out.Bias, db)
	}
	return out, nil
}

// Evaluate returns the mean cross-entropy loss of params on data.
func (m *LogisticRegression) Evaluate(ctx context.Context, params *protocol.Parameters, data protocol.Dataset) (float64, error) {
	if data == nil || data.Len() == 0 {
		return 0, nil
	}
	ds, ok := data.(*Dataset)
	if !ok {
		return 0, fmt.Errorf("unsupported dataset type %T", data)
	}
	if err := checkDims(params, ds); err != nil {
		return 0, err
	}

	probs := forward(params, ds.X)
	loss := 0.0
	for i, label := range ds.Y {
		loss -= math.Log(probs.At(i, label) + 1e-9)
	}
	return loss / float64(ds.Len()), nil
}

func checkDims(params *protocol.Parameters, ds *Dataset) error {
	inputDim, outputDim := params.Dims()
	_, features := ds.X.Dims()
	if features != inputDim {
		return fmt.Errorf("dataset has %d features, model expects %d", features, inputDim)
	}
	for _, label := range ds.Y {
		if label < 0 || label >= outputDim {
			return fmt.Errorf("label %d out of range [0, %d)", label, outputDim)
		}
	}
	return nil
}

// forward computes softmax(X·W + b) row by row.
func forward(params *protocol.Parameters, x *mat.Dense) *mat.Dense {
	rows, _ := x.Dims()

	var z mat.Dense
	z.Mul(x, params.Weights)
	bias := params.BiasValues()
	for i := 0; i < rows; i++ {
		row := z.RawRowView(i)
		floats.Add(row, bias)
		softmax(row)
	}
	return &z
}

func softmax(row []float64) {
	maxVal := floats.Max(row)
	sum := 0.0
	for j, v := range row {
		row[j] = math.Exp(v - maxVal)
		sum += row[j]
	}
	floats.Scale(1/sum, row)
}

// gradients returns dL/dW = Xᵀ(P − Y)/m and dL/db = Σ(P − Y)/m.
func gradients(params *protocol.Parameters, ds *Dataset) (*mat.Dense, *mat.VecDense) {
	m := float64(ds.Len())
	dz := forward(params, ds.X)
	for i, label := range ds.Y {
		dz.Set(i, label, dz.At(i, label)-1)
	}

	var dW mat.Dense
	dW.Mul(ds.X.T(), dz)
	dW.Scale(1/m, &dW)

	_, classes := dz.Dims()
	db := mat.NewVecDense(classes, nil)
	for j := 0; j < classes; j++ {
		db.SetVec(j, floats.Sum(mat.Col(nil, j, dz))/m)
	}
	return &dW, db
}

// InitParameters returns small deterministic random weights and a zero bias,
// seeded from cfg.Seed.
func InitParameters(cfg *protocol.FLConfig) (*protocol.Parameters, error) {
	params, err := protocol.ZeroParameters(cfg.InputDim, cfg.OutputDim)
	if err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))
	for i := 0; i < cfg.InputDim; i++ {
		for j := 0; j < cfg.OutputDim; j++ {
			params.Weights.Set(i, j, rng.NormFloat64()*0.01)
		}
	}
	return params, nil
}
