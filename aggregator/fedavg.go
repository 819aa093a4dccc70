package aggregator

import (
	"errors"

	"github.com/flashbots/fedledger/protocol"
	"gonum.org/v1/gonum/mat"
)

// FedAvg returns the element-wise arithmetic mean of the given parameters.
// Every entry has the same weight regardless of how much data produced it.
// All inputs must share one shape.
func FedAvg(updates []*protocol.Parameters) (*protocol.Parameters, error) {
	if len(updates) == 0 {
		return nil, protocol.ErrNoValidUpdates
	}

	first := updates[0]
	rows, cols := first.Weights.Dims()
	weights := mat.NewDense(rows, cols, nil)
	bias := mat.NewVecDense(first.Bias.Len(), nil)

	// Each term is scaled before summing so the running total stays within
	// the range of the inputs.
	scale := 1 / float64(len(updates))
	scaledWeights := mat.NewDense(rows, cols, nil)
	scaledBias := mat.NewVecDense(first.Bias.Len(), nil)
	for _, update := range updates {
		if !first.SameShape(update) {
			return nil, errors.New("cannot average parameters of different shapes")
		}
		scaledWeights.Scale(scale, update.Weights)
		weights.Add(weights, scaledWeights)
		scaledBias.ScaleVec(scale, update.Bias)
		bias.AddVec(bias, scaledBias)
	}

	return protocol.NewParameters(weights, bias)
}
