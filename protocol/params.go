package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Parameters holds the model parameters exchanged in a round: a weight matrix
// of shape (inputDim, outputDim) and a bias vector of length outputDim.
type Parameters struct {
	Weights *mat.Dense
	Bias    *mat.VecDense
}

// NewParameters validates that weights and bias agree on the output dimension.
func NewParameters(weights *mat.Dense, bias *mat.VecDense) (*Parameters, error) {
	if weights == nil || bias == nil {
		return nil, errors.New("weights and bias must be set")
	}
	_, cols := weights.Dims()
	if bias.Len() != cols {
		return nil, fmt.Errorf("bias length %d does not match weight columns %d", bias.Len(), cols)
	}
	return &Parameters{Weights: weights, Bias: bias}, nil
}

// ZeroParameters returns all-zero parameters of the given shape.
func ZeroParameters(inputDim, outputDim int) (*Parameters, error) {
	if inputDim <= 0 || outputDim <= 0 {
		return nil, fmt.Errorf("invalid dimensions %dx%d", inputDim, outputDim)
	}
	return &Parameters{
		Weights: mat.NewDense(inputDim, outputDim, nil),
		Bias:    mat.NewVecDense(outputDim, nil),
	}, nil
}

// ParametersFromRows builds parameters from row-major nested slices. Ragged or
// empty inputs are rejected.
func ParametersFromRows(weights [][]float64, bias []float64) (*Parameters, error) {
	if len(weights) == 0 || len(weights[0]) == 0 {
		return nil, errors.New("empty weight matrix")
	}
	rows, cols := len(weights), len(weights[0])
	data := make([]float64, 0, rows*cols)
	for i, row := range weights {
		if len(row) != cols {
			return nil, fmt.Errorf("weight row %d has %d columns, expected %d", i, len(row), cols)
		}
		data = append(data, row...)
	}
	if len(bias) != cols {
		return nil, fmt.Errorf("bias length %d does not match weight columns %d", len(bias), cols)
	}
	return &Parameters{
		Weights: mat.NewDense(rows, cols, data),
		Bias:    mat.NewVecDense(cols, append([]float64(nil), bias...)),
	}, nil
}

// Dims returns the input and output dimensions.
func (p *Parameters) Dims() (inputDim, outputDim int) {
	return p.Weights.Dims()
}

// SameShape reports whether both parameter sets have identical dimensions.
func (p *Parameters) SameShape(other *Parameters) bool {
	if other == nil {
		return false
	}
	r1, c1 := p.Dims()
	r2, c2 := other.Dims()
	return r1 == r2 && c1 == c2 && p.Bias.Len() == other.Bias.Len()
}

// Finite reports whether every weight and bias entry is a finite number.
func (p *Parameters) Finite() bool {
	rows, cols := p.Weights.Dims()
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			if v := p.Weights.At(i, j); math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	for i := 0; i < p.Bias.Len(); i++ {
		if v := p.Bias.AtVec(i); math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Clone returns a deep copy.
func (p *Parameters) Clone() *Parameters {
	w := mat.DenseCopyOf(p.Weights)
	b := mat.VecDenseCopyOf(p.Bias)
	return &Parameters{Weights: w, Bias: b}
}

// WeightRows returns the weight matrix as row-major nested slices.
func (p *Parameters) WeightRows() [][]float64 {
	rows, _ := p.Weights.Dims()
	out := make([][]float64, rows)
	for i := range out {
		out[i] = mat.Row(nil, i, p.Weights)
	}
	return out
}

// BiasValues returns a copy of the bias vector.
func (p *Parameters) BiasValues() []float64 {
	return mat.Col(nil, 0, p.Bias)
}

type parametersJSON struct {
	Weights [][]float64 `json:"weights"`
	Bias    []float64   `json:"bias"`
}

// MarshalJSON serializes parameters as {"weights": [[...]], "bias": [...]}.
// This is the form persisted in checkpoints.
func (p *Parameters) MarshalJSON() ([]byte, error) {
	return json.Marshal(&parametersJSON{Weights: p.WeightRows(), Bias: p.BiasValues()})
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (p *Parameters) UnmarshalJSON(data []byte) error {
	var raw parametersJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParametersFromRows(raw.Weights, raw.Bias)
	if err != nil {
		return err
	}
	*p = *parsed
	return nil
}
