package testutil

import (
	"context"
	"crypto/rand"
	"fmt"

	"github.com/flashbots/fedledger/crypto"
	"github.com/flashbots/fedledger/protocol"
)

// =====================================
// Configuration Generators
// =====================================

// TestConfigOption is a function that modifies an FLConfig
type TestConfigOption func(*protocol.FLConfig)

// WithDims sets the model input and output dimensions
func WithDims(inputDim, outputDim int) TestConfigOption {
	return func(cfg *protocol.FLConfig) {
		cfg.InputDim = inputDim
		cfg.OutputDim = outputDim
	}
}

// WithLearningRate sets the local learning rate
func WithLearningRate(rate float64) TestConfigOption {
	return func(cfg *protocol.FLConfig) {
		cfg.LearningRate = rate
	}
}

// WithLocalEpochs sets the number of local epochs per round
func WithLocalEpochs(epochs int) TestConfigOption {
	return func(cfg *protocol.FLConfig) {
		cfg.LocalEpochs = epochs
	}
}

// WithSeed sets the seed for parameter init and synthetic data
func WithSeed(seed uint64) TestConfigOption {
	return func(cfg *protocol.FLConfig) {
		cfg.Seed = seed
	}
}

// NewTestConfig creates a small model configuration that can be customized
// using options
func NewTestConfig(options ...TestConfigOption) *protocol.FLConfig {
	cfg := &protocol.FLConfig{
		InputDim:     4,
		OutputDim:    3,
		LearningRate: 0.5,
		LocalEpochs:  2,
		Seed:         1,
	}
	for _, option := range options {
		option(cfg)
	}
	return cfg
}

// =====================================
// Crypto Generators
// =====================================

// GenerateRandomBytes generates a slice of random bytes with the specified length
func GenerateRandomBytes(length int) ([]byte, error) {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return b, nil
}

// GenerateTestKeyPair generates a signing key pair for testing
func GenerateTestKeyPair() (crypto.PublicKey, crypto.PrivateKey, error) {
	return crypto.GenerateKeyPair()
}

// MustSessionKey returns a fresh session key and panics on failure
func MustSessionKey() crypto.SessionKey {
	key, err := crypto.GenerateSessionKey()
	if err != nil {
		panic(err)
	}
	return key
}

// =====================================
// Parameter Generators
// =====================================

// Scalar returns 1x1 parameters with weight v and zero bias
func Scalar(v float64) *protocol.Parameters {
	params, err := protocol.ParametersFromRows([][]float64{{v}}, []float64{0})
	if err != nil {
		panic(err)
	}
	return params
}

// Filled returns parameters of the given shape with every weight and bias
// entry set to v
func Filled(inputDim, outputDim int, v float64) *protocol.Parameters {
	params, err := protocol.ZeroParameters(inputDim, outputDim)
	if err != nil {
		panic(err)
	}
	for i := 0; i < inputDim; i++ {
		for j := 0; j < outputDim; j++ {
			params.Weights.Set(i, j, v)
		}
	}
	for j := 0; j < outputDim; j++ {
		params.Bias.SetVec(j, v)
	}
	return params
}

// =====================================
// Trainers
// =====================================

// FixedTrainer ignores its inputs and always returns a copy of Result
type FixedTrainer struct {
	Result *protocol.Parameters
}

// Train implements protocol.Trainer
func (t *FixedTrainer) Train(_ context.Context, params *protocol.Parameters, data protocol.Dataset) (*protocol.Parameters, error) {
	if t.Result == nil {
		return params.Clone(), nil
	}
	return t.Result.Clone(), nil
}

// FailingTrainer always returns Err
type FailingTrainer struct {
	Err error
}

// Train implements protocol.Trainer
func (t *FailingTrainer) Train(context.Context, *protocol.Parameters, protocol.Dataset) (*protocol.Parameters, error) {
	return nil, t.Err
}

// Samples is a dataset that only knows its size
type Samples int

// Len implements protocol.Dataset
func (s Samples) Len() int { return int(s) }

// ConstantEvaluator returns Metric for any input
type ConstantEvaluator struct {
	Metric float64
}

// Evaluate implements protocol.Evaluator
func (e *ConstantEvaluator) Evaluate(context.Context, *protocol.Parameters, protocol.Dataset) (float64, error) {
	return e.Metric, nil
}

// =====================================
// Package Generators
// =====================================

// SealUpdate builds a well-formed package for params by hand. It is the
// reference construction that clients must be byte-compatible with.
func SealUpdate(clientID string, privateKey crypto.PrivateKey, sessionKey crypto.SessionKey, params *protocol.Parameters) (*protocol.UpdatePackage, error) {
	payload, err := protocol.NewUpdatePayload(clientID, params).Encode()
	if err != nil {
		return nil, err
	}
	return SealRaw(clientID, privateKey, sessionKey, payload)
}

// SealRaw signs and encrypts an arbitrary plaintext, which lets tests submit
// malformed payloads that still authenticate.
func SealRaw(clientID string, privateKey crypto.PrivateKey, sessionKey crypto.SessionKey, payload []byte) (*protocol.UpdatePackage, error) {
	signature, err := crypto.Sign(privateKey, payload)
	if err != nil {
		return nil, err
	}
	sealed, err := crypto.Encrypt(sessionKey, payload)
	if err != nil {
		return nil, err
	}
	return &protocol.UpdatePackage{
		ClientID:   clientID,
		Ciphertext: sealed.Ciphertext,
		Nonce:      sealed.Nonce,
		Tag:        sealed.Tag,
		Signature:  signature,
	}, nil
}

// FlipBit returns a copy of b with one bit inverted
func FlipBit(b []byte, bit int) []byte {
	out := append([]byte(nil), b...)
	if len(out) == 0 {
		return out
	}
	out[(bit/8)%len(out)] ^= 1 << (bit % 8)
	return out
}
